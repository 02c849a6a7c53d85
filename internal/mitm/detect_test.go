package mitm

import (
	"crypto/tls"
	"net"
	"testing"
)

func TestSniffClientHelloExtractsSNIAndALPN(t *testing.T) {
	clientEnd, serverEnd := net.Pipe()
	defer serverEnd.Close()

	go func() {
		tconn := tls.Client(clientEnd, &tls.Config{
			ServerName:         "api.example.com",
			NextProtos:         []string{"h2", "http/1.1"},
			InsecureSkipVerify: true,
		})
		// Only the first flight matters; the handshake dies when the
		// sniffer side closes without answering.
		tconn.Handshake()
		clientEnd.Close()
	}()

	hello, err := sniffClientHello(newPeekedConn(serverEnd))
	if err != nil {
		t.Fatalf("sniff: %v", err)
	}
	if !hello.TLS {
		t.Fatal("expected a TLS ClientHello")
	}
	if hello.ServerName != "api.example.com" {
		t.Fatalf("ServerName = %q, want api.example.com", hello.ServerName)
	}
	if !hello.OffersH2() {
		t.Fatalf("ALPN = %v, expected h2 offer", hello.ALPN)
	}
}

func TestSniffClientHelloPlainHTTP(t *testing.T) {
	clientEnd, serverEnd := net.Pipe()
	defer serverEnd.Close()

	go func() {
		clientEnd.Write([]byte("GET / HTTP/1.1\r\nHost: example.com\r\n\r\n"))
		clientEnd.Close()
	}()

	hello, err := sniffClientHello(newPeekedConn(serverEnd))
	if err != nil {
		t.Fatalf("sniff: %v", err)
	}
	if hello.TLS {
		t.Fatal("plain HTTP misclassified as TLS")
	}
	if hello.ServerName != "" || hello.ALPN != nil {
		t.Fatalf("unexpected hello fields: %+v", hello)
	}
}

func TestSniffClientHelloImmediateEOF(t *testing.T) {
	clientEnd, serverEnd := net.Pipe()
	defer serverEnd.Close()
	clientEnd.Close()

	hello, err := sniffClientHello(newPeekedConn(serverEnd))
	if err != nil {
		t.Fatalf("EOF should not be an error, got %v", err)
	}
	if hello.TLS {
		t.Fatal("dead connection misclassified as TLS")
	}
}

func TestLooksLikeClientHello(t *testing.T) {
	cases := []struct {
		name string
		head []byte
		want bool
	}{
		{"handshake tls12", []byte{0x16, 0x03, 0x03, 0x00, 0x40, 0x01}, true},
		{"handshake legacy sslv3", []byte{0x16, 0x03, 0x00, 0x00, 0x40, 0x01}, true},
		{"server hello", []byte{0x16, 0x03, 0x03, 0x00, 0x40, 0x02}, false},
		{"application data", []byte{0x17, 0x03, 0x03, 0x00, 0x40, 0x01}, false},
		{"bogus version", []byte{0x16, 0x07, 0x00, 0x00, 0x40, 0x01}, false},
		{"short", []byte{0x16, 0x03}, false},
	}
	for _, tc := range cases {
		if got := looksLikeClientHello(tc.head); got != tc.want {
			t.Errorf("%s: got %v, want %v", tc.name, got, tc.want)
		}
	}
}
