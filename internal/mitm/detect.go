package mitm

import (
	"bufio"
	"io"
	"net"
)

const (
	recordTypeHandshake  = 0x16
	handshakeClientHello = 0x01

	extServerName = 0
	extALPN       = 16

	// maxHelloPeek bounds how much of the first record we buffer while
	// sniffing. A ClientHello larger than one record is not worth chasing.
	maxHelloPeek = 16384
)

// ClientHello is what the sniffer learns from the first bytes of a
// connection before any handshake is answered: whether the peer speaks
// TLS at all, the SNI it asked for, and the ALPN protocols it offered.
// The interceptor picks the certificate host from ServerName and only
// logs the ALPN list; it always offers http/1.1 back.
type ClientHello struct {
	TLS        bool
	ServerName string
	ALPN       []string
}

// OffersH2 reports whether the client advertised HTTP/2 via ALPN.
func (h ClientHello) OffersH2() bool {
	for _, p := range h.ALPN {
		if p == "h2" {
			return true
		}
	}
	return false
}

// peekedConn wraps a net.Conn so the sniffer can look at bytes without
// consuming them; reads after sniffing replay the buffered prefix.
type peekedConn struct {
	net.Conn
	reader *bufio.Reader
}

func newPeekedConn(conn net.Conn) *peekedConn {
	return &peekedConn{Conn: conn, reader: bufio.NewReaderSize(conn, maxHelloPeek)}
}

func (c *peekedConn) Read(p []byte) (int, error) {
	return c.reader.Read(p)
}

// sniffClientHello peeks at conn and classifies the traffic. A clean EOF
// before 6 bytes yields a zero ClientHello with nil error, so callers
// treat dead connections as plain and let the pipe fail naturally.
func sniffClientHello(conn *peekedConn) (ClientHello, error) {
	head, err := conn.reader.Peek(6)
	if err != nil {
		if err == io.EOF {
			return ClientHello{}, nil
		}
		return ClientHello{}, err
	}
	if !looksLikeClientHello(head) {
		return ClientHello{}, nil
	}

	recordLen := int(head[3])<<8 | int(head[4])
	want := 5 + recordLen
	if want > maxHelloPeek {
		want = maxHelloPeek
	}
	full, err := conn.reader.Peek(want)
	if err != nil && err != io.EOF {
		// Partial peek: parse whatever the buffer holds.
		full, _ = conn.reader.Peek(conn.reader.Buffered())
	}

	hello := ClientHello{TLS: true}
	parseHello(full, &hello)
	return hello, nil
}

// looksLikeClientHello checks the TLS record header and the first
// handshake byte: record type 0x16, a plausible legacy version, and
// handshake type client_hello.
func looksLikeClientHello(head []byte) bool {
	if len(head) < 6 || head[0] != recordTypeHandshake {
		return false
	}
	version := uint16(head[1])<<8 | uint16(head[2])
	if version < 0x0300 || version > 0x0304 {
		return false
	}
	return head[5] == handshakeClientHello
}

// helloCursor walks ClientHello bytes with saturating bounds checks:
// once any read runs past the buffer, ok flips false and every later
// read returns zero, so parse code needs no per-step error plumbing.
type helloCursor struct {
	buf []byte
	pos int
	ok  bool
}

func (c *helloCursor) u8() int {
	if !c.ok || c.pos+1 > len(c.buf) {
		c.ok = false
		return 0
	}
	v := int(c.buf[c.pos])
	c.pos++
	return v
}

func (c *helloCursor) u16() int {
	if !c.ok || c.pos+2 > len(c.buf) {
		c.ok = false
		return 0
	}
	v := int(c.buf[c.pos])<<8 | int(c.buf[c.pos+1])
	c.pos += 2
	return v
}

func (c *helloCursor) skip(n int) {
	if !c.ok || n < 0 || c.pos+n > len(c.buf) {
		c.ok = false
		return
	}
	c.pos += n
}

func (c *helloCursor) bytes(n int) []byte {
	if !c.ok || n < 0 || c.pos+n > len(c.buf) {
		c.ok = false
		return nil
	}
	b := c.buf[c.pos : c.pos+n]
	c.pos += n
	return b
}

// parseHello fills hello's ServerName and ALPN from a raw ClientHello
// record. Truncated or malformed input just leaves the fields empty.
func parseHello(data []byte, hello *ClientHello) {
	c := &helloCursor{buf: data, ok: true}

	c.skip(5)                // record header
	c.skip(4)                // handshake type + length
	c.skip(2)                // client version
	c.skip(32)               // random
	c.skip(c.u8())           // session id
	c.skip(c.u16())          // cipher suites
	c.skip(c.u8())           // compression methods
	extensionsLen := c.u16() // extensions block

	if !c.ok {
		return
	}
	end := c.pos + extensionsLen
	if end > len(data) {
		end = len(data)
	}

	for c.ok && c.pos+4 <= end {
		extType := c.u16()
		extLen := c.u16()
		if !c.ok || c.pos+extLen > end {
			return
		}
		body := c.bytes(extLen)

		switch extType {
		case extServerName:
			if name := parseServerName(body); name != "" {
				hello.ServerName = name
			}
		case extALPN:
			hello.ALPN = parseALPN(body)
		}
	}
}

// parseServerName extracts the first host_name entry from a
// server_name extension body.
func parseServerName(body []byte) string {
	c := &helloCursor{buf: body, ok: true}
	listLen := c.u16()
	end := c.pos + listLen
	if end > len(body) {
		end = len(body)
	}

	for c.ok && c.pos+3 <= end {
		nameType := c.u8()
		name := c.bytes(c.u16())
		if nameType == 0 && validHostname(string(name)) {
			return string(name)
		}
	}
	return ""
}

// parseALPN extracts the protocol list from an ALPN extension body.
func parseALPN(body []byte) []string {
	c := &helloCursor{buf: body, ok: true}
	listLen := c.u16()
	end := c.pos + listLen
	if end > len(body) {
		end = len(body)
	}

	var protos []string
	for c.ok && c.pos < end {
		p := c.bytes(c.u8())
		if len(p) > 0 {
			protos = append(protos, string(p))
		}
	}
	return protos
}

func validHostname(s string) bool {
	if len(s) == 0 || len(s) > 255 {
		return false
	}
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z':
		case r >= 'A' && r <= 'Z':
		case r >= '0' && r <= '9':
		case r == '-' || r == '.' || r == '_':
		default:
			return false
		}
	}
	return true
}
