package mitm

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net"
	"sync"

	"github.com/nyxwire/protolens/internal/ca"
	"github.com/nyxwire/protolens/internal/httpstream"
	"github.com/nyxwire/protolens/internal/record"
)

// Interceptor handles TLS MITM interception.
type Interceptor struct {
	ca            *ca.CA
	keyLog        *KeyLog
	dialer        *Dialer
	upstreamProxy string

	// HTTP parsing options
	enableHTTPParsing bool
	httpLogger        httpstream.Logger
	recorder          *httpstream.Recorder
	onRequest         func(*httpstream.HTTPMessage)
	onResponse        func(*httpstream.HTTPMessage)
	onSSE             func(*httpstream.SSEEvent)
	onCapture         func(record.CapturedRecord)
}

// InterceptorOption configures an Interceptor.
type InterceptorOption func(*Interceptor)

// WithHTTPParsing enables HTTP stream parsing.
func WithHTTPParsing(enable bool) InterceptorOption {
	return func(i *Interceptor) { i.enableHTTPParsing = enable }
}

// WithHTTPLogger sets the HTTP logger.
func WithHTTPLogger(logger httpstream.Logger) InterceptorOption {
	return func(i *Interceptor) { i.httpLogger = logger }
}

// WithOnRequest sets the HTTP request callback.
func WithOnRequest(fn func(*httpstream.HTTPMessage)) InterceptorOption {
	return func(i *Interceptor) { i.onRequest = fn }
}

// WithOnResponse sets the HTTP response callback.
func WithOnResponse(fn func(*httpstream.HTTPMessage)) InterceptorOption {
	return func(i *Interceptor) { i.onResponse = fn }
}

// WithOnSSE sets the SSE event callback.
func WithOnSSE(fn func(*httpstream.SSEEvent)) InterceptorOption {
	return func(i *Interceptor) { i.onSSE = fn }
}

// WithRecorder sets the JSONL recorder.
func WithRecorder(recorder *httpstream.Recorder) InterceptorOption {
	return func(i *Interceptor) { i.recorder = recorder }
}

// WithOnCapture sets the callback that receives one CapturedRecord per
// matched gRPC-family request/response pair, for handoff to the core's
// record processor.
func WithOnCapture(fn func(record.CapturedRecord)) InterceptorOption {
	return func(i *Interceptor) { i.onCapture = fn }
}

// NewInterceptor creates a new TLS interceptor.
func NewInterceptor(ca *ca.CA, keyLog *KeyLog, upstreamProxy string, opts ...InterceptorOption) *Interceptor {
	i := &Interceptor{
		ca:                ca,
		keyLog:            keyLog,
		dialer:            NewDialer(upstreamProxy),
		upstreamProxy:     upstreamProxy,
		enableHTTPParsing: false,
		httpLogger:        httpstream.NopLogger{},
	}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

// InterceptAuto sniffs the connection's first bytes and branches into
// TLS interception or plain forwarding. The sniffed SNI wins over the
// CONNECT target when both are present, since that's the name the
// client will verify the minted certificate against.
func (i *Interceptor) InterceptAuto(clientConn net.Conn, targetHost string, targetPort int) error {
	peekConn := newPeekedConn(clientConn)

	hello, err := sniffClientHello(peekConn)
	if err != nil {
		fmt.Printf("[DEBUG] ClientHello sniff error for %s:%d: %v\n", targetHost, targetPort, err)
		return fmt.Errorf("detect protocol: %w", err)
	}

	if hello.TLS {
		host := targetHost
		if hello.ServerName != "" {
			host = hello.ServerName
		}
		fmt.Printf("[DEBUG] TLS detected for %s:%d, SNI=%q, ALPN=%v, performing MITM\n", targetHost, targetPort, hello.ServerName, hello.ALPN)
		return i.interceptTLS(peekConn, host, targetPort)
	}

	fmt.Printf("[DEBUG] Plain connection for %s:%d\n", targetHost, targetPort)
	return i.interceptPlain(peekConn, targetHost, targetPort)
}

// Intercept performs TLS MITM on the given connection (assumes TLS).
func (i *Interceptor) Intercept(clientConn net.Conn, targetHost string, targetPort int) error {
	peekConn, ok := clientConn.(*peekedConn)
	if !ok {
		peekConn = newPeekedConn(clientConn)
	}
	return i.interceptTLS(peekConn, targetHost, targetPort)
}

// interceptTLS performs TLS MITM on the given connection.
func (i *Interceptor) interceptTLS(clientConn *peekedConn, targetHost string, targetPort int) error {
	serverAddr := fmt.Sprintf("%s:%d", targetHost, targetPort)
	fmt.Printf("[DEBUG] Connecting to server %s\n", serverAddr)
	serverTCPConn, err := i.dialer.DialContext(context.Background(), "tcp", serverAddr)
	if err != nil {
		return fmt.Errorf("dial server: %w", err)
	}
	defer serverTCPConn.Close()

	// Server TLS config - force HTTP/1.1 only (no H2)
	serverTLSConfig := &tls.Config{
		InsecureSkipVerify: true,
		ServerName:         targetHost,
		NextProtos:         []string{"http/1.1"}, // Force HTTP/1.1
	}
	// Outbound keylog (Proxy -> Remote Server)
	if i.keyLog != nil {
		serverTLSConfig.KeyLogWriter = i.keyLog
	}

	serverConn := tls.Client(serverTCPConn, serverTLSConfig)
	fmt.Printf("[DEBUG] Server TLS handshake starting for %s\n", targetHost)
	if err := serverConn.Handshake(); err != nil {
		return fmt.Errorf("server handshake: %w", err)
	}
	fmt.Printf("[DEBUG] Server TLS handshake completed for %s\n", targetHost)
	defer serverConn.Close()

	negotiatedProto := serverConn.ConnectionState().NegotiatedProtocol
	fmt.Printf("[DEBUG] Server negotiated ALPN: %q for %s\n", negotiatedProto, targetHost)

	cert, err := i.ca.GetOrCreateCert(targetHost)
	if err != nil {
		return fmt.Errorf("get cert: %w", err)
	}

	// Client TLS config - force HTTP/1.1 only
	clientTLSConfig := &tls.Config{
		Certificates: []tls.Certificate{*cert},
		NextProtos:   []string{"http/1.1"}, // Force HTTP/1.1
	}
	// Inbound keylog (Client -> Proxy)
	if i.keyLog != nil {
		clientTLSConfig.KeyLogWriter = i.keyLog
	}

	tlsClientConn := tls.Server(clientConn, clientTLSConfig)
	fmt.Printf("[DEBUG] Client TLS handshake starting for %s\n", targetHost)
	if err := tlsClientConn.Handshake(); err != nil {
		return fmt.Errorf("client handshake: %w", err)
	}
	clientProto := tlsClientConn.ConnectionState().NegotiatedProtocol
	fmt.Printf("[DEBUG] Client TLS handshake completed for %s, ALPN: %q\n", targetHost, clientProto)
	defer tlsClientConn.Close()

	fmt.Printf("[DEBUG] Starting pipe for %s\n", targetHost)
	err = i.pipe(tlsClientConn, serverConn, targetHost)
	fmt.Printf("[DEBUG] Pipe finished for %s, err=%v\n", targetHost, err)
	return err
}

// pipe performs bidirectional data forwarding with optional HTTP parsing.
func (i *Interceptor) pipe(client, server net.Conn, host string) error {
	// Use HTTP parsing if enabled
	if i.enableHTTPParsing {
		return i.pipeWithHTTPParsing(client, server, host)
	}

	// Simple forwarding without parsing
	return i.pipeSimple(client, server)
}

// pipeSimple performs zero-buffer bidirectional data forwarding.
func (i *Interceptor) pipeSimple(client, server net.Conn) error {
	var wg sync.WaitGroup
	wg.Add(2)

	errC2S := make(chan error, 1)
	errS2C := make(chan error, 1)

	// Client -> Server
	go func() {
		defer wg.Done()
		_, err := io.Copy(server, client)
		errC2S <- err
		closeWrite(server)
	}()

	// Server -> Client
	go func() {
		defer wg.Done()
		_, err := io.Copy(client, server)
		errS2C <- err
		closeWrite(client)
	}()

	wg.Wait()

	select {
	case err := <-errC2S:
		if err != nil && err != io.EOF {
			return err
		}
	default:
	}
	select {
	case err := <-errS2C:
		if err != nil && err != io.EOF {
			return err
		}
	default:
	}

	return nil
}

// pipeWithHTTPParsing performs forwarding with HTTP stream parsing.
func (i *Interceptor) pipeWithHTTPParsing(client, server net.Conn, host string) error {
	var logger httpstream.Logger = i.httpLogger

	// If recorder is set, create session logger
	var session *httpstream.Session
	if i.recorder != nil {
		session = i.recorder.NewSession(host)
		logger = session.Logger()
	}

	opts := []httpstream.ParserOption{
		httpstream.WithParserLogger(logger),
	}

	if i.onRequest != nil {
		opts = append(opts, httpstream.WithOnRequest(i.onRequest))
	}
	if i.onResponse != nil {
		opts = append(opts, httpstream.WithOnResponse(i.onResponse))
	}
	if i.onSSE != nil {
		opts = append(opts, httpstream.WithOnSSE(i.onSSE))
	}
	if i.onCapture != nil {
		opts = append(opts, httpstream.WithOnCapture(i.onCapture))
	}

	// If we have a session, use its ID
	if session != nil {
		opts = append(opts, httpstream.WithSessionID(session.ID))
	}

	parser := httpstream.NewParser(host, opts...)
	return parser.Forward(client, server)
}

// closeWrite closes the write side of a connection if supported.
func closeWrite(conn net.Conn) {
	if cw, ok := conn.(interface{ CloseWrite() error }); ok {
		cw.CloseWrite()
	}
}

// InterceptPlain handles plain (non-TLS) connections.
func (i *Interceptor) InterceptPlain(clientConn net.Conn, targetHost string, targetPort int) error {
	peekConn, ok := clientConn.(*peekedConn)
	if !ok {
		peekConn = newPeekedConn(clientConn)
	}
	return i.interceptPlain(peekConn, targetHost, targetPort)
}

// interceptPlain forwards a non-TLS connection through the pipe.
func (i *Interceptor) interceptPlain(clientConn *peekedConn, targetHost string, targetPort int) error {
	serverAddr := fmt.Sprintf("%s:%d", targetHost, targetPort)
	serverConn, err := i.dialer.DialContext(context.Background(), "tcp", serverAddr)
	if err != nil {
		return fmt.Errorf("dial server: %w", err)
	}
	defer serverConn.Close()

	return i.pipe(clientConn, serverConn, targetHost)
}
