package httpstream

import (
	"bufio"
	"crypto/rand"
	"encoding/hex"
	"io"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/nyxwire/protolens/internal/record"
)

// generateSessionID generates a short unique session ID.
func generateSessionID() string {
	b := make([]byte, 6)
	rand.Read(b)
	return hex.EncodeToString(b)
}

// pendingCall holds a captured gRPC-family request until its matching
// response arrives, so the pair can be handed to the core as one
// CapturedRecord.
type pendingCall struct {
	id         string
	methodPath string
	url        string
	startTime  time.Time
	headers    map[string]string
	raw        []byte
}

// Parser handles bidirectional HTTP stream parsing with zero-copy passthrough.
// Data flow is client-driven; parsing is done on mirrored data asynchronously.
type Parser struct {
	host      string
	sessionID string
	logger    Logger

	// Shared state for request/response correlation
	lastCall      *pendingCall
	lastCallMutex sync.Mutex

	// Callbacks (called on the parser goroutines; a slow callback stalls
	// the mirror pipe and with it forwarding)
	onRequest  func(*HTTPMessage)
	onResponse func(*HTTPMessage)
	onSSE      func(*SSEEvent)
	onBody     func(Direction, []byte)
	onCapture  func(record.CapturedRecord)
}

// ParserOption configures a Parser.
type ParserOption func(*Parser)

// WithParserLogger sets the logger.
func WithParserLogger(logger Logger) ParserOption {
	return func(p *Parser) { p.logger = logger }
}

// WithOnRequest sets the request callback.
func WithOnRequest(fn func(*HTTPMessage)) ParserOption {
	return func(p *Parser) { p.onRequest = fn }
}

// WithOnResponse sets the response callback.
func WithOnResponse(fn func(*HTTPMessage)) ParserOption {
	return func(p *Parser) { p.onResponse = fn }
}

// WithOnSSE sets the SSE event callback.
func WithOnSSE(fn func(*SSEEvent)) ParserOption {
	return func(p *Parser) { p.onSSE = fn }
}

// WithOnBody sets the body chunk callback.
func WithOnBody(fn func(Direction, []byte)) ParserOption {
	return func(p *Parser) { p.onBody = fn }
}

// WithOnCapture sets the callback that receives one CapturedRecord per
// matched gRPC-family request/response pair, for handoff to the core's
// record processor.
func WithOnCapture(fn func(record.CapturedRecord)) ParserOption {
	return func(p *Parser) { p.onCapture = fn }
}

// WithSessionID sets the session ID for tracking.
func WithSessionID(id string) ParserOption {
	return func(p *Parser) { p.sessionID = id }
}

// NewParser creates a new HTTP stream parser.
func NewParser(host string, opts ...ParserOption) *Parser {
	p := &Parser{
		host:      host,
		sessionID: generateSessionID(),
		logger:    NopLogger{},
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// SessionID returns the session ID.
func (p *Parser) SessionID() string {
	return p.sessionID
}

// Forward performs bidirectional forwarding with async HTTP parsing.
// Data flow is driven by client reads; parsing happens on mirrored data.
func (p *Parser) Forward(client, server net.Conn) error {
	var wg sync.WaitGroup
	wg.Add(2)

	errC2S := make(chan error, 1)
	errS2C := make(chan error, 1)

	// Client -> Server (requests)
	go func() {
		defer wg.Done()
		err := p.pipeWithMirror(server, client, ClientToServer)
		errC2S <- err
		closeWrite(server)
	}()

	// Server -> Client (responses)
	go func() {
		defer wg.Done()
		err := p.pipeWithMirror(client, server, ServerToClient)
		errS2C <- err
		closeWrite(client)
	}()

	wg.Wait()

	// Return first error if any
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

// pipeWithMirror copies data from src to dst while mirroring to async parser.
// Main flow: io.Copy(dst, src) - client-driven
// Side flow: mirrored data -> parser goroutine over a synchronous io.Pipe,
// so each chunk is forwarded only after the parser has read it
func (p *Parser) pipeWithMirror(dst io.Writer, src io.Reader, dir Direction) error {
	// Create pipe for mirroring
	pr, pw := io.Pipe()

	// TeeReader: every read from src is also written to pw
	tee := io.TeeReader(src, pw)

	// Start async parser goroutine (consumes mirrored data)
	parserDone := make(chan struct{})
	go func() {
		defer close(parserDone)
		p.parseStream(pr, dir)
		// Drain any remaining data to prevent blocking
		io.Copy(io.Discard, pr)
	}()

	// Main copy: client-driven, blocks until EOF or error
	_, err := io.Copy(dst, tee)

	// Close pipe writer to signal parser EOF
	pw.Close()

	// Wait for parser to finish (non-blocking drain ensures this completes)
	<-parserDone

	return err
}

// parseStream parses HTTP messages from mirrored stream asynchronously.
// This runs in a separate goroutine; the main copy waits on it only
// through the mirror pipe.
func (p *Parser) parseStream(r io.Reader, dir Direction) {
	reader := bufio.NewReader(r)

	if dir == ClientToServer {
		p.parseRequests(reader)
	} else {
		p.parseResponses(reader)
	}
}

// parseRequests parses HTTP requests from mirrored stream.
func (p *Parser) parseRequests(reader *bufio.Reader) {
	for {
		req, err := http.ReadRequest(reader)
		if err != nil {
			return // EOF or parse error, stop parsing
		}

		// Create body reader for request body
		var bodyReader *BodyReader
		if req.Body != nil {
			bodyReader = NewBodyReader(req.Body, req.Header)
		}

		// Create message
		msg := &HTTPMessage{
			Direction: ClientToServer,
			Request:   req,
			Body:      bodyReader,
			Host:      p.host,
			Timestamp: time.Now(),
		}

		// Log and callback
		p.logger.LogRequest(msg)
		if p.onRequest != nil {
			p.onRequest(msg)
		}

		// A gRPC-family request: buffer its raw body whole and stash it for
		// pairing with the matching response.
		// Our own framing+codec pipeline does the frame-level parsing, not
		// this package, so there is no need to read it frame by frame here.
		if bodyReader != nil && bodyReader.IsGRPC() && req.Method == "POST" {
			raw, err := bodyReader.ReadAll()
			bodyReader.Close()
			if err != nil && err != io.EOF {
				p.logger.Debug("gRPC request body read error: %v", err)
				continue
			}
			p.lastCallMutex.Lock()
			p.lastCall = &pendingCall{
				id:         generateSessionID(),
				methodPath: req.URL.Path,
				url:        "https://" + p.host + req.URL.RequestURI(),
				startTime:  time.Now(),
				headers:    lowercasedHeaders(req.Header),
				raw:        raw,
			}
			p.lastCallMutex.Unlock()
			continue
		}

		// Log request body if present
		if bodyReader != nil {
			p.logBody(bodyReader, ClientToServer)
		}
	}
}

// parseResponses parses HTTP responses from mirrored stream.
func (p *Parser) parseResponses(reader *bufio.Reader) {
	for {
		resp, err := http.ReadResponse(reader, nil)
		if err != nil {
			return // EOF or parse error, stop parsing
		}

		// Create body reader for decoded access
		bodyReader := NewBodyReader(resp.Body, resp.Header)

		// Create message
		msg := &HTTPMessage{
			Direction: ServerToClient,
			Response:  resp,
			Body:      bodyReader,
			Host:      p.host,
			Timestamp: time.Now(),
		}

		// Log and callback
		p.logger.LogResponse(msg)
		if p.onResponse != nil {
			p.onResponse(msg)
		}

		// Pair with whatever request is pending for this connection; a
		// gRPC-over-SSE tunnel (some transports carry
		// gRPC framing inside an SSE body) is treated the same as a direct
		// gRPC response, since the core's framing pipeline only cares
		// about Content-Type/grpc-encoding, not the outer SSE wrapper.
		p.lastCallMutex.Lock()
		call := p.lastCall
		p.lastCall = nil
		p.lastCallMutex.Unlock()

		if bodyReader != nil && call != nil && (bodyReader.IsGRPC() || bodyReader.IsSSE()) {
			p.emitCapture(call, bodyReader, resp)
			continue
		}

		// Handle true SSE unrelated to any pending gRPC call: parse events
		// for logging only.
		if bodyReader != nil && bodyReader.IsSSE() {
			p.parseSSEEvents(bodyReader)
			continue
		}

		// For everything else: log full body.
		if bodyReader != nil {
			p.logBody(bodyReader, ServerToClient)
		}
	}
}

// emitCapture completes a pending request/response pair into one
// CapturedRecord and hands it to onCapture.
func (p *Parser) emitCapture(call *pendingCall, bodyReader *BodyReader, resp *http.Response) {
	raw, err := bodyReader.ReadAll()
	bodyReader.Close()
	if err != nil && err != io.EOF {
		p.logger.Debug("gRPC response body read error: %v", err)
	}

	if p.onCapture == nil {
		return
	}

	now := time.Now()
	p.onCapture(record.CapturedRecord{
		ID:              call.id,
		MethodPath:      call.methodPath,
		URL:             call.url,
		StartTimeMs:     call.startTime.UnixMilli(),
		DurationMs:      now.Sub(call.startTime).Milliseconds(),
		HTTPStatus:      resp.StatusCode,
		RequestHeaders:  call.headers,
		ResponseHeaders: lowercasedHeaders(resp.Header),
		RequestRaw:      call.raw,
		ResponseRaw:     raw,
	})
}

// lowercasedHeaders flattens an http.Header into the single-string,
// lowercased-key shape the capture contract expects, joining
// repeated header values with a comma.
func lowercasedHeaders(h http.Header) map[string]string {
	out := make(map[string]string, len(h))
	for k, v := range h {
		out[strings.ToLower(k)] = strings.Join(v, ", ")
	}
	return out
}

// parseSSEEvents parses SSE events from body for logging.
func (p *Parser) parseSSEEvents(bodyReader *BodyReader) {
	sseParser := bodyReader.SSE()
	for {
		event, err := sseParser.Next()
		if err != nil {
			return
		}
		p.logger.LogSSE(p.host, event)
		if p.onSSE != nil {
			p.onSSE(event)
		}
	}
}

// logBody reads and logs the full body content.
func (p *Parser) logBody(bodyReader *BodyReader, dir Direction) {
	// Read full body for logging
	data, err := bodyReader.ReadAll()
	if err != nil && err != io.EOF {
		p.logger.Debug("body read error: %v", err)
	}

	if len(data) > 0 {
		p.logger.LogBody(dir, p.host, data)
		if p.onBody != nil {
			p.onBody(dir, data)
		}
	}

	bodyReader.Close()
}

// closeWrite closes the write side of a connection if supported.
func closeWrite(conn net.Conn) {
	if cw, ok := conn.(interface{ CloseWrite() error }); ok {
		cw.CloseWrite()
	}
}
