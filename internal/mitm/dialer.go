package mitm

import (
	"bufio"
	"context"
	"encoding/base64"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"time"

	"golang.org/x/net/proxy"
)

// Dialer opens the upstream leg of an intercepted connection, either
// directly or through a configured upstream proxy (HTTP CONNECT or
// SOCKS5). The upstream URL is parsed once at construction; a parse
// error is kept and returned by every DialContext call.
type Dialer struct {
	upstream *url.URL
	parseErr error
	timeout  time.Duration
}

// NewDialer builds a Dialer for the given upstream proxy URL. An empty
// URL means direct connections. Parse errors are deferred to DialContext
// so construction stays infallible for the common direct case.
func NewDialer(upstreamProxy string) *Dialer {
	d := &Dialer{timeout: 10 * time.Second}
	if upstreamProxy != "" {
		u, err := url.Parse(upstreamProxy)
		if err != nil {
			d.parseErr = fmt.Errorf("parse upstream proxy: %w", err)
		} else {
			d.upstream = u
		}
	}
	return d
}

// DialContext connects to addr, routing through the upstream proxy when
// one is configured. The context bounds the whole exchange, including
// any proxy handshake.
func (d *Dialer) DialContext(ctx context.Context, network, addr string) (net.Conn, error) {
	if d.parseErr != nil {
		return nil, d.parseErr
	}
	nd := &net.Dialer{Timeout: d.timeout}
	if d.upstream == nil {
		return nd.DialContext(ctx, network, addr)
	}

	switch d.upstream.Scheme {
	case "http", "https":
		return d.dialViaConnect(ctx, nd, addr)
	case "socks5", "socks5h", "socks":
		return d.dialViaSOCKS5(ctx, nd, addr)
	default:
		return nil, fmt.Errorf("unsupported upstream proxy scheme %q", d.upstream.Scheme)
	}
}

// dialViaConnect tunnels through an HTTP proxy with a CONNECT request,
// reading the reply with net/http's response parser rather than by hand.
func (d *Dialer) dialViaConnect(ctx context.Context, nd *net.Dialer, targetAddr string) (net.Conn, error) {
	proxyAddr := d.upstream.Host
	if d.upstream.Port() == "" {
		proxyAddr = net.JoinHostPort(d.upstream.Hostname(), "8080")
	}

	conn, err := nd.DialContext(ctx, "tcp", proxyAddr)
	if err != nil {
		return nil, fmt.Errorf("connect to http proxy: %w", err)
	}
	if deadline, ok := ctx.Deadline(); ok {
		conn.SetDeadline(deadline)
		defer conn.SetDeadline(time.Time{})
	}

	req := &http.Request{
		Method: http.MethodConnect,
		URL:    &url.URL{Opaque: targetAddr},
		Host:   targetAddr,
		Header: make(http.Header),
	}
	if user := d.upstream.User; user != nil {
		password, _ := user.Password()
		cred := base64.StdEncoding.EncodeToString([]byte(user.Username() + ":" + password))
		req.Header.Set("Proxy-Authorization", "Basic "+cred)
	}

	if err := req.Write(conn); err != nil {
		conn.Close()
		return nil, fmt.Errorf("send CONNECT: %w", err)
	}

	br := bufio.NewReader(conn)
	resp, err := http.ReadResponse(br, req)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("read CONNECT response: %w", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		conn.Close()
		return nil, fmt.Errorf("proxy CONNECT refused: %s", resp.Status)
	}

	// The proxy may have pipelined tunnel bytes behind its reply; keep
	// the reader in front of the conn so none are lost.
	if br.Buffered() > 0 {
		return &bufferedConn{Conn: conn, reader: br}, nil
	}
	return conn, nil
}

// dialViaSOCKS5 tunnels through a SOCKS5 proxy via x/net/proxy, which
// leaves DNS resolution of the target to the proxy server.
func (d *Dialer) dialViaSOCKS5(ctx context.Context, nd *net.Dialer, targetAddr string) (net.Conn, error) {
	proxyAddr := d.upstream.Host
	if d.upstream.Port() == "" {
		proxyAddr = net.JoinHostPort(d.upstream.Hostname(), "1080")
	}

	var auth *proxy.Auth
	if user := d.upstream.User; user != nil {
		password, _ := user.Password()
		auth = &proxy.Auth{User: user.Username(), Password: password}
	}

	sd, err := proxy.SOCKS5("tcp", proxyAddr, auth, nd)
	if err != nil {
		return nil, fmt.Errorf("configure socks5 proxy: %w", err)
	}
	if cd, ok := sd.(proxy.ContextDialer); ok {
		return cd.DialContext(ctx, "tcp", targetAddr)
	}
	return sd.Dial("tcp", targetAddr)
}

// bufferedConn replays bytes the CONNECT reply parser over-read before
// handing the raw conn to the tunnel.
type bufferedConn struct {
	net.Conn
	reader *bufio.Reader
}

func (c *bufferedConn) Read(p []byte) (int, error) {
	return c.reader.Read(p)
}
