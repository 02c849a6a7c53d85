// Package reflection drives the gRPC Server Reflection protocol against
// each origin encountered, coalescing concurrent callers onto a single
// in-flight fetch per origin and registering the resulting descriptors.
package reflection

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/nyxwire/protolens/internal/framing"
	"github.com/nyxwire/protolens/internal/registry"
	"golang.org/x/sync/singleflight"
)

// State is a per-origin reflection state.
type State string

const (
	StateUnknown  State = "unknown"
	StateInFlight State = "in_flight"
	StateReady    State = "ready"
	StateFailed   State = "failed"
)

// Options tunes the coordinator.
type Options struct {
	Enabled bool
	Timeout time.Duration
}

// DefaultOptions returns the coordinator defaults.
func DefaultOptions() Options {
	return Options{Enabled: true, Timeout: defaultTimeout}
}

type originState struct {
	state State
	err   error
}

// Coordinator owns reflection state for every origin in a session and
// feeds successfully-fetched descriptors into a shared registry.
type Coordinator struct {
	reg       *registry.Registry
	transport Transport
	opts      Options
	logger    Logger

	sf singleflight.Group

	mu       sync.Mutex
	states   map[string]*originState
	onStatus []func(origin string, state State, err error)
}

// New returns a Coordinator that registers discovered descriptors into reg.
func New(reg *registry.Registry, transport Transport, opts Options) *Coordinator {
	if transport == nil {
		transport = &HTTPTransport{}
	}
	if opts.Timeout <= 0 {
		opts.Timeout = defaultTimeout
	}
	return &Coordinator{
		reg:       reg,
		transport: transport,
		opts:      opts,
		logger:    NopLogger{},
		states:    make(map[string]*originState),
	}
}

// SetLogger overrides the coordinator's logger (default: NopLogger).
func (c *Coordinator) SetLogger(l Logger) {
	if l != nil {
		c.logger = l
	}
}

// OnStatus registers a callback invoked on every state transition
// (InFlight/Ready/Failed). Multiple callbacks may be registered; the
// record processor's re-decode pass and the UI's reflection-status events
// each hold one.
func (c *Coordinator) OnStatus(fn func(origin string, state State, err error)) {
	c.mu.Lock()
	c.onStatus = append(c.onStatus, fn)
	c.mu.Unlock()
}

// State reports the current reflection state for origin.
func (c *Coordinator) State(origin string) (State, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	rec, ok := c.states[origin]
	if !ok {
		return StateUnknown, nil
	}
	return rec.state, rec.err
}

func (c *Coordinator) setState(origin string, st State, err error) {
	c.mu.Lock()
	c.states[origin] = &originState{state: st, err: err}
	cbs := append(([]func(string, State, error))(nil), c.onStatus...)
	c.mu.Unlock()
	for _, cb := range cbs {
		cb(origin, st, err)
	}
}

// Ensure obtains descriptors for origin if they are not already available.
// A registry hit for methodPath skips
// reflection entirely; a Ready origin returns immediately; an InFlight
// fetch is awaited and shared; a Failed origin returns its recorded error
// without retrying (reflection failure is terminal for the session).
// methodPath may be empty to force a fetch attempt regardless of any
// single method's resolution state.
func (c *Coordinator) Ensure(ctx context.Context, origin, methodPath string) error {
	if methodPath != "" && c.reg.HasMethod(methodPath) {
		return nil
	}
	if !c.opts.Enabled {
		return nil
	}

	c.mu.Lock()
	if rec, ok := c.states[origin]; ok {
		switch rec.state {
		case StateReady:
			c.mu.Unlock()
			return nil
		case StateFailed:
			c.mu.Unlock()
			return rec.err
		}
		// InFlight: fall through to share the in-flight singleflight call.
	}
	c.mu.Unlock()

	_, err, _ := c.sf.Do(origin, func() (interface{}, error) {
		c.setState(origin, StateInFlight, nil)
		ferr := c.fetch(ctx, origin)
		if ferr != nil {
			c.setState(origin, StateFailed, ferr)
			return nil, ferr
		}
		c.setState(origin, StateReady, nil)
		return nil, nil
	})
	return err
}

// fetch drives ListServices -> FileContainingSymbol -> FileByFilename
// closure against origin and registers whatever it collects.
func (c *Coordinator) fetch(ctx context.Context, origin string) error {
	ctx, cancel := context.WithTimeout(ctx, c.opts.Timeout)
	defer cancel()

	host := hostOf(origin)
	cl, _, services, err := c.dial(ctx, origin, host)
	if err != nil {
		return err
	}

	seen := make(map[string]bool)
	var collected [][]byte

	for _, svc := range services {
		// Servers list both reflection generations; neither is worth
		// fetching descriptors for.
		if strings.HasPrefix(svc, "grpc.reflection.") {
			continue
		}
		protos, err := cl.fileContainingSymbol(ctx, svc)
		if err != nil {
			c.logger.Debug("reflection: FileContainingSymbol(%s) on %s failed: %v", svc, origin, err)
			continue
		}
		if err := c.collect(ctx, cl, protos, seen, &collected); err != nil {
			c.logger.Debug("reflection: resolving dependencies for %s on %s: %v", svc, origin, err)
		}
	}

	if len(collected) == 0 {
		return fmt.Errorf("reflection: no descriptors discovered for %s", origin)
	}
	return c.reg.RegisterFileDescriptorProtos(collected)
}

// collect walks protos plus their transitive dependencies (fetched via
// FileByFilename), deduping by file name and appending newly-seen bytes to
// *out. Individual dependency fetch failures are tolerated: the
// dependency stays unresolved and the partial registry is still built.
func (c *Coordinator) collect(ctx context.Context, cl *reflectionClient, protos [][]byte, seen map[string]bool, out *[][]byte) error {
	queue := protos
	for len(queue) > 0 {
		p := queue[0]
		queue = queue[1:]

		f, err := parseFileName(p)
		if err != nil {
			continue
		}
		if seen[f.name] {
			continue
		}
		seen[f.name] = true
		*out = append(*out, p)

		for _, dep := range f.dependencies {
			if seen[dep] {
				continue
			}
			depProtos, err := cl.fileByFilename(ctx, dep)
			if err != nil {
				c.logger.Debug("reflection: FileByFilename(%s): %v", dep, err)
				seen[dep] = true // don't retry a dependency that's already failed once
				continue
			}
			queue = append(queue, depProtos...)
		}
	}
	return nil
}

// dial picks whichever ServerReflection generation (v1, falling back to
// v1alpha) the origin actually answers, trying ListServices against each
// in turn and keeping its result to avoid a second round trip.
func (c *Coordinator) dial(ctx context.Context, origin, host string) (*reflectionClient, protoVersion, []string, error) {
	var lastErr error
	for _, v := range []protoVersion{versionV1, versionV1Alpha} {
		cl := &reflectionClient{transport: c.transport, origin: origin, host: host, version: v}
		services, err := cl.listServices(ctx)
		if err == nil {
			return cl, v, services, nil
		}
		lastErr = err
	}
	return nil, versionV1, nil, fmt.Errorf("reflection: no ServerReflection generation answered %s: %w", origin, lastErr)
}

func hostOf(origin string) string {
	u, err := url.Parse(origin)
	if err != nil {
		return origin
	}
	return u.Host
}

// reflectionClient issues one ServerReflectionInfo-shaped request/response
// pair at a time over a single-shot HTTP POST. Frames are built by hand
// because the channel is single-shot request/response, not a streaming
// client.
type reflectionClient struct {
	transport Transport
	origin    string
	host      string
	version   protoVersion
}

func (c *reflectionClient) call(ctx context.Context, reqBytes []byte) ([]byte, error) {
	respBody, contentType, err := c.transport.Do(ctx, c.origin+c.version.servicePath, frameGRPCWeb(reqBytes))
	if err != nil {
		return nil, err
	}
	result := framing.Process(respBody, false, framing.Headers{ContentType: contentType}, framing.DefaultOptions())
	if len(result.Payloads) == 0 {
		return nil, fmt.Errorf("reflection: empty response from %s", c.origin)
	}
	return result.Payloads[0], nil
}

func (c *reflectionClient) listServices(ctx context.Context) ([]string, error) {
	req, err := newListServicesRequest(c.version, c.host)
	if err != nil {
		return nil, err
	}
	payload, err := c.call(ctx, req)
	if err != nil {
		return nil, err
	}
	services, _, rerr, err := decodeResponse(c.version, payload)
	if err != nil {
		return nil, err
	}
	if rerr != nil {
		return nil, rerr
	}
	return services, nil
}

func (c *reflectionClient) fileContainingSymbol(ctx context.Context, symbol string) ([][]byte, error) {
	req, err := newFileContainingSymbolRequest(c.version, c.host, symbol)
	if err != nil {
		return nil, err
	}
	return c.fetchFiles(ctx, req)
}

func (c *reflectionClient) fileByFilename(ctx context.Context, filename string) ([][]byte, error) {
	req, err := newFileByFilenameRequest(c.version, c.host, filename)
	if err != nil {
		return nil, err
	}
	return c.fetchFiles(ctx, req)
}

func (c *reflectionClient) fetchFiles(ctx context.Context, req []byte) ([][]byte, error) {
	payload, err := c.call(ctx, req)
	if err != nil {
		return nil, err
	}
	_, files, rerr, err := decodeResponse(c.version, payload)
	if err != nil {
		return nil, err
	}
	if rerr != nil {
		return nil, rerr
	}
	return files, nil
}
