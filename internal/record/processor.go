package record

import (
	"context"
	"net/url"
	"strconv"
	"strings"

	"github.com/nyxwire/protolens/internal/codec"
	"github.com/nyxwire/protolens/internal/framing"
	"github.com/nyxwire/protolens/internal/reflection"
	"github.com/nyxwire/protolens/internal/registry"
)

// Processor is the core's single entry point for captured traffic:
// Process(record) in, enriched record out. It owns the registry,
// the reflection coordinator, and the recent-record cache, and ties them
// together so a schema that arrives after a call was captured still gets
// applied to it.
type Processor struct {
	reg    *registry.Registry
	coord  *reflection.Coordinator
	opts   Options
	logger Logger
	store  *store

	onRecord func(*EnrichedRecord)
}

// NewProcessor wires a Processor around reg and coord, which the caller
// constructs (so it can also hand them to the bridge/CLI layer).
func NewProcessor(reg *registry.Registry, coord *reflection.Coordinator, opts Options) *Processor {
	p := &Processor{
		reg:    reg,
		coord:  coord,
		opts:   opts,
		logger: NopLogger{},
		store:  newStore(opts.RecentCacheSize),
	}
	coord.OnStatus(func(origin string, state reflection.State, err error) {
		fields := map[string]any{"origin": origin, "state": string(state)}
		if err != nil {
			fields["error"] = err.Error()
		}
		p.logger.Event("reflection_status", fields)
		if state == reflection.StateReady {
			p.redecodeOrigin(origin)
		}
	})
	return p
}

// SetLogger overrides the processor's logger (default: NopLogger).
func (p *Processor) SetLogger(l Logger) {
	if l != nil {
		p.logger = l
	}
}

// OnRecord registers the callback invoked with every enriched record, the
// hook the bridge layer uses to emit on_record.
func (p *Processor) OnRecord(fn func(*EnrichedRecord)) {
	p.onRecord = fn
}

// Recent returns up to limit of the most recently emitted records.
func (p *Processor) Recent(limit int) []*EnrichedRecord {
	return p.store.Recent(limit)
}

// Process resolves the method path, ensures
// reflection has had its chance to supply descriptors for the record's
// origin, decodes request and response through the framing and codec
// pipelines, and emits the result.
func (p *Processor) Process(ctx context.Context, rec CapturedRecord) *EnrichedRecord {
	methodPath := rec.MethodPath
	if methodPath == "" {
		methodPath = methodPathFromURL(rec.URL)
	}

	origin := originOf(rec.URL)
	if err := p.coord.Ensure(ctx, origin, methodPath); err != nil {
		p.logger.Debugf("reflection: Ensure(%s): %v", origin, err)
	}

	out := p.decode(rec, methodPath)
	if out.Error != "" {
		p.logger.Event("decode_warning", map[string]any{"id": rec.ID, "method": methodPath, "warning": out.Error})
	}
	p.store.add(out)
	p.emit(out)
	return out
}

// decode runs the framing + codec pipeline against rec using whatever
// descriptors are registered right now. It never mutates rec's captured
// fields.
func (p *Processor) decode(rec CapturedRecord, methodPath string) *EnrichedRecord {
	out := &EnrichedRecord{CapturedRecord: rec}
	out.MethodPath = methodPath

	method := p.reg.FindMethod(methodPath)
	reqType, respType := "", ""
	if method != nil {
		if method.Input != nil {
			reqType = method.Input.FullName
		}
		if method.Output != nil {
			respType = method.Output.FullName
		}
	}

	if len(rec.RequestRaw) > 0 {
		reqResult := framing.Process(rec.RequestRaw, rec.RequestBase64Encoded, headersOf(rec.RequestHeaders), p.opts.Framing)
		out.Warnings(reqResult.Warnings)
		if len(reqResult.Payloads) > 0 {
			out.RequestDecoded = codec.Decode(reqType, reqResult.Payloads[0], p.reg, p.opts.Codec)
		}
	}

	if len(rec.ResponseRaw) > 0 {
		respResult := framing.Process(rec.ResponseRaw, rec.ResponseBase64Encoded, headersOf(rec.ResponseHeaders), p.opts.Framing)
		out.Warnings(respResult.Warnings)
		for _, payload := range respResult.Payloads {
			out.ResponseDecoded = append(out.ResponseDecoded, codec.Decode(respType, payload, p.reg, p.opts.Codec))
		}
		applyTrailer(out, respResult.Trailer)
	}

	return out
}

// Warnings folds framing pipeline warnings into the record's single
// surfaced Error string, joining onto whatever is already there.
// Non-fatal problems are reported, never raised.
func (r *EnrichedRecord) Warnings(warnings []string) {
	if len(warnings) == 0 {
		return
	}
	if r.Error != "" {
		warnings = append([]string{r.Error}, warnings...)
	}
	r.Error = strings.Join(warnings, "; ")
}

// applyTrailer extracts grpc-status/grpc-message from a trailer frame,
// URL-decoding the message per the gRPC wire convention.
func applyTrailer(out *EnrichedRecord, trailer map[string]string) {
	if trailer == nil {
		return
	}
	if raw, ok := trailer["grpc-status"]; ok {
		if n, err := strconv.ParseInt(raw, 10, 32); err == nil {
			v := int32(n)
			out.GRPCStatus = &v
		}
	}
	if raw, ok := trailer["grpc-message"]; ok {
		if decoded, err := url.QueryUnescape(raw); err == nil {
			out.GRPCMessage = decoded
		} else {
			out.GRPCMessage = raw
		}
	}
}

// redecodeOrigin re-runs decode for every cached record belonging to
// origin once reflection has newly made it Ready, so calls captured
// before the schema arrived still end up fully decoded. Identity and
// every captured field are preserved; only the decoded fields change.
func (p *Processor) redecodeOrigin(origin string) {
	for _, rec := range p.store.recentForOrigin(origin) {
		refreshed := p.decode(rec.CapturedRecord, rec.MethodPath)
		p.store.replace(refreshed)
		p.emit(refreshed)
	}
}

func (p *Processor) emit(rec *EnrichedRecord) {
	if p.onRecord != nil {
		p.onRecord(rec)
	}
}

func headersOf(h map[string]string) framing.Headers {
	return framing.Headers{
		ContentType:            h["content-type"],
		GRPCEncoding:           h["grpc-encoding"],
		ConnectContentEncoding: h["connect-content-encoding"],
	}
}

// methodPathFromURL extracts "/pkg.Service/Method" from a capture URL's
// path component, tolerating a full URL or a bare path.
func methodPathFromURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	return u.Path
}

// originOf returns scheme://host for a capture URL, the key reflection
// state and the re-decode cache are both grouped on.
func originOf(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return raw
	}
	scheme := u.Scheme
	if scheme == "" {
		scheme = "https"
	}
	return scheme + "://" + u.Host
}
