package bridge

import (
	"github.com/nyxwire/protolens/internal/record"
	"github.com/nyxwire/protolens/internal/reflection"
	"github.com/nyxwire/protolens/internal/registry"
)

// Bridge ties a Hub to a session's registry, reflection coordinator, and
// record processor, turning record, schema-updated, and reflection-status
// callbacks into websocket broadcast events as soon as they fire.
type Bridge struct {
	hub  *Hub
	reg  *registry.Registry
	proc *record.Processor
}

// New wires hub to fire on_record for every processed record,
// on_reflection_status for every coordinator state transition, and
// on_schema_updated for every registration already reflected in reg's
// Snapshot by the time this runs (callers should call New before feeding
// either collaborator any input).
func New(hub *Hub, reg *registry.Registry, coord *reflection.Coordinator, proc *record.Processor) *Bridge {
	b := &Bridge{hub: hub, reg: reg, proc: proc}

	proc.OnRecord(func(rec *record.EnrichedRecord) {
		hub.broadcastEvent("on_record", rec)
	})

	coord.OnStatus(func(origin string, state reflection.State, err error) {
		payload := map[string]any{"origin": origin, "state": string(state)}
		if err != nil {
			payload["error"] = err.Error()
		}
		hub.broadcastEvent("on_reflection_status", payload)
		if state == reflection.StateReady {
			b.publishSchema(origin)
		}
	})

	return b
}

func (b *Bridge) publishSchema(origin string) {
	b.hub.broadcastEvent("on_schema_updated", map[string]any{
		"origin":   origin,
		"registry": b.reg.Snapshot(),
	})
}

// RegisterDescriptors implements the UI collaborator's
// register_descriptors(bytes_or_descriptors) call: raw bytes are treated
// as an encoded FileDescriptorSet.
func (b *Bridge) RegisterDescriptors(data []byte) error {
	if err := b.reg.RegisterFileDescriptorSet(data); err != nil {
		return err
	}
	b.publishSchema("")
	return nil
}

// ClearSchemas empties the registry and broadcasts the now-empty
// snapshot.
func (b *Bridge) ClearSchemas() {
	b.reg.Clear()
	b.publishSchema("")
}
