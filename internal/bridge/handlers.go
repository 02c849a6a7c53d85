package bridge

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"

	"github.com/gorilla/websocket"
)

// Handler exposes Bridge over HTTP: a websocket endpoint for streaming
// events plus a small REST surface for the UI's pull-model calls.
type Handler struct {
	bridge *Bridge
}

// NewHandler wires an HTTP handler around an already-constructed Bridge.
func NewHandler(b *Bridge) *Handler {
	return &Handler{bridge: b}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// HandleWebSocket upgrades the connection and registers it with the hub
// for broadcast events (on_record/on_schema_updated/on_reflection_status).
func (h *Handler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		http.Error(w, "failed to upgrade connection", http.StatusInternalServerError)
		return
	}

	client := NewClient(h.bridge.hub, conn)
	h.bridge.hub.Register(client)

	go client.WritePump()
	client.ReadPump()
}

// HandleGetRecords serves GET /api/records?limit=N for a UI's initial
// load, independent of the websocket stream.
func (h *Handler) HandleGetRecords(w http.ResponseWriter, r *http.Request) {
	limit := 100
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if l, err := strconv.Atoi(raw); err == nil && l > 0 && l <= 1000 {
			limit = l
		}
	}

	records := h.bridge.proc.Recent(limit)

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Access-Control-Allow-Origin", "*")
	json.NewEncoder(w).Encode(records)
}

// HandleRegisterDescriptors serves POST /api/register_descriptors: the
// request body is a raw-bytes FileDescriptorSet.
func (h *Handler) HandleRegisterDescriptors(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, 64<<20))
	if err != nil {
		http.Error(w, "failed to read body", http.StatusBadRequest)
		return
	}
	if err := h.bridge.RegisterDescriptors(body); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleClearSchemas serves POST /api/clear_schemas.
func (h *Handler) HandleClearSchemas(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	h.bridge.ClearSchemas()
	w.WriteHeader(http.StatusNoContent)
}

// HandleCORS answers CORS preflight requests for the REST endpoints.
func (h *Handler) HandleCORS(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
	w.WriteHeader(http.StatusOK)
}

// RegisterRoutes mounts the bridge's websocket and REST endpoints on mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/ws/events", h.HandleWebSocket)

	mux.HandleFunc("/api/records", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodOptions {
			h.HandleCORS(w, r)
			return
		}
		h.HandleGetRecords(w, r)
	})

	mux.HandleFunc("/api/register_descriptors", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodOptions {
			h.HandleCORS(w, r)
			return
		}
		h.HandleRegisterDescriptors(w, r)
	})

	mux.HandleFunc("/api/clear_schemas", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodOptions {
			h.HandleCORS(w, r)
			return
		}
		h.HandleClearSchemas(w, r)
	})
}
