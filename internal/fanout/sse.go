package fanout

import (
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"hemis-telemetry/internal/auth"
)

type sseClient struct {
	id        string
	ch        chan []byte
	done      chan struct{}
	closeOnce sync.Once
}

func newSSEClient() *sseClient {
	return &sseClient{id: uuid.NewString(), ch: make(chan []byte, 16), done: make(chan struct{})}
}

func (c *sseClient) ID() string { return c.id }

func (c *sseClient) Send(frame []byte) error {
	select {
	case <-c.done:
		return ErrSubscriberClosed
	default:
	}
	select {
	case c.ch <- frame:
		return nil
	default:
		return ErrSlowSubscriber
	}
}

func (c *sseClient) close() {
	c.closeOnce.Do(func() { close(c.done) })
}

// StreamHandler serves one hub room as a server-sent event stream.
type StreamHandler struct {
	hub       *Hub
	access    auth.AccessChecker
	keepAlive time.Duration
	logger    *zap.Logger
}

// NewStreamHandler constructs a stream handler.
func NewStreamHandler(hub *Hub, access auth.AccessChecker, logger *zap.Logger) (*StreamHandler, error) {
	if hub == nil {
		return nil, errors.New("fanout sse: nil hub")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StreamHandler{hub: hub, access: access, keepAlive: 25 * time.Second, logger: logger.Named("fanout.sse")}, nil
}

// ServeHTTP handles GET /api/v1/telemetry/stream?room=<room>.
func (h *StreamHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if h == nil || h.hub == nil {
		http.Error(w, "stream not ready", http.StatusServiceUnavailable)
		return
	}

	ref, err := ParseRoom(r.URL.Query().Get("room"))
	if err != nil {
		http.Error(w, "Invalid room parameters", http.StatusBadRequest)
		return
	}
	role := auth.RoleFromContext(r.Context())
	if h.access != nil && !h.access.CanAccess(role, ref.Kind, ref.ID) {
		http.Error(w, "Access denied", http.StatusForbidden)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "stream unsupported", http.StatusInternalServerError)
		return
	}

	client := newSSEClient()
	if err := h.hub.Register(client); err != nil {
		http.Error(w, "stream not ready", http.StatusServiceUnavailable)
		return
	}
	defer func() {
		h.hub.Disconnect(client.id)
		client.close()
	}()
	_ = h.hub.Authenticate(client.id, auth.SubjectFromContext(r.Context()), role)
	if err := h.hub.Join(client.id, ref.Name); err != nil {
		http.Error(w, "stream not ready", http.StatusServiceUnavailable)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	_, _ = w.Write([]byte("event: ready\ndata: {\"client_id\":\"" + client.id + "\",\"room_name\":\"" + ref.Name + "\"}\n\n"))
	flusher.Flush()

	ticker := time.NewTicker(h.keepAlive)
	defer ticker.Stop()

	notify := r.Context().Done()
	for {
		select {
		case frame := <-client.ch:
			_, _ = w.Write([]byte("data: "))
			_, _ = w.Write(frame)
			_, _ = w.Write([]byte("\n\n"))
			flusher.Flush()
		case <-ticker.C:
			_, _ = w.Write([]byte(": keep-alive\n\n"))
			flusher.Flush()
		case <-notify:
			return
		}
	}
}
