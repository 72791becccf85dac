package fanout

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"hemis-telemetry/internal/auth"
	"hemis-telemetry/internal/observability/metrics"
)

var (
	// ErrUnknownSubscriber indicates a handle that is not connected.
	ErrUnknownSubscriber = errors.New("fanout: unknown subscriber")
	// ErrSubscriberClosed indicates a send to a closed connection.
	ErrSubscriberClosed = errors.New("fanout: subscriber closed")
	// ErrSlowSubscriber indicates a full outbound buffer; the frame is dropped.
	ErrSlowSubscriber = errors.New("fanout: subscriber buffer full")
)

// Subscriber is a live connection handle.
type Subscriber interface {
	ID() string
	Send(frame []byte) error
}

// Identity is the authenticated user behind a subscriber.
type Identity struct {
	UserID string    `json:"user_id"`
	Role   auth.Role `json:"role"`
}

type member struct {
	sub         Subscriber
	identity    Identity
	rooms       map[string]struct{}
	connectedAt time.Time
}

// Stats summarizes hub state.
type Stats struct {
	Subscribers   int            `json:"subscribers"`
	Rooms         map[string]int `json:"rooms"`
	Subscriptions int            `json:"subscriptions"`
}

// Hub tracks subscriber-to-room membership and delivers frames.
// Membership changes and broadcast snapshots share one lock; sends happen
// outside it.
type Hub struct {
	mu      sync.Mutex
	members map[string]*member
	rooms   map[string]map[string]struct{}
	now     func() time.Time
	logger  *zap.Logger
}

// HubOption configures the hub.
type HubOption func(*Hub)

// WithClock overrides the hub clock.
func WithClock(now func() time.Time) HubOption {
	return func(h *Hub) {
		if now != nil {
			h.now = now
		}
	}
}

// NewHub constructs an empty hub.
func NewHub(logger *zap.Logger, opts ...HubOption) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	h := &Hub{
		members: make(map[string]*member),
		rooms:   make(map[string]map[string]struct{}),
		now:     func() time.Time { return time.Now().UTC() },
		logger:  logger.Named("fanout"),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Register adds a connected subscriber. Registering an existing id replaces
// its connection and keeps its rooms.
func (h *Hub) Register(sub Subscriber) error {
	if h == nil {
		return errors.New("fanout: nil hub")
	}
	if sub == nil || sub.ID() == "" {
		return errors.New("fanout: invalid subscriber")
	}
	h.mu.Lock()
	if existing, ok := h.members[sub.ID()]; ok {
		existing.sub = sub
	} else {
		h.members[sub.ID()] = &member{sub: sub, rooms: make(map[string]struct{}), connectedAt: h.now()}
	}
	h.publishSizeLocked()
	h.mu.Unlock()
	return nil
}

// Authenticate attaches identity to a connected subscriber. It does not touch
// room membership.
func (h *Hub) Authenticate(id, userID string, role auth.Role) error {
	if h == nil {
		return errors.New("fanout: nil hub")
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	m, ok := h.members[id]
	if !ok {
		return ErrUnknownSubscriber
	}
	m.identity = Identity{UserID: userID, Role: role}
	return nil
}

// Identity returns the identity attached to a subscriber.
func (h *Hub) Identity(id string) (Identity, bool) {
	if h == nil {
		return Identity{}, false
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	m, ok := h.members[id]
	if !ok {
		return Identity{}, false
	}
	return m.identity, true
}

// Join adds a subscriber to room, creating the room if needed. Joining twice is a no-op.
func (h *Hub) Join(id, room string) error {
	if h == nil {
		return errors.New("fanout: nil hub")
	}
	if room == "" {
		return ErrInvalidRoom
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	m, ok := h.members[id]
	if !ok {
		return ErrUnknownSubscriber
	}
	set, ok := h.rooms[room]
	if !ok {
		set = make(map[string]struct{})
		h.rooms[room] = set
	}
	set[id] = struct{}{}
	m.rooms[room] = struct{}{}
	h.publishSizeLocked()
	return nil
}

// Leave removes a subscriber from room; empty rooms are deleted.
func (h *Hub) Leave(id, room string) error {
	if h == nil {
		return errors.New("fanout: nil hub")
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	m, ok := h.members[id]
	if !ok {
		return ErrUnknownSubscriber
	}
	h.leaveLocked(m, id, room)
	h.publishSizeLocked()
	return nil
}

// Disconnect removes a subscriber from every room and forgets it. Safe to call twice.
func (h *Hub) Disconnect(id string) {
	if h == nil {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	m, ok := h.members[id]
	if !ok {
		return
	}
	for room := range m.rooms {
		h.leaveLocked(m, id, room)
	}
	delete(h.members, id)
	h.publishSizeLocked()
}

func (h *Hub) leaveLocked(m *member, id, room string) {
	delete(m.rooms, room)
	set, ok := h.rooms[room]
	if !ok {
		return
	}
	delete(set, id)
	if len(set) == 0 {
		delete(h.rooms, room)
	}
}

// RoomsOf lists a subscriber's rooms in name order.
func (h *Hub) RoomsOf(id string) []string {
	if h == nil {
		return nil
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	m, ok := h.members[id]
	if !ok {
		return nil
	}
	rooms := make([]string, 0, len(m.rooms))
	for room := range m.rooms {
		rooms = append(rooms, room)
	}
	sort.Strings(rooms)
	return rooms
}

// Deliver sends an encoded frame to the current members of room and returns
// how many accepted it. A room without members is a no-op.
func (h *Hub) Deliver(room string, frame []byte) int {
	if h == nil {
		return 0
	}
	h.mu.Lock()
	set := h.rooms[room]
	targets := make([]Subscriber, 0, len(set))
	for id := range set {
		if m, ok := h.members[id]; ok {
			targets = append(targets, m.sub)
		}
	}
	h.mu.Unlock()
	return h.send(targets, frame)
}

// DeliverAll sends an encoded frame to every connected subscriber.
func (h *Hub) DeliverAll(frame []byte) int {
	if h == nil {
		return 0
	}
	h.mu.Lock()
	targets := make([]Subscriber, 0, len(h.members))
	for _, m := range h.members {
		targets = append(targets, m.sub)
	}
	h.mu.Unlock()
	return h.send(targets, frame)
}

func (h *Hub) send(targets []Subscriber, frame []byte) int {
	delivered := 0
	for _, sub := range targets {
		if err := sub.Send(frame); err != nil {
			h.logger.Debug("drop frame", zap.String("subscriber", sub.ID()), zap.Error(err))
			continue
		}
		delivered++
	}
	return delivered
}

// PublishTelemetry pushes a telemetry_update for room to its members.
func (h *Hub) PublishTelemetry(_ context.Context, room string, data any) error {
	if h == nil {
		return errors.New("fanout: nil hub")
	}
	frame, err := EncodeTelemetryUpdate(room, data, h.now())
	if err != nil {
		return err
	}
	h.Deliver(room, frame)
	return nil
}

// PublishAlert pushes a global_alert to every subscriber.
func (h *Hub) PublishAlert(_ context.Context, alert any) error {
	if h == nil {
		return errors.New("fanout: nil hub")
	}
	frame, err := EncodeGlobalAlert(alert, h.now())
	if err != nil {
		return err
	}
	h.DeliverAll(frame)
	return nil
}

// Stats reports subscriber and room counts.
func (h *Hub) Stats() Stats {
	if h == nil {
		return Stats{Rooms: map[string]int{}}
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	stats := Stats{Subscribers: len(h.members), Rooms: make(map[string]int, len(h.rooms))}
	for room, set := range h.rooms {
		stats.Rooms[room] = len(set)
		stats.Subscriptions += len(set)
	}
	return stats
}

func (h *Hub) publishSizeLocked() {
	metrics.SetHubSize(len(h.members), len(h.rooms))
}
