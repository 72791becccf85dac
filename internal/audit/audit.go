package audit

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"hemis-telemetry/internal/auth"
)

// Actions recorded for pipeline control.
const (
	ActionSimulationStart   = "simulation.start"
	ActionSimulationStop    = "simulation.stop"
	ActionSimulationStopAll = "simulation.stop_all"
	ActionSimulationSample  = "simulation.sample"
	ActionPollingStart      = "polling.start"
	ActionPollingStop       = "polling.stop"
)

// Entry is one privileged action taken against the pipeline.
type Entry struct {
	ID            string
	Actor         string
	Role          string
	Action        string
	ResourceType  string
	ResourceID    string
	Metadata      json.RawMessage
	PayloadDigest string
	IP            string
	UserAgent     string
	CreatedAt     time.Time
}

// Logger writes audit entries.
type Logger interface {
	Log(ctx context.Context, entry Entry) error
}

// NewID generates an audit id.
func NewID() string {
	return "audit-" + uuid.NewString()
}

// DigestJSON computes a SHA256 hex digest for metadata payloads.
func DigestJSON(data []byte) string {
	if len(data) == 0 {
		return ""
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// FromRequest builds an entry carrying the caller identity and client details.
func FromRequest(r *http.Request, action, resourceType, resourceID string, meta map[string]any) Entry {
	entry := Entry{
		Action:       action,
		ResourceType: resourceType,
		ResourceID:   resourceID,
	}
	if len(meta) > 0 {
		entry.Metadata, _ = json.Marshal(meta)
	}
	if r == nil {
		return entry
	}
	entry.Actor = auth.SubjectFromContext(r.Context())
	entry.Role = string(auth.RoleFromContext(r.Context()))
	entry.IP = ClientIP(r)
	entry.UserAgent = r.UserAgent()
	return entry
}

// ClientIP resolves the caller address, preferring proxy headers.
func ClientIP(r *http.Request) string {
	if r == nil {
		return ""
	}
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		first, _, _ := strings.Cut(forwarded, ",")
		return strings.TrimSpace(first)
	}
	if realIP := r.Header.Get("X-Real-IP"); realIP != "" {
		return strings.TrimSpace(realIP)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err == nil {
		return host
	}
	return r.RemoteAddr
}
