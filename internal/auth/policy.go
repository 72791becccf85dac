package auth

import (
	"net/http"
	"strings"
)

// Policy determines required permissions by request.
type Policy struct {
	ExemptPaths    map[string]struct{}
	ExemptPrefixes []string
}

// NewDefaultPolicy builds a default policy with exemptions.
func NewDefaultPolicy(exemptPaths []string, exemptPrefixes []string) Policy {
	set := make(map[string]struct{}, len(exemptPaths))
	for _, path := range exemptPaths {
		set[path] = struct{}{}
	}
	return Policy{ExemptPaths: set, ExemptPrefixes: exemptPrefixes}
}

// IsExempt returns true when a request should skip auth.
func (p Policy) IsExempt(r *http.Request) bool {
	if r == nil {
		return true
	}
	if _, ok := p.ExemptPaths[r.URL.Path]; ok {
		return true
	}
	for _, prefix := range p.ExemptPrefixes {
		if strings.HasPrefix(r.URL.Path, prefix) {
			return true
		}
	}
	return false
}

// RequiredPermission resolves the permission a request needs.
func (p Policy) RequiredPermission(r *http.Request) (Permission, bool) {
	if r == nil {
		return "", false
	}
	path := r.URL.Path
	method := r.Method

	switch {
	case strings.HasPrefix(path, "/api/v1/simulations"):
		if method == http.MethodGet {
			return PermViewReadings, true
		}
		return PermManageDevices, true
	case strings.HasPrefix(path, "/api/v1/telemetry/polling/"):
		if method == http.MethodGet {
			return PermViewReadings, true
		}
		return PermManageDevices, true
	case strings.HasPrefix(path, "/api/v1/telemetry/"):
		return PermViewDevices, true
	}

	if strings.HasPrefix(path, "/api/") {
		if method == http.MethodGet || method == http.MethodHead || method == http.MethodOptions {
			return PermViewReadings, true
		}
		return PermManageReadings, true
	}
	return "", false
}
