package utils

import (
	"crypto/subtle"
	"net"
	"net/http"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

// GetIPAddress extracts the real IP address from a request, trusting proxy headers.
func GetIPAddress(r *http.Request) string {
	if cf := r.Header.Get("CF-Connecting-IP"); cf != "" {
		return cf
	}
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		parts := strings.Split(xff, ",")
		return strings.TrimSpace(parts[0])
	}
	if ip := r.Header.Get("X-Real-IP"); ip != "" {
		return ip
	}
	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return ip
}

// AdminCredential returns the credential presented by the request, from the
// X-Admin-Key header or the admin_key query parameter.
func AdminCredential(r *http.Request) string {
	if key := r.Header.Get("X-Admin-Key"); key != "" {
		return key
	}
	return r.URL.Query().Get("admin_key")
}

// AdminGate is the shared secret guarding moderation routes. With neither a key nor a
// hash configured every credential is rejected.
type AdminGate struct {
	key  []byte
	hash []byte
}

// NewAdminGate builds a gate from a plain key or a bcrypt hash. The hash wins when both are set.
func NewAdminGate(key, hash string) *AdminGate {
	g := &AdminGate{}
	if hash != "" {
		g.hash = []byte(hash)
	} else if key != "" {
		g.key = []byte(key)
	}
	return g
}

// HashAdminKey produces the value expected in admin_key_hash.
func HashAdminKey(key string) (string, error) {
	h, err := bcrypt.GenerateFromPassword([]byte(key), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(h), nil
}

func (g *AdminGate) Enabled() bool {
	return len(g.key) > 0 || len(g.hash) > 0
}

// Verify reports whether cred matches the configured secret.
func (g *AdminGate) Verify(cred string) bool {
	if cred == "" {
		return false
	}
	switch {
	case len(g.hash) > 0:
		return bcrypt.CompareHashAndPassword(g.hash, []byte(cred)) == nil
	case len(g.key) > 0:
		return subtle.ConstantTimeCompare(g.key, []byte(cred)) == 1
	default:
		return false
	}
}
