package utils

import (
	"net/http/httptest"
	"testing"
)

func TestGetIPAddress(t *testing.T) {
	testCases := []struct {
		name     string
		headers  map[string]string
		remote   string
		expected string
	}{
		{"RemoteAddr only", nil, "8.8.8.8:12345", "8.8.8.8"},
		{"IPv6 RemoteAddr", nil, "[::1]:12345", "::1"},
		{"Unparseable RemoteAddr", nil, "not-an-ip", "not-an-ip"},
		{"X-Real-IP", map[string]string{"X-Real-IP": "10.0.0.5"}, "8.8.8.8:1", "10.0.0.5"},
		{"X-Forwarded-For first hop", map[string]string{"X-Forwarded-For": "1.2.3.4, 10.0.0.1"}, "8.8.8.8:1", "1.2.3.4"},
		{"Cloudflare wins", map[string]string{"CF-Connecting-IP": "9.9.9.9", "X-Real-IP": "10.0.0.5"}, "8.8.8.8:1", "9.9.9.9"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/", nil)
			req.RemoteAddr = tc.remote
			for k, v := range tc.headers {
				req.Header.Set(k, v)
			}
			if got := GetIPAddress(req); got != tc.expected {
				t.Errorf("Expected IP '%s', but got '%s'", tc.expected, got)
			}
		})
	}
}

func TestAdminCredential(t *testing.T) {
	req := httptest.NewRequest("DELETE", "/api/threads/1?admin_key=from-query", nil)
	if got := AdminCredential(req); got != "from-query" {
		t.Errorf("Expected query credential, got '%s'", got)
	}
	req.Header.Set("X-Admin-Key", "from-header")
	if got := AdminCredential(req); got != "from-header" {
		t.Errorf("Expected header credential to take precedence, got '%s'", got)
	}
}

func TestAdminGate(t *testing.T) {
	hash, err := HashAdminKey("hunter2")
	if err != nil {
		t.Fatalf("HashAdminKey failed: %v", err)
	}

	testCases := []struct {
		name    string
		gate    *AdminGate
		cred    string
		enabled bool
		allowed bool
	}{
		{"Plain key match", NewAdminGate("secret", ""), "secret", true, true},
		{"Plain key mismatch", NewAdminGate("secret", ""), "secreT", true, false},
		{"Plain key prefix", NewAdminGate("secret", ""), "sec", true, false},
		{"Empty credential", NewAdminGate("secret", ""), "", true, false},
		{"Hash match", NewAdminGate("", hash), "hunter2", true, true},
		{"Hash mismatch", NewAdminGate("", hash), "hunter3", true, false},
		{"Hash wins over key", NewAdminGate("secret", hash), "secret", true, false},
		{"Nothing configured", NewAdminGate("", ""), "anything", false, false},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if tc.gate.Enabled() != tc.enabled {
				t.Errorf("Expected Enabled() = %v", tc.enabled)
			}
			if got := tc.gate.Verify(tc.cred); got != tc.allowed {
				t.Errorf("Expected Verify(%q) = %v, got %v", tc.cred, tc.allowed, got)
			}
		})
	}
}

func TestGetEnvList(t *testing.T) {
	t.Setenv("CRISPY_TEST_LIST", " a, ,b ,c")
	got := GetEnvList("CRISPY_TEST_LIST", nil)
	if len(got) != 3 || got[0] != "a" || got[1] != "b" || got[2] != "c" {
		t.Errorf("Unexpected list: %#v", got)
	}
	t.Setenv("CRISPY_TEST_LIST", " , ")
	if got := GetEnvList("CRISPY_TEST_LIST", []string{"*"}); len(got) != 1 || got[0] != "*" {
		t.Errorf("Expected fallback for blank list, got %#v", got)
	}
}
