package ws

import (
	"net/http/httptest"
	"testing"
)

// TestAllowedOrigins tests the origin allow-list
func TestAllowedOrigins(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		allowed []string
		origin  string
		want    bool
	}{
		{name: "exact match", allowed: []string{"http://localhost:8080"}, origin: "http://localhost:8080", want: true},
		{name: "case insensitive", allowed: []string{"HTTP://LocalHost:8080"}, origin: "http://localhost:8080", want: true},
		{name: "other port", allowed: []string{"http://localhost:8080"}, origin: "http://localhost:9090", want: false},
		{name: "missing header", allowed: []string{"http://localhost:8080"}, origin: "", want: false},
		{name: "wildcard", allowed: []string{"*"}, origin: "https://example.com", want: true},
		{name: "invalid entry ignored", allowed: []string{"not an origin"}, origin: "http://example.com", want: false},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			r := httptest.NewRequest("GET", "/ws", nil)
			if tt.origin != "" {
				r.Header.Set("Origin", tt.origin)
			}
			if got := AllowedOrigins(tt.allowed...)(r); got != tt.want {
				t.Errorf("AllowedOrigins(%v)(%q) = %v, want %v", tt.allowed, tt.origin, got, tt.want)
			}
		})
	}
}

// TestNewTLSConfig tests that the TLS helper fills the key pair
func TestNewTLSConfig(t *testing.T) {
	t.Parallel()

	cfg := NewTLSConfig(":8443", "cert.pem", "key.pem", NoRateLimit(), AllOrigins(), nil, nil, nil)
	if !cfg.Secure() {
		t.Error("TLS config should be secure")
	}
	if NewConfig(":8080", nil, nil, nil, nil, nil).Secure() {
		t.Error("plain config should not be secure")
	}
}
