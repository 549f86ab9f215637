package ws

import (
	"log"
	"net/http"
	"net/url"
	"strings"

	"github.com/luciancaetano/kephasrelay"
	"github.com/luciancaetano/kephasrelay/internal/websocket"
)

type RateLimitConfig = websocket.RateLimitConfig
type CheckOriginFn = websocket.CheckOriginFn
type OnConnectFn = websocket.OnConnectFn
type OnMessageFn = websocket.OnMessageFn
type OnDisconnectFn = websocket.OnClientDisconnectFn
type ServerConfig = *websocket.ServerConfig

// New creates a new WebSocket server from cfg.
//
// Example:
//
//	gateway := relay.NewGateway(relay.NewServer(sink))
//	server := ws.New(ws.NewConfig(":8080", ws.DefaultRateLimitConfig(), ws.AllOrigins(),
//	    gateway.OnConnect, gateway.OnMessage, gateway.OnDisconnect))
func New(cfg ServerConfig) kephasrelay.WebsocketServer {
	return websocket.New(cfg)
}

// NewConfig returns a plain (non-TLS) listener configuration.
//
// Parameters:
//   - addr: The server address (e.g., ":8080" or "localhost:8080")
//   - rateLimitConfig: Rate limiting configuration. Use DefaultRateLimitConfig() or NoRateLimit()
//   - checkOrigin: Function to validate WebSocket origins. Use AllOrigins() to allow all (dev only)
//   - onConnect, onMessage, onDisconnect: Optional hooks, may be nil
func NewConfig(addr string, rateLimitConfig *RateLimitConfig, checkOrigin CheckOriginFn, onConnect OnConnectFn, onMessage OnMessageFn, onDisconnect OnDisconnectFn) ServerConfig {
	return &websocket.ServerConfig{
		Addr:               addr,
		RateLimitConfig:    rateLimitConfig,
		CheckOrigin:        checkOrigin,
		OnConnect:          onConnect,
		OnMessage:          onMessage,
		OnClientDisconnect: onDisconnect,
	}
}

// NewTLSConfig is NewConfig for a TLS listener using the given key pair files.
func NewTLSConfig(addr, certFile, keyFile string, rateLimitConfig *RateLimitConfig, checkOrigin CheckOriginFn, onConnect OnConnectFn, onMessage OnMessageFn, onDisconnect OnDisconnectFn) ServerConfig {
	cfg := NewConfig(addr, rateLimitConfig, checkOrigin, onConnect, onMessage, onDisconnect)
	cfg.CertFile = certFile
	cfg.KeyFile = keyFile
	return cfg
}

// AllOrigins returns the default checkOrigin function that allows all origins
func AllOrigins() CheckOriginFn {
	return func(r *http.Request) bool {
		return true
	}
}

// AllowedOrigins returns a checkOrigin function accepting only the listed
// origins. Entries are compared on lower-cased scheme://host; "*" allows any
// origin and invalid entries are ignored.
func AllowedOrigins(origins ...string) CheckOriginFn {
	allowed := make(map[string]struct{}, len(origins))
	allowAll := false
	for _, origin := range origins {
		trimmed := strings.TrimSpace(origin)
		if trimmed == "" {
			continue
		}
		if trimmed == "*" {
			allowAll = true
			continue
		}
		normalized, ok := normalizeOrigin(trimmed)
		if !ok {
			log.Printf("Ignoring invalid origin in configuration: %q", origin)
			continue
		}
		allowed[normalized] = struct{}{}
	}

	return func(r *http.Request) bool {
		if allowAll {
			return true
		}
		normalized, ok := normalizeOrigin(r.Header.Get("Origin"))
		if !ok {
			return false
		}
		if _, exists := allowed[normalized]; exists {
			return true
		}
		log.Printf("Blocked WebSocket connection from disallowed origin: %q", r.Header.Get("Origin"))
		return false
	}
}

func normalizeOrigin(origin string) (string, bool) {
	parsed, err := url.Parse(origin)
	if err != nil {
		return "", false
	}

	if parsed.Scheme == "" || parsed.Host == "" {
		return "", false
	}

	return strings.ToLower(parsed.Scheme) + "://" + strings.ToLower(parsed.Host), true
}

// DefaultRateLimitConfig returns the default rate limit configuration
func DefaultRateLimitConfig() *RateLimitConfig {
	return websocket.DefaultRateLimitConfig()
}

// NoRateLimit returns a configuration with rate limiting disabled
func NoRateLimit() *RateLimitConfig {
	return websocket.NoRateLimit()
}
