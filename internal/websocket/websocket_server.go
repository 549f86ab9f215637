package websocket

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/luciancaetano/kephasrelay"
)

const (
	// DefaultMaxMessageSize is the read limit applied when ServerConfig.MaxMessageSize is zero.
	DefaultMaxMessageSize int64 = 64 * 1024

	readTimeout = 60 * time.Second
)

// Subprotocols offered during the handshake, in server preference order.
var Subprotocols = []string{
	kephasrelay.SubprotocolPlaintext,
	kephasrelay.SubprotocolStructured,
	kephasrelay.SubprotocolJSON,
}

// CheckOriginFn is a function that validates the origin of a WebSocket connection request.
// It receives the HTTP request and returns true if the origin is allowed, false otherwise.
type CheckOriginFn = func(r *http.Request) bool

// OnConnectFn is a callback function that is called when a new client connects.
// It is called after the WebSocket handshake completes and before the message
// reading loop starts, so anything it sends reaches the client before any reply
// to the client's first frame.
//
// Note: This function is called synchronously during connection setup.
type OnConnectFn = func(client kephasrelay.Client)

// OnMessageFn is called from the client's read loop for every inbound text frame.
// Frames of one client are delivered one at a time, in arrival order.
type OnMessageFn = func(client kephasrelay.Client, data []byte)

// OnClientDisconnectFn is a callback type invoked when a connected client disconnects from the server.
// The function receives the disconnected client and a boolean that is true when the disconnect was
// initiated by the client (voluntary), and false for unexpected or server-initiated disconnects.
type OnClientDisconnectFn = func(client kephasrelay.Client, voluntary bool)

type ServerConfig struct {
	Addr string
	// CertFile and KeyFile switch the listener to TLS when both are set.
	CertFile           string
	KeyFile            string
	MaxMessageSize     int64
	RateLimitConfig    *RateLimitConfig
	CheckOrigin        CheckOriginFn
	OnConnect          OnConnectFn
	OnMessage          OnMessageFn
	OnClientDisconnect OnClientDisconnectFn
}

// Secure reports whether the config describes a TLS listener.
func (c *ServerConfig) Secure() bool {
	return c.CertFile != "" && c.KeyFile != ""
}

// RateLimitConfig defines rate limiting configuration for clients
type RateLimitConfig struct {
	// MessagesPerSecond defines how many messages a client can send per second
	MessagesPerSecond rate.Limit
	// Burst defines the maximum burst size (token bucket capacity)
	Burst int
	// Enabled determines if rate limiting is active
	Enabled bool
}

// DefaultRateLimitConfig returns the default rate limit configuration
// Allows 100 messages per second with burst of 200
func DefaultRateLimitConfig() *RateLimitConfig {
	return &RateLimitConfig{
		MessagesPerSecond: 100,
		Burst:             200,
		Enabled:           true,
	}
}

// NoRateLimit returns a configuration with rate limiting disabled
func NoRateLimit() *RateLimitConfig {
	return &RateLimitConfig{
		Enabled: false,
	}
}

// Server implements the WebsocketServer interface
type Server struct {
	addr     string
	certFile string
	keyFile  string
	server   *http.Server
	clients  sync.Map // map[string]*Client

	// Rate limiting configuration
	rateLimitConfig *RateLimitConfig
	maxMessageSize  int64

	mu           sync.RWMutex
	running      bool
	upgrader     websocket.Upgrader
	onConnect    OnConnectFn
	onMessage    OnMessageFn
	onDisconnect OnClientDisconnectFn
}

// New creates a new WebSocket server instance with the specified configuration.
//
// A nil RateLimitConfig means DefaultRateLimitConfig() and a zero MaxMessageSize
// means DefaultMaxMessageSize. The hooks are optional.
//
// The server uses the Gorilla WebSocket library with read/write buffer sizes of 1024 bytes
// and offers the relay subprotocols so clients can negotiate an encoding.
func New(cfg *ServerConfig) *Server {
	if cfg.RateLimitConfig == nil {
		cfg.RateLimitConfig = DefaultRateLimitConfig()
	}
	if cfg.MaxMessageSize <= 0 {
		cfg.MaxMessageSize = DefaultMaxMessageSize
	}
	return &Server{
		addr:            cfg.Addr,
		certFile:        cfg.CertFile,
		keyFile:         cfg.KeyFile,
		rateLimitConfig: cfg.RateLimitConfig,
		maxMessageSize:  cfg.MaxMessageSize,
		onConnect:       cfg.OnConnect,
		onMessage:       cfg.OnMessage,
		onDisconnect:    cfg.OnClientDisconnect,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			Subprotocols:    Subprotocols,
			CheckOrigin:     cfg.CheckOrigin,
		},
	}
}

// Secure reports whether the server listens with TLS.
func (s *Server) Secure() bool {
	return s.certFile != "" && s.keyFile != ""
}

// Handler returns the HTTP handler serving WebSocket upgrades on "/" and "/ws".
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleWebSocket)
	mux.HandleFunc("/ws", s.handleWebSocket)
	return mux
}

// Start starts the WebSocket server
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return errors.New(kephasrelay.ErrServerAlreadyRunning)
	}
	s.running = true
	s.server = &http.Server{
		Addr:    s.addr,
		Handler: s.Handler(),
	}
	srv := s.server
	s.mu.Unlock()

	errChan := make(chan error, 1)
	go func() {
		var err error
		if s.Secure() {
			err = srv.ListenAndServeTLS(s.certFile, s.keyFile)
		} else {
			err = srv.ListenAndServe()
		}
		if err != nil && err != http.ErrServerClosed {
			errChan <- err
		}
	}()

	// Check for immediate startup errors with a small timeout
	select {
	case err := <-errChan:
		// Reset running state without calling Stop to avoid deadlock
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
		return err
	case <-ctx.Done():
		stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.Stop(stopCtx)
	case <-time.After(100 * time.Millisecond):
		return nil
	}
}

// Stop stops the WebSocket server
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	srv := s.server
	s.mu.Unlock()

	// Close all client connections
	s.clients.Range(func(key, value interface{}) bool {
		if client, ok := value.(*Client); ok {
			client.CloseWithCode(ctx, websocket.CloseGoingAway, "server shutting down")
		}
		return true
	})

	if srv != nil {
		return srv.Shutdown(ctx)
	}
	return nil
}

// handleWebSocket handles incoming WebSocket connections
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written an HTTP error response
		return
	}

	client := NewClient(conn, r.RemoteAddr, s.Secure() || r.TLS != nil, s.rateLimitConfig)
	s.clients.Store(client.ID(), client)

	// Start reading messages from client
	go s.handleClient(client)
}

// handleClient handles messages from a connected client
func (s *Server) handleClient(client *Client) {
	defer func() {
		voluntary := client.Context().Err() == nil

		s.clients.Delete(client.ID())
		client.Close(context.Background())
		if s.onDisconnect != nil {
			s.onDisconnect(client, voluntary)
		}
	}()

	client.conn.SetReadLimit(s.maxMessageSize)

	// Set read deadline to prevent indefinite blocking
	client.conn.SetReadDeadline(time.Now().Add(readTimeout))

	// Set pong handler to reset read deadline on pong
	client.conn.SetPongHandler(func(string) error {
		client.conn.SetReadDeadline(time.Now().Add(readTimeout))
		return nil
	})

	if s.onConnect != nil {
		s.onConnect(client)
	}

	for {
		select {
		case <-client.Context().Done():
			return
		default:
			messageType, data, err := client.conn.ReadMessage()
			if err != nil {
				if errors.Is(err, websocket.ErrReadLimit) {
					client.CloseWithCode(context.Background(), websocket.CloseMessageTooBig, kephasrelay.ErrFrameTooLarge)
				} else if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
					fmt.Printf("Unexpected WebSocket close error: %v\n", err)
				}
				return
			}

			// Reset read deadline after successful read
			client.conn.SetReadDeadline(time.Now().Add(readTimeout))

			// Check rate limit before processing message
			if !client.CheckRateLimit(context.Background()) {
				fmt.Printf("Warn: Rate limit exceeded for client client_id=%s remote_addr=%s\n", client.ID(), client.RemoteAddr())
				client.CloseWithCode(context.Background(), websocket.ClosePolicyViolation, kephasrelay.ErrRateLimitExceeded)
				return
			}

			// Frames are text; binary frames are passed through as bytes and
			// rejected by the relay if they are not valid UTF-8.
			if messageType != websocket.TextMessage && messageType != websocket.BinaryMessage {
				continue
			}

			if s.onMessage != nil {
				s.onMessage(client, data)
			}
		}
	}
}

// GetClient returns a client by ID
func (s *Server) GetClient(id string) (*Client, bool) {
	if client, ok := s.clients.Load(id); ok {
		return client.(*Client), true
	}
	return nil, false
}

// Broadcast sends a text frame to all connected clients
func (s *Server) Broadcast(ctx context.Context, data []byte) error {
	s.clients.Range(func(key, value interface{}) bool {
		if client, ok := value.(*Client); ok {
			client.Send(ctx, data)
		}
		return true
	})
	return nil
}
