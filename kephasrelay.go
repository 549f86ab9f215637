package kephasrelay

import "context"

// WebsocketServer defines the interface for the WebSocket transport that carries relay frames.
//
// Frames are UTF-8 text. The server does not interpret them: every inbound frame is handed
// to the OnMessage hook configured at construction, in arrival order per client.
//
// Example usage:
//
//	import "github.com/luciancaetano/kephasrelay/ws"
//
//	gateway := relay.NewGateway(relay.NewServer(sink))
//	cfg := ws.NewConfig(":8080", ws.DefaultRateLimitConfig(), ws.AllOrigins(),
//	    gateway.OnConnect, gateway.OnMessage, gateway.OnDisconnect)
//	server := ws.New(cfg)
//
//	server.Start(ctx)
type WebsocketServer interface {
	// Start starts the WebSocket server and begins listening for connections.
	// The server will continue running until Stop is called or the context is cancelled.
	//
	// Returns an error if the server is already running or if there's a problem
	// binding to the network address or loading the TLS key pair.
	Start(ctx context.Context) error

	// Stop gracefully stops the WebSocket server and closes all client connections.
	Stop(ctx context.Context) error

	// Broadcast sends the same raw text frame to all connected clients.
	//
	// The frame is not encoded per connection. Relay messages, which depend on
	// each connection's mode, go through the relay registry instead.
	Broadcast(ctx context.Context, data []byte) error
}

// Client represents a connected WebSocket client.
//
// Each client has a unique identifier and maintains its own connection state.
// The client's context is automatically cancelled when the connection closes.
type Client interface {
	// ID returns a unique identifier for the connected client.
	//
	// The ID is a random UUID generated when the client connects. It is unrelated
	// to the numeric connection id assigned by the relay registry.
	ID() string

	// RemoteAddr returns the client's remote network address.
	//
	// This is typically in the format "IP:port", for example "192.168.1.100:54321".
	RemoteAddr() string

	// Secure reports whether the client connected through the TLS listener.
	Secure() bool

	// Subprotocol returns the WebSocket subprotocol negotiated during the handshake,
	// or an empty string if the client did not request a supported one.
	Subprotocol() string

	// Context returns the client's lifecycle context.
	//
	// This context is automatically cancelled when the connection closes.
	Context() context.Context

	// Send queues a text frame for delivery to the client.
	//
	// The send operation is non-blocking. Returns an error if the connection is
	// closed, the outbound queue is full or the context is cancelled.
	Send(ctx context.Context, data []byte) error

	// Close closes the client connection gracefully.
	//
	// This is equivalent to calling CloseWithCode with websocket.CloseNormalClosure.
	Close(ctx context.Context) error

	// CloseWithCode closes the connection with a specific WebSocket close code and optional reason.
	//
	// Common close codes:
	//   - 1000 (websocket.CloseNormalClosure): Normal closure
	//   - 1001 (websocket.CloseGoingAway): Endpoint going away
	//   - 1008 (websocket.ClosePolicyViolation): Rate limit exceeded
	//   - 1009 (websocket.CloseMessageTooBig): Frame larger than the read limit
	CloseWithCode(ctx context.Context, code int, reason string) error

	// IsAlive returns true if the connection is still active.
	IsAlive() bool
}
