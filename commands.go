package kephasrelay

// Plaintext wire tokens.
const (
	// ServerControlSigil prefixes control frames in plaintext mode.
	ServerControlSigil = "@"
	// PublicControlSigil is reserved for user-to-user control frames. Nothing parses it yet.
	PublicControlSigil = "&"

	SecureTextFlag   = "[S]"
	InsecureTextFlag = "[I]"
)

// ServerAuthor is the author of every message the relay itself originates.
const ServerAuthor = "[SERVER]"

// Control verbs sent by clients.
const (
	VerbSetUsername    = "setusername"
	VerbGetOnlineUsers = "getonlineusers"
)

// Control verbs sent by the server.
const (
	VerbStatus      = "status"
	VerbUserLeave   = "userleave"
	VerbError       = "error"
	VerbOnlineUsers = "onlineusers"

	StatusReady    = "ready"
	StatusShutdown = "shutdown"
)

// WebSocket subprotocols used for mode negotiation.
const (
	SubprotocolPlaintext  = "kephasrelay.plaintext"
	SubprotocolStructured = "kephasrelay.structured"
	// SubprotocolJSON is accepted as an alias of SubprotocolStructured.
	SubprotocolJSON = "json"
)

// Standard error messages
const (
	// Protocol errors
	ErrStructuredDecode = "structured decoding is not implemented"
	ErrFrameTooLarge    = "frame exceeds maximum size"
	ErrInvalidUTF8      = "frame is not valid UTF-8"
	ErrUnknownMode      = "unknown connection mode"
	ErrEmptyUsername    = "username must be at least one character"
	ErrInvalidControl   = "invalid control"

	// Connection errors
	ErrConnectionClosed     = "client connection is closed"
	ErrContextCancelled     = "client context cancelled"
	ErrSendQueueFull        = "client send queue is full"
	ErrServerAlreadyRunning = "server already running"
	ErrRateLimitExceeded    = "Rate limit exceeded"
)
