package protocol

import "errors"

// Error kinds raised while decoding frames or running control commands.
// Call sites wrap them with detail; callers test with errors.Is.
var (
	// ErrProtocol is a malformed or unsupported frame.
	ErrProtocol = errors.New("protocol error")
	// ErrValidation is a control argument that fails a precondition.
	ErrValidation = errors.New("validation error")
	// ErrUnknownCommand is an unrecognized control verb.
	ErrUnknownCommand = errors.New("unknown command")
)
