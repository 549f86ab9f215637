package protocol

import (
	"fmt"
	"strings"

	"github.com/luciancaetano/kephasrelay"
)

// MaxFrameSize is the largest inbound frame, in bytes, the codec accepts.
const MaxFrameSize = 64 * 1024

// Serialize encodes msg for a connection with the given mode and id.
func Serialize(msg Message, mode Mode, connectionID uint64) (string, error) {
	return msg.Serialize(mode, connectionID)
}

// Deserialize decodes one inbound frame. secure and author are stamped on the
// resulting message; they come from the connection, never from the frame.
//
// In plaintext mode a frame starting with the control sigil becomes a Control:
// the second whitespace separated token is the verb and the third is split on
// commas into params. Missing tokens decode as empty strings, so "@ verb" yields
// Params == []string{""}. Anything else is a Chat carrying the whole frame.
func Deserialize(mode Mode, raw string, secure bool, author string) (Message, error) {
	if len(raw) > MaxFrameSize {
		return nil, fmt.Errorf("%w: %s (%d > %d bytes)", ErrProtocol, kephasrelay.ErrFrameTooLarge, len(raw), MaxFrameSize)
	}

	switch mode {
	case ModePlaintext:
		if strings.HasPrefix(raw, kephasrelay.ServerControlSigil) {
			parts := strings.Fields(raw)
			verb := token(parts, 1)
			params := strings.Split(token(parts, 2), ",")
			return NewControl(secure, verb, params, author), nil
		}
		return NewChat(secure, raw, author), nil
	case ModeStructured:
		return nil, fmt.Errorf("%w: %s", ErrProtocol, kephasrelay.ErrStructuredDecode)
	default:
		return nil, fmt.Errorf("%w: %s %d", ErrProtocol, kephasrelay.ErrUnknownMode, int(mode))
	}
}

func token(parts []string, i int) string {
	if i < len(parts) {
		return parts[i]
	}
	return ""
}
