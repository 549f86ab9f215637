package protocol

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/luciancaetano/kephasrelay"
)

// Mode is the wire encoding negotiated for a connection.
type Mode int

const (
	ModePlaintext Mode = iota
	ModeStructured
)

// String returns the string representation of Mode
func (m Mode) String() string {
	switch m {
	case ModePlaintext:
		return "plaintext"
	case ModeStructured:
		return "structured"
	default:
		return "unknown"
	}
}

// Message is either a Chat or a Control. The set of implementations is closed.
type Message interface {
	// Serialize encodes the message for a connection using the given mode.
	// connectionID only feeds the placeholder author when none is set.
	Serialize(mode Mode, connectionID uint64) (string, error)

	isMessage()
}

// DisplayName returns author, or the placeholder derived from connectionID when author is empty.
func DisplayName(author string, connectionID uint64) string {
	if author != "" {
		return author
	}
	return "unknown(" + strconv.FormatUint(connectionID, 10) + ")"
}

// Chat is a user message fanned out to the other connections.
type Chat struct {
	Author  string
	Secure  bool
	Payload string
}

// NewChat returns a Chat message.
func NewChat(secure bool, payload, author string) Chat {
	return Chat{Author: author, Secure: secure, Payload: payload}
}

type chatRecord struct {
	Author  string `json:"author"`
	Secure  bool   `json:"secure"`
	Payload string `json:"payload"`
}

// Serialize renders the chat as "<flag> <author> : <payload>" in plaintext mode
// or as an {author, secure, payload} JSON object in structured mode.
func (c Chat) Serialize(mode Mode, connectionID uint64) (string, error) {
	author := DisplayName(c.Author, connectionID)
	switch mode {
	case ModePlaintext:
		flag := kephasrelay.InsecureTextFlag
		if c.Secure {
			flag = kephasrelay.SecureTextFlag
		}
		return flag + " " + author + " : " + c.Payload, nil
	case ModeStructured:
		return marshalRecord(chatRecord{Author: author, Secure: c.Secure, Payload: c.Payload})
	default:
		return "", fmt.Errorf("%w: %s %d", ErrProtocol, kephasrelay.ErrUnknownMode, int(mode))
	}
}

func (Chat) isMessage() {}

// Control is a command envelope: a verb plus ordered parameters.
// An empty Author means the author is unset.
type Control struct {
	Author      string
	Control     string
	Params      []string
	Secure      bool
	Idempotency *int64
}

// NewControl returns a Control message.
func NewControl(secure bool, control string, params []string, author string) Control {
	return Control{Author: author, Control: control, Params: params, Secure: secure}
}

// NewServerControl returns a Control message authored by the relay itself.
func NewServerControl(secure bool, control string, params ...string) Control {
	if params == nil {
		params = []string{}
	}
	return NewControl(secure, control, params, kephasrelay.ServerAuthor)
}

type controlRecord struct {
	Control string   `json:"control"`
	Params  []string `json:"params"`
	Author  string   `json:"author"`
}

// Serialize renders the control as "@ <author> <verb> <params joined by ,>" in
// plaintext mode or as a {control, params, author} JSON object in structured mode.
func (c Control) Serialize(mode Mode, connectionID uint64) (string, error) {
	author := DisplayName(c.Author, connectionID)
	switch mode {
	case ModePlaintext:
		return kephasrelay.ServerControlSigil + " " + author + " " + c.Control + " " + strings.Join(c.Params, ","), nil
	case ModeStructured:
		params := c.Params
		if params == nil {
			params = []string{}
		}
		return marshalRecord(controlRecord{Control: c.Control, Params: params, Author: author})
	default:
		return "", fmt.Errorf("%w: %s %d", ErrProtocol, kephasrelay.ErrUnknownMode, int(mode))
	}
}

func (Control) isMessage() {}

func marshalRecord(v any) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("%w: failed to encode record: %v", ErrProtocol, err)
	}
	return string(data), nil
}
