package relay

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/luciancaetano/kephasrelay"
	"github.com/luciancaetano/kephasrelay/internal/protocol"
)

// Connection is one client session in the registry.
//
// server is a non-owning back-reference: the Server owns the Connection
// through its registry map.
type Connection struct {
	id     uint64
	secure bool
	mode   protocol.Mode
	socket Socket
	server *Server

	mu       sync.RWMutex
	username string
}

// ID returns the connection id assigned by the registry.
func (c *Connection) ID() uint64 {
	return c.id
}

// Secure reports whether the connection came in over TLS.
func (c *Connection) Secure() bool {
	return c.secure
}

// Mode returns the wire encoding of the connection.
func (c *Connection) Mode() protocol.Mode {
	return c.mode
}

// Username returns the name chosen with setusername, if any.
func (c *Connection) Username() (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.username, c.username != ""
}

// DisplayName returns the username or the connection placeholder.
func (c *Connection) DisplayName() string {
	name, _ := c.Username()
	return protocol.DisplayName(name, c.id)
}

func (c *Connection) setUsername(name string) {
	c.mu.Lock()
	c.username = name
	c.mu.Unlock()
}

// HandleInbound processes one frame received from the client. Failures are
// reported back to the client as an error control; if that report cannot be
// delivered it is dropped.
func (c *Connection) HandleInbound(ctx context.Context, raw []byte) {
	err := c.handle(ctx, raw)
	if err == nil {
		return
	}

	c.server.Log(fmt.Sprintf("error - %d %v", c.id, err))
	report := protocol.NewServerControl(c.secure, kephasrelay.VerbError, err.Error())
	if sendErr := c.Send(ctx, report); sendErr != nil {
		c.server.Log(fmt.Sprintf("error report dropped - %d %v", c.id, sendErr))
	}
}

func (c *Connection) handle(ctx context.Context, raw []byte) error {
	if !utf8.Valid(raw) {
		return fmt.Errorf("%w: %s", protocol.ErrProtocol, kephasrelay.ErrInvalidUTF8)
	}

	msg, err := protocol.Deserialize(c.mode, string(raw), c.secure, c.DisplayName())
	if err != nil {
		return err
	}

	switch m := msg.(type) {
	case protocol.Chat:
		line, err := m.Serialize(protocol.ModePlaintext, c.id)
		if err != nil {
			return err
		}
		c.server.Log("chat - " + line)
		c.server.BroadcastExcept(ctx, m, c.id)
		return nil
	case protocol.Control:
		c.server.Log(fmt.Sprintf("control - secure=%t author=%s verb=%s params=%s",
			m.Secure, protocol.DisplayName(m.Author, c.id), m.Control, strings.Join(m.Params, ",")))
		return Run(ctx, m, c, c.server)
	default:
		return fmt.Errorf("%w: unexpected message %T", protocol.ErrProtocol, msg)
	}
}

// Send encodes msg for this connection and hands it to the transport.
// Transport errors are returned as is; nothing is retried.
func (c *Connection) Send(ctx context.Context, msg protocol.Message) error {
	text, err := protocol.Serialize(msg, c.mode, c.id)
	if err != nil {
		return err
	}
	c.server.Log(fmt.Sprintf("send - %d %s", c.id, text))
	return c.socket.Send(ctx, []byte(text))
}
