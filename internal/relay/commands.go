package relay

import (
	"context"
	"fmt"
	"strings"

	"github.com/luciancaetano/kephasrelay"
	"github.com/luciancaetano/kephasrelay/internal/protocol"
)

// CommandFunc executes one control verb for conn.
type CommandFunc func(ctx context.Context, msg protocol.Control, conn *Connection, server *Server) error

var commands = map[string]CommandFunc{
	kephasrelay.VerbSetUsername:    setUsername,
	kephasrelay.VerbGetOnlineUsers: getOnlineUsers,
}

// Run executes a control message received on conn. A command either completes
// or fails before touching any state.
func Run(ctx context.Context, msg protocol.Control, conn *Connection, server *Server) error {
	cmd, ok := commands[msg.Control]
	if !ok {
		return fmt.Errorf("%w: %s %q", protocol.ErrUnknownCommand, kephasrelay.ErrInvalidControl, msg.Control)
	}
	return cmd(ctx, msg, conn, server)
}

// setUsername renames conn. The registry entry is updated together with the
// connection so getonlineusers reports the new name.
func setUsername(ctx context.Context, msg protocol.Control, conn *Connection, server *Server) error {
	var name string
	if len(msg.Params) > 0 {
		name = strings.TrimSpace(msg.Params[0])
	}
	if name == "" {
		return fmt.Errorf("%w: %s", protocol.ErrValidation, kephasrelay.ErrEmptyUsername)
	}

	old, ok := conn.Username()
	if !ok {
		old = "none"
	}
	server.Log(fmt.Sprintf("command - setusername %s > %s", old, name))

	conn.setUsername(name)
	server.setUsername(conn.id, name)
	return nil
}

// getOnlineUsers replies to conn only.
func getOnlineUsers(ctx context.Context, msg protocol.Control, conn *Connection, server *Server) error {
	reply := protocol.NewServerControl(conn.secure, kephasrelay.VerbOnlineUsers, server.OnlineUsers()...)
	return conn.Send(ctx, reply)
}
