package relay

import (
	"context"
	"sync"

	"github.com/luciancaetano/kephasrelay"
	"github.com/luciancaetano/kephasrelay/internal/protocol"
)

// Gateway binds transport clients to relay connections. Its methods match the
// transport's connect, message and disconnect hooks.
type Gateway struct {
	server   *Server
	sessions sync.Map // map[string]*Connection, keyed by transport client ID
}

// NewGateway returns a Gateway feeding server.
func NewGateway(server *Server) *Gateway {
	return &Gateway{server: server}
}

// Server returns the registry behind the gateway.
func (g *Gateway) Server() *Server {
	return g.server
}

// ModeFor maps a negotiated WebSocket subprotocol to a connection mode.
func ModeFor(subprotocol string) protocol.Mode {
	switch subprotocol {
	case kephasrelay.SubprotocolStructured, kephasrelay.SubprotocolJSON:
		return protocol.ModeStructured
	default:
		return protocol.ModePlaintext
	}
}

// OnConnect registers client with the relay.
func (g *Gateway) OnConnect(client kephasrelay.Client) {
	conn, err := g.server.Accept(client.Context(), client, client.Secure(), ModeFor(client.Subprotocol()))
	g.sessions.Store(client.ID(), conn)
	if err != nil {
		g.server.Log("greeting failed - " + client.ID() + " " + err.Error())
	}
}

// OnMessage hands one inbound frame to the client's connection.
func (g *Gateway) OnMessage(client kephasrelay.Client, data []byte) {
	conn, ok := g.connection(client)
	if !ok {
		return
	}
	conn.HandleInbound(client.Context(), data)
}

// OnDisconnect releases the client's connection.
func (g *Gateway) OnDisconnect(client kephasrelay.Client, voluntary bool) {
	value, ok := g.sessions.LoadAndDelete(client.ID())
	if !ok {
		return
	}
	g.server.Release(context.Background(), value.(*Connection))
}

func (g *Gateway) connection(client kephasrelay.Client) (*Connection, bool) {
	value, ok := g.sessions.Load(client.ID())
	if !ok {
		return nil, false
	}
	return value.(*Connection), true
}
