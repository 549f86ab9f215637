// Package relay holds the relay core: the connection registry, per-connection
// frame handling and the control command interpreter.
package relay

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/luciancaetano/kephasrelay"
	"github.com/luciancaetano/kephasrelay/internal/protocol"
)

// Logger receives one line per protocol event.
type Logger interface {
	Log(line string)
}

// LoggerFunc adapts a function to Logger.
type LoggerFunc func(line string)

func (f LoggerFunc) Log(line string) { f(line) }

// Socket is the transport side of a connection.
type Socket interface {
	Send(ctx context.Context, data []byte) error
}

// Server is the registry of live connections and their display names.
//
// usernames is the authoritative online list; it holds a placeholder for
// connections that never set a name.
type Server struct {
	mu          sync.RWMutex
	nextID      uint64
	connections map[uint64]*Connection
	usernames   map[uint64]string
	logger      Logger
}

// NewServer creates an empty registry. A nil logger discards log lines.
func NewServer(logger Logger) *Server {
	if logger == nil {
		logger = LoggerFunc(func(string) {})
	}
	return &Server{
		connections: make(map[uint64]*Connection),
		usernames:   make(map[uint64]string),
		logger:      logger,
	}
}

// Accept greets a new connection on socket with a ready status, then registers
// it. The greeting goes out before the connection is visible to broadcasts, so
// it is always the first frame the client sees. The connection is registered
// even if the greeting cannot be sent; the returned error is the send failure.
func (s *Server) Accept(ctx context.Context, socket Socket, secure bool, mode protocol.Mode) (*Connection, error) {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.mu.Unlock()

	conn := &Connection{
		id:     id,
		secure: secure,
		mode:   mode,
		socket: socket,
		server: s,
	}

	if secure {
		s.Log(fmt.Sprintf("secure ws server accepting connection %d mode %s", id, mode))
	} else {
		s.Log(fmt.Sprintf("insecure ws server accepting connection %d mode %s", id, mode))
	}

	ready := protocol.NewServerControl(secure, kephasrelay.VerbStatus, kephasrelay.StatusReady)
	err := conn.Send(ctx, ready)

	s.mu.Lock()
	s.connections[id] = conn
	s.usernames[id] = protocol.DisplayName("", id)
	s.mu.Unlock()

	return conn, err
}

// Release unregisters conn and tells everyone else it left. Releasing a
// connection more than once, concurrently or not, is a no-op after the first call.
func (s *Server) Release(ctx context.Context, conn *Connection) {
	// The usernames entry is the release claim: only the caller that removes it
	// goes on to broadcast and unregister.
	s.mu.Lock()
	_, registered := s.connections[conn.id]
	_, live := s.usernames[conn.id]
	if !registered || !live {
		s.mu.Unlock()
		return
	}
	delete(s.usernames, conn.id)
	s.mu.Unlock()

	name := conn.DisplayName()
	leave := protocol.NewServerControl(conn.secure, kephasrelay.VerbUserLeave, name)
	s.BroadcastExcept(ctx, leave, conn.id)

	s.mu.Lock()
	delete(s.connections, conn.id)
	s.mu.Unlock()

	s.Log(fmt.Sprintf("connection %d closed - %s", conn.id, name))
}

// Broadcast sends msg to every registered connection, encoded per connection.
func (s *Server) Broadcast(ctx context.Context, msg protocol.Message) {
	s.fanOut(ctx, msg, func(*Connection) bool { return true })
}

// BroadcastExcept sends msg to every registered connection but excludedID.
func (s *Server) BroadcastExcept(ctx context.Context, msg protocol.Message, excludedID uint64) {
	s.fanOut(ctx, msg, func(c *Connection) bool { return c.id != excludedID })
}

func (s *Server) fanOut(ctx context.Context, msg protocol.Message, include func(*Connection) bool) {
	for _, conn := range s.snapshot() {
		if !include(conn) {
			continue
		}
		if err := conn.Send(ctx, msg); err != nil {
			s.Log(fmt.Sprintf("send failed - %d %v", conn.id, err))
		}
	}
}

// snapshot returns the registered connections ordered by id.
func (s *Server) snapshot() []*Connection {
	s.mu.RLock()
	conns := make([]*Connection, 0, len(s.connections))
	for _, conn := range s.connections {
		conns = append(conns, conn)
	}
	s.mu.RUnlock()

	sort.Slice(conns, func(i, j int) bool { return conns[i].id < conns[j].id })
	return conns
}

// OnlineUsers returns the registered display names ordered by connection id.
func (s *Server) OnlineUsers() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]uint64, 0, len(s.usernames))
	for id := range s.usernames {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	names := make([]string, 0, len(ids))
	for _, id := range ids {
		names = append(names, s.usernames[id])
	}
	return names
}

// Connection returns the registered connection with the given id.
func (s *Server) Connection(id uint64) (*Connection, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	conn, ok := s.connections[id]
	return conn, ok
}

// Len returns the number of registered connections.
func (s *Server) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.connections)
}

// Log forwards line to the configured Logger.
func (s *Server) Log(line string) {
	s.logger.Log(line)
}

func (s *Server) setUsername(id uint64, name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.usernames[id]; ok {
		s.usernames[id] = name
	}
}
