package relay

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"sync"
	"testing"

	"github.com/luciancaetano/kephasrelay/internal/protocol"
)

const ready = "@ [SERVER] status ready"

// fakeSocket records frames handed to the transport.
type fakeSocket struct {
	mu     sync.Mutex
	frames []string
	err    error
}

func (f *fakeSocket) Send(ctx context.Context, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.frames = append(f.frames, string(data))
	return nil
}

func (f *fakeSocket) Frames() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.frames...)
}

// after returns the frames received after the ready greeting.
func (f *fakeSocket) after() []string {
	frames := f.Frames()
	if len(frames) > 0 && frames[0] == ready {
		return frames[1:]
	}
	return frames
}

func (f *fakeSocket) reset() {
	f.mu.Lock()
	f.frames = nil
	f.mu.Unlock()
}

func (f *fakeSocket) fail(err error) {
	f.mu.Lock()
	f.err = err
	f.mu.Unlock()
}

// recorder collects log lines.
type recorder struct {
	mu    sync.Mutex
	lines []string
}

func (r *recorder) Log(line string) {
	r.mu.Lock()
	r.lines = append(r.lines, line)
	r.mu.Unlock()
}

func (r *recorder) has(prefix string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, line := range r.lines {
		if strings.HasPrefix(line, prefix) {
			return true
		}
	}
	return false
}

type peer struct {
	conn   *Connection
	socket *fakeSocket
}

// accept registers n plaintext insecure connections.
func accept(t *testing.T, s *Server, n int) []peer {
	t.Helper()

	peers := make([]peer, 0, n)
	for i := 0; i < n; i++ {
		socket := &fakeSocket{}
		conn, err := s.Accept(context.Background(), socket, false, protocol.ModePlaintext)
		if err != nil {
			t.Fatalf("Accept() error = %v", err)
		}
		peers = append(peers, peer{conn: conn, socket: socket})
	}
	return peers
}

// TestAcceptGreetsAndRegisters tests the accept lifecycle hook
func TestAcceptGreetsAndRegisters(t *testing.T) {
	t.Parallel()

	logs := &recorder{}
	s := NewServer(logs)
	peers := accept(t, s, 1)

	if got := peers[0].socket.Frames(); !reflect.DeepEqual(got, []string{ready}) {
		t.Errorf("frames = %q, want only the ready status", got)
	}
	if peers[0].conn.ID() != 0 {
		t.Errorf("first id = %d, want 0", peers[0].conn.ID())
	}
	if _, ok := s.Connection(0); !ok {
		t.Error("connection 0 should be registered")
	}
	if got := s.OnlineUsers(); !reflect.DeepEqual(got, []string{"unknown(0)"}) {
		t.Errorf("OnlineUsers() = %q, want placeholder", got)
	}
	if !logs.has("insecure ws server accepting connection 0") {
		t.Error("accept should be logged")
	}
	if _, ok := peers[0].conn.Username(); ok {
		t.Error("new connection should have no username")
	}
}

// TestAcceptSecureGreeting tests that the secure flag and mode are kept
func TestAcceptSecureGreeting(t *testing.T) {
	t.Parallel()

	s := NewServer(nil)
	socket := &fakeSocket{}
	conn, err := s.Accept(context.Background(), socket, true, protocol.ModeStructured)
	if err != nil {
		t.Fatalf("Accept() error = %v", err)
	}

	if !conn.Secure() || conn.Mode() != protocol.ModeStructured {
		t.Errorf("Secure() = %v Mode() = %v", conn.Secure(), conn.Mode())
	}
	want := `{"control":"status","params":["ready"],"author":"[SERVER]"}`
	if got := socket.Frames(); len(got) != 1 || got[0] != want {
		t.Errorf("frames = %q, want %q", got, want)
	}
}

// TestAcceptGreetingFailure tests that a failed greeting still registers
func TestAcceptGreetingFailure(t *testing.T) {
	t.Parallel()

	s := NewServer(nil)
	socket := &fakeSocket{err: errors.New("broken pipe")}
	conn, err := s.Accept(context.Background(), socket, false, protocol.ModePlaintext)
	if err == nil {
		t.Fatal("Accept() should return the greeting error")
	}
	if conn == nil || s.Len() != 1 {
		t.Error("connection should stay registered")
	}
}

// TestAcceptGreetingComesFirst tests that a chat racing the accept never
// reaches the new connection ahead of its ready status
func TestAcceptGreetingComesFirst(t *testing.T) {
	t.Parallel()

	var first *Connection
	fired := false
	s := NewServer(LoggerFunc(func(line string) {
		if fired || first == nil || !strings.HasPrefix(line, "insecure ws server accepting connection 1") {
			return
		}
		fired = true
		first.HandleInbound(context.Background(), []byte("hi"))
	}))

	conn, err := s.Accept(context.Background(), &fakeSocket{}, false, protocol.ModePlaintext)
	if err != nil {
		t.Fatalf("Accept() error = %v", err)
	}
	first = conn

	socket := &fakeSocket{}
	if _, err := s.Accept(context.Background(), socket, false, protocol.ModePlaintext); err != nil {
		t.Fatalf("Accept() error = %v", err)
	}

	if !fired {
		t.Fatal("chat was not sent during accept")
	}
	frames := socket.Frames()
	if len(frames) == 0 || frames[0] != ready {
		t.Errorf("frames = %q, want the ready status first", frames)
	}
	for _, frame := range frames {
		if frame == "[I] unknown(0) : hi" {
			t.Errorf("chat sent before registration reached the new connection: %q", frames)
		}
	}
}

// TestIDsAreNeverReused tests the monotonic counter
func TestIDsAreNeverReused(t *testing.T) {
	t.Parallel()

	s := NewServer(nil)
	peers := accept(t, s, 3)
	s.Release(context.Background(), peers[2].conn)

	next := accept(t, s, 1)[0]
	if next.conn.ID() != 3 {
		t.Errorf("id after release = %d, want 3", next.conn.ID())
	}
}

// TestChatBroadcastExcludesSender tests chat fan-out
func TestChatBroadcastExcludesSender(t *testing.T) {
	t.Parallel()

	logs := &recorder{}
	s := NewServer(logs)
	peers := accept(t, s, 3)
	s.Release(context.Background(), peers[0].conn)
	one, two := peers[1], peers[2]
	one.socket.reset()
	two.socket.reset()

	one.conn.HandleInbound(context.Background(), []byte("hi"))

	if got := two.socket.Frames(); !reflect.DeepEqual(got, []string{"[I] unknown(1) : hi"}) {
		t.Errorf("receiver frames = %q", got)
	}
	if got := one.socket.Frames(); len(got) != 0 {
		t.Errorf("sender frames = %q, want none", got)
	}
	if !logs.has("chat - [I] unknown(1) : hi") {
		t.Error("chat should be logged")
	}
}

// TestBroadcastEncodesPerConnection tests heterogeneous fan-out
func TestBroadcastEncodesPerConnection(t *testing.T) {
	t.Parallel()

	s := NewServer(nil)
	plain := &fakeSocket{}
	structured := &fakeSocket{}
	if _, err := s.Accept(context.Background(), plain, false, protocol.ModePlaintext); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Accept(context.Background(), structured, false, protocol.ModeStructured); err != nil {
		t.Fatal(err)
	}

	s.Broadcast(context.Background(), protocol.NewChat(true, "hello", "alice"))

	if got := plain.Frames()[1]; got != "[S] alice : hello" {
		t.Errorf("plaintext frame = %q", got)
	}
	if got := structured.Frames()[1]; got != `{"author":"alice","secure":true,"payload":"hello"}` {
		t.Errorf("structured frame = %q", got)
	}
}

// TestBroadcastSkipsFailedSends tests best-effort fan-out
func TestBroadcastSkipsFailedSends(t *testing.T) {
	t.Parallel()

	logs := &recorder{}
	s := NewServer(logs)
	peers := accept(t, s, 3)
	peers[1].socket.fail(errors.New("closed"))

	s.Broadcast(context.Background(), protocol.NewServerControl(false, "status", "ping"))

	for _, i := range []int{0, 2} {
		if got := peers[i].socket.after(); len(got) != 1 {
			t.Errorf("peer %d frames = %q, want one", i, got)
		}
	}
	if !logs.has("send failed - 1") {
		t.Error("failed send should be logged")
	}
}

// TestSetUsername tests validation and the rename
func TestSetUsername(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		frame     string
		wantName  string
		wantError string
	}{
		{name: "plain", frame: "@ setusername bob", wantName: "bob"},
		{name: "whitespace only", frame: "@ setusername   ", wantError: "@ [SERVER] error validation error: username must be at least one character"},
		{name: "missing param", frame: "@ setusername", wantError: "@ [SERVER] error validation error: username must be at least one character"},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			s := NewServer(nil)
			peers := accept(t, s, 2)
			me, other := peers[0], peers[1]

			me.conn.HandleInbound(context.Background(), []byte(tt.frame))

			name, ok := me.conn.Username()
			if tt.wantError != "" {
				if ok {
					t.Errorf("username = %q, want unset", name)
				}
				if got := me.socket.after(); !reflect.DeepEqual(got, []string{tt.wantError}) {
					t.Errorf("frames = %q, want %q", got, tt.wantError)
				}
				if got := s.OnlineUsers(); !reflect.DeepEqual(got, []string{"unknown(0)", "unknown(1)"}) {
					t.Errorf("OnlineUsers() = %q, want unchanged", got)
				}
				return
			}

			if name != tt.wantName {
				t.Errorf("username = %q, want %q", name, tt.wantName)
			}
			if got := me.socket.after(); len(got) != 0 {
				t.Errorf("setusername should not reply, got %q", got)
			}

			me.conn.HandleInbound(context.Background(), []byte("hello"))
			if got := other.socket.after(); !reflect.DeepEqual(got, []string{"[I] " + tt.wantName + " : hello"}) {
				t.Errorf("other frames = %q", got)
			}
		})
	}
}

// TestSetUsernameDirect tests Run with a param that only has surrounding whitespace
func TestSetUsernameDirect(t *testing.T) {
	t.Parallel()

	logs := &recorder{}
	s := NewServer(logs)
	me := accept(t, s, 1)[0]

	err := Run(context.Background(), protocol.NewControl(false, "setusername", []string{"  "}, ""), me.conn, s)
	if !errors.Is(err, protocol.ErrValidation) {
		t.Fatalf("Run() error = %v, want ErrValidation", err)
	}

	err = Run(context.Background(), protocol.NewControl(false, "setusername", []string{"  bob  "}, ""), me.conn, s)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if me.conn.DisplayName() != "bob" {
		t.Errorf("DisplayName() = %q, want bob", me.conn.DisplayName())
	}
	if !logs.has("command - setusername none > bob") {
		t.Error("rename should be logged")
	}

	Run(context.Background(), protocol.NewControl(false, "setusername", []string{"rob"}, ""), me.conn, s)
	if !logs.has("command - setusername bob > rob") {
		t.Error("second rename should log the old name")
	}
}

// TestSetUsernameUpdatesOnlineUsers tests that the registry follows renames
func TestSetUsernameUpdatesOnlineUsers(t *testing.T) {
	t.Parallel()

	s := NewServer(nil)
	peers := accept(t, s, 2)

	peers[1].conn.HandleInbound(context.Background(), []byte("@ setusername bob"))

	if got := s.OnlineUsers(); !reflect.DeepEqual(got, []string{"unknown(0)", "bob"}) {
		t.Errorf("OnlineUsers() = %q", got)
	}
}

// TestGetOnlineUsers tests that the reply goes to the requester only
func TestGetOnlineUsers(t *testing.T) {
	t.Parallel()

	s := NewServer(nil)
	peers := accept(t, s, 3)
	peers[2].conn.HandleInbound(context.Background(), []byte("@ setusername carol"))

	peers[0].conn.HandleInbound(context.Background(), []byte("@ getonlineusers"))

	want := []string{"@ [SERVER] onlineusers unknown(0),unknown(1),carol"}
	if got := peers[0].socket.after(); !reflect.DeepEqual(got, want) {
		t.Errorf("requester frames = %q, want %q", got, want)
	}
	for _, p := range peers[1:] {
		if got := p.socket.after(); len(got) != 0 {
			t.Errorf("connection %d frames = %q, want none", p.conn.ID(), got)
		}
	}
	if n := len(s.OnlineUsers()); n != s.Len() {
		t.Errorf("online users = %d, registered = %d", n, s.Len())
	}
}

// TestUnknownCommand tests that unknown verbs fail without touching the registry
func TestUnknownCommand(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		frame string
		want  string
	}{
		{name: "frobnicate", frame: "@ frobnicate a,b", want: `@ [SERVER] error unknown command: invalid control "frobnicate"`},
		{name: "bare sigil", frame: "@", want: `@ [SERVER] error unknown command: invalid control ""`},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			s := NewServer(nil)
			peers := accept(t, s, 2)
			before := s.OnlineUsers()

			peers[0].conn.HandleInbound(context.Background(), []byte(tt.frame))

			if got := peers[0].socket.after(); !reflect.DeepEqual(got, []string{tt.want}) {
				t.Errorf("frames = %q, want %q", got, tt.want)
			}
			if got := peers[1].socket.after(); len(got) != 0 {
				t.Errorf("other frames = %q, want none", got)
			}
			if got := s.OnlineUsers(); !reflect.DeepEqual(got, before) || s.Len() != 2 {
				t.Errorf("registry changed: %q", got)
			}
		})
	}

	s := NewServer(nil)
	me := accept(t, s, 1)[0]
	err := Run(context.Background(), protocol.NewControl(false, "frobnicate", []string{""}, ""), me.conn, s)
	if !errors.Is(err, protocol.ErrUnknownCommand) {
		t.Errorf("Run() error = %v, want ErrUnknownCommand", err)
	}
}

// TestControlIsLogged tests the control log line
func TestControlIsLogged(t *testing.T) {
	t.Parallel()

	logs := &recorder{}
	s := NewServer(logs)
	me := accept(t, s, 1)[0]

	me.conn.HandleInbound(context.Background(), []byte("@ getonlineusers"))

	if !logs.has("control - secure=false author=unknown(0) verb=getonlineusers params=") {
		t.Errorf("control line missing from %q", logs.lines)
	}
}

// TestStructuredInboundNotImplemented tests the structured decode gap
func TestStructuredInboundNotImplemented(t *testing.T) {
	t.Parallel()

	s := NewServer(nil)
	socket := &fakeSocket{}
	conn, _ := s.Accept(context.Background(), socket, false, protocol.ModeStructured)

	conn.HandleInbound(context.Background(), []byte(`{"control":"getonlineusers"}`))

	frames := socket.Frames()
	if len(frames) != 2 {
		t.Fatalf("frames = %q, want greeting and error", frames)
	}
	if !strings.HasPrefix(frames[1], `{"control":"error","params":["protocol error: structured decoding is not implemented"]`) {
		t.Errorf("error frame = %q", frames[1])
	}
}

// TestInvalidUTF8 tests that non UTF-8 frames are rejected
func TestInvalidUTF8(t *testing.T) {
	t.Parallel()

	s := NewServer(nil)
	peers := accept(t, s, 2)

	peers[0].conn.HandleInbound(context.Background(), []byte{0xff, 0xfe})

	if got := peers[0].socket.after(); len(got) != 1 || !strings.Contains(got[0], "not valid UTF-8") {
		t.Errorf("frames = %q", got)
	}
	if got := peers[1].socket.after(); len(got) != 0 {
		t.Errorf("invalid frame should not be broadcast, got %q", got)
	}
}

// TestErrorReportDropped tests that a failing error report is swallowed
func TestErrorReportDropped(t *testing.T) {
	t.Parallel()

	logs := &recorder{}
	s := NewServer(logs)
	me := accept(t, s, 1)[0]
	me.socket.fail(errors.New("closed"))

	me.conn.HandleInbound(context.Background(), []byte("@ frobnicate"))

	if !logs.has("error report dropped - 0") {
		t.Error("dropped report should be logged")
	}
	if s.Len() != 1 {
		t.Error("registry should be intact")
	}
}

// TestReleaseBroadcastsUserLeave tests the close lifecycle hook
func TestReleaseBroadcastsUserLeave(t *testing.T) {
	t.Parallel()

	s := NewServer(nil)
	peers := accept(t, s, 4)
	leaving := peers[3]
	leaving.conn.HandleInbound(context.Background(), []byte("@ setusername dave"))

	s.Release(context.Background(), leaving.conn)

	for _, p := range peers[:3] {
		if got := p.socket.after(); !reflect.DeepEqual(got, []string{"@ [SERVER] userleave dave"}) {
			t.Errorf("connection %d frames = %q", p.conn.ID(), got)
		}
	}
	if got := leaving.socket.after(); len(got) != 0 {
		t.Errorf("leaving connection frames = %q, want none", got)
	}
	if _, ok := s.Connection(3); ok {
		t.Error("connection 3 should be unregistered")
	}
	if got := s.OnlineUsers(); len(got) != 3 {
		t.Errorf("OnlineUsers() = %q", got)
	}

	// Releasing again broadcasts nothing
	s.Release(context.Background(), leaving.conn)
	if got := peers[0].socket.after(); len(got) != 1 {
		t.Errorf("second release sent %q", got)
	}
}

// TestConcurrentReleaseSendsOneUserLeave tests that racing releases of one
// connection announce it once
func TestConcurrentReleaseSendsOneUserLeave(t *testing.T) {
	t.Parallel()

	s := NewServer(nil)
	peers := accept(t, s, 2)
	leaving, staying := peers[0], peers[1]

	start := make(chan struct{})
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			s.Release(context.Background(), leaving.conn)
		}()
	}
	close(start)
	wg.Wait()

	if got := staying.socket.after(); !reflect.DeepEqual(got, []string{"@ [SERVER] userleave unknown(0)"}) {
		t.Errorf("frames = %q, want exactly one userleave", got)
	}
	if s.Len() != 1 || len(s.OnlineUsers()) != 1 {
		t.Errorf("Len() = %d, online = %d, want 1", s.Len(), len(s.OnlineUsers()))
	}
}

// TestReleasePlaceholderName tests userleave for a connection without a username
func TestReleasePlaceholderName(t *testing.T) {
	t.Parallel()

	s := NewServer(nil)
	peers := accept(t, s, 2)

	s.Release(context.Background(), peers[0].conn)

	if got := peers[1].socket.after(); !reflect.DeepEqual(got, []string{"@ [SERVER] userleave unknown(0)"}) {
		t.Errorf("frames = %q", got)
	}
}

// TestConcurrentTraffic exercises the registry lock under parallel events
func TestConcurrentTraffic(t *testing.T) {
	t.Parallel()

	s := NewServer(nil)
	peers := accept(t, s, 8)

	var wg sync.WaitGroup
	for i, p := range peers {
		wg.Add(1)
		go func(i int, p peer) {
			defer wg.Done()
			p.conn.HandleInbound(context.Background(), []byte("hello"))
			p.conn.HandleInbound(context.Background(), []byte("@ getonlineusers"))
			if i%2 == 0 {
				s.Release(context.Background(), p.conn)
			}
		}(i, p)
	}
	wg.Wait()

	if s.Len() != 4 || len(s.OnlineUsers()) != 4 {
		t.Errorf("Len() = %d, online = %d, want 4", s.Len(), len(s.OnlineUsers()))
	}
}
