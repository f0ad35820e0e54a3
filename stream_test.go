package osfinger

import (
	"bytes"
	"context"
	"errors"
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"

	"github.com/durable-streams/osfinger/fingertest"
)

const testBuild = "7a5b3c0e2d4f4e6a8b9c0d1e2f3a4b5c"

func testConsole() []byte {
	var b strings.Builder
	for i := 0; i < 500; i++ {
		b.WriteString("2024-01-01 00:00:00.000 | ok: [ubuntu-jammy] => task ")
		b.WriteString(strings.Repeat("✓", i%3))
		b.WriteString(" 🐙\n")
	}
	return []byte(b.String())
}

func newTestClient(t *testing.T, server *fingertest.Server, opts ...ClientOption) *Client {
	t.Helper()
	base := []ClientOption{
		WithPort(server.Port()),
		WithLogger(zaptest.NewLogger(t)),
	}
	return NewClient(append(base, opts...)...)
}

// flakyDialer fails the first n dials.
type flakyDialer struct {
	failures int32
	attempts atomic.Int32
}

func (d *flakyDialer) DialContext(ctx context.Context, network, addr string) (net.Conn, error) {
	if d.attempts.Add(1) <= d.failures {
		return nil, errors.New("connection refused")
	}
	var nd net.Dialer
	return nd.DialContext(ctx, network, addr)
}

// firstWrite signals the first write to the sink.
type firstWrite struct {
	once sync.Once
	ch   chan struct{}
}

func newFirstWrite() *firstWrite {
	return &firstWrite{ch: make(chan struct{})}
}

func (w *firstWrite) Write(p []byte) (int, error) {
	w.once.Do(func() { close(w.ch) })
	return len(p), nil
}

func TestFollowResumesAcrossDrops(t *testing.T) {
	server := fingertest.NewServer()
	defer server.Close()

	console := testConsole()
	drops := []int{0, 100, 5000, 5001, 12345, 12345, 20000}
	server.AddStream(testBuild, console,
		fingertest.WithDrops(drops...),
		fingertest.WithChunkSize(7),
	)

	var states []DriverState
	stream := newTestClient(t, server).Stream(server.Host(), testBuild)

	var out bytes.Buffer
	pos, err := stream.Follow(context.Background(), &out,
		WithStateHook(func(s DriverState, _ Position) { states = append(states, s) }),
	)
	if err != nil {
		t.Fatalf("Follow failed: %v", err)
	}

	if !bytes.Equal(out.Bytes(), console) {
		t.Fatalf("transcript differs: got %d bytes, want %d", out.Len(), len(console))
	}
	if want := Position(len([]rune(string(console)))); pos != want {
		t.Errorf("position = %d, want %d", pos, want)
	}
	if n := server.Connections(testBuild); n != len(drops)+2 {
		t.Errorf("connections = %d, want %d", n, len(drops)+2)
	}

	var pending int
	for _, s := range states {
		if s == DriverReconnectPending {
			pending++
		}
	}
	if pending != len(drops)+1 {
		t.Errorf("reconnects = %d, want %d", pending, len(drops)+1)
	}
	if states[0] != DriverConnecting || states[len(states)-1] != DriverDone {
		t.Errorf("states = %v", states)
	}
}

// TestFollowLargeReads writes each replay in one piece so reads fill the
// read buffer and routinely end inside a multi-byte character.
func TestFollowLargeReads(t *testing.T) {
	server := fingertest.NewServer()
	defer server.Close()

	console := bytes.Repeat(testConsole(), 3)
	drops := []int{4097, 30001, 30002, 65999}
	server.AddStream(testBuild, console, fingertest.WithDrops(drops...))

	stream := newTestClient(t, server).Stream(server.Host(), testBuild)

	var out bytes.Buffer
	pos, err := stream.Follow(context.Background(), &out)
	if err != nil {
		t.Fatalf("Follow failed: %v", err)
	}
	if !bytes.Equal(out.Bytes(), console) {
		t.Fatalf("transcript differs: got %d bytes, want %d", out.Len(), len(console))
	}
	if want := Position(len([]rune(string(console)))); pos != want {
		t.Errorf("position = %d, want %d", pos, want)
	}
}

func TestFollowStopsOnNotFound(t *testing.T) {
	server := fingertest.NewServer()
	defer server.Close()

	var out bytes.Buffer
	stream := newTestClient(t, server).Stream(server.Host(), "unknown")
	pos, err := stream.Follow(context.Background(), &out)
	if err != nil {
		t.Fatalf("Follow failed: %v", err)
	}
	if pos != StartPosition || out.Len() != 0 {
		t.Errorf("pos = %d, transcript = %q; want nothing", pos, out.String())
	}
	if reqs := server.Requests(); len(reqs) != 1 || reqs[0] != "unknown" {
		t.Errorf("requests = %q, want exactly one for %q", reqs, "unknown")
	}
}

func TestFollowStartPosition(t *testing.T) {
	server := fingertest.NewServer()
	defer server.Close()
	server.AddStream(testBuild, []byte("abcdefgh"))

	var out bytes.Buffer
	stream := newTestClient(t, server).Stream(server.Host(), testBuild)
	if _, err := stream.Follow(context.Background(), &out, WithStartPosition(4)); err != nil {
		t.Fatalf("Follow failed: %v", err)
	}
	if out.String() != "efgh" {
		t.Errorf("transcript = %q, want %q", out.String(), "efgh")
	}
}

func TestFollowRetriesFailedConnects(t *testing.T) {
	server := fingertest.NewServer()
	defer server.Close()
	server.AddStream(testBuild, []byte("hello\n"))

	dialer := &flakyDialer{failures: 3}
	var positions []Position
	stream := newTestClient(t, server, WithDialer(dialer)).Stream(server.Host(), testBuild)

	var out bytes.Buffer
	_, err := stream.Follow(context.Background(), &out,
		WithStartPosition(2),
		WithStateHook(func(s DriverState, p Position) {
			if s == DriverReconnectPending {
				positions = append(positions, p)
			}
		}),
	)
	if err != nil {
		t.Fatalf("Follow failed: %v", err)
	}
	if out.String() != "llo\n" {
		t.Errorf("transcript = %q, want %q", out.String(), "llo\n")
	}
	// Three refused connects keep the position, then the full replay drops.
	want := []Position{2, 2, 2, 6}
	if len(positions) != len(want) {
		t.Fatalf("reconnect positions = %v, want %v", positions, want)
	}
	for i := range want {
		if positions[i] != want[i] {
			t.Errorf("reconnect positions = %v, want %v", positions, want)
			break
		}
	}
}

func TestFollowRetriesExhausted(t *testing.T) {
	server := fingertest.NewServer()
	defer server.Close()

	dialer := &flakyDialer{failures: 1 << 30}
	stream := newTestClient(t, server,
		WithDialer(dialer),
		WithRetryPolicy(RetryPolicy{MaxRetries: 3, InitialDelay: time.Millisecond, Multiplier: 2}),
	).Stream(server.Host(), testBuild)

	_, err := stream.Follow(context.Background(), &bytes.Buffer{})
	if !errors.Is(err, ErrRetriesExhausted) {
		t.Fatalf("error = %v, want ErrRetriesExhausted", err)
	}
	if n := dialer.attempts.Load(); n != 4 {
		t.Errorf("dial attempts = %d, want 4", n)
	}
}

func TestFollowCancelWhileStalled(t *testing.T) {
	server := fingertest.NewServer()
	defer server.Close()
	server.AddStream(testBuild, []byte("running\n"), fingertest.WithHold())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sink := newFirstWrite()
	stream := newTestClient(t, server).Stream(server.Host(), testBuild)

	done := make(chan error, 1)
	go func() {
		_, err := stream.Follow(ctx, sink)
		done <- err
	}()

	select {
	case <-sink.ch:
	case <-time.After(5 * time.Second):
		t.Fatal("no text received")
	}
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("error = %v, want context.Canceled", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Follow did not return after cancel")
	}
}

func TestFollowCancelDuringBackoff(t *testing.T) {
	server := fingertest.NewServer()
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	stream := newTestClient(t, server,
		WithDialer(&flakyDialer{failures: 1 << 30}),
		WithRetryPolicy(RetryPolicy{InitialDelay: time.Hour}),
	).Stream(server.Host(), testBuild)

	done := make(chan error, 1)
	go func() {
		_, err := stream.Follow(ctx, &bytes.Buffer{}, WithStateHook(func(s DriverState, _ Position) {
			if s == DriverReconnectPending {
				cancel()
			}
		}))
		done <- err
	}()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("error = %v, want context.Canceled", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Follow did not return after cancel")
	}
}

func TestFollowIdleTimeoutReconnects(t *testing.T) {
	server := fingertest.NewServer()
	defer server.Close()
	server.AddStream(testBuild, []byte("waiting for node\n"), fingertest.WithHold())

	stream := newTestClient(t, server, WithIdleTimeout(50*time.Millisecond)).
		Stream(server.Host(), testBuild)

	var out bytes.Buffer
	_, err := stream.Follow(context.Background(), &out, WithStateHook(func(s DriverState, _ Position) {
		if s == DriverReconnectPending {
			server.Finish(testBuild)
		}
	}))
	if err != nil {
		t.Fatalf("Follow failed: %v", err)
	}
	if out.String() != "waiting for node\n" {
		t.Errorf("transcript = %q", out.String())
	}
	if n := server.Connections(testBuild); n != 2 {
		t.Errorf("connections = %d, want 2", n)
	}
}

type failingWriter struct{}

func (failingWriter) Write([]byte) (int, error) {
	return 0, errors.New("broken pipe")
}

func TestFollowSinkError(t *testing.T) {
	server := fingertest.NewServer()
	defer server.Close()
	server.AddStream(testBuild, []byte("text"))

	stream := newTestClient(t, server).Stream(server.Host(), testBuild)
	_, err := stream.Follow(context.Background(), failingWriter{})

	var se *SessionError
	if !errors.As(err, &se) {
		t.Fatalf("error = %v, want *SessionError", err)
	}
	if se.Op != "sink" || se.Build != testBuild {
		t.Errorf("SessionError = %+v", se)
	}
}

func TestFollowEmptyBuild(t *testing.T) {
	stream := NewClient().Stream("localhost", "")
	if _, err := stream.Follow(context.Background(), &bytes.Buffer{}); !errors.Is(err, ErrEmptyBuild) {
		t.Errorf("error = %v, want ErrEmptyBuild", err)
	}
}

func TestAttachSingleSession(t *testing.T) {
	server := fingertest.NewServer()
	defer server.Close()
	server.AddStream(testBuild, []byte("abcdef"), fingertest.WithDrops(4))

	stream := newTestClient(t, server).Stream(server.Host(), testBuild)

	var out bytes.Buffer
	first, err := stream.Attach(context.Background(), StartPosition, &out)
	if err != nil {
		t.Fatalf("Attach failed: %v", err)
	}
	if first.State != StateDisconnected || first.Position != 4 {
		t.Errorf("first outcome = %+v, want disconnected at 4", first)
	}

	second, err := stream.Attach(context.Background(), first.Position, &out)
	if err != nil {
		t.Fatalf("Attach failed: %v", err)
	}
	if second.State != StateDisconnected || second.Position != 6 {
		t.Errorf("second outcome = %+v, want disconnected at 6", second)
	}

	third, err := stream.Attach(context.Background(), second.Position, &out)
	if err != nil {
		t.Fatalf("Attach failed: %v", err)
	}
	if third.State != StateFinished {
		t.Errorf("third outcome = %+v, want finished", third)
	}

	if out.String() != "abcdef" {
		t.Errorf("transcript = %q, want %q", out.String(), "abcdef")
	}
	if reqs := server.Requests(); len(reqs) != 3 || reqs[0] != testBuild {
		t.Errorf("requests = %q", reqs)
	}
}

// noDeadlineConn is a connection that cannot arm read deadlines.
type noDeadlineConn struct {
	net.Conn
}

func (noDeadlineConn) SetReadDeadline(time.Time) error {
	return errors.New("deadline not supported")
}

type noDeadlineDialer struct{}

func (noDeadlineDialer) DialContext(ctx context.Context, network, addr string) (net.Conn, error) {
	var nd net.Dialer
	conn, err := nd.DialContext(ctx, network, addr)
	if err != nil {
		return nil, err
	}
	return noDeadlineConn{conn}, nil
}

func TestAttachDeadlineFailureDisconnects(t *testing.T) {
	server := fingertest.NewServer()
	defer server.Close()
	server.AddStream(testBuild, []byte("text"))

	core, logs := observer.New(zapcore.DebugLevel)
	stream := NewClient(
		WithPort(server.Port()),
		WithDialer(noDeadlineDialer{}),
		WithIdleTimeout(time.Minute),
		WithLogger(zap.New(core)),
	).Stream(server.Host(), testBuild)

	var out bytes.Buffer
	outcome, err := stream.Attach(context.Background(), 2, &out)
	if err != nil {
		t.Fatalf("Attach failed: %v", err)
	}
	if outcome.State != StateDisconnected || outcome.Position != 2 {
		t.Errorf("outcome = %+v, want disconnected at 2", outcome)
	}
	if out.Len() != 0 {
		t.Errorf("unexpected transcript %q", out.String())
	}
	if n := logs.FilterMessage("set read deadline failed").Len(); n != 1 {
		t.Errorf("deadline failure logged %d times, want 1", n)
	}
}

func TestStreamAddr(t *testing.T) {
	stream := NewClient().Stream("zuul.opendev.org", testBuild)
	if got := stream.Addr(); got != "zuul.opendev.org:79" {
		t.Errorf("Addr() = %q", got)
	}

	stream = NewClient(WithPort(7900)).Stream("::1", testBuild)
	if got := stream.Addr(); got != "[::1]:7900" {
		t.Errorf("Addr() = %q", got)
	}
}
