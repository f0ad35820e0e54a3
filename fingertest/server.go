// Package fingertest provides testing utilities for finger stream clients.
//
// The package includes an in-process server that replays build consoles the
// way Zuul's log streamer does: every connection receives the whole console
// from the first byte, connections can be cut at chosen points, and once a
// build has been streamed to the end further requests get the not-found
// marker.
//
// Example:
//
//	func TestMyCode(t *testing.T) {
//	    server := fingertest.NewServer()
//	    defer server.Close()
//
//	    server.AddStream("abc123", []byte("console text\n"),
//	        fingertest.WithDrops(5))
//
//	    client := osfinger.NewClient(osfinger.WithPort(server.Port()))
//	    stream := client.Stream(server.Host(), "abc123")
//	    // ...
//	}
package fingertest

import (
	"bufio"
	"net"
	"strconv"
	"strings"
	"sync"
)

// NotFound is written to requests for unknown or finished builds.
const NotFound = "Build not found"

// Server is an in-process finger server for tests.
type Server struct {
	listener net.Listener
	done     chan struct{}
	wg       sync.WaitGroup

	mu       sync.Mutex
	streams  map[string]*mockStream
	requests []string
	conns    map[net.Conn]struct{}
}

// mockStream is one replayable console.
type mockStream struct {
	content     []byte
	drops       []int
	chunkSize   int
	hold        bool
	finished    bool
	connections int
}

// StreamOption configures a stream added with AddStream.
type StreamOption func(*mockStream)

// WithDrops cuts the n-th connection for the stream after drops[n] bytes.
// Connections past the end of the list receive the full content.
func WithDrops(drops ...int) StreamOption {
	return func(ms *mockStream) {
		ms.drops = append([]int(nil), drops...)
	}
}

// WithChunkSize writes the content in writes of at most n bytes.
func WithChunkSize(n int) StreamOption {
	return func(ms *mockStream) {
		ms.chunkSize = n
	}
}

// WithHold keeps a connection that delivered the full content open until
// the server is closed, like a build that is still running.
func WithHold() StreamOption {
	return func(ms *mockStream) {
		ms.hold = true
	}
}

// NewServer starts a server on a loopback port. It panics if it cannot
// listen, like httptest.NewServer.
func NewServer() *Server {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		panic("fingertest: failed to listen on a port: " + err.Error())
	}

	s := &Server{
		listener: l,
		done:     make(chan struct{}),
		streams:  make(map[string]*mockStream),
		conns:    make(map[net.Conn]struct{}),
	}
	s.wg.Add(1)
	go s.serve()
	return s
}

// Addr returns the listening address in host:port form.
func (s *Server) Addr() string {
	return s.listener.Addr().String()
}

// Host returns the listening host.
func (s *Server) Host() string {
	host, _, _ := net.SplitHostPort(s.Addr())
	return host
}

// Port returns the listening port.
func (s *Server) Port() int {
	_, port, _ := net.SplitHostPort(s.Addr())
	n, _ := strconv.Atoi(port)
	return n
}

// Close stops the listener, closes open connections and waits for all
// connection handlers to return.
func (s *Server) Close() {
	select {
	case <-s.done:
		return
	default:
	}
	close(s.done)
	s.listener.Close()

	s.mu.Lock()
	for c := range s.conns {
		c.Close()
	}
	s.mu.Unlock()

	s.wg.Wait()
}

// AddStream registers content under build, replacing any previous stream.
func (s *Server) AddStream(build string, content []byte, opts ...StreamOption) {
	ms := &mockStream{content: content}
	for _, opt := range opts {
		opt(ms)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.streams[build] = ms
}

// Finish makes further requests for build receive NotFound.
func (s *Server) Finish(build string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ms, ok := s.streams[build]; ok {
		ms.finished = true
	}
}

// Requests returns the request lines received so far, without line endings.
func (s *Server) Requests() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.requests...)
}

// Connections returns how many connections requested build.
func (s *Server) Connections(build string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ms, ok := s.streams[build]; ok {
		return ms.connections
	}
	return 0
}

func (s *Server) serve() {
	defer s.wg.Done()
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			return
		}

		s.mu.Lock()
		s.conns[conn] = struct{}{}
		s.mu.Unlock()

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			defer s.forget(conn)
			s.handle(conn)
		}()
	}
}

func (s *Server) forget(conn net.Conn) {
	conn.Close()
	s.mu.Lock()
	delete(s.conns, conn)
	s.mu.Unlock()
}

// handle serves one connection.
func (s *Server) handle(conn net.Conn) {
	line, err := bufio.NewReader(conn).ReadString('\n')
	if err != nil {
		return
	}
	build := strings.TrimRight(line, "\r\n")

	payload, hold, ok := s.plan(build)
	if !ok {
		conn.Write([]byte(NotFound))
		return
	}

	s.mu.Lock()
	chunk := s.streams[build].chunkSize
	s.mu.Unlock()
	if chunk <= 0 {
		chunk = len(payload)
	}

	for len(payload) > 0 {
		n := min(chunk, len(payload))
		if _, err := conn.Write(payload[:n]); err != nil {
			return
		}
		payload = payload[n:]
	}

	if hold {
		<-s.done
	}
}

// plan records the request and decides what the connection receives.
// ok is false when the build is unknown or finished.
func (s *Server) plan(build string) (payload []byte, hold bool, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.requests = append(s.requests, build)
	ms, found := s.streams[build]
	if !found {
		return nil, false, false
	}
	ms.connections++
	if ms.finished {
		return nil, false, false
	}

	attempt := ms.connections - 1
	if attempt < len(ms.drops) && ms.drops[attempt] < len(ms.content) {
		return ms.content[:ms.drops[attempt]], false, true
	}

	if !ms.hold {
		ms.finished = true
	}
	return ms.content, ms.hold, true
}
