package nntp

import (
	"net"
	"net/textproto"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// testServer is a scripted NNTP server on a loopback listener.
type testServer struct {
	ln       net.Listener
	greeting string
	user     string
	pass     string

	mu       sync.Mutex
	articles map[string]string
	accepted int
	commands []string
}

func newTestServer(t *testing.T, articles map[string]string) *testServer {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	s := &testServer{
		ln:       ln,
		greeting: "200 test server ready",
		user:     "user",
		pass:     "pass",
		articles: articles,
	}
	t.Cleanup(func() { _ = ln.Close() })
	go s.serve()
	return s
}

func (s *testServer) options() Options {
	addr := s.ln.Addr().(*net.TCPAddr)
	return Options{
		Host:           addr.IP.String(),
		Port:           addr.Port,
		Username:       s.user,
		Password:       s.pass,
		ConnectTimeout: time.Second,
		CommandTimeout: time.Second,
	}
}

func (s *testServer) serve() {
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			return
		}
		s.mu.Lock()
		s.accepted++
		s.mu.Unlock()
		go s.handle(conn)
	}
}

func (s *testServer) Accepted() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.accepted
}

func (s *testServer) Commands() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.commands...)
}

func (s *testServer) handle(conn net.Conn) {
	defer conn.Close()
	tc := textproto.NewConn(conn)
	_ = tc.PrintfLine("%s", s.greeting)

	for {
		line, err := tc.ReadLine()
		if err != nil {
			return
		}
		s.mu.Lock()
		s.commands = append(s.commands, line)
		s.mu.Unlock()

		verb, arg, _ := strings.Cut(line, " ")
		switch strings.ToUpper(verb) {
		case "AUTHINFO":
			kind, value, _ := strings.Cut(arg, " ")
			switch {
			case kind == "USER" && value == s.user:
				_ = tc.PrintfLine("381 password required")
			case kind == "PASS" && value == s.pass:
				_ = tc.PrintfLine("281 authentication accepted")
			default:
				_ = tc.PrintfLine("481 authentication failed")
			}
		case "STAT":
			switch {
			case arg == "<drop@test>":
				return
			case arg == "<slow@test>":
				time.Sleep(300 * time.Millisecond)
				_ = tc.PrintfLine("223 0 %s", arg)
			case s.has(arg):
				_ = tc.PrintfLine("223 0 %s", arg)
			default:
				_ = tc.PrintfLine("430 no such article")
			}
		case "BODY":
			if arg == "<drop@test>" {
				return
			}
			body, ok := s.body(arg)
			if !ok {
				_ = tc.PrintfLine("430 no such article")
				continue
			}
			_ = tc.PrintfLine("222 0 %s", arg)
			w := tc.DotWriter()
			_, _ = w.Write([]byte(body))
			_ = w.Close()
		case "QUIT":
			_ = tc.PrintfLine("205 bye")
			return
		default:
			_ = tc.PrintfLine("500 unknown command")
		}
	}
}

func (s *testServer) has(id string) bool {
	_, ok := s.body(id)
	return ok
}

func (s *testServer) body(id string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.articles[strings.Trim(id, "<>")]
	return b, ok
}
