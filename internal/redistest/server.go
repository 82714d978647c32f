// Package redistest runs a small in-process Redis-compatible server for
// tests. It speaks RESP2 and implements the keyspace commands the migration
// tool issues (SCAN, KEYS, TTL, PTTL, DUMP, RESTORE, DEL) plus enough of the
// connection handshake and CLUSTER SLOTS for go-redis single-node and cluster
// clients to talk to it.
package redistest

import (
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"
)

// Server is an in-process RESP server backed by an in-memory keyspace.
type Server struct {
	ks       *keyspace
	password string

	mu       sync.Mutex
	listener net.Listener
	closed   bool
	conns    map[net.Conn]struct{}
	failures map[string]string
	calls    map[string]int
	wg       sync.WaitGroup
}

// NewServer creates a server that is not yet listening.
func NewServer() *Server {
	return &Server{
		ks:       newKeyspace(),
		conns:    make(map[net.Conn]struct{}),
		failures: make(map[string]string),
		calls:    make(map[string]int),
	}
}

// Run starts a server on a random loopback port and closes it when the
// test finishes.
func Run(t testing.TB) *Server {
	t.Helper()
	s := NewServer()
	if err := s.Start("127.0.0.1:0"); err != nil {
		t.Fatalf("redistest: start: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// RequirePass makes every command except AUTH and PING require a password.
// Call before clients connect.
func (s *Server) RequirePass(password string) {
	s.password = password
}

// Start listens on addr and serves connections in the background.
func (s *Server) Start(addr string) error {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("redistest: failed to listen: %w", err)
	}
	s.mu.Lock()
	s.listener = listener
	s.mu.Unlock()

	s.wg.Add(1)
	go s.acceptLoop(listener)
	return nil
}

// Addr returns the listening address.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Close stops the listener, drops every client and waits for the
// connection goroutines to exit.
func (s *Server) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	var err error
	if s.listener != nil {
		err = s.listener.Close()
	}
	for c := range s.conns {
		c.Close()
	}
	s.mu.Unlock()

	s.wg.Wait()
	return err
}

// Set stores key with an optional TTL (0 means no expiry).
func (s *Server) Set(key, value string, ttl time.Duration) {
	s.ks.set(key, value, ttl)
}

// Get returns the value of key.
func (s *Server) Get(key string) (string, bool) {
	return s.ks.get(key)
}

// PTTL returns the remaining TTL of key in milliseconds, -1 when the key
// has no expiry and -2 when it does not exist.
func (s *Server) PTTL(key string) int64 {
	return s.ks.pttl(key)
}

// Keys returns the live keys matching pattern, sorted.
func (s *Server) Keys(pattern string) []string {
	return s.ks.keys(pattern)
}

// FailOn makes cmd fail with msg whenever its first argument is key.
// msg is sent verbatim, e.g. "ERR injected".
func (s *Server) FailOn(cmd, key, msg string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[strings.ToUpper(cmd)+"\x00"+key] = msg
}

// Calls returns how many times cmd has been received.
func (s *Server) Calls(cmd string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[strings.ToUpper(cmd)]
}

func (s *Server) acceptLoop(listener net.Listener) {
	defer s.wg.Done()
	for {
		conn, err := listener.Accept()
		if err != nil {
			return
		}
		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			conn.Close()
			return
		}
		s.conns[conn] = struct{}{}
		s.wg.Add(1)
		s.mu.Unlock()

		go func(c net.Conn) {
			defer s.wg.Done()
			defer func() {
				s.mu.Lock()
				delete(s.conns, c)
				s.mu.Unlock()
				c.Close()
			}()
			s.handleConnection(c)
		}(conn)
	}
}

func (s *Server) handleConnection(conn net.Conn) {
	reader := newRespReader(conn)
	writer := newRespWriter(conn)
	authenticated := s.password == ""

	for {
		args, err := reader.ReadCommand()
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) {
				writer.Error("ERR " + err.Error())
				writer.Flush()
			}
			return
		}
		if len(args) == 0 {
			writer.Error("ERR empty command")
			writer.Flush()
			continue
		}

		cmd := strings.ToUpper(args[0])
		args = args[1:]

		switch {
		case cmd == "AUTH":
			authenticated = s.cmdAuth(writer, args)
		case !authenticated && cmd != "PING" && cmd != "QUIT":
			writer.Error("NOAUTH Authentication required.")
		default:
			s.execute(writer, cmd, args)
		}
		if err := writer.Flush(); err != nil {
			return
		}
		if cmd == "QUIT" {
			return
		}
	}
}

// injected returns the configured failure for cmd on its first argument.
func (s *Server) injected(cmd string, args []string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls[cmd]++
	if len(args) == 0 {
		return "", false
	}
	msg, ok := s.failures[cmd+"\x00"+args[0]]
	return msg, ok
}

func (s *Server) execute(w *respWriter, cmd string, args []string) {
	if msg, ok := s.injected(cmd, args); ok {
		w.Error(msg)
		return
	}

	switch cmd {
	case "PING":
		if len(args) > 0 {
			w.Bulk(args[0])
			return
		}
		w.Status("PONG")
	case "QUIT", "SELECT", "CLIENT", "READONLY":
		w.Status("OK")
	case "COMMAND":
		w.ArrayHeader(0)
	case "CLUSTER":
		s.cmdCluster(w, args)
	case "SET":
		s.cmdSet(w, args)
	case "GET":
		s.cmdGet(w, args)
	case "DEL":
		s.cmdDel(w, args)
	case "KEYS":
		if len(args) != 1 {
			wrongArgs(w, "keys")
			return
		}
		w.BulkArray(s.ks.keys(args[0]))
	case "SCAN":
		s.cmdScan(w, args)
	case "TTL":
		if len(args) != 1 {
			wrongArgs(w, "ttl")
			return
		}
		w.Int(s.ks.ttl(args[0]))
	case "PTTL":
		if len(args) != 1 {
			wrongArgs(w, "pttl")
			return
		}
		w.Int(s.ks.pttl(args[0]))
	case "DUMP":
		s.cmdDump(w, args)
	case "RESTORE":
		s.cmdRestore(w, args)
	case "DBSIZE":
		w.Int(int64(s.ks.size()))
	case "FLUSHDB", "FLUSHALL":
		s.ks.flush()
		w.Status("OK")
	default:
		// HELLO lands here too, which makes go-redis fall back to RESP2.
		w.Error(fmt.Sprintf("ERR unknown command '%s', with args beginning with: ", strings.ToLower(cmd)))
	}
}

func wrongArgs(w *respWriter, cmd string) {
	w.Error(fmt.Sprintf("ERR wrong number of arguments for '%s' command", cmd))
}

func (s *Server) cmdAuth(w *respWriter, args []string) bool {
	if len(args) == 0 || len(args) > 2 {
		wrongArgs(w, "auth")
		return false
	}
	if s.password == "" {
		w.Error("ERR AUTH <password> called without any password configured for the default user.")
		return true
	}
	if args[len(args)-1] != s.password {
		w.Error("WRONGPASS invalid username-password pair or user is disabled.")
		return false
	}
	w.Status("OK")
	return true
}

// cmdCluster answers CLUSTER SLOTS with a single shard owning every slot.
func (s *Server) cmdCluster(w *respWriter, args []string) {
	if len(args) == 0 || strings.ToUpper(args[0]) != "SLOTS" {
		w.Error("ERR unsupported CLUSTER subcommand")
		return
	}
	host, portStr, err := net.SplitHostPort(s.Addr())
	if err != nil {
		w.Error("ERR " + err.Error())
		return
	}
	port, _ := strconv.ParseInt(portStr, 10, 64)

	w.ArrayHeader(1)
	w.ArrayHeader(3)
	w.Int(0)
	w.Int(16383)
	w.ArrayHeader(3)
	w.Bulk(host)
	w.Int(port)
	w.Bulk("redistest")
}

func (s *Server) cmdSet(w *respWriter, args []string) {
	if len(args) != 2 && len(args) != 4 {
		wrongArgs(w, "set")
		return
	}
	var ttl time.Duration
	if len(args) == 4 {
		n, err := strconv.ParseInt(args[3], 10, 64)
		if err != nil || n <= 0 {
			w.Error("ERR invalid expire time in 'set' command")
			return
		}
		switch strings.ToUpper(args[2]) {
		case "EX":
			ttl = time.Duration(n) * time.Second
		case "PX":
			ttl = time.Duration(n) * time.Millisecond
		default:
			w.Error("ERR syntax error")
			return
		}
	}
	s.ks.set(args[0], args[1], ttl)
	w.Status("OK")
}

func (s *Server) cmdGet(w *respWriter, args []string) {
	if len(args) != 1 {
		wrongArgs(w, "get")
		return
	}
	v, ok := s.ks.get(args[0])
	if !ok {
		w.Null()
		return
	}
	w.Bulk(v)
}

func (s *Server) cmdDel(w *respWriter, args []string) {
	if len(args) == 0 {
		wrongArgs(w, "del")
		return
	}
	var n int64
	for _, key := range args {
		if s.ks.del(key) {
			n++
		}
	}
	w.Int(n)
}

// cmdScan pages through the sorted key list; the cursor is an offset.
func (s *Server) cmdScan(w *respWriter, args []string) {
	if len(args) == 0 {
		wrongArgs(w, "scan")
		return
	}
	cursor, err := strconv.Atoi(args[0])
	if err != nil || cursor < 0 {
		w.Error("ERR invalid cursor")
		return
	}
	pattern, count := "*", 10
	for i := 1; i < len(args); i += 2 {
		if i+1 >= len(args) {
			w.Error("ERR syntax error")
			return
		}
		switch strings.ToUpper(args[i]) {
		case "MATCH":
			pattern = args[i+1]
		case "COUNT":
			count, err = strconv.Atoi(args[i+1])
			if err != nil || count < 1 {
				w.Error("ERR syntax error")
				return
			}
		case "TYPE":
		default:
			w.Error("ERR syntax error")
			return
		}
	}

	keys := s.ks.keys(pattern)
	if cursor > len(keys) {
		cursor = len(keys)
	}
	end := cursor + count
	next := end
	if end >= len(keys) {
		end = len(keys)
		next = 0
	}

	w.ArrayHeader(2)
	w.Bulk(strconv.Itoa(next))
	w.BulkArray(keys[cursor:end])
}

func (s *Server) cmdDump(w *respWriter, args []string) {
	if len(args) != 1 {
		wrongArgs(w, "dump")
		return
	}
	payload, ok := s.ks.dump(args[0])
	if !ok {
		w.Null()
		return
	}
	w.Bulk(payload)
}

func (s *Server) cmdRestore(w *respWriter, args []string) {
	if len(args) < 3 {
		wrongArgs(w, "restore")
		return
	}
	ms, err := strconv.ParseInt(args[1], 10, 64)
	if err != nil {
		w.Error("ERR value is not an integer or out of range")
		return
	}
	if ms < 0 {
		w.Error("ERR Invalid TTL value, must be >= 0")
		return
	}

	replace := false
	for i := 3; i < len(args); i++ {
		switch strings.ToUpper(args[i]) {
		case "REPLACE":
			replace = true
		case "ABSTTL":
		case "IDLETIME", "FREQ":
			i++
		default:
			w.Error("ERR syntax error")
			return
		}
	}

	switch s.ks.restore(args[0], time.Duration(ms)*time.Millisecond, args[2], replace) {
	case restoreBusy:
		w.Error("BUSYKEY Target key name already exists.")
	case restoreBadPayload:
		w.Error("ERR DUMP payload version or checksum are wrong")
	default:
		w.Status("OK")
	}
}
