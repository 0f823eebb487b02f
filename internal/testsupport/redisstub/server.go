// Package redisstub implements just enough of the Redis protocol to back the
// node lock client in tests: SET with NX and expiry, GET, DEL, and the
// compare-and-delete script used to release locks.
package redisstub

import (
	"bufio"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"
)

type Options struct {
	Password string
}

type Server struct {
	opts     Options
	listener net.Listener
	addr     string
	mu       sync.Mutex
	kv       map[string]*kvEntry
	closed   chan struct{}
}

type kvEntry struct {
	value  string
	expiry time.Time
}

func (e *kvEntry) expired(now time.Time) bool {
	return !e.expiry.IsZero() && now.After(e.expiry)
}

func Start(opts Options) (*Server, error) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return nil, err
	}
	server := &Server{
		opts:     opts,
		listener: ln,
		addr:     ln.Addr().String(),
		kv:       make(map[string]*kvEntry),
		closed:   make(chan struct{}),
	}
	go server.serve()
	return server, nil
}

func (s *Server) Addr() string {
	return s.addr
}

// Get returns the stored value for key, honouring expiry. Tests use it to
// inspect lock state without a client round trip.
func (s *Server) Get(key string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.kv[key]
	if !ok || entry.expired(time.Now()) {
		return "", false
	}
	return entry.value, true
}

func (s *Server) Close() error {
	s.mu.Lock()
	select {
	case <-s.closed:
		s.mu.Unlock()
		return nil
	default:
	}
	close(s.closed)
	s.mu.Unlock()
	if s.listener != nil {
		_ = s.listener.Close()
	}
	return nil
}

func (s *Server) serve() {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.closed:
				return
			default:
			}
			continue
		}
		go s.handleConnection(conn)
	}
}

func (s *Server) handleConnection(conn net.Conn) {
	defer conn.Close()
	reader := bufio.NewReader(conn)
	writer := bufio.NewWriter(conn)
	authenticated := s.opts.Password == ""
	for {
		args, err := readArray(reader)
		if err != nil {
			return
		}
		if len(args) == 0 {
			if writeError(writer, "ERR wrong number of arguments") != nil {
				return
			}
			continue
		}
		var writeErr error
		switch strings.ToUpper(args[0]) {
		case "PING":
			writeErr = writeSimpleString(writer, "PONG")
		case "AUTH":
			password := args[len(args)-1]
			if s.opts.Password == "" || password == s.opts.Password {
				authenticated = true
				writeErr = writeSimpleString(writer, "OK")
			} else {
				writeErr = writeError(writer, "WRONGPASS invalid username-password pair")
			}
		case "SELECT":
			writeErr = writeSimpleString(writer, "OK")
		case "HELLO":
			// The client falls back to RESP2 when HELLO is rejected.
			writeErr = writeError(writer, "ERR unknown command 'HELLO'")
		case "CLIENT":
			writeErr = writeError(writer, "ERR unknown command 'CLIENT'")
		default:
			if !authenticated {
				writeErr = writeError(writer, "NOAUTH Authentication required.")
				break
			}
			writeErr = s.dispatch(writer, args)
		}
		if writeErr != nil {
			return
		}
	}
}

func (s *Server) dispatch(writer *bufio.Writer, args []string) error {
	switch cmd := strings.ToUpper(args[0]); cmd {
	case "SET":
		return s.handleSet(writer, args)
	case "GET":
		if len(args) != 2 {
			return writeError(writer, "ERR wrong number of arguments for 'get'")
		}
		value, ok := s.Get(args[1])
		if !ok {
			return writeBulkNil(writer)
		}
		return writeBulkString(writer, value)
	case "DEL":
		if len(args) < 2 {
			return writeError(writer, "ERR wrong number of arguments for 'del'")
		}
		return writeInteger(writer, s.del(args[1:]))
	case "EVAL", "EVALSHA":
		return s.handleEval(writer, args)
	default:
		return writeError(writer, fmt.Sprintf("ERR unsupported command '%s'", cmd))
	}
}

func (s *Server) handleSet(writer *bufio.Writer, args []string) error {
	if len(args) < 3 {
		return writeError(writer, "ERR wrong number of arguments for 'set'")
	}
	key, value := args[1], args[2]
	var ttl time.Duration
	nx := false
	for i := 3; i < len(args); i++ {
		switch strings.ToUpper(args[i]) {
		case "NX":
			nx = true
		case "EX", "PX":
			if i+1 >= len(args) {
				return writeError(writer, "ERR syntax error")
			}
			amount, err := strconv.ParseInt(args[i+1], 10, 64)
			if err != nil {
				return writeError(writer, "ERR value is not an integer or out of range")
			}
			if strings.ToUpper(args[i]) == "EX" {
				ttl = time.Duration(amount) * time.Second
			} else {
				ttl = time.Duration(amount) * time.Millisecond
			}
			i++
		default:
			return writeError(writer, "ERR syntax error")
		}
	}

	s.mu.Lock()
	now := time.Now()
	existing, ok := s.kv[key]
	if ok && existing.expired(now) {
		delete(s.kv, key)
		ok = false
	}
	if nx && ok {
		s.mu.Unlock()
		return writeBulkNil(writer)
	}
	entry := &kvEntry{value: value}
	if ttl > 0 {
		entry.expiry = now.Add(ttl)
	}
	s.kv[key] = entry
	s.mu.Unlock()
	return writeSimpleString(writer, "OK")
}

// handleEval applies compare-and-delete semantics: with one key and one
// argument, the key is removed only when it still holds the argument value.
func (s *Server) handleEval(writer *bufio.Writer, args []string) error {
	if len(args) < 3 {
		return writeError(writer, "ERR wrong number of arguments for 'eval'")
	}
	numKeys, err := strconv.Atoi(args[2])
	if err != nil || numKeys != 1 || len(args) != 5 {
		return writeError(writer, "ERR unsupported script shape")
	}
	key, token := args[3], args[4]

	s.mu.Lock()
	deleted := int64(0)
	if entry, ok := s.kv[key]; ok && !entry.expired(time.Now()) && entry.value == token {
		delete(s.kv, key)
		deleted = 1
	}
	s.mu.Unlock()
	return writeInteger(writer, deleted)
}

func (s *Server) del(keys []string) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	count := int64(0)
	now := time.Now()
	for _, key := range keys {
		entry, ok := s.kv[key]
		if !ok {
			continue
		}
		delete(s.kv, key)
		if !entry.expired(now) {
			count++
		}
	}
	return count
}

func readArray(r *bufio.Reader) ([]string, error) {
	prefix, err := r.ReadByte()
	if err != nil {
		return nil, err
	}
	if prefix != '*' {
		return nil, fmt.Errorf("unexpected prefix %q", prefix)
	}
	length, err := readLength(r)
	if err != nil {
		return nil, err
	}
	args := make([]string, 0, length)
	for i := 0; i < length; i++ {
		arg, err := readBulkString(r)
		if err != nil {
			return nil, err
		}
		args = append(args, arg)
	}
	return args, nil
}

func readLength(r *bufio.Reader) (int, error) {
	line, err := r.ReadString('\n')
	if err != nil {
		return 0, err
	}
	line = strings.TrimSuffix(strings.TrimSuffix(line, "\n"), "\r")
	return strconv.Atoi(line)
}

func readBulkString(r *bufio.Reader) (string, error) {
	prefix, err := r.ReadByte()
	if err != nil {
		return "", err
	}
	if prefix != '$' {
		return "", fmt.Errorf("unexpected prefix %q", prefix)
	}
	length, err := readLength(r)
	if err != nil {
		return "", err
	}
	if length < 0 {
		return "", nil
	}
	buf := make([]byte, length+2)
	if _, err := io.ReadFull(r, buf); err != nil {
		return "", err
	}
	return string(buf[:length]), nil
}

func writeSimpleString(w *bufio.Writer, value string) error {
	if _, err := fmt.Fprintf(w, "+%s\r\n", value); err != nil {
		return err
	}
	return w.Flush()
}

func writeBulkString(w *bufio.Writer, value string) error {
	if _, err := fmt.Fprintf(w, "$%d\r\n%s\r\n", len(value), value); err != nil {
		return err
	}
	return w.Flush()
}

func writeBulkNil(w *bufio.Writer) error {
	if _, err := w.WriteString("$-1\r\n"); err != nil {
		return err
	}
	return w.Flush()
}

func writeInteger(w *bufio.Writer, value int64) error {
	if _, err := fmt.Fprintf(w, ":%d\r\n", value); err != nil {
		return err
	}
	return w.Flush()
}

func writeError(w *bufio.Writer, msg string) error {
	if _, err := fmt.Fprintf(w, "-%s\r\n", msg); err != nil {
		return err
	}
	return w.Flush()
}
