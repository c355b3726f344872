// Package redisstub runs a minimal in-process Redis server speaking just
// enough RESP2 to back the telemetry feed in tests: the client handshake,
// SUBSCRIBE/PSUBSCRIBE, and PUBLISH fan-out. Unknown commands (HELLO, CLIENT
// SETINFO, ...) get an error reply but keep the connection open, which is how
// go-redis discovers it must fall back to RESP2.
package redisstub

import (
	"bufio"
	"fmt"
	"io"
	"net"
	"path"
	"strconv"
	"strings"
	"sync"
)

type Options struct {
	Password string
	// Addr pins the listen address. Empty picks a free localhost port.
	// Pinning lets a test restart the server where a client expects it.
	Addr string
}

type Server struct {
	opts     Options
	listener net.Listener
	addr     string

	mu      sync.Mutex
	clients map[*client]struct{}
	closed  chan struct{}
}

type client struct {
	conn net.Conn

	wmu sync.Mutex
	w   *bufio.Writer

	// guarded by Server.mu, not wmu: publishers on other connections read
	// these while the owning goroutine mutates them.
	channels map[string]struct{}
	patterns map[string]struct{}
}

func Start(opts Options) (*Server, error) {
	addr := opts.Addr
	if addr == "" {
		addr = "127.0.0.1:0"
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	s := &Server{
		opts:     opts,
		listener: ln,
		addr:     ln.Addr().String(),
		clients:  make(map[*client]struct{}),
		closed:   make(chan struct{}),
	}
	go s.serve()
	return s, nil
}

func (s *Server) Addr() string {
	return s.addr
}

// URL returns a redis:// URL that go-redis can parse straight into options.
func (s *Server) URL() string {
	if s.opts.Password != "" {
		return "redis://:" + s.opts.Password + "@" + s.addr
	}
	return "redis://" + s.addr
}

// Close stops accepting and severs every live connection, so blocked
// subscriber reads fail immediately.
func (s *Server) Close() error {
	s.mu.Lock()
	select {
	case <-s.closed:
		s.mu.Unlock()
		return nil
	default:
	}
	close(s.closed)
	conns := make([]*client, 0, len(s.clients))
	for c := range s.clients {
		conns = append(conns, c)
	}
	s.mu.Unlock()

	_ = s.listener.Close()
	for _, c := range conns {
		_ = c.conn.Close()
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
	c := &client{
		conn:     conn,
		w:        bufio.NewWriter(conn),
		channels: make(map[string]struct{}),
		patterns: make(map[string]struct{}),
	}

	s.mu.Lock()
	select {
	case <-s.closed:
		s.mu.Unlock()
		_ = conn.Close()
		return
	default:
	}
	s.clients[c] = struct{}{}
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(s.clients, c)
		s.mu.Unlock()
		_ = conn.Close()
	}()

	reader := bufio.NewReader(conn)
	authenticated := s.opts.Password == ""
	for {
		args, err := readArray(reader)
		if err != nil {
			return
		}
		if len(args) == 0 {
			c.writeError("ERR empty command")
			continue
		}
		switch strings.ToUpper(args[0]) {
		case "PING":
			c.writeSimple("PONG")
		case "AUTH":
			password := args[len(args)-1]
			if s.opts.Password == "" || password == s.opts.Password {
				authenticated = true
				c.writeSimple("OK")
			} else {
				c.writeError("WRONGPASS invalid username-password pair")
			}
		case "SELECT":
			c.writeSimple("OK")
		case "QUIT":
			c.writeSimple("OK")
			return
		default:
			if !authenticated {
				c.writeError("NOAUTH Authentication required.")
				continue
			}
			s.dispatch(c, args)
		}
	}
}

func (s *Server) dispatch(c *client, args []string) {
	switch strings.ToUpper(args[0]) {
	case "SUBSCRIBE":
		for _, ch := range args[1:] {
			s.mu.Lock()
			c.channels[ch] = struct{}{}
			count := len(c.channels) + len(c.patterns)
			s.mu.Unlock()
			c.writeSubscription("subscribe", ch, count)
		}
	case "PSUBSCRIBE":
		for _, p := range args[1:] {
			s.mu.Lock()
			c.patterns[p] = struct{}{}
			count := len(c.channels) + len(c.patterns)
			s.mu.Unlock()
			c.writeSubscription("psubscribe", p, count)
		}
	case "UNSUBSCRIBE":
		s.unsubscribe(c, "unsubscribe", args[1:])
	case "PUNSUBSCRIBE":
		s.unsubscribe(c, "punsubscribe", args[1:])
	case "PUBLISH":
		if len(args) != 3 {
			c.writeError("ERR wrong number of arguments for 'publish'")
			return
		}
		c.writeInteger(int64(s.publish(args[1], args[2])))
	default:
		// HELLO and CLIENT SETINFO land here. Clients treat the error as a
		// capability probe; the connection must stay open.
		c.writeError("ERR unknown command '" + args[0] + "'")
	}
}

func (s *Server) unsubscribe(c *client, kind string, names []string) {
	pattern := kind == "punsubscribe"
	s.mu.Lock()
	set := c.channels
	if pattern {
		set = c.patterns
	}
	if len(names) == 0 {
		for name := range set {
			names = append(names, name)
		}
	}
	type reply struct {
		name  string
		count int
	}
	replies := make([]reply, 0, len(names))
	for _, name := range names {
		delete(set, name)
		replies = append(replies, reply{name, len(c.channels) + len(c.patterns)})
	}
	s.mu.Unlock()
	for _, r := range replies {
		c.writeSubscription(kind, r.name, r.count)
	}
}

// publish fans a message out to every matching subscriber and returns the
// receiver count. Writes happen outside the registry lock so one stuck
// subscriber cannot stall the server.
func (s *Server) publish(channel, payload string) int {
	type delivery struct {
		c       *client
		pattern string
	}
	s.mu.Lock()
	var targets []delivery
	for c := range s.clients {
		if _, ok := c.channels[channel]; ok {
			targets = append(targets, delivery{c: c})
		}
		for p := range c.patterns {
			// path.Match is close enough to a redis glob for test patterns.
			if ok, _ := path.Match(p, channel); ok {
				targets = append(targets, delivery{c: c, pattern: p})
			}
		}
	}
	s.mu.Unlock()

	for _, d := range targets {
		if d.pattern == "" {
			d.c.writeMessage(channel, payload)
		} else {
			d.c.writePMessage(d.pattern, channel, payload)
		}
	}
	return len(targets)
}

func (c *client) writeSimple(v string) {
	c.wmu.Lock()
	defer c.wmu.Unlock()
	fmt.Fprintf(c.w, "+%s\r\n", v)
	_ = c.w.Flush()
}

func (c *client) writeError(msg string) {
	c.wmu.Lock()
	defer c.wmu.Unlock()
	fmt.Fprintf(c.w, "-%s\r\n", msg)
	_ = c.w.Flush()
}

func (c *client) writeInteger(v int64) {
	c.wmu.Lock()
	defer c.wmu.Unlock()
	fmt.Fprintf(c.w, ":%d\r\n", v)
	_ = c.w.Flush()
}

func (c *client) writeSubscription(kind, name string, count int) {
	c.wmu.Lock()
	defer c.wmu.Unlock()
	fmt.Fprintf(c.w, "*3\r\n")
	writeBulk(c.w, kind)
	writeBulk(c.w, name)
	fmt.Fprintf(c.w, ":%d\r\n", count)
	_ = c.w.Flush()
}

func (c *client) writeMessage(channel, payload string) {
	c.wmu.Lock()
	defer c.wmu.Unlock()
	fmt.Fprintf(c.w, "*3\r\n")
	writeBulk(c.w, "message")
	writeBulk(c.w, channel)
	writeBulk(c.w, payload)
	_ = c.w.Flush()
}

func (c *client) writePMessage(pattern, channel, payload string) {
	c.wmu.Lock()
	defer c.wmu.Unlock()
	fmt.Fprintf(c.w, "*4\r\n")
	writeBulk(c.w, "pmessage")
	writeBulk(c.w, pattern)
	writeBulk(c.w, channel)
	writeBulk(c.w, payload)
	_ = c.w.Flush()
}

func writeBulk(w *bufio.Writer, v string) {
	fmt.Fprintf(w, "$%d\r\n%s\r\n", len(v), v)
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
