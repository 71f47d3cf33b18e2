// Package relay provides a WebSocket rendezvous server that lets two
// devices exchange snapshots without a direct network path, plus the
// client Transport that talks to it.
//
// Flow:
//
//	responder ── /register ──────────► relay   (control socket, gets code)
//	initiator ── /connect?target=CODE ► relay
//	                                     relay ── incoming{pair} ──► responder
//	responder ── /accept?pair=TOKEN ──► relay
//	                                     relay ── paired ──► both data sockets
//	initiator ◄═════════ frames relayed verbatim ═════════► responder
//
// The relay never decodes data frames. Pairings that are not accepted
// within Config.PairTimeout are closed with StatusPairTimeout.
package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

// DefaultReadLimit is the largest frame the relay and its clients accept.
// Snapshots embed drawing data, so this is well above websocket defaults.
const DefaultReadLimit = 64 << 20

// Server pairs peers and forwards frames between them
type Server struct {
	addr     string
	listener net.Listener
	server   *http.Server

	// Registered control sockets by code
	peers   map[string]*websocket.Conn
	pending map[string]*pairing
	mu      sync.Mutex

	// Every open socket, closed on Stop
	conns   map[*websocket.Conn]struct{}
	connsMu sync.Mutex

	limiters     map[string]*hostLimiter
	limitersMu   sync.Mutex
	connectRate  rate.Limit
	connectBurst int
	limiterIdle  time.Duration

	pairTimeout time.Duration
	readLimit   int64

	// Lifecycle management
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	logger *log.Logger
}

// Idle per-host limiters are dropped after limiterIdleTimeout, or after
// the time needed to refill a full burst if that is longer.
const (
	limiterIdleTimeout   = 10 * time.Minute
	limiterSweepInterval = time.Minute
)

// hostLimiter is the connect limiter for one remote address.
type hostLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// pairing is a connect request waiting for the target to accept.
type pairing struct {
	from      string
	target    string
	responder chan *websocket.Conn
	done      chan struct{}
}

// Config holds server configuration
type Config struct {
	// Addr to listen on (default: ":8787")
	Addr string

	// PairTimeout bounds how long an initiator waits for the target to
	// accept (default: 30s)
	PairTimeout time.Duration

	// ConnectRate and ConnectBurst limit /connect attempts per remote
	// address (default: 1/s, burst 5)
	ConnectRate  rate.Limit
	ConnectBurst int

	// ReadLimit is the maximum frame size in bytes (default: 64 MiB)
	ReadLimit int64

	// Logger for server activity (default: stderr logger)
	Logger *log.Logger
}

// DefaultConfig returns sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Addr:         ":8787",
		PairTimeout:  30 * time.Second,
		ConnectRate:  rate.Every(time.Second),
		ConnectBurst: 5,
		ReadLimit:    DefaultReadLimit,
		Logger:       log.New(os.Stderr, "[relay] ", log.LstdFlags),
	}
}

// NewServer creates a new relay server
func NewServer(config *Config) *Server {
	defaults := DefaultConfig()
	if config == nil {
		config = defaults
	}
	if config.Addr == "" {
		config.Addr = defaults.Addr
	}
	if config.PairTimeout <= 0 {
		config.PairTimeout = defaults.PairTimeout
	}
	if config.ConnectRate <= 0 {
		config.ConnectRate = defaults.ConnectRate
	}
	if config.ConnectBurst <= 0 {
		config.ConnectBurst = defaults.ConnectBurst
	}
	if config.ReadLimit <= 0 {
		config.ReadLimit = defaults.ReadLimit
	}
	if config.Logger == nil {
		config.Logger = defaults.Logger
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Server{
		addr:         config.Addr,
		peers:        make(map[string]*websocket.Conn),
		pending:      make(map[string]*pairing),
		conns:        make(map[*websocket.Conn]struct{}),
		limiters:     make(map[string]*hostLimiter),
		connectRate:  config.ConnectRate,
		connectBurst: config.ConnectBurst,
		limiterIdle:  idleAfter(config.ConnectRate, config.ConnectBurst),
		pairTimeout:  config.PairTimeout,
		readLimit:    config.ReadLimit,
		ctx:          ctx,
		cancel:       cancel,
		logger:       config.Logger,
	}
}

// Handler returns the HTTP handler serving the relay endpoints.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/register", s.handleRegister)
	mux.HandleFunc("/connect", s.handleConnect)
	mux.HandleFunc("/accept", s.handleAccept)
	mux.HandleFunc("/health", s.handleHealth)
	return mux
}

// Start begins the HTTP server
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.addr, err)
	}
	s.listener = ln

	s.server = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.wg.Add(2)
	go func() {
		defer s.wg.Done()
		s.logger.Printf("Relay listening on %s", ln.Addr())
		if err := s.server.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.logger.Printf("Server error: %v", err)
		}
	}()
	go s.sweepLimiters()

	return nil
}

// Stop closes every socket and shuts down the server
func (s *Server) Stop() error {
	s.logger.Println("Stopping relay")

	s.cancel()

	s.connsMu.Lock()
	for conn := range s.conns {
		_ = conn.Close(websocket.StatusGoingAway, "relay shutting down")
		delete(s.conns, conn)
	}
	s.connsMu.Unlock()

	if s.server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := s.server.Shutdown(ctx); err != nil {
			return fmt.Errorf("server shutdown error: %w", err)
		}
	}

	s.wg.Wait()

	s.logger.Println("Relay stopped")
	return nil
}

// GetAddr returns the server's listening address
func (s *Server) GetAddr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.addr
}

// PeerCount returns the number of registered peers
func (s *Server) PeerCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.peers)
}

// accept upgrades the request and tracks the socket until release is called.
func (s *Server) accept(w http.ResponseWriter, r *http.Request) (*websocket.Conn, error) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		s.logger.Printf("WebSocket upgrade failed: %v", err)
		return nil, err
	}
	conn.SetReadLimit(s.readLimit)

	s.connsMu.Lock()
	s.conns[conn] = struct{}{}
	s.connsMu.Unlock()
	return conn, nil
}

func (s *Server) release(conn *websocket.Conn, code websocket.StatusCode, reason string) {
	s.connsMu.Lock()
	delete(s.conns, conn)
	s.connsMu.Unlock()
	_ = conn.Close(code, reason)
}

// handleRegister assigns a code to a control socket and keeps it open
func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	conn, err := s.accept(w, r)
	if err != nil {
		return
	}

	s.mu.Lock()
	id := newCode()
	for s.peers[id] != nil {
		id = newCode()
	}
	s.peers[id] = conn
	count := len(s.peers)
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(s.peers, id)
		count := len(s.peers)
		s.mu.Unlock()
		s.release(conn, websocket.StatusNormalClosure, "")
		s.logger.Printf("Peer %s unregistered (total: %d)", id, count)
	}()

	if err := writeMessage(s.ctx, conn, Message{Type: MessageTypeRegistered, ID: id}); err != nil {
		s.logger.Printf("Failed to send code to %s: %v", id, err)
		return
	}
	s.logger.Printf("Peer %s registered (total: %d)", id, count)

	// Keep the control socket alive until the client goes away
	for {
		if _, _, err := conn.Read(s.ctx); err != nil {
			return
		}
	}
}

// handleConnect joins an initiator with a registered target
func (s *Server) handleConnect(w http.ResponseWriter, r *http.Request) {
	target := strings.ToUpper(strings.TrimSpace(r.URL.Query().Get("target")))
	from := r.URL.Query().Get("from")
	if target == "" {
		http.Error(w, "missing target", http.StatusBadRequest)
		return
	}
	if !s.allow(remoteHost(r)) {
		http.Error(w, "too many connection attempts", http.StatusTooManyRequests)
		return
	}

	conn, err := s.accept(w, r)
	if err != nil {
		return
	}

	s.mu.Lock()
	control := s.peers[target]
	s.mu.Unlock()
	if control == nil {
		s.logger.Printf("Connect from %s to unknown peer %s", from, target)
		s.release(conn, StatusUnknownPeer, "unknown peer")
		return
	}

	token := uuid.NewString()
	p := &pairing{
		from:      from,
		target:    target,
		responder: make(chan *websocket.Conn, 1),
		done:      make(chan struct{}),
	}
	s.mu.Lock()
	s.pending[token] = p
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(s.pending, token)
		s.mu.Unlock()
		close(p.done)
	}()

	notice := Message{Type: MessageTypeIncoming, From: from, Pair: token}
	if err := writeMessage(s.ctx, control, notice); err != nil {
		s.logger.Printf("Failed to notify %s: %v", target, err)
		s.release(conn, StatusUnknownPeer, "peer unreachable")
		return
	}

	timer := time.NewTimer(s.pairTimeout)
	defer timer.Stop()

	var responder *websocket.Conn
	select {
	case responder = <-p.responder:
	case <-timer.C:
		s.logger.Printf("Pairing %s -> %s timed out", from, target)
		s.release(conn, StatusPairTimeout, "peer did not accept")
		return
	case <-s.ctx.Done():
		s.release(conn, websocket.StatusGoingAway, "relay shutting down")
		return
	}

	s.logger.Printf("Paired %s -> %s", from, target)
	s.relay(conn, responder, from, target)
}

// handleAccept attaches the responder's data socket to a pending pairing
func (s *Server) handleAccept(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("pair")

	conn, err := s.accept(w, r)
	if err != nil {
		return
	}

	s.mu.Lock()
	p := s.pending[token]
	delete(s.pending, token)
	s.mu.Unlock()
	if p == nil {
		s.release(conn, StatusUnknownPeer, "unknown pairing")
		return
	}

	p.responder <- conn

	// The connect handler owns the socket from here on
	select {
	case <-p.done:
	case <-s.ctx.Done():
	}
	// No-op when the relay already closed it
	s.release(conn, StatusPairTimeout, "pairing expired")
}

// relay forwards frames in both directions until either side closes, then
// closes the other side with the same status.
func (s *Server) relay(initiator, responder *websocket.Conn, from, target string) {
	for _, pair := range []struct {
		conn *websocket.Conn
		peer string
	}{{initiator, target}, {responder, from}} {
		if err := writeMessage(s.ctx, pair.conn, Message{Type: MessageTypePaired, Peer: pair.peer}); err != nil {
			s.logger.Printf("Failed to announce pairing: %v", err)
			s.release(initiator, websocket.StatusInternalError, "pairing failed")
			s.release(responder, websocket.StatusInternalError, "pairing failed")
			return
		}
	}

	errc := make(chan error, 2)
	go func() { errc <- s.pipe(responder, initiator) }()
	go func() { errc <- s.pipe(initiator, responder) }()

	err := <-errc
	code := websocket.CloseStatus(err)
	if code == -1 {
		code = websocket.StatusGoingAway
	}
	s.release(initiator, code, "")
	s.release(responder, code, "")
	<-errc

	s.logger.Printf("Closed %s -> %s (%d)", from, target, code)
}

// pipe copies frames from src to dst until a read or write fails.
func (s *Server) pipe(dst, src *websocket.Conn) error {
	for {
		typ, data, err := src.Read(s.ctx)
		if err != nil {
			return err
		}
		if err := dst.Write(s.ctx, typ, data); err != nil {
			return err
		}
	}
}

// allow applies the per-address connect rate limit.
func (s *Server) allow(host string) bool {
	return s.allowAt(host, time.Now())
}

func (s *Server) allowAt(host string, now time.Time) bool {
	s.limitersMu.Lock()
	defer s.limitersMu.Unlock()

	hl, ok := s.limiters[host]
	if !ok {
		hl = &hostLimiter{limiter: rate.NewLimiter(s.connectRate, s.connectBurst)}
		s.limiters[host] = hl
	}
	hl.lastSeen = now
	return hl.limiter.AllowN(now, 1)
}

// sweepLimiters prunes idle limiters until the server stops.
func (s *Server) sweepLimiters() {
	defer s.wg.Done()

	ticker := time.NewTicker(limiterSweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case now := <-ticker.C:
			s.pruneLimiters(now)
		}
	}
}

// pruneLimiters drops limiters whose bucket has refilled since last use.
func (s *Server) pruneLimiters(now time.Time) {
	s.limitersMu.Lock()
	defer s.limitersMu.Unlock()

	for host, hl := range s.limiters {
		if now.Sub(hl.lastSeen) > s.limiterIdle {
			delete(s.limiters, host)
		}
	}
}

func idleAfter(r rate.Limit, burst int) time.Duration {
	refill := time.Duration(float64(burst) / float64(r) * float64(time.Second))
	return max(limiterIdleTimeout, refill)
}

func (s *Server) limiterCount() int {
	s.limitersMu.Lock()
	defer s.limitersMu.Unlock()
	return len(s.limiters)
}

// handleHealth returns server health status
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	peers := len(s.peers)
	pairings := len(s.pending)
	s.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"status":   "ok",
		"peers":    peers,
		"pairings": pairings,
	})
}

func remoteHost(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// newCode returns an 8-character uppercase code for display.
func newCode() string {
	return strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:8])
}
