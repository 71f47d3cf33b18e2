// Package peer runs one device-to-device sync exchange over a transport.
//
// A Session moves through these states:
//
//	IDLE ──Open──► READY ──Connect──► CONNECTING ──► EXCHANGING ──► DONE
//	                 │                                   ▲            │
//	                 └──inbound channel──► ACCEPTING ────┘            │
//	CONNECTING, ACCEPTING, EXCHANGING ──error/timeout──► FAILED       │
//	DONE, FAILED ──Reset──► READY ◄───────────────────────────────────┘
//
// The initiator sends its snapshot first and merges the reply. The
// responder merges what it receives, then sends back its own snapshot, which
// now includes the initiator's newer records. One round trip leaves both
// stores converged.
//
// Only one exchange runs at a time. A second Connect or inbound channel
// while an exchange is in progress fails with ErrBusy.
package peer

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"github.com/nootle/nootle/internal/schema"
	nsync "github.com/nootle/nootle/internal/sync"
	"github.com/nootle/nootle/internal/transport"
)

var (
	// ErrBusy is returned when an exchange is already in progress.
	ErrBusy = errors.New("sync already in progress")

	// ErrInvalidState is returned when an operation is not allowed in the
	// session's current state.
	ErrInvalidState = errors.New("invalid session state")
)

// Phase names the step of an exchange that failed.
type Phase string

const (
	PhaseConnect Phase = "connect"
	PhaseExport  Phase = "export"
	PhaseSend    Phase = "send"
	PhaseReceive Phase = "receive"
	PhaseMerge   Phase = "merge"
)

// Error is returned by a failed exchange.
type Error struct {
	Phase Phase
	Peer  string
	Err   error
}

func (e *Error) Error() string {
	return fmt.Sprintf("sync with %s failed during %s: %v", e.Peer, e.Phase, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// IsMergeError reports whether err means the received snapshot was rejected
// or could not be applied. The local store is unchanged in that case.
func IsMergeError(err error) bool {
	var verr *schema.ValidationError
	if errors.As(err, &verr) {
		return true
	}
	var perr *Error
	return errors.As(err, &perr) && perr.Phase == PhaseMerge
}

// IsTransportError reports whether err came from the channel rather than
// from merging. A payload that is not valid JSON counts as a transport
// error.
func IsTransportError(err error) bool {
	return transport.IsTransportError(err) || errors.Is(err, schema.ErrCorruptPayload)
}

// Config holds session configuration
type Config struct {
	// ReceiveTimeout bounds the wait for the peer's snapshot (default: 60s)
	ReceiveTimeout time.Duration

	// ConnectTimeout bounds opening a channel (default: 15s)
	ConnectTimeout time.Duration

	// Logger for session activity (default: stderr logger)
	Logger *log.Logger
}

// DefaultConfig returns sensible defaults
func DefaultConfig() *Config {
	return &Config{
		ReceiveTimeout: 60 * time.Second,
		ConnectTimeout: 15 * time.Second,
		Logger:         log.New(os.Stderr, "[peer] ", log.LstdFlags),
	}
}

// Session is the state machine for sync exchanges on one transport.
type Session struct {
	transport transport.Transport
	syncer    nsync.Syncer

	receiveTimeout time.Duration
	connectTimeout time.Duration
	logger         *log.Logger

	mu        sync.Mutex
	state     State
	role      Role
	peer      string
	status    string
	lastErr   error
	observers map[int]func(Event)
	nextObs   int
}

// New creates a session in the Idle state.
func New(tr transport.Transport, syncer nsync.Syncer, config *Config) *Session {
	defaults := DefaultConfig()
	if config == nil {
		config = defaults
	}
	if config.ReceiveTimeout <= 0 {
		config.ReceiveTimeout = defaults.ReceiveTimeout
	}
	if config.ConnectTimeout <= 0 {
		config.ConnectTimeout = defaults.ConnectTimeout
	}
	if config.Logger == nil {
		config.Logger = defaults.Logger
	}

	return &Session{
		transport:      tr,
		syncer:         syncer,
		receiveTimeout: config.ReceiveTimeout,
		connectTimeout: config.ConnectTimeout,
		logger:         config.Logger,
		state:          Idle,
		status:         StatusWaiting,
		observers:      make(map[int]func(Event)),
	}
}

// LocalID returns the code other devices connect to.
func (s *Session) LocalID() string {
	return s.transport.LocalID()
}

// State returns the current state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Status returns the current human-readable status line.
func (s *Session) Status() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// Err returns the error that moved the session to Failed, if any.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastErr
}

// Subscribe registers fn for every state transition. Observers run on the
// goroutine that caused the transition and must not call back into the
// session's mutating methods. The returned function unsubscribes.
func (s *Session) Subscribe(fn func(Event)) (unsubscribe func()) {
	s.mu.Lock()
	id := s.nextObs
	s.nextObs++
	s.observers[id] = fn
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		delete(s.observers, id)
		s.mu.Unlock()
	}
}

// Open moves the session from Idle to Ready once the transport has a
// local id.
func (s *Session) Open(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s.transport.LocalID() == "" {
		return fmt.Errorf("%w: transport has no local id", ErrInvalidState)
	}

	s.mu.Lock()
	if s.state != Idle {
		state := s.state
		s.mu.Unlock()
		return fmt.Errorf("%w: cannot open from %s", ErrInvalidState, state)
	}
	ev := s.setLocked(Ready, RoleNone, "", StatusReady, nil, nil)
	s.mu.Unlock()

	s.emit(ev)
	return nil
}

// Reset moves a finished session back to Ready so another exchange can run.
func (s *Session) Reset() error {
	s.mu.Lock()
	switch {
	case s.state == Ready:
		s.mu.Unlock()
		return nil
	case s.state.Busy():
		s.mu.Unlock()
		return ErrBusy
	case s.state != Done && s.state != Failed:
		state := s.state
		s.mu.Unlock()
		return fmt.Errorf("%w: cannot reset from %s", ErrInvalidState, state)
	}
	ev := s.setLocked(Ready, RoleNone, "", StatusReady, nil, nil)
	s.mu.Unlock()

	s.emit(ev)
	return nil
}

// Connect runs the initiator side of an exchange with remoteID and returns
// the result of merging the peer's reply.
func (s *Session) Connect(ctx context.Context, remoteID string) (*nsync.MergeResult, error) {
	if err := s.begin(Connecting, RoleInitiator, remoteID, fmt.Sprintf(StatusConnectingFmt, remoteID)); err != nil {
		return nil, err
	}

	connectCtx, cancel := context.WithTimeout(ctx, s.connectTimeout)
	ch, err := s.transport.Connect(connectCtx, remoteID)
	cancel()
	if err != nil {
		return nil, s.fail(ctx, PhaseConnect, remoteID, err)
	}
	defer ch.Close()

	s.transition(Exchanging, StatusSending)

	payload, err := s.exportPayload(ctx)
	if err != nil {
		return nil, s.fail(ctx, PhaseExport, remoteID, err)
	}
	if err := ch.Send(ctx, payload); err != nil {
		return nil, s.fail(ctx, PhaseSend, remoteID, err)
	}

	s.transition(Exchanging, StatusReceiving)

	snap, err := s.receive(ctx, ch)
	if err != nil {
		return nil, s.fail(ctx, PhaseReceive, remoteID, err)
	}

	result, err := s.syncer.Merge(ctx, snap)
	if err != nil {
		return nil, s.fail(ctx, PhaseMerge, remoteID, err)
	}

	s.finish(result)
	return result, nil
}

// HandleIncoming runs the responder side of an exchange on ch. The channel
// is always closed when HandleIncoming returns; a busy session rejects it
// with ErrBusy.
func (s *Session) HandleIncoming(ctx context.Context, ch transport.Channel) (*nsync.MergeResult, error) {
	remoteID := ch.RemoteID()
	if err := s.begin(Accepting, RoleResponder, remoteID, StatusIncoming); err != nil {
		_ = ch.Close()
		return nil, err
	}
	defer ch.Close()

	s.transition(Exchanging, StatusReceiving)

	snap, err := s.receive(ctx, ch)
	if err != nil {
		return nil, s.fail(ctx, PhaseReceive, remoteID, err)
	}

	result, err := s.syncer.Merge(ctx, snap)
	if err != nil {
		return nil, s.fail(ctx, PhaseMerge, remoteID, err)
	}

	s.transition(Exchanging, StatusMergedSendBack)

	payload, err := s.exportPayload(ctx)
	if err != nil {
		return nil, s.fail(ctx, PhaseExport, remoteID, err)
	}
	if err := ch.Send(ctx, payload); err != nil {
		return nil, s.fail(ctx, PhaseSend, remoteID, err)
	}

	s.finish(result)
	return result, nil
}

// Serve accepts inbound channels and answers each one in turn until ctx is
// done or the transport closes. A finished session is re-armed to Ready
// before each new exchange.
func (s *Session) Serve(ctx context.Context) error {
	if s.State() == Idle {
		return fmt.Errorf("%w: open the session before serving", ErrInvalidState)
	}

	for {
		ch, err := s.transport.Accept(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if errors.Is(err, transport.ErrClosed) {
				return err
			}
			s.logger.Printf("Accept failed: %v", err)
			continue
		}

		if err := s.Reset(); err != nil && !errors.Is(err, ErrBusy) {
			_ = ch.Close()
			return err
		}

		result, err := s.HandleIncoming(ctx, ch)
		switch {
		case errors.Is(err, ErrBusy):
			s.logger.Printf("Rejected connection from %s: %v", ch.RemoteID(), err)
		case err != nil:
			s.logger.Printf("Exchange with %s failed: %v", ch.RemoteID(), err)
		default:
			s.logger.Printf("Exchange with %s done: created=%d updated=%d skipped=%d",
				ch.RemoteID(), result.Created, result.Updated, result.Skipped)
		}
	}
}

// exportPayload exports and encodes the local store.
func (s *Session) exportPayload(ctx context.Context) ([]byte, error) {
	snap, err := s.syncer.Export(ctx)
	if err != nil {
		return nil, err
	}
	return snap.Encode()
}

// receive waits for exactly one snapshot message.
func (s *Session) receive(ctx context.Context, ch transport.Channel) (schema.Snapshot, error) {
	rctx, cancel := context.WithTimeout(ctx, s.receiveTimeout)
	defer cancel()

	data, err := ch.Receive(rctx)
	if err != nil {
		return nil, err
	}
	return schema.DecodeSnapshot(data)
}

// begin starts an exchange from Ready.
func (s *Session) begin(state State, role Role, peer, status string) error {
	s.mu.Lock()
	if s.state.Busy() {
		s.mu.Unlock()
		return ErrBusy
	}
	if s.state != Ready {
		current := s.state
		s.mu.Unlock()
		return fmt.Errorf("%w: cannot start an exchange from %s", ErrInvalidState, current)
	}
	ev := s.setLocked(state, role, peer, status, nil, nil)
	s.mu.Unlock()

	s.emit(ev)
	return nil
}

// transition changes state within the current exchange.
func (s *Session) transition(state State, status string) {
	s.mu.Lock()
	ev := s.setLocked(state, s.role, s.peer, status, nil, nil)
	s.mu.Unlock()
	s.emit(ev)
}

func (s *Session) finish(result *nsync.MergeResult) {
	s.mu.Lock()
	ev := s.setLocked(Done, s.role, s.peer, StatusSynced, nil, result)
	s.mu.Unlock()
	s.emit(ev)
}

// fail moves the session to Failed and returns the wrapped error.
func (s *Session) fail(ctx context.Context, phase Phase, peer string, err error) error {
	if ctx.Err() != nil && !errors.Is(err, ctx.Err()) {
		err = fmt.Errorf("%w: %w", ctx.Err(), err)
	}
	perr := &Error{Phase: phase, Peer: peer, Err: err}

	s.mu.Lock()
	ev := s.setLocked(Failed, s.role, s.peer, failureStatus(phase, err), perr, nil)
	s.mu.Unlock()
	s.emit(ev)

	return perr
}

// failureStatus picks the status line for a failed exchange.
func failureStatus(phase Phase, err error) string {
	var verr *schema.ValidationError
	switch {
	case errors.Is(err, context.Canceled):
		return StatusCancelled
	case errors.As(err, &verr), phase == PhaseMerge:
		return StatusMergeFailed
	case errors.Is(err, transport.ErrTimeout):
		return StatusTimedOut
	case errors.Is(err, transport.ErrUnknownPeer):
		return StatusUnknownPeer
	case errors.Is(err, transport.ErrRateLimited):
		return StatusRateLimited
	case phase == PhaseConnect:
		return StatusConnectFailed
	case phase == PhaseExport:
		return StatusExportFailed
	default:
		return StatusConnectionError
	}
}

// setLocked updates the state and returns the event to emit. s.mu must be held.
func (s *Session) setLocked(state State, role Role, peer, status string, err error, result *nsync.MergeResult) Event {
	s.state = state
	s.role = role
	s.peer = peer
	s.status = status
	s.lastErr = err

	return Event{
		State:  state,
		Role:   role,
		Status: status,
		Peer:   peer,
		Err:    err,
		Result: result,
		Time:   time.Now(),
	}
}

// emit logs ev and hands it to observers.
func (s *Session) emit(ev Event) {
	if ev.Err != nil {
		s.logger.Printf("%s: %s (%v)", ev.State, ev.Status, ev.Err)
	} else {
		s.logger.Printf("%s: %s", ev.State, ev.Status)
	}

	s.mu.Lock()
	observers := make([]func(Event), 0, len(s.observers))
	for _, fn := range s.observers {
		observers = append(observers, fn)
	}
	s.mu.Unlock()

	for _, fn := range observers {
		fn(ev)
	}
}
