package peer

import (
	"time"

	nsync "github.com/nootle/nootle/internal/sync"
)

// State is a Peer Session state.
type State int

const (
	Idle State = iota
	Ready
	Connecting
	Accepting
	Exchanging
	Done
	Failed
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Ready:
		return "ready"
	case Connecting:
		return "connecting"
	case Accepting:
		return "accepting"
	case Exchanging:
		return "exchanging"
	case Done:
		return "done"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// Busy reports whether an exchange is in progress.
func (s State) Busy() bool {
	return s == Connecting || s == Accepting || s == Exchanging
}

// Role is the side a session plays in an exchange.
type Role string

const (
	RoleNone      Role = ""
	RoleInitiator Role = "initiator"
	RoleResponder Role = "responder"
)

// Status lines shown to the user.
const (
	StatusWaiting         = "Waiting to connect..."
	StatusReady           = "Ready! Share this code with your other device."
	StatusConnectingFmt   = "Connecting to %s..."
	StatusSending         = "Connected. Exporting and sending local data..."
	StatusIncoming        = "Connected to remote peer. Receiving data..."
	StatusReceiving       = "Receiving their data..."
	StatusMergedSendBack  = "Data merged successfully! Sending back our local data..."
	StatusSynced          = "All data completely synced!"
	StatusConnectFailed   = "Connection failed. Check the code."
	StatusUnknownPeer     = "No device is waiting with that code."
	StatusRateLimited     = "Too many connection attempts. Try again shortly."
	StatusConnectionError = "Connection error occurred."
	StatusTimedOut        = "Timed out waiting for the other device."
	StatusMergeFailed     = "Error merging received data."
	StatusExportFailed    = "Error processing sync operation."
	StatusCancelled       = "Sync cancelled."
)

// Event describes one state transition.
type Event struct {
	State  State
	Role   Role
	Status string
	Peer   string
	Err    error

	// Result is set on the transition to Done.
	Result *nsync.MergeResult

	Time time.Time
}
