// Package relay implements the session engine: the pending/active/banned
// state machine, the reply-correlation table, and the rate-limited
// forwarder that moves messages between users and operators.
package relay

// SessionStatus is the effective state of a user, ban excluded. Ban is an
// orthogonal flag checked before status; see Registry.IsBanned.
type SessionStatus int

const (
	StatusUnregistered SessionStatus = iota
	StatusPending
	StatusActive
)

func (s SessionStatus) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusActive:
		return "active"
	default:
		return "unregistered"
	}
}

// Result is the outcome of a registry operation. State conflicts are
// results, not errors: an operator retrying a command after a slow network
// round trip is expected, so duplicates must land as benign statuses.
type Result string

const (
	ResultAccepted       Result = "accepted"
	ResultAlreadyPending Result = "already_pending"
	ResultAlreadyActive  Result = "already_active"
	ResultBanned         Result = "banned"
	ResultCanceled       Result = "canceled"
	ResultNotPending     Result = "not_pending"
	ResultConnected      Result = "connected"
	ResultRejected       Result = "rejected"
	ResultEnded          Result = "ended"
	ResultNotActive      Result = "not_active"
	ResultUnbanned       Result = "unbanned"
)
