package replication

import (
	"errors"
	"fmt"
)

// ErrDatabaseNotFound is reported when the remote peer doesn't have the database.
var ErrDatabaseNotFound = errors.New("database not found")

// ErrDenied is reported when the document store refused the replication.
var ErrDenied = errors.New("replication denied")

// Auth carries the pre-shared key the transport authenticates with. It never
// holds identity keys.
type Auth struct {
	PskIdentity string
	PskSecret   []byte
}

// Options for a single replication.
type Options struct {
	// Live keeps replicating after catching up.
	Live bool
	// Retry makes the document store retry after transient failures.
	Retry bool
	Auth  Auth
}

// EventType of a replication event.
type EventType uint8

const (
	EventPaused EventType = iota + 1
	EventActive
	EventDenied
	EventComplete
	EventError
)

func (t EventType) String() string {
	switch t {
	case EventPaused:
		return "paused"
	case EventActive:
		return "active"
	case EventDenied:
		return "denied"
	case EventComplete:
		return "complete"
	case EventError:
		return "error"
	}
	return fmt.Sprintf("event(%d)", uint8(t))
}

// Event is emitted by a running replication.
type Event struct {
	Type EventType
	// Err is set for EventError and EventDenied.
	Err error
	// DocsWritten is the number of documents written so far, when known.
	DocsWritten int
}
