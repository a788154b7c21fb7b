package domain

import "time"

// EventKind classifies the items delivered to the UI sink.
type EventKind int

const (
	// EventInfo is a plain status line (connect, disconnect, progress).
	EventInfo EventKind = iota
	// EventChat is an application chat message from the peer.
	EventChat
	// EventSecurity reports a trust or authentication outcome.
	EventSecurity
	// EventRenewal reports session-renewal activity.
	EventRenewal
	// EventFileOffer asks the operator to accept or decline a transfer.
	EventFileOffer
	// EventFile reports file-transfer progress and completion.
	EventFile
)

// Event is a single item delivered to the UI collaborator. The core never
// touches the terminal; rendering, colors and history are the sink's problem.
type Event struct {
	Kind EventKind
	Text string

	// From is the peer display name; set on EventChat only.
	From string
	Time time.Time

	// FileName and FileSize are set on EventFileOffer.
	FileName string
	FileSize int64
}

// EventFunc is the sink the UI registers to observe the connection core.
type EventFunc func(Event)
