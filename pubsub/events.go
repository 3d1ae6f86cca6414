package pubsub

import "fmt"

// EventKind is the terminal state of a publication
type EventKind int

// Publication outcomes. Each publication produces exactly one of them.
const (
	EventPublished EventKind = iota + 1
	EventTimeout
	EventError
)

func (k EventKind) String() string {
	switch k {
	case EventPublished:
		return "published"
	case EventTimeout:
		return "timeout"
	case EventError:
		return "error"
	}
	return fmt.Sprintf("EventKind(%d)", int(k))
}

// Valid reports whether k is one of the defined kinds
func (k EventKind) Valid() bool {
	return k >= EventPublished && k <= EventError
}

// Event is delivered to listeners.
//
// Published carries Publication; Timeout carries PublicationID only;
// Error carries Publication and Err.
type Event struct {
	Kind          EventKind
	PublicationID string
	Publication   *Publication
	Err           error
}

// Listener receives publication events. Listeners run synchronously on the
// publishing goroutine and must not block.
type Listener func(Event)
