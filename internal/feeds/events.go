package feeds

import "time"

type EventKind string

const (
	EventInit          EventKind = "init"
	EventGetJSON       EventKind = "getjson"
	EventAttachElement EventKind = "attachelement"
	EventAttachMap     EventKind = "attachmap"
	EventRefresh       EventKind = "refresh"
	EventUpdate        EventKind = "update"
	EventDestroy       EventKind = "destroy"
)

// Event is a lifecycle notification for one feed instance.
type Event struct {
	Kind       EventKind `json:"kind"`
	Handle     Handle    `json:"handle"`
	Target     string    `json:"target"`
	ActivityID int64     `json:"activity_id,omitempty"`
	Region     string    `json:"region,omitempty"`
	TS         time.Time `json:"ts"`
}

// Sink receives every event of every instance. Publish must not block.
type Sink interface {
	Publish(ev Event)
}

type SinkFunc func(Event)

func (f SinkFunc) Publish(ev Event) { f(ev) }
