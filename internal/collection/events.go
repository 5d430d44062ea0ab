package collection

import "github.com/kartikbazzad/docstore/internal/document"

// EventName identifies one of the four events a collection emits.
type EventName string

const (
	EventInsert EventName = "insert"
	EventUpdate EventName = "update"
	EventRemove EventName = "remove"
	EventClear  EventName = "clear"
)

// Event carries the documents relevant to one emission. Old is set only
// for update/remove.
type Event struct {
	Name EventName
	New  document.Doc
	Old  document.Doc
}

// Listener receives events. Panics and errors from listeners are caught
// and logged by the emitter; they never affect the triggering
// operation's result.
type Listener func(Event)

// observerRegistry is a best-effort, keyed-by-event-name listener
// registry, isolated from operation success.
type observerRegistry struct {
	listeners map[EventName][]Listener
}

func newObserverRegistry() *observerRegistry {
	return &observerRegistry{listeners: map[EventName][]Listener{}}
}

func (r *observerRegistry) On(name EventName, l Listener) {
	r.listeners[name] = append(r.listeners[name], l)
}

func (r *observerRegistry) emit(logWarn func(format string, args ...interface{}), ev Event) {
	for _, l := range r.listeners[ev.Name] {
		safeInvoke(logWarn, l, ev)
	}
}

func safeInvoke(logWarn func(format string, args ...interface{}), l Listener, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			logWarn("collection: event listener for %s panicked: %v", ev.Name, r)
		}
	}()
	l(ev)
}
