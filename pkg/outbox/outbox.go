// Package outbox holds device-bound commands while the device is offline.
// It is an in-memory FIFO, not a durable log: ordering is the only invariant.
package outbox

import "time"

// Envelope is one pending device-bound message.
type Envelope struct {
	Payload    []byte
	EnqueuedAt time.Time
}

// Outbox is an ordered, unbounded queue of envelopes. It is not safe for
// concurrent use; the session manager is its single owner and producers
// must go through the manager.
type Outbox struct {
	entries []Envelope
}

// New creates an empty outbox.
func New() *Outbox {
	return &Outbox{}
}

// Append enqueues a payload at the back.
func (o *Outbox) Append(payload []byte) {
	o.entries = append(o.entries, Envelope{Payload: payload, EnqueuedAt: time.Now()})
}

// PushFront restores an envelope to the front after a failed delivery.
func (o *Outbox) PushFront(env Envelope) {
	o.entries = append([]Envelope{env}, o.entries...)
}

// Pop removes and returns the oldest envelope.
func (o *Outbox) Pop() (Envelope, bool) {
	if len(o.entries) == 0 {
		return Envelope{}, false
	}
	env := o.entries[0]
	o.entries = o.entries[1:]
	return env, true
}

// Len reports the number of pending envelopes.
func (o *Outbox) Len() int {
	return len(o.entries)
}
