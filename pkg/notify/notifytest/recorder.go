// Package notifytest provides an in-memory notify.Sender for tests.
package notifytest

import (
	"context"
	"sync"

	"github.com/armorclaw/crashreport/pkg/notify"
)

// Recorder records every message it is asked to send
type Recorder struct {
	mu       sync.Mutex
	messages []notify.Message

	// Err, when set, is returned (as a transport failure) instead of recording
	Err error
}

// Send records msg or fails with Err
func (r *Recorder) Send(ctx context.Context, msg notify.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Err != nil {
		return notify.TransportError(r.Err)
	}
	r.messages = append(r.messages, msg)
	return nil
}

// Messages returns a copy of the recorded messages
func (r *Recorder) Messages() []notify.Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]notify.Message(nil), r.messages...)
}

// Len returns the number of recorded messages
func (r *Recorder) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.messages)
}
