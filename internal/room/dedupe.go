package room

import (
	"log/slog"
	"sync"
	"time"
)

// DefaultWatchdog releases a stuck in-flight token after this long.
const DefaultWatchdog = 30 * time.Second

// Deduper guards each (connection, operation) pair so a duplicated client
// event cannot double-apply. A watchdog releases tokens that were never
// ended, without reversing whatever side effects the operation had.
type Deduper struct {
	mu       sync.Mutex
	inflight map[string]*time.Timer
	watchdog time.Duration
}

// NewDeduper creates a deduper with the given watchdog window; zero means the
// default 30 seconds.
func NewDeduper(watchdog time.Duration) *Deduper {
	if watchdog <= 0 {
		watchdog = DefaultWatchdog
	}
	return &Deduper{
		inflight: make(map[string]*time.Timer),
		watchdog: watchdog,
	}
}

func key(connID, op string) string {
	return connID + ":" + op
}

// Begin claims the token for (connID, op). It returns false when the same
// operation is already in flight on that connection.
func (d *Deduper) Begin(connID, op string) bool {
	k := key(connID, op)

	d.mu.Lock()
	defer d.mu.Unlock()

	if _, exists := d.inflight[k]; exists {
		return false
	}
	d.inflight[k] = time.AfterFunc(d.watchdog, func() {
		d.mu.Lock()
		delete(d.inflight, k)
		d.mu.Unlock()
		slog.Warn("in-flight token released by watchdog", "conn_id", connID, "op", op)
	})
	return true
}

// End releases the token and cancels its watchdog.
func (d *Deduper) End(connID, op string) {
	k := key(connID, op)

	d.mu.Lock()
	defer d.mu.Unlock()

	if timer, exists := d.inflight[k]; exists {
		timer.Stop()
		delete(d.inflight, k)
	}
}

// Cleanup cancels every outstanding token of a connection.
func (d *Deduper) Cleanup(connID string) {
	prefix := connID + ":"

	d.mu.Lock()
	defer d.mu.Unlock()

	for k, timer := range d.inflight {
		if len(k) > len(prefix) && k[:len(prefix)] == prefix {
			timer.Stop()
			delete(d.inflight, k)
		}
	}
}
