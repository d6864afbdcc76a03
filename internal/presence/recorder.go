package presence

import (
	"context"
	"log"
	"sync"
	"time"

	"presence-service/internal/observability"
	"presence-service/internal/repositories"
)

const writeTimeout = 5 * time.Second

type write struct {
	userID string
	op     string
	at     time.Time
}

// Recorder applies presence side effects to the durable store and the
// optional mirror on a single worker. Callers never wait on storage: each
// user has at most one pending write holding its latest state, so a burst of
// connects and disconnects collapses to the state that was recorded last,
// and a slow store delays writes without backing up the hub. Failures are
// logged and counted, never returned to the caller.
type Recorder struct {
	store  repositories.PresenceStore
	mirror Mirror
	now    func() time.Time

	mu      sync.Mutex
	pending map[string]write
	order   []string
	waiters []chan struct{}
	closed  bool

	wake     chan struct{}
	stop     chan struct{}
	stopOnce sync.Once
	stopped  chan struct{}
}

// NewRecorder starts a Recorder. store and mirror may be nil.
func NewRecorder(store repositories.PresenceStore, mirror Mirror) *Recorder {
	r := &Recorder{
		store:   store,
		mirror:  mirror,
		now:     time.Now,
		pending: make(map[string]write),
		wake:    make(chan struct{}, 1),
		stop:    make(chan struct{}),
		stopped: make(chan struct{}),
	}
	go r.loop()
	return r
}

// Online records that userID connected.
func (r *Recorder) Online(userID string) {
	r.enqueue(write{userID: userID, op: "online"})
}

// Offline records that userID disconnected and stamps last-seen.
func (r *Recorder) Offline(userID string) {
	r.enqueue(write{userID: userID, op: "offline", at: r.now().UTC()})
}

// Heartbeat renews the mirror TTL for userID.
func (r *Recorder) Heartbeat(userID string) {
	if r.mirror == nil {
		return
	}
	r.enqueue(write{userID: userID, op: "heartbeat"})
}

// Flush blocks until every write recorded before the call has been applied.
func (r *Recorder) Flush() {
	done := make(chan struct{})
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.waiters = append(r.waiters, done)
	r.mu.Unlock()
	r.signal()
	<-done
}

// Close applies what is pending and stops the worker.
func (r *Recorder) Close() {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()
	r.stopOnce.Do(func() { close(r.stop) })
	<-r.stopped
}

func (r *Recorder) enqueue(w write) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		log.Printf("presence write dropped after close op=%s user_id=%s", w.op, w.userID)
		return
	}
	prev, ok := r.pending[w.userID]
	switch {
	case !ok:
		r.order = append(r.order, w.userID)
		r.pending[w.userID] = w
	case w.op == "heartbeat":
		// a pending online/offline already carries the newer state
		if prev.op == "heartbeat" {
			r.pending[w.userID] = w
		}
	default:
		r.pending[w.userID] = w
	}
	r.mu.Unlock()
	r.signal()
}

func (r *Recorder) signal() {
	select {
	case r.wake <- struct{}{}:
	default:
	}
}

func (r *Recorder) loop() {
	defer close(r.stopped)
	for {
		select {
		case <-r.wake:
			r.drain()
		case <-r.stop:
			r.drain()
			return
		}
	}
}

// drain applies batches until nothing is pending, releasing Flush callers
// once the batch they were waiting behind is done.
func (r *Recorder) drain() {
	for {
		r.mu.Lock()
		order, pending, waiters := r.order, r.pending, r.waiters
		r.order, r.pending, r.waiters = nil, make(map[string]write), nil
		r.mu.Unlock()

		if len(order) == 0 && len(waiters) == 0 {
			return
		}
		for _, id := range order {
			r.apply(pending[id])
		}
		for _, done := range waiters {
			close(done)
		}
	}
}

func (r *Recorder) apply(w write) {
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()

	switch w.op {
	case "online":
		if r.store != nil {
			if err := r.store.SetOnline(ctx, w.userID, true, nil); err != nil {
				r.fail("store", w, err)
			}
		}
		if r.mirror != nil {
			if err := r.mirror.Online(ctx, w.userID); err != nil {
				r.fail("mirror", w, err)
			}
		}
	case "offline":
		if r.store != nil {
			lastSeen := w.at
			if err := r.store.SetOnline(ctx, w.userID, false, &lastSeen); err != nil {
				r.fail("store", w, err)
			}
		}
		if r.mirror != nil {
			if err := r.mirror.Offline(ctx, w.userID); err != nil {
				r.fail("mirror", w, err)
			}
		}
	case "heartbeat":
		if err := r.mirror.Refresh(ctx, w.userID); err != nil {
			r.fail("mirror", w, err)
		}
	}
}

func (r *Recorder) fail(sink string, w write, err error) {
	log.Printf("presence write failed sink=%s op=%s user_id=%s: %v", sink, w.op, w.userID, err)
	observability.IncPresenceWriteError(sink)
}
