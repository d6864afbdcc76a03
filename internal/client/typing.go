package client

import (
	"sort"
	"sync"
	"time"
)

// DefaultTypingTimeout is how long a peer stays "typing" without a fresh signal.
const DefaultTypingTimeout = 3 * time.Second

// Timer is the part of *time.Timer the tracker needs.
type Timer interface {
	Stop() bool
}

// TypingOption configures a TypingTracker.
type TypingOption func(*TypingTracker)

// WithAfterFunc replaces time.AfterFunc, mainly for tests.
func WithAfterFunc(fn func(time.Duration, func()) Timer) TypingOption {
	return func(t *TypingTracker) {
		t.afterFunc = fn
	}
}

type typingState struct {
	gen   uint64
	timer Timer
}

// TypingTracker keeps the local view of which peers are typing. The server
// never sends a closing signal on the sender's behalf, so every start arms
// an expiry that clears the flag on its own.
type TypingTracker struct {
	mu        sync.Mutex
	timeout   time.Duration
	afterFunc func(time.Duration, func()) Timer
	onExpire  func(peer string)
	peers     map[string]*typingState
	gen       uint64
}

// NewTypingTracker returns a tracker expiring after timeout (DefaultTypingTimeout
// when zero). onExpire, when set, runs after a peer times out.
func NewTypingTracker(timeout time.Duration, onExpire func(peer string), opts ...TypingOption) *TypingTracker {
	if timeout <= 0 {
		timeout = DefaultTypingTimeout
	}
	t := &TypingTracker{
		timeout:  timeout,
		onExpire: onExpire,
		peers:    make(map[string]*typingState),
		afterFunc: func(d time.Duration, f func()) Timer {
			return time.AfterFunc(d, f)
		},
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Start marks peer as typing and (re)arms its expiry.
func (t *TypingTracker) Start(peer string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if st, ok := t.peers[peer]; ok {
		st.timer.Stop()
	}
	t.gen++
	gen := t.gen
	t.peers[peer] = &typingState{
		gen:   gen,
		timer: t.afterFunc(t.timeout, func() { t.expire(peer, gen) }),
	}
}

// Stop clears peer's typing flag.
func (t *TypingTracker) Stop(peer string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if st, ok := t.peers[peer]; ok {
		st.timer.Stop()
		delete(t.peers, peer)
	}
}

// IsTyping reports whether peer is currently shown as typing.
func (t *TypingTracker) IsTyping(peer string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.peers[peer]
	return ok
}

// Typing lists the peers currently typing, sorted.
func (t *TypingTracker) Typing() []string {
	t.mu.Lock()
	peers := make([]string, 0, len(t.peers))
	for p := range t.peers {
		peers = append(peers, p)
	}
	t.mu.Unlock()
	sort.Strings(peers)
	return peers
}

func (t *TypingTracker) expire(peer string, gen uint64) {
	t.mu.Lock()
	st, ok := t.peers[peer]
	if !ok || st.gen != gen {
		t.mu.Unlock()
		return
	}
	delete(t.peers, peer)
	t.mu.Unlock()

	if t.onExpire != nil {
		t.onExpire(peer)
	}
}
