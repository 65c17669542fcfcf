package engine

import (
	"context"
	"strings"
	"sync"
	"time"

	"overlayd/internal/storage"
	logx "overlayd/pkg/logx"
)

// Fingerprints tracks recently seen event fingerprints. A fingerprint stays
// "seen" until its window lapses; repeated hits never refresh the window.
//
// The in-memory map is authoritative. When a storage.Store is attached,
// windows are also written through asynchronously and consulted on a miss,
// so a restart inside the window still suppresses duplicates. Storage
// failures only ever degrade to in-memory behavior.
type Fingerprints struct {
	mu         sync.Mutex
	seen       map[string]time.Time // fingerprint -> expiry
	maxEntries int

	store     storage.Store
	persistCh chan persistItem
	log       logx.Logger

	now func() time.Time
}

type persistItem struct {
	key   string
	until time.Time
}

func NewFingerprints(maxEntries int, log logx.Logger) *Fingerprints {
	if maxEntries <= 0 {
		maxEntries = 2000
	}
	return &Fingerprints{
		seen:       make(map[string]time.Time),
		maxEntries: maxEntries,
		log:        log,
		now:        time.Now,
	}
}

// AttachStore enables best-effort persistence. The writer goroutine drains
// persistCh until ctx is cancelled.
func (f *Fingerprints) AttachStore(ctx context.Context, st storage.Store) {
	if st == nil {
		return
	}
	f.mu.Lock()
	f.store = st
	f.persistCh = make(chan persistItem, 256)
	ch := f.persistCh
	f.mu.Unlock()

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case it := <-ch:
				wctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
				err := st.PutDedup(wctx, it.key, it.until)
				cancel()
				if err != nil && !f.log.IsZero() {
					f.log.Debug("dedup persist failed", logx.Err(err))
				}
			}
		}
	}()
}

// Seen reports whether key is inside a live window.
func (f *Fingerprints) Seen(key string) bool {
	if key == "" {
		return false
	}
	now := f.now()

	f.mu.Lock()
	f.sweepLocked(now)
	until, ok := f.seen[key]
	st := f.store
	f.mu.Unlock()

	if ok && now.Before(until) {
		return true
	}
	if ok {
		return false
	}

	// Miss: consult persistent windows (survives restarts). Best-effort.
	if st != nil {
		rctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
		puntil, found, err := st.GetDedup(rctx, key)
		cancel()
		if err == nil && found && now.Before(puntil) {
			f.mu.Lock()
			f.seen[key] = puntil
			f.mu.Unlock()
			return true
		}
	}
	return false
}

// Mark records key for window. An already live key keeps its original
// expiry; windows are installed once, never extended by repeats.
func (f *Fingerprints) Mark(key string, window time.Duration) {
	if key == "" || window <= 0 {
		return
	}
	now := f.now()
	until := now.Add(window)

	f.mu.Lock()
	if prev, ok := f.seen[key]; ok && now.Before(prev) {
		f.mu.Unlock()
		return
	}
	f.seen[key] = until
	f.sweepLocked(now)
	f.evictLocked()
	ch := f.persistCh
	f.mu.Unlock()

	if ch != nil {
		select {
		case ch <- persistItem{key: key, until: until}:
		default:
			// persistence is best-effort; drop rather than block normalization
		}
	}
}

// Len reports the live window count (test/diagnostic helper).
func (f *Fingerprints) Len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.seen)
}

func (f *Fingerprints) sweepLocked(now time.Time) {
	for k, until := range f.seen {
		if !now.Before(until) {
			delete(f.seen, k)
		}
	}
}

// evictLocked caps the map by dropping the entries closest to expiry.
func (f *Fingerprints) evictLocked() {
	for len(f.seen) > f.maxEntries {
		var earliestKey string
		var earliest time.Time
		first := true
		for k, until := range f.seen {
			if first || until.Before(earliest) {
				earliest = until
				earliestKey = k
				first = false
			}
		}
		delete(f.seen, earliestKey)
	}
}

// GiftSuppressor remembers community-gift senders so the individual gift
// notifications that trail a community gift are not announced twice.
type GiftSuppressor struct {
	mu    sync.Mutex
	until map[string]time.Time
	now   func() time.Time
}

func NewGiftSuppressor() *GiftSuppressor {
	return &GiftSuppressor{until: make(map[string]time.Time), now: time.Now}
}

// Suppress arms (or extends) the window for sender.
func (g *GiftSuppressor) Suppress(sender string, window time.Duration) {
	sender = strings.ToLower(strings.TrimSpace(sender))
	if sender == "" || window <= 0 {
		return
	}
	now := g.now()
	until := now.Add(window)
	g.mu.Lock()
	if prev, ok := g.until[sender]; !ok || until.After(prev) {
		g.until[sender] = until
	}
	g.mu.Unlock()
}

// IsSuppressed reports whether sender is inside a live window, evicting
// lapsed entries as it goes.
func (g *GiftSuppressor) IsSuppressed(sender string) bool {
	sender = strings.ToLower(strings.TrimSpace(sender))
	if sender == "" {
		return false
	}
	now := g.now()
	g.mu.Lock()
	defer g.mu.Unlock()
	for k, until := range g.until {
		if !now.Before(until) {
			delete(g.until, k)
		}
	}
	until, ok := g.until[sender]
	return ok && now.Before(until)
}

// EchoGuard suppresses the chat echo a channel point redemption produces:
// the same user posting the same text right after redeeming.
type EchoGuard struct {
	mu     sync.Mutex
	window time.Duration
	last   map[string]echoEntry
	now    func() time.Time
}

type echoEntry struct {
	text string
	at   time.Time
}

func NewEchoGuard(window time.Duration) *EchoGuard {
	if window <= 0 {
		window = 1500 * time.Millisecond
	}
	return &EchoGuard{window: window, last: make(map[string]echoEntry), now: time.Now}
}

// Record notes a redemption's user and text.
func (e *EchoGuard) Record(user, text string) {
	user = strings.ToLower(strings.TrimSpace(user))
	if user == "" || text == "" {
		return
	}
	e.mu.Lock()
	e.last[user] = echoEntry{text: text, at: e.now()}
	e.mu.Unlock()
}

// IsEcho reports whether a chat line from user matches a redemption recorded
// inside the window. Both user and text must match.
func (e *EchoGuard) IsEcho(user, text string) bool {
	user = strings.ToLower(strings.TrimSpace(user))
	if user == "" || text == "" {
		return false
	}
	now := e.now()
	e.mu.Lock()
	defer e.mu.Unlock()
	ent, ok := e.last[user]
	if !ok {
		return false
	}
	if now.Sub(ent.at) > e.window {
		delete(e.last, user)
		return false
	}
	return ent.text == text
}
