// Package session holds short-lived, TTL-bound conversation state for the
// command router. Entries expire lazily: a read that finds an expired entry
// deletes it and reports absence. No background goroutine is required for
// correctness; Sweep exists for opportunistic and scheduled cleanup.
package session

import (
	"hash/fnv"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// DefaultTTL is the entry lifetime when none is configured.
const DefaultTTL = 10 * time.Minute

// DefaultMaxEntries is the size above which Set triggers a bounded sweep.
const DefaultMaxEntries = 10000

// opportunisticSweepLimit caps how many entries a single Set will inspect.
const opportunisticSweepLimit = 256

const shardCount = 32

// State tags the multi-step flow a conversation (or one of its sub-keys) is in.
type State string

const (
	StateNone                     State = "NONE"
	StateAwaitCredentialsLogin    State = "AWAIT_CREDENTIALS_LOGIN"
	StateAwaitCredentialsRegister State = "AWAIT_CREDENTIALS_REGISTER"
	StateLastQueryDB              State = "LAST_QUERY_DB"
	StateLastQueryMarket          State = "LAST_QUERY_MARKET"
	StateLastQueryHelp            State = "LAST_QUERY_HELP"
)

// AwaitingCredentials reports whether s is one of the credential-capture states.
func (s State) AwaitingCredentials() bool {
	return strings.HasPrefix(string(s), "AWAIT_CREDENTIALS_")
}

// Sub-key suffixes for independent state machines on the same conversation.
const (
	SuffixDB     = "db"
	SuffixMarket = "market"
	SuffixHelp   = "help"
)

// ConversationKey identifies one logical conversation. It is derived per
// request and only ever used to build store keys.
type ConversationKey struct {
	Channel        string
	ExternalUserID string
	ChatID         string
}

// String returns the base store key for the conversation.
func (k ConversationKey) String() string {
	return k.Channel + ":" + k.ExternalUserID + ":" + k.ChatID
}

// WithSuffix returns the store key for an independent sub-state machine,
// e.g. "<key>|db".
func (k ConversationKey) WithSuffix(suffix string) string {
	if suffix == "" {
		return k.String()
	}
	return k.String() + "|" + suffix
}

// Entry is one stored state value.
type Entry struct {
	State     State
	Payload   string
	ExpiresAt time.Time
}

// Clock returns the current time. Tests inject a fake.
type Clock func() time.Time

// Store is a sharded TTL map. It is safe for concurrent use; operations on a
// single key are atomic and last write wins.
type Store struct {
	ttl        time.Duration
	maxEntries int
	now        Clock
	shards     [shardCount]shard

	count  atomic.Int64  // entries across all shards
	cursor atomic.Uint32 // shard the next Sweep starts at
}

type shard struct {
	mu      sync.Mutex
	entries map[string]Entry
}

// Opts holds parameters for creating a Store.
type Opts struct {
	TTL        time.Duration // defaults to DefaultTTL
	MaxEntries int           // defaults to DefaultMaxEntries
	Clock      Clock         // defaults to time.Now
}

// New creates a Store.
func New(opts Opts) *Store {
	s := &Store{
		ttl:        opts.TTL,
		maxEntries: opts.MaxEntries,
		now:        opts.Clock,
	}
	if s.ttl <= 0 {
		s.ttl = DefaultTTL
	}
	if s.maxEntries <= 0 {
		s.maxEntries = DefaultMaxEntries
	}
	if s.now == nil {
		s.now = time.Now
	}
	for i := range s.shards {
		s.shards[i].entries = make(map[string]Entry)
	}
	return s
}

func (s *Store) shardFor(key string) *shard {
	return &s.shards[shardIndex(key)]
}

func shardIndex(key string) uint32 {
	h := fnv.New32a()
	h.Write([]byte(key))
	return h.Sum32() % shardCount
}

// Get returns the live entry for key. An expired entry is removed and
// reported as absent.
func (s *Store) Get(key string) (Entry, bool) {
	sh := s.shardFor(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	e, ok := sh.entries[key]
	if !ok {
		return Entry{}, false
	}
	if !e.ExpiresAt.After(s.now()) {
		delete(sh.entries, key)
		s.count.Add(-1)
		return Entry{}, false
	}
	return e, true
}

// Set stores state and payload under key. StateNone clears the key. An
// optional ttl overrides the default for this entry only.
func (s *Store) Set(key string, state State, payload string, ttl ...time.Duration) {
	if state == StateNone || state == "" {
		s.Clear(key)
		return
	}
	d := s.ttl
	if len(ttl) > 0 && ttl[0] > 0 {
		d = ttl[0]
	}

	sh := s.shardFor(key)
	sh.mu.Lock()
	if _, exists := sh.entries[key]; !exists {
		s.count.Add(1)
	}
	sh.entries[key] = Entry{State: state, Payload: payload, ExpiresAt: s.now().Add(d)}
	sh.mu.Unlock()

	if s.Len() > s.maxEntries {
		s.Sweep(opportunisticSweepLimit)
	}
}

// Clear removes key. Clearing an absent key is a no-op.
func (s *Store) Clear(key string) {
	sh := s.shardFor(key)
	sh.mu.Lock()
	if _, ok := sh.entries[key]; ok {
		delete(sh.entries, key)
		s.count.Add(-1)
	}
	sh.mu.Unlock()
}

// Sweep removes expired entries, inspecting at most limit entries in total.
// limit <= 0 means no limit. Returns the number removed. Each call starts
// one shard further along, so bounded sweeps eventually cover every shard.
func (s *Store) Sweep(limit int) int {
	now := s.now()
	start := s.cursor.Add(1) - 1
	removed, inspected := 0, 0
	for i := uint32(0); i < shardCount; i++ {
		sh := &s.shards[(start+i)%shardCount]
		sh.mu.Lock()
		for k, e := range sh.entries {
			if limit > 0 && inspected >= limit {
				sh.mu.Unlock()
				return removed
			}
			inspected++
			if !e.ExpiresAt.After(now) {
				delete(sh.entries, k)
				s.count.Add(-1)
				removed++
			}
		}
		sh.mu.Unlock()
	}
	return removed
}

// Len returns the number of stored entries, including expired ones not yet
// evicted.
func (s *Store) Len() int {
	return int(s.count.Load())
}

// TTL returns the default entry lifetime.
func (s *Store) TTL() time.Duration { return s.ttl }
