// Package cycle picks items from a candidate set without repetition until
// every item has been used, persisting the shuffled order between runs.
//
// Each selection key owns an Entry: a random permutation of the unique
// candidates plus the next index to dispense. The entry is rebuilt when the
// candidate set changes (detected by Signature), when the stored entry is
// malformed, or when the permutation has been fully dispensed.
package cycle

import (
	"context"
	"math/rand/v2"
	"sync"

	"github.com/rs/zerolog"

	"lovebox_automation/lovebox-daily/apperr"
	"lovebox_automation/lovebox-daily/logger"
)

// Result is the outcome of one selection.
type Result struct {
	Item string
	// Position is the index Item held in the cycle order, or -1 on fallback.
	Position int
	// CycleLen is the number of unique candidates in the cycle.
	CycleLen int
	// Rebuilt is true when this selection started a fresh permutation.
	Rebuilt bool
	// Fallback is true when the store could not be read or written and Item
	// was chosen uniformly at random instead. Repeats are possible then.
	Fallback bool
	// Cause is the storage error behind a fallback.
	Cause error
}

// Selector dispenses items per key using a Store.
type Selector struct {
	mu    sync.Mutex
	store Store
	rng   *rand.Rand
	log   zerolog.Logger
}

// Option configures a Selector.
type Option func(*Selector)

// WithRand sets the random source used for permutations and fallbacks.
func WithRand(r *rand.Rand) Option {
	return func(s *Selector) { s.rng = r }
}

// WithLogger sets the selector's logger.
func WithLogger(l zerolog.Logger) Option {
	return func(s *Selector) { s.log = l }
}

// NewSelector creates a Selector over store.
func NewSelector(store Store, opts ...Option) *Selector {
	s := &Selector{
		store: store,
		log:   zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.rng == nil {
		s.rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	return s
}

// Select returns the next item of key's cycle over items. Duplicates and
// ordering in items do not matter. An empty items slice fails with
// apperr.ErrEmptyCandidateSet without touching the store. Storage failures
// never fail the call; they produce a Result with Fallback set.
func (s *Selector) Select(ctx context.Context, key string, items []string) (Result, error) {
	if len(items) == 0 {
		return Result{}, apperr.EmptyCandidateSet(key)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	unique := Dedupe(items)
	signature := Signature(unique)

	doc, err := s.store.Load(ctx)
	if err != nil {
		return s.fallback(key, unique, err), nil
	}
	if doc == nil {
		doc = Document{}
	}

	entry, ok := doc[key]
	rebuilt := false
	if !ok || !entry.valid(signature, unique) {
		if ok {
			s.log.Info().Str(logger.FieldKey, key).Msg("candidate set changed, starting a new cycle")
		}
		entry = s.newEntry(signature, unique)
		rebuilt = true
	}
	if entry.Index >= len(entry.Order) {
		s.log.Debug().Str(logger.FieldKey, key).Int("len", len(entry.Order)).Msg("cycle exhausted, reshuffling")
		entry = s.newEntry(signature, unique)
		rebuilt = true
	}

	position := entry.Index
	item := entry.Order[position]
	entry.Index++
	doc[key] = entry

	if err := s.store.Save(ctx, doc); err != nil {
		return s.fallback(key, unique, err), nil
	}

	return Result{
		Item:     item,
		Position: position,
		CycleLen: len(entry.Order),
		Rebuilt:  rebuilt,
	}, nil
}

// Peek returns the stored entry for key without changing it.
func (s *Selector) Peek(ctx context.Context, key string) (Entry, bool, error) {
	doc, err := s.store.Load(ctx)
	if err != nil {
		return Entry{}, false, err
	}
	entry, ok := doc[key]
	return entry, ok, nil
}

// Entries returns the whole stored document.
func (s *Selector) Entries(ctx context.Context) (Document, error) {
	return s.store.Load(ctx)
}

// Reset drops key's entry so the next Select starts a new cycle. It reports
// whether an entry existed.
func (s *Selector) Reset(ctx context.Context, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.store.Load(ctx)
	if err != nil {
		return false, err
	}
	if _, ok := doc[key]; !ok {
		return false, nil
	}
	delete(doc, key)
	if err := s.store.Save(ctx, doc); err != nil {
		return false, err
	}
	return true, nil
}

func (s *Selector) newEntry(signature string, unique []string) Entry {
	order := make([]string, len(unique))
	copy(order, unique)
	s.rng.Shuffle(len(order), func(i, j int) {
		order[i], order[j] = order[j], order[i]
	})
	return Entry{Signature: signature, Order: order, Index: 0}
}

func (s *Selector) fallback(key string, unique []string, cause error) Result {
	s.log.Warn().Err(cause).Str(logger.FieldKey, key).Msg("cycle store unavailable, falling back to random choice")
	return Result{
		Item:     unique[s.rng.IntN(len(unique))],
		Position: -1,
		CycleLen: len(unique),
		Fallback: true,
		Cause:    cause,
	}
}
