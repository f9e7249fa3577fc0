package catalog

import (
	"context"
	"fmt"
	"strconv"
	"sync"
)

// Kind selects which monotonic sequence an allocation draws from.
type Kind int

const (
	// KindDesignID is the global design identifier.
	KindDesignID Kind = iota
	// KindGlobalPage numbers designs across all albums.
	KindGlobalPage
	// KindAlbumPage numbers designs within one album, rendered 5-digit
	// zero-padded ("00043").
	KindAlbumPage
)

func (k Kind) String() string {
	switch k {
	case KindDesignID:
		return "design_id"
	case KindGlobalPage:
		return "global_page"
	case KindAlbumPage:
		return "album_page"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// format renders an allocated value the way downstream keys expect it.
func (k Kind) format(n int) string {
	if k == KindAlbumPage {
		return fmt.Sprintf("%05d", n)
	}
	return strconv.Itoa(n)
}

func counterName(kind Kind, albumID string) string {
	if kind == KindAlbumPage {
		return "page#" + albumID
	}
	return kind.String()
}

// Sequence allocates the next value of a monotonic sequence. albumID is
// only consulted for KindAlbumPage.
type Sequence interface {
	Next(ctx context.Context, kind Kind, albumID string) (string, error)
}

// NewSequence picks the allocator for the configured mode.
func NewSequence(store *Store, mode string) (Sequence, error) {
	switch mode {
	case "counter":
		return NewCounterSequence(store), nil
	case "query":
		return NewMaxQuerySequence(store), nil
	default:
		return nil, fmt.Errorf("unknown sequence mode %q", mode)
	}
}

func checkAlbum(kind Kind, albumID string) error {
	if kind == KindAlbumPage && albumID == "" {
		return fmt.Errorf("album page allocation needs an album id")
	}
	return nil
}

// MaxQuerySequence derives the next value by reading the current maximum
// from the catalog and adding one. Two publishers running at the same time
// can read the same maximum and collide; it exists for parity with catalogs
// that predate the counters table and is safe only while a single operator
// publishes at a time. CounterSequence is the allocator of record.
type MaxQuerySequence struct {
	store *Store
}

// NewMaxQuerySequence builds the read-then-increment allocator.
func NewMaxQuerySequence(store *Store) *MaxQuerySequence {
	return &MaxQuerySequence{store: store}
}

func (s *MaxQuerySequence) Next(ctx context.Context, kind Kind, albumID string) (string, error) {
	if err := checkAlbum(kind, albumID); err != nil {
		return "", err
	}
	max, found, err := currentMax(ctx, s.store, kind, albumID)
	if err != nil {
		return "", err
	}
	next := 1
	if found {
		next = max + 1
	}
	return kind.format(next), nil
}

// CounterSequence allocates through an atomic counter per sequence. The
// counter is seeded from the catalog's current maximum the first time a
// process touches it, then every allocation is a single conditional-add,
// so concurrent publishers cannot receive the same value.
type CounterSequence struct {
	store *Store

	mu     sync.Mutex
	seeded map[string]bool
}

// NewCounterSequence builds the atomic allocator.
func NewCounterSequence(store *Store) *CounterSequence {
	return &CounterSequence{store: store, seeded: make(map[string]bool)}
}

func (s *CounterSequence) Next(ctx context.Context, kind Kind, albumID string) (string, error) {
	if err := checkAlbum(kind, albumID); err != nil {
		return "", err
	}
	name := counterName(kind, albumID)
	if err := s.ensureSeeded(ctx, kind, albumID, name); err != nil {
		return "", err
	}
	value, err := s.store.IncrementCounter(ctx, name)
	if err != nil {
		return "", err
	}
	return kind.format(value), nil
}

// ensureSeeded creates the counter from the catalog maximum on first use.
// The seed write is conditional, so racing processes agree on the result
// and the subsequent increments stay collision-free.
func (s *CounterSequence) ensureSeeded(ctx context.Context, kind Kind, albumID, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.seeded[name] {
		return nil
	}

	_, found, err := s.store.GetCounter(ctx, name)
	if err != nil {
		return err
	}
	if !found {
		max, _, err := currentMax(ctx, s.store, kind, albumID)
		if err != nil {
			return err
		}
		if err := s.store.SeedCounter(ctx, name, max); err != nil {
			return err
		}
	}
	s.seeded[name] = true
	return nil
}

func currentMax(ctx context.Context, store *Store, kind Kind, albumID string) (int, bool, error) {
	switch kind {
	case KindDesignID:
		return store.MaxDesignID(ctx)
	case KindGlobalPage:
		return store.MaxGlobalPage(ctx)
	case KindAlbumPage:
		return store.MaxAlbumPage(ctx, albumID)
	default:
		return 0, false, fmt.Errorf("unknown sequence kind %v", kind)
	}
}
