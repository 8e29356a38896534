package config

import (
	"fmt"
	"sync/atomic"

	"github.com/thushan/codex-helper-proxy/internal/core/domain"
)

// Store holds the live *domain.Snapshot behind an atomic pointer so
// every request reads a consistent, lock-free view while a reload
// swaps in a new one underneath it.
type Store struct {
	ptr     atomic.Pointer[domain.Snapshot]
	version atomic.Int64

	// OnSwap, when set, is invoked after each successful Reload with
	// the displaced and the newly installed snapshot, letting the
	// caller drop state keyed to configs that no longer exist.
	OnSwap func(old, installed *domain.Snapshot)
}

func NewStore() *Store {
	return &Store{}
}

// Current returns the active snapshot. Callers hold onto the returned
// pointer for the lifetime of a single request; it is never mutated
// in place.
func (s *Store) Current() *domain.Snapshot {
	return s.ptr.Load()
}

// Reload compiles raw into a new Snapshot and swaps it in atomically.
func (s *Store) Reload(raw *RawConfig) error {
	version := s.version.Add(1)
	snap, err := Compile(raw, version)
	if err != nil {
		return fmt.Errorf("compiling config version %d: %w", version, err)
	}
	old := s.ptr.Swap(snap)
	if s.OnSwap != nil {
		s.OnSwap(old, snap)
	}
	return nil
}

// Bootstrap loads the config once, compiles it, and starts watching
// for changes; onError receives reload failures (the previous
// snapshot remains active on a failed reload). The returned RawConfig
// is the boot-time load, used only for the process-level settings
// (listen ports, server limits) that never hot-reload; everything else
// must be read from the returned Store.
func Bootstrap(onError func(error)) (*Store, *RawConfig, error) {
	raw, err := Load()
	if err != nil {
		return nil, nil, err
	}

	store := NewStore()
	if err := store.Reload(raw); err != nil {
		return nil, nil, err
	}

	Watch(func(raw *RawConfig, err error) {
		if err != nil {
			onError(err)
			return
		}
		if err := store.Reload(raw); err != nil {
			onError(err)
		}
	})

	return store, raw, nil
}
