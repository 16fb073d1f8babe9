// Package patch swaps estimator methods between their reference and
// accelerated implementations.
//
// Each replaceable method lives in a Slot. A Registry groups slots under
// keys like "KMeans.fit" and moves them between the Unpatched and Patched
// states. Apply followed by Revert restores every slot to the exact
// function it held before.
package patch

import (
	"fmt"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/YuminosukeSato/scigoex/pkg/log"

	scigoerrors "github.com/YuminosukeSato/scigoex/pkg/errors"
)

// State is the patch state of one key.
type State int

const (
	// Unpatched means the slot holds its original function.
	Unpatched State = iota
	// Patched means the slot holds the replacement.
	Patched
)

func (s State) String() string {
	if s == Patched {
		return "patched"
	}
	return "unpatched"
}

// Key names a patchable method, e.g. {Target: "KMeans", Method: "fit"}.
type Key struct {
	Target string
	Method string
}

func (k Key) String() string { return k.Target + "." + k.Method }

// Change records one state transition made by Apply or Revert.
type Change struct {
	Key  Key
	From State
	To   State
}

// Slot holds a swappable function. Reads are lock-free so estimators can
// load their method on every call.
type Slot[F any] struct {
	key      Key
	original F
	current  atomic.Pointer[F]
}

// NewSlot creates a slot holding original.
func NewSlot[F any](key Key, original F) *Slot[F] {
	s := &Slot[F]{key: key, original: original}
	s.current.Store(&s.original)
	return s
}

// Key returns the slot key.
func (s *Slot[F]) Key() Key { return s.key }

// Get returns the current function.
func (s *Slot[F]) Get() F { return *s.current.Load() }

// Original returns the function the slot was created with.
func (s *Slot[F]) Original() F { return s.original }

// IsOriginal reports whether the slot holds its original function.
func (s *Slot[F]) IsOriginal() bool { return s.current.Load() == &s.original }

func (s *Slot[F]) store(f *F) { s.current.Store(f) }

// Patchable is a slot paired with its replacement.
type Patchable interface {
	Key() Key
	State() State
	apply()
	revert()
}

// Entry binds a Slot to the function installed on Apply.
type Entry[F any] struct {
	slot        *Slot[F]
	replacement F
}

// NewEntry pairs slot with replacement.
func NewEntry[F any](slot *Slot[F], replacement F) *Entry[F] {
	return &Entry[F]{slot: slot, replacement: replacement}
}

// Key returns the slot key.
func (e *Entry[F]) Key() Key { return e.slot.key }

// State reports whether the replacement is installed.
func (e *Entry[F]) State() State {
	if e.slot.IsOriginal() {
		return Unpatched
	}
	return Patched
}

func (e *Entry[F]) apply()  { e.slot.store(&e.replacement) }
func (e *Entry[F]) revert() { e.slot.store(&e.slot.original) }

// Registry tracks patchable methods. Apply and Revert are all-or-nothing:
// when any requested key is unknown or in the wrong state nothing changes.
type Registry struct {
	mu      sync.Mutex
	entries map[Key]Patchable
	logger  log.Logger
}

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithLogger sets the logger for patch events.
func WithLogger(l log.Logger) RegistryOption {
	return func(r *Registry) { r.logger = l }
}

// NewRegistry creates an empty registry.
func NewRegistry(opts ...RegistryOption) *Registry {
	r := &Registry{entries: make(map[Key]Patchable)}
	for _, opt := range opts {
		opt(r)
	}
	if r.logger == nil {
		r.logger = log.GetLoggerWithName("patch")
	}
	return r
}

// Register adds entries. Registering a key twice is an error and leaves the
// registry unchanged.
func (r *Registry) Register(entries ...Patchable) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	seen := make(map[Key]bool, len(entries))
	for _, e := range entries {
		k := e.Key()
		if _, ok := r.entries[k]; ok || seen[k] {
			return scigoerrors.NewConfigurationErrorf("patch", "%s registered twice", k)
		}
		seen[k] = true
	}
	for _, e := range entries {
		r.entries[e.Key()] = e
	}
	return nil
}

// Len is the number of registered keys.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// Keys lists registered keys sorted by target, then method.
func (r *Registry) Keys() []Key {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sortedKeys()
}

func (r *Registry) sortedKeys() []Key {
	keys := make([]Key, 0, len(r.entries))
	for k := range r.entries {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].Target != keys[j].Target {
			return keys[i].Target < keys[j].Target
		}
		return keys[i].Method < keys[j].Method
	})
	return keys
}

// State reports the state of key.
func (r *Registry) State(key Key) (State, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[key]
	if !ok {
		return Unpatched, unknownKey(key)
	}
	return e.State(), nil
}

// States returns the state of every registered key.
func (r *Registry) States() map[Key]State {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[Key]State, len(r.entries))
	for k, e := range r.entries {
		out[k] = e.State()
	}
	return out
}

// Apply installs the replacements for keys, or for every key when none are
// given. It returns the transitions made so the caller can undo them with
// Revert. Applying an already patched key returns ErrAlreadyPatched.
func (r *Registry) Apply(keys ...Key) ([]Change, error) {
	return r.transition(Unpatched, Patched, scigoerrors.ErrAlreadyPatched, keys)
}

// Revert restores the original functions for keys, or for every patched key
// when none are given. Reverting an unpatched key returns ErrNotPatched.
func (r *Registry) Revert(keys ...Key) ([]Change, error) {
	return r.transition(Patched, Unpatched, scigoerrors.ErrNotPatched, keys)
}

// Undo reverses changes returned by Apply or Revert.
func (r *Registry) Undo(changes []Change) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, c := range changes {
		e, ok := r.entries[c.Key]
		if !ok {
			return unknownKey(c.Key)
		}
		if cur := e.State(); cur != c.To {
			sentinel := scigoerrors.ErrNotPatched
			if cur == Patched {
				sentinel = scigoerrors.ErrAlreadyPatched
			}
			return scigoerrors.Wrapf(sentinel, "%s is %s, expected %s", c.Key, cur, c.To)
		}
	}
	for i := len(changes) - 1; i >= 0; i-- {
		r.set(r.entries[changes[i].Key], changes[i].From)
	}
	return nil
}

func (r *Registry) transition(from, to State, wrongState error, keys []Key) ([]Change, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	explicit := len(keys) > 0
	if !explicit {
		for _, k := range r.sortedKeys() {
			if r.entries[k].State() == from {
				keys = append(keys, k)
			}
		}
	}

	for _, k := range keys {
		e, ok := r.entries[k]
		if !ok {
			return nil, unknownKey(k)
		}
		if e.State() != from {
			return nil, scigoerrors.Wrapf(wrongState, "%s", k)
		}
	}

	changes := make([]Change, 0, len(keys))
	for _, k := range keys {
		r.set(r.entries[k], to)
		changes = append(changes, Change{Key: k, From: from, To: to})
	}
	return changes, nil
}

func (r *Registry) set(e Patchable, s State) {
	if s == Patched {
		e.apply()
	} else {
		e.revert()
	}
	r.logger.Debug(fmt.Sprintf("%s: %s", e.Key(), s), log.PatchKey, e.Key().String())
}

// Scoped applies keys, runs fn and reverts what it applied, even when fn
// panics.
func (r *Registry) Scoped(fn func() error, keys ...Key) (err error) {
	changes, err := r.Apply(keys...)
	if err != nil {
		return err
	}
	defer func() {
		if uerr := r.Undo(changes); uerr != nil && err == nil {
			err = uerr
		}
	}()
	return fn()
}

func unknownKey(k Key) error {
	return scigoerrors.NewDispatchInternalErrorf("patch", k.Method, "%s is not registered", k)
}

// ParseKey parses "Target.method".
func ParseKey(s string) (Key, error) {
	for i := len(s) - 1; i >= 0; i-- {
		if s[i] == '.' {
			if i == 0 || i == len(s)-1 {
				break
			}
			return Key{Target: s[:i], Method: s[i+1:]}, nil
		}
	}
	return Key{}, scigoerrors.NewConfigurationErrorf("patch", "invalid key %q, want Target.method", s)
}
