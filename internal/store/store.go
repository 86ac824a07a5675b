// Package store implements the Store of spec.md §4.6: the authoritative
// registry of every Task/Resource/Event/Hook/TaskMiddleware/
// ResourceMiddleware/Tag, with duplicate detection across a flat id
// namespace, deferred override application, tag indices, and locking. The
// map-of-maps shape and explicit Lock() gate are grounded on pumped-go's
// Scope: registrations are a single-writer phase (Scope.Resolve/Update are
// the mutators before disposal) followed by a read-mostly phase.
package store

import (
	"sync"

	"github.com/pumped-fn/runner/internal/kerrors"
)

// Kind identifies what sort of item a record holds.
type Kind string

const (
	KindTask               Kind = "task"
	KindResource           Kind = "resource"
	KindEvent              Kind = "event"
	KindHook               Kind = "hook"
	KindTaskMiddleware     Kind = "taskMiddleware"
	KindResourceMiddleware Kind = "resourceMiddleware"
	KindTag                Kind = "tag"
)

// Record is the mutable shadow the Store keeps per registered item.
// Definition is stored as `any`: the root package's TaskDefinition /
// ResourceDefinition (and other) descriptors are boxed here and
// type-asserted by the root package's run.go when it builds the
// resources/tasks specs.
type Record struct {
	ID         string
	Kind       Kind
	Definition any

	DependsOn []string // ids this record declares a dependency on
	Tags      []string

	// Resource-only fields.
	Config        any
	ConfigMerger  func(existing, next any) (any, error)
	Value         any
	IsInitialized bool
	Disposer      func() error

	// Override bookkeeping: set when this record was produced by applying an
	// override request rather than the original registration.
	OverriddenBy string
}

// Override is a deferred rebinding of an id to a new definition, applied
// once the whole registration tree has been loaded (processOverrides in
// spec.md §4.6).
type Override struct {
	ID         string
	Kind       Kind
	Definition any
	DependsOn  []string
	Tags       []string
	Config     any
}

// Store is the kernel's single registry.
type Store struct {
	mu        sync.RWMutex
	records   map[string]*Record
	overrides map[string]Override
	tagIndex  map[string]map[string]bool // tag id -> set of item ids
	locked    bool
}

func New() *Store {
	return &Store{
		records:   map[string]*Record{},
		overrides: map[string]Override{},
		tagIndex:  map[string]map[string]bool{},
	}
}

// Register adds a new record. Any second registration of the same id —
// regardless of kind — fails with kerrors.Duplicate keyed on the kind first
// seen, per spec.md's flat namespace invariant.
func (s *Store) Register(rec *Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.locked {
		return kerrors.NewLocked("store")
	}
	if existing, ok := s.records[rec.ID]; ok {
		return kerrors.NewDuplicate(string(existing.Kind), rec.ID)
	}
	s.records[rec.ID] = rec
	for _, tag := range rec.Tags {
		if s.tagIndex[tag] == nil {
			s.tagIndex[tag] = map[string]bool{}
		}
		s.tagIndex[tag][rec.ID] = true
	}
	return nil
}

// RegisterConfigured merges a second `.with(config)` registration for the
// same resource id using the resource's configMerger if supplied, otherwise
// rejecting the repeat as a Duplicate.
func (s *Store) RegisterConfigured(id string, config any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.locked {
		return kerrors.NewLocked("store")
	}
	rec, ok := s.records[id]
	if !ok {
		return kerrors.NewDependencyNotFound("with()", id)
	}
	if rec.Config == nil {
		rec.Config = config
		return nil
	}
	if rec.ConfigMerger == nil {
		return kerrors.NewDuplicate(string(rec.Kind), id)
	}
	merged, err := rec.ConfigMerger(rec.Config, config)
	if err != nil {
		return kerrors.NewValidation("Resource config", id, err)
	}
	rec.Config = merged
	return nil
}

// AddOverride queues a deferred rebinding, applied by ApplyOverrides.
func (s *Store) AddOverride(o Override) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.overrides[o.ID] = o
}

// ApplyOverrides rebinds every queued override onto the existing record,
// preserving kind (an override that tries to change kind is rejected).
// Idempotent: applying twice has no further effect since the second pass
// rebinds identical data.
func (s *Store) ApplyOverrides() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, o := range s.overrides {
		existing, ok := s.records[id]
		if !ok {
			return kerrors.NewDependencyNotFound("override", id)
		}
		if existing.Kind != o.Kind {
			return kerrors.NewValidation("Override", id, errOverrideKindMismatch(existing.Kind, o.Kind))
		}
		existing.Definition = o.Definition
		if o.DependsOn != nil {
			existing.DependsOn = o.DependsOn
		}
		if o.Tags != nil {
			existing.Tags = o.Tags
		}
		if o.Config != nil {
			existing.Config = o.Config
		}
		existing.OverriddenBy = id
	}
	return nil
}

type kindMismatchError struct {
	from, to Kind
}

func (e *kindMismatchError) Error() string {
	return "override for " + string(e.from) + " cannot change kind to " + string(e.to)
}

func errOverrideKindMismatch(from, to Kind) error {
	return &kindMismatchError{from: from, to: to}
}

// Get returns the record for id.
func (s *Store) Get(id string) (*Record, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[id]
	return rec, ok
}

// All returns every record, in no particular order; callers needing
// deterministic order should sort by ID or track registration order
// themselves (the resources/tasks packages do, via their own slices).
func (s *Store) All() []*Record {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Record, 0, len(s.records))
	for _, rec := range s.records {
		out = append(out, rec)
	}
	return out
}

// ByKind returns every record of the given kind.
func (s *Store) ByKind(kind Kind) []*Record {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*Record
	for _, rec := range s.records {
		if rec.Kind == kind {
			out = append(out, rec)
		}
	}
	return out
}

// TasksWithTag returns task ids carrying the given tag.
func (s *Store) TasksWithTag(tag string) []string {
	return s.idsWithTagOfKind(tag, KindTask)
}

// ResourcesWithTag returns resource ids carrying the given tag.
func (s *Store) ResourcesWithTag(tag string) []string {
	return s.idsWithTagOfKind(tag, KindResource)
}

func (s *Store) idsWithTagOfKind(tag string, kind Kind) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []string
	for id := range s.tagIndex[tag] {
		if rec, ok := s.records[id]; ok && rec.Kind == kind {
			out = append(out, id)
		}
	}
	return out
}

// Lock freezes the Store; subsequent Register/RegisterConfigured calls fail
// with kerrors.Locked.
func (s *Store) Lock() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.locked = true
}

func (s *Store) IsLocked() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.locked
}
