package ecs

import (
	"fmt"
	"io"
	"reflect"
	"sync"

	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// moduleSet holds the World Modules of one World, keyed by interface type.
type moduleSet struct {
	mu       sync.Mutex
	items    map[reflect.Type]any
	order    []reflect.Type
	creating map[reflect.Type]chan struct{}
}

func newModuleSet() *moduleSet {
	return &moduleSet{
		items:    make(map[reflect.Type]any),
		creating: make(map[reflect.Type]chan struct{}),
	}
}

// closeAll closes every module implementing io.Closer. Order is not part of
// the contract.
func (s *moduleSet) closeAll() error {
	s.mu.Lock()
	items := make([]any, 0, len(s.order))
	for _, t := range s.order {
		items = append(items, s.items[t])
	}
	clear(s.items)
	s.order = nil
	s.mu.Unlock()

	var err error
	for _, m := range items {
		if c, ok := m.(io.Closer); ok {
			err = multierr.Append(err, c.Close())
		}
	}
	return err
}

var (
	factoryMu sync.RWMutex
	factories = make(map[reflect.Type]any) // func(*World) (I, error)
)

// RegisterModule installs the factory used to build interface I on first
// request in any World. A later registration replaces the earlier one for
// Worlds that have not built I yet.
func RegisterModule[I any](factory func(w *World) (I, error)) {
	factoryMu.Lock()
	defer factoryMu.Unlock()
	factories[reflect.TypeFor[I]()] = factory
}

// GetOrCreateModule returns the World's I, building it with the registered
// factory on first request. Concurrent first requests build it once. A
// factory may request other modules but not I itself, and must not take a
// write scope if its caller holds one.
func GetOrCreateModule[I any](w *World) (I, error) {
	var zero I
	t := reflect.TypeFor[I]()
	s := w.modules
	for {
		if w.closed.Load() {
			return zero, ErrClosed
		}
		s.mu.Lock()
		if m, ok := s.items[t]; ok {
			s.mu.Unlock()
			v, _ := m.(I)
			return v, nil
		}
		wait, busy := s.creating[t]
		if !busy {
			break // still locked
		}
		s.mu.Unlock()
		<-wait
	}

	factoryMu.RLock()
	f, ok := factories[t]
	factoryMu.RUnlock()
	if !ok {
		s.mu.Unlock()
		return zero, fmt.Errorf("%w: %v", ErrNoModuleFactory, t)
	}
	done := make(chan struct{})
	s.creating[t] = done
	s.mu.Unlock()

	// Waiters are woken on every exit path, a panicking factory included;
	// they then retry the factory themselves.
	var (
		m     I
		built bool
	)
	defer func() {
		s.mu.Lock()
		delete(s.creating, t)
		if built {
			s.items[t] = m
			s.order = append(s.order, t)
		}
		s.mu.Unlock()
		close(done)
	}()

	m, err := f.(func(*World) (I, error))(w)
	if err != nil {
		return zero, fmt.Errorf("create module %v: %w", t, err)
	}
	built = true
	w.log.Debug("world module created", zap.Stringer("module", t))
	return m, nil
}

// TryGetModule returns the World's I if it has been built. It never builds.
func TryGetModule[I any](w *World) (I, bool) {
	s := w.modules
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.items[reflect.TypeFor[I]()]
	if !ok {
		var zero I
		return zero, false
	}
	v, _ := m.(I)
	return v, true
}

// ProvideModule installs m as the World's I directly, bypassing any factory.
// It fails if I already exists in the World.
func ProvideModule[I any](w *World, m I) error {
	t := reflect.TypeFor[I]()
	s := w.modules
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.items[t]; ok {
		return fmt.Errorf("module %v already present", t)
	}
	if _, ok := s.creating[t]; ok {
		return fmt.Errorf("module %v is being created", t)
	}
	s.items[t] = m
	s.order = append(s.order, t)
	return nil
}
