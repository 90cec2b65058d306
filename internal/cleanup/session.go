// Package cleanup restores container state after an operation, whether it succeeded, failed, or was interrupted.
//
// A Session holds two registries. The restart registry lists the containers chest stopped and must start again.
// The helper registry lists the helper containers chest created and must stop and remove. Entries are added
// before the risky action and removed only once the corrective action succeeded.
//
// Sessions are registered in a process wide Table so that a signal handler or a panic can still drain them.
package cleanup

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/charmbracelet/log"

	"github.com/ceymard/chest/internal/container"
)

// ErrTerminating is returned by the guarded actions of a session once its termination has begun.
var ErrTerminating = errors.New("cleanup in progress, refusing to change containers")

type entry struct {
	ID   string
	Name string
}

// Session owns the pending corrective actions of one operation.
type Session struct {
	lifecycle *container.Lifecycle
	log       *log.Logger
	table     *Table

	mu          sync.Mutex
	restarts    []entry
	helpers     []entry
	terminating bool

	// held for the whole of a guarded stop or create, and by Terminate while it drains
	opMu sync.Mutex
	// serializes Terminate between the operation and a signal handler
	termMu sync.Mutex
}

// NewSession returns a session that is not registered in any table.
func NewSession(lc *container.Lifecycle, logger *log.Logger) *Session {
	if logger == nil {
		logger = log.New(io.Discard)
	}
	return &Session{lifecycle: lc, log: logger}
}

// MarkStopped records that a container is about to be stopped and must be started again.
func (s *Session) MarkStopped(id, name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.restarts = add(s.restarts, entry{ID: id, Name: name})
}

// Restored drops a container from the restart registry once it runs again.
func (s *Session) Restored(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.restarts = drop(s.restarts, id)
}

// TrackHelper records a freshly created helper container. It must be called before the helper is started.
func (s *Session) TrackHelper(id, name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.helpers = add(s.helpers, entry{ID: id, Name: name})
}

// ReleaseHelper drops a helper container once it is removed.
func (s *Session) ReleaseHelper(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.helpers = drop(s.helpers, id)
}

// Stop registers a container for a restart, then stops it and waits until it is down. It refuses with
// ErrTerminating once termination has begun and with the context error when ctx is done. A stop that was
// issued runs to completion even if ctx is canceled meanwhile, and Terminate waits for it.
func (s *Session) Stop(ctx context.Context, id, name string) (bool, error) {
	s.opMu.Lock()
	defer s.opMu.Unlock()
	if err := s.admit(ctx); err != nil {
		return false, err
	}

	s.MarkStopped(id, name)
	wasRunning, err := s.lifecycle.Stop(context.WithoutCancel(ctx), id)
	if err == nil && !wasRunning {
		s.Restored(id)
	}
	return wasRunning, err
}

// CreateHelper creates a helper container and registers it for removal. It refuses like Stop, and
// Terminate waits for a creation in flight.
func (s *Session) CreateHelper(ctx context.Context, cfg container.RunConfig) (string, error) {
	s.opMu.Lock()
	defer s.opMu.Unlock()
	if err := s.admit(ctx); err != nil {
		return "", err
	}

	id, err := s.lifecycle.Create(context.WithoutCancel(ctx), cfg)
	if err != nil {
		return "", err
	}
	s.TrackHelper(id, cfg.Name)
	return id, nil
}

func (s *Session) admit(ctx context.Context) error {
	s.mu.Lock()
	terminating := s.terminating
	s.mu.Unlock()
	if terminating {
		return ErrTerminating
	}
	return ctx.Err()
}

// Terminating reports whether termination of the session has begun.
func (s *Session) Terminating() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.terminating
}

// PendingRestarts returns the names of the containers still waiting for a restart, in the order they were stopped.
func (s *Session) PendingRestarts() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return names(s.restarts)
}

// PendingHelpers returns the names of the helper containers still waiting for removal.
func (s *Session) PendingHelpers() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return names(s.helpers)
}

// Terminate processes every pending entry. Helpers are stopped and removed first, then stopped containers are
// started again, dependencies first. Entries whose corrective action fails stay registered for a later call.
// Terminate first waits for a guarded stop or create in flight; afterwards the session refuses new ones.
func (s *Session) Terminate(ctx context.Context) error {
	s.termMu.Lock()
	defer s.termMu.Unlock()
	s.beginTermination()
	s.opMu.Lock()
	defer s.opMu.Unlock()

	var errs []error

	s.mu.Lock()
	helpers := append([]entry(nil), s.helpers...)
	s.mu.Unlock()

	for _, h := range helpers {
		if err := s.removeHelper(ctx, h); err != nil {
			s.log.Error("failed to remove helper container", "container", h.Name, "err", err)
			errs = append(errs, err)
			continue
		}
		s.ReleaseHelper(h.ID)
	}

	s.mu.Lock()
	restarts := append([]entry(nil), s.restarts...)
	s.mu.Unlock()

	for i := len(restarts) - 1; i >= 0; i-- {
		r := restarts[i]
		_, err := s.lifecycle.Start(ctx, r.ID)
		switch {
		case container.IsNotFound(err):
			s.log.Warn("container disappeared before it could be restarted", "container", r.Name)
		case err != nil:
			s.log.Error("failed to restart container", "container", r.Name, "err", err)
			errs = append(errs, err)
			continue
		}
		s.Restored(r.ID)
	}

	return errors.Join(errs...)
}

func (s *Session) beginTermination() {
	s.mu.Lock()
	s.terminating = true
	s.mu.Unlock()
}

func (s *Session) removeHelper(ctx context.Context, h entry) error {
	if _, err := s.lifecycle.Stop(ctx, h.ID); err != nil {
		if container.IsNotFound(err) {
			return nil
		}
		return fmt.Errorf("failed to stop helper %s: %w", h.Name, err)
	}
	return s.lifecycle.Remove(ctx, h.ID)
}

// Close unregisters the session from its table. Pending entries are kept.
func (s *Session) Close() {
	if s.table != nil {
		s.table.unregister(s)
	}
}

func add(list []entry, e entry) []entry {
	for _, x := range list {
		if x.ID == e.ID {
			return list
		}
	}
	return append(list, e)
}

func drop(list []entry, id string) []entry {
	out := list[:0]
	for _, x := range list {
		if x.ID != id {
			out = append(out, x)
		}
	}
	return out
}

func names(list []entry) []string {
	out := make([]string, 0, len(list))
	for _, e := range list {
		out = append(out, e.Name)
	}
	return out
}
