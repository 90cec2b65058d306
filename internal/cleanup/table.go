package cleanup

import (
	"context"
	"errors"
	"io"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/charmbracelet/log"

	"github.com/ceymard/chest/internal/container"
)

// TerminateTimeout bounds the last resort cleanup run on signals and panics.
const TerminateTimeout = 2 * time.Minute

// Table lists the live sessions of a process. It is only used for termination handling.
type Table struct {
	mu          sync.Mutex
	sessions    []*Session
	terminating bool

	once sync.Once
	err  error
}

var process = &Table{}

// Open creates a session registered in the process table.
func Open(lc *container.Lifecycle, logger *log.Logger) *Session {
	return process.Open(lc, logger)
}

// Open creates a session registered in t. A session opened after TerminateAll started refuses every
// guarded action.
func (t *Table) Open(lc *container.Lifecycle, logger *log.Logger) *Session {
	s := NewSession(lc, logger)
	s.table = t
	t.mu.Lock()
	t.sessions = append(t.sessions, s)
	if t.terminating {
		s.terminating = true
	}
	t.mu.Unlock()
	return s
}

func (t *Table) unregister(s *Session) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i, x := range t.sessions {
		if x == s {
			t.sessions = append(t.sessions[:i], t.sessions[i+1:]...)
			return
		}
	}
}

// Len returns the number of registered sessions.
func (t *Table) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.sessions)
}

// Len returns the number of sessions registered in the process table.
func Len() int {
	return process.Len()
}

// TerminateAll terminates every registered session of the process table, once.
func TerminateAll(ctx context.Context) error {
	return process.TerminateAll(ctx)
}

// TerminateAll terminates every registered session. Only the first call does any work; later calls
// return the same result.
func (t *Table) TerminateAll(ctx context.Context) error {
	t.once.Do(func() {
		t.mu.Lock()
		t.terminating = true
		sessions := append([]*Session(nil), t.sessions...)
		t.mu.Unlock()

		for _, s := range sessions {
			s.beginTermination()
		}
		var errs []error
		for _, s := range sessions {
			if err := s.Terminate(ctx); err != nil {
				errs = append(errs, err)
			}
		}
		t.err = errors.Join(errs...)
	})
	return t.err
}

// HandleSignals drains the process table when SIGINT, SIGTERM or SIGHUP is received, then exits with
// 128 plus the signal number. The first signal also calls cancel, which should cancel the running operation.
// A second signal exits immediately.
//
// The returned function uninstalls the handler. Once a signal was received it blocks until the handler exits
// the process.
func HandleSignals(logger *log.Logger, cancel context.CancelFunc) (stop func()) {
	sigs := make(chan os.Signal, 2)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	done := make(chan struct{})
	exited := make(chan struct{})
	go func() {
		defer close(exited)
		process.watch(sigs, done, logger, cancel, os.Exit)
	}()
	return func() {
		signal.Stop(sigs)
		close(done)
		<-exited
	}
}

func (t *Table) watch(sigs <-chan os.Signal, done <-chan struct{}, logger *log.Logger, cancel context.CancelFunc, exit func(int)) {
	if logger == nil {
		logger = log.New(io.Discard)
	}

	var sig os.Signal
	select {
	case sig = <-sigs:
	case <-done:
		return
	}
	logger.Warn("interrupted, restoring containers", "signal", sig.String())
	if cancel != nil {
		cancel()
	}

	finished := make(chan struct{})
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), TerminateTimeout)
		defer cancel()
		if err := t.TerminateAll(ctx); err != nil {
			logger.Error("cleanup incomplete", "err", err)
		}
		close(finished)
	}()

	select {
	case <-finished:
	case again := <-sigs:
		logger.Error("interrupted again, exiting without cleanup", "signal", again.String())
	}
	exit(exitCode(sig))
}

func exitCode(sig os.Signal) int {
	if s, ok := sig.(syscall.Signal); ok {
		return 128 + int(s)
	}
	return 1
}

// Recover drains the process table when the calling goroutine panics, then panics again.
// It must be deferred directly: defer cleanup.Recover().
func Recover() {
	if r := recover(); r != nil {
		ctx, cancel := context.WithTimeout(context.Background(), TerminateTimeout)
		_ = process.TerminateAll(ctx)
		cancel()
		panic(r)
	}
}
