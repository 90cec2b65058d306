package container

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/charmbracelet/log"
)

// DefaultPollInterval is how often Stop re-inspects a container that is shutting down.
const DefaultPollInterval = 250 * time.Millisecond

// Action names a lifecycle transition.
type Action string

const (
	ActionStopping Action = "stopping"
	ActionStarting Action = "starting"
	ActionCreating Action = "creating"
	ActionRemoving Action = "removing"
)

// Transition is emitted every time chest changes the state of a container.
type Transition struct {
	Action Action
	Name   string
	ID     string
}

// Lifecycle provides idempotent stop and start primitives for single containers.
type Lifecycle struct {
	Engine       Engine
	Log          *log.Logger
	PollInterval time.Duration
	// Notify is called before every state change. May be nil.
	Notify func(Transition)
}

// IsRunning inspects a container and reports whether it is running.
func (l *Lifecycle) IsRunning(ctx context.Context, id string) (bool, error) {
	info, err := l.Engine.Inspect(ctx, id)
	if err != nil {
		return false, err
	}
	return info.Running, nil
}

// Stop stops a container if it is running and waits until the engine reports it stopped.
// It returns whether the container was running. Stopping a stopped container is a no-op.
func (l *Lifecycle) Stop(ctx context.Context, id string) (bool, error) {
	info, err := l.Engine.Inspect(ctx, id)
	if err != nil {
		return false, err
	}
	if !info.Running {
		return false, nil
	}

	l.notify(Transition{Action: ActionStopping, Name: info.Name, ID: info.ID})
	if err := l.Engine.Stop(ctx, id); err != nil {
		return true, fmt.Errorf("failed to stop %s: %w", info.Name, err)
	}

	// The stop call can return before the container has fully exited
	for {
		info, err = l.Engine.Inspect(ctx, id)
		if err != nil {
			return true, err
		}
		if !info.Running {
			return true, nil
		}
		l.logger().Debug("waiting for container to stop", "container", info.Name)
		if err := sleep(ctx, l.pollInterval()); err != nil {
			return true, err
		}
	}
}

// Start starts a container if it is not running. It does not wait for readiness.
// It returns whether a start was issued.
func (l *Lifecycle) Start(ctx context.Context, id string) (bool, error) {
	info, err := l.Engine.Inspect(ctx, id)
	if err != nil {
		return false, err
	}
	if info.Running {
		return false, nil
	}

	l.notify(Transition{Action: ActionStarting, Name: info.Name, ID: info.ID})
	if err := l.Engine.Start(ctx, id); err != nil {
		return true, fmt.Errorf("failed to start %s: %w", info.Name, err)
	}
	return true, nil
}

// Create creates a container from cfg and returns its ID.
func (l *Lifecycle) Create(ctx context.Context, cfg RunConfig) (string, error) {
	l.notify(Transition{Action: ActionCreating, Name: cfg.Name})
	id, err := l.Engine.Create(ctx, cfg)
	if err != nil {
		return "", fmt.Errorf("failed to create %s: %w", cfg.Name, err)
	}
	return id, nil
}

// Remove deletes a stopped container. Removing a container that no longer exists is a no-op.
func (l *Lifecycle) Remove(ctx context.Context, id string) error {
	info, err := l.Engine.Inspect(ctx, id)
	if IsNotFound(err) {
		return nil
	}
	if err != nil {
		return err
	}

	l.notify(Transition{Action: ActionRemoving, Name: info.Name, ID: info.ID})
	if err := l.Engine.Remove(ctx, id); err != nil {
		return fmt.Errorf("failed to remove %s: %w", info.Name, err)
	}
	return nil
}

func (l *Lifecycle) notify(t Transition) {
	l.logger().Debug(string(t.Action), "container", t.Name, "id", t.ID)
	if l.Notify != nil {
		l.Notify(t)
	}
}

func (l *Lifecycle) logger() *log.Logger {
	if l.Log == nil {
		return log.New(io.Discard)
	}
	return l.Log
}

func (l *Lifecycle) pollInterval() time.Duration {
	if l.PollInterval <= 0 {
		return DefaultPollInterval
	}
	return l.PollInterval
}

// sleep waits for d or until ctx is done.
func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Sleep waits for d or until ctx is done.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	return sleep(ctx, d)
}
