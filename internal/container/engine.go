package container

import (
	"context"
	"errors"
	"io"
)

// ErrNotFound is returned (wrapped) when the engine does not know a container.
var ErrNotFound = errors.New("container not found")

// Engine is the subset of the container engine chest relies on.
// The engine is the only source of truth for running state.
type Engine interface {
	Inspect(ctx context.Context, idOrName string) (Info, error)
	List(ctx context.Context, filter ListFilter) ([]Info, error)
	EnsureImage(ctx context.Context, ref string) error
	Create(ctx context.Context, cfg RunConfig) (string, error)
	Start(ctx context.Context, id string) error
	Stop(ctx context.Context, id string) error
	Remove(ctx context.Context, id string) error
	// Logs returns the multiplexed stdout/stderr stream of a container, following it until the container exits.
	Logs(ctx context.Context, id string) (io.ReadCloser, error)
	// Wait blocks until the container is not running and returns its exit code.
	Wait(ctx context.Context, id string) (int64, error)
}

// Info is a snapshot of an inspected container. It is never cached across engine calls.
type Info struct {
	ID      string
	Name    string
	Running bool
	Labels  map[string]string
	Mounts  []Mount
	Links   []string
}

// State returns the observed running state.
func (i Info) State() State {
	if i.Running {
		return Running
	}
	return Stopped
}

// Mount is one mount point of an existing container.
type Mount struct {
	Source      string
	Destination string
	RW          bool
}

// State is the running state of a container as last observed.
type State string

const (
	Running State = "running"
	Stopped State = "stopped"
)

// ListFilter selects containers by label. Empty label values match any value.
type ListFilter struct {
	All    bool
	Labels map[string]string
}

// Matches reports whether the container carries every label of the filter.
func (f ListFilter) Matches(info Info) bool {
	if !f.All && !info.Running {
		return false
	}
	for k, v := range f.Labels {
		got, ok := info.Labels[k]
		if !ok || (v != "" && got != v) {
			return false
		}
	}
	return true
}

// RunConfig holds the configuration for creating a container.
type RunConfig struct {
	Name        string
	Image       string
	WorkDir     string
	Entrypoint  []string
	Cmd         []string
	Env         []string
	Binds       []BindMount
	Labels      map[string]string
	NetworkMode string
}
