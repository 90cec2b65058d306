// Package containertest provides an in-memory container engine for tests.
package containertest

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"

	"github.com/docker/docker/pkg/stdcopy"

	"github.com/ceymard/chest/internal/container"
)

// Call records one engine call.
type Call struct {
	Op   string
	ID   string
	Name string
}

func (c Call) String() string {
	return c.Op + " " + c.Name
}

// Container is a container known by the fake engine.
type Container struct {
	Info   container.Info
	Image  string
	Config container.RunConfig
	// StopLag is how many inspections still report running after a stop.
	StopLag int
}

// Engine is an in-memory container.Engine.
type Engine struct {
	mu         sync.Mutex
	containers map[string]*Container
	order      []string
	nextID     int
	calls      []Call
	created    map[string]container.RunConfig

	// Failures injected per operation ("create", "start", "stop", "remove", "logs", "wait"), keyed by
	// container name. The "*" key matches any container.
	Failures map[string]map[string]error

	// Output emitted by helper containers.
	HelperStdout []byte
	HelperStderr []byte
	ExitCode     int64
}

// New returns an empty engine.
func New() *Engine {
	return &Engine{
		containers: map[string]*Container{},
		created:    map[string]container.RunConfig{},
		Failures:   map[string]map[string]error{},
	}
}

// Add registers an existing container and returns its ID.
func (e *Engine) Add(info container.Info) string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.add(&Container{Info: info})
}

func (e *Engine) add(c *Container) string {
	if c.Info.ID == "" {
		e.nextID++
		c.Info.ID = fmt.Sprintf("id-%d", e.nextID)
	}
	if c.Info.Labels == nil {
		c.Info.Labels = map[string]string{}
	}
	e.containers[c.Info.ID] = c
	e.order = append(e.order, c.Info.ID)
	return c.Info.ID
}

// Fail injects an error for op on the named container (or "*").
func (e *Engine) Fail(op, name string, err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.Failures[op] == nil {
		e.Failures[op] = map[string]error{}
	}
	e.Failures[op][name] = err
}

// Heal removes an injected failure.
func (e *Engine) Heal(op, name string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.Failures[op], name)
}

// SetStopLag makes the named container report running for n inspections after it is stopped.
func (e *Engine) SetStopLag(name string, n int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if c := e.lookup(name); c != nil {
		c.StopLag = n
	}
}

// Calls returns the recorded calls, optionally restricted to some operations.
func (e *Engine) Calls(ops ...string) []Call {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(ops) == 0 {
		return append([]Call(nil), e.calls...)
	}
	var out []Call
	for _, c := range e.calls {
		for _, op := range ops {
			if c.Op == op {
				out = append(out, c)
			}
		}
	}
	return out
}

// Names returns the container names of the recorded calls for op, in order.
func (e *Engine) Names(op string) []string {
	var names []string
	for _, c := range e.Calls(op) {
		names = append(names, c.Name)
	}
	return names
}

// Running reports whether the named container currently runs.
func (e *Engine) Running(name string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	c := e.lookup(name)
	return c != nil && c.Info.Running
}

// Exists reports whether the named container exists.
func (e *Engine) Exists(name string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lookup(name) != nil
}

// ByImage returns the names of the containers created from image.
func (e *Engine) ByImage(image string) []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	var names []string
	for _, id := range e.order {
		if c, ok := e.containers[id]; ok && c.Image == image {
			names = append(names, c.Info.Name)
		}
	}
	return names
}

// Config returns the RunConfig the last container named name was created with, even once it is removed.
func (e *Engine) Config(name string) (container.RunConfig, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	cfg, ok := e.created[name]
	return cfg, ok
}

func (e *Engine) lookup(idOrName string) *Container {
	if c, ok := e.containers[idOrName]; ok {
		return c
	}
	for _, c := range e.containers {
		if c.Info.Name == idOrName {
			return c
		}
	}
	return nil
}

func (e *Engine) record(op string, c *Container, key string) error {
	name := key
	id := key
	if c != nil {
		name = c.Info.Name
		id = c.Info.ID
	}
	e.calls = append(e.calls, Call{Op: op, ID: id, Name: name})
	if errs := e.Failures[op]; errs != nil {
		if err, ok := errs[name]; ok {
			return err
		}
		if err, ok := errs["*"]; ok {
			return err
		}
	}
	return nil
}

func notFound(id string) error {
	return fmt.Errorf("no such container %s: %w", id, container.ErrNotFound)
}

// Inspect implements container.Engine.
func (e *Engine) Inspect(_ context.Context, idOrName string) (container.Info, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	c := e.lookup(idOrName)
	if c == nil {
		return container.Info{}, notFound(idOrName)
	}
	info := c.Info
	if !info.Running && c.StopLag > 0 {
		c.StopLag--
		info.Running = true
	}
	info.Labels = copyLabels(info.Labels)
	info.Mounts = append([]container.Mount(nil), info.Mounts...)
	info.Links = append([]string(nil), info.Links...)
	return info, nil
}

// List implements container.Engine.
func (e *Engine) List(_ context.Context, filter container.ListFilter) ([]container.Info, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	var out []container.Info
	for _, id := range e.order {
		c, ok := e.containers[id]
		if !ok || !filter.Matches(c.Info) {
			continue
		}
		info := c.Info
		info.Labels = copyLabels(info.Labels)
		out = append(out, info)
	}
	return out, nil
}

// EnsureImage implements container.Engine.
func (e *Engine) EnsureImage(_ context.Context, ref string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.record("pull", nil, ref)
}

// Create implements container.Engine.
func (e *Engine) Create(_ context.Context, cfg container.RunConfig) (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.record("create", nil, cfg.Name); err != nil {
		return "", err
	}
	if cfg.Name != "" && e.lookup(cfg.Name) != nil {
		return "", fmt.Errorf("container name %s already in use", cfg.Name)
	}
	id := e.add(&Container{
		Info:   container.Info{Name: cfg.Name, Labels: copyLabels(cfg.Labels)},
		Image:  cfg.Image,
		Config: cfg,
	})
	if cfg.Name == "" {
		e.containers[id].Info.Name = id
	}
	e.created[e.containers[id].Info.Name] = cfg
	return id, nil
}

// Start implements container.Engine.
func (e *Engine) Start(_ context.Context, id string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	c := e.lookup(id)
	if err := e.record("start", c, id); err != nil {
		return err
	}
	if c == nil {
		return notFound(id)
	}
	c.Info.Running = true
	return nil
}

// Stop implements container.Engine.
func (e *Engine) Stop(_ context.Context, id string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	c := e.lookup(id)
	if err := e.record("stop", c, id); err != nil {
		return err
	}
	if c == nil {
		return notFound(id)
	}
	c.Info.Running = false
	return nil
}

// Remove implements container.Engine.
func (e *Engine) Remove(_ context.Context, id string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	c := e.lookup(id)
	if err := e.record("remove", c, id); err != nil {
		return err
	}
	if c == nil {
		return nil
	}
	if c.Info.Running {
		return fmt.Errorf("cannot remove running container %s", c.Info.Name)
	}
	delete(e.containers, c.Info.ID)
	return nil
}

// Logs implements container.Engine. Every container emits the helper output.
func (e *Engine) Logs(_ context.Context, id string) (io.ReadCloser, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	c := e.lookup(id)
	if err := e.record("logs", c, id); err != nil {
		return nil, err
	}
	if c == nil {
		return nil, notFound(id)
	}

	var buf bytes.Buffer
	if len(e.HelperStdout) > 0 {
		_, _ = stdcopy.NewStdWriter(&buf, stdcopy.Stdout).Write(e.HelperStdout)
	}
	if len(e.HelperStderr) > 0 {
		_, _ = stdcopy.NewStdWriter(&buf, stdcopy.Stderr).Write(e.HelperStderr)
	}
	return io.NopCloser(&buf), nil
}

// Wait implements container.Engine. The container exits immediately.
func (e *Engine) Wait(_ context.Context, id string) (int64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	c := e.lookup(id)
	if err := e.record("wait", c, id); err != nil {
		return -1, err
	}
	if c == nil {
		return -1, notFound(id)
	}
	c.Info.Running = false
	return e.ExitCode, nil
}

// Summary describes the engine state, handy in failure messages.
func (e *Engine) Summary() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	var lines []string
	for _, c := range e.containers {
		lines = append(lines, fmt.Sprintf("%s running=%v", c.Info.Name, c.Info.Running))
	}
	sort.Strings(lines)
	return strings.Join(lines, "\n")
}

func copyLabels(in map[string]string) map[string]string {
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
