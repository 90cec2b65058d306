// Package orchestrator runs the chest use cases: backup, restore, list, extract and raw borg commands.
//
// An operation resolves its group of containers (one container or a whole compose project), stops the running ones
// in dependency order, runs borg in a helper container over the aggregated binds, and starts the containers again
// in waves. A cleanup session guarantees the restart and the helper removal however the operation ends.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"golang.org/x/sync/errgroup"

	"github.com/ceymard/chest/internal/cleanup"
	"github.com/ceymard/chest/internal/config"
	"github.com/ceymard/chest/internal/container"
	"github.com/ceymard/chest/internal/deps"
	"github.com/ceymard/chest/internal/events"
	"github.com/ceymard/chest/internal/runner"
	"github.com/ceymard/chest/internal/script"
)

// Kind selects the operation.
type Kind string

const (
	Backup  Kind = "backup"
	Restore Kind = "restore"
	List    Kind = "list"
	Extract Kind = "extract"
	Exec    Kind = "borg"
)

// ExtractDir is where extract binds its output directory inside the helper.
const ExtractDir = "/cwd"

// Precondition errors. Nothing has been touched when they are returned.
var (
	ErrNoDestination = errors.New("no destination configured")
	ErrNoContainers  = errors.New("no matching containers")
	ErrNoArchive     = errors.New("no archive given")
	ErrAborted       = errors.New("aborted")
)

// Request describes one operation.
type Request struct {
	Kind Kind
	// Container or Project selects the group. Both may be empty for list, extract and borg.
	Container string
	Project   string
	// Archive defaults to a generated name for backups and is required for restore and extract.
	Archive     string
	Repository  string
	Passphrase  string
	KeepRunning bool
	// OutputDir and Patterns configure extract.
	OutputDir string
	Patterns  []string
	// Args are the raw borg arguments of Exec.
	Args []string
}

// Outcome summarizes a finished operation.
type Outcome struct {
	Target   config.Target
	Archive  string
	ExitCode int64
	Stats    *events.Stats
	Archives *events.ArchiveList
	Errors   []string
}

// Failed reports whether borg ended with an error. Exit code 1 only signals warnings.
func (o Outcome) Failed() bool {
	return o.ExitCode >= 2
}

// Orchestrator runs operations against a container engine.
type Orchestrator struct {
	Engine container.Engine
	Config *config.Config
	Log    *log.Logger
	// Notify narrates container transitions. May be nil.
	Notify func(container.Transition)
	// Confirm is asked before touching a remote destination. Nil refuses.
	Confirm  func(destination string) bool
	Handlers runner.Handlers

	SSHAuthSock string
	HomeDir     string
	// UID and GID own a local repository after a backup. Negative values skip the chown.
	UID, GID int

	Now func() time.Time
}

// Run executes one operation.
func (o *Orchestrator) Run(ctx context.Context, req Request) (out Outcome, err error) {
	group, err := o.ResolveGroup(ctx, req)
	if err != nil {
		return out, err
	}

	target := o.target(req, group)
	out.Target = target
	if target.Repository == "" {
		return out, ErrNoDestination
	}

	archive, err := o.archive(req, target)
	if err != nil {
		return out, err
	}
	out.Archive = archive

	remote := container.IsRemote(target.Repository)
	if remote && req.Kind != List && req.Kind != Extract {
		if o.Confirm == nil || !o.Confirm(target.Repository) {
			return out, ErrAborted
		}
	}

	if req.Kind == Backup && !remote {
		if err := os.MkdirAll(target.Repository, 0o755); err != nil {
			return out, fmt.Errorf("failed to create repository directory: %w", err)
		}
	}

	nodes := make([]deps.Node, 0, len(group))
	for _, info := range group {
		nodes = append(nodes, deps.NewNode(info))
	}
	plan := deps.Resolve(nodes)
	if len(plan.Cycle) > 0 {
		o.logger().Warn("dependency cycle, using declaration order", "containers", strings.Join(plan.Cycle, ", "))
	}

	lc := &container.Lifecycle{
		Engine:       o.Engine,
		Log:          o.logger(),
		PollInterval: o.Config.PollInterval,
		Notify:       o.Notify,
	}
	session := cleanup.Open(lc, o.logger())
	defer func() {
		if terr := session.Terminate(context.WithoutCancel(ctx)); terr != nil {
			err = errors.Join(err, fmt.Errorf("cleanup incomplete: %w", terr))
		}
		session.Close()
	}()

	stopped, err := o.stopPhase(ctx, session, plan, o.keepRunning(req, target))
	if err == nil {
		var res runner.Result
		res, err = o.runHelper(ctx, lc, session, req, target, archive, group)
		out.ExitCode = res.ExitCode
		out.Stats = res.Stats
		out.Archives = res.Archives
		out.Errors = res.Errors
	}

	if serr := o.startPhase(context.WithoutCancel(ctx), lc, session, plan, stopped); serr != nil {
		err = errors.Join(err, serr)
	}
	return out, err
}

// ResolveGroup returns the containers an operation applies to, in declaration order.
func (o *Orchestrator) ResolveGroup(ctx context.Context, req Request) ([]container.Info, error) {
	switch {
	case req.Project != "":
		infos, err := o.Engine.List(ctx, container.ListFilter{
			All:    true,
			Labels: map[string]string{config.LabelComposeProject: req.Project},
		})
		if err != nil {
			return nil, fmt.Errorf("failed to list project %s: %w", req.Project, err)
		}
		var group []container.Info
		for _, info := range infos {
			if info.Labels[runner.LabelHelper] == "" {
				group = append(group, info)
			}
		}
		if len(group) == 0 {
			return nil, fmt.Errorf("project %s: %w", req.Project, ErrNoContainers)
		}
		return group, nil

	case req.Container != "":
		info, err := o.Engine.Inspect(ctx, strings.TrimSuffix(req.Container, ".docker"))
		if container.IsNotFound(err) {
			return nil, fmt.Errorf("container %s: %w", req.Container, ErrNoContainers)
		}
		if err != nil {
			return nil, err
		}
		return []container.Info{info}, nil

	case req.Kind == Backup || req.Kind == Restore:
		return nil, ErrNoContainers

	default:
		return nil, nil
	}
}

func (o *Orchestrator) target(req Request, group []container.Info) config.Target {
	fallback := req.Project
	if fallback == "" && len(group) == 1 {
		fallback = group[0].Name
	}

	t := config.ResolveTarget(o.Config, groupLabels(group, req.Project != ""), fallback)
	if req.Repository != "" {
		t.Repository = req.Repository
		if !container.IsRemote(t.Repository) {
			t.Repository = container.ExpandPath(t.Repository)
		}
	}
	if req.Passphrase != "" {
		t.Passphrase = req.Passphrase
	}
	if t.Name == "" && t.Repository != "" {
		// without a container the repository names the helper
		t.Name = path.Base(strings.TrimRight(t.Repository, "/"))
	}
	return t
}

// groupLabels returns the labels describing the whole group. For a project, settings labels are merged with the
// first container declaring them winning, and the service label is left out so the project names the archives.
func groupLabels(group []container.Info, project bool) map[string]string {
	if len(group) == 0 {
		return nil
	}
	if !project {
		return group[0].Labels
	}
	merged := map[string]string{}
	for _, info := range group {
		for k, v := range info.Labels {
			if k == config.LabelComposeService || v == "" {
				continue
			}
			if !strings.HasPrefix(k, "chest.") && !strings.HasPrefix(k, "borg.") && !strings.HasPrefix(k, config.LabelComposeProject) {
				continue
			}
			if _, ok := merged[k]; !ok {
				merged[k] = v
			}
		}
	}
	return merged
}

func (o *Orchestrator) archive(req Request, target config.Target) (string, error) {
	switch req.Kind {
	case Backup:
		if req.Archive != "" {
			return req.Archive, nil
		}
		return config.ArchiveName(target.Prefix, o.now()), nil
	case Restore, Extract:
		if req.Archive == "" {
			return "", ErrNoArchive
		}
		return req.Archive, nil
	default:
		return req.Archive, nil
	}
}

// keepRunning reports whether the group stays up during the operation. Restores always stop it.
func (o *Orchestrator) keepRunning(req Request, target config.Target) bool {
	switch req.Kind {
	case Restore:
		return false
	case Backup:
		return req.KeepRunning || target.KeepRunning
	default:
		return true
	}
}

// stopPhase stops the running containers, dependents first, one at a time. Each container is registered for a
// restart before its stop is issued.
func (o *Orchestrator) stopPhase(ctx context.Context, session *cleanup.Session, plan deps.Plan, keep bool) (map[string]bool, error) {
	stopped := map[string]bool{}
	if keep {
		return stopped, nil
	}
	for _, n := range plan.Stop {
		wasRunning, err := session.Stop(ctx, n.ID, n.Name)
		if err != nil {
			return stopped, err
		}
		if !wasRunning {
			// stopped by someone else since the group was inspected
			continue
		}
		stopped[n.ID] = true
	}
	return stopped, nil
}

// startPhase starts the stopped containers again, dependencies first. Containers of a wave start concurrently
// and a grace period separates waves. Failed starts stay in the restart registry.
func (o *Orchestrator) startPhase(ctx context.Context, lc *container.Lifecycle, session *cleanup.Session, plan deps.Plan, stopped map[string]bool) error {
	var toStart []deps.Node
	for _, n := range plan.Start {
		if stopped[n.ID] {
			toStart = append(toStart, n)
		}
	}

	var (
		mu   sync.Mutex
		errs []error
	)
	waves := plan.Waves(toStart)
	for i, wave := range waves {
		var g errgroup.Group
		for _, n := range wave {
			g.Go(func() error {
				if _, err := lc.Start(ctx, n.ID); err != nil {
					o.logger().Error("failed to restart container", "container", n.Name, "err", err)
					mu.Lock()
					errs = append(errs, err)
					mu.Unlock()
					return err
				}
				session.Restored(n.ID)
				return nil
			})
		}
		_ = g.Wait()

		if i < len(waves)-1 {
			if err := container.Sleep(ctx, o.Config.GracePeriod); err != nil {
				return err
			}
		}
	}
	return errors.Join(errs...)
}

func (o *Orchestrator) runHelper(ctx context.Context, lc *container.Lifecycle, session *cleanup.Session, req Request, target config.Target, archive string, group []container.Info) (runner.Result, error) {
	remote := container.IsRemote(target.Repository)

	b := script.New()
	if remote {
		b.SSHSetup()
	}
	switch req.Kind {
	case Backup:
		b.Init(target.Passphrase != "").Create(archive).Prune(target.Prune, target.Prefix)
		if !remote && o.UID >= 0 && o.GID >= 0 {
			b.Chown(o.UID, o.GID)
		}
	case Restore:
		b.Extract(container.Workspace, archive)
	case List:
		b.List()
	case Extract:
		b.Extract(ExtractDir, archive, req.Patterns...)
	case Exec:
		b.Borg(req.Args...)
	default:
		return runner.Result{}, fmt.Errorf("unknown operation %q", req.Kind)
	}

	bindReq := container.BindRequest{
		Destination: target.Repository,
		SSHAuthSock: o.SSHAuthSock,
		HomeDir:     o.HomeDir,
	}
	switch req.Kind {
	case Backup, Restore, Exec:
		for _, info := range group {
			bindReq.Services = append(bindReq.Services, container.ServiceMounts{Service: serviceName(info), Mounts: info.Mounts})
		}
		// restore and borg commands write into the mounts
		bindReq.Writable = req.Kind != Backup
		bindReq.WorkingDir = target.WorkingDir
		bindReq.ConfigFiles = target.ConfigFiles
	case Extract:
		dir := req.OutputDir
		if dir == "" {
			dir = "."
		}
		bindReq.Extra = []container.BindMount{{Source: absPath(dir), Target: ExtractDir, Mode: container.ReadWrite}}
	}

	r := &runner.Runner{
		Lifecycle: lc,
		Session:   session,
		Image:     o.Config.Image,
		Log:       o.logger(),
	}
	return r.Run(ctx, runner.OperationSpec{
		Target:      target.Name,
		Destination: target.Repository,
		Command:     b.Render(),
		Binds:       container.Aggregate(bindReq),
		Passphrase:  target.Passphrase,
		SSHAuthSock: o.SSHAuthSock,
	}, o.Handlers)
}

func serviceName(info container.Info) string {
	if svc := info.Labels[config.LabelComposeService]; svc != "" {
		return svc
	}
	return info.Name
}

func absPath(p string) string {
	p = container.ExpandPath(p)
	if abs, err := filepath.Abs(p); err == nil {
		return abs
	}
	return p
}

func (o *Orchestrator) now() time.Time {
	if o.Now == nil {
		return time.Now()
	}
	return o.Now()
}

func (o *Orchestrator) logger() *log.Logger {
	if o.Log == nil {
		return log.New(io.Discard)
	}
	return o.Log
}
