// Package runner executes one borg invocation inside an ephemeral helper container.
//
// The helper is created from a fixed image, registered in the cleanup session before it starts, observed through
// its demultiplexed output, and always stopped and removed afterwards. A non zero exit status is reported in the
// Result, not as an error: callers judge success from the events they received.
package runner

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/charmbracelet/log"
	"github.com/docker/docker/pkg/stdcopy"
	"golang.org/x/sync/errgroup"

	"github.com/ceymard/chest/internal/cleanup"
	"github.com/ceymard/chest/internal/container"
	"github.com/ceymard/chest/internal/events"
	"github.com/ceymard/chest/pkg/hash"
)

// DefaultImage is the borg image used when none is configured.
const DefaultImage = "ceymard/borg:1.2.8"

// Labels set on every helper container.
const (
	LabelHelper = "chest.helper"
	LabelTarget = "chest.target"
)

// drainTimeout bounds how long output is read once the helper has exited.
const drainTimeout = 5 * time.Second

// ErrBusy is returned when a helper for the same target is already running.
var ErrBusy = errors.New("a helper container is already running for this target")

// safetyEnv keeps borg from asking questions nobody can answer.
var safetyEnv = []string{
	"BORG_UNKNOWN_UNENCRYPTED_REPO_ACCESS_IS_OK=yes",
	"BORG_RELOCATED_REPO_ACCESS_IS_OK=yes",
	"BORG_HOSTNAME_IS_UNIQUE=no",
}

// OperationSpec fully describes one helper invocation.
type OperationSpec struct {
	// Target names the backup target. The helper container is named after it.
	Target      string
	Destination string
	// Command is the shell script run by /bin/ash.
	Command     string
	Env         []string
	Binds       []container.BindMount
	Passphrase  string
	SSHAuthSock string
	Labels      map[string]string
}

// Handlers receive the events of each output channel. Records are delivered in order per channel.
type Handlers struct {
	Stdout func(events.Record)
	Stderr func(events.Record)
}

// Result is what a finished helper left behind.
type Result struct {
	ExitCode int64
	// Stats is the last statistics record printed on stdout, if any.
	Stats *events.Stats
	// Archives is the last archive listing printed on stdout, if any.
	Archives *events.ArchiveList
	// Errors holds the messages of the error log records.
	Errors []string
}

// Runner runs helper containers.
type Runner struct {
	Lifecycle *container.Lifecycle
	Session   *cleanup.Session
	Image     string
	Log       *log.Logger
}

// HelperName returns the name of the helper container serving target.
func HelperName(target string) string {
	return hash.Name("chest", target)
}

// Environment returns the complete environment of the helper container.
func Environment(spec OperationSpec) []string {
	env := append([]string(nil), safetyEnv...)
	env = append(env, "BORG_REPO="+container.RepositoryAddress(spec.Destination))
	if spec.Passphrase != "" {
		env = append(env, "BORG_PASSPHRASE="+spec.Passphrase)
	}
	if container.IsRemote(spec.Destination) && spec.SSHAuthSock != "" {
		env = append(env, "SSH_AUTH_SOCK="+spec.SSHAuthSock)
	}
	return append(env, spec.Env...)
}

// Run executes spec to completion exactly once.
func (r *Runner) Run(ctx context.Context, spec OperationSpec, h Handlers) (Result, error) {
	var res Result
	engine := r.Lifecycle.Engine
	name := HelperName(spec.Target)

	if err := r.clearOrphan(ctx, name); err != nil {
		return res, err
	}

	image := r.image()
	if err := engine.EnsureImage(ctx, image); err != nil {
		return res, fmt.Errorf("failed to pull %s: %w", image, err)
	}

	labels := map[string]string{LabelHelper: "true", LabelTarget: spec.Target}
	for k, v := range spec.Labels {
		labels[k] = v
	}

	id, err := r.Session.CreateHelper(ctx, container.RunConfig{
		Name:       name,
		Image:      image,
		WorkDir:    container.Workspace,
		Entrypoint: []string{"/bin/ash"},
		Cmd:        []string{"-c", spec.Command},
		Env:        Environment(spec),
		Binds:      spec.Binds,
		Labels:     labels,
	})
	if err != nil {
		return res, err
	}

	defer func() {
		// teardown must run even if ctx was canceled
		r.teardown(context.WithoutCancel(ctx), id, name)
	}()

	if _, err := r.Lifecycle.Start(ctx, id); err != nil {
		return res, err
	}

	wait, err := r.stream(ctx, id, h, &res)
	if err != nil {
		r.logger().Error("failed to follow helper output", "container", name, "err", err)
	}

	code, err := engine.Wait(ctx, id)
	wait()
	if err != nil {
		return res, fmt.Errorf("failed to wait for %s: %w", name, err)
	}
	res.ExitCode = code
	r.logger().Debug("helper exited", "container", name, "code", code)
	return res, nil
}

// stream starts demultiplexing the helper output. The returned function blocks until both channels are drained.
func (r *Runner) stream(ctx context.Context, id string, h Handlers, res *Result) (func(), error) {
	logs, err := r.Lifecycle.Engine.Logs(ctx, id)
	if err != nil {
		return func() {}, err
	}

	outR, outW := io.Pipe()
	errR, errW := io.Pipe()

	var g errgroup.Group
	g.Go(func() error {
		_, err := stdcopy.StdCopy(outW, errW, logs)
		outW.CloseWithError(err)
		errW.CloseWithError(err)
		return err
	})
	g.Go(func() error {
		return pump(outR, func(rec events.Record) {
			switch ev := rec.Event.(type) {
			case events.Stats:
				res.Stats = &ev
			case events.ArchiveList:
				res.Archives = &ev
			}
			deliver(h.Stdout, rec)
		})
	})
	g.Go(func() error {
		return pump(errR, func(rec events.Record) {
			if m, ok := rec.Event.(events.LogMessage); ok && rec.Route == events.RouteError {
				res.Errors = append(res.Errors, m.Message)
			}
			deliver(h.Stderr, rec)
		})
	})

	done := make(chan error, 1)
	go func() { done <- g.Wait() }()

	return func() {
		var err error
		select {
		case err = <-done:
		case <-time.After(drainTimeout):
			_ = logs.Close()
			err = <-done
		}
		_ = logs.Close()
		if err != nil {
			r.logger().Warn("helper output ended abnormally", "err", err)
		}
	}, nil
}

// pump scans one channel. On a scan error the rest of the channel is discarded so the demultiplexer never blocks.
func pump(r *io.PipeReader, fn func(events.Record)) error {
	err := events.Scan(r, fn)
	if err != nil {
		_, _ = io.Copy(io.Discard, r)
	}
	return err
}

func deliver(fn func(events.Record), rec events.Record) {
	if fn == nil || rec.Route == events.RouteSuppressed {
		return
	}
	fn(rec)
}

// clearOrphan removes a stopped helper left behind by a killed run.
func (r *Runner) clearOrphan(ctx context.Context, name string) error {
	info, err := r.Lifecycle.Engine.Inspect(ctx, name)
	if container.IsNotFound(err) {
		return nil
	}
	if err != nil {
		return err
	}
	if info.Labels[LabelHelper] != "true" {
		return fmt.Errorf("container %s exists and is not a chest helper", name)
	}
	if info.Running {
		return fmt.Errorf("%s: %w", name, ErrBusy)
	}
	r.logger().Warn("removing leftover helper container", "container", name)
	return r.Lifecycle.Remove(ctx, info.ID)
}

// teardown stops and removes the helper. The session keeps the entry when either step fails.
func (r *Runner) teardown(ctx context.Context, id, name string) {
	if _, err := r.Lifecycle.Stop(ctx, id); err != nil && !container.IsNotFound(err) {
		r.logger().Error("failed to stop helper container", "container", name, "err", err)
		return
	}
	if err := r.Lifecycle.Remove(ctx, id); err != nil {
		r.logger().Error("failed to remove helper container", "container", name, "err", err)
		return
	}
	r.Session.ReleaseHelper(id)
}

func (r *Runner) image() string {
	if r.Image == "" {
		return DefaultImage
	}
	return r.Image
}

func (r *Runner) logger() *log.Logger {
	if r.Log == nil {
		return log.New(io.Discard)
	}
	return r.Log
}
