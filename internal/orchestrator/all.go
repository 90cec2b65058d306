package orchestrator

import (
	"context"
	"errors"
	"fmt"

	"github.com/ceymard/chest/internal/config"
	"github.com/ceymard/chest/internal/container"
	"github.com/ceymard/chest/internal/runner"
)

// AutoBackupTargets lists the containers that opted into automatic backups with the chest.auto-backup label.
// Members of one compose project are reported once, as the project.
func (o *Orchestrator) AutoBackupTargets(ctx context.Context) ([]Request, error) {
	infos, err := o.Engine.List(ctx, container.ListFilter{All: true})
	if err != nil {
		return nil, fmt.Errorf("failed to list containers: %w", err)
	}

	var reqs []Request
	seen := map[string]bool{}
	for _, info := range infos {
		if info.Labels[runner.LabelHelper] != "" {
			continue
		}
		if !config.ResolveTarget(o.Config, info.Labels, info.Name).AutoBackup {
			continue
		}
		req := Request{Kind: Backup, Container: info.Name}
		if project := info.Labels[config.LabelComposeProject]; project != "" {
			req = Request{Kind: Backup, Project: project}
		}
		key := req.Project + "/" + req.Container
		if !seen[key] {
			seen[key] = true
			reqs = append(reqs, req)
		}
	}
	return reqs, nil
}

// BackupAll backs up every auto-backup target, one after the other. A failing target does not prevent the
// others from being backed up.
func (o *Orchestrator) BackupAll(ctx context.Context, each func(Request, Outcome, error)) error {
	reqs, err := o.AutoBackupTargets(ctx)
	if err != nil {
		return err
	}

	var errs []error
	for _, req := range reqs {
		if ctx.Err() != nil {
			errs = append(errs, ctx.Err())
			break
		}
		out, err := o.Run(ctx, req)
		if err == nil && out.Failed() {
			err = fmt.Errorf("borg exited with code %d", out.ExitCode)
		}
		if each != nil {
			each(req, out, err)
		}
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", req.Label(), err))
		}
	}
	return errors.Join(errs...)
}

// Label names the group of a request.
func (r Request) Label() string {
	if r.Project != "" {
		return r.Project
	}
	return r.Container
}
