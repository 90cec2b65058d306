package cli

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/ceymard/chest/internal/orchestrator"
	"github.com/ceymard/chest/internal/runner"
	"github.com/ceymard/chest/internal/ui"
)

func (a *App) newOrchestrator(printer *ui.Printer) (*orchestrator.Orchestrator, func(), error) {
	engine, release, err := a.NewEngine()
	if err != nil {
		return nil, nil, err
	}
	home, _ := os.UserHomeDir()

	return &orchestrator.Orchestrator{
		Engine:  engine,
		Config:  a.Config,
		Log:     a.Log,
		Notify:  ui.Transition,
		Confirm: a.Confirm,
		Handlers: runner.Handlers{
			Stdout: printer.Handle,
			Stderr: printer.Handle,
		},
		SSHAuthSock: os.Getenv("SSH_AUTH_SOCK"),
		HomeDir:     home,
		UID:         os.Getuid(),
		GID:         os.Getgid(),
	}, release, nil
}

func (a *App) run(cmd *cobra.Command, title string, req orchestrator.Request) error {
	printer := ui.NewPrinter(a.verbose)
	o, release, err := a.newOrchestrator(printer)
	if err != nil {
		return err
	}
	defer release()

	ui.Header(title)
	defer ui.Footer()

	out, err := o.Run(cmd.Context(), req)
	printer.Close()
	if err != nil {
		return err
	}
	return a.report(req.Kind, out)
}

func (a *App) runAll(cmd *cobra.Command) error {
	printer := ui.NewPrinter(a.verbose)
	o, release, err := a.newOrchestrator(printer)
	if err != nil {
		return err
	}
	defer release()

	ui.Header("backup-all")
	defer ui.Footer()

	var count int
	err = o.BackupAll(cmd.Context(), func(req orchestrator.Request, out orchestrator.Outcome, err error) {
		printer.Close()
		count++
		if err != nil {
			ui.Fail("%s: %v", ui.Bold(req.Label()), err)
			return
		}
		ui.Success("%s", ui.Bold(req.Label()))
		_ = a.report(orchestrator.Backup, out)
	})
	if count == 0 && err == nil {
		ui.DimMsg("no container is labelled chest.auto-backup")
	}
	return err
}

// report renders an outcome and turns a failed borg run into an ExitError.
func (a *App) report(kind orchestrator.Kind, out orchestrator.Outcome) error {
	if out.Failed() {
		return &ExitError{Code: int(out.ExitCode)}
	}

	switch kind {
	case orchestrator.Backup:
		ui.Show("repository", out.Target.Repository)
		if out.Stats != nil {
			ui.Stats(*out.Stats)
		}
	case orchestrator.Restore:
		ui.Info("restored %s", ui.Bold(out.Archive))
	case orchestrator.Extract:
		ui.Info("extracted %s", ui.Bold(out.Archive))
	case orchestrator.List:
		if out.Archives != nil {
			ui.Archives(a.Stdout, *out.Archives)
		}
	}

	if out.ExitCode == 1 {
		ui.Warn("borg finished with warnings")
	}
	return nil
}
