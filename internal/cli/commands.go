package cli

import (
	"github.com/spf13/cobra"

	"github.com/ceymard/chest/internal/orchestrator"
	"github.com/ceymard/chest/internal/ui"
)

// composePatterns select the compose files of an archive.
var composePatterns = []string{"sh:**/*.yml", "sh:**/*.yaml"}

type groupFlags struct {
	container  string
	project    string
	repository string
}

func (g *groupFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&g.container, "container", "c", "", "container name or id")
	cmd.Flags().StringVarP(&g.project, "project", "p", "", "compose project, every container of it")
	cmd.Flags().StringVarP(&g.repository, "repository", "r", "", "repository to use instead of the one inferred from labels")
	cmd.MarkFlagsMutuallyExclusive("container", "project")
}

func (g *groupFlags) request(kind orchestrator.Kind) orchestrator.Request {
	return orchestrator.Request{
		Kind:       kind,
		Container:  g.container,
		Project:    g.project,
		Repository: g.repository,
	}
}

func (a *App) backupCmd() *cobra.Command {
	var (
		group         groupFlags
		archive       string
		keepRunning   bool
		askPassphrase bool
	)

	cmd := &cobra.Command{
		Use:   "backup",
		Short: "Back up a container or a compose project to a borg repository",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			req := group.request(orchestrator.Backup)
			req.Archive = archive
			req.KeepRunning = keepRunning
			if askPassphrase {
				pass, err := ui.AskSecret("passphrase")
				if err != nil {
					return err
				}
				req.Passphrase = pass
			}
			return a.run(cmd, "backup "+req.Label(), req)
		},
	}

	group.register(cmd)
	cmd.Flags().StringVarP(&archive, "archive", "a", "", "archive name (default <prefix>-yymmdd-HHMMSS)")
	cmd.Flags().BoolVar(&keepRunning, "keep-running", false, "do not stop the containers during the backup")
	cmd.Flags().BoolVar(&askPassphrase, "ask-passphrase", false, "read the repository passphrase from the terminal")
	return cmd
}

func (a *App) backupAllCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "backup-all",
		Short: "Back up every container labelled chest.auto-backup",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.runAll(cmd)
		},
	}
}

func (a *App) restoreCmd() *cobra.Command {
	var (
		group   groupFlags
		archive string
	)

	cmd := &cobra.Command{
		Use:   "restore",
		Short: "Restore a container or a compose project from an archive",
		Long: `Restore extracts an archive over the volumes of the containers. Running containers are stopped
during the extraction, even when they are labelled chest.keep-running.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			req := group.request(orchestrator.Restore)
			req.Archive = archive
			return a.run(cmd, "restore "+req.Label(), req)
		},
	}

	group.register(cmd)
	cmd.Flags().StringVarP(&archive, "archive", "a", "", "archive to restore")
	_ = cmd.MarkFlagRequired("archive")
	return cmd
}

func (a *App) listCmd() *cobra.Command {
	var group groupFlags

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List the archives of a repository",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.run(cmd, "list", group.request(orchestrator.List))
		},
	}

	group.register(cmd)
	return cmd
}

func (a *App) extractCmd() *cobra.Command {
	var (
		group   groupFlags
		archive string
		output  string
	)

	cmd := &cobra.Command{
		Use:   "extract [pattern...]",
		Short: "Extract files of an archive into a directory",
		Long: `Extract copies the files of an archive matching the patterns into the output directory.
Patterns follow borg's syntax ("sh:**/*.conf", "re:^db/"). Containers keep running.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			req := group.request(orchestrator.Extract)
			req.Archive = archive
			req.OutputDir = output
			req.Patterns = args
			return a.run(cmd, "extract "+archive, req)
		},
	}

	group.register(cmd)
	cmd.Flags().StringVarP(&archive, "archive", "a", "", "archive to extract from")
	cmd.Flags().StringVarP(&output, "output", "o", ".", "directory receiving the files")
	_ = cmd.MarkFlagRequired("archive")
	return cmd
}

func (a *App) extractComposeCmd() *cobra.Command {
	var (
		group   groupFlags
		archive string
	)

	cmd := &cobra.Command{
		Use:   "extract-compose",
		Short: "Extract the compose files of an archive into the current directory",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			req := group.request(orchestrator.Extract)
			req.Archive = archive
			req.OutputDir = "."
			req.Patterns = composePatterns
			return a.run(cmd, "extract-compose "+archive, req)
		},
	}

	group.register(cmd)
	cmd.Flags().StringVarP(&archive, "archive", "a", "", "archive to extract from")
	_ = cmd.MarkFlagRequired("archive")
	return cmd
}

func (a *App) borgCmd() *cobra.Command {
	var group groupFlags

	cmd := &cobra.Command{
		Use:   "borg [flags] -- <borg arguments>",
		Short: "Run a borg command against a target's repository",
		Example: `  chest borg -c db -- info ::
  chest borg -p shop -- delete ::shop-240101-030000`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req := group.request(orchestrator.Exec)
			req.Args = args
			return a.run(cmd, "borg "+args[0], req)
		},
	}

	group.register(cmd)
	cmd.Flags().SetInterspersed(false)
	return cmd
}
