package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/ceymard/chest/internal/config"
	"github.com/ceymard/chest/internal/container"
	"github.com/ceymard/chest/internal/logging"
	"github.com/ceymard/chest/internal/orchestrator"
	"github.com/ceymard/chest/internal/runner"
	"github.com/ceymard/chest/internal/ui"
)

// Version is the chest version, set at build time.
var Version = "dev"

// ExitError carries the exit code of a borg run that failed.
type ExitError struct {
	Code int
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("borg exited with code %d", e.Code)
}

// App holds what the commands share once the root command has initialized.
type App struct {
	Viper  *viper.Viper
	Config *config.Config
	Log    *log.Logger

	// NewEngine connects to the container engine. The returned function releases it.
	NewEngine func() (container.Engine, func(), error)
	// Stdout receives machine readable output such as archive listings.
	Stdout io.Writer
	// Confirm asks before writing to a remote repository.
	Confirm func(destination string) bool

	cfgFile string
	verbose bool
}

// New returns an App talking to the local Docker daemon.
func New() *App {
	return &App{
		Viper:     viper.New(),
		NewEngine: dockerEngine,
		Stdout:    os.Stdout,
		Confirm:   confirmRemote,
	}
}

func dockerEngine() (container.Engine, func(), error) {
	c, err := container.NewClient()
	if err != nil {
		return nil, nil, err
	}
	return c, func() { _ = c.Close() }, nil
}

func confirmRemote(destination string) bool {
	ui.Warn("you are about to write to the remote repository %s", ui.Bold(destination))
	ui.DimMsg("this is dangerous, you may be inadvertently backing up over an existing backup")
	return ui.AskYesNo("Continue?", false)
}

// Command builds the root command.
func (a *App) Command() *cobra.Command {
	root := &cobra.Command{
		Use:   "chest",
		Short: "Back up and restore docker containers with borg",
		Long: `chest backs up the volumes of a container, or of a whole compose project, into a borg repository.

Running containers are stopped in dependency order for the duration of the transfer and started again afterwards,
whatever happens. borg runs in a short-lived helper container, so it needs not be installed on the host.`,
		Version:           Version,
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: a.init,
	}

	flags := root.PersistentFlags()
	flags.StringVar(&a.cfgFile, "config", "", "config file (default is "+config.Dir()+"/config.yaml)")
	flags.BoolVarP(&a.verbose, "verbose", "v", false, "show debug logs and every borg message")
	flags.String("image", runner.DefaultImage, "borg image of the helper container")
	flags.String("backups-dir", config.Default().BackupsDir, "directory holding one repository per target")
	_ = a.Viper.BindPFlag("image", flags.Lookup("image"))
	_ = a.Viper.BindPFlag("backups_dir", flags.Lookup("backups-dir"))

	root.AddCommand(
		a.backupCmd(),
		a.backupAllCmd(),
		a.restoreCmd(),
		a.listCmd(),
		a.extractCmd(),
		a.extractComposeCmd(),
		a.borgCmd(),
	)
	return root
}

func (a *App) init(_ *cobra.Command, _ []string) error {
	if err := config.Init(a.Viper, a.cfgFile); err != nil {
		return err
	}
	cfg, err := config.Load(a.Viper)
	if err != nil {
		return err
	}
	a.Config = cfg

	level := cfg.LogLevel
	if a.verbose {
		level = "debug"
	}
	a.Log = logging.New(os.Stderr, level)
	a.Log.Debug("configuration loaded", "file", a.Viper.ConfigFileUsed(), "image", cfg.Image)
	return nil
}

// Execute runs the command line and returns the process exit code.
func (a *App) Execute(ctx context.Context, args []string) int {
	root := a.Command()
	root.SetArgs(args)
	err := root.ExecuteContext(ctx)
	if err == nil {
		return 0
	}

	var exit *ExitError
	switch {
	case errors.As(err, &exit):
		ui.Fail("%v", err)
		return exit.Code
	case errors.Is(err, orchestrator.ErrAborted):
		ui.Warn("aborting")
		return 1
	default:
		ui.Fail("%v", err)
		return 1
	}
}

// Execute runs chest against the local Docker daemon.
func Execute(ctx context.Context, args []string) int {
	return New().Execute(ctx, args)
}
