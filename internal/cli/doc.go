// Package cli implements the chest command line.
//
// The root command loads the configuration (flags, CHEST_* environment variables, config.yaml) once, then each
// subcommand builds an orchestrator.Request and renders the outcome through internal/ui:
//   - backup: back up a container (-c) or a compose project (-p)
//   - backup-all: back up every container labelled chest.auto-backup
//   - restore: extract an archive over the volumes of a container or project
//   - list: print the archives of a repository on stdout
//   - extract, extract-compose: copy files out of an archive
//   - borg: run any borg command against the resolved repository
//
// A failed borg run ends the process with borg's own exit code.
package cli
