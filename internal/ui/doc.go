// Package ui provides terminal output formatting for chest.
//
// This package handles all user-facing output with consistent styling:
//   - Narration of container transitions (stopping, starting, helper creation and removal)
//   - Info, success, failure, and warning messages
//   - Rendering of borg events: overwritable progress lines, errors and warnings
//   - Backup statistics and archive listings
//   - Interactive prompts (yes/no confirmation, hidden passphrase)
//
// All output goes to ui.Out (defaults to os.Stderr) and prompts read from ui.In,
// to allow testing and output redirection.
//
// Example usage:
//
//	ui.Header("backup db")
//	ui.Transition(container.Transition{Action: container.ActionStopping, Name: "db"})
//	printer := ui.NewPrinter(false)
//	printer.Handle(record)
//	ui.Stats(stats)
//	ui.Footer()
//
// Output styling:
//   - Info:     → Cyan arrow
//   - Success:  ✔ Green checkmark
//   - Fail:     ✘ Red X
//   - Warn:     ⚠ Yellow sign
//   - Stopping: ⏸ Red
//   - Starting: ⏵ Green
package ui
