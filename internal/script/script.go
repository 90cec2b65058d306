// Package script assembles the shell command executed by the helper container.
//
// A script is an ordered list of steps. Each step is one shell command line; steps are rendered one per line so a
// failing step (borg init on an existing repository for instance) does not prevent the next ones from running.
package script

import (
	"fmt"
	"strings"
)

// Step names.
const (
	StepSSH     = "ssh"
	StepInit    = "init"
	StepCreate  = "create"
	StepExtract = "extract"
	StepList    = "list"
	StepPrune   = "prune"
	StepChown   = "chown"
	StepBorg    = "borg"
)

// Workspace and repository paths inside the helper container.
const (
	dataDir       = "/data"
	repositoryDir = "/repository"
	sshDir        = "/ssh"
)

// Step is one command of a script.
type Step struct {
	Name    string
	Command string
}

// Builder accumulates steps in order.
type Builder struct {
	steps []Step
}

// New returns an empty builder.
func New() *Builder {
	return &Builder{}
}

func (b *Builder) add(name, format string, args ...any) *Builder {
	b.steps = append(b.steps, Step{Name: name, Command: fmt.Sprintf(format, args...)})
	return b
}

// SSHSetup copies the read-only key directory to root's home so ssh accepts its permissions.
func (b *Builder) SSHSetup() *Builder {
	return b.add(StepSSH, "mkdir -p /root/.ssh ; cp -Rf %s/* /root/.ssh/", sshDir)
}

// Init creates the repository. Encryption uses repokey-blake2 when a passphrase is available.
func (b *Builder) Init(encrypted bool) *Builder {
	mode := "none"
	if encrypted {
		mode = "repokey-blake2"
	}
	return b.add(StepInit, `borg init --log-json -e %s "$BORG_REPO"`, mode)
}

// Create archives the whole workspace.
func (b *Builder) Create(archive string) *Builder {
	return b.add(StepCreate, "cd %s && borg create --progress --json --log-json --stats %s ./*", dataDir, Quote("::"+archive))
}

// Extract restores an archive in dir. Paths may use borg pattern styles ("sh:**/*.yml").
func (b *Builder) Extract(dir, archive string, paths ...string) *Builder {
	cmd := fmt.Sprintf("cd %s && borg extract --progress --log-json --list -v %s", Quote(dir), Quote("::"+archive))
	for _, p := range paths {
		cmd += " " + Quote(p)
	}
	return b.add(StepExtract, "%s", cmd)
}

// List prints the archives of the repository as JSON.
func (b *Builder) List() *Builder {
	return b.add(StepList, "borg list --json --log-json ::")
}

// Prune applies a retention policy to the archives named after prefix. An empty policy adds nothing.
func (b *Builder) Prune(policy, prefix string) *Builder {
	policy = strings.TrimSpace(policy)
	if policy == "" {
		return b
	}
	return b.add(StepPrune, "borg prune --log-json --list %s --glob-archives %s ::", policy, Quote(prefix+"-*"))
}

// Chown hands the local repository back to the invoking user.
func (b *Builder) Chown(uid, gid int) *Builder {
	return b.add(StepChown, "chown -R %d:%d %s", uid, gid, repositoryDir)
}

// Borg runs an arbitrary borg command inside the workspace.
func (b *Builder) Borg(args ...string) *Builder {
	quoted := make([]string, 0, len(args))
	for _, a := range args {
		quoted = append(quoted, Quote(a))
	}
	return b.add(StepBorg, "cd %s && borg %s", dataDir, strings.Join(quoted, " "))
}

// Steps returns a copy of the accumulated steps.
func (b *Builder) Steps() []Step {
	return append([]Step(nil), b.steps...)
}

// Has reports whether a step with the given name was added.
func (b *Builder) Has(name string) bool {
	for _, s := range b.steps {
		if s.Name == name {
			return true
		}
	}
	return false
}

// Render returns the script, one step per line.
func (b *Builder) Render() string {
	lines := make([]string, 0, len(b.steps))
	for _, s := range b.steps {
		lines = append(lines, s.Command)
	}
	return strings.Join(lines, "\n")
}

// Quote single-quotes s for a POSIX shell unless it only holds safe characters.
func Quote(s string) string {
	if s == "" {
		return "''"
	}
	safe := true
	for _, r := range s {
		if !isSafe(r) {
			safe = false
			break
		}
	}
	if safe {
		return s
	}
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

func isSafe(r rune) bool {
	switch {
	case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		return true
	}
	return strings.ContainsRune("-_./:=@%+,", r)
}
