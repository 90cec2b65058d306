package config

import (
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/ceymard/chest/internal/container"
)

// Labels read from containers.
const (
	LabelName        = "chest.name"
	LabelPrefix      = "chest.prefix"
	LabelRepository  = "chest.repository"
	LabelPassphrase  = "chest.passphrase"
	LabelKeepRunning = "chest.keep-running"
	LabelAutoBackup  = "chest.auto-backup"

	LabelBorgPrune      = "borg.prune"
	LabelBorgPassphrase = "borg.passphrase"

	LabelComposeProject     = "com.docker.compose.project"
	LabelComposeService     = "com.docker.compose.service"
	LabelComposeWorkingDir  = "com.docker.compose.project.working_dir"
	LabelComposeConfigFiles = "com.docker.compose.project.config_files"
)

// AutoPrune is the retention policy used when prune is "auto".
const AutoPrune = "--keep-daily 7 --keep-weekly 2 --keep-monthly 1"

// archiveTimeFormat selects as one word in a terminal (yymmdd-HHMMSS).
const archiveTimeFormat = "060102-150405"

// Target holds the settings of one backup target.
type Target struct {
	Name        string
	Prefix      string
	Repository  string
	Prune       string
	Passphrase  string
	KeepRunning bool
	AutoBackup  bool
	WorkingDir  string
	ConfigFiles []string
}

// ResolveTarget combines the labels of a container (or of a project) with the global settings.
// Labels take precedence. fallbackName is used when no label names the target.
func ResolveTarget(cfg *Config, labels map[string]string, fallbackName string) Target {
	t := Target{
		Name:        first(labels[LabelName], labels[LabelComposeProject], fallbackName),
		Passphrase:  first(labels[LabelBorgPassphrase], labels[LabelPassphrase], cfg.Passphrase),
		KeepRunning: truthy(labels[LabelKeepRunning]) || cfg.KeepRunning,
		AutoBackup:  truthy(labels[LabelAutoBackup]),
		WorkingDir:  labels[LabelComposeWorkingDir],
		ConfigFiles: splitList(labels[LabelComposeConfigFiles]),
	}
	t.Prefix = first(labels[LabelPrefix], labels[LabelComposeService], cfg.Prefix, t.Name, "chest")
	t.Prune = PrunePolicy(first(labels[LabelBorgPrune], cfg.Prune))

	t.Repository = first(labels[LabelRepository], cfg.Repository)
	if t.Repository == "" && t.Name != "" {
		t.Repository = filepath.Join(container.ExpandPath(cfg.BackupsDir), t.Name)
	}
	if !container.IsRemote(t.Repository) {
		t.Repository = container.ExpandPath(t.Repository)
	}
	return t
}

// PrunePolicy returns the borg prune flags for a configured value. "auto" selects AutoPrune; values that hold
// no flag disable pruning.
func PrunePolicy(value string) string {
	value = strings.TrimSpace(value)
	if value == "auto" {
		return AutoPrune
	}
	if !strings.Contains(value, "-") {
		return ""
	}
	return value
}

// ArchiveName returns the default archive name, "<prefix>-yymmdd-HHMMSS".
func ArchiveName(prefix string, t time.Time) string {
	if prefix == "" {
		prefix = "chest"
	}
	return prefix + "-" + t.Format(archiveTimeFormat)
}

func first(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

// truthy treats a label as a flag: present and not an explicit false value.
func truthy(value string) bool {
	if value == "" {
		return false
	}
	if b, err := strconv.ParseBool(value); err == nil {
		return b
	}
	return true
}

func splitList(value string) []string {
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
