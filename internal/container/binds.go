package container

import (
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"
)

// Paths inside the helper container.
const (
	Workspace      = "/data"
	ProjectDir     = Workspace + "/project"
	RepositoryPath = "/repository"
	SSHDir         = "/ssh"
)

// Mode is the access mode of a bind mount.
type Mode string

const (
	ReadOnly  Mode = "ro"
	ReadWrite Mode = "rw"
)

// BindMount is one host path exposed to the helper container.
type BindMount struct {
	Source string
	Target string
	Mode   Mode
}

// String returns the bind in Docker format ("source:target:mode").
func (b BindMount) String() string {
	mode := b.Mode
	if mode == "" {
		mode = ReadWrite
	}
	return fmt.Sprintf("%s:%s:%s", b.Source, b.Target, mode)
}

// ServiceMounts are the mounts of one container, keyed by its service name.
type ServiceMounts struct {
	Service string
	Mounts  []Mount
}

// BindRequest describes everything the helper container needs to see.
type BindRequest struct {
	Services []ServiceMounts
	// Writable binds every service mount read-write, whatever its mode in the container.
	Writable bool
	// WorkingDir is the compose project directory, bound once at ProjectDir.
	WorkingDir  string
	ConfigFiles []string
	Destination string
	SSHAuthSock string
	// HomeDir defaults to the current user's home.
	HomeDir string
	Extra   []BindMount
}

// Aggregate computes the complete bind list of the helper container.
func Aggregate(req BindRequest) []BindMount {
	var binds []BindMount

	for _, svc := range req.Services {
		binds = append(binds, ServiceBinds(svc.Service, svc.Mounts, req.WorkingDir, req.Writable)...)
	}

	if req.WorkingDir != "" {
		binds = append(binds, BindMount{Source: req.WorkingDir, Target: ProjectDir, Mode: ReadWrite})
	}

	for _, file := range req.ConfigFiles {
		if file == "" {
			continue
		}
		binds = append(binds, BindMount{
			Source: file,
			Target: path.Join(Workspace, filepath.Base(file)),
			Mode:   ReadOnly,
		})
	}

	binds = append(binds, req.Extra...)
	binds = append(binds, SystemBinds()...)
	binds = append(binds, DestinationBinds(req.Destination, req.SSHAuthSock, req.HomeDir)...)

	return binds
}

// ServiceBinds remaps the mounts of a container under Workspace/<service>. A mount keeps its mode unless
// writable is set. Mounts whose source lies inside workingDir are skipped since the directory is bound wholesale.
func ServiceBinds(service string, mounts []Mount, workingDir string, writable bool) []BindMount {
	binds := make([]BindMount, 0, len(mounts))
	for _, m := range mounts {
		if workingDir != "" && isWithin(m.Source, workingDir) {
			continue
		}
		mode := ReadOnly
		if m.RW || writable {
			mode = ReadWrite
		}
		binds = append(binds, BindMount{
			Source: m.Source,
			Target: path.Join(Workspace, service, m.Destination),
			Mode:   mode,
		})
	}
	return binds
}

// SystemBinds are the host files every helper container gets read-only.
func SystemBinds() []BindMount {
	files := []string{"/etc/hosts", "/etc/timezone", "/etc/localtime", "/etc/passwd", "/etc/group"}
	binds := make([]BindMount, 0, len(files))
	for _, f := range files {
		binds = append(binds, BindMount{Source: f, Target: f, Mode: ReadOnly})
	}
	return binds
}

// DestinationBinds exposes the repository: SSH credentials for remote destinations,
// the repository directory itself otherwise. The key directory is left out when no home directory is known.
func DestinationBinds(destination, sshAuthSock, homeDir string) []BindMount {
	if destination == "" {
		return nil
	}

	if !IsRemote(destination) {
		return []BindMount{{Source: expandPath(destination), Target: RepositoryPath, Mode: ReadWrite}}
	}

	var binds []BindMount
	if sshAuthSock != "" {
		binds = append(binds, BindMount{Source: sshAuthSock, Target: sshAuthSock, Mode: ReadWrite})
	}
	if homeDir == "" {
		dir, err := os.UserHomeDir()
		if err != nil {
			return binds
		}
		homeDir = dir
	}
	binds = append(binds, BindMount{Source: filepath.Join(homeDir, ".ssh"), Target: SSHDir, Mode: ReadOnly})
	return binds
}

// IsRemote reports whether a destination denotes an SSH endpoint.
func IsRemote(destination string) bool {
	return strings.Contains(destination, "@")
}

// RepositoryAddress is the value of BORG_REPO inside the helper container.
func RepositoryAddress(destination string) string {
	if IsRemote(destination) {
		return destination
	}
	return RepositoryPath
}

// ExpandPath expands ~ to the home directory.
func ExpandPath(p string) string {
	return expandPath(p)
}

// expandPath expands ~ to home directory in paths.
func expandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[2:])
	}

	if path == "~" {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return home
	}

	return path
}

// isWithin reports whether p is dir or lies below it.
func isWithin(p, dir string) bool {
	rel, err := filepath.Rel(filepath.Clean(dir), filepath.Clean(p))
	if err != nil {
		return false
	}
	return rel == "." || (rel != ".." && !strings.HasPrefix(rel, "../"))
}
