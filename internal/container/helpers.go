package container

import (
	"errors"
	"fmt"
	"strings"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/client"
)

// buildContainerConfig creates a container.Config from RunConfig.
func buildContainerConfig(cfg RunConfig) *container.Config {
	return &container.Config{
		Image:        cfg.Image,
		WorkingDir:   cfg.WorkDir,
		Entrypoint:   cfg.Entrypoint,
		Cmd:          cfg.Cmd,
		Env:          cfg.Env,
		Labels:       cfg.Labels,
		AttachStdout: true,
		AttachStderr: true,
	}
}

// buildHostConfig creates a container.HostConfig from RunConfig.
func buildHostConfig(cfg RunConfig) *container.HostConfig {
	hostConfig := &container.HostConfig{}

	if cfg.NetworkMode != "" {
		hostConfig.NetworkMode = container.NetworkMode(cfg.NetworkMode)
	}

	// Binds rather than Mounts so that the engine creates missing host directories
	if len(cfg.Binds) > 0 {
		binds := make([]string, 0, len(cfg.Binds))
		for _, b := range cfg.Binds {
			binds = append(binds, b.String())
		}
		hostConfig.Binds = binds
	}

	return hostConfig
}

// infoFromInspect converts a Docker inspect response into an Info snapshot.
func infoFromInspect(inspect types.ContainerJSON) Info {
	info := Info{Labels: map[string]string{}}

	if inspect.ContainerJSONBase != nil {
		info.ID = inspect.ID
		info.Name = trimName(inspect.Name)
		if inspect.State != nil {
			info.Running = inspect.State.Running
		}
		if inspect.HostConfig != nil {
			for _, link := range inspect.HostConfig.Links {
				if target := linkTarget(link); target != "" {
					info.Links = append(info.Links, target)
				}
			}
		}
	}

	if inspect.Config != nil {
		for k, v := range inspect.Config.Labels {
			info.Labels[k] = v
		}
	}

	for _, m := range inspect.Mounts {
		info.Mounts = append(info.Mounts, Mount{
			Source:      m.Source,
			Destination: m.Destination,
			RW:          m.RW,
		})
	}

	return info
}

// trimName strips the leading "/" Docker puts in front of container names.
func trimName(name string) string {
	return strings.TrimPrefix(name, "/")
}

// linkTarget extracts the linked container name from a legacy link ("/db:/web/db" -> "db").
func linkTarget(link string) string {
	target, _, _ := strings.Cut(link, ":")
	return trimName(target)
}

// labelFilter creates filter args matching the given labels.
func labelFilter(labels map[string]string) filters.Args {
	f := filters.NewArgs()
	for k, v := range labels {
		if v == "" {
			f.Add("label", k)
		} else {
			f.Add("label", k+"="+v)
		}
	}
	return f
}

// isNotFoundError checks if an error is a "not found" error from Docker.
func isNotFoundError(err error) bool {
	return errors.Is(err, ErrNotFound) || client.IsErrNotFound(err)
}

// wrapNotFound wraps an engine error, tagging not-found errors with ErrNotFound.
func wrapNotFound(err error, format string, args ...any) error {
	msg := fmt.Sprintf(format, args...)
	if client.IsErrNotFound(err) {
		return fmt.Errorf("%s: %w: %w", msg, ErrNotFound, err)
	}
	return fmt.Errorf("%s: %w", msg, err)
}

// IsNotFound reports whether err means the container does not exist.
func IsNotFound(err error) bool {
	return isNotFoundError(err)
}
