package container

import (
	"context"
	"fmt"
	"io"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/client"
)

// Client wraps the Docker client with our operations.
type Client struct {
	cli *client.Client
}

// NewClient creates a new Docker client wrapper.
func NewClient() (*Client, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, err
	}
	return &Client{cli: cli}, nil
}

// Close closes the underlying Docker client.
func (c *Client) Close() error {
	return c.cli.Close()
}

// Inspect returns a fresh snapshot of a container.
func (c *Client) Inspect(ctx context.Context, idOrName string) (Info, error) {
	inspect, err := c.cli.ContainerInspect(ctx, idOrName)
	if err != nil {
		return Info{}, wrapNotFound(err, "failed to inspect container %s", idOrName)
	}
	return infoFromInspect(inspect), nil
}

// List returns every container matching the filter, fully inspected.
func (c *Client) List(ctx context.Context, filter ListFilter) ([]Info, error) {
	containers, err := c.cli.ContainerList(ctx, container.ListOptions{
		All:     filter.All,
		Filters: labelFilter(filter.Labels),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list containers: %w", err)
	}

	infos := make([]Info, 0, len(containers))
	for _, ctr := range containers {
		info, err := c.Inspect(ctx, ctr.ID)
		if err != nil {
			// Removed between list and inspect
			if isNotFoundError(err) {
				continue
			}
			return nil, err
		}
		infos = append(infos, info)
	}
	return infos, nil
}

// EnsureImage pulls an image if it is not present locally.
func (c *Client) EnsureImage(ctx context.Context, ref string) error {
	_, _, err := c.cli.ImageInspectWithRaw(ctx, ref)
	if err == nil {
		return nil
	}
	if !client.IsErrNotFound(err) {
		return fmt.Errorf("failed to inspect image %s: %w", ref, err)
	}

	resp, err := c.cli.ImagePull(ctx, ref, image.PullOptions{})
	if err != nil {
		return fmt.Errorf("failed to pull image %s: %w", ref, err)
	}
	defer resp.Close()

	// The pull only completes once the progress stream is drained
	_, err = io.Copy(io.Discard, resp)
	return err
}

// Create creates a container without starting it.
func (c *Client) Create(ctx context.Context, cfg RunConfig) (string, error) {
	resp, err := c.cli.ContainerCreate(
		ctx,
		buildContainerConfig(cfg),
		buildHostConfig(cfg),
		nil,
		nil,
		cfg.Name,
	)
	if err != nil {
		return "", fmt.Errorf("failed to create container: %w", err)
	}
	return resp.ID, nil
}

// Start starts a container.
func (c *Client) Start(ctx context.Context, id string) error {
	if err := c.cli.ContainerStart(ctx, id, container.StartOptions{}); err != nil {
		return wrapNotFound(err, "failed to start container %s", id)
	}
	return nil
}

// Stop stops a container using the engine's own stop timeout.
func (c *Client) Stop(ctx context.Context, id string) error {
	if err := c.cli.ContainerStop(ctx, id, container.StopOptions{}); err != nil {
		return wrapNotFound(err, "failed to stop container %s", id)
	}
	return nil
}

// Remove removes a container. Removing a container that is already gone succeeds.
func (c *Client) Remove(ctx context.Context, id string) error {
	options := container.RemoveOptions{
		Force:         false,
		RemoveVolumes: false,
	}

	err := c.cli.ContainerRemove(ctx, id, options)
	if err != nil && !client.IsErrNotFound(err) {
		return fmt.Errorf("failed to remove container %s: %w", id, err)
	}

	return nil
}

// Logs follows the combined output of a container.
func (c *Client) Logs(ctx context.Context, id string) (io.ReadCloser, error) {
	stream, err := c.cli.ContainerLogs(ctx, id, container.LogsOptions{
		ShowStdout: true,
		ShowStderr: true,
		Follow:     true,
	})
	if err != nil {
		return nil, wrapNotFound(err, "failed to open logs of %s", id)
	}
	return stream, nil
}

// Wait blocks until the container stops and returns its exit code.
func (c *Client) Wait(ctx context.Context, id string) (int64, error) {
	statusCh, errCh := c.cli.ContainerWait(ctx, id, container.WaitConditionNotRunning)
	select {
	case err := <-errCh:
		return -1, wrapNotFound(err, "failed to wait for container %s", id)
	case status := <-statusCh:
		if status.Error != nil && status.Error.Message != "" {
			return status.StatusCode, fmt.Errorf("container %s: %s", id, status.Error.Message)
		}
		return status.StatusCode, nil
	case <-ctx.Done():
		return -1, ctx.Err()
	}
}
