// Package container handles Docker operations, container lifecycle and bind mount aggregation.
//
// The package provides three main components:
//
// 1. Engine port and Docker adapter (engine.go, docker.go)
//    - Engine interface consumed by the rest of chest
//    - Client wrapping the Docker SDK
//    - Inspect, list, create, start, stop, remove, logs, wait
//
// 2. Container Lifecycle (lifecycle.go)
//    - Idempotent Stop and Start primitives
//    - Stop waits until the engine reports the container as not running
//    - Transition notifications for user-facing narration
//
// 3. Bind Aggregation (binds.go)
//    - Remaps the mounts of one or more containers under /data/<service>
//    - Binds a compose working directory once instead of its inner mounts
//    - Adds compose files, system files and destination binds
//
// Basic usage:
//
//	client, err := container.NewClient()
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
//	lc := &container.Lifecycle{Engine: client}
//	wasRunning, err := lc.Stop(ctx, "my-db")
//
// Bind aggregation:
//
//	binds := container.Aggregate(container.BindRequest{
//	    Services:    []container.ServiceMounts{{Service: "db", Mounts: info.Mounts}},
//	    Destination: "/home/me/backups/db",
//	})
package container
