package mcp

import (
	"context"
	"os"
	"time"

	"impactloop/internal/logging"
)

// DefaultParentPollInterval is how often WatchParent checks the parent pid.
const DefaultParentPollInterval = 2 * time.Second

var getppid = os.Getppid

// WatchParent calls cancelFn when the parent process goes away, so a stdio
// server does not outlive the client that spawned it. It polls the parent
// pid and never touches stdin, which belongs to the stdio transport.
//
// The returned channel is closed when the watcher exits.
func WatchParent(ctx context.Context, interval time.Duration, cancelFn context.CancelFunc) <-chan struct{} {
	if interval <= 0 {
		interval = DefaultParentPollInterval
	}
	ppid := getppid()
	done := make(chan struct{})
	go func() {
		defer close(done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if getppid() != ppid {
					logging.New("mcp").Warn("parent process exited, shutting down", "ppid", ppid)
					cancelFn()
					return
				}
			}
		}
	}()
	return done
}
