// Package metrics implements the process-wide counters from
// SPEC_FULL.md §4.N: active connections, authenticated sessions, bucket
// pool size, bytes uploaded/downloaded, messages sent.
//
// Grounded on the teacher's metrics.go (a ticker-driven snapshot of atomic
// counters, logged at an interval) and dustin/go-humanize for rendering
// byte counters in human-readable form.
package metrics

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"
)

// Counters holds every atomic counter the server maintains. The zero value
// is ready to use.
type Counters struct {
	ActiveConnections  atomic.Int64
	AuthenticatedUsers atomic.Int64
	BucketPoolSize     atomic.Int64
	BytesUploaded      atomic.Uint64
	BytesDownloaded    atomic.Uint64
	MessagesSent       atomic.Uint64
}

// Snapshot is a point-in-time, human-readable rendering of Counters, served
// by the ops side-channel's /stats endpoint.
type Snapshot struct {
	ActiveConnections    int64  `json:"active_connections"`
	AuthenticatedUsers   int64  `json:"authenticated_users"`
	BucketPoolSize       int64  `json:"bucket_pool_size"`
	BytesUploaded        uint64 `json:"bytes_uploaded"`
	BytesUploadedHuman   string `json:"bytes_uploaded_human"`
	BytesDownloaded      uint64 `json:"bytes_downloaded"`
	BytesDownloadedHuman string `json:"bytes_downloaded_human"`
	MessagesSent         uint64 `json:"messages_sent"`
}

// Snapshot reads every counter and renders the byte counts for display.
func (c *Counters) Snapshot() Snapshot {
	uploaded := c.BytesUploaded.Load()
	downloaded := c.BytesDownloaded.Load()
	return Snapshot{
		ActiveConnections:    c.ActiveConnections.Load(),
		AuthenticatedUsers:   c.AuthenticatedUsers.Load(),
		BucketPoolSize:       c.BucketPoolSize.Load(),
		BytesUploaded:        uploaded,
		BytesUploadedHuman:   humanize.Bytes(uploaded),
		BytesDownloaded:      downloaded,
		BytesDownloadedHuman: humanize.Bytes(downloaded),
		MessagesSent:         c.MessagesSent.Load(),
	}
}

// RunPeriodicLog logs a snapshot every interval until ctx is canceled,
// mirroring the teacher's RunMetrics ticker loop.
func (c *Counters) RunPeriodicLog(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s := c.Snapshot()
			slog.Info("metrics snapshot",
				"active_connections", s.ActiveConnections,
				"authenticated_users", s.AuthenticatedUsers,
				"bucket_pool_size", s.BucketPoolSize,
				"bytes_uploaded", s.BytesUploadedHuman,
				"bytes_downloaded", s.BytesDownloadedHuman,
				"messages_sent", s.MessagesSent,
			)
		}
	}
}
