package metrics

import (
	"context"
	"testing"
	"time"
)

func TestSnapshotRendersHumanReadableByteCounts(t *testing.T) {
	c := &Counters{}
	c.ActiveConnections.Store(3)
	c.AuthenticatedUsers.Store(2)
	c.BucketPoolSize.Store(1)
	c.BytesUploaded.Store(1024)
	c.BytesDownloaded.Store(2048)
	c.MessagesSent.Store(7)

	s := c.Snapshot()
	if s.ActiveConnections != 3 || s.AuthenticatedUsers != 2 || s.BucketPoolSize != 1 {
		t.Fatalf("unexpected gauge values: %+v", s)
	}
	if s.MessagesSent != 7 {
		t.Fatalf("MessagesSent: got %d, want 7", s.MessagesSent)
	}
	if s.BytesUploadedHuman == "" || s.BytesDownloadedHuman == "" {
		t.Fatalf("expected non-empty human-readable byte counts, got %+v", s)
	}
}

func TestRunPeriodicLogStopsOnContextCancel(t *testing.T) {
	c := &Counters{}
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		c.RunPeriodicLog(ctx, 5*time.Millisecond)
		close(done)
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("RunPeriodicLog did not return after context cancellation")
	}
}
