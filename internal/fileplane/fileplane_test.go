package fileplane

import (
	"encoding/binary"
	"encoding/json"
	"testing"

	"ppgram/server/internal/filestore"
)

func packFrame(t *testing.T, payload any) []byte {
	t.Helper()
	body, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	header := make([]byte, 4)
	binary.BigEndian.PutUint32(header, uint32(len(body)))
	return append(header, body...)
}

func newTestDispatcher(t *testing.T) *Dispatcher {
	t.Helper()
	store, err := filestore.NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	return NewDispatcher(store, nil, nil)
}

func collectWrites(t *testing.T) (func([]byte) error, *[][]byte) {
	t.Helper()
	var out [][]byte
	return func(b []byte) error {
		cp := make([]byte, len(b))
		copy(cp, b)
		out = append(out, cp)
		return nil
	}, &out
}

func TestFeedUnknownMethodEmitsErrorFrame(t *testing.T) {
	d := newTestDispatcher(t)
	write, out := collectWrites(t)

	input := packFrame(t, map[string]any{"method": "frobnicate"})
	if err := d.Feed(input, write); err != nil {
		t.Fatalf("Feed: %v", err)
	}
	if len(*out) != 1 {
		t.Fatalf("expected one error frame, got %d", len(*out))
	}
	var resp map[string]any
	if err := json.Unmarshal((*out)[0][4:], &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if resp["ok"] != false || resp["method"] != "file_operation" {
		t.Fatalf("unexpected error frame: %v", resp)
	}
}

func TestFeedUploadMissingNameEmitsErrorFrame(t *testing.T) {
	d := newTestDispatcher(t)
	write, out := collectWrites(t)

	input := packFrame(t, map[string]any{"method": "upload_file", "is_media": false})
	if err := d.Feed(input, write); err != nil {
		t.Fatalf("Feed: %v", err)
	}
	if len(*out) != 1 {
		t.Fatalf("expected one error frame, got %d", len(*out))
	}
}

func TestFeedUploadTransitionsThroughSizeIntoUploading(t *testing.T) {
	d := newTestDispatcher(t)
	write, out := collectWrites(t)

	meta := packFrame(t, map[string]any{"method": "upload_file", "name": "hello.bin", "is_media": false})
	sizeHeader := make([]byte, 8)
	binary.BigEndian.PutUint64(sizeHeader, 10) // declare 10 bytes, only send 3

	input := append(append([]byte{}, meta...), sizeHeader...)
	input = append(input, []byte("abc")...)

	if err := d.Feed(input, write); err != nil {
		t.Fatalf("Feed: %v", err)
	}
	if len(*out) != 0 {
		t.Fatalf("expected no frames yet (upload incomplete), got %d", len(*out))
	}
	if d.state != stateUploading {
		t.Fatalf("expected dispatcher to be mid-upload, got state %v", d.state)
	}
	if d.upload.RemainingBytes() != 7 {
		t.Fatalf("expected 7 remaining bytes, got %d", d.upload.RemainingBytes())
	}
}

func TestFeedMalformedMetadataResetsAndErrors(t *testing.T) {
	d := newTestDispatcher(t)
	write, out := collectWrites(t)

	header := make([]byte, 4)
	binary.BigEndian.PutUint32(header, 5)
	input := append(header, []byte("notjs")...)

	if err := d.Feed(input, write); err != nil {
		t.Fatalf("Feed: %v", err)
	}
	if len(*out) != 1 {
		t.Fatalf("expected one error frame, got %d", len(*out))
	}
	if d.state != stateAwaitMetadata {
		t.Fatalf("expected reset to stateAwaitMetadata, got %v", d.state)
	}
}
