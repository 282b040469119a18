package filestore

import (
	"image"
	"os"
	"path/filepath"
	"testing"
)

func newTestImage(w, h int) image.Image {
	return image.NewRGBA(image.Rect(0, 0, w, h))
}

func TestClassifyMedia(t *testing.T) {
	cases := []struct {
		name    string
		isMedia bool
		want    MediaClass
		wantErr bool
	}{
		{"clip.mp4", true, MediaVideo, false},
		{"photo.JPG", true, MediaPhoto, false},
		{"doc.pdf", true, MediaNone, true},
		{"doc.pdf", false, MediaNone, false},
	}
	for _, c := range cases {
		got, err := ClassifyMedia(c.name, c.isMedia)
		if c.wantErr && err == nil {
			t.Errorf("%s: expected error, got none", c.name)
		}
		if !c.wantErr && err != nil {
			t.Errorf("%s: unexpected error: %v", c.name, err)
		}
		if got != c.want {
			t.Errorf("%s: got class %v want %v", c.name, got, c.want)
		}
	}
}

func TestUploadTracksRemainingBytes(t *testing.T) {
	dir := t.TempDir()
	store, err := NewStore(dir)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}

	upload, err := store.NewUpload("hello.bin", false, 5)
	if err != nil {
		t.Fatalf("NewUpload: %v", err)
	}
	if upload.IsComplete() {
		t.Fatalf("expected upload to be incomplete before any chunk")
	}
	if err := upload.WriteChunk([]byte("hel")); err != nil {
		t.Fatalf("WriteChunk: %v", err)
	}
	if upload.RemainingBytes() != 2 {
		t.Fatalf("expected 2 remaining bytes, got %d", upload.RemainingBytes())
	}
	if err := upload.WriteChunk([]byte("lo")); err != nil {
		t.Fatalf("WriteChunk: %v", err)
	}
	if !upload.IsComplete() {
		t.Fatalf("expected upload to be complete")
	}
	if upload.RemainingBytes() != 0 {
		t.Fatalf("expected 0 remaining bytes, got %d", upload.RemainingBytes())
	}
}

func TestNewUploadRejectsOversizeDeclaration(t *testing.T) {
	dir := t.TempDir()
	store, err := NewStore(dir)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	if _, err := store.NewUpload("huge.bin", false, MaxUploadSize+1); err == nil {
		t.Fatalf("expected oversize upload to be rejected")
	}
}

func TestRandomTempNameIsUnique(t *testing.T) {
	a, err := randomTempName()
	if err != nil {
		t.Fatalf("randomTempName: %v", err)
	}
	b, err := randomTempName()
	if err != nil {
		t.Fatalf("randomTempName: %v", err)
	}
	if a == b {
		t.Fatalf("expected distinct temp names")
	}
}

func TestThumbnailDownscales(t *testing.T) {
	// Build a synthetic large image in memory via image.NewRGBA through the
	// public decode path would require a real codec; instead exercise the
	// geometry logic directly against an RGBA source.
	big := newTestImage(800, 400)
	small := thumbnail(big, 256)
	b := small.Bounds()
	if b.Dx() > 256 || b.Dy() > 256 {
		t.Fatalf("expected thumbnail within 256px, got %dx%d", b.Dx(), b.Dy())
	}
}

func TestNewStoreCreatesBaseDir(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "data")
	if _, err := NewStore(dir); err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	if _, err := os.Stat(dir); err != nil {
		t.Fatalf("expected base dir to exist: %v", err)
	}
}
