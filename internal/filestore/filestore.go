// Package filestore implements the hash-addressed file store described in
// SPEC_FULL.md §4.D: chunked upload into a temp file, sha256 finalize, and
// atomic content-addressed commit, plus chunked download in
// preview/media/full modes.
//
// Grounded on original_source/src/fs/document.rs (temp-file + incremental
// hasher + rename-on-finalize + dedup-by-existing-directory),
// fs/media.rs/fs/hasher.rs (media type table), fs/helpers/uploader.rs
// (FileUploader wrapping Document/Media variants, 64 GiB cap), and
// fs/helpers/fetcher.rs (FileFetcher's preview-then-main streaming order).
package filestore

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"image"
	"image/jpeg"
	_ "image/png"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"ppgram/server/internal/dbgw"
	"ppgram/server/internal/ppgerr"
)

// MaxUploadSize is the 64 GiB cap from SPEC_FULL.md §4.D.
const MaxUploadSize uint64 = 64 * 1024 * 1024 * 1024

const previewFileName = "preview.jpg"

var videoExtensions = map[string]bool{".mp4": true, ".mov": true, ".webm": true, ".flv": true}
var photoExtensions = map[string]bool{".jpeg": true, ".jpg": true, ".png": true, ".heic": true}

// MediaClass classifies a declared filename for preview purposes.
type MediaClass int

const (
	MediaNone MediaClass = iota
	MediaPhoto
	MediaVideo
)

// ClassifyMedia infers media type from filename extension, mirroring
// fs/media.rs's table. Returns an error for unsupported extensions, only
// when isMedia was requested by the client.
func ClassifyMedia(fileName string, isMedia bool) (MediaClass, error) {
	if !isMedia {
		return MediaNone, nil
	}
	ext := strings.ToLower(filepath.Ext(fileName))
	switch {
	case videoExtensions[ext]:
		return MediaVideo, nil
	case photoExtensions[ext]:
		return MediaPhoto, nil
	default:
		return MediaNone, ppgerr.New(ppgerr.KindValidation, "Media type not supported!")
	}
}

// Store coordinates on-disk content addressing with HashesDB metadata.
type Store struct {
	baseDir string
}

// NewStore creates a file store rooted at baseDir (the spec's "/server_data/").
func NewStore(baseDir string) (*Store, error) {
	if strings.TrimSpace(baseDir) == "" {
		return nil, fmt.Errorf("file store base directory is required")
	}
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, fmt.Errorf("create file store directory: %w", err)
	}
	return &Store{baseDir: baseDir}, nil
}

// Upload is one in-progress chunked upload.
type Upload struct {
	store       *Store
	tempFile    *os.File
	tempPath    string
	fileName    string
	isMedia     bool
	mediaClass  MediaClass
	hasher      sha256WriteOnly
	declaredLen uint64
	written     uint64
}

type sha256WriteOnly = interface {
	Write(p []byte) (int, error)
	Sum(b []byte) []byte
}

// NewUpload begins a chunked upload, mirroring FileUploader::new's 64 GiB
// precheck and DocumentUploader/MediaUploader's temp-file setup.
func (s *Store) NewUpload(fileName string, isMedia bool, declaredLen uint64) (*Upload, error) {
	if declaredLen > MaxUploadSize {
		return nil, ppgerr.New(ppgerr.KindValidation, "declared file size exceeds the 64 GiB maximum")
	}
	class, err := ClassifyMedia(fileName, isMedia)
	if err != nil {
		return nil, err
	}

	tempName, err := randomTempName()
	if err != nil {
		return nil, ppgerr.Storage(err)
	}
	tempPath := filepath.Join(os.TempDir(), tempName)
	f, err := os.OpenFile(tempPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, ppgerr.Storage(err)
	}

	return &Upload{
		store: s, tempFile: f, tempPath: tempPath, fileName: fileName,
		isMedia: isMedia, mediaClass: class, hasher: sha256.New(), declaredLen: declaredLen,
	}, nil
}

// WriteChunk appends one chunk, mirroring FileUploader::consume_data_frame.
func (u *Upload) WriteChunk(chunk []byte) error {
	if _, err := u.tempFile.Write(chunk); err != nil {
		return ppgerr.Storage(err)
	}
	u.hasher.Write(chunk)
	u.written += uint64(len(chunk))
	return nil
}

// RemainingBytes reports how many bytes are still expected.
func (u *Upload) RemainingBytes() uint64 {
	if u.written >= u.declaredLen {
		return 0
	}
	return u.declaredLen - u.written
}

// IsComplete reports whether every declared byte has arrived.
func (u *Upload) IsComplete() bool { return u.written >= u.declaredLen }

// Finalize computes the hex digest, commits the content-addressed
// directory (deduplicating on an existing digest), generates a preview for
// photo media, and registers the hash in HashesDB. Mirrors
// DocumentUploader::finalize / MediaUploader::finalize.
func (u *Upload) Finalize(hashes *dbgw.HashesDB) (string, error) {
	if err := u.tempFile.Close(); err != nil {
		_ = os.Remove(u.tempPath)
		return "", ppgerr.Storage(err)
	}

	digest := hex.EncodeToString(u.hasher.Sum(nil))
	destDir := filepath.Join(u.store.baseDir, digest)

	if _, err := os.Stat(destDir); err == nil {
		slog.Warn("upload hash already exists, discarding temp file", "hash", digest, "temp_path", u.tempPath)
		_ = os.Remove(u.tempPath)
		return digest, nil
	}

	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return "", ppgerr.Storage(err)
	}
	destPath := filepath.Join(destDir, u.fileName)
	if err := os.Rename(u.tempPath, destPath); err != nil {
		return "", ppgerr.Storage(err)
	}

	var previewPath string
	if u.mediaClass == MediaPhoto {
		if p, err := writeJPEGPreview(destPath, destDir); err != nil {
			slog.Error("preview generation failed", "hash", digest, "err", err)
		} else {
			previewPath = p
		}
	}

	if err := hashes.AddHash(digest, u.isMedia, u.fileName, destPath, previewPath); err != nil {
		return "", err
	}
	return digest, nil
}

// thumbnail produces a simple nearest-neighbor downscale to at most
// maxDim on the longest side. Good enough for a preview thumbnail; the
// source treats thumbnailing as a pluggable step (SPEC_FULL.md §4.D).
func thumbnail(src image.Image, maxDim int) image.Image {
	bounds := src.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	if w <= maxDim && h <= maxDim {
		return src
	}

	scale := float64(maxDim) / float64(w)
	if h > w {
		scale = float64(maxDim) / float64(h)
	}
	newW := int(float64(w) * scale)
	newH := int(float64(h) * scale)
	if newW < 1 {
		newW = 1
	}
	if newH < 1 {
		newH = 1
	}

	dst := image.NewRGBA(image.Rect(0, 0, newW, newH))
	for y := 0; y < newH; y++ {
		for x := 0; x < newW; x++ {
			srcX := bounds.Min.X + x*w/newW
			srcY := bounds.Min.Y + y*h/newH
			dst.Set(x, y, src.At(srcX, srcY))
		}
	}
	return dst
}

func randomTempName() (string, error) {
	var raw [12]byte
	if _, err := rand.Read(raw[:]); err != nil {
		return "", err
	}
	return ".ppgram-upload-" + hex.EncodeToString(raw[:]), nil
}

// writeJPEGPreview decodes srcPath and writes a downscaled JPEG thumbnail
// alongside it. Image decoding/encoding uses the standard library only —
// see DESIGN.md for why no pack example grounds a third-party choice here.
func writeJPEGPreview(srcPath, destDir string) (string, error) {
	f, err := os.Open(srcPath)
	if err != nil {
		return "", err
	}
	defer f.Close()

	img, _, err := image.Decode(f)
	if err != nil {
		return "", err
	}

	thumb := thumbnail(img, 256)

	previewPath := filepath.Join(destDir, previewFileName)
	out, err := os.Create(previewPath)
	if err != nil {
		return "", err
	}
	defer out.Close()

	if err := jpeg.Encode(out, thumb, &jpeg.Options{Quality: 80}); err != nil {
		return "", err
	}
	return previewPath, nil
}

// FetchMode selects which of a hash's stored paths to stream.
type FetchMode int

const (
	ModePreviewOnly FetchMode = iota
	ModeMediaOnly
	ModeFull
)

// ParseFetchMode parses the wire strings from SPEC_FULL.md §4.D/§4.G.
func ParseFetchMode(s string) (FetchMode, error) {
	switch s {
	case "preview_only":
		return ModePreviewOnly, nil
	case "media_only":
		return ModeMediaOnly, nil
	case "full":
		return ModeFull, nil
	default:
		return 0, ppgerr.New(ppgerr.KindValidation, "Unknown mode provided. Known modes: preview_only, media_only, full")
	}
}

// FileMetadata is one file's name/size for the download metadata frame.
type FileMetadata struct {
	FileName string
	FileSize int64
	path     string
}

// Fetcher streams a hash's bytes in the order preview-then-main, mirroring
// FileFetcher's semantics, including its fallback: a non-media hash (or a
// media hash with no preview) only ever has one path to stream.
type Fetcher struct {
	paths   []FileMetadata
	current int
	file    *os.File
	readBuf []byte
}

// ChunkSize bounds each streamed read, grounded on the source's
// FILES_MESSAGE_ALLOCATION_SIZE fixed read buffer.
const ChunkSize = 64 * 1024

// NewFetcher resolves a hash to its ordered list of files to stream for
// the given mode. Video hashes with no preview degrade "preview_only" to
// the main file, documented in SPEC_FULL.md §4.D.
func (s *Store) NewFetcher(info *dbgw.HashInfo, mode FetchMode) (*Fetcher, []FileMetadata, error) {
	var metas []FileMetadata

	hasPreview := info.PreviewPath != ""

	addMain := func() {
		metas = append(metas, fileMetaOf(info.FileName, info.FilePath))
	}
	addPreview := func() {
		metas = append(metas, fileMetaOf(previewFileName, info.PreviewPath))
	}

	switch mode {
	case ModePreviewOnly:
		if hasPreview {
			addPreview()
		} else {
			addMain()
		}
	case ModeMediaOnly:
		addMain()
	case ModeFull:
		if hasPreview {
			addPreview()
		}
		addMain()
	}

	if len(metas) == 0 {
		return nil, nil, ppgerr.New(ppgerr.KindNotFound, "no content available for this hash")
	}

	f, err := os.Open(metas[0].path)
	if err != nil {
		return nil, nil, ppgerr.Storage(err)
	}

	return &Fetcher{paths: metas, current: 0, file: f, readBuf: make([]byte, ChunkSize)}, metas, nil
}

func fileMetaOf(name, path string) FileMetadata {
	size := int64(0)
	if st, err := os.Stat(path); err == nil {
		size = st.Size()
	}
	return FileMetadata{FileName: name, FileSize: size, path: path}
}

// NextFile advances the fetcher to the next file to stream, or returns
// false once every path has been exhausted.
func (f *Fetcher) NextFile() bool {
	f.current++
	if f.current >= len(f.paths) {
		return false
	}
	if f.file != nil {
		_ = f.file.Close()
	}
	nf, err := os.Open(f.paths[f.current].path)
	if err != nil {
		return false
	}
	f.file = nf
	return true
}

// CurrentMetadata returns the file currently being streamed.
func (f *Fetcher) CurrentMetadata() FileMetadata { return f.paths[f.current] }

// ReadChunk reads up to ChunkSize bytes from the current file. io.EOF
// signals the current file is exhausted — the caller should call NextFile.
func (f *Fetcher) ReadChunk() ([]byte, error) {
	n, err := f.file.Read(f.readBuf)
	if n > 0 {
		out := make([]byte, n)
		copy(out, f.readBuf[:n])
		if err == io.EOF {
			return out, nil
		}
		return out, err
	}
	return nil, err
}

// Close releases the currently open file handle.
func (f *Fetcher) Close() error {
	if f.file == nil {
		return nil
	}
	return f.file.Close()
}
