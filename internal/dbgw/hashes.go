package dbgw

import (
	"github.com/gocql/gocql"

	"ppgram/server/internal/ppgerr"
)

// HashInfo is the metadata row for one content-addressed file, grounded on
// original_source/src/db/chat/hashes.rs's HashInfo.
type HashInfo struct {
	IsMedia     bool
	FileName    string
	FilePath    string
	PreviewPath string
}

// HashesDB wraps the ksp.hashes table.
type HashesDB struct {
	session *gocql.Session
}

// HashExists reports whether sha256Hash has already been committed.
func (d *HashesDB) HashExists(sha256Hash string) (bool, error) {
	var h string
	err := d.session.Query(`SELECT hash FROM ksp.hashes WHERE hash = ?`, sha256Hash).Scan(&h)
	if err == gocql.ErrNotFound {
		return false, nil
	}
	if err != nil {
		return false, ppgerr.Storage(err)
	}
	return true, nil
}

// FetchHash loads metadata for a committed hash.
func (d *HashesDB) FetchHash(sha256Hash string) (*HashInfo, error) {
	var info HashInfo
	err := d.session.Query(
		`SELECT is_media, file_name, file_path, preview_path FROM ksp.hashes WHERE hash = ?`, sha256Hash,
	).Scan(&info.IsMedia, &info.FileName, &info.FilePath, &info.PreviewPath)
	if err == gocql.ErrNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, ppgerr.Storage(err)
	}
	return &info, nil
}

// AddHash registers a newly committed file.
func (d *HashesDB) AddHash(sha256Hash string, isMedia bool, fileName, filePath, previewPath string) error {
	err := d.session.Query(
		`INSERT INTO ksp.hashes (hash, is_media, file_name, file_path, preview_path) VALUES (?, ?, ?, ?, ?)`,
		sha256Hash, isMedia, fileName, filePath, previewPath,
	).Exec()
	if err != nil {
		return ppgerr.Storage(err)
	}
	return nil
}
