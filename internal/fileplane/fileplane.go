// Package fileplane implements the composite-frame file dispatcher from
// SPEC_FULL.md §4.G: a state machine that accumulates a JSON metadata
// frame, then either an 8-byte declared size followed by raw upload bytes,
// or streams a download's file bodies directly to the connection.
//
// Grounded on original_source/src/server/message/handlers/files_handler.rs
// (await-metadata / uploading state split) and filestore's uploader/fetcher
// (SPEC_FULL.md §4.D) which this package wires to the wire protocol.
package fileplane

import (
	"encoding/binary"
	"encoding/json"

	"ppgram/server/internal/dbgw"
	"ppgram/server/internal/filestore"
	"ppgram/server/internal/frame"
	"ppgram/server/internal/metrics"
	"ppgram/server/internal/ppgerr"
)

const metadataFrameLimit = 4096

type state int

const (
	stateAwaitMetadata state = iota
	stateAwaitSize
	stateUploading
)

// Dispatcher drives one connection's file-plane state machine.
type Dispatcher struct {
	store  *filestore.Store
	hashes *dbgw.HashesDB

	meta  *frame.Accumulator
	state state

	pendingName    string
	pendingIsMedia bool
	sizeBuf        []byte
	upload         *filestore.Upload

	metrics *metrics.Counters
}

// NewDispatcher constructs a file-plane dispatcher backed by store and
// hashes (both bound to the connection's acquired database bucket). counters
// may be nil, in which case byte transfer counts are simply not recorded.
func NewDispatcher(store *filestore.Store, hashes *dbgw.HashesDB, counters *metrics.Counters) *Dispatcher {
	return &Dispatcher{
		store:   store,
		hashes:  hashes,
		meta:    frame.NewAccumulator(metadataFrameLimit),
		state:   stateAwaitMetadata,
		metrics: counters,
	}
}

// Feed consumes newly read bytes, advancing the state machine and writing
// any completed response frames (or streamed file bodies) via write. write
// is called once per logical frame/chunk; the caller owns serializing
// writes to the socket (e.g. behind a per-connection mutex).
func (d *Dispatcher) Feed(data []byte, write func([]byte) error) error {
	for len(data) > 0 {
		switch d.state {
		case stateAwaitMetadata:
			payload, ready, consumed, err := d.meta.Feed(data)
			data = data[consumed:]
			if err != nil {
				d.reset()
				return write(errorFrame(err.Error()))
			}
			if !ready {
				continue
			}
			if err := d.handleMetadata(payload, write); err != nil {
				d.reset()
				if writeErr := write(errorFrame(err.Error())); writeErr != nil {
					return writeErr
				}
			}

		case stateAwaitSize:
			need := 8 - len(d.sizeBuf)
			take := minInt(need, len(data))
			d.sizeBuf = append(d.sizeBuf, data[:take]...)
			data = data[take:]
			if len(d.sizeBuf) < 8 {
				continue
			}
			size := binary.BigEndian.Uint64(d.sizeBuf)
			upload, err := d.store.NewUpload(d.pendingName, d.pendingIsMedia, size)
			if err != nil {
				d.reset()
				if writeErr := write(errorFrame(err.Error())); writeErr != nil {
					return writeErr
				}
				continue
			}
			d.upload = upload
			d.state = stateUploading

		case stateUploading:
			remaining := d.upload.RemainingBytes()
			take := remaining
			if uint64(len(data)) < take {
				take = uint64(len(data))
			}
			chunk := data[:take]
			data = data[take:]
			if err := d.upload.WriteChunk(chunk); err != nil {
				d.reset()
				if writeErr := write(errorFrame(err.Error())); writeErr != nil {
					return writeErr
				}
				continue
			}
			if d.metrics != nil {
				d.metrics.BytesUploaded.Add(uint64(len(chunk)))
			}
			if d.upload.IsComplete() {
				digest, err := d.upload.Finalize(d.hashes)
				d.reset()
				if err != nil {
					if writeErr := write(errorFrame(err.Error())); writeErr != nil {
						return writeErr
					}
					continue
				}
				body, _ := json.Marshal(map[string]any{"ok": true, "method": "upload_file", "sha256_hash": digest})
				if err := write(frame.Pack(body)); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

func (d *Dispatcher) handleMetadata(payload []byte, write func([]byte) error) error {
	var req map[string]any
	if err := json.Unmarshal(payload, &req); err != nil {
		return ppgerr.New(ppgerr.KindProtocolJSON, "Malformed metadata frame")
	}
	method, _ := req["method"].(string)

	switch method {
	case "upload_file":
		name, ok := req["name"].(string)
		if !ok || name == "" {
			return ppgerr.New(ppgerr.KindProtocolJSON, "missing field \"name\"")
		}
		isMedia, _ := req["is_media"].(bool)
		d.pendingName = name
		d.pendingIsMedia = isMedia
		d.sizeBuf = d.sizeBuf[:0]
		d.state = stateAwaitSize
		return nil

	case "download_file":
		hash, ok := req["sha256_hash"].(string)
		if !ok || hash == "" {
			return ppgerr.New(ppgerr.KindProtocolJSON, "missing field \"sha256_hash\"")
		}
		modeStr, _ := req["mode"].(string)
		mode, err := filestore.ParseFetchMode(modeStr)
		if err != nil {
			return err
		}
		return d.handleDownload(hash, mode, write)

	default:
		return ppgerr.New(ppgerr.KindProtocolJSON, "Unknown method")
	}
}

func (d *Dispatcher) handleDownload(hash string, mode filestore.FetchMode, write func([]byte) error) error {
	info, err := d.hashes.FetchHash(hash)
	if err != nil {
		return err
	}
	if info == nil {
		return ppgerr.New(ppgerr.KindNotFound, "unknown file hash")
	}

	fetcher, metas, err := d.store.NewFetcher(info, mode)
	if err != nil {
		return err
	}
	defer fetcher.Close()

	wireMetas := make([]map[string]any, len(metas))
	for i, m := range metas {
		wireMetas[i] = map[string]any{"file_name": m.FileName, "file_size": m.FileSize}
	}
	body, _ := json.Marshal(map[string]any{"ok": true, "method": "download_file", "files": wireMetas})
	if err := write(frame.Pack(body)); err != nil {
		return err
	}

	for i, m := range metas {
		if i > 0 {
			if !fetcher.NextFile() {
				return ppgerr.New(ppgerr.KindStorage, "failed to advance to next file in download")
			}
		}
		if err := write(frame.PackSize64Header(uint64(m.FileSize))); err != nil {
			return err
		}
		for {
			chunk, err := fetcher.ReadChunk()
			if len(chunk) > 0 {
				if writeErr := write(chunk); writeErr != nil {
					return writeErr
				}
				if d.metrics != nil {
					d.metrics.BytesDownloaded.Add(uint64(len(chunk)))
				}
			}
			if err != nil {
				break
			}
		}
	}
	return nil
}

func (d *Dispatcher) reset() {
	d.meta = frame.NewAccumulator(metadataFrameLimit)
	d.state = stateAwaitMetadata
	d.pendingName = ""
	d.pendingIsMedia = false
	d.sizeBuf = nil
	d.upload = nil
}

func errorFrame(msg string) []byte {
	body, _ := json.Marshal(map[string]any{"ok": false, "method": "file_operation", "error": msg})
	return frame.Pack(body)
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}
