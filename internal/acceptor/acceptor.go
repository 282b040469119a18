// Package acceptor implements the TCP accept loop from SPEC_FULL.md §4.I:
// two listeners (control-plane and file-plane), one reader goroutine per
// connection, a mutex-protected writer half, and a per-connection mailbox
// drain task feeding realtime fan-out back to the socket.
//
// Grounded on original_source/src/server/server.rs (accept loop,
// per-connection spawn) and src/server/connection.rs (reader/writer split,
// writer wrapped in a mutex for atomic-per-frame writes).
package acceptor

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"sync"

	"ppgram/server/internal/control"
	"ppgram/server/internal/dbgw"
	"ppgram/server/internal/dbpool"
	"ppgram/server/internal/fileplane"
	"ppgram/server/internal/filestore"
	"ppgram/server/internal/frame"
	"ppgram/server/internal/metrics"
	"ppgram/server/internal/realtime"
	"ppgram/server/internal/session"
)

// controlFrameLimit is the 4096-byte control-plane JSON frame cap from
// SPEC_FULL.md §6.
const controlFrameLimit = 4096

const readBufferSize = 32 * 1024

// Server owns both listeners and the shared registry/pool/store every
// connection handler needs.
type Server struct {
	Registry *session.Registry
	Pool     *dbpool.Pool
	Store    *filestore.Store
	Metrics  *metrics.Counters

	ControlAddr string
	FileAddr    string
}

// Run starts both listeners and blocks until ctx is canceled or a listener
// fails. A canceled context is not reported as an error.
func (s *Server) Run(ctx context.Context) error {
	controlLn, err := net.Listen("tcp", s.ControlAddr)
	if err != nil {
		return err
	}
	fileLn, err := net.Listen("tcp", s.FileAddr)
	if err != nil {
		controlLn.Close()
		return err
	}

	go func() {
		<-ctx.Done()
		controlLn.Close()
		fileLn.Close()
	}()

	slog.Info("acceptor listening", "control_addr", s.ControlAddr, "file_addr", s.FileAddr)

	var wg sync.WaitGroup
	errs := make([]error, 2)
	wg.Add(2)
	go func() {
		defer wg.Done()
		errs[0] = s.acceptLoop(ctx, controlLn, s.serveControl)
	}()
	go func() {
		defer wg.Done()
		errs[1] = s.acceptLoop(ctx, fileLn, s.serveFile)
	}()
	wg.Wait()

	if ctx.Err() != nil {
		return nil
	}
	for _, e := range errs {
		if e != nil {
			return e
		}
	}
	return nil
}

func (s *Server) acceptLoop(ctx context.Context, ln net.Listener, handle func(context.Context, net.Conn)) error {
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			return err
		}
		go handle(ctx, conn)
	}
}

// mutexWriter serializes writes to a connection so concurrent control
// responses and fan-out events never interleave mid-frame.
type mutexWriter struct {
	mu   sync.Mutex
	conn net.Conn
}

func (w *mutexWriter) write(b []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	_, err := w.conn.Write(b)
	return err
}

// serveControl drains one control-plane connection: acquires a database
// bucket, registers an anonymous Session, and runs the mailbox-drain,
// typing-debounce, and frame-read loops until the connection closes.
func (s *Server) serveControl(ctx context.Context, conn net.Conn) {
	defer conn.Close()

	bucket := s.Pool.Acquire(ctx)
	defer s.Pool.Release(bucket)

	if s.Metrics != nil {
		s.Metrics.ActiveConnections.Add(1)
		s.Metrics.BucketPoolSize.Store(int64(s.Pool.Size()))
		defer func() {
			s.Metrics.ActiveConnections.Add(-1)
			s.Metrics.BucketPoolSize.Store(int64(s.Pool.Size()))
		}()
	}

	c := session.NewConnection()
	s.Registry.NewAnonymousSession(c)
	defer s.Registry.Disconnect(c)

	w := &mutexWriter{conn: conn}

	typingCtx, cancelTyping := context.WithCancel(ctx)
	defer cancelTyping()
	typing := realtime.NewTypingDebouncer(s.Registry)
	go typing.Run(typingCtx)

	mailboxDone := make(chan struct{})
	defer close(mailboxDone)
	go drainMailbox(c, w, mailboxDone)

	disp := control.NewDispatcher(s.Registry, c, bucket, typing, s.Metrics)
	acc := frame.NewAccumulator(controlFrameLimit)
	buf := make([]byte, readBufferSize)

	for {
		n, readErr := conn.Read(buf)
		if n > 0 {
			data := buf[:n]
			for len(data) > 0 {
				payload, ready, consumed, ferr := acc.Feed(data)
				data = data[consumed:]
				if ferr != nil {
					if writeErr := w.write(frame.Pack(mustMarshal(map[string]any{
						"ok": false, "method": "", "error": ferr.Error(),
					}))); writeErr != nil {
						return
					}
					continue
				}
				if !ready {
					continue
				}
				if writeErr := w.write(disp.HandleFrame(payload)); writeErr != nil {
					return
				}
			}
		}
		if readErr != nil {
			return
		}
	}
}

// serveFile drains one file-plane connection, wiring a fresh fileplane
// dispatcher to the connection's own database bucket and the shared
// filestore.
func (s *Server) serveFile(ctx context.Context, conn net.Conn) {
	defer conn.Close()

	bucket := s.Pool.Acquire(ctx)
	defer s.Pool.Release(bucket)

	hashes := dbgw.Hashes(bucket)
	w := &mutexWriter{conn: conn}
	disp := fileplane.NewDispatcher(s.Store, hashes, s.Metrics)

	buf := make([]byte, readBufferSize)
	for {
		n, readErr := conn.Read(buf)
		if n > 0 {
			if err := disp.Feed(buf[:n], w.write); err != nil {
				return
			}
		}
		if readErr != nil {
			return
		}
	}
}

// drainMailbox writes every fan-out event queued on c's mailbox to the
// connection as a framed JSON payload, until done is closed.
func drainMailbox(c *session.Connection, w *mutexWriter, done <-chan struct{}) {
	for {
		select {
		case evt := <-c.Mailbox:
			if err := w.write(frame.Pack(evt.Payload)); err != nil {
				return
			}
		case <-done:
			return
		}
	}
}

func mustMarshal(v any) []byte {
	b, err := json.Marshal(v)
	if err != nil {
		return []byte(`{"ok":false,"method":"","error":"internal error"}`)
	}
	return b
}
