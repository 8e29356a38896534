// Package requestlog is the append-only JSONL request log: size-based
// rotation to `<name>.<timestamp_ms>.jsonl`, file-count retention, and
// a bounded queue so the request path never blocks on log I/O. Runs as
// a ManagedService; the application shuts its HTTP listeners down before
// stopping it, so no new request emits into a closed channel.
package requestlog

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/thushan/codex-helper-proxy/internal/config"
	"github.com/thushan/codex-helper-proxy/internal/core/domain"
	"github.com/thushan/codex-helper-proxy/internal/core/ports"
	"github.com/thushan/codex-helper-proxy/internal/logger"
)

// queueCapacity bounds the in-flight record channel; once full, the
// oldest pending record is dropped rather than blocking the request
// path on log-writer I/O.
const queueCapacity = 1024

// Writer is the ports.RequestLogWriter implementation.
type Writer struct {
	cfg config.RequestLogConfig
	log *logger.StyledLogger

	ch      chan domain.RequestRecord
	dropped atomic.Int64

	mu          sync.Mutex
	file        *os.File
	debugFile   *os.File
	currentSize int64

	stopCh chan struct{}
	doneCh chan struct{}
	once   sync.Once
}

func New(cfg config.RequestLogConfig, log *logger.StyledLogger) *Writer {
	return &Writer{
		cfg:    cfg,
		log:    log,
		ch:     make(chan domain.RequestRecord, queueCapacity),
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}
}

var _ ports.RequestLogWriter = (*Writer)(nil)

func (w *Writer) Name() string { return "request-log-writer" }

func (w *Writer) Dependencies() []string { return nil }

// Write enqueues a record without blocking the caller: if the channel
// is full, the oldest queued record is discarded and DroppedCount
// incremented.
func (w *Writer) Write(record domain.RequestRecord) {
	select {
	case w.ch <- record:
		return
	default:
	}

	select {
	case <-w.ch:
		w.dropped.Add(1)
	default:
	}

	select {
	case w.ch <- record:
	default:
		w.dropped.Add(1)
	}
}

func (w *Writer) DroppedCount() int64 { return w.dropped.Load() }

func (w *Writer) Start(ctx context.Context) error {
	if w.cfg.Path == "" {
		return fmt.Errorf("request log path is empty")
	}
	f, size, err := openForAppend(w.cfg.Path)
	if err != nil {
		return fmt.Errorf("opening request log %s: %w", w.cfg.Path, err)
	}
	w.file = f
	w.currentSize = size

	if w.cfg.SplitHTTPDebug && w.cfg.DebugPath != "" {
		df, _, err := openForAppend(w.cfg.DebugPath)
		if err != nil {
			_ = w.file.Close()
			return fmt.Errorf("opening request debug log %s: %w", w.cfg.DebugPath, err)
		}
		w.debugFile = df
	}

	go w.run()
	return nil
}

func (w *Writer) Stop(ctx context.Context) error {
	w.once.Do(func() { close(w.stopCh) })
	select {
	case <-w.doneCh:
	case <-ctx.Done():
		return ctx.Err()
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.file != nil {
		_ = w.file.Close()
	}
	if w.debugFile != nil {
		_ = w.debugFile.Close()
	}
	return nil
}

func (w *Writer) run() {
	defer close(w.doneCh)
	for {
		select {
		case rec := <-w.ch:
			w.handle(rec)
		case <-w.stopCh:
			// drain whatever is already queued before exiting.
			for {
				select {
				case rec := <-w.ch:
					w.handle(rec)
				default:
					return
				}
			}
		}
	}
}

func (w *Writer) handle(rec domain.RequestRecord) {
	if w.cfg.OnlyErrors && rec.StatusCode >= 200 && rec.StatusCode < 300 {
		return
	}

	if w.cfg.SplitHTTPDebug && w.debugFile != nil && rec.HTTPDebug != nil {
		ref := rec.RequestID
		if ref == "" {
			ref = strconv.FormatInt(time.Now().UnixNano(), 36)
		}
		w.writeDebug(ref, rec.HTTPDebug)
		rec.HTTPDebug = &domain.HTTPDebug{DebugRef: ref}
	}

	line, err := json.Marshal(rec)
	if err != nil {
		w.log.Warn("failed to marshal request record", "error", err)
		return
	}
	line = append(line, '\n')

	w.mu.Lock()
	defer w.mu.Unlock()

	if w.currentSize+int64(len(line)) >= w.cfg.MaxBytes && w.cfg.MaxBytes > 0 {
		w.rotateLocked()
	}

	n, err := w.file.Write(line)
	if err != nil {
		w.log.Warn("failed to write request record", "error", err)
		return
	}
	w.currentSize += int64(n)
}

func (w *Writer) writeDebug(ref string, debug *domain.HTTPDebug) {
	entry := struct {
		Ref            string `json:"ref"`
		AuthResolution string `json:"auth_resolution,omitempty"`
	}{Ref: ref, AuthResolution: debug.AuthResolution}

	line, err := json.Marshal(entry)
	if err != nil {
		return
	}
	line = append(line, '\n')
	w.mu.Lock()
	defer w.mu.Unlock()
	_, _ = w.debugFile.Write(line)
}

// rotateLocked renames the current file to <name>.<timestamp_ms>.jsonl,
// opens a fresh file at the original path, and prunes rotated files
// beyond max_files. Caller holds w.mu.
func (w *Writer) rotateLocked() {
	_ = w.file.Close()

	rotated := rotatedName(w.cfg.Path, time.Now().UnixMilli())
	if err := os.Rename(w.cfg.Path, rotated); err != nil {
		w.log.Warn("failed to rotate request log", "error", err)
	}

	f, _, err := openForAppend(w.cfg.Path)
	if err != nil {
		w.log.Warn("failed to reopen request log after rotation", "error", err)
		return
	}
	w.file = f
	w.currentSize = 0

	w.pruneRotated()
}

func rotatedName(path string, timestampMs int64) string {
	ext := filepath.Ext(path)
	base := strings.TrimSuffix(path, ext)
	return fmt.Sprintf("%s.%d%s", base, timestampMs, ext)
}

// pruneRotated deletes the oldest rotated files beyond max_files,
// matched by the <name>.<ts>.jsonl glob next to the live log file.
func (w *Writer) pruneRotated() {
	if w.cfg.MaxFiles <= 0 {
		return
	}
	ext := filepath.Ext(w.cfg.Path)
	base := strings.TrimSuffix(w.cfg.Path, ext)
	matches, err := filepath.Glob(base + ".*" + ext)
	if err != nil || len(matches) <= w.cfg.MaxFiles {
		return
	}

	sort.Strings(matches) // timestamp-suffixed names sort chronologically
	excess := len(matches) - w.cfg.MaxFiles
	for _, path := range matches[:excess] {
		_ = os.Remove(path)
	}
}

func openForAppend(path string) (*os.File, int64, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, 0, err
		}
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, 0, err
	}
	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, 0, err
	}
	return f, info.Size(), nil
}
