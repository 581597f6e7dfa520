// Package stream serves folder-relative media files over HTTP with byte-range
// support. Every open validates that the resolved path stays inside the
// folder root before any file metadata is consulted.
package stream

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

const mediaExtension = ".mp3"

var (
	// ErrNotFound reports a missing, non-regular, or non-media file.
	ErrNotFound = errors.New("media file not found")
	// ErrAccessDenied reports a path that resolves outside the folder root.
	ErrAccessDenied = errors.New("path escapes folder root")
)

// Outcome classifies how a transfer ended.
type Outcome string

const (
	OutcomeFull          Outcome = "full"
	OutcomePartial       Outcome = "partial"
	OutcomeAborted       Outcome = "aborted"
	OutcomeUnsatisfiable Outcome = "unsatisfiable"
)

// Result summarises a served transfer for logging and metrics.
type Result struct {
	Status    int
	BytesSent int64
	Outcome   Outcome
}

// File is an open media file ready to be served. Callers own the handle and
// must Close it; ServeFile closes nothing.
type File struct {
	handle *os.File
	path   string
	size   int64
	mtime  time.Time
}

// Size returns the file size in bytes.
func (f *File) Size() int64 {
	return f.size
}

// ModTime returns the file modification time.
func (f *File) ModTime() time.Time {
	return f.mtime
}

// Close releases the underlying file handle.
func (f *File) Close() error {
	if f == nil || f.handle == nil {
		return nil
	}
	return f.handle.Close()
}

// Streamer opens and serves media files beneath configured folder roots.
type Streamer struct {
	logger *slog.Logger
}

// New constructs a Streamer that logs transfer failures to the provided logger.
func New(logger *slog.Logger) *Streamer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Streamer{logger: logger}
}

// Open resolves relPath beneath root and opens it for serving. The containment
// check runs before any filesystem access, so traversal attempts yield
// ErrAccessDenied even for paths that do not exist. Errors other than
// ErrNotFound and ErrAccessDenied indicate filesystem failures.
func (s *Streamer) Open(root, relPath string) (*File, error) {
	resolved, err := resolvePath(root, relPath)
	if err != nil {
		return nil, err
	}
	if !eligibleName(resolved) {
		return nil, ErrNotFound
	}
	info, err := os.Stat(resolved)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("stat media file: %w", err)
	}
	if !info.Mode().IsRegular() {
		return nil, ErrNotFound
	}
	handle, err := os.Open(resolved)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("open media file: %w", err)
	}
	return &File{handle: handle, path: resolved, size: info.Size(), mtime: info.ModTime()}, nil
}

// ServeFile writes the file body honouring a single byte range. Multi-range
// and malformed Range headers fall back to the full body; out-of-bounds ranges
// produce a 416 with no body. The copy streams directly from the file handle,
// so a client disconnect aborts the transfer without draining the file.
func (s *Streamer) ServeFile(w http.ResponseWriter, r *http.Request, file *File) Result {
	w.Header().Set("Content-Type", "audio/mpeg")
	w.Header().Set("Accept-Ranges", "bytes")

	span, satisfiable := parseRange(r.Header.Get("Range"), file.size)
	if !satisfiable {
		w.Header().Set("Content-Range", fmt.Sprintf("bytes */%d", file.size))
		w.WriteHeader(http.StatusRequestedRangeNotSatisfiable)
		return Result{Status: http.StatusRequestedRangeNotSatisfiable, Outcome: OutcomeUnsatisfiable}
	}

	status := http.StatusOK
	outcome := OutcomeFull
	length := file.size
	if span != nil {
		status = http.StatusPartialContent
		outcome = OutcomePartial
		length = span.end - span.start + 1
		w.Header().Set("Content-Range", fmt.Sprintf("bytes %d-%d/%d", span.start, span.end, file.size))
		if _, err := file.handle.Seek(span.start, io.SeekStart); err != nil {
			s.logger.Error("seek media file", "path", file.path, "offset", span.start, "error", err)
			w.Header().Del("Content-Range")
			w.WriteHeader(http.StatusInternalServerError)
			return Result{Status: http.StatusInternalServerError, Outcome: OutcomeAborted}
		}
	}
	w.Header().Set("Content-Length", strconv.FormatInt(length, 10))
	w.WriteHeader(status)

	sent, err := io.CopyN(w, file.handle, length)
	result := Result{Status: status, BytesSent: sent, Outcome: outcome}
	if err != nil && !errors.Is(err, io.EOF) {
		result.Outcome = OutcomeAborted
		s.logger.Debug("media transfer aborted",
			"path", file.path,
			"sent", sent,
			"length", length,
			"error", err,
		)
	}
	return result
}

// Track describes one playable file inside a folder.
type Track struct {
	Name string
	Size int64
}

// ListTracks enumerates the playable files directly inside root. Subdirectories
// and non-media entries are skipped. The listing is unordered.
func ListTracks(root string) ([]Track, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		return nil, fmt.Errorf("read folder: %w", err)
	}
	tracks := make([]Track, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || !eligibleName(entry.Name()) {
			continue
		}
		info, err := entry.Info()
		if err != nil || !info.Mode().IsRegular() {
			continue
		}
		tracks = append(tracks, Track{Name: entry.Name(), Size: info.Size()})
	}
	return tracks, nil
}

func eligibleName(name string) bool {
	return strings.EqualFold(filepath.Ext(name), mediaExtension)
}
