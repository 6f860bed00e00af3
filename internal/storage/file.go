package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// File is the append-only, crash-recoverable Storage back-end. Two logs are
// kept: the main log at the configured path, and a sibling dead-letter log
// derived from it by stripping a trailing ".log" and appending
// "-dead-letter.log".
type File struct {
	mu     sync.Mutex
	logger *slog.Logger

	mainPath string
	deadPath string

	mainFile *os.File
	deadFile *os.File

	main    map[string]*Job
	dead    map[string]*Job
	rawMain map[string][]byte // last raw encoding appended per id, for PatchProgress
	closed  bool

	now func() time.Time
}

var _ Storage = (*File)(nil)

// NewFile returns a File store that will read from and append to path and
// its derived dead-letter sibling. Initialize must be called before use.
func NewFile(path string, logger *slog.Logger) *File {
	if logger == nil {
		logger = slog.Default()
	}

	return &File{
		logger:   logger,
		mainPath: path,
		deadPath: deadLetterPath(path),
		main:     make(map[string]*Job),
		dead:     make(map[string]*Job),
		rawMain:  make(map[string][]byte),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// deadLetterPath derives the dead-letter log path from the main log path: a
// trailing ".log" is stripped before the "-dead-letter.log" suffix is
// appended.
func deadLetterPath(path string) string {
	trimmed := strings.TrimSuffix(path, ".log")
	return trimmed + "-dead-letter.log"
}

// Initialize loads both logs from disk, runs crash recovery against the
// main store, compacts the main log to reflect recovery, then opens both
// logs for appending.
func (f *File) Initialize(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := loadLog(f.mainPath, f.main, f.logger); err != nil {
		return fmt.Errorf("storage: loading main log: %w", err)
	}
	if err := loadLog(f.deadPath, f.dead, f.logger); err != nil {
		return fmt.Errorf("storage: loading dead-letter log: %w", err)
	}

	recovered := f.recoverProcessingJobs()

	mainFile, err := os.OpenFile(f.mainPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("storage: opening main log: %w", err)
	}
	f.mainFile = mainFile

	deadFile, err := os.OpenFile(f.deadPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		mainFile.Close()
		return fmt.Errorf("storage: opening dead-letter log: %w", err)
	}
	f.deadFile = deadFile

	if recovered {
		if err := f.compactMainLocked(); err != nil {
			return fmt.Errorf("storage: compacting main log after recovery: %w", err)
		}
	}

	return nil
}

// recoverProcessingJobs re-arms every job left in status=processing after an
// unclean shutdown, per the crash recovery contract: pending, attempts+1,
// nextRunAt=now. Reports whether anything was rewritten.
func (f *File) recoverProcessingJobs() bool {
	now := f.now()
	recovered := false

	for id, job := range f.main {
		if job.Status != StatusProcessing {
			continue
		}

		job.Status = StatusPending
		job.Attempts++
		job.NextRunAt = now
		job.UpdatedAt = now
		f.main[id] = job
		recovered = true
	}

	return recovered
}

// loadLog reads path line by line, indexing the latest record per id into
// dest. Unparseable lines are logged and skipped rather than aborting the
// load; a missing file is not an error.
func loadLog(path string, dest map[string]*Job, logger *slog.Logger) error {
	file, err := os.Open(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)

	lineNo := 0
	for scanner.Scan() {
		lineNo++

		raw := strings.TrimSpace(scanner.Text())
		if raw == "" {
			continue
		}
		line := []byte(raw)

		// Cheap peek before paying for a full unmarshal: a line with no id
		// field is either corrupt or not a job record, so skip it without
		// building a Job value at all.
		if !gjson.GetBytes(line, "id").Exists() {
			logger.Warn("storage: skipping log line with no id field", "path", path, "line", lineNo)
			continue
		}

		var job Job
		if err := json.Unmarshal(line, &job); err != nil {
			logger.Warn("storage: skipping unparseable log line",
				"path", path, "line", lineNo, "error", err, "status", peekStatus(line))
			continue
		}
		if job.ID == "" {
			logger.Warn("storage: skipping log line with empty id", "path", path, "line", lineNo)
			continue
		}

		dest[job.ID] = &job
	}

	return scanner.Err()
}

// peekStatus reads just the status field out of a raw log line without
// unmarshaling the whole record; the replay scan uses it to annotate the
// warning for a line that fails to unmarshal.
func peekStatus(line []byte) string {
	return gjson.GetBytes(line, "status").String()
}

func (f *File) AddJob(ctx context.Context, job *Job) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return ErrClosed
	}
	if _, ok := f.main[job.ID]; ok {
		return ErrAlreadyExists
	}

	clone := job.Clone()
	raw, err := f.appendLocked(f.mainFile, clone)
	if err != nil {
		return err
	}

	f.main[job.ID] = clone
	f.rawMain[job.ID] = raw
	return nil
}

func (f *File) UpdateJob(ctx context.Context, job *Job) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return ErrClosed
	}
	if _, ok := f.main[job.ID]; !ok {
		return ErrNotFound
	}

	clone := job.Clone()
	raw, err := f.appendLocked(f.mainFile, clone)
	if err != nil {
		return err
	}

	f.main[job.ID] = clone
	f.rawMain[job.ID] = raw
	return nil
}

// PatchProgress is a cheap-path progress update: rather than re-marshal the
// whole job record, it patches just the progress and updatedAt fields of the cached raw
// encoding and appends that. Progress events are the highest-frequency
// writes a long job produces, so this avoids paying full encode cost for a
// single changed integer. Falls back to a full append if no cached raw
// encoding exists yet.
func (f *File) PatchProgress(ctx context.Context, id string, progress int, updatedAt time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return ErrClosed
	}

	job, ok := f.main[id]
	if !ok {
		return ErrNotFound
	}

	raw, ok := f.rawMain[id]
	if !ok {
		// No cached encoding yet (e.g. right after a compaction skipped
		// caching); fall back to a normal full-record update.
		job.Progress = progress
		job.UpdatedAt = updatedAt
		newRaw, err := f.appendLocked(f.mainFile, job)
		if err != nil {
			return err
		}
		f.rawMain[id] = newRaw
		return nil
	}

	patched, err := sjson.SetBytes(raw, "progress", progress)
	if err != nil {
		return fmt.Errorf("storage: patching progress for job %s: %w", id, err)
	}
	patched, err = sjson.SetBytes(patched, "updatedAt", updatedAt)
	if err != nil {
		return fmt.Errorf("storage: patching updatedAt for job %s: %w", id, err)
	}

	if _, err := f.mainFile.Write(append(append([]byte(nil), patched...), '\n')); err != nil {
		return fmt.Errorf("storage: appending progress patch: %w", err)
	}

	job.Progress = progress
	job.UpdatedAt = updatedAt
	f.rawMain[id] = patched

	return nil
}

func (f *File) GetJob(ctx context.Context, id string) (*Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return nil, ErrClosed
	}

	return f.main[id].Clone(), nil
}

func (f *File) GetAllJobs(ctx context.Context) ([]*Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return nil, ErrClosed
	}

	jobs := make([]*Job, 0, len(f.main))
	for _, job := range f.main {
		jobs = append(jobs, job.Clone())
	}
	return jobs, nil
}

func (f *File) GetPendingJobs(ctx context.Context, now time.Time) ([]*Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return nil, ErrClosed
	}

	var jobs []*Job
	for _, job := range f.main {
		if job.Status == StatusPending && !job.NextRunAt.After(now) {
			jobs = append(jobs, job.Clone())
		}
	}

	sortPending(jobs)
	return jobs, nil
}

// PromoteDelayed transitions every delayed job whose nextRunAt has elapsed
// to pending, appending one record per promotion so the flip survives a
// crash just like any other state transition.
func (f *File) PromoteDelayed(ctx context.Context, now time.Time) ([]*Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return nil, ErrClosed
	}

	var promoted []*Job
	for id, job := range f.main {
		if job.Status != StatusDelayed || job.NextRunAt.After(now) {
			continue
		}

		job.Status = StatusPending
		job.UpdatedAt = now

		raw, err := f.appendLocked(f.mainFile, job)
		if err != nil {
			return promoted, err
		}
		f.rawMain[id] = raw

		promoted = append(promoted, job.Clone())
	}

	return promoted, nil
}

// MoveToDeadLetter removes the job from the main store and appends it to
// the dead-letter log, then compacts the main log so it stays bounded.
func (f *File) MoveToDeadLetter(ctx context.Context, job *Job) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return ErrClosed
	}

	clone := job.Clone()
	if _, err := f.appendLocked(f.deadFile, clone); err != nil {
		return err
	}

	delete(f.main, job.ID)
	delete(f.rawMain, job.ID)
	f.dead[job.ID] = clone

	return f.compactMainLocked()
}

func (f *File) GetFailedJobs(ctx context.Context) ([]*Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return nil, ErrClosed
	}

	jobs := make([]*Job, 0, len(f.dead))
	for _, job := range f.dead {
		jobs = append(jobs, job.Clone())
	}
	return jobs, nil
}

// RemoveFromDeadLetter removes a record from the in-memory dead-letter
// index and compacts the dead-letter log to match.
func (f *File) RemoveFromDeadLetter(ctx context.Context, id string) (*Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return nil, ErrClosed
	}

	job, ok := f.dead[id]
	if !ok {
		return nil, nil
	}

	delete(f.dead, id)

	if err := f.compactDeadLocked(); err != nil {
		return nil, err
	}

	return job.Clone(), nil
}

// RemoveCompleted deletes the given ids from the main store and compacts
// the log so the removal is durable.
func (f *File) RemoveCompleted(ctx context.Context, ids []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return ErrClosed
	}

	changed := false
	for _, id := range ids {
		if _, ok := f.main[id]; ok {
			delete(f.main, id)
			delete(f.rawMain, id)
			changed = true
		}
	}

	if !changed {
		return nil
	}

	return f.compactMainLocked()
}

func (f *File) Close(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return nil
	}
	f.closed = true

	var firstErr error
	if f.mainFile != nil {
		if err := f.mainFile.Close(); err != nil {
			firstErr = err
		}
	}
	if f.deadFile != nil {
		if err := f.deadFile.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// appendLocked writes one JSON record followed by a newline and returns the
// encoded record (without the trailing newline), so callers can cache it
// for cheap field patches later. Caller must hold f.mu.
func (f *File) appendLocked(file *os.File, job *Job) ([]byte, error) {
	if file == nil {
		return nil, ErrClosed
	}

	data, err := json.Marshal(job)
	if err != nil {
		return nil, fmt.Errorf("storage: encoding job %s: %w", job.ID, err)
	}

	if _, err := file.Write(append(append([]byte(nil), data...), '\n')); err != nil {
		return nil, fmt.Errorf("storage: appending to log: %w", err)
	}
	return data, nil
}

// compactMainLocked rewrites the main log from the current in-memory index.
// Caller must hold f.mu.
func (f *File) compactMainLocked() error {
	if err := rewriteLog(f.mainPath, f.main); err != nil {
		return err
	}

	if f.mainFile != nil {
		f.mainFile.Close()
	}

	mainFile, err := os.OpenFile(f.mainPath, os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("storage: reopening main log after compaction: %w", err)
	}
	f.mainFile = mainFile
	return nil
}

// compactDeadLocked rewrites the dead-letter log from the current in-memory
// index. Caller must hold f.mu.
func (f *File) compactDeadLocked() error {
	if err := rewriteLog(f.deadPath, f.dead); err != nil {
		return err
	}

	if f.deadFile != nil {
		f.deadFile.Close()
	}

	deadFile, err := os.OpenFile(f.deadPath, os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("storage: reopening dead-letter log after compaction: %w", err)
	}
	f.deadFile = deadFile
	return nil
}

// rewriteLog truncates path and writes one line per record in index. A
// temporary file is written and renamed into place so a crash mid-compaction
// never leaves a half-written log behind.
func rewriteLog(path string, index map[string]*Job) error {
	dir := filepath.Dir(path)

	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("storage: creating temp file for compaction: %w", err)
	}
	tmpPath := tmp.Name()

	writer := bufio.NewWriter(tmp)
	for _, job := range index {
		data, err := json.Marshal(job)
		if err != nil {
			tmp.Close()
			os.Remove(tmpPath)
			return fmt.Errorf("storage: encoding job %s during compaction: %w", job.ID, err)
		}
		if _, err := writer.Write(data); err != nil {
			tmp.Close()
			os.Remove(tmpPath)
			return err
		}
		if err := writer.WriteByte('\n'); err != nil {
			tmp.Close()
			os.Remove(tmpPath)
			return err
		}
	}

	if err := writer.Flush(); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return err
	}

	return os.Rename(tmpPath, path)
}
