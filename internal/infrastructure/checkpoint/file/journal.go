// Package file persists checkpoints as an append-only JSON Lines journal so a
// run can resume without a database.
package file

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/bytedance/sonic"
	"github.com/gofrs/flock"
	"github.com/valyala/bytebufferpool"

	"github.com/miocrobos/habicht-directory/internal/domain/checkpoint"
	"github.com/miocrobos/habicht-directory/internal/platform/logging"
)

// ErrLocked means another process holds the journal.
var ErrLocked = errors.New("checkpoint journal is locked by another run")

const maxLineBytes = 1 << 20

// Journal appends one line per saved entry; the last line for a
// (run, record) pair wins on replay.
type Journal struct {
	path   string
	lock   *flock.Flock
	logger *logging.Logger

	mu    sync.Mutex
	f     *os.File
	runs  map[string]map[string]checkpoint.Entry
	lines int
}

// Open replays the journal at path and holds an exclusive lock on it until
// Close. A torn last line from a crash is skipped.
func Open(path string, logger *logging.Logger) (*Journal, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("checkpoint journal path is required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create checkpoint dir: %w", err)
	}

	lock := flock.New(path + ".lock")
	ok, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("acquire checkpoint lock: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrLocked, path)
	}

	j := &Journal{
		path:   path,
		lock:   lock,
		logger: logger.Named("checkpoint"),
		runs:   make(map[string]map[string]checkpoint.Entry),
	}
	if err := j.replay(); err != nil {
		_ = lock.Unlock()
		return nil, err
	}
	if j.lines > 2*j.live() {
		if err := j.compact(); err != nil {
			_ = lock.Unlock()
			return nil, err
		}
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		_ = lock.Unlock()
		return nil, fmt.Errorf("open checkpoint journal: %w", err)
	}
	j.f = f
	return j, nil
}

func (j *Journal) replay() error {
	f, err := os.Open(j.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("open checkpoint journal: %w", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := scanner.Bytes()
		if len(strings.TrimSpace(string(line))) == 0 {
			continue
		}
		var e checkpoint.Entry
		if err := sonic.Unmarshal(line, &e); err != nil || e.RunName == "" || e.RecordID == "" {
			j.logger.Warn("skipping unreadable checkpoint line", "path", j.path, "line", lineNo, "error", err)
			continue
		}
		if _, err := checkpoint.ParseStatus(string(e.Status)); err != nil {
			j.logger.Warn("skipping checkpoint line", "path", j.path, "line", lineNo, "error", err)
			continue
		}
		j.apply(e)
		j.lines++
	}
	if err := scanner.Err(); err != nil && !errors.Is(err, io.ErrUnexpectedEOF) {
		return fmt.Errorf("read checkpoint journal: %w", err)
	}
	return nil
}

func (j *Journal) apply(e checkpoint.Entry) {
	run := j.runs[e.RunName]
	if run == nil {
		run = make(map[string]checkpoint.Entry)
		j.runs[e.RunName] = run
	}
	run[e.RecordID] = e
}

func (j *Journal) live() int {
	n := 0
	for _, run := range j.runs {
		n += len(run)
	}
	return n
}

// compact rewrites the journal with one line per live entry.
func (j *Journal) compact() error {
	entries := make([]checkpoint.Entry, 0, j.live())
	for _, run := range j.runs {
		for _, e := range run {
			entries = append(entries, e)
		}
	}
	sort.Slice(entries, func(a, b int) bool {
		if entries[a].RunName != entries[b].RunName {
			return entries[a].RunName < entries[b].RunName
		}
		return entries[a].RecordID < entries[b].RecordID
	})

	buf := bytebufferpool.Get()
	defer bytebufferpool.Put(buf)
	if err := encodeLines(buf, entries); err != nil {
		return err
	}

	tmp := j.path + ".tmp"
	if err := os.WriteFile(tmp, buf.B, 0o644); err != nil {
		return fmt.Errorf("write compacted journal: %w", err)
	}
	if err := os.Rename(tmp, j.path); err != nil {
		return fmt.Errorf("replace checkpoint journal: %w", err)
	}
	j.logger.Debug("checkpoint journal compacted", "path", j.path, "lines_before", j.lines, "lines_after", len(entries))
	j.lines = len(entries)
	return nil
}

func (j *Journal) Load(_ context.Context, runName string) (map[string]checkpoint.Entry, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	entries := j.runs[runName]
	out := make(map[string]checkpoint.Entry, len(entries))
	for id, e := range entries {
		out[id] = e
	}
	return out, nil
}

// Save appends entries in a single write and fsyncs before returning.
func (j *Journal) Save(_ context.Context, entries ...checkpoint.Entry) error {
	if len(entries) == 0 {
		return nil
	}
	for _, e := range entries {
		if strings.TrimSpace(e.RunName) == "" || strings.TrimSpace(e.RecordID) == "" {
			return fmt.Errorf("checkpoint entry requires run name and record id")
		}
	}

	buf := bytebufferpool.Get()
	defer bytebufferpool.Put(buf)
	if err := encodeLines(buf, entries); err != nil {
		return err
	}

	j.mu.Lock()
	defer j.mu.Unlock()
	if j.f == nil {
		return fmt.Errorf("checkpoint journal %s is closed", j.path)
	}
	if _, err := j.f.Write(buf.B); err != nil {
		return fmt.Errorf("append checkpoint journal: %w", err)
	}
	if err := j.f.Sync(); err != nil {
		return fmt.Errorf("sync checkpoint journal: %w", err)
	}
	for _, e := range entries {
		j.apply(e)
	}
	j.lines += len(entries)
	return nil
}

func (j *Journal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()

	var errs []error
	if j.f != nil {
		errs = append(errs, j.f.Close())
		j.f = nil
	}
	if j.lock != nil {
		errs = append(errs, j.lock.Unlock())
	}
	return errors.Join(errs...)
}

func encodeLines(buf *bytebufferpool.ByteBuffer, entries []checkpoint.Entry) error {
	for _, e := range entries {
		line, err := sonic.Marshal(e)
		if err != nil {
			return fmt.Errorf("encode checkpoint %s/%s: %w", e.RunName, e.RecordID, err)
		}
		_, _ = buf.Write(line)
		_ = buf.WriteByte('\n')
	}
	return nil
}
