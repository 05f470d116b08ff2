// Package generator feeds tasks from a source into the master.
package generator

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/alanyang/task-mesh/internal/domain/task"
	portcoord "github.com/alanyang/task-mesh/internal/port/coordinator"
	"github.com/alanyang/task-mesh/internal/service/master"
)

// Source yields tasks until it returns io.EOF.
type Source interface {
	Next(ctx context.Context) (task.Task, error)
}

// SliceSource replays a fixed list of tasks.
type SliceSource struct {
	mu    sync.Mutex
	tasks []task.Task
	pos   int
}

func NewSliceSource(tasks ...task.Task) *SliceSource {
	return &SliceSource{tasks: tasks}
}

func (s *SliceSource) Next(ctx context.Context) (task.Task, error) {
	if err := ctx.Err(); err != nil {
		return task.Task{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pos >= len(s.tasks) {
		return task.Task{}, io.EOF
	}
	t := s.tasks[s.pos]
	s.pos++
	return t, nil
}

// Spec is the line format read by JSONLinesSource.
type Spec struct {
	ID         string          `json:"id,omitempty"`
	Type       string          `json:"type"`
	Properties task.Properties `json:"properties"`
	Timeout    string          `json:"timeout,omitempty"`
}

func (s Spec) Task() (task.Task, error) {
	t := task.New(s.ID, s.Type, s.Properties)
	if s.Timeout != "" {
		d, err := time.ParseDuration(s.Timeout)
		if err != nil {
			return task.Task{}, fmt.Errorf("task %s timeout %q: %w", t.ID, s.Timeout, err)
		}
		t.Timeout = d
	}
	return t, nil
}

// MaxLineSize bounds one job line; property blobs can be large.
const MaxLineSize = 16 << 20

// JSONLinesSource reads one Spec per line. Blank lines and lines starting
// with # are skipped.
type JSONLinesSource struct {
	mu   sync.Mutex
	scan *bufio.Scanner
	line int
}

func NewJSONLinesSource(r io.Reader) *JSONLinesSource {
	scan := bufio.NewScanner(r)
	scan.Buffer(make([]byte, 0, 64*1024), MaxLineSize)
	return &JSONLinesSource{scan: scan}
}

func (s *JSONLinesSource) Next(ctx context.Context) (task.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for {
		if err := ctx.Err(); err != nil {
			return task.Task{}, err
		}
		if !s.scan.Scan() {
			if err := s.scan.Err(); err != nil {
				return task.Task{}, fmt.Errorf("read tasks: %w", err)
			}
			return task.Task{}, io.EOF
		}
		s.line++
		raw := strings.TrimSpace(s.scan.Text())
		if raw == "" || strings.HasPrefix(raw, "#") {
			continue
		}
		var spec Spec
		if err := json.Unmarshal([]byte(raw), &spec); err != nil {
			return task.Task{}, fmt.Errorf("read tasks line %d: %w", s.line, err)
		}
		return spec.Task()
	}
}

// Stats counts what a feed did.
type Stats struct {
	Submitted int
	Skipped   int
}

// Feed submits every task from src. Conflicting ids are logged and skipped;
// any other submission error stops the feed, as does a source error. A nil
// limiter submits as fast as the submitter accepts.
func Feed(ctx context.Context, src Source, sub portcoord.Submitter, limiter *rate.Limiter) (Stats, error) {
	var stats Stats
	for {
		t, err := src.Next(ctx)
		if errors.Is(err, io.EOF) {
			slog.InfoContext(ctx, "generator: source exhausted", "submitted", stats.Submitted, "skipped", stats.Skipped)
			return stats, nil
		}
		if err != nil {
			return stats, fmt.Errorf("generator next task: %w", err)
		}

		if limiter != nil {
			if err := limiter.Wait(ctx); err != nil {
				return stats, fmt.Errorf("generator rate limit: %w", err)
			}
		}

		if _, err := sub.Submit(ctx, t); err != nil {
			if errors.Is(err, master.ErrTaskConflict) {
				slog.WarnContext(ctx, "generator: duplicate task id skipped", "task_id", t.ID)
				stats.Skipped++
				continue
			}
			return stats, fmt.Errorf("generator submit %s: %w", t.ID, err)
		}
		stats.Submitted++
	}
}

// Limiter builds a limiter for perSecond submissions; zero or less means unlimited.
func Limiter(perSecond float64, burst int) *rate.Limiter {
	if perSecond <= 0 {
		return nil
	}
	if burst <= 0 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(perSecond), burst)
}
