// Package heartbeat writes the "<service>.hb" liveness files read by an
// external watchdog: each long-running component calls Run in a goroutine
// and it writes its file atomically at a fixed cadence until ctx is done.
package heartbeat

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/process"
)

// Beat is the JSON document written to <dir>/<service>.hb.
type Beat struct {
	PID       int            `json:"pid"`
	UptimeSec float64        `json:"uptime_sec"`
	TS        string         `json:"ts"`
	Details   map[string]any `json:"details,omitempty"`
}

// Writer owns one component's heartbeat file and resource sampling.
type Writer struct {
	service   string
	dir       string
	startedAt time.Time
	proc      *process.Process
	log       zerolog.Logger
	now       func() time.Time
	details   func() map[string]any
}

// New builds a Writer for the named service. details, if non-nil, is
// invoked on every beat to populate the component-specific Details field.
func New(service, dir string, log zerolog.Logger, details func() map[string]any) *Writer {
	w := &Writer{
		service:   service,
		dir:       dir,
		startedAt: time.Now(),
		log:       log,
		now:       time.Now,
		details:   details,
	}
	if p, err := process.NewProcess(int32(os.Getpid())); err == nil {
		w.proc = p
	}
	return w
}

// Run writes one beat immediately, then one every interval, until ctx is
// canceled.
func (w *Writer) Run(ctx context.Context, interval time.Duration) error {
	if err := w.writeBeat(); err != nil {
		w.log.Error().Err(err).Str("service", w.service).Msg("heartbeat: initial write failed")
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := w.writeBeat(); err != nil {
				w.log.Error().Err(err).Str("service", w.service).Msg("heartbeat: write failed")
			}
		}
	}
}

func (w *Writer) writeBeat() error {
	details := map[string]any{}
	if w.details != nil {
		for k, v := range w.details() {
			details[k] = v
		}
	}
	if w.proc != nil {
		if cpu, err := w.proc.CPUPercent(); err == nil {
			details["cpu_percent"] = cpu
		}
		if mem, err := w.proc.MemoryInfo(); err == nil && mem != nil {
			details["mem_rss_bytes"] = mem.RSS
		}
	}

	beat := Beat{
		PID:       os.Getpid(),
		UptimeSec: w.now().Sub(w.startedAt).Seconds(),
		TS:        w.now().UTC().Format(time.RFC3339),
		Details:   details,
	}

	data, err := json.Marshal(beat)
	if err != nil {
		return fmt.Errorf("heartbeat: marshal: %w", err)
	}

	if err := os.MkdirAll(w.dir, 0o755); err != nil {
		return fmt.Errorf("heartbeat: mkdir: %w", err)
	}

	dest := filepath.Join(w.dir, w.service+".hb")
	tmp, err := os.CreateTemp(w.dir, w.service+".hb.tmp-*")
	if err != nil {
		return fmt.Errorf("heartbeat: create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("heartbeat: write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("heartbeat: close temp file: %w", err)
	}
	if err := os.Rename(tmpPath, dest); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("heartbeat: rename into place: %w", err)
	}
	return nil
}

// Status is the reader-side classification of a heartbeat file's age.
type Status string

const (
	StatusOK      Status = "ok"
	StatusStale   Status = "stale"
	StatusUnknown Status = "unknown"
)

// Read loads <dir>/<service>.hb and classifies it against staleAfter. A
// missing file reads as StatusUnknown rather than an error, matching how
// a watchdog should treat a component that has never started.
func Read(dir, service string, staleAfter time.Duration, now time.Time) (Beat, Status, error) {
	path := filepath.Join(dir, service+".hb")
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return Beat{}, StatusUnknown, nil
	}
	if err != nil {
		return Beat{}, StatusUnknown, fmt.Errorf("heartbeat: read %s: %w", path, err)
	}

	var beat Beat
	if err := json.Unmarshal(data, &beat); err != nil {
		return Beat{}, StatusUnknown, fmt.Errorf("heartbeat: unmarshal %s: %w", path, err)
	}

	ts, err := time.Parse(time.RFC3339, beat.TS)
	if err != nil {
		return beat, StatusUnknown, fmt.Errorf("heartbeat: parse ts in %s: %w", path, err)
	}
	if now.Sub(ts) > staleAfter {
		return beat, StatusStale, nil
	}
	return beat, StatusOK, nil
}
