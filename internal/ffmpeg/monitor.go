package ffmpeg

import (
	"context"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v4/process"
)

// ProcessStats contains resource usage observed for an FFmpeg process.
type ProcessStats struct {
	PID          int       `json:"pid"`
	PeakRSSBytes uint64    `json:"peak_rss_bytes"`
	CPUSeconds   float64   `json:"cpu_seconds"` // user + system
	Samples      int       `json:"samples"`
	LastSampled  time.Time `json:"last_sampled,omitempty"`
}

// ProcessMonitor samples resource usage of a running process.
// Sampling is driven by the caller; a process that has already exited
// simply stops producing samples.
type ProcessMonitor struct {
	pid int

	mu    sync.Mutex
	proc  *process.Process
	stats ProcessStats
}

// NewProcessMonitor creates a monitor for pid.
func NewProcessMonitor(pid int) *ProcessMonitor {
	return &ProcessMonitor{
		pid:   pid,
		stats: ProcessStats{PID: pid},
	}
}

// Sample records one observation. Errors mean the process is gone or
// unreadable and are returned for the caller to ignore or log.
func (m *ProcessMonitor) Sample(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.proc == nil {
		proc, err := process.NewProcessWithContext(ctx, int32(m.pid))
		if err != nil {
			return err
		}
		m.proc = proc
	}

	mem, err := m.proc.MemoryInfoWithContext(ctx)
	if err != nil {
		return err
	}
	if mem.RSS > m.stats.PeakRSSBytes {
		m.stats.PeakRSSBytes = mem.RSS
	}

	if times, err := m.proc.TimesWithContext(ctx); err == nil {
		m.stats.CPUSeconds = times.User + times.System
	}

	m.stats.Samples++
	m.stats.LastSampled = time.Now()
	return nil
}

// Stats returns a snapshot of the collected statistics.
func (m *ProcessMonitor) Stats() ProcessStats {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stats
}
