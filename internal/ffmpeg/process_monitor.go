package ffmpeg

import (
	"context"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shirou/gopsutil/v4/process"
)

// ProcessStats contains resource usage statistics for a child process.
type ProcessStats struct {
	PID int `json:"pid"`

	CPUPercent float64       `json:"cpu_percent"` // percentage of one core over the last interval
	CPUUser    time.Duration `json:"cpu_user"`
	CPUSystem  time.Duration `json:"cpu_system"`

	MemoryRSSBytes uint64  `json:"memory_rss_bytes"`
	MemoryVMSBytes uint64  `json:"memory_vms_bytes"`
	MemoryPercent  float64 `json:"memory_percent"`

	// Bytes written to the process stdin, tracked via CountingWriter.
	BytesWritten  uint64  `json:"bytes_written"`
	WriteRateBps  float64 `json:"write_rate_bps"`
	WriteRateMbps float64 `json:"write_rate_mbps"`

	StartedAt   time.Time     `json:"started_at"`
	Duration    time.Duration `json:"duration"`
	LastUpdated time.Time     `json:"last_updated"`
}

// ProcessMonitor samples the resource usage of a process at a fixed interval.
type ProcessMonitor struct {
	pid       int
	startedAt time.Time
	interval  time.Duration

	mu      sync.RWMutex
	stats   ProcessStats
	running bool
	proc    *process.Process

	lastCPUTime      time.Duration
	lastCheckTime    time.Time
	lastBytesWritten uint64

	bytesWritten atomic.Uint64

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewProcessMonitor creates a monitor for pid.
func NewProcessMonitor(pid int) *ProcessMonitor {
	ctx, cancel := context.WithCancel(context.Background())
	return &ProcessMonitor{
		pid:       pid,
		startedAt: time.Now(),
		interval:  time.Second,
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Start begins sampling.
func (pm *ProcessMonitor) Start() {
	pm.mu.Lock()
	if pm.running {
		pm.mu.Unlock()
		return
	}
	pm.running = true
	pm.lastCheckTime = time.Now()
	interval := pm.interval
	pm.mu.Unlock()

	pm.wg.Add(1)
	go pm.monitorLoop(interval)
}

// Stop stops sampling and waits for the sampler to exit.
func (pm *ProcessMonitor) Stop() {
	pm.cancel()
	pm.wg.Wait()

	pm.mu.Lock()
	pm.running = false
	pm.mu.Unlock()
}

// Stats returns the latest sample.
func (pm *ProcessMonitor) Stats() ProcessStats {
	pm.mu.RLock()
	defer pm.mu.RUnlock()

	stats := pm.stats
	stats.PID = pm.pid
	stats.StartedAt = pm.startedAt
	stats.BytesWritten = pm.bytesWritten.Load()
	return stats
}

// AddBytesWritten adds to the bytes written counter.
func (pm *ProcessMonitor) AddBytesWritten(n uint64) {
	pm.bytesWritten.Add(n)
}

func (pm *ProcessMonitor) monitorLoop(interval time.Duration) {
	defer pm.wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	pm.sample()
	for {
		select {
		case <-pm.ctx.Done():
			return
		case <-ticker.C:
			pm.sample()
		}
	}
}

// sample takes a snapshot of process statistics. Failures are ignored since
// the process may already have exited.
func (pm *ProcessMonitor) sample() {
	now := time.Now()

	pm.mu.Lock()
	defer pm.mu.Unlock()

	pm.stats.Duration = now.Sub(pm.startedAt)
	pm.stats.LastUpdated = now

	if pm.proc == nil {
		p, err := process.NewProcessWithContext(pm.ctx, int32(pm.pid)) //nolint:gosec // pids fit in int32
		if err == nil {
			pm.proc = p
		}
	}
	if pm.proc != nil {
		pm.sampleProcess(now)
	}

	current := pm.bytesWritten.Load()
	if elapsed := now.Sub(pm.lastCheckTime); elapsed > 0 {
		pm.stats.WriteRateBps = float64(current-pm.lastBytesWritten) / elapsed.Seconds()
		pm.stats.WriteRateMbps = pm.stats.WriteRateBps * 8 / 1_000_000
	}
	pm.lastBytesWritten = current
	pm.lastCheckTime = now
}

func (pm *ProcessMonitor) sampleProcess(now time.Time) {
	if times, err := pm.proc.TimesWithContext(pm.ctx); err == nil {
		user := time.Duration(times.User * float64(time.Second))
		system := time.Duration(times.System * float64(time.Second))
		total := user + system

		pm.stats.CPUUser = user
		pm.stats.CPUSystem = system

		elapsed := now.Sub(pm.lastCheckTime)
		if elapsed > 0 && pm.lastCPUTime > 0 {
			pm.stats.CPUPercent = float64(total-pm.lastCPUTime) / float64(elapsed) * 100.0
		}
		pm.lastCPUTime = total
	}

	if mem, err := pm.proc.MemoryInfoWithContext(pm.ctx); err == nil {
		pm.stats.MemoryRSSBytes = mem.RSS
		pm.stats.MemoryVMSBytes = mem.VMS
	}
	if pct, err := pm.proc.MemoryPercentWithContext(pm.ctx); err == nil {
		pm.stats.MemoryPercent = float64(pct)
	}
}

// CountingWriter wraps an io.Writer and reports bytes written to a monitor.
type CountingWriter struct {
	w       io.Writer
	monitor *ProcessMonitor
}

// NewCountingWriter creates a writer that counts bytes and reports to monitor.
func NewCountingWriter(w io.Writer, monitor *ProcessMonitor) *CountingWriter {
	return &CountingWriter{
		w:       w,
		monitor: monitor,
	}
}

// Write implements io.Writer.
func (cw *CountingWriter) Write(p []byte) (n int, err error) {
	n, err = cw.w.Write(p)
	if n > 0 && cw.monitor != nil {
		cw.monitor.AddBytesWritten(uint64(n))
	}
	return n, err
}
