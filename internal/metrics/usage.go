package metrics

import (
	"context"
	"log/slog"
	"runtime"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/shirou/gopsutil/v4/process"
)

var (
	processCPU = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "process",
			Name:      "cpu_percent",
			Help:      "CPU usage of a running process, percent of one core.",
		}, []string{"process_id"},
	)
	processRSS = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "process",
			Name:      "memory_rss_bytes",
			Help:      "Resident set size of a running process.",
		}, []string{"process_id"},
	)
)

// Usage is a point-in-time resource reading for one running process.
type Usage struct {
	PID        int32     `json:"pid"`
	CPUPercent float64   `json:"cpu_percent"`
	RSSBytes   uint64    `json:"memory_rss_bytes"`
	VMSBytes   uint64    `json:"memory_vms_bytes"`
	NumThreads int32     `json:"num_threads"`
	NumFDs     int32     `json:"num_fds,omitempty"` // Unix only
	SampledAt  time.Time `json:"sampled_at"`
}

// Sampler reads process resource usage with gopsutil. It keeps one handle per
// pid so CPUPercent is computed over the interval since the previous sample.
type Sampler struct {
	mu    sync.Mutex
	procs map[int32]*process.Process
}

func NewSampler() *Sampler {
	return &Sampler{procs: make(map[int32]*process.Process)}
}

func (s *Sampler) handle(pid int32) (*process.Process, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p, ok := s.procs[pid]; ok {
		return p, nil
	}
	p, err := process.NewProcess(pid)
	if err != nil {
		return nil, err
	}
	s.procs[pid] = p
	return p, nil
}

// Sample returns the current usage of pid.
func (s *Sampler) Sample(ctx context.Context, pid int32) (Usage, error) {
	p, err := s.handle(pid)
	if err != nil {
		return Usage{}, err
	}
	mem, err := p.MemoryInfoWithContext(ctx)
	if err != nil {
		s.Forget(pid)
		return Usage{}, err
	}
	u := Usage{PID: pid, RSSBytes: mem.RSS, VMSBytes: mem.VMS, SampledAt: time.Now()}
	if cpu, err := p.PercentWithContext(ctx, 0); err == nil {
		u.CPUPercent = cpu
	}
	if n, err := p.NumThreadsWithContext(ctx); err == nil {
		u.NumThreads = n
	}
	if runtime.GOOS != "windows" {
		if n, err := p.NumFDsWithContext(ctx); err == nil {
			u.NumFDs = n
		}
	}
	return u, nil
}

// Forget drops the cached handle for pid.
func (s *Sampler) Forget(pid int32) {
	s.mu.Lock()
	delete(s.procs, pid)
	s.mu.Unlock()
}

// retain drops cached handles not in live.
func (s *Sampler) retain(live map[int32]bool) {
	s.mu.Lock()
	for pid := range s.procs {
		if !live[pid] {
			delete(s.procs, pid)
		}
	}
	s.mu.Unlock()
}

// Run samples the processes returned by running every interval and exports
// them as gauges until ctx is done. running maps process id to pid.
func (s *Sampler) Run(ctx context.Context, interval time.Duration, running func() map[string]int, log *slog.Logger) {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	if log == nil {
		log = slog.Default()
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	exported := map[string]bool{}
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}
		procs := running()
		live := make(map[int32]bool, len(procs))
		seen := make(map[string]bool, len(procs))
		for id, pid := range procs {
			live[int32(pid)] = true
			u, err := s.Sample(ctx, int32(pid))
			if err != nil {
				log.Debug("usage sample failed", slog.String("process_id", id), slog.Int("pid", pid), slog.Any("error", err))
				continue
			}
			seen[id] = true
			if regOK.Load() {
				processCPU.WithLabelValues(id).Set(u.CPUPercent)
				processRSS.WithLabelValues(id).Set(float64(u.RSSBytes))
			}
		}
		for id := range exported {
			if !seen[id] && regOK.Load() {
				processCPU.DeleteLabelValues(id)
				processRSS.DeleteLabelValues(id)
			}
		}
		exported = seen
		s.retain(live)
	}
}
