package manager

import (
	"os"
	"sync"
	"time"

	"github.com/prometheus/procfs"

	"moxind/pkg/types"
)

// resourceSampler reads RSS and CPU usage for a process from /proc. CPU is
// reported as a percentage of one core since the previous sample of the
// same pid (or since process start on the first sample).
type resourceSampler struct {
	mu   sync.Mutex
	last map[int]cpuSample
}

type cpuSample struct {
	cpuSeconds float64
	at         time.Time
}

func newResourceSampler() *resourceSampler {
	return &resourceSampler{last: make(map[int]cpuSample)}
}

// sample returns MiB of resident memory and CPU percent. Platforms without
// procfs yield zeros.
func (s *resourceSampler) sample(pid int) (ramMiB, cpuPct float32) {
	if pid <= 0 {
		pid = os.Getpid()
	}
	fs, err := procfs.NewDefaultFS()
	if err != nil {
		return 0, 0
	}
	proc, err := fs.Proc(pid)
	if err != nil {
		return 0, 0
	}
	st, err := proc.Stat()
	if err != nil {
		return 0, 0
	}
	now := time.Now()
	cpu := st.CPUTime()
	ramMiB = float32(float64(st.ResidentMemory()) / (1 << 20))

	s.mu.Lock()
	prev, ok := s.last[pid]
	s.last[pid] = cpuSample{cpuSeconds: cpu, at: now}
	s.mu.Unlock()

	var wall float64
	var used float64
	if ok {
		wall = now.Sub(prev.at).Seconds()
		used = cpu - prev.cpuSeconds
	} else if start, err := st.StartTime(); err == nil {
		wall = float64(now.UnixNano())/1e9 - start
		used = cpu
	}
	if wall > 0 && used >= 0 {
		cpuPct = float32(used / wall * 100)
	}
	return ramMiB, cpuPct
}

func (s *resourceSampler) forget(pid int) {
	s.mu.Lock()
	delete(s.last, pid)
	s.mu.Unlock()
}

// LoadedModel returns a resource snapshot of the active model, or nil when
// nothing is loaded.
func (m *Manager) LoadedModel() *types.ModelResourcesInfo {
	m.mu.RLock()
	cur := m.cur
	m.mu.RUnlock()
	if cur == nil {
		return nil
	}
	info := m.resourcesOf(cur)
	return &info
}

func (m *Manager) resourcesOf(cur *loaded) types.ModelResourcesInfo {
	ram, cpu := m.sampler.sample(cur.Info.PID)
	return types.ModelResourcesInfo{
		FileID:    cur.File.ID,
		ModelID:   cur.Model.ID,
		RAMUsage:  ram,
		CPUUsage:  cpu,
		SampledAt: time.Now(),
	}
}
