package gateway

import (
	"bufio"
	"os"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"time"
)

// SystemMetrics holds process and host resource usage, pushed to WS
// clients periodically and served on /api/metrics.
type SystemMetrics struct {
	CPULoad1    float64 `json:"cpu_load_1"`
	CPULoad5    float64 `json:"cpu_load_5"`
	CPULoad15   float64 `json:"cpu_load_15"`
	CPUPercent  float64 `json:"cpu_percent"`
	CPUCores    int     `json:"cpu_cores"`
	MemUsedMB   float64 `json:"mem_used_mb"`
	MemTotalMB  float64 `json:"mem_total_mb"`
	MemPercent  float64 `json:"mem_percent"`
	HeapAllocMB float64 `json:"heap_alloc_mb"`
	SysMB       float64 `json:"sys_mb"`
	GCRuns      uint32  `json:"gc_runs"`
	Goroutines  int     `json:"goroutines"`
	UptimeSec   int64   `json:"uptime_sec"`
	WSClients   int     `json:"ws_clients"`
	LatencyP50  float64 `json:"latency_p50_ms"`
	LatencyP95  float64 `json:"latency_p95_ms"`
	LatencyP99  float64 `json:"latency_p99_ms"`
	LatencyMax  float64 `json:"latency_max_ms"`
	TS          string  `json:"ts"`
}

type cpuSample struct {
	idle  uint64
	total uint64
}

// prevCPU is shared between the broadcast ticker and the /api/metrics
// handler; cpuMu keeps the delta computation consistent.
var (
	cpuMu   sync.Mutex
	prevCPU cpuSample
)

func readCPUSample() cpuSample {
	line, ok := readProcLine("/proc/stat", "cpu ")
	if !ok {
		return cpuSample{}
	}
	fields := strings.Fields(line)
	if len(fields) < 5 {
		return cpuSample{}
	}
	var s cpuSample
	for i := 1; i < len(fields); i++ {
		v, _ := strconv.ParseUint(fields[i], 10, 64)
		s.total += v
		if i == 4 {
			s.idle = v
		}
	}
	return s
}

// cpuPercent computes busy share since the previous sample.
func cpuPercent() float64 {
	cpuMu.Lock()
	defer cpuMu.Unlock()

	cur := readCPUSample()
	prev := prevCPU
	prevCPU = cur
	if prev.total == 0 || cur.total <= prev.total {
		return 0
	}
	dTotal := float64(cur.total - prev.total)
	dIdle := float64(cur.idle - prev.idle)
	return (1.0 - dIdle/dTotal) * 100.0
}

// readProcLine returns the first line of a /proc file matching prefix.
// Empty prefix matches the first line.
func readProcLine(path, prefix string) (string, bool) {
	f, err := os.Open(path)
	if err != nil {
		return "", false
	}
	defer f.Close()
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		if strings.HasPrefix(line, prefix) {
			return line, true
		}
	}
	return "", false
}

func loadAverages() (l1, l5, l15 float64) {
	line, ok := readProcLine("/proc/loadavg", "")
	if !ok {
		return 0, 0, 0
	}
	fields := strings.Fields(line)
	if len(fields) < 3 {
		return 0, 0, 0
	}
	l1, _ = strconv.ParseFloat(fields[0], 64)
	l5, _ = strconv.ParseFloat(fields[1], 64)
	l15, _ = strconv.ParseFloat(fields[2], 64)
	return l1, l5, l15
}

func memInfoKB(key string) uint64 {
	line, ok := readProcLine("/proc/meminfo", key)
	if !ok {
		return 0
	}
	fields := strings.Fields(line)
	if len(fields) < 2 {
		return 0
	}
	v, _ := strconv.ParseUint(fields[1], 10, 64)
	return v
}

// CollectMetrics gathers process and host resource usage.
func CollectMetrics(start time.Time) SystemMetrics {
	m := SystemMetrics{
		Goroutines: runtime.NumGoroutine(),
		UptimeSec:  int64(time.Since(start).Seconds()),
		TS:         time.Now().UTC().Format(time.RFC3339Nano),
		CPUCores:   runtime.NumCPU(),
		CPUPercent: cpuPercent(),
	}
	m.CPULoad1, m.CPULoad5, m.CPULoad15 = loadAverages()

	if total := memInfoKB("MemTotal:"); total > 0 {
		used := total - memInfoKB("MemAvailable:")
		m.MemTotalMB = float64(total) / 1024
		m.MemUsedMB = float64(used) / 1024
		m.MemPercent = float64(used) / float64(total) * 100
	}

	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	m.HeapAllocMB = float64(ms.HeapAlloc) / 1024 / 1024
	m.SysMB = float64(ms.Sys) / 1024 / 1024
	m.GCRuns = ms.NumGC

	return m
}
