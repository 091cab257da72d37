package main

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

type OperationMetrics struct {
	Total     int64
	Success   int64
	Conflict  int64
	Error     int64
	latencies []time.Duration
	mu        sync.Mutex
}

// Record counts one call. A call that neither succeeded nor conflicted is an
// error.
func (om *OperationMetrics) Record(latency time.Duration, success, conflict bool) {
	atomic.AddInt64(&om.Total, 1)
	switch {
	case success:
		atomic.AddInt64(&om.Success, 1)
	case conflict:
		atomic.AddInt64(&om.Conflict, 1)
	default:
		atomic.AddInt64(&om.Error, 1)
	}

	om.mu.Lock()
	om.latencies = append(om.latencies, latency)
	om.mu.Unlock()
}

func (om *OperationMetrics) Stats() (avg, min, max, p50, p95 time.Duration) {
	om.mu.Lock()
	latencies := make([]time.Duration, len(om.latencies))
	copy(latencies, om.latencies)
	om.mu.Unlock()

	if len(latencies) == 0 {
		return 0, 0, 0, 0, 0
	}
	sort.Slice(latencies, func(i, j int) bool { return latencies[i] < latencies[j] })

	var sum time.Duration
	for _, l := range latencies {
		sum += l
	}
	avg = sum / time.Duration(len(latencies))
	min = latencies[0]
	max = latencies[len(latencies)-1]
	p50 = latencies[percentileIndex(len(latencies), 50)]
	p95 = latencies[percentileIndex(len(latencies), 95)]
	return avg, min, max, p50, p95
}

func percentileIndex(n, p int) int {
	idx := n * p / 100
	if idx >= n {
		idx = n - 1
	}
	return idx
}

type Metrics struct {
	Allocate  OperationMetrics
	Cancel    OperationMetrics
	NoShow    OperationMetrics
	Emergency OperationMetrics
	Delay     OperationMetrics
	Read      OperationMetrics

	Waitlisted int64 // allocations answered with 202
	Bumped     int64 // patients displaced by emergencies
}

func (m *Metrics) PrintReport(cfg SimConfig) {
	line := strings.Repeat("=", 80)
	fmt.Println("\n" + line)
	fmt.Println("SIMULATION REPORT")
	fmt.Println(line)
	fmt.Printf("Duration: %s\n", cfg.Duration)
	fmt.Printf("Workers: %d\n", cfg.Workers)
	fmt.Printf("Date: %s\n", cfg.Date)
	fmt.Println()

	printOperationReport("Allocate", &m.Allocate)
	if w := atomic.LoadInt64(&m.Waitlisted); w > 0 {
		fmt.Printf("  Waitlisted: %d\n\n", w)
	}
	printOperationReport("Cancel", &m.Cancel)
	printOperationReport("No-show", &m.NoShow)
	printOperationReport("Emergency", &m.Emergency)
	if b := atomic.LoadInt64(&m.Bumped); b > 0 {
		fmt.Printf("  Bumped patients: %d\n\n", b)
	}
	printOperationReport("Delay", &m.Delay)
	printOperationReport("Read", &m.Read)
}

func printOperationReport(name string, om *OperationMetrics) {
	total := atomic.LoadInt64(&om.Total)
	if total == 0 {
		return
	}

	success := atomic.LoadInt64(&om.Success)
	conflict := atomic.LoadInt64(&om.Conflict)
	failed := atomic.LoadInt64(&om.Error)

	avg, min, max, p50, p95 := om.Stats()

	fmt.Printf("%s:\n", name)
	fmt.Printf("  Total: %d\n", total)
	fmt.Printf("  Success: %d (%.1f%%)\n", success, float64(success)/float64(total)*100)
	if conflict > 0 {
		fmt.Printf("  Conflicts: %d (%.1f%%)\n", conflict, float64(conflict)/float64(total)*100)
	}
	if failed > 0 {
		fmt.Printf("  Errors: %d (%.1f%%)\n", failed, float64(failed)/float64(total)*100)
	}
	fmt.Printf("  Latency: avg=%s min=%s max=%s p50=%s p95=%s\n",
		avg.Round(time.Millisecond), min.Round(time.Millisecond), max.Round(time.Millisecond),
		p50.Round(time.Millisecond), p95.Round(time.Millisecond))
	fmt.Println()
}
