package runtime

import (
	"testing"

	"github.com/docker/docker/api/types/container"
)

func TestCalculateStats(t *testing.T) {
	raw := &container.StatsResponse{
		CPUStats: container.CPUStats{
			CPUUsage:    container.CPUUsage{TotalUsage: 400_000},
			SystemUsage: 2_000_000,
			OnlineCPUs:  2,
		},
		PreCPUStats: container.CPUStats{
			CPUUsage:    container.CPUUsage{TotalUsage: 200_000},
			SystemUsage: 1_000_000,
		},
		MemoryStats: container.MemoryStats{
			Usage: 256 * 1024 * 1024,
			Limit: 512 * 1024 * 1024,
		},
		Networks: map[string]container.NetworkStats{
			"eth0": {RxBytes: 100, TxBytes: 50},
			"eth1": {RxBytes: 10, TxBytes: 5},
		},
	}

	stats := calculateStats(raw)

	// cpu delta 200k over system delta 1M on 2 cores = 40%.
	if stats.CPUPercent != 40.0 {
		t.Errorf("CPUPercent = %v, want 40.0", stats.CPUPercent)
	}
	if stats.MemoryPercent != 50.0 {
		t.Errorf("MemoryPercent = %v, want 50.0", stats.MemoryPercent)
	}
	if stats.MemoryUsage != 256*1024*1024 || stats.MemoryLimit != 512*1024*1024 {
		t.Errorf("memory = %d/%d", stats.MemoryUsage, stats.MemoryLimit)
	}
	if stats.NetworkRx != 110 || stats.NetworkTx != 55 {
		t.Errorf("network rx/tx = %d/%d, want 110/55", stats.NetworkRx, stats.NetworkTx)
	}
	if stats.Timestamp.IsZero() {
		t.Error("Timestamp not set")
	}
}

func TestCalculateStatsFallbackCores(t *testing.T) {
	raw := &container.StatsResponse{
		CPUStats: container.CPUStats{
			CPUUsage: container.CPUUsage{
				TotalUsage:  300,
				PercpuUsage: []uint64{0, 0, 0, 0},
			},
			SystemUsage: 1_000,
		},
		PreCPUStats: container.CPUStats{
			CPUUsage:    container.CPUUsage{TotalUsage: 200},
			SystemUsage: 900,
		},
	}

	stats := calculateStats(raw)

	// OnlineCPUs is zero on older daemons; core count falls back to the
	// per-cpu sample length: 100/100 * 4 * 100 = 400%.
	if stats.CPUPercent != 400.0 {
		t.Errorf("CPUPercent = %v, want 400.0", stats.CPUPercent)
	}
}

func TestCalculateStatsZeroDeltas(t *testing.T) {
	stats := calculateStats(&container.StatsResponse{})
	if stats.CPUPercent != 0 {
		t.Errorf("CPUPercent = %v, want 0 on empty sample", stats.CPUPercent)
	}
	if stats.MemoryPercent != 0 {
		t.Errorf("MemoryPercent = %v, want 0 when limit unknown", stats.MemoryPercent)
	}
}
