package runtime

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"time"

	"github.com/docker/docker/api/types/container"

	"github.com/renderlite/renderlite/pkg/types"
)

// Stats takes a one-shot resource sample of a running container.
func (r *DockerRuntime) Stats(ctx context.Context, id string) (*types.ContainerStats, error) {
	resp, err := r.cli.ContainerStats(ctx, id, false)
	if err != nil {
		return nil, wrapDockerErr(err, "failed to sample stats for container %s", shortID(id))
	}
	defer resp.Body.Close()

	var raw container.StatsResponse
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return nil, fmt.Errorf("failed to decode stats for container %s: %w", shortID(id), err)
	}
	return calculateStats(&raw), nil
}

// calculateStats turns a raw daemon sample into the platform's metric shape.
// CPU percent follows the daemon's own formula: the container's cpu delta
// over the system cpu delta, scaled by core count.
func calculateStats(raw *container.StatsResponse) *types.ContainerStats {
	cpuDelta := float64(raw.CPUStats.CPUUsage.TotalUsage) - float64(raw.PreCPUStats.CPUUsage.TotalUsage)
	sysDelta := float64(raw.CPUStats.SystemUsage) - float64(raw.PreCPUStats.SystemUsage)

	cores := float64(raw.CPUStats.OnlineCPUs)
	if cores == 0 {
		cores = float64(len(raw.CPUStats.CPUUsage.PercpuUsage))
	}

	cpuPercent := 0.0
	if cpuDelta > 0 && sysDelta > 0 {
		cpuPercent = cpuDelta / sysDelta * cores * 100.0
	}

	memUsage := raw.MemoryStats.Usage
	memLimit := raw.MemoryStats.Limit
	memPercent := 0.0
	if memLimit > 0 {
		memPercent = float64(memUsage) / float64(memLimit) * 100.0
	}

	var rx, tx uint64
	for _, nw := range raw.Networks {
		rx += nw.RxBytes
		tx += nw.TxBytes
	}

	return &types.ContainerStats{
		CPUPercent:    round2(cpuPercent),
		MemoryUsage:   memUsage,
		MemoryLimit:   memLimit,
		MemoryPercent: round2(memPercent),
		NetworkRx:     rx,
		NetworkTx:     tx,
		Timestamp:     time.Now().UTC(),
	}
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
