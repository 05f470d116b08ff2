package controller

import (
	"context"
	"log/slog"
	"os"
	"runtime"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"

	domainctrl "github.com/alanyang/task-mesh/internal/domain/controller"
)

// DefaultPoolSize is one worker per logical CPU, clamped to the pool limits.
func DefaultPoolSize(ctx context.Context) int {
	n, err := cpu.CountsWithContext(ctx, true)
	if err != nil || n < 1 {
		n = runtime.NumCPU()
	}
	return min(max(n, MinPoolSize), MaxPoolSize)
}

// HostMeta collects what a controller advertises about its host. Probe
// failures leave the field empty.
func HostMeta(ctx context.Context, version string) domainctrl.Meta {
	meta := domainctrl.Meta{Version: version}
	if h, err := os.Hostname(); err == nil {
		meta.Hostname = h
	}
	if n, err := cpu.CountsWithContext(ctx, true); err == nil {
		meta.CPUs = n
	} else {
		slog.DebugContext(ctx, "controller: cpu probe failed", "error", err)
	}
	if vm, err := mem.VirtualMemoryWithContext(ctx); err == nil {
		meta.MemoryBytes = vm.Total
	} else {
		slog.DebugContext(ctx, "controller: memory probe failed", "error", err)
	}
	return meta
}
