package agent

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/load"
	"github.com/shirou/gopsutil/v3/mem"
	"github.com/shirou/gopsutil/v3/net"
	"go.uber.org/zap"
)

// Sampler produces the metric part of a report.
type Sampler interface {
	Collect(ctx context.Context, withStatic bool) (*Report, error)
}

// MetricsCollector samples the host with gopsutil. Network speeds are derived from the
// byte counters of the previous call, so the first sample carries totals only.
type MetricsCollector struct {
	diskPath string
	clock    clock.Clock
	logger   *zap.Logger

	lastAt   time.Time
	lastSent uint64
	lastRecv uint64
}

func NewMetricsCollector(diskPath string, clk clock.Clock, logger *zap.Logger) *MetricsCollector {
	if diskPath == "" {
		diskPath = "/"
	}
	if clk == nil {
		clk = clock.New()
	}
	return &MetricsCollector{diskPath: diskPath, clock: clk, logger: logger.Named("sampler")}
}

// Collect takes one sample. Individual probes that fail are logged and left empty; only
// a failure of every probe is an error.
func (mc *MetricsCollector) Collect(ctx context.Context, withStatic bool) (*Report, error) {
	r := &Report{}
	var failed []string
	probe := func(name string, err error) {
		if err != nil {
			failed = append(failed, name)
			mc.logger.Debug("probe failed", zap.String("probe", name), zap.Error(err))
		}
	}

	probe("cpu", mc.collectCPU(ctx, r))

	if vm, err := mem.VirtualMemoryWithContext(ctx); err == nil {
		r.MemUsagePercent = &vm.UsedPercent
	} else {
		probe("memory", err)
	}

	if du, err := disk.UsageWithContext(ctx, mc.diskPath); err == nil {
		r.DiskUsagePercent = &du.UsedPercent
	} else {
		probe("disk", err)
	}

	if info, err := host.InfoWithContext(ctx); err == nil {
		r.Uptime = i64(info.Uptime)
		r.Processes = i64(info.Procs)
	} else {
		probe("host", err)
	}

	if avg, err := load.AvgWithContext(ctx); err == nil {
		r.LoadAvg = &avg.Load1
	} else {
		probe("load", err)
	}

	probe("network", mc.collectNet(ctx, r))

	if conns, err := net.ConnectionsWithContext(ctx, "tcp"); err == nil {
		n := int64(len(conns))
		r.Connections = &n
	} else {
		probe("connections", err)
	}

	if len(failed) == 7 {
		return nil, fmt.Errorf("all probes failed: %s", strings.Join(failed, ", "))
	}

	if withStatic {
		info, err := mc.collectStatic(ctx)
		if err != nil {
			return nil, fmt.Errorf("collect static info: %w", err)
		}
		r.StaticInfo = info
	}
	return r, nil
}

func (mc *MetricsCollector) collectCPU(ctx context.Context, r *Report) error {
	pct, err := cpu.PercentWithContext(ctx, time.Second, false)
	if err != nil {
		return err
	}
	if len(pct) > 0 {
		r.CPUUsage = &pct[0]
	}
	return nil
}

func (mc *MetricsCollector) collectNet(ctx context.Context, r *Report) error {
	counters, err := net.IOCountersWithContext(ctx, false)
	if err != nil {
		return err
	}
	if len(counters) == 0 {
		return fmt.Errorf("no network counters")
	}

	now := mc.clock.Now()
	sent, recv := counters[0].BytesSent, counters[0].BytesRecv
	r.TotalUp = i64(sent)
	r.TotalDown = i64(recv)

	if !mc.lastAt.IsZero() {
		elapsed := now.Sub(mc.lastAt)
		r.NetUpSpeed = rate(mc.lastSent, sent, elapsed)
		r.NetDownSpeed = rate(mc.lastRecv, recv, elapsed)
	}
	mc.lastAt, mc.lastSent, mc.lastRecv = now, sent, recv
	return nil
}

func (mc *MetricsCollector) collectStatic(ctx context.Context) (*StaticInfo, error) {
	info := &StaticInfo{}

	cores, err := cpu.CountsWithContext(ctx, true)
	if err != nil {
		return nil, fmt.Errorf("get cpu cores: %w", err)
	}
	info.CPUCores = i64(uint64(cores))

	if cpus, err := cpu.InfoWithContext(ctx); err == nil && len(cpus) > 0 {
		model := strings.TrimSpace(cpus[0].ModelName)
		info.CPUModel = &model
	}

	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("get memory info: %w", err)
	}
	info.MemTotalBytes = i64(vm.Total)

	du, err := disk.UsageWithContext(ctx, mc.diskPath)
	if err != nil {
		return nil, fmt.Errorf("get disk info: %w", err)
	}
	info.DiskTotalBytes = i64(du.Total)

	if hi, err := host.InfoWithContext(ctx); err == nil {
		system := strings.TrimSpace(hi.Platform + " " + hi.PlatformVersion)
		if system == "" {
			system = hi.OS
		}
		info.System = &system
		info.Arch = &hi.KernelArch
	}
	return info, nil
}

// rate returns bytes per second between two counter readings. A counter that went
// backwards was reset and yields no value.
func rate(prev, cur uint64, elapsed time.Duration) *int64 {
	if cur < prev || elapsed <= 0 {
		return nil
	}
	v := int64(float64(cur-prev) / elapsed.Seconds())
	return &v
}

func i64(v uint64) *int64 {
	n := int64(v)
	return &n
}
