package server

import (
	"expvar"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/mem"
)

// DefaultCollectorInterval is used when NewSystemCollector gets a non-positive interval.
const DefaultCollectorInterval = 15 * time.Second

// SystemCollector periodically samples host CPU, memory and data-directory
// disk usage and publishes them via expvar.
type SystemCollector struct {
	cpuUsagePercent *expvar.Float
	memUsagePercent *expvar.Float
	diskUsage       *expvar.Float
	diskPath        string
	interval        time.Duration
	stopChan        chan struct{}
	stopOnce        sync.Once
	wg              sync.WaitGroup
	logger          *slog.Logger
}

// NewSystemCollector creates a new collector publishing under prefix.
// diskPath should be the data directory.
func NewSystemCollector(prefix, diskPath string, interval time.Duration, logger *slog.Logger) *SystemCollector {
	if interval <= 0 {
		interval = DefaultCollectorInterval
	}
	return &SystemCollector{
		cpuUsagePercent: expvarFloat(prefix + "system_cpu_usage_percent"),
		memUsagePercent: expvarFloat(prefix + "system_mem_usage_percent"),
		diskUsage:       expvarFloat(prefix + "system_disk_usage_percent"),
		diskPath:        diskPath,
		interval:        interval,
		stopChan:        make(chan struct{}),
		logger:          logger.With("component", "SystemCollector"),
	}
}

// expvarFloat returns the published Float called name, creating it if needed.
func expvarFloat(name string) *expvar.Float {
	switch v := expvar.Get(name).(type) {
	case nil:
		return expvar.NewFloat(name)
	case *expvar.Float:
		return v
	default:
		panic(fmt.Sprintf("expvar: %s already published as %T", name, v))
	}
}

// Start begins the background collection loop.
func (sc *SystemCollector) Start() {
	sc.logger.Info("Starting system metrics collector", "interval", sc.interval)
	sc.wg.Add(1)
	go sc.collectLoop()
}

// Stop signals the collection loop to terminate and waits for it to finish.
func (sc *SystemCollector) Stop() {
	sc.stopOnce.Do(func() {
		sc.logger.Info("Stopping system metrics collector")
		close(sc.stopChan)
	})
	sc.wg.Wait()
}

// Collect takes one sample of every metric.
func (sc *SystemCollector) Collect() {
	// cpu.Percent blocks for the sample window, so keep it under the tick.
	window := sc.interval / 2
	if window > time.Second {
		window = time.Second
	}
	if cpuPercentages, err := cpu.Percent(window, false); err == nil && len(cpuPercentages) > 0 {
		sc.cpuUsagePercent.Set(cpuPercentages[0])
	} else if err != nil {
		sc.logger.Debug("CPU sample failed", "error", err)
	}

	if vm, err := mem.VirtualMemory(); err == nil {
		sc.memUsagePercent.Set(vm.UsedPercent)
	} else {
		sc.logger.Debug("Memory sample failed", "error", err)
	}

	if du, err := disk.Usage(sc.diskPath); err == nil {
		sc.diskUsage.Set(du.UsedPercent)
	} else {
		sc.logger.Debug("Disk sample failed", "path", sc.diskPath, "error", err)
	}
}

func (sc *SystemCollector) collectLoop() {
	defer sc.wg.Done()
	ticker := time.NewTicker(sc.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			sc.Collect()
		case <-sc.stopChan:
			return
		}
	}
}
