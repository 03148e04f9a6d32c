package logger

import (
	"context"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
	gnet "github.com/shirou/gopsutil/v3/net"
)

type componentStat struct {
	warns  int64
	errors int64
}

var (
	fetchCount        int64
	listingsSeen      int64
	announcements     int64
	deliveryFailures  int64
	componentCounters sync.Map // map[string]*componentStat
)

// reportCounters maps published metric names to report fields.
var reportCounters = map[string]string{
	"Fetches":          "fetches",
	"ListingsSeen":     "listings_seen",
	"Announcements":    "announcements",
	"DeliveryFailures": "delivery_failures",
}

func componentCounter(component string) *componentStat {
	v, _ := componentCounters.LoadOrStore(component, &componentStat{})
	return v.(*componentStat)
}

func recordWarn(component string) {
	atomic.AddInt64(&componentCounter(component).warns, 1)
}

func recordError(component string) {
	atomic.AddInt64(&componentCounter(component).errors, 1)
}

func IncrementFetch() {
	atomic.AddInt64(&fetchCount, 1)
}

func AddListingsSeen(n int) {
	atomic.AddInt64(&listingsSeen, int64(n))
}

func IncrementAnnouncement() {
	atomic.AddInt64(&announcements, 1)
}

func IncrementDeliveryFailure() {
	atomic.AddInt64(&deliveryFailures, 1)
}

// StartReport logs a runtime report every interval until ctx is cancelled.
func StartReport(ctx context.Context, log *Log, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				logReport(ctx, log)
			}
		}
	}()
}

func reportFields() Fields {
	components := map[string]map[string]int64{}
	componentCounters.Range(func(k, v any) bool {
		cs := v.(*componentStat)
		components[k.(string)] = map[string]int64{
			"warns":  atomic.LoadInt64(&cs.warns),
			"errors": atomic.LoadInt64(&cs.errors),
		}
		return true
	})
	return Fields{
		"fetches":           atomic.LoadInt64(&fetchCount),
		"listings_seen":     atomic.LoadInt64(&listingsSeen),
		"announcements":     atomic.LoadInt64(&announcements),
		"delivery_failures": atomic.LoadInt64(&deliveryFailures),
		"goroutines":        runtime.NumGoroutine(),
		"components":        components,
	}
}

func logReport(ctx context.Context, log *Log) {
	fields := reportFields()

	cpuPct := 0.0
	if pct, err := cpu.Percent(0, false); err == nil && len(pct) > 0 {
		cpuPct = pct[0]
	}
	memMB := 0.0
	if vm, err := mem.VirtualMemory(); err == nil {
		memMB = float64(vm.Used) / 1024 / 1024
	}
	var sent, recv uint64
	if io, err := gnet.IOCounters(false); err == nil && len(io) > 0 {
		sent, recv = io[0].BytesSent, io[0].BytesRecv
	}
	fields["cpu_percent"] = cpuPct
	fields["memory_mb"] = int64(memMB)
	fields["net_bytes_sent"] = int64(sent)
	fields["net_bytes_recv"] = int64(recv)

	log.WithComponent("report").WithFields(fields).Info("runtime report")

	emitMetric(ctx, "report", "CPUPercent", "percent", cpuPct, nil)
	emitMetric(ctx, "report", "MemoryMB", "megabytes", memMB, nil)
	for name, key := range reportCounters {
		if v, ok := fields[key].(int64); ok {
			emitMetric(ctx, "report", name, "count", float64(v), nil)
		}
	}
}
