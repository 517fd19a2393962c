package server

import (
	"os"
	"runtime"
	"time"

	"github.com/shirou/gopsutil/v3/process"

	"github.com/Mizuir0/live-reaction-system/internal/logging"
	"github.com/Mizuir0/live-reaction-system/internal/metrics"
)

// monitorSystem samples process CPU and memory on a 15 s ticker and feeds
// both the Prometheus gauges and the health endpoint snapshot.
func (s *Server) monitorSystem() {
	defer s.wg.Done()
	defer logging.RecoverPanic(s.logger, "monitorSystem", nil)

	proc, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		s.logger.Warn().Err(err).Msg("System monitor disabled, cannot inspect own process")
		return
	}

	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			var cpuPercent float64
			if v, err := proc.CPUPercent(); err == nil {
				cpuPercent = v
			}

			var rss uint64
			if memInfo, err := proc.MemoryInfo(); err == nil {
				rss = memInfo.RSS
			}

			s.sysMu.Lock()
			s.cpuPercent = cpuPercent
			s.memoryMB = float64(rss) / 1024 / 1024
			s.sysMu.Unlock()

			metrics.UpdateSystemMetrics(cpuPercent, rss, runtime.NumGoroutine())
		}
	}
}
