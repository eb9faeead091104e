package server

import (
	"encoding/json"
	"net/http"
	"runtime"
	"strconv"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/fintelcore/fintel/internal/domain"
	"github.com/fintelcore/fintel/internal/marketdata"
)

// handleHealth handles health check requests
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":  "healthy",
		"service": "fintel",
	})
}

// handleSystemStatus reports process and host health.
func (s *Server) handleSystemStatus(w http.ResponseWriter, r *http.Request) {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	response := map[string]interface{}{
		"status":         "running",
		"uptime_seconds": int(time.Since(s.startupTime).Seconds()),
		"queue_depth":    s.engine.QueueDepth(),
		"goroutines":     runtime.NumGoroutine(),
		"memory": map[string]interface{}{
			"alloc_mb":       m.Alloc / 1024 / 1024,
			"total_alloc_mb": m.TotalAlloc / 1024 / 1024,
			"sys_mb":         m.Sys / 1024 / 1024,
			"num_gc":         m.NumGC,
		},
	}

	if vm, err := mem.VirtualMemory(); err == nil {
		response["host_memory"] = map[string]interface{}{
			"total_mb":     vm.Total / 1024 / 1024,
			"used_percent": vm.UsedPercent,
		}
	}
	if percents, err := cpu.Percent(0, false); err == nil && len(percents) > 0 {
		response["host_cpu_percent"] = percents[0]
	}

	s.writeJSON(w, http.StatusOK, response)
}

// handleMetrics returns the market-data collector snapshot.
func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	collector := s.market.Metrics()
	if collector == nil {
		s.writeError(w, http.StatusNotFound, "metrics collection is disabled")
		return
	}
	s.writeJSON(w, http.StatusOK, collector.Snapshot())
}

// handleMetricsCalls returns filtered recent call records.
func (s *Server) handleMetricsCalls(w http.ResponseWriter, r *http.Request) {
	collector := s.market.Metrics()
	if collector == nil {
		s.writeError(w, http.StatusNotFound, "metrics collection is disabled")
		return
	}

	q := r.URL.Query()
	filter := marketdata.RecentCallsFilter{
		DataType:   domain.DataType(q.Get("data_type")),
		Provider:   q.Get("provider"),
		Symbol:     q.Get("symbol"),
		ErrorsOnly: q.Get("errors_only") == "true",
		Limit:      50,
	}
	if v := q.Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			filter.Limit = n
		}
	}

	calls := collector.RecentCalls(filter)
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"calls": calls,
		"count": len(calls),
	})
}

// handleProviderStatus returns per-adapter health snapshots.
func (s *Server) handleProviderStatus(w http.ResponseWriter, r *http.Request) {
	response := map[string]interface{}{
		"providers": s.market.GetProviderStatus(),
	}
	if collector := s.market.Metrics(); collector != nil {
		response["health"] = collector.ProviderHealth()
	}
	s.writeJSON(w, http.StatusOK, response)
}

// handleCacheClear empties the in-memory market-data cache.
func (s *Server) handleCacheClear(w http.ResponseWriter, r *http.Request) {
	s.market.ClearCache()
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "cleared"})
}

// writeJSON writes a JSON response
func (s *Server) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.log.Error().Err(err).Msg("Failed to encode JSON response")
	}
}

// writeError writes an error response
func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{
		"error": message,
	})
}
