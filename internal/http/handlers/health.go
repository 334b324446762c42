// Package handlers provides the HTTP handlers for video-streamer.
package handlers

import (
	"context"
	"os"
	"runtime"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/shirou/gopsutil/v3/load"
	"github.com/shirou/gopsutil/v3/mem"
	"github.com/shirou/gopsutil/v3/process"
)

// Pinger checks a dependency is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// SessionCounter reports live streaming sessions.
type SessionCounter interface {
	Count() int
}

// HealthHandler handles the health check endpoint.
type HealthHandler struct {
	version   string
	startTime time.Time
	sessions  SessionCounter
	db        Pinger
}

// NewHealthHandler creates a new health handler.
func NewHealthHandler(version string, sessions SessionCounter) *HealthHandler {
	return &HealthHandler{
		version:   version,
		startTime: time.Now(),
		sessions:  sessions,
	}
}

// WithDB sets the database checked by the health endpoint.
func (h *HealthHandler) WithDB(db Pinger) *HealthHandler {
	h.db = db
	return h
}

// HealthInput is the input for the health check endpoint.
type HealthInput struct{}

// HealthOutput is the output for the health check endpoint.
type HealthOutput struct {
	Body HealthResponse
}

// HealthResponse describes service health.
type HealthResponse struct {
	Status         string            `json:"status"`
	Timestamp      string            `json:"timestamp"`
	Version        string            `json:"version"`
	Uptime         string            `json:"uptime"`
	UptimeSeconds  float64           `json:"uptime_seconds"`
	ActiveSessions int               `json:"active_sessions"`
	CPU            CPUInfo           `json:"cpu"`
	Memory         MemoryInfo        `json:"memory"`
	Checks         map[string]string `json:"checks"`
}

// CPUInfo holds load averages.
type CPUInfo struct {
	Cores              int     `json:"cores"`
	Load1Min           float64 `json:"load_1min"`
	Load5Min           float64 `json:"load_5min"`
	Load15Min          float64 `json:"load_15min"`
	LoadPercentage1Min float64 `json:"load_percentage_1min"`
}

// MemoryInfo holds system and process memory usage.
type MemoryInfo struct {
	TotalMB     float64 `json:"total_mb"`
	UsedMB      float64 `json:"used_mb"`
	AvailableMB float64 `json:"available_mb"`
	ProcessMB   float64 `json:"process_mb"`
	Goroutines  int     `json:"goroutines"`
}

// Register registers the health route.
func (h *HealthHandler) Register(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "getHealth",
		Method:      "GET",
		Path:        "/api/v1/health",
		Summary:     "Health check",
		Description: "Returns service status, active stream sessions and system metrics",
		Tags:        []string{"System"},
	}, h.GetHealth)
}

// GetHealth returns the health status of the service.
func (h *HealthHandler) GetHealth(ctx context.Context, _ *HealthInput) (*HealthOutput, error) {
	now := time.Now()
	uptime := now.Sub(h.startTime)

	status := "healthy"
	checks := map[string]string{"database": "not_configured"}
	if h.db != nil {
		pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		defer cancel()
		if err := h.db.Ping(pingCtx); err != nil {
			checks["database"] = "error: " + err.Error()
			status = "degraded"
		} else {
			checks["database"] = "ok"
		}
	}

	active := 0
	if h.sessions != nil {
		active = h.sessions.Count()
	}

	return &HealthOutput{
		Body: HealthResponse{
			Status:         status,
			Timestamp:      now.UTC().Format(time.RFC3339),
			Version:        h.version,
			Uptime:         uptime.Round(time.Second).String(),
			UptimeSeconds:  uptime.Seconds(),
			ActiveSessions: active,
			CPU:            cpuInfo(),
			Memory:         memoryInfo(),
			Checks:         checks,
		},
	}, nil
}

func cpuInfo() CPUInfo {
	info := CPUInfo{Cores: runtime.NumCPU()}
	if avg, err := load.Avg(); err == nil && avg != nil {
		info.Load1Min = avg.Load1
		info.Load5Min = avg.Load5
		info.Load15Min = avg.Load15
		if info.Cores > 0 {
			info.LoadPercentage1Min = avg.Load1 / float64(info.Cores) * 100
		}
	}
	return info
}

func memoryInfo() MemoryInfo {
	const mb = 1024 * 1024
	info := MemoryInfo{Goroutines: runtime.NumGoroutine()}
	if vm, err := mem.VirtualMemory(); err == nil && vm != nil {
		info.TotalMB = float64(vm.Total) / mb
		info.UsedMB = float64(vm.Used) / mb
		info.AvailableMB = float64(vm.Available) / mb
	}
	if proc, err := process.NewProcess(int32(os.Getpid())); err == nil {
		if m, err := proc.MemoryInfo(); err == nil && m != nil {
			info.ProcessMB = float64(m.RSS) / mb
		}
	}
	return info
}
