package api

import (
	"context"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/dustin/go-humanize"
	"github.com/shirou/gopsutil/v4/mem"

	"github.com/xlegames/forge/internal/historydb"
)

// HealthView reports process liveness and the history database's
// reachability.
type HealthView struct {
	version   string
	startedAt time.Time
	history   *historydb.Repo
}

// NewHealthView builds a HealthView. history may be nil if build-history
// recording is disabled.
func NewHealthView(version string, history *historydb.Repo) *HealthView {
	return &HealthView{version: version, startedAt: time.Now(), history: history}
}

type healthInput struct{}

type healthOutput struct {
	Body HealthResponse
}

// HealthResponse reports process-level health.
type HealthResponse struct {
	Status        string  `json:"status" doc:"ok or degraded"`
	Version       string  `json:"version"`
	UptimeSeconds float64 `json:"uptime_seconds"`
	HistoryDB     string  `json:"historydb" doc:"ok, not_configured, or unreachable"`
	MemoryUsedPct float64 `json:"memory_used_percent,omitempty"`
	MemoryUsed    string  `json:"memory_used,omitempty" doc:"human-readable system-wide memory in use"`
}

// Register adds the health route to api.
func (v *HealthView) Register(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "getHealth",
		Method:      "GET",
		Path:        "/health",
		Summary:     "Health check",
		Tags:        []string{"System"},
	}, v.getHealth)
}

func (v *HealthView) getHealth(ctx context.Context, _ *healthInput) (*healthOutput, error) {
	status := "ok"
	dbStatus := "not_configured"
	if v.history != nil {
		if _, _, err := v.history.FailureRate(ctx, "", time.Minute); err != nil {
			dbStatus = "unreachable"
			status = "degraded"
		} else {
			dbStatus = "ok"
		}
	}

	var memPct float64
	var memUsed string
	if vm, err := mem.VirtualMemoryWithContext(ctx); err == nil {
		memPct = vm.UsedPercent
		memUsed = humanize.Bytes(vm.Used)
	}

	return &healthOutput{Body: HealthResponse{
		Status:        status,
		Version:       v.version,
		UptimeSeconds: time.Since(v.startedAt).Seconds(),
		HistoryDB:     dbStatus,
		MemoryUsedPct: memPct,
		MemoryUsed:    memUsed,
	}}, nil
}
