package services

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/worldloom/loom/pkg/config"
	"github.com/worldloom/loom/pkg/memory"
	"github.com/worldloom/loom/pkg/providers"
	"github.com/worldloom/loom/pkg/store"
)

// DebugService exposes the runtime settings to the debug API and applies
// the side effects a successful patch implies: log level, provider rate
// limit, and a rebuilt memory collaborator.
type DebugService struct {
	runtime    *config.Runtime
	level      *slog.LevelVar
	registry   *providers.Registry
	sim        *Simulation
	store      *store.Store
	httpClient *http.Client
}

// NewDebugService creates a new DebugService.
func NewDebugService(runtime *config.Runtime, level *slog.LevelVar, registry *providers.Registry, sim *Simulation, st *store.Store, httpClient *http.Client) *DebugService {
	return &DebugService{
		runtime:    runtime,
		level:      level,
		registry:   registry,
		sim:        sim,
		store:      st,
		httpClient: httpClient,
	}
}

// View returns the patchable settings with secrets redacted.
func (d *DebugService) View() map[string]any {
	return d.runtime.View()
}

// Patch validates and applies the updates, then propagates them to the
// live components that cache derived state. Dice and window settings need
// no propagation; rounds read the snapshot fresh each time.
func (d *DebugService) Patch(updates map[string]any, persist bool) (map[string]any, error) {
	changed, err := d.runtime.Patch(updates, persist)
	if err != nil {
		return nil, err
	}

	snap := d.runtime.Snapshot()
	rebuildMemory := false
	for _, alias := range changed {
		switch {
		case alias == "log_level":
			d.level.Set(snap.LogLevel)
		case alias == "provider_rate_limit_rps":
			d.registry.SetRateLimit(snap.ProviderRateLimitRPS)
		case strings.HasPrefix(alias, "memory_") || strings.HasPrefix(alias, "embed_"):
			rebuildMemory = true
		}
	}
	if rebuildMemory {
		d.sim.SetMemoryService(memory.NewService(d.store, d.httpClient, snap.Memory))
		slog.Info("Memory service rebuilt from runtime settings", "mode", snap.Memory.Mode)
	}
	return d.runtime.View(), nil
}
