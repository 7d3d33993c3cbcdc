package daemon

import (
	"context"
	"os"

	"github.com/ccengram/ccengram/internal/embed"
)

func (r *Router) handlePing(ctx context.Context, p params) (any, error) {
	return map[string]bool{"pong": true}, nil
}

func (r *Router) handleStatus(ctx context.Context, p params) (any, error) {
	return map[string]any{
		"running":         true,
		"pid":             os.Getpid(),
		"uptime_seconds":  int(r.Uptime().Seconds()),
		"projects_loaded": len(r.registry.List()),
		"embedding_model": r.registry.Embedder().ModelID(),
	}, nil
}

func (r *Router) handleHealthCheck(ctx context.Context, p params) (any, error) {
	provider := r.registry.Embedder()

	var health *embed.Health
	if hr, ok := provider.(embed.HealthReporter); ok {
		h, err := hr.Health(ctx)
		if err == nil {
			health = h
		}
	}
	if health == nil {
		health = &embed.Health{
			Model:     provider.ModelID(),
			Available: provider.IsAvailable(ctx),
		}
	}

	return map[string]any{
		"healthy":       health.Available,
		"embedding":     health,
		"llm_available": r.llm != nil && r.llm.IsAvailable(ctx),
	}, nil
}

func (r *Router) handleMetrics(ctx context.Context, p params) (any, error) {
	families, err := r.promReg.Gather()
	if err != nil {
		return nil, err
	}

	out := map[string]any{}
	for _, family := range families {
		for _, metric := range family.GetMetric() {
			name := family.GetName()
			labels := metric.GetLabel()
			key := name
			for _, l := range labels {
				key += "{" + l.GetName() + "=" + l.GetValue() + "}"
			}
			switch {
			case metric.GetCounter() != nil:
				out[key] = metric.GetCounter().GetValue()
			case metric.GetGauge() != nil:
				out[key] = metric.GetGauge().GetValue()
			}
		}
	}
	return out, nil
}

func (r *Router) handleShutdown(ctx context.Context, p params) (any, error) {
	if r.shutdown != nil {
		go r.shutdown()
	}
	return map[string]bool{"shutting_down": true}, nil
}
