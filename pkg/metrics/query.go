package metrics

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/api"
	v1 "github.com/prometheus/client_golang/api/prometheus/v1"
	"github.com/prometheus/common/model"
)

// DependencyStats aggregates call outcomes for one dependency.
type DependencyStats struct {
	Dependency string             `json:"dependency"`
	Outcomes   map[string]float64 `json:"outcomes"`
	Retries    float64            `json:"retries"`
	State      string             `json:"state"`
}

// Stats is the aggregated view served by the stats command.
type Stats struct {
	Orchestrations map[string]float64          `json:"orchestrations"` // by outcome
	Intents        map[string]float64          `json:"intents"`        // by intent
	Dependencies   map[string]*DependencyStats `json:"dependencies"`
}

// QueryService provides methods to query pipeline metrics from Prometheus.
type QueryService struct {
	client   api.Client
	queryAPI v1.API
}

// NewQueryService creates a new metrics query service.
func NewQueryService(prometheusURL string) (*QueryService, error) {
	client, err := api.NewClient(api.Config{
		Address: prometheusURL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Prometheus client: %w", err)
	}

	return &QueryService{
		client:   client,
		queryAPI: v1.NewAPI(client),
	}, nil
}

// GetStats retrieves outcome totals for orchestrations and dependency calls.
func (q *QueryService) GetStats(ctx context.Context) (*Stats, error) {
	stats := &Stats{
		Orchestrations: make(map[string]float64),
		Intents:        make(map[string]float64),
		Dependencies:   make(map[string]*DependencyStats),
	}

	byOutcome, err := q.vector(ctx, fmt.Sprintf(`sum by (outcome) (%s)`, MetricOrchestrationsTotal))
	if err != nil {
		return nil, fmt.Errorf("failed to query orchestration outcomes: %w", err)
	}
	for _, sample := range byOutcome {
		stats.Orchestrations[string(sample.Metric["outcome"])] = float64(sample.Value)
	}

	byIntent, err := q.vector(ctx, fmt.Sprintf(`sum by (intent) (%s)`, MetricOrchestrationsTotal))
	if err != nil {
		return nil, fmt.Errorf("failed to query intents: %w", err)
	}
	for _, sample := range byIntent {
		stats.Intents[string(sample.Metric["intent"])] = float64(sample.Value)
	}

	calls, err := q.vector(ctx, fmt.Sprintf(`sum by (dependency, outcome) (%s)`, MetricCallsTotal))
	if err != nil {
		return nil, fmt.Errorf("failed to query dependency calls: %w", err)
	}
	for _, sample := range calls {
		dep := stats.dependency(string(sample.Metric["dependency"]))
		dep.Outcomes[string(sample.Metric["outcome"])] = float64(sample.Value)
	}

	retries, err := q.vector(ctx, fmt.Sprintf(`sum by (dependency) (%s)`, MetricRetriesTotal))
	if err != nil {
		return nil, fmt.Errorf("failed to query retries: %w", err)
	}
	for _, sample := range retries {
		stats.dependency(string(sample.Metric["dependency"])).Retries = float64(sample.Value)
	}

	states, err := q.vector(ctx, MetricCircuitState)
	if err != nil {
		return nil, fmt.Errorf("failed to query circuit state: %w", err)
	}
	for _, sample := range states {
		stats.dependency(string(sample.Metric["dependency"])).State = stateName(float64(sample.Value))
	}

	return stats, nil
}

func (s *Stats) dependency(name string) *DependencyStats {
	dep, ok := s.Dependencies[name]
	if !ok {
		dep = &DependencyStats{Dependency: name, Outcomes: make(map[string]float64)}
		s.Dependencies[name] = dep
	}
	return dep
}

func (q *QueryService) vector(ctx context.Context, query string) (model.Vector, error) {
	result, _, err := q.queryAPI.Query(ctx, query, time.Now())
	if err != nil {
		return nil, err //nolint:wrapcheck // callers add query context
	}
	vector, ok := result.(model.Vector)
	if !ok {
		return nil, nil
	}
	return vector, nil
}

func stateName(v float64) string {
	switch v {
	case 0:
		return "closed"
	case 1:
		return "open"
	case 2:
		return "half_open"
	default:
		return "unknown"
	}
}
