package health

import "context"

// DBPinger checks database availability.
type DBPinger interface {
	Ping(ctx context.Context) error
}

// AssistantChecker checks assistant service availability.
type AssistantChecker interface {
	HealthCheck(ctx context.Context) error
}
