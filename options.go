package recorridos

import (
	"log/slog"

	"github.com/sendas-app/recorridos/internal/condition"
	"github.com/sendas-app/recorridos/internal/enricher"
	"github.com/sendas-app/recorridos/internal/eventschema"
)

// Option configures an App.
type Option func(*resolvedOptions)

// resolvedOptions holds all extension points after applying defaults.
// Unexported; callers use the With* functions.
type resolvedOptions struct {
	port           int
	databaseURL    string
	logger         *slog.Logger
	version        string
	enrichers      []enricher.StepEnricher
	conditionTypes map[string]condition.Strategy
	eventTypes     []eventschema.EventType
}

// WithPort overrides the TCP port from config (RECORRIDOS_PORT env var).
func WithPort(port int) Option {
	return func(o *resolvedOptions) { o.port = port }
}

// WithDatabaseURL overrides the Postgres connection string from config
// (DATABASE_URL env var). It is also used for LISTEN/NOTIFY.
func WithDatabaseURL(url string) Option {
	return func(o *resolvedOptions) { o.databaseURL = url }
}

// WithLogger sets the structured logger for the App.
// If not set, the default slog logger is used.
func WithLogger(logger *slog.Logger) Option {
	return func(o *resolvedOptions) { o.logger = logger }
}

// WithVersion sets the version string reported in the health endpoint and logs.
func WithVersion(version string) Option {
	return func(o *resolvedOptions) { o.version = version }
}

// WithStepEnricher registers a step enricher after the built-in ones.
// Enrichers run in registration order.
func WithStepEnricher(e StepEnricher) Option {
	return func(o *resolvedOptions) { o.enrichers = append(o.enrichers, e) }
}

// WithConditionType registers an edge condition strategy under typeName.
// A built-in type of the same name is replaced.
func WithConditionType(typeName string, s ConditionStrategy) Option {
	return func(o *resolvedOptions) {
		if o.conditionTypes == nil {
			o.conditionTypes = make(map[string]condition.Strategy)
		}
		o.conditionTypes[typeName] = s
	}
}

// WithEventType registers an additional event type with its payload schema
// and retention.
func WithEventType(et EventType) Option {
	return func(o *resolvedOptions) { o.eventTypes = append(o.eventTypes, et) }
}
