// Package store persists completed assessment records.
//
// Four backends share one interface: an in-memory map for development and
// tests, PostgreSQL for self-hosted deployments, Cloud Spanner for managed
// deployments, and Supabase (PostgREST) for hosted Postgres. Records are
// keyed by task id and upserted, so replaying a task never duplicates rows.
package store

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/vigilsec/riskengine/internal/risk"
)

// ErrTaskNotFound is returned when no record exists for a task id.
var ErrTaskNotFound = errors.New("store: task not found")

// AssessmentRecord is the persisted outcome of one assessed event.
type AssessmentRecord struct {
	TaskID          string                `json:"task_id"`
	Identity        risk.IdentityContext  `json:"identity"`
	Event           risk.ActivityEvent    `json:"event"`
	PrivilegeChange *risk.PrivilegeChange `json:"privilege_change,omitempty"`
	Assessment      *risk.RiskAssessment  `json:"assessment"`
	CreatedAt       time.Time             `json:"created_at"`
}

// AssessmentStore defines the interface for any assessment record backend.
type AssessmentStore interface {
	Save(ctx context.Context, rec *AssessmentRecord) error
	GetByTaskID(ctx context.Context, taskID string) (*AssessmentRecord, error)
	ListByUser(ctx context.Context, userID string, limit int) ([]*AssessmentRecord, error)
	Close() error
}

// Config selects and parameterizes a backend.
type Config struct {
	Backend  string // "memory", "postgres", "spanner" or "supabase"
	URI      string // postgres DSN
	Database string // logical database name, defaults to "suspicious_activity"

	SpannerProject  string
	SpannerInstance string
	SpannerDatabase string

	SupabaseURL string
	SupabaseKey string
}

// New creates the appropriate store based on configuration. Cloud backends
// fall back to their conventional environment variables when the dedicated
// fields are empty.
func New(config Config) (AssessmentStore, error) {
	switch config.Backend {
	case "postgres":
		if config.URI == "" {
			return nil, fmt.Errorf("postgres backend requires a connection URI")
		}
		return NewPostgresStore(config.URI)

	case "spanner":
		project := firstNonEmpty(config.SpannerProject, os.Getenv("SPANNER_PROJECT_ID"))
		instance := firstNonEmpty(config.SpannerInstance, os.Getenv("SPANNER_INSTANCE_ID"))
		database := firstNonEmpty(config.SpannerDatabase, os.Getenv("SPANNER_DATABASE_ID"), config.Database)
		if project == "" || instance == "" || database == "" {
			return nil, fmt.Errorf("spanner configuration incomplete")
		}
		return NewSpannerStore(project, instance, database)

	case "supabase":
		url := firstNonEmpty(config.SupabaseURL, os.Getenv("SUPABASE_URL"))
		key := firstNonEmpty(config.SupabaseKey, os.Getenv("SUPABASE_SERVICE_KEY"))
		if url == "" || key == "" {
			return nil, fmt.Errorf("supabase backend requires SUPABASE_URL and SUPABASE_SERVICE_KEY")
		}
		return NewSupabaseStore(url, key)

	case "memory", "":
		// Default for local development
		return NewMemoryStore(), nil

	default:
		return nil, fmt.Errorf("unknown store backend: %s", config.Backend)
	}
}

// NewStoreFromEnv creates a store from environment variables.
func NewStoreFromEnv() (AssessmentStore, error) {
	database := os.Getenv("ASSESSMENT_STORE_DATABASE")
	if database == "" {
		database = "suspicious_activity"
	}

	config := Config{
		Backend:  os.Getenv("ASSESSMENT_STORE_BACKEND"),
		URI:      os.Getenv("ASSESSMENT_STORE_URI"),
		Database: database,
	}

	return New(config)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
