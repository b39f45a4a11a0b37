package health

import (
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	apperrors "github.com/swotplanner/backend/internal/errors"
)

// Status represents the health status of a component
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusUnhealthy Status = "unhealthy"
	StatusDegraded  Status = "degraded"
)

// ComponentHealth represents the health of a single component
type ComponentHealth struct {
	Status   Status `json:"status"`
	Message  string `json:"message,omitempty"`
	Duration string `json:"duration,omitempty"`
}

// Report is the body of a health response.
type Report struct {
	Status     Status                     `json:"status"`
	Timestamp  string                     `json:"timestamp"`
	Version    string                     `json:"version,omitempty"`
	Components map[string]ComponentHealth `json:"components,omitempty"`
}

// component is one dependency probe. A failing required component makes the
// service unhealthy; an optional one only degrades it.
type component struct {
	name     string
	required bool
	ping     func(ctx context.Context) error
}

// Checker probes the database and the optional Redis and object storage.
type Checker struct {
	components   []component
	version      string
	checkTimeout time.Duration
}

// CheckerConfig holds configuration for the health checker
type CheckerConfig struct {
	DB           *sql.DB
	Redis        redis.Cmdable
	StorageCheck func(ctx context.Context) error
	Version      string
	Timeout      time.Duration
}

// NewChecker creates a new health checker. Nil optional dependencies are
// left out of the report.
func NewChecker(cfg *CheckerConfig) *Checker {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 5 * time.Second
	}

	c := &Checker{version: cfg.Version, checkTimeout: timeout}
	if cfg.DB != nil {
		db := cfg.DB
		c.components = append(c.components, component{name: "database", required: true, ping: func(ctx context.Context) error {
			var one int
			return db.QueryRowContext(ctx, "SELECT 1").Scan(&one)
		}})
	}
	if cfg.Redis != nil {
		rdb := cfg.Redis
		c.components = append(c.components, component{name: "redis", ping: func(ctx context.Context) error {
			return rdb.Ping(ctx).Err()
		}})
	}
	if cfg.StorageCheck != nil {
		c.components = append(c.components, component{name: "storage", ping: cfg.StorageCheck})
	}
	return c
}

func (c *Checker) probe(ctx context.Context, comp component) ComponentHealth {
	start := time.Now()
	ctx, cancel := context.WithTimeout(ctx, c.checkTimeout)
	defer cancel()

	if err := comp.ping(ctx); err != nil {
		status := StatusDegraded
		if comp.required {
			status = StatusUnhealthy
		}
		return ComponentHealth{
			Status:   status,
			Message:  comp.name + " check failed",
			Duration: time.Since(start).String(),
		}
	}

	return ComponentHealth{
		Status:   StatusHealthy,
		Duration: time.Since(start).String(),
	}
}

// Check runs every probe in parallel and folds the results.
func (c *Checker) Check(ctx context.Context) *Report {
	report := &Report{
		Status:     StatusHealthy,
		Timestamp:  time.Now().UTC().Format(time.RFC3339),
		Version:    c.version,
		Components: make(map[string]ComponentHealth, len(c.components)),
	}

	var wg sync.WaitGroup
	var mu sync.Mutex
	for _, comp := range c.components {
		wg.Add(1)
		go func(comp component) {
			defer wg.Done()
			result := c.probe(ctx, comp)
			mu.Lock()
			report.Components[comp.name] = result
			mu.Unlock()
		}(comp)
	}
	wg.Wait()

	for _, comp := range report.Components {
		if comp.Status == StatusUnhealthy {
			report.Status = StatusUnhealthy
			break
		} else if comp.Status == StatusDegraded {
			report.Status = StatusDegraded
		}
	}

	return report
}

// Handler serves GET /health. Unhealthy answers 503; degraded still answers 200.
func (c *Checker) Handler(w http.ResponseWriter, r *http.Request) {
	report := c.Check(r.Context())

	status := http.StatusOK
	if report.Status == StatusUnhealthy {
		status = http.StatusServiceUnavailable
	}

	w.Header().Set("Content-Type", "application/json")
	if requestID := apperrors.GetRequestID(r.Context()); requestID != "" {
		w.Header().Set(apperrors.RequestIDHeader, requestID)
	}
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(apperrors.Envelope{
		Success: report.Status != StatusUnhealthy,
		Message: "Service is " + string(report.Status),
		Data:    report,
	})
}
