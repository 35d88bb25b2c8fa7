// Package health runs diagnostic checks against kahani's components: the
// story store, the suggestion service and the local directories.
//
// A failing critical component makes the overall status unhealthy. A
// failing optional one only degrades it: without the suggestion service
// every word still falls back to the typed Latin text.
package health

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"kahani/internal/store"
)

// Status represents the health status of a component.
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusDegraded  Status = "degraded"
	StatusUnhealthy Status = "unhealthy"
	StatusUnknown   Status = "unknown"
)

// CheckResult represents the result of a health check.
type CheckResult struct {
	Name     string        `json:"name"`
	Status   Status        `json:"status"`
	Message  string        `json:"message,omitempty"`
	Error    string        `json:"error,omitempty"`
	Duration time.Duration `json:"duration_ns"`
}

// Check is a function that performs a health check.
type Check func(ctx context.Context) CheckResult

// Component represents a health-checkable component.
type Component struct {
	Name     string
	Critical bool // failure makes the overall status unhealthy
	Check    Check
	Timeout  time.Duration
}

// Checker manages health checks.
type Checker struct {
	mu         sync.RWMutex
	components []*Component
	results    map[string]CheckResult
}

// NewChecker creates a new Checker.
func NewChecker() *Checker {
	return &Checker{results: make(map[string]CheckResult)}
}

// Register adds a component. Results are reported in registration order.
func (c *Checker) Register(name string, critical bool, check Check) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.components = append(c.components, &Component{
		Name:     name,
		Critical: critical,
		Check:    check,
		Timeout:  5 * time.Second,
	})
	c.results[name] = CheckResult{Name: name, Status: StatusUnknown}
}

// Check runs every registered check and returns the results in
// registration order.
func (c *Checker) Check(ctx context.Context) []CheckResult {
	c.mu.RLock()
	components := append([]*Component(nil), c.components...)
	c.mu.RUnlock()

	results := make([]CheckResult, len(components))
	var wg sync.WaitGroup
	for i, comp := range components {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i] = run(ctx, comp)
		}()
	}
	wg.Wait()

	c.mu.Lock()
	for _, r := range results {
		c.results[r.Name] = r
	}
	c.mu.Unlock()
	return results
}

func run(ctx context.Context, comp *Component) CheckResult {
	ctx, cancel := context.WithTimeout(ctx, comp.Timeout)
	defer cancel()

	start := time.Now()
	done := make(chan CheckResult, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- CheckResult{Status: StatusUnhealthy, Message: "check panicked", Error: fmt.Sprint(r)}
			}
		}()
		done <- comp.Check(ctx)
	}()

	var result CheckResult
	select {
	case result = <-done:
	case <-ctx.Done():
		result = CheckResult{Status: StatusUnhealthy, Message: "check timed out", Error: ctx.Err().Error()}
	}
	result.Name = comp.Name
	result.Duration = time.Since(start)
	return result
}

// OverallStatus aggregates the last results.
func (c *Checker) OverallStatus() Status {
	c.mu.RLock()
	defer c.mu.RUnlock()

	hasUnknown := false
	hasDegraded := false
	for _, comp := range c.components {
		switch c.results[comp.Name].Status {
		case StatusUnhealthy:
			if comp.Critical {
				return StatusUnhealthy
			}
			hasDegraded = true
		case StatusDegraded:
			hasDegraded = true
		case StatusUnknown:
			if comp.Critical {
				hasUnknown = true
			}
		}
	}

	if hasUnknown {
		return StatusUnknown
	}
	if hasDegraded {
		return StatusDegraded
	}
	return StatusHealthy
}

// StoreCheck pings the database and validates its schema.
func StoreCheck(db *sql.DB) Check {
	return func(ctx context.Context) CheckResult {
		if err := db.PingContext(ctx); err != nil {
			return CheckResult{Status: StatusUnhealthy, Message: "database unreachable", Error: err.Error()}
		}
		if err := store.ValidateSchema(db); err != nil {
			return CheckResult{Status: StatusUnhealthy, Message: "schema invalid", Error: err.Error()}
		}
		status, err := store.GetMigrationStatus(db)
		if err != nil {
			return CheckResult{Status: StatusUnhealthy, Message: "migration status unavailable", Error: err.Error()}
		}
		if len(status.Pending) > 0 {
			return CheckResult{
				Status:  StatusDegraded,
				Message: fmt.Sprintf("schema v%d, %d migrations pending", status.CurrentVersion, len(status.Pending)),
			}
		}
		return CheckResult{Status: StatusHealthy, Message: fmt.Sprintf("schema v%d", status.CurrentVersion)}
	}
}

// LookupFunc queries the suggestion service without falling back.
type LookupFunc func(ctx context.Context, word string, count int) ([]string, error)

// TransliterationCheck asks the service for a known word.
func TransliterationCheck(lookup LookupFunc, probe string) Check {
	return func(ctx context.Context) CheckResult {
		cands, err := lookup(ctx, probe, 1)
		if err != nil {
			return CheckResult{Status: StatusUnhealthy, Message: "suggestion service unavailable", Error: err.Error()}
		}
		if len(cands) == 0 || cands[0] == probe {
			return CheckResult{Status: StatusDegraded, Message: "service returned no transliteration for " + probe}
		}
		return CheckResult{Status: StatusHealthy, Message: probe + " → " + cands[0]}
	}
}

// DirCheck verifies that dir exists and is writable.
func DirCheck(dir string) Check {
	return func(ctx context.Context) CheckResult {
		info, err := os.Stat(dir)
		if errors.Is(err, os.ErrNotExist) {
			return CheckResult{Status: StatusDegraded, Message: dir + " does not exist yet"}
		}
		if err != nil {
			return CheckResult{Status: StatusUnhealthy, Message: "cannot stat " + dir, Error: err.Error()}
		}
		if !info.IsDir() {
			return CheckResult{Status: StatusUnhealthy, Message: dir + " is not a directory"}
		}
		f, err := os.CreateTemp(dir, ".kahani-health-*")
		if err != nil {
			return CheckResult{Status: StatusUnhealthy, Message: dir + " is not writable", Error: err.Error()}
		}
		f.Close()
		os.Remove(f.Name())
		return CheckResult{Status: StatusHealthy, Message: dir}
	}
}
