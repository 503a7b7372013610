package handlers

import (
	"context"
	"net/http"
	"sync"
	"time"
)

// Checker is one dependency probe, typically the order store.
type Checker interface {
	CheckHealth(ctx context.Context) error
}

// HealthResponse is the body of a passing health probe.
type HealthResponse struct {
	Status  string            `json:"status"`
	Version string            `json:"version"`
	Checks  map[string]string `json:"checks,omitempty"`
}

// HealthManager runs the registered checkers and aggregates their results.
type HealthManager struct {
	version string

	mu       sync.RWMutex
	checkers map[string]Checker
}

func NewHealthManager(version string) *HealthManager {
	return &HealthManager{
		version:  version,
		checkers: make(map[string]Checker),
	}
}

func (m *HealthManager) RegisterChecker(name string, checker Checker) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.checkers[name] = checker
}

const checkTimeout = 2 * time.Second

func (m *HealthManager) runChecks(ctx context.Context) map[string]string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	results := make(map[string]string, len(m.checkers))
	for name, checker := range m.checkers {
		checkCtx, cancel := context.WithTimeout(ctx, checkTimeout)
		err := checker.CheckHealth(checkCtx)
		cancel()
		switch {
		case err == nil:
			results[name] = "healthy"
		case checkCtx.Err() != nil:
			results[name] = "timeout"
		default:
			results[name] = "unhealthy"
		}
	}
	return results
}

// determineOverallStatus folds the per-check results: any unhealthy check
// makes the whole service unhealthy, a timeout alone only degrades it.
func (m *HealthManager) determineOverallStatus(checks map[string]string) string {
	status := "healthy"
	for _, result := range checks {
		switch result {
		case "unhealthy":
			return "unhealthy"
		case "timeout":
			status = "degraded"
		}
	}
	return status
}

func (m *HealthManager) HealthHandler(w http.ResponseWriter, r *http.Request) {
	checks := m.runChecks(r.Context())
	status := m.determineOverallStatus(checks)

	if status == "unhealthy" {
		writeJSON(w, http.StatusServiceUnavailable, map[string]interface{}{
			"error": map[string]interface{}{
				"code":    "SERVICE_UNAVAILABLE",
				"message": "one or more health checks failed",
				"details": map[string]interface{}{"checks": checks},
			},
		})
		return
	}

	writeJSON(w, http.StatusOK, HealthResponse{
		Status:  status,
		Version: m.version,
		Checks:  checks,
	})
}

// LivenessHandler reports that the process is up. It never touches
// dependencies: a wedged database must not get the process restarted.
func (m *HealthManager) LivenessHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "alive"})
}

// ReadinessHandler is the health probe under a different route, for
// orchestrators that distinguish ready from live.
func (m *HealthManager) ReadinessHandler(w http.ResponseWriter, r *http.Request) {
	m.HealthHandler(w, r)
}

func (m *HealthManager) StartupHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "started", "version": m.version})
}

var (
	globalMu            sync.RWMutex
	globalHealthManager *HealthManager
)

// InitHealthManager installs the process-wide manager used by the package
// level handler funcs.
func InitHealthManager(version string) *HealthManager {
	globalMu.Lock()
	defer globalMu.Unlock()
	globalHealthManager = NewHealthManager(version)
	return globalHealthManager
}

func GetHealthManager() *HealthManager {
	globalMu.RLock()
	defer globalMu.RUnlock()
	return globalHealthManager
}

func withGlobalManager(w http.ResponseWriter, r *http.Request,
	serve func(*HealthManager, http.ResponseWriter, *http.Request)) {
	manager := GetHealthManager()
	if manager == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status": "health manager not initialized",
		})
		return
	}
	serve(manager, w, r)
}

func HealthHandler(w http.ResponseWriter, r *http.Request) {
	withGlobalManager(w, r, (*HealthManager).HealthHandler)
}

func LivenessHandler(w http.ResponseWriter, r *http.Request) {
	withGlobalManager(w, r, (*HealthManager).LivenessHandler)
}

func ReadinessHandler(w http.ResponseWriter, r *http.Request) {
	withGlobalManager(w, r, (*HealthManager).ReadinessHandler)
}

func StartupHandler(w http.ResponseWriter, r *http.Request) {
	withGlobalManager(w, r, (*HealthManager).StartupHandler)
}
