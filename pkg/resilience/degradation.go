package resilience

import (
	"fmt"
	"sync"
	"time"

	"github.com/guardkit/guardkit/pkg/errors"
	"github.com/guardkit/guardkit/pkg/logging"
)

// DegradationLevel represents the level of service degradation
type DegradationLevel int

const (
	// LevelNormal - all guarded dependencies are operational
	LevelNormal DegradationLevel = iota
	// LevelPartial - some dependencies are down but core work proceeds
	LevelPartial
	// LevelSevere - significant degradation, only essential work proceeds
	LevelSevere
	// LevelCritical - the process is barely functional
	LevelCritical
)

func (l DegradationLevel) String() string {
	switch l {
	case LevelNormal:
		return "NORMAL"
	case LevelPartial:
		return "PARTIAL"
	case LevelSevere:
		return "SEVERE"
	case LevelCritical:
		return "CRITICAL"
	default:
		return "UNKNOWN"
	}
}

// DependencyHealth represents the health of a guarded dependency
type DependencyHealth struct {
	Key        string
	Healthy    bool
	LastChange time.Time
	ErrorCount int
	Message    string
}

// DegradationManager maps per-key guard health onto a process-wide
// degradation level. Dependencies are registered with the level their loss
// implies; breaker state changes feed it through BreakerFeed.
type DegradationManager struct {
	dependencies map[string]*DependencyHealth
	mutex        sync.RWMutex
	logger       *logging.Logger

	unhealthyThreshold int
	impactRules        map[string]DegradationLevel
}

// NewDegradationManager creates a new degradation manager
func NewDegradationManager() *DegradationManager {
	return &DegradationManager{
		dependencies:       make(map[string]*DependencyHealth),
		logger:             logging.GetLogger(),
		unhealthyThreshold: 3,
		impactRules:        make(map[string]DegradationLevel),
	}
}

// Register registers a guarded dependency and the degradation level its
// loss implies
func (dm *DegradationManager) Register(key string, impact DegradationLevel) {
	dm.mutex.Lock()
	defer dm.mutex.Unlock()

	dm.dependencies[key] = &DependencyHealth{
		Key:        key,
		Healthy:    true,
		LastChange: time.Now(),
	}
	dm.impactRules[key] = impact
}

// Update updates the health of a dependency. An unhealthy report only flips
// the dependency after unhealthyThreshold consecutive reports; a healthy
// report resets it immediately.
func (dm *DegradationManager) Update(key string, healthy bool, message string) {
	dm.mutex.Lock()
	defer dm.mutex.Unlock()

	dep, exists := dm.dependencies[key]
	if !exists {
		dm.logger.Warn("Health update for unregistered dependency", "key", key)
		return
	}

	dep.LastChange = time.Now()
	dep.Message = message

	if healthy {
		dep.Healthy = true
		dep.ErrorCount = 0
	} else {
		dep.ErrorCount++
		if dep.ErrorCount >= dm.unhealthyThreshold {
			dep.Healthy = false
		}
	}

	dm.logger.Debug("Dependency health updated",
		"key", key,
		"healthy", dep.Healthy,
		"error_count", dep.ErrorCount,
		"message", message,
	)
}

// MarkDown flips a dependency unhealthy immediately, bypassing the
// consecutive-error threshold. Used when a breaker trips: the breaker has
// already done the counting.
func (dm *DegradationManager) MarkDown(key, message string) {
	dm.mutex.Lock()
	defer dm.mutex.Unlock()

	dep, exists := dm.dependencies[key]
	if !exists {
		return
	}

	dep.LastChange = time.Now()
	dep.Message = message
	dep.Healthy = false
	dep.ErrorCount = dm.unhealthyThreshold
}

// Level returns the current process degradation level
func (dm *DegradationManager) Level() DegradationLevel {
	dm.mutex.RLock()
	defer dm.mutex.RUnlock()

	maxLevel := LevelNormal
	unhealthy := 0
	total := len(dm.dependencies)

	for key, dep := range dm.dependencies {
		if !dep.Healthy {
			unhealthy++
			if level, exists := dm.impactRules[key]; exists && level > maxLevel {
				maxLevel = level
			}
		}
	}

	// Escalate on the share of unhealthy dependencies regardless of
	// individual impact rules.
	if total > 0 {
		share := float64(unhealthy) / float64(total)
		switch {
		case share >= 0.75:
			if maxLevel < LevelCritical {
				maxLevel = LevelCritical
			}
		case share >= 0.5:
			if maxLevel < LevelSevere {
				maxLevel = LevelSevere
			}
		case share >= 0.25:
			if maxLevel < LevelPartial {
				maxLevel = LevelPartial
			}
		}
	}

	return maxLevel
}

// Health returns the health of a specific dependency
func (dm *DegradationManager) Health(key string) (*DependencyHealth, bool) {
	dm.mutex.RLock()
	defer dm.mutex.RUnlock()

	dep, exists := dm.dependencies[key]
	if !exists {
		return nil, false
	}

	// Return a copy to avoid race conditions
	copied := *dep
	return &copied, true
}

// AllHealth returns the health of all registered dependencies
func (dm *DegradationManager) AllHealth() map[string]*DependencyHealth {
	dm.mutex.RLock()
	defer dm.mutex.RUnlock()

	result := make(map[string]*DependencyHealth, len(dm.dependencies))
	for key, dep := range dm.dependencies {
		copied := *dep
		result[key] = &copied
	}
	return result
}

// IsHealthy checks a specific dependency
func (dm *DegradationManager) IsHealthy(key string) bool {
	dep, exists := dm.Health(key)
	return exists && dep.Healthy
}

// UnhealthyKeys returns the keys of unhealthy dependencies
func (dm *DegradationManager) UnhealthyKeys() []string {
	dm.mutex.RLock()
	defer dm.mutex.RUnlock()

	var unhealthy []string
	for key, dep := range dm.dependencies {
		if !dep.Healthy {
			unhealthy = append(unhealthy, key)
		}
	}
	return unhealthy
}

// HealthyKeys returns the keys of healthy dependencies
func (dm *DegradationManager) HealthyKeys() []string {
	dm.mutex.RLock()
	defer dm.mutex.RUnlock()

	var healthy []string
	for key, dep := range dm.dependencies {
		if dep.Healthy {
			healthy = append(healthy, key)
		}
	}
	return healthy
}

// BreakerFeed returns a state-change callback that keeps the manager in
// sync with a circuit breaker: Open marks the dependency down, Closed marks
// it recovered. Compose it into CircuitBreakerConfig.OnStateChange.
func (dm *DegradationManager) BreakerFeed() func(key string, from, to CircuitState) {
	return func(key string, from, to CircuitState) {
		switch to {
		case StateOpen:
			dm.MarkDown(key, fmt.Sprintf("circuit breaker opened (was %s)", from))
		case StateClosed:
			dm.Update(key, true, "circuit breaker closed")
		}
	}
}

// MinimumAvailable guards selection of dependencies for a piece of work:
// it filters the requested keys down to healthy ones, substituting
// registered alternates, and fails when fewer than min remain.
type MinimumAvailable struct {
	manager    *DegradationManager
	logger     *logging.Logger
	min        int
	alternates map[string][]string
}

// NewMinimumAvailable creates a selection policy over the manager
func NewMinimumAvailable(manager *DegradationManager, min int) *MinimumAvailable {
	return &MinimumAvailable{
		manager:    manager,
		logger:     logging.GetLogger(),
		min:        min,
		alternates: make(map[string][]string),
	}
}

// RegisterAlternates names substitute dependencies tried when key is down
func (ma *MinimumAvailable) RegisterAlternates(key string, alternates []string) {
	ma.alternates[key] = alternates
}

// Select filters requested keys to available ones, substituting alternates
// for unhealthy entries. It returns an error when fewer than the minimum
// remain.
func (ma *MinimumAvailable) Select(requested []string) ([]string, error) {
	var available []string
	var unavailable []string

	for _, key := range requested {
		if ma.manager.IsHealthy(key) {
			available = append(available, key)
			continue
		}
		unavailable = append(unavailable, key)

		for _, alt := range ma.alternates[key] {
			if ma.manager.IsHealthy(alt) {
				available = append(available, alt)
				ma.logger.Info("Using alternate dependency",
					"original", key,
					"alternate", alt,
				)
				break
			}
		}
	}

	if len(available) < ma.min {
		return available, errors.NewInternalError(
			fmt.Sprintf("insufficient healthy dependencies: have %d, need %d (unavailable: %v)",
				len(available), ma.min, unavailable))
	}

	if len(unavailable) > 0 {
		ma.logger.Warn("Some dependencies are unavailable",
			"unavailable", unavailable,
			"available", available,
		)
	}

	return available, nil
}
