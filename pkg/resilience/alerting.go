package resilience

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/guardkit/guardkit/pkg/errors"
	"github.com/guardkit/guardkit/pkg/logging"
)

// AlertSeverity represents the severity level of an alert
type AlertSeverity int

const (
	// SeverityInfo - informational alerts
	SeverityInfo AlertSeverity = iota
	// SeverityWarning - warning alerts that need attention
	SeverityWarning
	// SeverityError - error alerts that need immediate attention
	SeverityError
	// SeverityCritical - critical alerts that need urgent attention
	SeverityCritical
)

func (s AlertSeverity) String() string {
	switch s {
	case SeverityInfo:
		return "INFO"
	case SeverityWarning:
		return "WARNING"
	case SeverityError:
		return "ERROR"
	case SeverityCritical:
		return "CRITICAL"
	default:
		return "UNKNOWN"
	}
}

// Alert represents an alert that needs to be sent
type Alert struct {
	ID          string                 `json:"id"`
	Severity    AlertSeverity          `json:"severity"`
	Title       string                 `json:"title"`
	Description string                 `json:"description"`
	Source      string                 `json:"source"`
	Timestamp   time.Time              `json:"timestamp"`
	Tags        map[string]string      `json:"tags"`
	Metadata    map[string]interface{} `json:"metadata"`
}

// AlertHandler defines the interface for handling alerts
type AlertHandler interface {
	HandleAlert(ctx context.Context, alert Alert) error
	Name() string
}

// AlertManager manages alert generation and routing
type AlertManager struct {
	handlers []AlertHandler
	mutex    sync.RWMutex
	logger   *logging.Logger

	// Rate limiting
	alertCounts   map[string]int
	lastReset     time.Time
	rateLimit     int
	resetInterval time.Duration
}

// NewAlertManager creates a new alert manager
func NewAlertManager() *AlertManager {
	return &AlertManager{
		handlers:      make([]AlertHandler, 0),
		logger:        logging.GetLogger(),
		alertCounts:   make(map[string]int),
		lastReset:     time.Now(),
		rateLimit:     100, // 100 alerts per reset interval
		resetInterval: time.Hour,
	}
}

// AddHandler adds an alert handler
func (am *AlertManager) AddHandler(handler AlertHandler) {
	am.mutex.Lock()
	defer am.mutex.Unlock()

	am.handlers = append(am.handlers, handler)
	am.logger.Info("Alert handler added", "handler", handler.Name())
}

// SendAlert sends an alert to all registered handlers
func (am *AlertManager) SendAlert(ctx context.Context, alert Alert) error {
	am.mutex.Lock()
	allowed := am.checkRateLimitLocked(alert.Source)
	am.mutex.Unlock()

	if !allowed {
		am.logger.Warn("Alert rate limit exceeded",
			"source", alert.Source,
			"title", alert.Title,
		)
		return fmt.Errorf("alert rate limit exceeded for source: %s", alert.Source)
	}

	// Set timestamp if not provided
	if alert.Timestamp.IsZero() {
		alert.Timestamp = time.Now()
	}

	// Generate ID if not provided
	if alert.ID == "" {
		alert.ID = uuid.New().String()
	}

	am.logger.Info("Sending alert",
		"id", alert.ID,
		"severity", alert.Severity.String(),
		"source", alert.Source,
		"title", alert.Title,
	)

	am.mutex.RLock()
	handlers := make([]AlertHandler, len(am.handlers))
	copy(handlers, am.handlers)
	am.mutex.RUnlock()

	var lastErr error
	successCount := 0

	for _, handler := range handlers {
		if err := handler.HandleAlert(ctx, alert); err != nil {
			am.logger.Error("Alert handler failed",
				"handler", handler.Name(),
				"alert_id", alert.ID,
				"error", err,
			)
			lastErr = err
		} else {
			successCount++
		}
	}

	if successCount == 0 && lastErr != nil {
		return fmt.Errorf("all alert handlers failed: %w", lastErr)
	}

	return nil
}

func (am *AlertManager) checkRateLimitLocked(source string) bool {
	now := time.Now()

	// Reset counters if interval has passed
	if now.Sub(am.lastReset) >= am.resetInterval {
		am.alertCounts = make(map[string]int)
		am.lastReset = now
	}

	count := am.alertCounts[source]
	if count >= am.rateLimit {
		return false
	}

	am.alertCounts[source] = count + 1
	return true
}

// LoggingAlertHandler logs alerts to the application logger
type LoggingAlertHandler struct {
	logger *logging.Logger
}

// NewLoggingAlertHandler creates a new logging alert handler
func NewLoggingAlertHandler() *LoggingAlertHandler {
	return &LoggingAlertHandler{
		logger: logging.GetLogger(),
	}
}

// HandleAlert handles an alert by logging it
func (h *LoggingAlertHandler) HandleAlert(ctx context.Context, alert Alert) error {
	fields := []interface{}{
		"alert_id", alert.ID,
		"severity", alert.Severity.String(),
		"source", alert.Source,
		"title", alert.Title,
		"description", alert.Description,
		"timestamp", alert.Timestamp,
	}

	// Add tags as fields
	for key, value := range alert.Tags {
		fields = append(fields, fmt.Sprintf("tag_%s", key), value)
	}

	// Add metadata as fields
	for key, value := range alert.Metadata {
		fields = append(fields, fmt.Sprintf("meta_%s", key), value)
	}

	switch alert.Severity {
	case SeverityInfo:
		h.logger.Info("ALERT: "+alert.Title, fields...)
	case SeverityWarning:
		h.logger.Warn("ALERT: "+alert.Title, fields...)
	case SeverityError:
		h.logger.Error("ALERT: "+alert.Title, fields...)
	case SeverityCritical:
		h.logger.Error("CRITICAL ALERT: "+alert.Title, fields...)
	}

	return nil
}

// Name returns the name of the handler
func (h *LoggingAlertHandler) Name() string {
	return "logging"
}

// GuardAlertGenerator turns guard activity into alerts
type GuardAlertGenerator struct {
	alertManager *AlertManager
	logger       *logging.Logger
}

// NewGuardAlertGenerator creates a new guard alert generator
func NewGuardAlertGenerator(alertManager *AlertManager) *GuardAlertGenerator {
	return &GuardAlertGenerator{
		alertManager: alertManager,
		logger:       logging.GetLogger(),
	}
}

// BreakerTransition generates an alert for a circuit breaker state change
func (g *GuardAlertGenerator) BreakerTransition(ctx context.Context, key string, from, to CircuitState) {
	var severity AlertSeverity
	switch to {
	case StateOpen:
		severity = SeverityError
	case StateHalfOpen:
		severity = SeverityWarning
	case StateClosed:
		severity = SeverityInfo
	}

	alert := Alert{
		Severity:    severity,
		Title:       "Circuit Breaker State Changed",
		Description: fmt.Sprintf("Circuit breaker '%s' moved from %s to %s", key, from, to),
		Source:      "circuit_breaker",
		Tags: map[string]string{
			"guard_key": key,
			"from":      from.String(),
			"to":        to.String(),
		},
	}

	if err := g.alertManager.SendAlert(ctx, alert); err != nil {
		g.logger.Error("Failed to send breaker alert", "key", key, "error", err)
	}
}

// GuardRejection generates an alert for a guard-level admission denial
func (g *GuardAlertGenerator) GuardRejection(ctx context.Context, err error, operation string) {
	if err == nil || !IsGuardRejection(err) {
		return
	}

	alert := Alert{
		Severity:    SeverityWarning,
		Title:       "Guarded Call Rejected",
		Description: err.Error(),
		Source:      "guard_rejection",
		Tags: map[string]string{
			"operation": operation,
		},
	}

	if reason, ok := RejectionReasonOf(err); ok {
		alert.Tags["bulkhead_reason"] = string(reason)
	}
	if IsCircuitOpen(err) {
		alert.Tags["circuit_open"] = "true"
	}

	if alertErr := g.alertManager.SendAlert(ctx, alert); alertErr != nil {
		g.logger.Error("Failed to send rejection alert",
			"original_error", err,
			"alert_error", alertErr,
			"operation", operation,
		)
	}
}

// RetryExhausted generates an alert when an operation ran out of attempts
func (g *GuardAlertGenerator) RetryExhausted(ctx context.Context, err error, operation string) {
	if !IsRetryExhausted(err) {
		return
	}

	severity := SeverityError
	if errors.IsType(err, errors.ErrorTypeTimeout) || errors.IsType(err, errors.ErrorTypeExternal) {
		severity = SeverityWarning
	}

	alert := Alert{
		Severity:    severity,
		Title:       "Retry Attempts Exhausted",
		Description: err.Error(),
		Source:      "retry",
		Tags: map[string]string{
			"operation":  operation,
			"error_type": string(errors.GetType(err)),
		},
	}

	if alertErr := g.alertManager.SendAlert(ctx, alert); alertErr != nil {
		g.logger.Error("Failed to send retry alert",
			"original_error", err,
			"alert_error", alertErr,
			"operation", operation,
		)
	}
}

// DegradationMonitor watches the degradation manager and alerts on level
// changes and unhealthy dependencies
type DegradationMonitor struct {
	alertManager       *AlertManager
	degradationManager *DegradationManager
	logger             *logging.Logger

	checkInterval time.Duration
	lastLevel     DegradationLevel
	stopChan      chan struct{}
	running       bool
	mutex         sync.Mutex
}

// NewDegradationMonitor creates a new degradation monitor
func NewDegradationMonitor(alertManager *AlertManager, degradationManager *DegradationManager) *DegradationMonitor {
	return &DegradationMonitor{
		alertManager:       alertManager,
		degradationManager: degradationManager,
		logger:             logging.GetLogger(),
		checkInterval:      30 * time.Second,
		lastLevel:          LevelNormal,
		stopChan:           make(chan struct{}),
	}
}

// Start starts the monitoring loop
func (dm *DegradationMonitor) Start(ctx context.Context) {
	dm.mutex.Lock()
	defer dm.mutex.Unlock()

	if dm.running {
		return
	}

	// A stopped monitor can be started again; the previous stop channel
	// is already closed, so hand the loop a fresh one.
	dm.stopChan = make(chan struct{})
	dm.running = true
	go dm.monitorLoop(ctx, dm.stopChan)
	dm.logger.Info("Degradation monitor started")
}

// Stop stops the monitoring loop
func (dm *DegradationMonitor) Stop() {
	dm.mutex.Lock()
	defer dm.mutex.Unlock()

	if !dm.running {
		return
	}

	close(dm.stopChan)
	dm.running = false
	dm.logger.Info("Degradation monitor stopped")
}

func (dm *DegradationMonitor) monitorLoop(ctx context.Context, stop <-chan struct{}) {
	ticker := time.NewTicker(dm.checkInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-stop:
			return
		case <-ticker.C:
			dm.check(ctx)
		}
	}
}

func (dm *DegradationMonitor) check(ctx context.Context) {
	currentLevel := dm.degradationManager.Level()

	if currentLevel != dm.lastLevel {
		dm.sendLevelAlert(ctx, dm.lastLevel, currentLevel)
		dm.lastLevel = currentLevel
	}

	for _, key := range dm.degradationManager.UnhealthyKeys() {
		if health, exists := dm.degradationManager.Health(key); exists {
			dm.sendDependencyAlert(ctx, health)
		}
	}
}

func (dm *DegradationMonitor) sendLevelAlert(ctx context.Context, from, to DegradationLevel) {
	var severity AlertSeverity
	switch to {
	case LevelNormal:
		severity = SeverityInfo
	case LevelPartial:
		severity = SeverityWarning
	case LevelSevere:
		severity = SeverityError
	case LevelCritical:
		severity = SeverityCritical
	}

	alert := Alert{
		Severity:    severity,
		Title:       "Degradation Level Changed",
		Description: fmt.Sprintf("Process degradation level changed from %s to %s", from, to),
		Source:      "degradation_monitor",
		Tags: map[string]string{
			"previous_level": from.String(),
			"current_level":  to.String(),
		},
		Metadata: map[string]interface{}{
			"dependencies": dm.degradationManager.AllHealth(),
		},
	}

	if err := dm.alertManager.SendAlert(ctx, alert); err != nil {
		dm.logger.Error("Failed to send degradation alert", "error", err)
	}
}

func (dm *DegradationMonitor) sendDependencyAlert(ctx context.Context, health *DependencyHealth) {
	alert := Alert{
		Severity:    SeverityError,
		Title:       "Dependency Unhealthy",
		Description: fmt.Sprintf("Dependency '%s' is unhealthy: %s", health.Key, health.Message),
		Source:      "degradation_monitor",
		Tags: map[string]string{
			"guard_key": health.Key,
		},
		Metadata: map[string]interface{}{
			"error_count": health.ErrorCount,
			"last_change": health.LastChange,
		},
	}

	if err := dm.alertManager.SendAlert(ctx, alert); err != nil {
		dm.logger.Error("Failed to send dependency alert", "error", err)
	}
}
