package services

import (
	"context"
	"sort"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
)

// HealthCheck reports a dependency failure as a non-nil error.
type HealthCheck func(ctx context.Context) error

type HealthService struct {
	critical    map[string]HealthCheck
	nonCritical map[string]HealthCheck
	timeout     time.Duration
	logger      *logrus.Logger

	healthCheckStatus *prometheus.GaugeVec
	lastHealthCheck   *prometheus.GaugeVec
}

type HealthStatus struct {
	Status      string            `json:"status"`
	Timestamp   time.Time         `json:"timestamp"`
	Services    map[string]string `json:"services"`
	Critical    []string          `json:"critical_failures,omitempty"`
	NonCritical []string          `json:"non_critical_failures,omitempty"`
	Latency     time.Duration     `json:"latency,omitempty"`
}

// NewHealthService builds a health service. Failing critical checks make the
// service unhealthy; failing non-critical checks only degrade it.
func NewHealthService(
	critical map[string]HealthCheck,
	nonCritical map[string]HealthCheck,
	reg prometheus.Registerer,
	logger *logrus.Logger,
) *HealthService {
	hs := &HealthService{
		critical:    critical,
		nonCritical: nonCritical,
		timeout:     5 * time.Second,
		logger:      logger,
	}

	hs.healthCheckStatus = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "health_check_status",
		Help: "Health check status (1 = healthy, 0 = unhealthy)",
	}, []string{"service"})

	hs.lastHealthCheck = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "health_check_timestamp",
		Help: "Timestamp of last health check",
	}, []string{"service"})

	if reg != nil {
		for _, c := range []prometheus.Collector{hs.healthCheckStatus, hs.lastHealthCheck} {
			if err := reg.Register(c); err != nil {
				if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
					// reuse the collector already serving /metrics
					if existing, ok := are.ExistingCollector.(*prometheus.GaugeVec); ok {
						if c == hs.healthCheckStatus {
							hs.healthCheckStatus = existing
						} else {
							hs.lastHealthCheck = existing
						}
					}
					continue
				}
				logger.WithError(err).Warn("Failed to register health metric")
			}
		}
	}

	return hs
}

func (s *HealthService) CheckHealth(ctx context.Context) *HealthStatus {
	start := time.Now()
	status := &HealthStatus{
		Timestamp: start,
		Services:  make(map[string]string),
	}

	status.Critical = s.runChecks(ctx, s.critical, status.Services, logrus.ErrorLevel)
	status.NonCritical = s.runChecks(ctx, s.nonCritical, status.Services, logrus.WarnLevel)

	switch {
	case len(status.Critical) > 0:
		status.Status = "unhealthy"
	case len(status.NonCritical) > 0:
		status.Status = "degraded"
	default:
		status.Status = "healthy"
	}

	status.Latency = time.Since(start)
	return status
}

func (s *HealthService) runChecks(ctx context.Context, checks map[string]HealthCheck, services map[string]string, level logrus.Level) []string {
	names := make([]string, 0, len(checks))
	for name := range checks {
		names = append(names, name)
	}
	sort.Strings(names)

	var failed []string
	for _, name := range names {
		checkCtx, cancel := context.WithTimeout(ctx, s.timeout)
		err := checks[name](checkCtx)
		cancel()

		if err != nil {
			services[name] = "unhealthy"
			failed = append(failed, name)
			s.logger.WithError(err).WithField("service", name).Log(level, "Dependency is unhealthy")
			s.updateHealthMetrics(name, false)
			continue
		}
		services[name] = "healthy"
		s.updateHealthMetrics(name, true)
	}
	return failed
}

func (s *HealthService) updateHealthMetrics(service string, healthy bool) {
	value := 0.0
	if healthy {
		value = 1.0
	}
	s.healthCheckStatus.WithLabelValues(service).Set(value)
	s.lastHealthCheck.WithLabelValues(service).Set(float64(time.Now().Unix()))
}
