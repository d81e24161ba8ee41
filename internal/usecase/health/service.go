package health

import "context"

// Status represents the aggregated health status.
type Status string

const (
	// Healthy indicates all components are operational.
	Healthy Status = "ok"
	// Degraded indicates partial failure.
	Degraded Status = "degraded"
)

// CheckResult represents an individual component health check outcome.
type CheckResult string

const (
	// CheckOK indicates a passing health check.
	CheckOK CheckResult = "ok"
	// CheckError indicates a failing health check.
	CheckError CheckResult = "error"
)

// Report aggregates health check results.
type Report struct {
	Status Status
	Checks map[string]CheckResult
}

// Service coordinates health checks over the store and the embedding
// providers.
type Service struct {
	store  StorePinger
	dense  ProviderChecker
	sparse ProviderChecker
}

// New creates a Service. Either provider can be nil.
func New(store StorePinger, dense, sparse ProviderChecker) *Service {
	return &Service{store: store, dense: dense, sparse: sparse}
}

// Check runs health checks against all components.
func (s *Service) Check(ctx context.Context) Report {
	checks := make(map[string]CheckResult)

	if err := s.store.Ping(ctx); err != nil {
		checks["store"] = CheckError
	} else {
		checks["store"] = CheckOK
	}

	if s.dense != nil {
		if err := s.dense.HealthCheck(ctx); err != nil {
			checks["dense_embedding"] = CheckError
		} else {
			checks["dense_embedding"] = CheckOK
		}
	}
	if s.sparse != nil {
		if err := s.sparse.HealthCheck(ctx); err != nil {
			checks["sparse_embedding"] = CheckError
		} else {
			checks["sparse_embedding"] = CheckOK
		}
	}

	status := Healthy
	for _, v := range checks {
		if v == CheckError {
			status = Degraded
			break
		}
	}

	return Report{Status: status, Checks: checks}
}
