package monitor

import "time"

// Status represents the health state of a component or the system.
type Status struct {
	Component   string    `json:"component"`
	Healthy     bool      `json:"healthy"`
	Status      string    `json:"status"` // "healthy", "degraded", "unhealthy"
	Message     string    `json:"message"`
	Timestamp   time.Time `json:"timestamp"`
	SubStatuses []Status  `json:"sub_statuses,omitempty"`
}

// IsHealthy returns true if the status is healthy
func (s Status) IsHealthy() bool { return s.Status == "healthy" }

// IsDegraded returns true if the status is degraded
func (s Status) IsDegraded() bool { return s.Status == "degraded" }

// IsUnhealthy returns true if the status is unhealthy
func (s Status) IsUnhealthy() bool { return s.Status == "unhealthy" }

// NewHealthy creates a new healthy status
func NewHealthy(component, message string) Status {
	return Status{
		Component: component,
		Healthy:   true,
		Status:    "healthy",
		Message:   message,
		Timestamp: time.Now(),
	}
}

// NewDegraded creates a new degraded status
func NewDegraded(component, message string) Status {
	return Status{
		Component: component,
		Status:    "degraded",
		Message:   message,
		Timestamp: time.Now(),
	}
}

// NewUnhealthy creates a new unhealthy status
func NewUnhealthy(component, message string) Status {
	return Status{
		Component: component,
		Status:    "unhealthy",
		Message:   message,
		Timestamp: time.Now(),
	}
}

// Aggregate combines sub-statuses into one system status. Any unhealthy
// sub-status makes the system unhealthy; any degraded one (with none
// unhealthy) makes it degraded.
func Aggregate(systemName string, subStatuses []Status) Status {
	agg := NewHealthy(systemName, "all components healthy")
	agg.SubStatuses = subStatuses

	degraded := 0
	for _, sub := range subStatuses {
		switch {
		case sub.IsUnhealthy():
			agg.Healthy = false
			agg.Status = "unhealthy"
			agg.Message = sub.Component + ": " + sub.Message
			return agg
		case sub.IsDegraded():
			degraded++
		}
	}
	if degraded > 0 {
		agg.Healthy = false
		agg.Status = "degraded"
		agg.Message = "components degraded"
	}
	if len(subStatuses) == 0 {
		agg.Message = "no components reporting"
	}
	return agg
}
