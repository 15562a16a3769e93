package health

import (
	"slices"
	"strings"
	"time"
)

func newStatus(component, state, message string) Status {
	return Status{
		Component: component,
		Healthy:   state == StateHealthy,
		Status:    state,
		Message:   message,
		Timestamp: time.Now(),
	}
}

// NewHealthy returns a healthy status for component
func NewHealthy(component, message string) Status {
	return newStatus(component, StateHealthy, message)
}

// NewUnhealthy returns an unhealthy status for component
func NewUnhealthy(component, message string) Status {
	return newStatus(component, StateUnhealthy, message)
}

// NewDegraded returns a degraded status for component. Degraded components
// still deliver notifications, so the gateway keeps serving.
func NewDegraded(component, message string) Status {
	return newStatus(component, StateDegraded, message)
}

// Aggregate folds the statuses of the gateway sinks and infrastructure into
// one. The result takes the worst state found and its message names the
// components in that state. The sub-statuses are copied and sorted by
// component.
func Aggregate(component string, subStatuses []Status) Status {
	if len(subStatuses) == 0 {
		return NewHealthy(component, "No components registered")
	}

	subs := slices.Clone(subStatuses)
	slices.SortFunc(subs, func(a, b Status) int {
		return strings.Compare(a.Component, b.Component)
	})

	var unhealthy, degraded []string
	for _, sub := range subs {
		switch {
		case sub.IsUnhealthy():
			unhealthy = append(unhealthy, sub.Component)
		case sub.IsDegraded():
			degraded = append(degraded, sub.Component)
		}
	}

	var status Status
	switch {
	case len(unhealthy) > 0:
		status = NewUnhealthy(component, "Unhealthy: "+strings.Join(unhealthy, ", "))
	case len(degraded) > 0:
		status = NewDegraded(component, "Degraded: "+strings.Join(degraded, ", "))
	default:
		status = NewHealthy(component, "All components healthy")
	}
	status.SubStatuses = subs
	return status
}
