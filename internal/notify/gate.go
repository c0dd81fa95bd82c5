package notify

import (
	"regexp"

	"jamroom/internal/models"
)

type Priority string

const (
	PriorityCritical Priority = "critical"
	PriorityNormal   Priority = "normal"
	PriorityLow      Priority = "low"
)

// Allows decides whether a notice of the given priority reaches a
// recipient at the given tolerance. Critical passes at every non-off
// tolerance, normal needs at least medium, low needs exactly high.
func Allows(priority Priority, tolerance models.NotifyLevel) bool {
	if tolerance == models.NotifyOff {
		return false
	}
	switch priority {
	case PriorityCritical:
		return true
	case PriorityNormal:
		return tolerance == models.NotifyMedium || tolerance == models.NotifyHigh
	case PriorityLow:
		return tolerance == models.NotifyHigh
	}
	return false
}

var pushTokenPattern = regexp.MustCompile(`^[A-Za-z0-9._:\-]{8,256}$`)

// ValidToken reports whether a delivery address looks well-formed.
// Recipients failing this are skipped without error.
func ValidToken(token string) bool {
	return token != "" && pushTokenPattern.MatchString(token)
}
