package domain

import "time"

// Campaign is read-only metadata owned by the CRM sync.
type Campaign struct {
	ID        string
	Name      string
	Currency  string
	StartDate time.Time
	EndDate   time.Time
	IsMatched bool
}

func (c Campaign) IsClosedBefore(t time.Time) bool {
	return !c.EndDate.IsZero() && c.EndDate.Before(t)
}
