package domain

import (
	"strings"
	"time"
)

// Assignment is a staffed position on a project, the unit forecasts are keyed to.
type Assignment struct {
	ID        string
	TenantID  string
	ProjectID string
	UserID    string
	Label     string
	UpdatedAt time.Time
}

// NewAssignment constructs a directory entry.
func NewAssignment(id, tenantID, projectID, userID, label string, now time.Time) (Assignment, error) {
	id = strings.TrimSpace(id)
	tenantID = strings.TrimSpace(tenantID)
	if id == "" {
		return Assignment{}, ErrInvalidID
	}
	if tenantID == "" {
		return Assignment{}, ErrInvalidTenantID
	}
	return Assignment{
		ID:        id,
		TenantID:  tenantID,
		ProjectID: strings.TrimSpace(projectID),
		UserID:    strings.TrimSpace(userID),
		Label:     strings.TrimSpace(label),
		UpdatedAt: now.UTC(),
	}, nil
}
