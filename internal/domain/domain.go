package domain

import "time"

// Record is one SLA row in decoded form.
type Record struct {
	SLAID              string     `json:"slaId"`
	ParentSLAID        string     `json:"parentSlaId,omitempty"`
	Name               string     `json:"name"`
	Type               string     `json:"type" enum:"quantity,percentage,timeliness,availability,compliance,composite,multi-metric,recurring"`
	Description        string     `json:"description,omitempty"`
	TeamID             string     `json:"teamId"`
	StartDate          *time.Time `json:"startDate,omitempty" format:"date-time"`
	EndDate            *time.Time `json:"endDate,omitempty" format:"date-time"`
	Status             string     `json:"status" enum:"met,at-risk,ontrack,exceeded,missed,pending,not-started,deleted"`
	CurrentValue       float64    `json:"currentValue"`
	TargetValue        *float64   `json:"targetValue,omitempty"`
	TargetRangeMin     *float64   `json:"targetRangeMin,omitempty"`
	TargetRangeMax     *float64   `json:"targetRangeMax,omitempty"`
	UseRange           bool       `json:"useRange"`
	Progress           *float64   `json:"progress,omitempty"`
	Frequency          string     `json:"frequency" enum:"once,daily,weekly,biweekly,monthly,quarterly,annually"`
	NotificationEmails []string   `json:"notificationEmails"`
	Tags               []string   `json:"tags"`
	ExternalTrackerURL string     `json:"externalTrackerUrl,omitempty"`
	// CustomFields is normally a JSON object; a stored value that does not
	// parse is passed through as the raw string.
	CustomFields  any            `json:"customFields,omitempty"`
	IsActive      bool           `json:"isActive"`
	CreatedAt     time.Time      `json:"createdAt" format:"date-time"`
	CreatedBy     string         `json:"createdBy"`
	UpdatedAt     time.Time      `json:"updatedAt" format:"date-time"`
	UpdatedBy     string         `json:"updatedBy"`
	RowVersion    int64          `json:"rowVersion"`
	Relationships []Relationship `json:"relationships,omitempty"`
}

// Relationship links two SLAs. Direction is carried by Type ("A depends-on B").
type Relationship struct {
	SourceSLAID      string    `json:"sourceSlaId"`
	TargetSLAID      string    `json:"targetSlaId"`
	RelationshipType string    `json:"relationshipType" enum:"depends-on,blocks,related-to"`
	Notes            string    `json:"notes,omitempty"`
	CreatedAt        time.Time `json:"createdAt" format:"date-time"`
	CreatedBy        string    `json:"createdBy"`
}

// ActivityEntry is one audit log row.
type ActivityEntry struct {
	ID        string         `json:"id"`
	TS        string         `json:"ts" format:"date-time"`
	EntityID  string         `json:"entityId"`
	Action    string         `json:"action"`
	Message   string         `json:"message,omitempty"`
	ActorID   string         `json:"actorId"`
	OldValues map[string]any `json:"oldValues,omitempty"`
	NewValues map[string]any `json:"newValues,omitempty"`
}

// Permissions is the answer to getPermissions for one actor.
type Permissions struct {
	ActorID   string `json:"actorId"`
	Role      string `json:"role"`
	CanView   bool   `json:"canView"`
	CanCreate bool   `json:"canCreate"`
	CanEdit   bool   `json:"canEdit"`
	CanDelete bool   `json:"canDelete"`
	IsAdmin   bool   `json:"isAdmin"`
}

const (
	StatusDeleted    = "deleted"
	StatusNotStarted = "not-started"
	FrequencyOnce    = "once"
)

var (
	Types = []string{
		"quantity", "percentage", "timeliness", "availability",
		"compliance", "composite", "multi-metric", "recurring",
	}
	Statuses = []string{
		"met", "at-risk", "ontrack", "exceeded", "missed",
		"pending", StatusNotStarted, StatusDeleted,
	}
	Frequencies = []string{
		FrequencyOnce, "daily", "weekly", "biweekly", "monthly", "quarterly", "annually",
	}
	RelationshipTypes = []string{"depends-on", "blocks", "related-to"}
)

func contains(set []string, v string) bool {
	for _, s := range set {
		if s == v {
			return true
		}
	}
	return false
}

func ValidRelationshipType(v string) bool { return contains(RelationshipTypes, v) }
