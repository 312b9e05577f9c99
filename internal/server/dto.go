package server

import "slam/internal/domain"

// Request payloads

type ListSLAsInput struct {
	Filters   string `query:"filters" doc:"JSON object of field filters, e.g. {\"status\":[\"met\",\"exceeded\"]}"`
	Sort      string `query:"sort" doc:"Field to sort by"`
	Direction string `query:"direction" doc:"asc or desc"`
	Page      int    `query:"page" minimum:"0"`
	PageSize  int    `query:"page_size" minimum:"0"`
}

type RelationshipRequest struct {
	SourceSLAID      string `json:"sourceSlaId"`
	TargetSLAID      string `json:"targetSlaId"`
	RelationshipType string `json:"relationshipType" enum:"depends-on,blocks,related-to"`
	Notes            string `json:"notes,omitempty"`
}

func (r RelationshipRequest) relationship() domain.Relationship {
	return domain.Relationship{
		SourceSLAID:      r.SourceSLAID,
		TargetSLAID:      r.TargetSLAID,
		RelationshipType: r.RelationshipType,
		Notes:            r.Notes,
	}
}

// Responses

type RelationshipList struct {
	Items []domain.Relationship `json:"items"`
}

type ActivityList struct {
	Items []domain.ActivityEntry `json:"items"`
}
