package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"slam/internal/audit"
	"slam/internal/codec"
	"slam/internal/domain"
	"slam/internal/rowstore"
)

// RelationshipsFor returns every relationship naming id as source or target.
// A missing or empty relationship table yields an empty list.
func (e Engine) RelationshipsFor(ctx context.Context, id string) ([]domain.Relationship, error) {
	out := []domain.Relationship{}
	exists, err := e.Links.Exists(ctx, e.DB)
	if err != nil || !exists {
		if err != nil {
			e.log().Warn("relationship table check failed", "error", err)
		}
		return out, nil
	}
	rows, err := e.Links.Scan(ctx, e.DB)
	if err != nil {
		e.log().Warn("relationship scan failed", "sla_id", id, "error", err)
		return out, nil
	}
	for _, row := range rows {
		rel := codec.ToRelationship(codec.Relationships.DecodeRow(row))
		if rel.SourceSLAID == id || rel.TargetSLAID == id {
			out = append(out, rel)
		}
	}
	return out, nil
}

// AllRelationships returns every stored relationship in insertion order.
func (e Engine) AllRelationships(ctx context.Context) ([]domain.Relationship, error) {
	out := []domain.Relationship{}
	exists, err := e.Links.Exists(ctx, e.DB)
	if err != nil || !exists {
		return out, err
	}
	rows, err := e.Links.Scan(ctx, e.DB)
	if err != nil {
		return nil, fmt.Errorf("scan relationships: %w", err)
	}
	for _, row := range rows {
		out = append(out, codec.ToRelationship(codec.Relationships.DecodeRow(row)))
	}
	return out, nil
}

// CreateRelationship links two existing, distinct records.
func (e Engine) CreateRelationship(ctx context.Context, actor string, rel domain.Relationship) (out domain.Relationship, err error) {
	defer func() { e.observe("relationship.create", err) }()
	rel.SourceSLAID = strings.TrimSpace(rel.SourceSLAID)
	rel.TargetSLAID = strings.TrimSpace(rel.TargetSLAID)
	switch {
	case rel.SourceSLAID == "" || rel.TargetSLAID == "":
		return domain.Relationship{}, ValidationError{Field: "sourceSlaId", Message: "sourceSlaId and targetSlaId are required"}
	case rel.SourceSLAID == rel.TargetSLAID:
		return domain.Relationship{}, ValidationError{Field: "targetSlaId", Message: "an SLA cannot relate to itself"}
	case !domain.ValidRelationshipType(rel.RelationshipType):
		return domain.Relationship{}, ValidationError{
			Field:   "relationshipType",
			Message: fmt.Sprintf("invalid relationshipType %q (allowed: %s)", rel.RelationshipType, strings.Join(domain.RelationshipTypes, ", ")),
		}
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Relationship{}, err
	}
	defer tx.Rollback()
	for _, id := range []string{rel.SourceSLAID, rel.TargetSLAID} {
		if _, err := e.Records.FindRowByKey(ctx, tx, id); err != nil {
			if errors.Is(err, rowstore.ErrNotFound) {
				return domain.Relationship{}, NotFoundError{Kind: "SLA", ID: id}
			}
			return domain.Relationship{}, err
		}
	}
	rows, err := e.Links.Scan(ctx, tx)
	if err != nil {
		return domain.Relationship{}, err
	}
	for _, row := range rows {
		existing := codec.ToRelationship(codec.Relationships.DecodeRow(row))
		if existing.SourceSLAID == rel.SourceSLAID && existing.TargetSLAID == rel.TargetSLAID && existing.RelationshipType == rel.RelationshipType {
			return domain.Relationship{}, ValidationError{Field: "relationshipType", Message: "relationship already exists"}
		}
	}

	createdAt, _ := codec.Encode(mustField("createdAt"), e.now())
	values := rowstore.Row{
		codec.HeaderSource:  rel.SourceSLAID,
		codec.HeaderTarget:  rel.TargetSLAID,
		codec.HeaderRelType: rel.RelationshipType,
		"Notes":             nullable(rel.Notes),
		"Created At":        createdAt,
		"Created By":        actor,
	}
	h, err := e.Links.AppendRow(ctx, tx, values)
	if err != nil {
		return domain.Relationship{}, err
	}
	stored, err := e.Links.ReadRow(ctx, tx, h)
	if err != nil {
		return domain.Relationship{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Relationship{}, err
	}
	out = codec.ToRelationship(codec.Relationships.DecodeRow(stored))
	e.logActivity(ctx, audit.Entry{
		EntityID:  rel.SourceSLAID,
		Action:    audit.ActionRelationshipCreated,
		Message:   fmt.Sprintf("%s %s %s", rel.SourceSLAID, rel.RelationshipType, rel.TargetSLAID),
		Actor:     actor,
		NewValues: map[string]any{"targetSlaId": rel.TargetSLAID, "relationshipType": rel.RelationshipType, "notes": rel.Notes},
	})
	return out, nil
}

// DeleteRelationship removes one relationship.
func (e Engine) DeleteRelationship(ctx context.Context, actor, source, target, relType string) (err error) {
	defer func() { e.observe("relationship.delete", err) }()
	n, err := e.Links.Delete(ctx, e.DB, rowstore.Row{
		codec.HeaderSource:  source,
		codec.HeaderTarget:  target,
		codec.HeaderRelType: relType,
	})
	if err != nil {
		return err
	}
	if n == 0 {
		return NotFoundError{Kind: "relationship", ID: fmt.Sprintf("%s %s %s", source, relType, target)}
	}
	e.logActivity(ctx, audit.Entry{
		EntityID:  source,
		Action:    audit.ActionRelationshipDeleted,
		Message:   fmt.Sprintf("%s %s %s", source, relType, target),
		Actor:     actor,
		OldValues: map[string]any{"targetSlaId": target, "relationshipType": relType},
	})
	return nil
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}
