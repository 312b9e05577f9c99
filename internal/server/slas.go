package server

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/danielgtaylor/huma/v2"

	"slam/internal/audit"
	"slam/internal/config"
	"slam/internal/domain"
	"slam/internal/engine"
)

var writeErrors = []int{
	http.StatusBadRequest,
	http.StatusForbidden,
	http.StatusNotFound,
	http.StatusConflict,
	http.StatusInternalServerError,
}

func registerSLAs(api huma.API, h handlers) {
	huma.Register(api, huma.Operation{
		OperationID: "list-slas",
		Method:      http.MethodGet,
		Path:        "/slas",
		Summary:     "Query SLAs",
		Errors:      []int{http.StatusBadRequest, http.StatusForbidden},
	}, func(ctx context.Context, input *ListSLAsInput) (*struct {
		Body engine.QueryResult `json:"body"`
	}, error) {
		if _, err := requirePermission(ctx, h.perms, config.PermView); err != nil {
			return nil, handleError(err)
		}
		opts, err := input.options()
		if err != nil {
			return nil, handleError(err)
		}
		res, err := h.engine.Query(ctx, opts)
		if err != nil {
			return nil, handleError(err)
		}
		if res.Data == nil {
			res.Data = []domain.Record{}
		}
		return &struct {
			Body engine.QueryResult `json:"body"`
		}{Body: res}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "create-sla",
		Method:        http.MethodPost,
		Path:          "/slas",
		Summary:       "Create SLA",
		DefaultStatus: http.StatusCreated,
		Errors:        writeErrors,
	}, func(ctx context.Context, input *struct {
		Body map[string]any `json:"body"`
	}) (*struct {
		Body domain.Record `json:"body"`
	}, error) {
		actorID, err := requirePermission(ctx, h.perms, config.PermCreate)
		if err != nil {
			return nil, handleError(err)
		}
		rec, err := h.engine.Create(ctx, actorID, input.Body)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Record `json:"body"`
		}{Body: rec}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-sla",
		Method:      http.MethodGet,
		Path:        "/slas/{sla_id}",
		Summary:     "Get SLA",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		SLAID string `path:"sla_id"`
	}) (*struct {
		Body domain.Record `json:"body"`
	}, error) {
		if _, err := requirePermission(ctx, h.perms, config.PermView); err != nil {
			return nil, handleError(err)
		}
		rec, err := h.engine.Read(ctx, input.SLAID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Record `json:"body"`
		}{Body: rec}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-sla",
		Method:      http.MethodPatch,
		Path:        "/slas/{sla_id}",
		Summary:     "Update SLA",
		Description: "Partial update. rowVersion in the body or an If-Match header enables the optimistic lock.",
		Errors:      writeErrors,
	}, func(ctx context.Context, input *struct {
		SLAID   string         `path:"sla_id"`
		IfMatch string         `header:"If-Match"`
		Body    map[string]any `json:"body"`
	}) (*struct {
		Body domain.Record `json:"body"`
	}, error) {
		actorID, err := requirePermission(ctx, h.perms, config.PermEdit)
		if err != nil {
			return nil, handleError(err)
		}
		updates := input.Body
		if updates == nil {
			updates = map[string]any{}
		}
		if _, ok := updates["rowVersion"]; !ok {
			if tag := strings.Trim(strings.TrimSpace(input.IfMatch), `"`); tag != "" {
				updates["rowVersion"] = tag
			}
		}
		rec, err := h.engine.Update(ctx, actorID, input.SLAID, updates)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Record `json:"body"`
		}{Body: rec}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "delete-sla",
		Method:      http.MethodDelete,
		Path:        "/slas/{sla_id}",
		Summary:     "Soft delete SLA",
		Errors:      writeErrors,
	}, func(ctx context.Context, input *struct {
		SLAID      string `path:"sla_id"`
		RowVersion string `query:"row_version"`
	}) (*struct {
		Body domain.Record `json:"body"`
	}, error) {
		actorID, err := requirePermission(ctx, h.perms, config.PermDelete)
		if err != nil {
			return nil, handleError(err)
		}
		var version *int64
		v, present, err := engine.ParseRowVersion(input.RowVersion)
		if err != nil {
			return nil, handleError(err)
		}
		if present {
			version = &v
		}
		rec, err := h.engine.Delete(ctx, actorID, input.SLAID, version)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Record `json:"body"`
		}{Body: rec}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-sla-relationships",
		Method:      http.MethodGet,
		Path:        "/slas/{sla_id}/relationships",
		Summary:     "Relationships of an SLA",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		SLAID string `path:"sla_id"`
	}) (*struct {
		Body RelationshipList `json:"body"`
	}, error) {
		if _, err := requirePermission(ctx, h.perms, config.PermView); err != nil {
			return nil, handleError(err)
		}
		rec, err := h.engine.Read(ctx, input.SLAID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body RelationshipList `json:"body"`
		}{Body: RelationshipList{Items: nonNilSlice(rec.Relationships)}}, nil
	})
}

func registerRelationships(api huma.API, h handlers) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-relationship",
		Method:        http.MethodPost,
		Path:          "/relationships",
		Summary:       "Link two SLAs",
		DefaultStatus: http.StatusCreated,
		Errors:        writeErrors,
	}, func(ctx context.Context, input *struct {
		Body RelationshipRequest `json:"body"`
	}) (*struct {
		Body domain.Relationship `json:"body"`
	}, error) {
		actorID, err := requirePermission(ctx, h.perms, config.PermEdit)
		if err != nil {
			return nil, handleError(err)
		}
		rel, err := h.engine.CreateRelationship(ctx, actorID, input.Body.relationship())
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Relationship `json:"body"`
		}{Body: rel}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "delete-relationship",
		Method:        http.MethodDelete,
		Path:          "/relationships",
		Summary:       "Remove a relationship",
		DefaultStatus: http.StatusNoContent,
		Errors:        writeErrors,
	}, func(ctx context.Context, input *struct {
		Source string `query:"source" required:"true"`
		Target string `query:"target" required:"true"`
		Type   string `query:"type" required:"true"`
	}) (*struct{}, error) {
		actorID, err := requirePermission(ctx, h.perms, config.PermEdit)
		if err != nil {
			return nil, handleError(err)
		}
		if err := h.engine.DeleteRelationship(ctx, actorID, input.Source, input.Target, input.Type); err != nil {
			return nil, handleError(err)
		}
		return nil, nil
	})
}

func registerActivity(api huma.API, h handlers) {
	huma.Register(api, huma.Operation{
		OperationID: "list-activity",
		Method:      http.MethodGet,
		Path:        "/activity",
		Summary:     "Activity log, newest first",
		Errors:      []int{http.StatusForbidden},
	}, func(ctx context.Context, input *struct {
		EntityID string `query:"entity_id"`
		Action   string `query:"action"`
		ActorID  string `query:"actor_id"`
		Limit    int    `query:"limit" default:"50"`
	}) (*struct {
		Body ActivityList `json:"body"`
	}, error) {
		if _, err := requirePermission(ctx, h.perms, config.PermView); err != nil {
			return nil, handleError(err)
		}
		items, err := h.activity.List(ctx, audit.Filter{
			EntityID: input.EntityID,
			Action:   input.Action,
			ActorID:  input.ActorID,
			Limit:    normalizeLimit(input.Limit),
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ActivityList `json:"body"`
		}{Body: ActivityList{Items: nonNilSlice(items)}}, nil
	})
}

func registerPermissions(api huma.API, h handlers) {
	huma.Register(api, huma.Operation{
		OperationID: "my-permissions",
		Method:      http.MethodGet,
		Path:        "/permissions/me",
		Summary:     "Permissions of the calling identity",
		Errors:      []int{http.StatusUnauthorized},
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body domain.Permissions `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		return &struct {
			Body domain.Permissions `json:"body"`
		}{Body: h.perms.Permissions(actorID)}, nil
	})
}

func (in ListSLAsInput) options() (engine.QueryOptions, error) {
	var opts engine.QueryOptions
	if in.Filters != "" {
		if err := json.Unmarshal([]byte(in.Filters), &opts.Filters); err != nil {
			return opts, engine.ValidationError{Field: "filters", Message: "filters must be a JSON object: " + err.Error()}
		}
	}
	if in.Sort != "" {
		dir := strings.ToLower(in.Direction)
		if dir != "" && dir != "asc" && dir != "desc" {
			return opts, engine.ValidationError{Field: "direction", Message: "direction must be asc or desc"}
		}
		opts.Sort = &engine.Sort{Field: in.Sort, Direction: dir}
	}
	if in.Page > 0 || in.PageSize > 0 {
		opts.Pagination = &engine.Pagination{Page: in.Page, PageSize: in.PageSize}
	}
	return opts, nil
}

func normalizeLimit(in int) int {
	if in <= 0 {
		return 50
	}
	if in > 500 {
		return 500
	}
	return in
}

func nonNilSlice[T any](in []T) []T {
	if in == nil {
		return []T{}
	}
	return in
}
