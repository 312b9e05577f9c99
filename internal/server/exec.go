package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"path"

	"github.com/danielgtaylor/huma/v2"

	"slam/internal/config"
	"slam/internal/domain"
	"slam/internal/engine"
)

// Actions of the /exec endpoint.
const (
	actionRead               = "read"
	actionQuery              = "query"
	actionGetPermissions     = "getPermissions"
	actionCreate             = "create"
	actionUpdate             = "update"
	actionDelete             = "delete"
	actionBulkCreate         = "bulkCreate"
	actionBulkUpdate         = "bulkUpdate"
	actionCreateRelationship = "createRelationship"
	actionDeleteRelationship = "deleteRelationship"
)

var errInvalidAction = errors.New("Invalid action")

// actionPermissions maps each action to the permission it needs; an empty
// permission means any identity may call it.
var actionPermissions = map[string]string{
	actionRead:               config.PermView,
	actionQuery:              config.PermView,
	actionGetPermissions:     "",
	actionCreate:             config.PermCreate,
	actionUpdate:             config.PermEdit,
	actionDelete:             config.PermDelete,
	actionBulkCreate:         config.PermCreate,
	actionBulkUpdate:         config.PermEdit,
	actionCreateRelationship: config.PermEdit,
	actionDeleteRelationship: config.PermEdit,
}

var getActions = map[string]bool{
	actionRead:           true,
	actionQuery:          true,
	actionGetPermissions: true,
}

// execRequest is the union of every action's parameters.
type execRequest struct {
	Action     string             `json:"action"`
	ID         string             `json:"id,omitempty"`
	Data       map[string]any     `json:"data,omitempty"`
	Updates    map[string]any     `json:"updates,omitempty"`
	RowVersion any                `json:"rowVersion,omitempty"`
	Items      json.RawMessage    `json:"items,omitempty"`
	Filters    map[string]any     `json:"filters,omitempty"`
	Sort       *engine.Sort       `json:"sort,omitempty"`
	Pagination *engine.Pagination `json:"pagination,omitempty"`

	SourceSLAID      string `json:"sourceSlaId,omitempty"`
	TargetSLAID      string `json:"targetSlaId,omitempty"`
	RelationshipType string `json:"relationshipType,omitempty"`
	Notes            string `json:"notes,omitempty"`

	// payload is the whole body, used by create when data is absent.
	payload map[string]any
}

type execQuery struct {
	Action     string `query:"action" doc:"read, query or getPermissions"`
	ID         string `query:"id"`
	Filters    string `query:"filters" doc:"JSON object"`
	Sort       string `query:"sort" doc:"JSON object {field, direction}"`
	Pagination string `query:"pagination" doc:"JSON object {page, pageSize}"`
}

type execOutput struct {
	Body map[string]any `json:"body"`
}

func registerExec(api huma.API, h handlers) {
	huma.Register(api, huma.Operation{
		OperationID: "exec-get",
		Method:      http.MethodGet,
		Path:        execPath,
		Summary:     "Action endpoint (read actions)",
		Description: "Always answers 200 with a {success, ...} body.",
	}, func(ctx context.Context, input *execQuery) (*execOutput, error) {
		if input.Action == "" {
			return &execOutput{Body: map[string]any{
				"success": true,
				"service": "slam",
				"version": Version,
				"message": "Send ?action=read|query|getPermissions or POST a JSON body with an action",
				"docs":    "/docs",
				"openapi": path.Join("/", h.basePath, "openapi.json"),
			}}, nil
		}
		if !getActions[input.Action] {
			return &execOutput{Body: execFailure(errInvalidAction)}, nil
		}
		req := execRequest{Action: input.Action, ID: input.ID}
		for _, param := range []struct {
			name string
			raw  string
			dst  any
		}{
			{"filters", input.Filters, &req.Filters},
			{"sort", input.Sort, &req.Sort},
			{"pagination", input.Pagination, &req.Pagination},
		} {
			if param.raw == "" {
				continue
			}
			if err := json.Unmarshal([]byte(param.raw), param.dst); err != nil {
				return &execOutput{Body: execFailure(engine.ValidationError{
					Field:   param.name,
					Message: param.name + " must be valid JSON: " + err.Error(),
				})}, nil
			}
		}
		return &execOutput{Body: h.exec(ctx, req)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "exec-post",
		Method:      http.MethodPost,
		Path:        execPath,
		Summary:     "Action endpoint",
		Description: "Body is a JSON object with an action discriminator. Always answers 200 with a {success, ...} body.",
	}, func(ctx context.Context, input *struct {
		RawBody []byte
	}) (*execOutput, error) {
		req, err := decodeExecRequest(input.RawBody)
		if err != nil {
			return &execOutput{Body: execFailure(err)}, nil
		}
		return &execOutput{Body: h.exec(ctx, req)}, nil
	})
}

func decodeExecRequest(raw []byte) (execRequest, error) {
	var req execRequest
	if len(raw) == 0 {
		return req, engine.ValidationError{Field: "action", Message: "request body is required"}
	}
	if err := json.Unmarshal(raw, &req); err != nil {
		return req, engine.ValidationError{Message: "Invalid JSON body: " + err.Error()}
	}
	if err := json.Unmarshal(raw, &req.payload); err != nil {
		return req, engine.ValidationError{Message: "Invalid JSON body: " + err.Error()}
	}
	delete(req.payload, "action")
	return req, nil
}

// exec runs one action and shapes the {success, ...} answer. Errors never
// leave this function.
func (h handlers) exec(ctx context.Context, req execRequest) map[string]any {
	perm, ok := actionPermissions[req.Action]
	if !ok {
		return execFailure(errInvalidAction)
	}
	actorID, authErr := actorIDFromContext(ctx)
	if authErr != nil {
		return execFailure(authErr)
	}
	if perm != "" {
		if err := h.perms.Require(actorID, perm); err != nil {
			return execFailure(err)
		}
	}
	e := h.engine

	switch req.Action {
	case actionRead:
		if req.ID == "" {
			return execFailure(engine.ValidationError{Field: "id", Message: "id is required"})
		}
		rec, err := e.Read(ctx, req.ID)
		if err != nil {
			return execFailure(err)
		}
		return map[string]any{"success": true, "data": rec}

	case actionQuery:
		res, err := e.Query(ctx, engine.QueryOptions{Filters: req.Filters, Sort: req.Sort, Pagination: req.Pagination})
		if err != nil {
			return execFailure(err)
		}
		return map[string]any{
			"success":  true,
			"data":     res.Data,
			"total":    res.Total,
			"page":     res.Page,
			"pageSize": res.PageSize,
		}

	case actionGetPermissions:
		return map[string]any{"success": true, "data": h.perms.Permissions(actorID)}

	case actionCreate:
		payload := req.Data
		if payload == nil {
			payload = req.payload
		}
		rec, err := e.Create(ctx, actorID, payload)
		if err != nil {
			return execFailure(err)
		}
		return map[string]any{
			"success": true,
			"slaId":   rec.SLAID,
			"data":    rec,
			"message": "SLA created successfully",
		}

	case actionUpdate:
		if req.ID == "" {
			return execFailure(engine.ValidationError{Field: "id", Message: "id is required"})
		}
		updates := req.Updates
		if updates == nil {
			updates = map[string]any{}
		}
		if _, present := updates["rowVersion"]; !present && req.RowVersion != nil {
			updates["rowVersion"] = req.RowVersion
		}
		rec, err := e.Update(ctx, actorID, req.ID, updates)
		if err != nil {
			return execFailure(err)
		}
		return map[string]any{"success": true, "data": rec, "message": "SLA updated successfully"}

	case actionDelete:
		if req.ID == "" {
			return execFailure(engine.ValidationError{Field: "id", Message: "id is required"})
		}
		var version *int64
		v, present, err := engine.ParseRowVersion(req.RowVersion)
		if err != nil {
			return execFailure(err)
		}
		if present {
			version = &v
		}
		rec, err := e.Delete(ctx, actorID, req.ID, version)
		if err != nil {
			return execFailure(err)
		}
		return map[string]any{"success": true, "data": rec, "message": "SLA deleted successfully"}

	case actionBulkCreate:
		var items []map[string]any
		if err := decodeItems(req.Items, &items); err != nil {
			return execFailure(err)
		}
		res := e.BulkCreate(ctx, actorID, items)
		return map[string]any{"success": res.Success, "created": res.Created, "errors": res.Errors}

	case actionBulkUpdate:
		var items []engine.BulkUpdateItem
		if err := decodeItems(req.Items, &items); err != nil {
			return execFailure(err)
		}
		res := e.BulkUpdate(ctx, actorID, items)
		return map[string]any{"success": res.Success, "updated": res.Updated, "errors": res.Errors}

	case actionCreateRelationship:
		rel, err := e.CreateRelationship(ctx, actorID, domain.Relationship{
			SourceSLAID:      req.SourceSLAID,
			TargetSLAID:      req.TargetSLAID,
			RelationshipType: req.RelationshipType,
			Notes:            req.Notes,
		})
		if err != nil {
			return execFailure(err)
		}
		return map[string]any{"success": true, "data": rel, "message": "Relationship created successfully"}

	case actionDeleteRelationship:
		if err := e.DeleteRelationship(ctx, actorID, req.SourceSLAID, req.TargetSLAID, req.RelationshipType); err != nil {
			return execFailure(err)
		}
		return map[string]any{"success": true, "message": "Relationship deleted successfully"}
	}
	return execFailure(errInvalidAction)
}

func decodeItems(raw json.RawMessage, dst any) error {
	if len(raw) == 0 {
		return engine.ValidationError{Field: "items", Message: "items must be a non-empty array"}
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return engine.ValidationError{Field: "items", Message: "items must be an array: " + err.Error()}
	}
	return nil
}

// execFailure renders err as {success:false, error, code}. Conflicts carry
// the current rowVersion so clients can reload.
func execFailure(err error) map[string]any {
	if errors.Is(err, errInvalidAction) {
		return map[string]any{"success": false, "error": err.Error(), "code": "invalid_action"}
	}
	out := map[string]any{"success": false, "error": err.Error()}
	if ae, ok := handleError(err).(*apiError); ok {
		out["code"] = ae.Body.Code
		if len(ae.Body.Details) > 0 && ae.status != http.StatusInternalServerError {
			out["details"] = ae.Body.Details
		}
	}
	return out
}
