package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"strconv"
	"strings"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"

	"missioncontrol/internal/chair"
	"missioncontrol/internal/domain"
	"missioncontrol/internal/engine"
	"missioncontrol/internal/gateway"
	"missioncontrol/internal/policy"
	"missioncontrol/internal/repo"
)

// Config for the HTTP API handler.
type Config struct {
	Engine   engine.Engine
	Chair    *chair.Chair
	Gateway  *gateway.Client
	BasePath string
	Auth     AuthConfig
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"conflict"`
	Message string         `json:"message" example:"version conflict"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true"`
}

type bodyBytesKey struct{}

// apiError models the error envelope.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

// New returns an HTTP handler exposing the Mission Control API.
func New(cfg Config) (http.Handler, error) {
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/v0"
	}
	if !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}
	huma.DefaultArrayNullable = false
	huma.NewError = func(status int, msg string, errs ...error) huma.StatusError {
		return newAPIError(status, "", msg, nil)
	}
	huma.NewErrorWithContext = func(_ huma.Context, status int, msg string, errs ...error) huma.StatusError {
		if status == http.StatusUnprocessableEntity && strings.Contains(strings.ToLower(msg), "validation") {
			status = http.StatusBadRequest
		}
		var details map[string]any
		if len(errs) > 0 {
			details = map[string]any{"errors": errs}
		}
		return newAPIError(status, "", msg, details)
	}

	router := chi.NewRouter()
	router.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			data, _ := io.ReadAll(r.Body)
			r.Body = io.NopCloser(bytes.NewBuffer(data))
			ctx := context.WithValue(r.Context(), bodyBytesKey{}, data)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	})
	router.Use(newAuthMiddleware(basePath, cfg.Auth, cfg.Engine.Repo))
	hcfg := huma.DefaultConfig("Mission Control API", "0.1.0")
	hcfg.OpenAPIPath = "/openapi"
	hcfg.DocsPath = ""
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	registerDocs(router, basePath)
	registerHealth(group)
	registerAgents(group, cfg.Engine)
	registerTasks(group, cfg.Engine)
	registerConversations(group, cfg.Engine)
	registerWarRoom(group, cfg.Engine, cfg.Chair)
	registerAudit(group, cfg.Engine)
	registerGateway(group, cfg.Gateway)
	registerOpenAPI(router, api, basePath)

	return router, nil
}

func newAPIError(status int, code, message string, details map[string]any) huma.StatusError {
	if code == "" {
		code = defaultCodeForStatus(status)
	}
	return &apiError{
		status: status,
		Body: apiErrorBody{
			Code:    code,
			Message: message,
			Details: details,
		},
	}
}

func handleError(err error) huma.StatusError {
	if err == nil {
		return nil
	}
	var se huma.StatusError
	if errors.As(err, &se) {
		return se
	}
	var verr *engine.ValidationError
	if errors.As(err, &verr) {
		return newAPIError(http.StatusBadRequest, "validation_failed", err.Error(), map[string]any{"field": verr.Field})
	}
	var denied policy.DeniedError
	if errors.As(err, &denied) {
		return newAPIError(http.StatusForbidden, "denied", err.Error(), map[string]any{"agent_id": denied.AgentID, "capability": denied.Capability})
	}
	var delErr *gateway.DeliveryError
	if errors.As(err, &delErr) {
		return newAPIError(http.StatusBadGateway, "delivery_failed", err.Error(), map[string]any{"reason": delErr.Reason})
	}
	switch {
	case errors.Is(err, repo.ErrNotFound):
		return newAPIError(http.StatusNotFound, "not_found", err.Error(), nil)
	case errors.Is(err, repo.ErrConflict):
		return newAPIError(http.StatusConflict, "conflict", "version conflict; re-read and retry", nil)
	case errors.Is(err, chair.ErrRunInProgress):
		return newAPIError(http.StatusConflict, "run_in_progress", err.Error(), nil)
	default:
		return newAPIError(http.StatusInternalServerError, "internal_error", "internal error", map[string]any{"error": err.Error()})
	}
}

func defaultCodeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "bad_request"
	case http.StatusUnauthorized:
		return "unauthorized"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusConflict:
		return "conflict"
	case http.StatusUnprocessableEntity:
		return "validation_failed"
	case http.StatusForbidden:
		return "forbidden"
	case http.StatusInternalServerError:
		return "internal_error"
	default:
		return strings.ToLower(strings.ReplaceAll(http.StatusText(status), " ", "_"))
	}
}

func registerDocs(r chi.Router, basePath string) {
	r.Get("/docs", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		io.WriteString(w, swaggerHTML(basePath))
	})
}

func registerOpenAPI(r chi.Router, api huma.API, basePath string) {
	var spec []byte
	specPath := path.Join(basePath, "openapi.json")
	r.Get(specPath, func(w http.ResponseWriter, r *http.Request) {
		if spec == nil {
			oas := api.OpenAPI()
			ensureDefaultErrorResponses(oas)
			applyAuthSecurity(oas, basePath)
			spec, _ = json.Marshal(oas)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write(spec)
	})
}

func ensureDefaultErrorResponses(oas *huma.OpenAPI) {
	if oas == nil || oas.Paths == nil {
		return
	}
	for _, item := range oas.Paths {
		for _, op := range []*huma.Operation{item.Get, item.Put, item.Post, item.Delete, item.Patch} {
			if op == nil {
				continue
			}
			if op.Responses == nil {
				op.Responses = map[string]*huma.Response{}
			}
			op.Responses["default"] = &huma.Response{
				Description: "Error",
				Content: map[string]*huma.MediaType{
					"application/json": {Schema: &huma.Schema{Ref: "#/components/schemas/ApiError"}},
				},
			}
		}
	}
}

func applyAuthSecurity(oas *huma.OpenAPI, basePath string) {
	if oas == nil {
		return
	}
	if oas.Components == nil {
		oas.Components = &huma.Components{}
	}
	if oas.Components.SecuritySchemes == nil {
		oas.Components.SecuritySchemes = map[string]*huma.SecurityScheme{}
	}
	oas.Components.SecuritySchemes["bearerAuth"] = &huma.SecurityScheme{Type: "http", Scheme: "bearer", BearerFormat: "JWT"}
	oas.Components.SecuritySchemes["apiKeyAuth"] = &huma.SecurityScheme{Type: "apiKey", In: "header", Name: "X-Api-Key"}
	security := []map[string][]string{{"bearerAuth": {}}, {"apiKeyAuth": {}}}
	oas.Security = security
	healthPath := path.Join("/", basePath, "health")
	for route, item := range oas.Paths {
		for _, op := range []*huma.Operation{item.Get, item.Put, item.Post, item.Delete, item.Patch} {
			if op == nil {
				continue
			}
			if route == healthPath {
				op.Security = []map[string][]string{}
				continue
			}
			op.Security = security
		}
	}
}

func swaggerHTML(basePath string) string {
	specURL := path.Join("/", path.Join(basePath, "openapi.json"))
	return fmt.Sprintf(`<!doctype html>
<html lang="en">
  <head>
    <meta charset="utf-8"/>
    <title>Mission Control API Docs</title>
    <link rel="stylesheet" href="https://unpkg.com/swagger-ui-dist@5/swagger-ui.css" />
  </head>
  <body>
    <div id="swagger-ui"></div>
    <script src="https://unpkg.com/swagger-ui-dist@5/swagger-ui-bundle.js" crossorigin></script>
    <script>
      window.onload = () => { SwaggerUIBundle({ url: '%s', dom_id: '#swagger-ui' }); };
    </script>
  </body>
</html>`, specURL)
}

func registerHealth(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "health",
		Method:      http.MethodGet,
		Path:        "/health",
		Summary:     "Health check",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body map[string]string `json:"body"`
	}, error) {
		return &struct {
			Body map[string]string `json:"body"`
		}{Body: map[string]string{"status": "ok"}}, nil
	})
}

var mutationErrors = []int{
	http.StatusBadRequest,
	http.StatusUnauthorized,
	http.StatusForbidden,
	http.StatusNotFound,
	http.StatusConflict,
	http.StatusInternalServerError,
}

func registerAgents(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-agents",
		Method:      http.MethodGet,
		Path:        "/agents",
		Summary:     "List agents in roster order",
	}, func(ctx context.Context, input *struct {
		EnabledOnly bool   `query:"enabled_only"`
		Role        string `query:"role"`
	}) (*struct {
		Body []domain.Agent `json:"body"`
	}, error) {
		if _, err := actorFromContext(ctx); err != nil {
			return nil, err
		}
		items, err := e.ListAgents(ctx, repo.AgentFilters{EnabledOnly: input.EnabledOnly, Role: input.Role})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.Agent `json:"body"`
		}{Body: items}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "create-agent",
		Method:        http.MethodPost,
		Path:          "/agents",
		Summary:       "Create agent",
		DefaultStatus: http.StatusCreated,
		Errors:        mutationErrors,
	}, func(ctx context.Context, input *struct {
		Body CreateAgentRequest `json:"body"`
	}) (*struct {
		Body domain.Agent `json:"body"`
	}, error) {
		actor, authErr := writerFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		b := input.Body
		opts := engine.AgentCreateOptions{
			ID:               derefOr(b.ID, ""),
			Name:             b.Name,
			Role:             b.Role,
			SoulMD:           derefOr(b.SoulMD, ""),
			Model:            derefOr(b.Model, ""),
			CapabilityHandle: derefOr(b.CapabilityHandle, ""),
			Enabled:          b.Enabled,
			SortOrder:        derefOr(b.SortOrder, 0),
			SkillsAllow:      b.SkillsAllow,
			OutputContract:   b.OutputContract,
			Actor:            actor,
		}
		if b.ExecutionPolicy != nil {
			opts.ExecutionPolicy = *b.ExecutionPolicy
		}
		if b.Constraints != nil {
			data, err := json.Marshal(b.Constraints)
			if err != nil {
				return nil, newAPIError(http.StatusBadRequest, "bad_request", "invalid constraints", nil)
			}
			opts.ConstraintsJSON = string(data)
		}
		a, err := e.CreateAgent(ctx, opts)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Agent `json:"body"`
		}{Body: a}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-agent",
		Method:      http.MethodGet,
		Path:        "/agents/{id}",
		Summary:     "Get agent",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body domain.Agent `json:"body"`
	}, error) {
		if _, err := actorFromContext(ctx); err != nil {
			return nil, err
		}
		a, err := e.GetAgent(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Agent `json:"body"`
		}{Body: a}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-agent",
		Method:      http.MethodPatch,
		Path:        "/agents/{id}",
		Summary:     "Update agent",
		Description: "Fields are patched with an optional expected_version check. enabled toggles participation; work_state may only be set by the agent itself.",
		Errors:      mutationErrors,
	}, func(ctx context.Context, input *struct {
		ID   string             `path:"id"`
		Body UpdateAgentRequest `json:"body"`
	}) (*struct {
		Body domain.Agent `json:"body"`
	}, error) {
		actor, authErr := writerFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		b := input.Body
		opts := engine.AgentUpdateOptions{
			ID:               input.ID,
			ExpectedVersion:  b.ExpectedVersion,
			Name:             b.Name,
			Role:             b.Role,
			SoulMD:           b.SoulMD,
			Model:            b.Model,
			CapabilityHandle: b.CapabilityHandle,
			SortOrder:        b.SortOrder,
			SkillsAllow:      b.SkillsAllow,
			ExecutionPolicy:  b.ExecutionPolicy,
			OutputContract:   b.OutputContract,
			Actor:            actor,
		}
		if b.Constraints != nil {
			data, err := json.Marshal(*b.Constraints)
			if err != nil {
				return nil, newAPIError(http.StatusBadRequest, "bad_request", "invalid constraints", nil)
			}
			s := string(data)
			opts.ConstraintsJSON = &s
		}
		a, err := e.UpdateAgent(ctx, opts)
		if err != nil {
			return nil, handleError(err)
		}
		if b.Enabled != nil {
			if a, err = e.SetAgentEnabled(ctx, input.ID, *b.Enabled, actor); err != nil {
				return nil, handleError(err)
			}
		}
		if b.WorkState != nil {
			if a, err = e.UpdateWorkState(ctx, input.ID, *b.WorkState, actor); err != nil {
				return nil, handleError(err)
			}
		}
		return &struct {
			Body domain.Agent `json:"body"`
		}{Body: a}, nil
	})
}

func registerTasks(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-tasks",
		Method:      http.MethodGet,
		Path:        "/tasks",
		Summary:     "List tasks",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Status       string `query:"status" doc:"BACKLOG, READY, DOING, BLOCKED, REVIEW or DONE"`
		OwnerAgentID string `query:"owner_agent_id"`
		Limit        int    `query:"limit"`
	}) (*struct {
		Body []domain.Task `json:"body"`
	}, error) {
		if _, err := actorFromContext(ctx); err != nil {
			return nil, err
		}
		if input.Status != "" && !domain.TaskStatus(input.Status).Valid() {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "invalid status", map[string]any{"status": input.Status})
		}
		items, err := e.ListTasks(ctx, repo.TaskFilters{
			Status:       domain.TaskStatus(input.Status),
			OwnerAgentID: input.OwnerAgentID,
			Limit:        input.Limit,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.Task `json:"body"`
		}{Body: items}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "create-task",
		Method:        http.MethodPost,
		Path:          "/tasks",
		Summary:       "Create task",
		DefaultStatus: http.StatusCreated,
		Errors:        mutationErrors,
	}, func(ctx context.Context, input *struct {
		Body CreateTaskRequest `json:"body"`
	}) (*struct {
		Body domain.Task `json:"body"`
	}, error) {
		actor, authErr := writerFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if strings.TrimSpace(input.Body.Title) == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "title is required", nil)
		}
		b := input.Body
		t, err := e.CreateTask(ctx, engine.TaskCreateOptions{
			ID:           derefOr(b.ID, ""),
			Title:        b.Title,
			Description:  derefOr(b.Description, ""),
			Status:       domain.TaskStatus(derefOr(b.Status, "")),
			Priority:     derefOr(b.Priority, 0),
			SortOrder:    b.SortOrder,
			OwnerAgentID: derefOr(b.OwnerAgentID, ""),
			Actor:        actor,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Task `json:"body"`
		}{Body: t}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-task",
		Method:      http.MethodGet,
		Path:        "/tasks/{id}",
		Summary:     "Get task",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body domain.Task `json:"body"`
	}, error) {
		if _, err := actorFromContext(ctx); err != nil {
			return nil, err
		}
		t, err := e.GetTask(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Task `json:"body"`
		}{Body: t}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-task",
		Method:      http.MethodPatch,
		Path:        "/tasks/{id}",
		Summary:     "Update task",
		Description: "Any status may move to any status. Send expected_version to fail with 409 when the task changed since it was read.",
		Errors:      mutationErrors,
	}, func(ctx context.Context, input *struct {
		ID   string            `path:"id"`
		Body UpdateTaskRequest `json:"body"`
	}) (*struct {
		Body domain.Task `json:"body"`
	}, error) {
		actor, authErr := writerFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		b := input.Body
		opts := engine.TaskUpdateOptions{
			ID:              input.ID,
			ExpectedVersion: b.ExpectedVersion,
			Title:           b.Title,
			Description:     b.Description,
			Priority:        b.Priority,
			SortOrder:       b.SortOrder,
			ClearSortOrder:  b.ClearSortOrder,
			OwnerAgentID:    b.OwnerAgentID,
			Actor:           actor,
		}
		if b.Status != nil {
			s := domain.TaskStatus(*b.Status)
			opts.Status = &s
		}
		t, err := e.UpdateTask(ctx, opts)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Task `json:"body"`
		}{Body: t}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "board",
		Method:      http.MethodGet,
		Path:        "/board",
		Summary:     "Task board by column",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []engine.BoardColumn `json:"body"`
	}, error) {
		if _, err := actorFromContext(ctx); err != nil {
			return nil, err
		}
		cols, err := e.Board(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []engine.BoardColumn `json:"body"`
		}{Body: cols}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "task-conversation",
		Method:      http.MethodGet,
		Path:        "/tasks/{id}/conversation",
		Summary:     "Get or open the task's conversation",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body ConversationResponse `json:"body"`
	}, error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		c, err := e.TaskConversation(ctx, input.ID, actor)
		if err != nil {
			return nil, handleError(err)
		}
		turns, err := e.ReadTurns(ctx, c.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ConversationResponse `json:"body"`
		}{Body: ConversationResponse{Conversation: c, Turns: mapTurns(turns)}}, nil
	})
}

func registerConversations(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-conversation",
		Method:        http.MethodPost,
		Path:          "/conversations",
		Summary:       "Create conversation",
		DefaultStatus: http.StatusCreated,
		Errors:        mutationErrors,
	}, func(ctx context.Context, input *struct {
		Body CreateConversationRequest `json:"body"`
	}) (*struct {
		Body domain.Conversation `json:"body"`
	}, error) {
		actor, authErr := writerFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		c, err := e.CreateConversation(ctx, domain.ConversationType(input.Body.Type), derefOr(input.Body.TaskID, ""), actor)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Conversation `json:"body"`
		}{Body: c}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-conversation",
		Method:      http.MethodGet,
		Path:        "/conversations/{id}",
		Summary:     "Get conversation with its turns in order",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body ConversationResponse `json:"body"`
	}, error) {
		if _, err := actorFromContext(ctx); err != nil {
			return nil, err
		}
		c, err := e.GetConversation(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		turns, err := e.ReadTurns(ctx, c.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ConversationResponse `json:"body"`
		}{Body: ConversationResponse{Conversation: c, Turns: mapTurns(turns)}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "append-turn",
		Method:        http.MethodPost,
		Path:          "/conversations/{id}/turns",
		Summary:       "Append a turn",
		DefaultStatus: http.StatusCreated,
		Errors:        mutationErrors,
	}, func(ctx context.Context, input *struct {
		ID   string            `path:"id"`
		Body AppendTurnRequest `json:"body"`
	}) (*struct {
		Body TurnResponse `json:"body"`
	}, error) {
		actor, authErr := writerFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		in := engine.TurnInput{
			SpeakerType: input.Body.SpeakerType,
			SpeakerID:   actor.ID,
			Content:     input.Body.Content,
		}
		if in.SpeakerType == "" {
			in.SpeakerType = domain.SpeakerOperator
		}
		if input.Body.ToolEvents != nil {
			data, err := json.Marshal(input.Body.ToolEvents)
			if err != nil {
				return nil, newAPIError(http.StatusBadRequest, "bad_request", "invalid tool_events", nil)
			}
			in.ToolEventsJSON = string(data)
		}
		turn, err := e.AppendTurn(ctx, input.ID, in, actor)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body TurnResponse `json:"body"`
		}{Body: turnResponse(turn)}, nil
	})
}

func registerWarRoom(api huma.API, e engine.Engine, c *chair.Chair) {
	huma.Register(api, huma.Operation{
		OperationID:   "run-war-room",
		Method:        http.MethodPost,
		Path:          "/war-room/runs",
		Summary:       "Run the war-room meeting now",
		Description:   "Runs synchronously. A failed delivery answers 502 with the run id; the run and its transcript are kept.",
		DefaultStatus: http.StatusCreated,
		Errors:        append([]int{http.StatusBadGateway}, mutationErrors...),
	}, func(ctx context.Context, input *struct {
		Body *RunMeetingRequest `json:"body,omitempty" required:"false"`
	}) (*struct {
		Body domain.WarRoomRun `json:"body"`
	}, error) {
		actor, authErr := writerFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if c == nil {
			return nil, newAPIError(http.StatusServiceUnavailable, "unavailable", "war room not configured", nil)
		}
		opts := chair.RunOptions{TriggeredBy: actor.ID}
		if input.Body != nil {
			opts.Slot = derefOr(input.Body.Slot, "")
		}
		run, err := c.RunMeeting(ctx, opts)
		if err != nil {
			var delErr *gateway.DeliveryError
			if errors.As(err, &delErr) && run.ID != "" {
				return nil, newAPIError(http.StatusBadGateway, "delivery_failed", err.Error(), map[string]any{
					"run_id":          run.ID,
					"conversation_id": run.ConversationID,
					"reason":          delErr.Reason,
				})
			}
			return nil, handleError(err)
		}
		return &struct {
			Body domain.WarRoomRun `json:"body"`
		}{Body: run}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-war-room-runs",
		Method:      http.MethodGet,
		Path:        "/war-room/runs",
		Summary:     "List runs newest first",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Limit  int    `query:"limit" default:"20"`
		Cursor string `query:"cursor"`
	}) (*struct {
		Body paginatedRuns `json:"body"`
	}, error) {
		if _, err := actorFromContext(ctx); err != nil {
			return nil, err
		}
		runs, next, err := e.ListRuns(ctx, normalizeLimit(input.Limit), input.Cursor)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body paginatedRuns `json:"body"`
		}{Body: paginatedRuns{Items: runs, NextCursor: next}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-war-room-run",
		Method:      http.MethodGet,
		Path:        "/war-room/runs/{id}",
		Summary:     "Get run",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body domain.WarRoomRun `json:"body"`
	}, error) {
		if _, err := actorFromContext(ctx); err != nil {
			return nil, err
		}
		run, err := e.GetRun(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.WarRoomRun `json:"body"`
		}{Body: run}, nil
	})
}

func registerAudit(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-audit",
		Method:      http.MethodGet,
		Path:        "/audit",
		Summary:     "List audit events, most recent first",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Actor      string `query:"actor"`
		Action     string `query:"action"`
		EntityType string `query:"entity_type"`
		EntityID   string `query:"entity_id"`
		Limit      int    `query:"limit" default:"50"`
		Cursor     string `query:"cursor"`
	}) (*struct {
		Body paginatedAudit `json:"body"`
	}, error) {
		if _, err := actorFromContext(ctx); err != nil {
			return nil, err
		}
		limit := normalizeLimit(input.Limit)
		var cursor int64
		if input.Cursor != "" {
			parsed, err := strconv.ParseInt(input.Cursor, 10, 64)
			if err != nil {
				return nil, newAPIError(http.StatusBadRequest, "bad_request", "invalid cursor", map[string]any{"cursor": input.Cursor})
			}
			cursor = parsed
		}
		items, err := e.ListAudit(ctx, repo.AuditFilters{
			Actor:      input.Actor,
			Action:     input.Action,
			EntityType: input.EntityType,
			EntityID:   input.EntityID,
			Cursor:     cursor,
			Limit:      limit + 1,
		})
		if err != nil {
			return nil, handleError(err)
		}
		resp := paginatedAudit{Items: []AuditEventResponse{}}
		if len(items) > limit {
			items = items[:limit]
			resp.NextCursor = strconv.FormatInt(items[limit-1].ID, 10)
		}
		for _, evt := range items {
			resp.Items = append(resp.Items, auditEventResponse(evt))
		}
		return &struct {
			Body paginatedAudit `json:"body"`
		}{Body: resp}, nil
	})
}

func registerGateway(api huma.API, client *gateway.Client) {
	huma.Register(api, huma.Operation{
		OperationID: "gateway-status",
		Method:      http.MethodGet,
		Path:        "/gateway/status",
		Summary:     "Probe the agent gateway",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body gateway.Status `json:"body"`
	}, error) {
		if _, err := actorFromContext(ctx); err != nil {
			return nil, err
		}
		return &struct {
			Body gateway.Status `json:"body"`
		}{Body: client.Probe(ctx)}, nil
	})
}

func normalizeLimit(in int) int {
	if in <= 0 {
		return 50
	}
	if in > 200 {
		return 200
	}
	return in
}

func derefOr[T any](ptr *T, fallback T) T {
	if ptr == nil {
		return fallback
	}
	return *ptr
}
