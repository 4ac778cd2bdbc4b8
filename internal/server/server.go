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
	"strings"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	log "github.com/sirupsen/logrus"

	"projectservice/internal/domain"
	"projectservice/internal/engine"
	"projectservice/internal/filter"
	"projectservice/internal/repo"
)

// Config for the HTTP API handler.
type Config struct {
	Engine   engine.Engine
	BasePath string
	Auth     AuthConfig
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"validation_failed"`
	Message string         `json:"message" example:"a rejection reason is required"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true"`
}

type requestKey struct{}
type bodyBytesKey struct{}

// apiError models the error envelope.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

// New returns an HTTP handler exposing the project service API.
func New(cfg Config) (http.Handler, error) {
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/v1"
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
			// Schema/request validation errors are 400 bad_request
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
			bodyBytes, _ := io.ReadAll(r.Body)
			r.Body = io.NopCloser(bytes.NewBuffer(bodyBytes))
			ctx := context.WithValue(r.Context(), requestKey{}, r)
			ctx = context.WithValue(ctx, bodyBytesKey{}, bodyBytes)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	})
	router.Use(newAuthMiddleware(basePath, cfg.Auth))
	hcfg := huma.DefaultConfig("Project Service API", "1.0.0")
	hcfg.OpenAPIPath = "/openapi"
	hcfg.DocsPath = ""
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	registerDocs(router, basePath)
	registerHealth(group)
	registerProjects(group, cfg.Engine)
	registerTeams(group, cfg.Engine)
	registerStages(group, cfg.Engine)
	registerTasks(group, cfg.Engine)
	registerInvitations(group, cfg.Engine)
	registerEvents(group, cfg.Engine)
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
	var nf engine.NotFoundError
	if errors.As(err, &nf) {
		return newAPIError(http.StatusNotFound, "not_found", err.Error(), map[string]any{"entity": nf.Entity, "id": nf.ID})
	}
	if errors.Is(err, repo.ErrNotFound) {
		return newAPIError(http.StatusNotFound, "not_found", err.Error(), nil)
	}
	var ve engine.ValidationError
	if errors.As(err, &ve) {
		return newAPIError(http.StatusUnprocessableEntity, "validation_failed", ve.Message, nil)
	}
	var ce engine.ConflictError
	if errors.As(err, &ce) {
		return newAPIError(http.StatusConflict, "conflict", ce.Message, nil)
	}
	log.WithError(err).Error("request failed")
	return newAPIError(http.StatusInternalServerError, "internal_error", "internal error", map[string]any{"error": err.Error()})
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
	case http.StatusInternalServerError:
		return "internal_error"
	default:
		return strings.ToLower(strings.ReplaceAll(http.StatusText(status), " ", "_"))
	}
}

func registerDocs(r chi.Router, basePath string) {
	r.Get(path.Join(basePath, "docs"), func(w http.ResponseWriter, r *http.Request) {
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

// eachOperation visits every operation of the document with its route.
func eachOperation(oas *huma.OpenAPI, fn func(route string, op *huma.Operation)) {
	for route, item := range oas.Paths {
		for _, op := range []*huma.Operation{item.Get, item.Put, item.Post, item.Delete, item.Patch} {
			if op != nil {
				fn(route, op)
			}
		}
	}
}

// ensureDefaultErrorResponses documents the error envelope as the default
// response of every operation.
func ensureDefaultErrorResponses(oas *huma.OpenAPI) {
	if oas == nil {
		return
	}
	envelope := &huma.Response{
		Description: "Error envelope",
		Content: map[string]*huma.MediaType{
			"application/json": {Schema: &huma.Schema{Ref: "#/components/schemas/ApiError"}},
		},
	}
	eachOperation(oas, func(_ string, op *huma.Operation) {
		if op.Responses == nil {
			op.Responses = map[string]*huma.Response{}
		}
		op.Responses["default"] = envelope
	})
}

// applyAuthSecurity marks every operation but health as bearer protected.
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
	oas.Components.SecuritySchemes["bearerAuth"] = &huma.SecurityScheme{
		Type:         "http",
		Scheme:       "bearer",
		BearerFormat: "JWT",
		Description:  "HS256 token whose subject is the caller's team member id.",
	}
	bearer := []map[string][]string{{"bearerAuth": {}}}
	oas.Security = bearer
	open := path.Join("/", basePath, "health")
	eachOperation(oas, func(route string, op *huma.Operation) {
		if route == open {
			op.Security = []map[string][]string{}
			return
		}
		op.Security = bearer
	})
}

func swaggerHTML(basePath string) string {
	specURL := path.Join("/", path.Join(basePath, "openapi.json"))
	return fmt.Sprintf(`<!doctype html>
<html lang="en">
  <head>
    <meta charset="utf-8"/>
    <meta name="viewport" content="width=device-width, initial-scale=1"/>
    <title>Project Service API Docs</title>
    <link rel="stylesheet" href="https://unpkg.com/swagger-ui-dist@5/swagger-ui.css" />
  </head>
  <body>
    <div id="swagger-ui"></div>
    <script src="https://unpkg.com/swagger-ui-dist@5/swagger-ui-bundle.js" crossorigin></script>
    <script>
      window.onload = () => {
        SwaggerUIBundle({
          url: '%s',
          dom_id: '#swagger-ui'
        });
      };
    </script>
    <p style="padding: 1rem; font-family: sans-serif; color: #444;">
      Authenticate with Authorization: Bearer &lt;token&gt;.
    </p>
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

func registerProjects(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-project",
		Method:        http.MethodPost,
		Path:          "/projects",
		Summary:       "Create project",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusNotFound,
			http.StatusConflict,
			http.StatusUnprocessableEntity,
		},
	}, func(ctx context.Context, input *struct {
		Body CreateProjectRequest `json:"body"`
	}) (*struct {
		Body domain.Project `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		p, err := e.CreateProject(ctx, engine.CreateProjectOptions{
			Name:        input.Body.Name,
			Description: stringOrEmpty(input.Body.Description),
			OwnerID:     input.Body.OwnerID,
			ParentID:    stringOrEmpty(input.Body.ParentID),
			Visibility:  stringOrEmpty(input.Body.Visibility),
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Project `json:"body"`
		}{Body: p}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-projects",
		Method:      http.MethodGet,
		Path:        "/projects",
		Summary:     "List projects visible to the caller",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Name       string `query:"name"`
		Status     string `query:"status"`
		Visibility string `query:"visibility"`
	}) (*struct {
		Body []domain.Project `json:"body"`
	}, error) {
		viewer, err := viewerUserID(ctx, e)
		if err != nil {
			return nil, handleError(err)
		}
		items, err := e.ListProjects(ctx, viewer, filter.ProjectCriteria{
			NamePattern: input.Name,
			Status:      input.Status,
			Visibility:  input.Visibility,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.Project `json:"body"`
		}{Body: items}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-project",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}",
		Summary:     "Get project",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ProjectID string `path:"project_id"`
	}) (*struct {
		Body domain.Project `json:"body"`
	}, error) {
		p, err := e.GetProject(ctx, input.ProjectID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Project `json:"body"`
		}{Body: p}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-project",
		Method:      http.MethodPatch,
		Path:        "/projects/{project_id}",
		Summary:     "Update project",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusNotFound,
			http.StatusUnprocessableEntity,
		},
	}, func(ctx context.Context, input *struct {
		ProjectID string               `path:"project_id"`
		Body      UpdateProjectRequest `json:"body"`
	}) (*struct {
		Body domain.Project `json:"body"`
	}, error) {
		memberID, authErr := memberIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		p, err := e.UpdateProject(ctx, engine.UpdateProjectOptions{
			ID:          input.ProjectID,
			Name:        input.Body.Name,
			Description: input.Body.Description,
			Status:      input.Body.Status,
			Visibility:  input.Body.Visibility,
			ActorID:     memberID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Project `json:"body"`
		}{Body: p}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "delete-project",
		Method:      http.MethodDelete,
		Path:        "/projects/{project_id}",
		Summary:     "Soft-delete project",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ProjectID string `path:"project_id"`
	}) (*struct {
		Body domain.Project `json:"body"`
	}, error) {
		memberID, authErr := memberIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		p, err := e.DeleteProject(ctx, input.ProjectID, memberID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Project `json:"body"`
		}{Body: p}, nil
	})
}

func registerTeams(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-team",
		Method:        http.MethodPost,
		Path:          "/projects/{project_id}/teams",
		Summary:       "Create team",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusNotFound, http.StatusUnprocessableEntity},
	}, func(ctx context.Context, input *struct {
		ProjectID string `path:"project_id"`
	}) (*struct {
		Body domain.Team `json:"body"`
	}, error) {
		memberID, authErr := memberIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		t, err := e.CreateTeam(ctx, input.ProjectID, memberID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Team `json:"body"`
		}{Body: t}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "add-team-member",
		Method:        http.MethodPost,
		Path:          "/teams/{team_id}/members",
		Summary:       "Add team member",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusNotFound,
			http.StatusUnprocessableEntity,
		},
	}, func(ctx context.Context, input *struct {
		TeamID string               `path:"team_id"`
		Body   AddTeamMemberRequest `json:"body"`
	}) (*struct {
		Body domain.TeamMember `json:"body"`
	}, error) {
		memberID, authErr := memberIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		m, err := e.AddTeamMember(ctx, engine.AddTeamMemberOptions{
			TeamID:  input.TeamID,
			UserID:  input.Body.UserID,
			Roles:   input.Body.Roles,
			ActorID: memberID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.TeamMember `json:"body"`
		}{Body: m}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-project-members",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}/members",
		Summary:     "List project roster",
		Errors:      []int{http.StatusNotFound, http.StatusUnprocessableEntity},
	}, func(ctx context.Context, input *struct {
		ProjectID string `path:"project_id"`
		Role      string `query:"role"`
		UserID    string `query:"user_id"`
	}) (*struct {
		Body []domain.TeamMember `json:"body"`
	}, error) {
		items, err := e.ListProjectMembers(ctx, input.ProjectID, filter.MemberCriteria{RolePattern: input.Role, UserID: input.UserID})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.TeamMember `json:"body"`
		}{Body: items}, nil
	})
}

func registerStages(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-stage",
		Method:        http.MethodPost,
		Path:          "/projects/{project_id}/stages",
		Summary:       "Create stage",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusNotFound,
			http.StatusUnprocessableEntity,
		},
	}, func(ctx context.Context, input *struct {
		ProjectID string             `path:"project_id"`
		Body      CreateStageRequest `json:"body"`
	}) (*struct {
		Body domain.Stage `json:"body"`
	}, error) {
		memberID, authErr := memberIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		s, err := e.CreateStage(ctx, engine.CreateStageOptions{
			ProjectID: input.ProjectID,
			Name:      input.Body.Name,
			Roles:     requirements(input.Body.Roles),
			Executors: input.Body.Executors,
			ActorID:   memberID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Stage `json:"body"`
		}{Body: s}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-stages",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}/stages",
		Summary:     "List stages",
		Errors:      []int{http.StatusNotFound, http.StatusUnprocessableEntity},
	}, func(ctx context.Context, input *struct {
		ProjectID  string `path:"project_id"`
		Role       string `query:"role"`
		TaskStatus string `query:"task_status"`
	}) (*struct {
		Body []domain.Stage `json:"body"`
	}, error) {
		items, err := e.ListProjectStages(ctx, input.ProjectID, filter.StageCriteria{
			TeamRolePattern:   input.Role,
			TaskStatusPattern: input.TaskStatus,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.Stage `json:"body"`
		}{Body: items}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-stage",
		Method:      http.MethodGet,
		Path:        "/stages/{stage_id}",
		Summary:     "Get stage",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		StageID string `path:"stage_id"`
	}) (*struct {
		Body domain.Stage `json:"body"`
	}, error) {
		s, err := e.GetStage(ctx, input.StageID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Stage `json:"body"`
		}{Body: s}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-stage",
		Method:      http.MethodPatch,
		Path:        "/stages/{stage_id}",
		Summary:     "Update stage and fulfill its roles",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusNotFound,
			http.StatusConflict,
			http.StatusUnprocessableEntity,
		},
	}, func(ctx context.Context, input *struct {
		StageID string             `path:"stage_id"`
		Body    UpdateStageRequest `json:"body"`
	}) (*struct {
		Body FulfillmentResponse `json:"body"`
	}, error) {
		memberID, authErr := memberIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		res, err := e.UpdateStage(ctx, engine.StageUpdate{
			ID:      input.StageID,
			Name:    input.Body.Name,
			Roles:   requirements(input.Body.Roles),
			Version: input.Body.Version,
			ActorID: memberID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body FulfillmentResponse `json:"body"`
		}{Body: fulfillmentResponse(res)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "fulfill-stage",
		Method:      http.MethodPost,
		Path:        "/stages/{stage_id}/fulfill",
		Summary:     "Invite roster members to cover required roles",
		Errors:      []int{http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		StageID string `path:"stage_id"`
	}) (*struct {
		Body FulfillmentResponse `json:"body"`
	}, error) {
		memberID, authErr := memberIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		res, err := e.FulfillStageRoles(ctx, input.StageID, memberID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body FulfillmentResponse `json:"body"`
		}{Body: fulfillmentResponse(res)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "delete-stage",
		Method:      http.MethodDelete,
		Path:        "/stages/{stage_id}",
		Summary:     "Delete stage",
		Description: "action is CASCADE, CLOSE or TRANSFER; TRANSFER needs transfer_to.",
		Errors: []int{
			http.StatusNotFound,
			http.StatusConflict,
			http.StatusUnprocessableEntity,
		},
	}, func(ctx context.Context, input *struct {
		StageID    string `path:"stage_id"`
		Action     string `query:"action"`
		TransferTo string `query:"transfer_to"`
	}) (*struct {
		Body engine.DeleteStageResult `json:"body"`
	}, error) {
		memberID, authErr := memberIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		res, err := e.DeleteStage(ctx, engine.DeleteStageOptions{
			StageID:    input.StageID,
			Action:     input.Action,
			TransferTo: input.TransferTo,
			ActorID:    memberID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body engine.DeleteStageResult `json:"body"`
		}{Body: res}, nil
	})
}

func registerTasks(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-task",
		Method:        http.MethodPost,
		Path:          "/projects/{project_id}/tasks",
		Summary:       "Create task",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusNotFound,
			http.StatusUnprocessableEntity,
		},
	}, func(ctx context.Context, input *struct {
		ProjectID string            `path:"project_id"`
		Body      CreateTaskRequest `json:"body"`
	}) (*struct {
		Body domain.Task `json:"body"`
	}, error) {
		memberID, authErr := memberIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		t, err := e.CreateTask(ctx, engine.CreateTaskOptions{
			ProjectID:   input.ProjectID,
			StageID:     stringOrEmpty(input.Body.StageID),
			Name:        input.Body.Name,
			Description: stringOrEmpty(input.Body.Description),
			PerformerID: stringOrEmpty(input.Body.PerformerID),
			ActorID:     memberID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Task `json:"body"`
		}{Body: t}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-tasks",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}/tasks",
		Summary:     "List tasks",
		Errors:      []int{http.StatusUnprocessableEntity},
	}, func(ctx context.Context, input *struct {
		ProjectID   string `path:"project_id"`
		Status      string `query:"status"`
		StageID     string `query:"stage_id"`
		PerformerID string `query:"performer_id"`
	}) (*struct {
		Body []domain.Task `json:"body"`
	}, error) {
		items, err := e.ListTasks(ctx, input.ProjectID, filter.TaskCriteria{
			Status:      input.Status,
			StageID:     input.StageID,
			PerformerID: input.PerformerID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.Task `json:"body"`
		}{Body: items}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "set-task-status",
		Method:      http.MethodPatch,
		Path:        "/tasks/{task_id}/status",
		Summary:     "Change task status",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusNotFound,
			http.StatusUnprocessableEntity,
		},
	}, func(ctx context.Context, input *struct {
		TaskID string               `path:"task_id"`
		Body   SetTaskStatusRequest `json:"body"`
	}) (*struct {
		Body domain.Task `json:"body"`
	}, error) {
		memberID, authErr := memberIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		t, err := e.UpdateTaskStatus(ctx, input.TaskID, input.Body.Status, memberID, input.Body.Force)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Task `json:"body"`
		}{Body: t}, nil
	})
}

func registerInvitations(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "send-invitation",
		Method:        http.MethodPost,
		Path:          "/stages/{stage_id}/invitations",
		Summary:       "Invite a member to a stage",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusNotFound,
			http.StatusConflict,
			http.StatusUnprocessableEntity,
		},
	}, func(ctx context.Context, input *struct {
		StageID string                `path:"stage_id"`
		Body    SendInvitationRequest `json:"body"`
	}) (*struct {
		Body domain.StageInvitation `json:"body"`
	}, error) {
		memberID, authErr := memberIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		inv, err := e.SendInvitation(ctx, engine.SendInvitationOptions{
			StageID:   input.StageID,
			AuthorID:  memberID,
			InvitedID: input.Body.InvitedID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.StageInvitation `json:"body"`
		}{Body: inv}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-my-invitations",
		Method:      http.MethodGet,
		Path:        "/invitations",
		Summary:     "List invitations addressed to the caller",
		Errors:      []int{http.StatusUnprocessableEntity},
	}, func(ctx context.Context, input *struct {
		Status   string `query:"status"`
		StageID  string `query:"stage_id"`
		AuthorID string `query:"author_id"`
	}) (*struct {
		Body []domain.StageInvitation `json:"body"`
	}, error) {
		memberID, authErr := memberIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		items, err := e.ListInvitationsForMember(ctx, memberID, filter.InvitationCriteria{
			Status:   input.Status,
			StageID:  input.StageID,
			AuthorID: input.AuthorID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.StageInvitation `json:"body"`
		}{Body: items}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "accept-invitation",
		Method:      http.MethodPost,
		Path:        "/invitations/{invitation_id}/accept",
		Summary:     "Accept invitation",
		Errors: []int{
			http.StatusNotFound,
			http.StatusConflict,
			http.StatusUnprocessableEntity,
		},
	}, func(ctx context.Context, input *struct {
		InvitationID string `path:"invitation_id"`
	}) (*struct {
		Body domain.StageInvitation `json:"body"`
	}, error) {
		memberID, authErr := memberIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		inv, err := e.AcceptInvitation(ctx, input.InvitationID, memberID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.StageInvitation `json:"body"`
		}{Body: inv}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "reject-invitation",
		Method:      http.MethodPost,
		Path:        "/invitations/{invitation_id}/reject",
		Summary:     "Reject invitation with a reason",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusNotFound,
			http.StatusConflict,
			http.StatusUnprocessableEntity,
		},
	}, func(ctx context.Context, input *struct {
		InvitationID string                  `path:"invitation_id"`
		Body         RejectInvitationRequest `json:"body"`
	}) (*struct {
		Body domain.StageInvitation `json:"body"`
	}, error) {
		memberID, authErr := memberIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		inv, err := e.RejectInvitation(ctx, input.InvitationID, memberID, input.Body.Reason)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.StageInvitation `json:"body"`
		}{Body: inv}, nil
	})
}

func registerEvents(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-events",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}/events",
		Summary:     "List audit events, newest first",
	}, func(ctx context.Context, input *struct {
		ProjectID string `path:"project_id"`
		Limit     int    `query:"limit"`
	}) (*struct {
		Body []domain.Event `json:"body"`
	}, error) {
		items, err := e.ListEvents(ctx, input.ProjectID, normalizeLimit(input.Limit))
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.Event `json:"body"`
		}{Body: items}, nil
	})
}

func bodyBytes(ctx context.Context) []byte {
	if buf, ok := ctx.Value(bodyBytesKey{}).([]byte); ok {
		return buf
	}
	req, ok := ctx.Value(requestKey{}).(*http.Request)
	if !ok || req == nil {
		return nil
	}
	data, _ := io.ReadAll(req.Body)
	return data
}

// viewerUserID resolves the caller's user id for visibility checks. A
// principal that is not a team member is taken as a bare user id.
func viewerUserID(ctx context.Context, e engine.Engine) (string, error) {
	p, ok := principalFromContext(ctx)
	if !ok {
		return "", nil
	}
	m, err := e.GetTeamMember(ctx, p.MemberID)
	if errors.Is(err, repo.ErrNotFound) {
		return p.MemberID, nil
	}
	if err != nil {
		return "", err
	}
	return m.UserID, nil
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

func stringOrEmpty(ptr *string) string {
	if ptr == nil {
		return ""
	}
	return *ptr
}
