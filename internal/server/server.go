package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"strconv"
	"strings"
	"sync"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"creativeline/internal/app"
	"creativeline/internal/domain"
	"creativeline/internal/engine"
	"creativeline/internal/gallery"
	"creativeline/internal/prescreen"
	"creativeline/internal/repo"
	"creativeline/internal/session"
)

const maxAssetBytes = 20 << 20

// Config for the HTTP API handler.
type Config struct {
	Studio   *app.Studio
	Gallery  gallery.Service
	BasePath string
	Log      zerolog.Logger
	// Credentials is used when a request carries no Authorization header.
	Credentials session.Provider
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"missing_assets"`
	Message string         `json:"message" example:"upload product and logo"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true"`
}

// apiError models the error envelope.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

// New returns an HTTP handler exposing the local studio API.
func New(cfg Config) (http.Handler, error) {
	if cfg.Studio == nil {
		return nil, fmt.Errorf("server: studio required")
	}
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
			msgs := make([]string, 0, len(errs))
			for _, e := range errs {
				msgs = append(msgs, e.Error())
			}
			details = map[string]any{"errors": msgs}
		}
		return newAPIError(status, "", msg, details)
	}

	router := chi.NewRouter()
	router.Use(newRequestLogger(cfg.Log))
	router.Use(newCredentialMiddleware(basePath, cfg.Credentials))
	hcfg := huma.DefaultConfig("Creativeline API", "0.1.0")
	hcfg.OpenAPIPath = "/openapi"
	hcfg.DocsPath = ""
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	registerDocs(router, basePath)
	registerHealth(group)
	registerDrafts(group, cfg.Studio)
	registerAssets(group, cfg.Studio)
	registerAttempts(group, cfg.Studio)
	registerEvents(group, cfg.Studio)
	registerPrescreen(group)
	registerGallery(group, cfg.Gallery)
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
	switch {
	case errors.Is(err, repo.ErrNotFound):
		return newAPIError(http.StatusNotFound, "not_found", err.Error(), nil)
	case errors.Is(err, engine.ErrMissingAssets):
		return newAPIError(http.StatusUnprocessableEntity, "missing_assets", err.Error(), nil)
	case errors.Is(err, engine.ErrAttemptInFlight):
		return newAPIError(http.StatusConflict, "attempt_in_flight", err.Error(), nil)
	case errors.Is(err, engine.ErrActionUnavailable):
		return newAPIError(http.StatusConflict, "action_unavailable", err.Error(), nil)
	case errors.Is(err, gallery.ErrNoCredential):
		return newAPIError(http.StatusUnauthorized, "unauthorized", err.Error(), nil)
	}
	msg := err.Error()
	lowered := strings.ToLower(msg)
	switch {
	case strings.Contains(lowered, "invalid") || strings.Contains(lowered, "unknown") ||
		strings.Contains(lowered, "at most") || strings.Contains(lowered, "empty"):
		return newAPIError(http.StatusBadRequest, "bad_request", msg, nil)
	default:
		return newAPIError(http.StatusInternalServerError, "internal_error", "internal error", map[string]any{"error": msg})
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
	case http.StatusBadGateway:
		return "upstream_error"
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
	var (
		once sync.Once
		spec []byte
	)
	specPath := path.Join(basePath, "openapi.json")
	r.Get(specPath, func(w http.ResponseWriter, r *http.Request) {
		once.Do(func() {
			oas := api.OpenAPI()
			ensureDefaultErrorResponses(oas)
			applyBearerSecurity(oas, basePath)
			spec, _ = json.Marshal(oas)
		})
		w.Header().Set("Content-Type", "application/json")
		w.Write(spec)
	})
}

func ensureDefaultErrorResponses(oas *huma.OpenAPI) {
	if oas == nil || oas.Paths == nil {
		return
	}
	for _, item := range oas.Paths {
		for _, op := range operations(item) {
			if op.Responses == nil {
				op.Responses = map[string]*huma.Response{}
			}
			op.Responses["default"] = &huma.Response{
				Description: "Error",
				Content: map[string]*huma.MediaType{
					"application/json": {
						Schema: &huma.Schema{Ref: "#/components/schemas/ApiError"},
					},
				},
			}
		}
	}
}

// applyBearerSecurity documents the optional bearer credential; only the
// gallery requires it.
func applyBearerSecurity(oas *huma.OpenAPI, basePath string) {
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
	}
	galleryPath := path.Join(basePath, "gallery")
	for route, item := range oas.Paths {
		for _, op := range operations(item) {
			if route == galleryPath {
				op.Security = []map[string][]string{{"bearerAuth": {}}}
				continue
			}
			op.Security = []map[string][]string{{}, {"bearerAuth": {}}}
		}
	}
}

func operations(item *huma.PathItem) []*huma.Operation {
	var out []*huma.Operation
	for _, op := range []*huma.Operation{
		item.Get, item.Put, item.Post, item.Delete, item.Options, item.Head, item.Patch, item.Trace,
	} {
		if op != nil {
			out = append(out, op)
		}
	}
	return out
}

func swaggerHTML(basePath string) string {
	specURL := path.Join("/", path.Join(basePath, "openapi.json"))
	return fmt.Sprintf(`<!doctype html>
<html lang="en">
  <head>
    <meta charset="utf-8"/>
    <meta name="viewport" content="width=device-width, initial-scale=1"/>
    <title>Creativeline API Docs</title>
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
      Authorization: Bearer &lt;token&gt; is forwarded to the rendering service.
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

type draftPath struct {
	ID string `path:"id"`
}

type draftOutput struct {
	Body DraftResponse `json:"body"`
}

func registerDrafts(api huma.API, st *app.Studio) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-draft",
		Method:        http.MethodPost,
		Path:          "/drafts",
		Summary:       "Create draft",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusInternalServerError},
	}, func(ctx context.Context, input *struct {
		Body CreateDraftRequest `json:"body" required:"false"`
	}) (*draftOutput, error) {
		draft := input.Body.draft()
		s, err := st.CreateDraft(ctx, &draft, nil)
		if err != nil {
			return nil, handleError(err)
		}
		return &draftOutput{Body: draftResponse(s)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-drafts",
		Method:      http.MethodGet,
		Path:        "/drafts",
		Summary:     "List drafts",
	}, func(ctx context.Context, input *struct {
		Limit int `query:"limit" default:"50"`
	}) (*struct {
		Body []DraftResponse `json:"body"`
	}, error) {
		items, err := st.ListDrafts(ctx, normalizeLimit(input.Limit))
		if err != nil {
			return nil, handleError(err)
		}
		out := make([]DraftResponse, 0, len(items))
		for _, s := range items {
			out = append(out, draftResponse(s))
		}
		return &struct {
			Body []DraftResponse `json:"body"`
		}{Body: out}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-draft",
		Method:      http.MethodGet,
		Path:        "/drafts/{id}",
		Summary:     "Get draft",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *draftPath) (*draftOutput, error) {
		s, err := st.Draft(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &draftOutput{Body: draftResponse(s)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-draft",
		Method:      http.MethodPatch,
		Path:        "/drafts/{id}",
		Summary:     "Edit draft fields",
		Description: "Override flags cannot be set here; answer a pending confirmation through /retry.",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		ID   string             `path:"id"`
		Body UpdateDraftRequest `json:"body"`
	}) (*draftOutput, error) {
		if input.Body.empty() {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "no fields to update", nil)
		}
		s, err := st.EditDraft(ctx, input.ID, input.Body.apply)
		if err != nil {
			return nil, handleError(err)
		}
		return &draftOutput{Body: draftResponse(s)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "reset-draft",
		Method:      http.MethodPost,
		Path:        "/drafts/{id}/reset",
		Summary:     "Reset draft",
		Errors:      []int{http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *draftPath) (*draftOutput, error) {
		s, err := st.Reset(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &draftOutput{Body: draftResponse(s)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "download-rendition",
		Method:      http.MethodGet,
		Path:        "/drafts/{id}/downloads/{format}/{encoding}",
		Summary:     "Download one encoding of a generated creative",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID       string `path:"id"`
		Format   string `path:"format"`
		Encoding string `path:"encoding" enum:"png,jpg"`
	}) (*struct {
		ContentType        string `header:"Content-Type"`
		ContentDisposition string `header:"Content-Disposition"`
		Body               []byte
	}, error) {
		s, err := st.Draft(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		if !domain.ValidFormat(input.Format) {
			return nil, newAPIError(http.StatusNotFound, "not_found", "no such download", map[string]any{"format": input.Format})
		}
		for _, d := range s.Result[input.Format].Downloads(input.Format) {
			if string(d.Encoding) != input.Encoding {
				continue
			}
			data, err := d.Bytes()
			if err != nil {
				return nil, handleError(err)
			}
			return &struct {
				ContentType        string `header:"Content-Type"`
				ContentDisposition string `header:"Content-Disposition"`
				Body               []byte
			}{
				ContentType:        d.MIMEType,
				ContentDisposition: fmt.Sprintf("attachment; filename=%q", d.Filename),
				Body:               data,
			}, nil
		}
		return nil, newAPIError(http.StatusNotFound, "not_found", "no such download", map[string]any{"format": input.Format, "encoding": input.Encoding})
	})
}

func registerAssets(api huma.API, st *app.Studio) {
	huma.Register(api, huma.Operation{
		OperationID:  "put-asset",
		Method:       http.MethodPut,
		Path:         "/drafts/{id}/assets/{slot}",
		Summary:      "Upload an asset",
		Description:  "Slots are logo and product_1..product_3. The request body is the raw image.",
		MaxBodyBytes: maxAssetBytes,
		Errors:       []int{http.StatusBadRequest, http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		ID      string `path:"id"`
		Slot    string `path:"slot"`
		Name    string `query:"name"`
		RawBody []byte `contentType:"application/octet-stream"`
	}) (*draftOutput, error) {
		if _, err := domain.ParseSlot(input.Slot); err != nil {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", err.Error(), map[string]any{"slot": input.Slot})
		}
		if len(input.RawBody) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		name := input.Name
		if name == "" {
			name = input.Slot
		}
		s, err := st.PutAsset(ctx, input.ID, input.Slot, domain.Asset{Name: name, Data: input.RawBody})
		if err != nil {
			return nil, handleError(err)
		}
		return &draftOutput{Body: draftResponse(s)}, nil
	})
}

type submitOutput struct {
	Body SubmitResponse `json:"body"`
}

// Attempts that reach the rendering service answer 200 whatever their
// outcome; the outcome is in the draft state.
func registerAttempts(api huma.API, st *app.Studio) {
	huma.Register(api, huma.Operation{
		OperationID: "submit-draft",
		Method:      http.MethodPost,
		Path:        "/drafts/{id}/submit",
		Summary:     "Extract and generate creatives",
		Errors:      []int{http.StatusNotFound, http.StatusConflict, http.StatusUnprocessableEntity},
	}, func(ctx context.Context, input *draftPath) (*submitOutput, error) {
		s, attempt, err := st.Submit(ctx, input.ID, credentialsFromContext(ctx))
		return attemptResult(s, attempt, err)
	})

	huma.Register(api, huma.Operation{
		OperationID: "retry-draft",
		Method:      http.MethodPost,
		Path:        "/drafts/{id}/retry",
		Summary:     "Answer pending confirmations and resubmit",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound, http.StatusConflict, http.StatusUnprocessableEntity},
	}, func(ctx context.Context, input *struct {
		ID   string       `path:"id"`
		Body RetryRequest `json:"body"`
	}) (*submitOutput, error) {
		actions := make([]domain.RetryAction, 0, len(input.Body.Actions))
		for _, a := range input.Body.Actions {
			actions = append(actions, domain.RetryAction(a))
		}
		s, attempt, err := st.Retry(ctx, input.ID, credentialsFromContext(ctx), actions...)
		return attemptResult(s, attempt, err)
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-attempts",
		Method:      http.MethodGet,
		Path:        "/drafts/{id}/attempts",
		Summary:     "List generation attempts",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *draftPath) (*struct {
		Body []AttemptResponse `json:"body"`
	}, error) {
		items, err := st.Attempts(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		out := make([]AttemptResponse, 0, len(items))
		for _, a := range items {
			out = append(out, attemptResponse(a))
		}
		return &struct {
			Body []AttemptResponse `json:"body"`
		}{Body: out}, nil
	})
}

func attemptResult(s domain.Session, attempt domain.Attempt, err error) (*submitOutput, error) {
	if err != nil && attempt.ID == "" {
		return nil, handleError(err)
	}
	return &submitOutput{Body: SubmitResponse{Draft: draftResponse(s), Attempt: attemptResponse(attempt)}}, nil
}

func registerEvents(api huma.API, st *app.Studio) {
	huma.Register(api, huma.Operation{
		OperationID: "list-draft-events",
		Method:      http.MethodGet,
		Path:        "/drafts/{id}/events",
		Summary:     "List recent draft events",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID     string `path:"id"`
		Type   string `query:"type"`
		Limit  int    `query:"limit" default:"50"`
		Cursor string `query:"cursor"`
	}) (*struct {
		Body paginatedEvents `json:"body"`
	}, error) {
		if _, err := st.Draft(ctx, input.ID); err != nil {
			return nil, handleError(err)
		}
		limit := normalizeLimit(input.Limit)
		var after int64
		if input.Cursor != "" {
			parsed, err := strconv.ParseInt(input.Cursor, 10, 64)
			if err != nil {
				return nil, newAPIError(http.StatusBadRequest, "bad_request", "invalid cursor", map[string]any{"cursor": input.Cursor})
			}
			after = parsed
		}
		items, err := st.Events(ctx, repo.EventFilters{DraftID: input.ID, Type: input.Type, After: after, Limit: limit + 1})
		if err != nil {
			return nil, handleError(err)
		}
		resp := paginatedEvents{Items: []EventResponse{}}
		if len(items) > limit {
			items = items[:limit]
		}
		for _, evt := range items {
			resp.Items = append(resp.Items, eventResponse(evt))
		}
		if after > 0 && len(items) > 0 {
			resp.NextCursor = strconv.FormatInt(items[len(items)-1].ID, 10)
		}
		return &struct {
			Body paginatedEvents `json:"body"`
		}{Body: resp}, nil
	})
}

func eventResponse(e domain.Event) EventResponse {
	resp := EventResponse{ID: e.ID, TS: e.TS, Type: e.Type, DraftID: e.DraftID, AttemptID: e.AttemptID}
	if len(e.Payload) > 0 {
		_ = json.Unmarshal(e.Payload, &resp.Payload)
	}
	return resp
}

func registerPrescreen(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "prescreen",
		Method:      http.MethodPost,
		Path:        "/prescreen",
		Summary:     "Advisory alcohol screen of headline text",
		Description: "Advisory only; the rendering service decides compliance.",
	}, func(ctx context.Context, input *struct {
		Body PrescreenRequest `json:"body"`
	}) (*struct {
		Body map[string]bool `json:"body"`
	}, error) {
		return &struct {
			Body map[string]bool `json:"body"`
		}{Body: map[string]bool{
			"alcohol_advisory": prescreen.ScreenEdit(input.Body.MainMessage, input.Body.SubMessage),
		}}, nil
	})
}

func registerGallery(api huma.API, g gallery.Service) {
	huma.Register(api, huma.Operation{
		OperationID: "list-gallery",
		Method:      http.MethodGet,
		Path:        "/gallery",
		Summary:     "Saved creatives grouped by batch",
		Errors:      []int{http.StatusUnauthorized, http.StatusBadGateway},
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []BatchResponse `json:"body"`
	}, error) {
		if g.Client == nil {
			return nil, newAPIError(http.StatusBadGateway, "upstream_error", "rendering service not configured", nil)
		}
		batches, err := g.Batches(ctx, credentialsFromContext(ctx))
		if err != nil {
			if errors.Is(err, gallery.ErrNoCredential) {
				return nil, handleError(err)
			}
			return nil, newAPIError(http.StatusBadGateway, "upstream_error", err.Error(), nil)
		}
		return &struct {
			Body []BatchResponse `json:"body"`
		}{Body: batchResponses(batches)}, nil
	})
}

func normalizeLimit(in int) int {
	switch {
	case in <= 0:
		return 50
	case in > 200:
		return 200
	default:
		return in
	}
}
