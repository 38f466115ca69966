package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"stakeproof/internal/domain"
	"stakeproof/internal/engine"
	"stakeproof/internal/ledger"
	"stakeproof/internal/metrics"
	"stakeproof/internal/progress"
	"stakeproof/internal/recommend"
	"stakeproof/internal/suggest"
)

// Config for the HTTP API handler.
type Config struct {
	Engine   engine.Engine
	Suggest  *suggest.Service
	Metrics  *metrics.Metrics
	BasePath string
	Auth     AuthConfig
	Logger   *zap.Logger
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"duplicate_vote"`
	Message string         `json:"message" example:"duplicate vote"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true" example:"{\"retryable\":false}"`
}

type requestKey struct{}
type bodyBytesKey struct{}

// apiError models the required error envelope.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

// New returns an HTTP handler exposing the Stakeproof API.
func New(cfg Config) (http.Handler, error) {
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/v0"
	}
	if !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Auth.Logger == nil {
		cfg.Auth.Logger = cfg.Logger
	}
	huma.DefaultArrayNullable = false
	// Override Huma errors to use the requested envelope.
	huma.NewError = func(status int, msg string, errs ...error) huma.StatusError {
		return newAPIError(status, "", msg, nil)
	}
	huma.NewErrorWithContext = func(_ huma.Context, status int, msg string, errs ...error) huma.StatusError {
		if status == http.StatusUnprocessableEntity && strings.Contains(strings.ToLower(msg), "validation") {
			// Schema/request validation errors should be 400 bad_request
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
	hcfg := huma.DefaultConfig("Stakeproof API", "0.1.0")
	hcfg.OpenAPIPath = "/openapi"
	hcfg.DocsPath = "" // custom Swagger UI below
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	h := handlers{e: cfg.Engine, suggest: cfg.Suggest, log: cfg.Logger}
	registerDocs(router, basePath)
	router.Handle("/metrics", cfg.Metrics.Handler())
	registerHealth(group)
	registerMissions(group, h)
	registerEvidence(group, h)
	registerAccounts(group, h)
	registerProfiles(group, h)
	registerRecommendations(group, h)
	registerSuggestions(group, h)
	registerEvents(group, h)
	registerDevAuth(group, cfg.Auth)
	registerOpenAPI(router, api, basePath)

	return router, nil
}

type handlers struct {
	e       engine.Engine
	suggest *suggest.Service
	log     *zap.Logger
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

// statusForKind maps domain error kinds onto HTTP statuses.
var statusForKind = map[string]int{
	"validation_error":       http.StatusBadRequest,
	"duplicate_vote":         http.StatusConflict,
	"self_vote":              http.StatusConflict,
	"already_finalized":      http.StatusConflict,
	"already_assessed":       http.StatusConflict,
	"already_reviewed":       http.StatusConflict,
	"not_ready":              http.StatusUnprocessableEntity,
	"no_evidence":            http.StatusUnprocessableEntity,
	"no_approved_evidence":   http.StatusUnprocessableEntity,
	"not_found":              http.StatusNotFound,
	"insufficient_funds":     http.StatusPaymentRequired,
	"rate_limited":           http.StatusTooManyRequests,
	"reroll_quota_exhausted": http.StatusTooManyRequests,
	"provider_unavailable":   http.StatusServiceUnavailable,
}

func (h handlers) handleError(err error) huma.StatusError {
	if err == nil {
		return nil
	}
	if se, ok := err.(huma.StatusError); ok {
		return se
	}
	kind := domain.Kind(err)
	status, ok := statusForKind[kind]
	if !ok {
		h.log.Error("request failed", zap.Error(err))
		return newAPIError(http.StatusInternalServerError, "internal_error", "internal error", map[string]any{"error": err.Error()})
	}
	return newAPIError(status, kind, err.Error(), map[string]any{"retryable": domain.Retryable(err)})
}

func defaultCodeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "bad_request"
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

func hasRole(p Principal, roles ...string) bool {
	for _, have := range p.Roles {
		for _, want := range roles {
			if have == want {
				return true
			}
		}
	}
	return false
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
		for _, op := range []*huma.Operation{
			item.Get, item.Put, item.Post, item.Delete, item.Options, item.Head, item.Patch, item.Trace,
		} {
			if op == nil {
				continue
			}
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
	}
	security := []map[string][]string{
		{"bearerAuth": {}},
	}
	oas.Security = security
	open := map[string]bool{
		path.Join("/", basePath, "health"):         true,
		path.Join("/", basePath, "auth/dev/login"): true,
	}
	for route, item := range oas.Paths {
		for _, op := range []*huma.Operation{
			item.Get, item.Put, item.Post, item.Delete, item.Options, item.Head, item.Patch, item.Trace,
		} {
			if op == nil {
				continue
			}
			if open[route] {
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
    <meta name="viewport" content="width=device-width, initial-scale=1"/>
    <title>Stakeproof API Docs</title>
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

func registerMissions(api huma.API, h handlers) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-mission",
		Method:        http.MethodPost,
		Path:          "/missions",
		Summary:       "Create a staked mission",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusUnauthorized,
			http.StatusPaymentRequired,
		},
	}, func(ctx context.Context, input *struct {
		Body CreateMissionRequest `json:"body"`
	}) (*struct {
		Body domain.Mission `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		b := input.Body
		startsAt := time.Now().UTC()
		if b.StartsAt != nil {
			startsAt = b.StartsAt.UTC()
		}
		var endsAt time.Time
		switch {
		case b.EndsAt != nil:
			endsAt = b.EndsAt.UTC()
		case b.Days > 0:
			endsAt = startsAt.AddDate(0, 0, b.Days)
		default:
			endsAt = startsAt.AddDate(0, 0, engine.DefaultMissionDays)
		}
		m, err := h.e.CreateMission(ctx, engine.MissionCreateOptions{
			OwnerID:     userID,
			Title:       b.Title,
			Description: b.Description,
			Category:    b.Category,
			Difficulty:  domain.Difficulty(b.Difficulty),
			Stake:       b.Stake,
			Points:      b.Points,
			Visibility:  domain.Visibility(b.Visibility),
			StartsAt:    startsAt,
			EndsAt:      endsAt,
		})
		if err != nil {
			return nil, h.handleError(err)
		}
		return &struct {
			Body domain.Mission `json:"body"`
		}{Body: missionResponse(m)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-missions",
		Method:      http.MethodGet,
		Path:        "/missions",
		Summary:     "List missions",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		OwnerID    string `query:"owner_id"`
		Status     string `query:"status" enum:"active,completed,failed,pending,under_review"`
		Visibility string `query:"visibility" enum:"private,group,public"`
		Limit      int    `query:"limit" default:"50"`
	}) (*struct {
		Body paginatedMissions `json:"body"`
	}, error) {
		items, err := h.e.Missions(ctx, ledger.Filter{
			OwnerID:    input.OwnerID,
			Status:     domain.MissionStatus(input.Status),
			Visibility: domain.Visibility(input.Visibility),
			Limit:      normalizeLimit(input.Limit),
		})
		if err != nil {
			return nil, h.handleError(err)
		}
		return &struct {
			Body paginatedMissions `json:"body"`
		}{Body: paginatedMissions{Items: mapMissions(items)}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-mission",
		Method:      http.MethodGet,
		Path:        "/missions/{mission_id}",
		Summary:     "Get mission",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		MissionID string `path:"mission_id"`
	}) (*struct {
		Body domain.Mission `json:"body"`
	}, error) {
		m, err := h.e.Mission(ctx, input.MissionID)
		if err != nil {
			return nil, h.handleError(err)
		}
		return &struct {
			Body domain.Mission `json:"body"`
		}{Body: missionResponse(m)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "join-mission",
		Method:        http.MethodPost,
		Path:          "/missions/{mission_id}/join",
		Summary:       "Join a public mission with your own stake",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusNotFound,
			http.StatusPaymentRequired,
		},
	}, func(ctx context.Context, input *struct {
		MissionID string             `path:"mission_id"`
		Body      JoinMissionRequest `json:"body"`
	}) (*struct {
		Body JoinResponse `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		j, m, err := h.e.JoinMission(ctx, userID, input.MissionID, input.Body.Stake)
		if err != nil {
			return nil, h.handleError(err)
		}
		return &struct {
			Body JoinResponse `json:"body"`
		}{Body: JoinResponse{Join: j, Mission: missionResponse(m)}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "review-mission",
		Method:      http.MethodPost,
		Path:        "/missions/{mission_id}/review",
		Summary:     "Submit a mission for final review and settlement",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusNotFound,
			http.StatusConflict,
			http.StatusUnprocessableEntity,
			http.StatusServiceUnavailable,
		},
	}, func(ctx context.Context, input *struct {
		MissionID string `path:"mission_id"`
	}) (*struct {
		Body domain.Mission `json:"body"`
	}, error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		m, err := h.e.SubmitForReview(ctx, userID, input.MissionID)
		if err != nil {
			return nil, h.handleError(err)
		}
		return &struct {
			Body domain.Mission `json:"body"`
		}{Body: missionResponse(m)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "submit-evidence",
		Method:        http.MethodPost,
		Path:          "/missions/{mission_id}/evidence",
		Summary:       "Submit evidence for a mission",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusNotFound,
			http.StatusConflict,
		},
	}, func(ctx context.Context, input *struct {
		MissionID string                `path:"mission_id"`
		Body      SubmitEvidenceRequest `json:"body"`
	}) (*struct {
		Body domain.Evidence `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		ev, err := h.e.SubmitEvidence(ctx, userID, ledger.Submission{
			MissionID:   input.MissionID,
			Description: input.Body.Description,
			Media:       domain.MediaKind(input.Body.Media),
			MediaRef:    input.Body.MediaRef,
		})
		if err != nil {
			return nil, h.handleError(err)
		}
		return &struct {
			Body domain.Evidence `json:"body"`
		}{Body: evidenceResponse(ev)}, nil
	})
}

func registerEvidence(api huma.API, h handlers) {
	type evidencePath struct {
		EvidenceID string `path:"evidence_id"`
	}
	huma.Register(api, huma.Operation{
		OperationID: "get-evidence",
		Method:      http.MethodGet,
		Path:        "/evidence/{evidence_id}",
		Summary:     "Get evidence",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *evidencePath) (*struct {
		Body domain.Evidence `json:"body"`
	}, error) {
		ev, err := h.e.Evidence(ctx, input.EvidenceID)
		if err != nil {
			return nil, h.handleError(err)
		}
		return &struct {
			Body domain.Evidence `json:"body"`
		}{Body: evidenceResponse(ev)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "assess-evidence",
		Method:      http.MethodPost,
		Path:        "/evidence/{evidence_id}/assess",
		Summary:     "Run the automated assessment now",
		Errors: []int{
			http.StatusNotFound,
			http.StatusConflict,
			http.StatusServiceUnavailable,
		},
	}, func(ctx context.Context, input *evidencePath) (*struct {
		Body domain.Evidence `json:"body"`
	}, error) {
		ev, err := h.e.Assess(ctx, input.EvidenceID)
		if err != nil {
			return nil, h.handleError(err)
		}
		return &struct {
			Body domain.Evidence `json:"body"`
		}{Body: evidenceResponse(ev)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "record-assessment",
		Method:      http.MethodPut,
		Path:        "/evidence/{evidence_id}/assessment",
		Summary:     "Record an assessment by hand (moderators)",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusConflict,
		},
	}, func(ctx context.Context, input *struct {
		EvidenceID string                  `path:"evidence_id"`
		Body       ManualAssessmentRequest `json:"body"`
	}) (*struct {
		Body domain.Evidence `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		p, _ := principalFromContext(ctx)
		if !hasRole(p, "moderator", "admin") {
			return nil, newAPIError(http.StatusForbidden, "forbidden", "moderator role required", map[string]any{"role": "moderator"})
		}
		ev, err := h.e.RecordAssessment(ctx, p.UserID, input.EvidenceID, engine.Assessment{
			Result:     domain.Choice(input.Body.Result),
			Confidence: input.Body.Confidence,
			Reason:     input.Body.Reason,
		})
		if err != nil {
			return nil, h.handleError(err)
		}
		return &struct {
			Body domain.Evidence `json:"body"`
		}{Body: evidenceResponse(ev)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "cast-vote",
		Method:        http.MethodPost,
		Path:          "/evidence/{evidence_id}/votes",
		Summary:       "Vote on evidence",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusNotFound,
			http.StatusConflict,
			http.StatusUnprocessableEntity,
		},
	}, func(ctx context.Context, input *struct {
		EvidenceID string      `path:"evidence_id"`
		Body       VoteRequest `json:"body"`
	}) (*struct {
		Body VoteResponse `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		res, err := h.e.CastVote(ctx, input.EvidenceID, userID, domain.Choice(input.Body.Choice))
		if err != nil {
			return nil, h.handleError(err)
		}
		return &struct {
			Body VoteResponse `json:"body"`
		}{Body: voteResponse(res)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "finalize-evidence",
		Method:      http.MethodPost,
		Path:        "/evidence/{evidence_id}/finalize",
		Summary:     "Finalize evidence once the vote quorum is reached",
		Errors: []int{
			http.StatusNotFound,
			http.StatusConflict,
			http.StatusUnprocessableEntity,
		},
	}, func(ctx context.Context, input *evidencePath) (*struct {
		Body domain.FinalVerdict `json:"body"`
	}, error) {
		v, err := h.e.Finalize(ctx, input.EvidenceID)
		if err != nil {
			return nil, h.handleError(err)
		}
		v.Penalized = nonNilSlice(v.Penalized)
		return &struct {
			Body domain.FinalVerdict `json:"body"`
		}{Body: v}, nil
	})
}

func registerAccounts(api huma.API, h handlers) {
	huma.Register(api, huma.Operation{
		OperationID: "get-account",
		Method:      http.MethodGet,
		Path:        "/accounts/{user_id}",
		Summary:     "Get a user's balance and voting record",
	}, func(ctx context.Context, input *struct {
		UserID string `path:"user_id"`
	}) (*struct {
		Body AccountResponse `json:"body"`
	}, error) {
		a, err := h.e.Account(ctx, input.UserID)
		if err != nil {
			return nil, h.handleError(err)
		}
		return &struct {
			Body AccountResponse `json:"body"`
		}{Body: accountResponse(a)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-accounts",
		Method:      http.MethodGet,
		Path:        "/accounts",
		Summary:     "List accounts",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []AccountResponse `json:"body"`
	}, error) {
		items, err := h.e.Wallet.List(ctx)
		if err != nil {
			return nil, h.handleError(err)
		}
		out := make([]AccountResponse, 0, len(items))
		for _, a := range items {
			out = append(out, accountResponse(a))
		}
		return &struct {
			Body []AccountResponse `json:"body"`
		}{Body: out}, nil
	})
}

func registerProfiles(api huma.API, h handlers) {
	type userPath struct {
		UserID string `path:"user_id"`
	}
	huma.Register(api, huma.Operation{
		OperationID: "get-profile",
		Method:      http.MethodGet,
		Path:        "/profiles/{user_id}",
		Summary:     "Get a user's levels, schedule and preferences",
	}, func(ctx context.Context, input *userPath) (*struct {
		Body domain.UserProfile `json:"body"`
	}, error) {
		p, err := h.e.Tracker.Profile(ctx, input.UserID)
		if err != nil {
			return nil, h.handleError(err)
		}
		return &struct {
			Body domain.UserProfile `json:"body"`
		}{Body: profileResponse(p)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "set-preferences",
		Method:      http.MethodPut,
		Path:        "/profiles/{user_id}/preferences",
		Summary:     "Replace category preferences",
		Errors:      []int{http.StatusBadRequest, http.StatusForbidden},
	}, func(ctx context.Context, input *struct {
		UserID string             `path:"user_id"`
		Body   PreferencesRequest `json:"body"`
	}) (*struct {
		Body domain.UserProfile `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		if err := requireSelf(ctx, input.UserID); err != nil {
			return nil, err
		}
		p, err := h.e.Tracker.SetPreferences(ctx, input.UserID, domain.Preferences{
			Favorite:     input.Body.Favorite,
			Avoid:        input.Body.Avoid,
			DailyMinutes: input.Body.DailyMinutes,
		})
		if err != nil {
			return nil, h.handleError(err)
		}
		return &struct {
			Body domain.UserProfile `json:"body"`
		}{Body: profileResponse(p)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "set-schedule",
		Method:      http.MethodPut,
		Path:        "/profiles/{user_id}/schedule",
		Summary:     "Replace the weekly busy schedule",
		Errors:      []int{http.StatusBadRequest, http.StatusForbidden},
	}, func(ctx context.Context, input *struct {
		UserID string          `path:"user_id"`
		Body   ScheduleRequest `json:"body"`
	}) (*struct {
		Body domain.UserProfile `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		if err := requireSelf(ctx, input.UserID); err != nil {
			return nil, err
		}
		p, err := h.e.Tracker.SetSchedule(ctx, input.UserID, input.Body.Days)
		if err != nil {
			return nil, h.handleError(err)
		}
		return &struct {
			Body domain.UserProfile `json:"body"`
		}{Body: profileResponse(p)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "available-tasks",
		Method:      http.MethodGet,
		Path:        "/profiles/{user_id}/tasks/available",
		Summary:     "Templates near the user's level",
	}, func(ctx context.Context, input *struct {
		UserID   string `path:"user_id"`
		Category string `query:"category"`
	}) (*struct {
		Body AvailableTasksResponse `json:"body"`
	}, error) {
		p, err := h.e.Tracker.Profile(ctx, input.UserID)
		if err != nil {
			return nil, h.handleError(err)
		}
		items := progress.AvailableTasks(p, h.e.Catalog.Templates(), input.Category)
		return &struct {
			Body AvailableTasksResponse `json:"body"`
		}{Body: AvailableTasksResponse{Items: nonNilSlice(items)}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "locked-tasks",
		Method:      http.MethodGet,
		Path:        "/profiles/{user_id}/tasks/locked",
		Summary:     "Templates above the user's level",
	}, func(ctx context.Context, input *struct {
		UserID   string `path:"user_id"`
		Category string `query:"category"`
	}) (*struct {
		Body LockedTasksResponse `json:"body"`
	}, error) {
		p, err := h.e.Tracker.Profile(ctx, input.UserID)
		if err != nil {
			return nil, h.handleError(err)
		}
		items := progress.LockedTasks(p, h.e.Catalog.Templates(), input.Category)
		return &struct {
			Body LockedTasksResponse `json:"body"`
		}{Body: LockedTasksResponse{Items: nonNilSlice(items)}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "category-progress",
		Method:      http.MethodGet,
		Path:        "/profiles/{user_id}/progress",
		Summary:     "Completion progress per category",
	}, func(ctx context.Context, input *userPath) (*struct {
		Body CategoryProgressResponse `json:"body"`
	}, error) {
		p, err := h.e.Tracker.Profile(ctx, input.UserID)
		if err != nil {
			return nil, h.handleError(err)
		}
		items := progress.ProgressByCategory(p, h.e.Catalog.Templates())
		return &struct {
			Body CategoryProgressResponse `json:"body"`
		}{Body: CategoryProgressResponse{Items: items}}, nil
	})
}

// requireSelf allows a user to change only their own profile unless they hold the admin role.
func requireSelf(ctx context.Context, userID string) huma.StatusError {
	p, ok := principalFromContext(ctx)
	if !ok || p.UserID == "" {
		return newAPIError(http.StatusUnauthorized, "unauthorized", "authentication required", nil)
	}
	if p.UserID != userID && !hasRole(p, "admin") {
		return newAPIError(http.StatusForbidden, "forbidden", "cannot modify another user's profile", map[string]any{"user_id": userID})
	}
	return nil
}

func registerRecommendations(api huma.API, h handlers) {
	huma.Register(api, huma.Operation{
		OperationID: "list-recommendations",
		Method:      http.MethodGet,
		Path:        "/recommendations",
		Summary:     "Ranked catalog recommendations for the caller",
	}, func(ctx context.Context, input *struct {
		Limit int `query:"limit" default:"10"`
	}) (*struct {
		Body RecommendationsResponse `json:"body"`
	}, error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		items, err := h.e.Recommendations(ctx, userID, normalizeLimit(input.Limit))
		if err != nil {
			return nil, h.handleError(err)
		}
		return &struct {
			Body RecommendationsResponse `json:"body"`
		}{Body: RecommendationsResponse{Items: nonNilSlice(items)}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "recommendation-slots",
		Method:      http.MethodGet,
		Path:        "/recommendations/{template_id}/slots",
		Summary:     "Free time slots for a template in the caller's schedule",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		TemplateID string `path:"template_id"`
	}) (*struct {
		Body TimeSlotsResponse `json:"body"`
	}, error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		t, err := h.e.Catalog.Get(input.TemplateID)
		if err != nil {
			return nil, h.handleError(err)
		}
		p, err := h.e.Tracker.Profile(ctx, userID)
		if err != nil {
			return nil, h.handleError(err)
		}
		slots := recommend.SuggestTimeSlots(recommend.ApplyVariation(t, p.Level(t.Category)), p.Schedule)
		return &struct {
			Body TimeSlotsResponse `json:"body"`
		}{Body: TimeSlotsResponse{TemplateID: t.ID, Items: nonNilSlice(slots)}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "accept-recommendation",
		Method:        http.MethodPost,
		Path:          "/recommendations/{template_id}/accept",
		Summary:       "Stake on a recommended template",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusNotFound,
			http.StatusPaymentRequired,
		},
	}, func(ctx context.Context, input *struct {
		TemplateID string                      `path:"template_id"`
		Body       AcceptRecommendationRequest `json:"body"`
	}) (*struct {
		Body domain.Mission `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		task, err := h.e.Recommend(ctx, userID, input.TemplateID)
		if err != nil {
			return nil, h.handleError(err)
		}
		m, err := h.e.AcceptTemplate(ctx, userID, task, input.Body.Stake, input.Body.Days)
		if err != nil {
			return nil, h.handleError(err)
		}
		return &struct {
			Body domain.Mission `json:"body"`
		}{Body: missionResponse(m)}, nil
	})
}

func registerSuggestions(api huma.API, h handlers) {
	huma.Register(api, huma.Operation{
		OperationID: "generate-suggestions",
		Method:      http.MethodPost,
		Path:        "/suggestions",
		Summary:     "Generate personalized mission ideas",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusTooManyRequests,
			http.StatusServiceUnavailable,
		},
	}, func(ctx context.Context, input *struct {
		Body SuggestRequest `json:"body"`
	}) (*struct {
		Body SuggestionsResponse `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		if h.suggest == nil {
			return nil, h.handleError(domain.ErrProviderUnavailable)
		}
		items, err := h.suggest.Suggest(ctx, input.Body.Preferences, input.Body.Count)
		if err != nil {
			return nil, h.handleError(err)
		}
		return &struct {
			Body SuggestionsResponse `json:"body"`
		}{Body: SuggestionsResponse{Items: nonNilSlice(items)}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "reroll-suggestion",
		Method:      http.MethodPost,
		Path:        "/suggestions/reroll",
		Summary:     "Replace one suggestion, limited per session",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusTooManyRequests,
			http.StatusServiceUnavailable,
		},
	}, func(ctx context.Context, input *struct {
		Body RerollRequest `json:"body"`
	}) (*struct {
		Body RerollResponse `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		if h.suggest == nil {
			return nil, h.handleError(domain.ErrProviderUnavailable)
		}
		b := input.Body
		s, remaining, err := h.suggest.Reroll(ctx, b.SessionID, b.Current, b.Preferences, b.Reason)
		if err != nil {
			return nil, h.handleError(err)
		}
		return &struct {
			Body RerollResponse `json:"body"`
		}{Body: RerollResponse{Suggestion: s, RemainingReroll: remaining}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "accept-suggestion",
		Method:        http.MethodPost,
		Path:          "/suggestions/accept",
		Summary:       "Stake on a generated suggestion",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusPaymentRequired,
		},
	}, func(ctx context.Context, input *struct {
		Body AcceptSuggestionRequest `json:"body"`
	}) (*struct {
		Body domain.Mission `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		m, err := h.e.AcceptSuggestion(ctx, userID, input.Body.Suggestion, input.Body.Stake, input.Body.Days)
		if err != nil {
			return nil, h.handleError(err)
		}
		return &struct {
			Body domain.Mission `json:"body"`
		}{Body: missionResponse(m)}, nil
	})
}

func registerEvents(api huma.API, h handlers) {
	huma.Register(api, huma.Operation{
		OperationID: "list-events",
		Method:      http.MethodGet,
		Path:        "/events",
		Summary:     "List events after a cursor, oldest first",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Limit  int    `query:"limit" default:"50"`
		Cursor string `query:"cursor"`
	}) (*struct {
		Body paginatedEvents `json:"body"`
	}, error) {
		if h.e.Events == nil {
			return &struct {
				Body paginatedEvents `json:"body"`
			}{Body: paginatedEvents{Items: []EventResponse{}}}, nil
		}
		limit := normalizeLimit(input.Limit)
		var cursorID int64
		if input.Cursor != "" {
			parsed, err := strconv.ParseInt(input.Cursor, 10, 64)
			if err != nil {
				return nil, newAPIError(http.StatusBadRequest, "bad_request", "invalid cursor", map[string]any{"cursor": input.Cursor})
			}
			cursorID = parsed
		}
		items, err := h.e.Events.After(ctx, cursorID, limit+1)
		if err != nil {
			return nil, h.handleError(err)
		}
		resp := paginatedEvents{Items: []EventResponse{}}
		if len(items) > limit {
			items = items[:limit]
			resp.NextCursor = fmt.Sprintf("%d", items[limit-1].ID)
		}
		for _, evt := range items {
			resp.Items = append(resp.Items, eventResponse(evt))
		}
		return &struct {
			Body paginatedEvents `json:"body"`
		}{Body: resp}, nil
	})
}

func registerDevAuth(api huma.API, authCfg AuthConfig) {
	huma.Register(api, huma.Operation{
		OperationID: "dev-login",
		Method:      http.MethodPost,
		Path:        "/auth/dev/login",
		Summary:     "DEV ONLY: mint a JWT for local testing",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		Body DevLoginRequest `json:"body"`
	}) (*struct {
		Body DevLoginResponse `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		user := strings.TrimSpace(input.Body.UserID)
		if user == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "user_id is required", nil)
		}
		token, err := signDevToken(authCfg.JWTSecret, user, input.Body.Roles)
		if err != nil {
			return nil, newAPIError(http.StatusInternalServerError, "internal_error", err.Error(), nil)
		}
		return &struct {
			Body DevLoginResponse `json:"body"`
		}{Body: DevLoginResponse{Token: token}}, nil
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

func normalizeLimit(in int) int {
	if in <= 0 {
		return 50
	}
	if in > 200 {
		return 200
	}
	return in
}
