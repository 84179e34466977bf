package lti

import (
	"encoding/json"
	"net/http"
	"os"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/quipper/poc/lti/tool/pkg/common/jwkscache"
	"github.com/quipper/poc/lti/tool/pkg/common/keys"
	"github.com/quipper/poc/lti/tool/pkg/common/tokencache"
	ltipkg "github.com/quipper/poc/lti/tool/pkg/lti"
	platformsRepo "github.com/quipper/poc/lti/tool/pkg/repositories/platforms"
	selectionsRepo "github.com/quipper/poc/lti/tool/pkg/repositories/selections"
	toolsRepo "github.com/quipper/poc/lti/tool/pkg/repositories/tools"
	vRepoIface "github.com/quipper/poc/lti/tool/pkg/repositories/validation"
)

type Handler struct {
	platforms      platformsRepo.Repository
	tools          toolsRepo.Repository
	selections     selectionsRepo.Repository
	validationRepo vRepoIface.Repository
	jwksCache      jwkscache.Cache
	tokens         *tokencache.Cache
	sessions       *sessionStore
	baseURL        string
	httpc          *http.Client
}

// NewHandler constructs a Handler with explicit platform, tool, selection and
// validation repositories. Useful when these come from different backends or
// databases.
func NewHandler(platforms platformsRepo.Repository, tools toolsRepo.Repository, selections selectionsRepo.Repository, validation vRepoIface.Repository) *Handler {
	base := os.Getenv("PUBLIC_TOOL_URL")
	if base == "" {
		base = "http://localhost:3010"
	}
	httpc := &http.Client{Timeout: 10 * time.Second}
	return &Handler{
		platforms:      platforms,
		tools:          tools,
		selections:     selections,
		validationRepo: validation,
		jwksCache:      jwkscache.Default(),
		tokens:         tokencache.New(httpc),
		sessions:       newSessionStore(24 * time.Hour),
		baseURL:        base,
		httpc:          httpc,
	}
}

// Router returns a chi-based router for the tool endpoints.
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()
	r.Get("/healthz", h.health)

	// Tool public JWKS (platforms verify deep linking responses and client
	// assertions against these keys)
	r.Get("/keys", h.jwks)
	r.Get("/.well-known/jwks.json", h.jwks)

	// OIDC third-party initiated login + launch endpoint
	r.Get("/login", h.loginInitiate)
	r.Post("/login", h.loginInitiate)
	r.Post("/launch", h.launch)

	// Deep linking picker and response
	r.Get("/deeplink", h.deeplinkPicker)
	r.Post("/deeplink", h.deeplinkSubmit)

	// AGS proxy endpoints, bound to the active launch session.
	// Line item ids that are full URLs must be percent-encoded in the path.
	r.Get("/ags/lineitems", h.agsListLineItems)
	r.Post("/ags/lineitems", h.agsCreateLineItem)
	r.Delete("/ags/lineitems/{id}", h.agsDeleteLineItem)
	r.Post("/ags/lineitems/{id}/scores", h.agsSubmitScore)
	r.Get("/ags/lineitems/{id}/results", h.agsListResults)

	// NRPS proxy endpoint
	r.Get("/nrps/members", h.nrpsListMembers)

	// Admin CRUD: platform registrations
	r.Get("/api/platforms", h.listPlatforms)
	r.Post("/api/platforms", h.upsertPlatform)
	r.Delete("/api/platforms/{id}", h.deletePlatformByID)

	// Admin CRUD: tool registration records
	r.Get("/api/tools", h.listTools)
	r.Get("/api/tools/{id}", h.getToolByIDChi)
	r.Post("/api/tools", h.createTool)
	r.Delete("/api/tools/{id}", h.deleteToolChi)

	// Deep link selections (list/get/delete)
	r.Get("/api/deeplink/selections", h.listSelections)
	r.Get("/api/deeplink/selections/{id}", h.getSelectionByID)
	r.Delete("/api/deeplink/selections/{id}", h.deleteSelectionByID)

	return r
}

func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	if err := h.platforms.Health(); err != nil {
		w.WriteHeader(http.StatusServiceUnavailable)
		_ = json.NewEncoder(w).Encode(map[string]any{"status": "unhealthy", "error": err.Error()})
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

// jwks serves the tool JWKS (public keys for response JWT verification by platforms).
func (h *Handler) jwks(w http.ResponseWriter, r *http.Request) {
	data, err := keys.JWKSJSON()
	if err != nil {
		http.Error(w, "failed to get JWKS", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(data)
}

// writeJSONError emits the uniform error envelope used across service routes.
func writeJSONError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": code, "message": message})
}

// requireLaunch resolves the launch session from the request's ltik. On
// failure it writes the uniform 401 envelope and returns ok=false. The guard
// is identical on every service route so a missing session always looks the
// same to the caller.
func (h *Handler) requireLaunch(w http.ResponseWriter, r *http.Request) (*ltipkg.LaunchContext, bool) {
	launch, ok := h.sessions.Get(ltikFromRequest(r))
	if !ok {
		writeJSONError(w, http.StatusUnauthorized, "noLaunch", "Launch session not found. Re-launch the tool.")
		return nil, false
	}
	return launch, true
}

// platformForLaunch loads the registration the launch token came from. The
// registration can disappear between launch and service call if an admin
// deletes it; treat that the same as a missing session.
func (h *Handler) platformForLaunch(w http.ResponseWriter, r *http.Request, launch *ltipkg.LaunchContext) (*platformsRepo.Platform, bool) {
	p, err := h.platforms.GetPlatformByIssuer(r.Context(), launch.Issuer)
	if err != nil || p == nil {
		writeJSONError(w, http.StatusUnauthorized, "noLaunch", "Launch session not found. Re-launch the tool.")
		return nil, false
	}
	return p, true
}

func firstNonEmpty(vs ...string) string {
	for _, v := range vs {
		if v != "" {
			return v
		}
	}
	return ""
}
