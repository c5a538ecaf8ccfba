// Package httpapi is the local HTTP server exposing the loaded model through
// an OpenAI-compatible API.
package httpapi

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"moxind/pkg/protocol"
	"moxind/pkg/types"
)

// Service defines the methods required by the HTTP API layer.
type Service interface {
	// Models lists the downloaded files that can be served.
	Models(ctx context.Context) ([]types.DownloadedFile, error)
	Status() types.StatusResponse
	Ready() bool
	// Chat runs one chat completion. onChunk receives streaming chunks; the
	// terminal reply is returned.
	Chat(ctx context.Context, payload string, onChunk func(protocol.ChatResponse) error) (protocol.ChatResponse, error)
}

type server struct {
	svc      Service
	opts     Options
	log      zerolog.Logger
	defLevel LogLevel
	adm      *admission
}

// NewMux builds the router for one local server instance.
func NewMux(svc Service, opts Options) http.Handler {
	opts = opts.withDefaults()
	s := &server{
		svc:      svc,
		opts:     opts,
		log:      *opts.Logger,
		defLevel: LevelInfo,
		adm:      newAdmission(opts.MaxQueueDepth, opts.MaxWait),
	}
	if opts.Server.VerboseServerLogs {
		s.defLevel = LevelDebug
	}

	r := chi.NewRouter()
	// Basic middlewares: request id, real ip, recoverer
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(MetricsMiddleware)
	if opts.Server.CORS {
		origins := opts.CORSOrigins
		if len(origins) == 0 {
			origins = []string{"*"}
		}
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: origins,
			AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
			AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", "X-Request-ID", "X-Log-Level"},
			ExposedHeaders: []string{"X-Request-ID"},
			MaxAge:         300,
		}))
	}
	// Compression for JSON endpoints
	r.Use(middleware.Compress(5))
	// Security headers
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("X-Content-Type-Options", "nosniff")
			next.ServeHTTP(w, r)
		})
	})

	r.Get("/v1/models", s.handleModels)
	r.Post("/v1/chat/completions", s.handleChat)
	r.Get("/status", s.handleStatus)
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if svc.Ready() {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("ready"))
			return
		}
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("no model loaded"))
	})
	// Prometheus metrics endpoint
	r.Get("/metrics", promhttp.Handler().ServeHTTP)
	MountSwagger(r)
	return r
}

// handleModels godoc
// @Summary      List models
// @Description  Downloaded model files in the OpenAI list format.
// @Tags         models
// @Produce      json
// @Success      200  {object}  types.ModelsResponse
// @Failure      500  {object}  types.ErrorResponse
// @Router       /v1/models [get]
func (s *server) handleModels(w http.ResponseWriter, r *http.Request) {
	files, err := s.svc.Models(r.Context())
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, err.Error(), "")
		return
	}
	resp := types.ModelsResponse{Object: "list", Data: make([]types.ModelObject, 0, len(files))}
	for _, f := range files {
		owner := f.Model.Author
		if owner == "" {
			owner = "moxind"
		}
		resp.Data = append(resp.Data, types.ModelObject{ID: string(f.File.ID), Object: "model", OwnedBy: owner})
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleStatus godoc
// @Summary      Backend status
// @Tags         status
// @Produce      json
// @Success      200  {object}  types.StatusResponse
// @Router       /status [get]
func (s *server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.svc.Status())
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
