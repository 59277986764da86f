package server

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	"github.com/sirupsen/logrus"

	assignmentpersistence "github.com/iota-uz/orgtree/modules/assignment/infrastructure/persistence"
	assignmentcontrollers "github.com/iota-uz/orgtree/modules/assignment/presentation/controllers"
	assignmentservices "github.com/iota-uz/orgtree/modules/assignment/services"
	"github.com/iota-uz/orgtree/modules/hierarchy/domain/kind"
	"github.com/iota-uz/orgtree/modules/hierarchy/infrastructure/persistence"
	"github.com/iota-uz/orgtree/modules/hierarchy/presentation/controllers"
	"github.com/iota-uz/orgtree/modules/hierarchy/services"
	"github.com/iota-uz/orgtree/pkg/configuration"
	"github.com/iota-uz/orgtree/pkg/middleware"
)

// Controller is anything that can mount routes on the root router.
type Controller interface {
	Key() string
	Register(r *mux.Router)
}

type Options struct {
	Configuration *configuration.Configuration
	Logger        *logrus.Logger
	Pool          *pgxpool.Pool
}

// BuildHierarchyService wires the engine against the three pg-backed
// layouts, with the backend per kind taken from configuration.
func BuildHierarchyService(conf *configuration.Configuration) *services.HierarchyService {
	return services.NewHierarchyService(services.HierarchyServiceOptions{
		Stores: map[services.Backend]services.TreeStore{
			services.BackendAdjacency: persistence.NewAdjacencyRepository(),
			services.BackendPath:      persistence.NewPathRepository(),
			services.BackendClosure:   persistence.NewClosureRepository(),
		},
		BackendFor: func(k kind.Kind) services.Backend {
			backend, _ := services.ParseBackend(conf.Hierarchy.BackendFor(k.String()))
			return backend
		},
		CacheEnabled: conf.Hierarchy.CacheEnabled,
		PageSize:     conf.PageSize,
		MaxPageSize:  conf.MaxPageSize,
	})
}

// New assembles the HTTP server: middleware chain, hierarchy and assignment
// controllers, health and metrics endpoints.
func New(opts Options) *http.Server {
	conf := opts.Configuration

	hierarchyService := BuildHierarchyService(conf)
	assignmentService := assignmentservices.NewAssignmentService(
		assignmentpersistence.NewAssignmentRepository(),
		hierarchyService,
	)

	router := mux.NewRouter()
	router.Use(
		middleware.RequestID(),
		middleware.RequestLogger(opts.Logger),
		middleware.ProvidePool(opts.Pool),
		middleware.ProvideTenant(),
	)

	for _, c := range []Controller{
		controllers.NewHierarchyAPIController(hierarchyService),
		assignmentcontrollers.NewAssignmentAPIController(assignmentService),
	} {
		c.Register(router)
		opts.Logger.WithField("controller", c.Key()).Info("registered controller")
	}

	router.HandleFunc("/health", healthHandler(opts.Pool)).Methods(http.MethodGet)
	if conf.Prometheus.Enabled {
		router.Handle(conf.Prometheus.Path, promhttp.Handler()).Methods(http.MethodGet)
	}

	corsHandler := cors.New(cors.Options{
		AllowedOrigins:   splitOrigins(conf.AllowedOrigins),
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPatch, http.MethodDelete},
		AllowedHeaders:   []string{"Content-Type", "X-Tenant-ID", conf.RequestIDHeader},
		AllowCredentials: true,
	})

	return &http.Server{
		Addr:              conf.SocketAddress,
		Handler:           corsHandler.Handler(router),
		ReadHeaderTimeout: 10 * time.Second,
	}
}

func splitOrigins(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func healthHandler(pool *pgxpool.Pool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := pool.Ping(ctx); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(`{"status":"degraded"}`))
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	}
}
