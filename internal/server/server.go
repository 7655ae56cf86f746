// Package server exposes a read-only release-history API over the
// registry: runs, stage outcomes, artifacts and the current version. It is
// a local convenience mirror of the history commands, not a CI surface.
package server

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"

	"droidship/internal/domain"
	"droidship/internal/registry"
	"droidship/internal/version"
)

// Config for the HTTP handler.
type Config struct {
	Repo     registry.Repo
	Versions *version.Manager
	BasePath string
	// APISecret enables jwt bearer auth when non-empty.
	APISecret string
}

// New returns the API handler.
func New(cfg Config) http.Handler {
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/v0"
	}

	router := chi.NewRouter()
	if cfg.APISecret != "" {
		router.Use(newAuthMiddleware(cfg.APISecret))
	}
	hcfg := huma.DefaultConfig("droidship release history", "1.0.0")
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	registerHealth(group)
	registerRuns(group, cfg.Repo)
	registerArtifacts(group, cfg.Repo)
	registerVersion(group, cfg.Versions)

	return router
}

func registerHealth(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "health",
		Method:      http.MethodGet,
		Path:        "/health",
		Summary:     "Health check",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body struct {
			Status string `json:"status"`
		}
	}, error) {
		resp := &struct {
			Body struct {
				Status string `json:"status"`
			}
		}{}
		resp.Body.Status = "ok"
		return resp, nil
	})
}

// RunDetail is a run with its ordered stage outcomes.
type RunDetail struct {
	Run      domain.PipelineRun    `json:"run"`
	Outcomes []domain.StageOutcome `json:"outcomes"`
}

func registerRuns(api huma.API, repo registry.Repo) {
	huma.Register(api, huma.Operation{
		OperationID: "list-runs",
		Method:      http.MethodGet,
		Path:        "/runs",
		Summary:     "List pipeline runs",
	}, func(ctx context.Context, input *struct {
		Limit int `query:"limit" default:"50" minimum:"1" maximum:"500"`
	}) (*struct {
		Body []domain.PipelineRun `json:"body"`
	}, error) {
		runs, err := repo.ListRuns(ctx, input.Limit)
		if err != nil {
			return nil, huma.Error500InternalServerError("list runs", err)
		}
		return &struct {
			Body []domain.PipelineRun `json:"body"`
		}{Body: runs}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-run",
		Method:      http.MethodGet,
		Path:        "/runs/{run_id}",
		Summary:     "Get a run with its stage outcomes",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		RunID string `path:"run_id"`
	}) (*struct {
		Body RunDetail `json:"body"`
	}, error) {
		run, err := repo.GetRun(ctx, input.RunID)
		if err == registry.ErrNotFound {
			return nil, huma.Error404NotFound("run not found")
		}
		if err != nil {
			return nil, huma.Error500InternalServerError("get run", err)
		}
		outcomes, err := repo.ListOutcomes(ctx, input.RunID)
		if err != nil {
			return nil, huma.Error500InternalServerError("list outcomes", err)
		}
		return &struct {
			Body RunDetail `json:"body"`
		}{Body: RunDetail{Run: run, Outcomes: outcomes}}, nil
	})
}

func registerArtifacts(api huma.API, repo registry.Repo) {
	huma.Register(api, huma.Operation{
		OperationID: "list-artifacts",
		Method:      http.MethodGet,
		Path:        "/artifacts",
		Summary:     "List registered release artifacts",
	}, func(ctx context.Context, input *struct {
		Limit int `query:"limit" default:"50" minimum:"1" maximum:"500"`
	}) (*struct {
		Body []domain.BuildArtifact `json:"body"`
	}, error) {
		artifacts, err := repo.ListArtifacts(ctx, input.Limit)
		if err != nil {
			return nil, huma.Error500InternalServerError("list artifacts", err)
		}
		return &struct {
			Body []domain.BuildArtifact `json:"body"`
		}{Body: artifacts}, nil
	})
}

func registerVersion(api huma.API, versions *version.Manager) {
	huma.Register(api, huma.Operation{
		OperationID: "get-version",
		Method:      http.MethodGet,
		Path:        "/version",
		Summary:     "Current version record",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body domain.VersionRecord `json:"body"`
	}, error) {
		rec, err := versions.Current()
		if err != nil {
			return nil, huma.Error500InternalServerError("read version record", err)
		}
		return &struct {
			Body domain.VersionRecord `json:"body"`
		}{Body: rec}, nil
	})
}
