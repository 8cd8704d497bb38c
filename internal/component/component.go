// Package component wires configuration into concrete backends and services.
package component

import (
	"context"
	"fmt"

	"github.com/mehular0ra/forge/internal/cache/freecache"
	"github.com/mehular0ra/forge/internal/config"
	"github.com/mehular0ra/forge/internal/events"
	"github.com/mehular0ra/forge/internal/events/jetstream"
	"github.com/mehular0ra/forge/internal/llm"
	"github.com/mehular0ra/forge/internal/llm/openaicompat"
	"github.com/mehular0ra/forge/internal/logger"
	"github.com/mehular0ra/forge/internal/orchestrator"
	"github.com/mehular0ra/forge/internal/pipeline"
	"github.com/mehular0ra/forge/internal/projectstore/minio"
	"github.com/mehular0ra/forge/internal/sandbox"
	"github.com/mehular0ra/forge/internal/sandbox/docker"
	"github.com/mehular0ra/forge/internal/store"
	"github.com/mehular0ra/forge/internal/store/memory"
	"github.com/mehular0ra/forge/internal/store/postgres"
)

const (
	cacheSizeBytes  = 32 * 1024 * 1024
	cacheTTLSeconds = 60
)

// Components holds every wired backend and service of the process.
type Components struct {
	Config       *config.Config
	Jobs         store.JobStore
	Projects     *minio.MinioClient
	Provisioner  sandbox.Provisioner
	LLM          llm.Client
	Publisher    events.Publisher
	Orchestrator *orchestrator.Orchestrator
	Pipeline     *pipeline.Pipeline
}

func GetNewComponents(ctx context.Context) (*Components, error) {
	cfg := config.GetConfig()

	orchCfg, err := config.GetOrchestratorConfig()
	if err != nil {
		return nil, err
	}

	// The durable job store is optional: without POSTGRES_URL the chain runs
	// on the in-process fallback alone.
	var durable store.Backend
	if pgCfg, cfgErr := config.GetPostgresConfig(); cfgErr == nil {
		pg, err := postgres.New(ctx, pgCfg.URL)
		if err != nil {
			return nil, fmt.Errorf("postgres job store: %w", err)
		}
		durable = pg
	} else {
		logger.Log.Warn().Msg("POSTGRES_URL not set, job records live in process only")
	}
	jobs := store.NewChain(durable, memory.New(), freecache.NewFreeCache(cacheSizeBytes, cacheTTLSeconds))

	minioCfg, err := config.GetMinioConfig()
	if err != nil {
		return nil, err
	}
	projects, err := minio.NewMinioClient(minioCfg)
	if err != nil {
		return nil, fmt.Errorf("minio project store: %w", err)
	}

	sbxCfg, err := config.GetSandboxConfig()
	if err != nil {
		return nil, err
	}
	var provisioner sandbox.Provisioner
	switch sbxCfg.PROVIDER {
	case "", "docker":
		provisioner, err = docker.NewProvisioner(sbxCfg)
		if err != nil {
			return nil, fmt.Errorf("docker provisioner: %w", err)
		}
	default:
		return nil, fmt.Errorf("unknown sandbox provider: %s", sbxCfg.PROVIDER)
	}

	llmCfg, err := config.GetLLMConfig()
	if err != nil {
		return nil, err
	}
	llmClient := openaicompat.NewClient(llmCfg.API_KEY, llmCfg.MODEL, llmCfg.BASE_URL)

	var pub events.Publisher = events.Noop{}
	if natsCfg, cfgErr := config.GetNatsConfig(); cfgErr == nil {
		pub, err = jetstream.NewJetStreamClient(natsCfg.URL)
		if err != nil {
			return nil, fmt.Errorf("jetstream publisher: %w", err)
		}
	} else {
		logger.Log.Info().Msg("JETSTREAM_URL not set, job events are not published")
	}

	return &Components{
		Config:       cfg,
		Jobs:         jobs,
		Projects:     projects,
		Provisioner:  provisioner,
		LLM:          llmClient,
		Publisher:    pub,
		Orchestrator: orchestrator.New(jobs, provisioner, projects, pub, orchCfg),
		Pipeline:     pipeline.New(llmClient, provisioner, projects, sbxCfg.APP_PORT, orchCfg.DeployGrace),
	}, nil
}

// Close releases long-lived resources in dependency order.
func (c *Components) Close() {
	c.Orchestrator.Close()
	c.Publisher.Shutdown()
	c.Projects.Close()
}
