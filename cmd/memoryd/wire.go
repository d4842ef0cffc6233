package main

import (
	"context"
	"fmt"

	"github.com/fyrsmithlabs/memoryd/internal/config"
	"github.com/fyrsmithlabs/memoryd/internal/docstore"
	"github.com/fyrsmithlabs/memoryd/internal/memory"
	"github.com/fyrsmithlabs/memoryd/internal/reranker"
	"github.com/fyrsmithlabs/memoryd/internal/scoring"
	"github.com/tmc/langchaingo/llms/openai"
	"go.uber.org/zap"
)

// buildEngine assembles the full engine from configuration. The
// returned consolidator is the one wired into the engine, exposed so
// callers can drive a scheduler with it. The returned store must be
// closed by the caller.
func buildEngine(cfg *config.Config, logger *zap.Logger) (*memory.Engine, *memory.Consolidator, docstore.Store, error) {
	store, err := buildStore(cfg, logger)
	if err != nil {
		return nil, nil, nil, err
	}

	engine, consolidator, err := assembleEngine(cfg, store, logger)
	if err != nil {
		store.Close()
		return nil, nil, nil, err
	}
	return engine, consolidator, store, nil
}

func assembleEngine(cfg *config.Config, store docstore.Store, logger *zap.Logger) (*memory.Engine, *memory.Consolidator, error) {
	ranker, err := buildReranker(cfg, logger)
	if err != nil {
		return nil, nil, err
	}

	working := memory.NewWorkingMemory(cfg.Memory, logger)
	episodic, err := memory.NewEpisodicStore(store, cfg.Memory, logger)
	if err != nil {
		return nil, nil, err
	}
	semantic, err := memory.NewSemanticStore(store, ranker, cfg.Memory, logger)
	if err != nil {
		return nil, nil, err
	}
	procedural, err := memory.NewProceduralStore(store, cfg.Memory, logger)
	if err != nil {
		return nil, nil, err
	}
	consolidator, err := memory.NewConsolidator(episodic, semantic, procedural, cfg.Memory, logger)
	if err != nil {
		return nil, nil, err
	}
	learner, err := memory.NewLearner(semantic, cfg.Memory, logger)
	if err != nil {
		return nil, nil, err
	}
	predictor, err := memory.NewPredictor(semantic, procedural, cfg.Memory, logger)
	if err != nil {
		return nil, nil, err
	}

	engine, err := memory.NewEngine(memory.EngineDeps{
		Working:      working,
		Episodic:     episodic,
		Semantic:     semantic,
		Procedural:   procedural,
		Consolidator: consolidator,
		Learner:      learner,
		Predictor:    predictor,
		Scorers:      scoring.NewRegistry(),
		Logger:       logger,
	}, cfg.Memory)
	if err != nil {
		return nil, nil, err
	}
	return engine, consolidator, nil
}

func buildStore(cfg *config.Config, logger *zap.Logger) (docstore.Store, error) {
	switch cfg.Store.Backend {
	case config.StoreMemory:
		return docstore.NewMemStore(), nil
	case config.StoreNATS:
		store, err := docstore.NewNATSStore(context.Background(), cfg.Store.NATS, logger)
		if err != nil {
			return nil, fmt.Errorf("connecting to NATS store: %w", err)
		}
		return store, nil
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.Store.Backend)
	}
}

// buildReranker returns the configured LLM reranker, or nil so the
// semantic store falls back to token similarity.
func buildReranker(cfg *config.Config, logger *zap.Logger) (reranker.Reranker, error) {
	if !cfg.Reranker.Enabled {
		return nil, nil
	}

	apiKey := cfg.Reranker.APIKey
	if apiKey == "" {
		// langchaingo requires a token even for local OpenAI-compatible
		// servers.
		apiKey = "placeholder"
	}
	model, err := openai.New(
		openai.WithBaseURL(cfg.Reranker.BaseURL),
		openai.WithModel(cfg.Reranker.Model),
		openai.WithToken(apiKey),
	)
	if err != nil {
		return nil, fmt.Errorf("creating reranker model: %w", err)
	}

	fallback := reranker.NewTokenReranker(reranker.TFIDFCosine, true)
	return reranker.NewLLMReranker(model, fallback, cfg.Reranker.LLM, logger)
}
