package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/MikeSquared-Agency/verdict/internal/chat"
	"github.com/MikeSquared-Agency/verdict/internal/config"
	"github.com/MikeSquared-Agency/verdict/internal/embedding"
	"github.com/MikeSquared-Agency/verdict/internal/kafkasink"
	"github.com/MikeSquared-Agency/verdict/internal/metrics"
	"github.com/MikeSquared-Agency/verdict/internal/model"
	"github.com/MikeSquared-Agency/verdict/internal/processor"
	"github.com/MikeSquared-Agency/verdict/internal/store"
)

// pipeline holds the classifier and the optional sinks shared by serve and classify.
type pipeline struct {
	tok        chat.Tokenizer
	classifier *model.Classifier
	accuracy   *metrics.CategoricalAccuracy
	store      *store.Store
	publishers []processor.Publisher
	closers    []func()
}

func (p *pipeline) Close() {
	for i := len(p.closers) - 1; i >= 0; i-- {
		p.closers[i]()
	}
}

func (p *pipeline) processor(cfg config.Config, logger *slog.Logger) *processor.Processor {
	pc := processor.Config{
		Classifier:  p.classifier,
		Tokenizer:   p.tok,
		Publishers:  p.publishers,
		Accuracy:    p.accuracy,
		StrictHeads: cfg.StrictHeads,
		Pooler:      cfg.Pooler,
		Encoder:     cfg.Encoder,
		Logger:      logger,
	}
	// A nil *store.Store must not become a non-nil interface.
	if p.store != nil {
		pc.Store = p.store
	}
	return processor.New(pc)
}

// buildPipeline builds the classifier from cfg. With sinks, it also connects
// Postgres and Kafka when they are configured.
func buildPipeline(ctx context.Context, cfg config.Config, logger *slog.Logger, sinks bool) (*pipeline, error) {
	p := &pipeline{accuracy: metrics.NewCategoricalAccuracy()}

	tok, err := chat.NewTokenizer(cfg.Tokenizer)
	if err != nil {
		return nil, err
	}
	p.tok = tok

	spec := model.Spec{
		Pooler:       cfg.Pooler,
		Encoder:      cfg.Encoder,
		EmbeddingDim: cfg.EmbeddingDim,
		HiddenSize:   cfg.HiddenSize,
		Buckets:      cfg.Buckets,
		Seed:         cfg.Seed,
		Workers:      cfg.Workers,
	}
	if cfg.Pooler == "embedder" {
		emb, err := embedding.New(embedding.Options{BaseURL: cfg.OllamaURL, Model: cfg.EmbedModel})
		if err != nil {
			return nil, err
		}
		spec.Embedder = emb
		p.closers = append(p.closers, func() { _ = emb.Close() })
	}

	p.classifier, err = model.DefaultRegistry().Build(ctx, spec,
		model.WithAccumulator(p.accuracy),
		model.WithLogger(logger),
	)
	if err != nil {
		p.Close()
		return nil, fmt.Errorf("build classifier: %w", err)
	}
	logger.Info("classifier ready",
		"tokenizer", cfg.Tokenizer,
		"pooler", cfg.Pooler,
		"encoder", cfg.Encoder,
		"embedding_dim", cfg.EmbeddingDim,
		"hidden_size", cfg.HiddenSize,
	)

	if !sinks {
		return p, nil
	}

	if cfg.DatabaseURL != "" {
		db, err := store.New(ctx, cfg.DatabaseURL)
		if err != nil {
			p.Close()
			return nil, err
		}
		if err := db.Migrate(ctx); err != nil {
			db.Close()
			p.Close()
			return nil, err
		}
		p.store = db
		p.closers = append(p.closers, db.Close)
		logger.Info("database connected")
	} else {
		logger.Warn("DATABASE_URL not set, classifications will not be stored")
	}

	if len(cfg.KafkaBrokers) > 0 {
		kp, err := kafkasink.NewPublisher(cfg.KafkaBrokers, cfg.KafkaTopic)
		if err != nil {
			p.Close()
			return nil, err
		}
		p.publishers = append(p.publishers, kp)
		p.closers = append(p.closers, func() { _ = kp.Close() })
		logger.Info("kafka sink ready", "topic", cfg.KafkaTopic, "brokers", cfg.KafkaBrokers)
	}

	return p, nil
}
