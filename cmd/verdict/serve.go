package main

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/MikeSquared-Agency/verdict/internal/api"
	"github.com/MikeSquared-Agency/verdict/internal/config"
	"github.com/MikeSquared-Agency/verdict/internal/hermes"
	"github.com/MikeSquared-Agency/verdict/internal/model"
)

func newServeCmd(cfg config.Config, logger *slog.Logger) *cobra.Command {
	var noNATS bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and NATS subscriber",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			logger.Info("verdict starting", "port", cfg.Port)

			p, err := buildPipeline(ctx, cfg, logger, true)
			if err != nil {
				return err
			}
			defer p.Close()

			registration := hermes.AgentRegistered{
				AgentID:      "verdict",
				Name:         "verdict",
				Capabilities: []string{"conversation-classification"},
				Pooler:       cfg.Pooler,
				Encoder:      cfg.Encoder,
			}
			for _, pub := range p.publishers {
				if err := pub.Publish(hermes.SubjectAgentRegistered, registration); err != nil {
					logger.Warn("failed to publish registration", "error", err)
				}
			}

			var hermesClient *hermes.Client
			if !noNATS {
				hermesClient, err = hermes.NewClient(ctx, cfg.NatsURL, cfg.NatsToken, logger)
				if err != nil {
					return fmt.Errorf("connect to NATS: %w", err)
				}
				defer hermesClient.Close()
				p.publishers = append(p.publishers, hermesClient)
				logger.Info("NATS connected", "url", cfg.NatsURL)
			}

			proc := p.processor(cfg, logger)

			if hermesClient != nil {
				if err := hermesClient.OnTranscript(proc.HandleTranscriptSubmitted); err != nil {
					return fmt.Errorf("subscribe to transcripts: %w", err)
				}
				if err := hermesClient.Announce(registration); err != nil {
					logger.Warn("failed to announce on NATS", "error", err)
				}
			}

			srv := api.NewServer(cfg.Port, cfg.APIToken, proc, api.Info{
				Tokenizer: cfg.Tokenizer,
				Pooler:    cfg.Pooler,
				Encoder:   cfg.Encoder,
			}, logger)
			if hermesClient != nil {
				srv.WithBroker(hermesClient.Connected)
			}
			if p.store != nil {
				srv.WithLookup(p.store)
				if convs, cls, err := p.store.Counts(ctx); err == nil {
					logger.Info("store ready", "conversations", convs, "classifications", cls)
				}
			}

			logger.Info("verdict ready", "port", cfg.Port, "encoders", model.DefaultRegistry().Encoders())
			err = srv.Start(ctx)
			logger.Info("verdict stopped")
			return err
		},
	}

	cmd.Flags().BoolVar(&noNATS, "no-nats", false, "serve HTTP only, without the NATS subscriber")
	return cmd
}
