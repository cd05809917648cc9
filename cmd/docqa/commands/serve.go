package commands

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/cloudwego/eino/callbacks"
	"github.com/spf13/cobra"

	"github.com/54b3r/docqa-go/internal/answer"
	"github.com/54b3r/docqa-go/internal/embedder"
	"github.com/54b3r/docqa-go/internal/logging"
	"github.com/54b3r/docqa-go/internal/processor"
	"github.com/54b3r/docqa-go/internal/provider"
	"github.com/54b3r/docqa-go/internal/server"
	"github.com/54b3r/docqa-go/internal/tracing"
)

// NewServeCmd constructs the `docqa serve` command, which starts the HTTP
// server exposing document processing and question answering.
func NewServeCmd() *cobra.Command {
	var host string
	var port int

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the docqa HTTP server",
		Long: `Start the docqa HTTP server on localhost.

The server exposes a JSON REST API:
  POST /api/documents/process  run the ingestion pipeline for a document
  POST /api/chat               answer a question over the indexed documents
  GET  /api/health             liveness
  GET  /api/ready              readiness (Qdrant + embedding backend probes)
  GET  /metrics                Prometheus metrics

Set DOCQA_API_KEY to require Bearer authentication on the /api routes.

Examples:
  docqa serve
  docqa serve --port 9090
  MODEL_PROVIDER=azure docqa serve`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			log := logging.New()
			ctx = logging.WithLogger(ctx, log)

			log.Info("serve starting", slog.String("provider", os.Getenv("MODEL_PROVIDER")))

			// Langfuse tracing — opt-in, no-op if keys are absent.
			handler, flush, ok := tracing.Setup()
			if ok {
				callbacks.AppendGlobalHandlers(handler)
				defer flush()
				log.Info("langfuse tracing enabled")
			} else {
				log.Info("langfuse tracing disabled", slog.String("reason", "LANGFUSE_PUBLIC_KEY not set"))
			}

			if err := embedder.Validate(log); err != nil {
				return fmt.Errorf("serve: %w", err)
			}

			store, err := openDocStore(log)
			if err != nil {
				return fmt.Errorf("serve: %w", err)
			}
			defer func() { _ = store.Close() }()

			index, emb, err := buildVecstore(ctx, log)
			if err != nil {
				return fmt.Errorf("serve: %w", err)
			}
			defer func() { _ = index.Close() }()

			providerCfg := provider.ConfigFromEnv()
			chatModel, err := provider.New(ctx, providerCfg)
			if err != nil {
				return fmt.Errorf("serve: failed to initialise model provider: %w", err)
			}
			log.Info("provider initialised", slog.String("provider", string(providerCfg.Backend)))

			proc := processor.New(store, index)
			svc := answer.New(index, chatModel,
				answer.WithTopK(getEnvInt("RAG_TOP_K", answer.DefaultTopK)),
				answer.WithSimilarityThreshold(getEnvFloat32("RAG_SIMILARITY_THRESHOLD", answer.DefaultSimilarityThreshold)),
				answer.WithTemperature(providerCfg.Temperature),
				answer.WithMaxTokens(providerCfg.MaxTokens),
			)

			pingers := []server.Pinger{server.NewVectorStorePinger(index)}
			if p, okPing := emb.(interface{ Ping(context.Context) error }); okPing {
				pingers = append(pingers, server.NewEmbedderPinger(p, embedder.ResolveBackend()))
			}

			srv, err := server.New(proc, svc, &server.Config{
				Host:    host,
				Port:    port,
				Logger:  log,
				Pingers: pingers,
				APIKey:  os.Getenv("DOCQA_API_KEY"),
			})
			if err != nil {
				return fmt.Errorf("serve: failed to create server: %w", err)
			}

			return srv.Start(ctx)
		},
	}

	cmd.Flags().StringVar(&host, "host", "127.0.0.1", "Host address to bind to")
	cmd.Flags().IntVarP(&port, "port", "p", 8080, "TCP port to listen on")

	return cmd
}
