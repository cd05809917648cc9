package commands

import (
	"fmt"

	"github.com/cloudwego/eino/callbacks"
	"github.com/spf13/cobra"

	"github.com/54b3r/docqa-go/internal/answer"
	"github.com/54b3r/docqa-go/internal/embedder"
	"github.com/54b3r/docqa-go/internal/logging"
	"github.com/54b3r/docqa-go/internal/provider"
	"github.com/54b3r/docqa-go/internal/tracing"
)

// NewAskCmd constructs the `docqa ask` command, which answers a single
// natural language question grounded on the indexed documents.
func NewAskCmd() *cobra.Command {
	var userID string
	var agentID string

	cmd := &cobra.Command{
		Use:   "ask [question]",
		Short: "Ask a question over your indexed documents",
		Long: `Ask a natural language question answered from the indexed documents.

Retrieval searches the --user namespace first and falls back to globally
shared documents. When nothing relevant is found the model answers from
general knowledge instead.

Examples:
  docqa ask "what were the Q3 revenue figures?" --user 7
  docqa ask "summarise the onboarding guide" --user 7 --agent support-bot
  docqa ask "what does the handbook say about leave?"`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			log := logging.New()
			ctx = logging.WithLogger(ctx, log)

			if err := embedder.Validate(log); err != nil {
				return fmt.Errorf("ask: %w", err)
			}

			// Langfuse tracing — opt-in, no-op if keys are absent.
			if handler, flush, ok := tracing.Setup(); ok {
				callbacks.AppendGlobalHandlers(handler)
				defer flush()
			}

			index, _, err := buildVecstore(ctx, log)
			if err != nil {
				return fmt.Errorf("ask: %w", err)
			}
			defer func() { _ = index.Close() }()

			chatModel, err := provider.NewFromEnv(ctx)
			if err != nil {
				return fmt.Errorf("ask: failed to initialise model provider: %w", err)
			}

			svc := answer.New(index, chatModel,
				answer.WithTopK(getEnvInt("RAG_TOP_K", answer.DefaultTopK)),
				answer.WithSimilarityThreshold(getEnvFloat32("RAG_SIMILARITY_THRESHOLD", answer.DefaultSimilarityThreshold)),
				answer.WithTemperature(getEnvFloat32("MODEL_TEMPERATURE", answer.DefaultTemperature)),
				answer.WithMaxTokens(getEnvInt("MODEL_MAX_TOKENS", answer.DefaultMaxTokens)),
			)

			fmt.Println(svc.GenerateResponse(ctx, args[0], userID, agentID))
			return nil
		},
	}

	cmd.Flags().StringVarP(&userID, "user", "u", "", "User ID whose documents to search (empty: global only)")
	cmd.Flags().StringVarP(&agentID, "agent", "a", "", "Restrict retrieval to one agent's documents")

	return cmd
}
