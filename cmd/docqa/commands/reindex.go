package commands

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/54b3r/docqa-go/internal/docstore"
	"github.com/54b3r/docqa-go/internal/logging"
	"github.com/54b3r/docqa-go/internal/processor"
)

// NewReindexCmd constructs the `docqa reindex` command, which repairs the
// vector index for a user's completed documents: any chunk vector missing
// from the user or global namespace is re-upserted from the embeddings
// persisted in the document store.
func NewReindexCmd() *cobra.Command {
	var userID string

	cmd := &cobra.Command{
		Use:   "reindex",
		Short: "Repair missing vector index entries for a user's documents",
		Long: `Reconcile the vector index against the document store for one user.

Processing writes each chunk to two namespaces; a crash between the writes
can leave a document half-indexed. Reindex finds completed documents whose
vectors are missing from either namespace and re-upserts them from the
persisted embeddings, without re-running extraction or embedding.

Examples:
  docqa reindex --user 7`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			log := logging.New()
			ctx = logging.WithLogger(ctx, log)

			store, err := openDocStore(log)
			if err != nil {
				return fmt.Errorf("reindex: %w", err)
			}
			defer func() { _ = store.Close() }()

			index, _, err := buildVecstore(ctx, log)
			if err != nil {
				return fmt.Errorf("reindex: %w", err)
			}
			defer func() { _ = index.Close() }()

			docs, err := store.DocumentsByUser(ctx, userID)
			if err != nil {
				return fmt.Errorf("reindex: %w", err)
			}

			p := processor.New(store, index)

			checked, repaired := 0, 0
			for _, doc := range docs {
				if doc.Status != docstore.StatusCompleted {
					continue
				}
				checked++
				n, err := p.Reconcile(ctx, doc.ID)
				if err != nil {
					return fmt.Errorf("reindex: document %s: %w", doc.ID, err)
				}
				if n > 0 {
					log.Info("reindex: repaired document",
						slog.String("document_id", doc.ID),
						slog.Int("vectors", n),
					)
				}
				repaired += n
			}

			fmt.Printf("Checked %d completed documents, repaired %d vectors\n", checked, repaired)
			return nil
		},
	}

	cmd.Flags().StringVarP(&userID, "user", "u", "", "User ID whose documents to reconcile")

	_ = cmd.MarkFlagRequired("user")

	return cmd
}
