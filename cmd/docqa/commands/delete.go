package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/54b3r/docqa-go/internal/logging"
	"github.com/54b3r/docqa-go/internal/vecstore"
)

// NewDeleteCmd constructs the `docqa delete` command, which removes a
// document (or all of a user's documents) from both the document store and
// the vector index.
func NewDeleteCmd() *cobra.Command {
	var documentID string
	var userID string

	cmd := &cobra.Command{
		Use:   "delete",
		Short: "Delete a document, or all of a user's documents",
		Long: `Delete indexed documents.

With --id, one document's vectors are removed from the owner's namespace and
the global namespace, then the document and its chunks are deleted from the
store. With --user, the user's entire namespace is cleared server-side and
every document they own is deleted.

Examples:
  docqa delete --id 2f1c9a3e-...
  docqa delete --user 7`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if (documentID == "") == (userID == "") {
				return fmt.Errorf("delete: exactly one of --id or --user is required")
			}

			ctx := cmd.Context()
			log := logging.New()
			ctx = logging.WithLogger(ctx, log)

			store, err := openDocStore(log)
			if err != nil {
				return fmt.Errorf("delete: %w", err)
			}
			defer func() { _ = store.Close() }()

			index, _, err := buildVecstore(ctx, log)
			if err != nil {
				return fmt.Errorf("delete: %w", err)
			}
			defer func() { _ = index.Close() }()

			if documentID != "" {
				doc, err := store.GetDocument(ctx, documentID)
				if err != nil {
					return fmt.Errorf("delete: %w", err)
				}
				chunks, err := store.ChunksByDocument(ctx, documentID)
				if err != nil {
					return fmt.Errorf("delete: %w", err)
				}
				ids := make([]string, len(chunks))
				for i, c := range chunks {
					ids[i] = c.ID
				}
				for _, ns := range []string{vecstore.UserNamespace(doc.UserID), vecstore.GlobalNamespace} {
					if err := index.DeleteByIDs(ctx, ns, ids); err != nil {
						return fmt.Errorf("delete: %w", err)
					}
				}
				if err := store.DeleteDocument(ctx, documentID); err != nil {
					return fmt.Errorf("delete: %w", err)
				}
				fmt.Printf("Deleted document %s (%d chunks)\n", documentID, len(chunks))
				return nil
			}

			// Whole-user path: the namespace is cleared with one server-side
			// filter delete, then the store rows go. Global copies of the
			// user's chunks are removed per document by chunk ID.
			docs, err := store.DocumentsByUser(ctx, userID)
			if err != nil {
				return fmt.Errorf("delete: %w", err)
			}
			for _, doc := range docs {
				chunks, err := store.ChunksByDocument(ctx, doc.ID)
				if err != nil {
					return fmt.Errorf("delete: %w", err)
				}
				ids := make([]string, len(chunks))
				for i, c := range chunks {
					ids[i] = c.ID
				}
				if err := index.DeleteByIDs(ctx, vecstore.GlobalNamespace, ids); err != nil {
					return fmt.Errorf("delete: %w", err)
				}
			}
			if err := index.DeleteAllForUser(ctx, userID); err != nil {
				return fmt.Errorf("delete: %w", err)
			}
			for _, doc := range docs {
				if err := store.DeleteDocument(ctx, doc.ID); err != nil {
					return fmt.Errorf("delete: %w", err)
				}
			}
			fmt.Printf("Deleted %d documents for user %s\n", len(docs), userID)
			return nil
		},
	}

	cmd.Flags().StringVar(&documentID, "id", "", "Document ID to delete")
	cmd.Flags().StringVarP(&userID, "user", "u", "", "Delete all documents owned by this user")

	return cmd
}
