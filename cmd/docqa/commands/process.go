package commands

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/54b3r/docqa-go/internal/embedder"
	"github.com/54b3r/docqa-go/internal/logging"
	"github.com/54b3r/docqa-go/internal/processor"
)

// NewProcessCmd constructs the `docqa process` command, which runs the full
// ingestion pipeline (extract → chunk → embed → index) for one registered
// document.
func NewProcessCmd() *cobra.Command {
	var documentID string
	var reprocess bool

	cmd := &cobra.Command{
		Use:   "process",
		Short: "Process a registered document into the vector index",
		Long: `Run the ingestion pipeline for one registered document.

The document's text is extracted, split into overlapping chunks, embedded,
and written to both the owner's namespace and the global namespace of the
vector index. The document ends on status completed or failed.

Examples:
  docqa process --id 2f1c9a3e-...
  docqa process --id 2f1c9a3e-... --reprocess`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			log := logging.New()
			ctx = logging.WithLogger(ctx, log)

			if err := embedder.Validate(log); err != nil {
				return fmt.Errorf("process: %w", err)
			}

			store, err := openDocStore(log)
			if err != nil {
				return fmt.Errorf("process: %w", err)
			}
			defer func() { _ = store.Close() }()

			index, _, err := buildVecstore(ctx, log)
			if err != nil {
				return fmt.Errorf("process: %w", err)
			}
			defer func() { _ = index.Close() }()

			p := processor.New(store, index)

			var result string
			if reprocess {
				result = p.Reprocess(ctx, documentID)
			} else {
				result = p.Process(ctx, documentID)
			}
			fmt.Println(result)

			if !strings.HasPrefix(result, "Successfully") {
				return fmt.Errorf("process: document processing did not complete")
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&documentID, "id", "", "Document ID to process")
	cmd.Flags().BoolVar(&reprocess, "reprocess", false, "Reset the document (deleting its chunks) and process it again")

	_ = cmd.MarkFlagRequired("id")

	return cmd
}
