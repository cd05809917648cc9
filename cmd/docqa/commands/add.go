package commands

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/54b3r/docqa-go/internal/docstore"
	"github.com/54b3r/docqa-go/internal/extract"
	"github.com/54b3r/docqa-go/internal/logging"
)

// NewAddCmd constructs the `docqa add` command, which registers an uploaded
// file in the document store as a pending document. Processing happens
// separately via `docqa process` or the HTTP API.
func NewAddCmd() *cobra.Command {
	var title string
	var userID string
	var agentID string
	var fileType string

	cmd := &cobra.Command{
		Use:   "add [file]",
		Short: "Register a document file for processing",
		Long: `Register a txt, pdf, or docx file in the document store.

The file is recorded as a pending document owned by --user. Run
'docqa process --id <id>' (or POST /api/documents/process) to extract,
chunk, embed, and index it.

Examples:
  docqa add report.pdf --user 7
  docqa add notes.txt --user 7 --title "Meeting notes" --agent support-bot`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			log := logging.New()

			path, err := filepath.Abs(args[0])
			if err != nil {
				return fmt.Errorf("add: %w", err)
			}

			if fileType == "" {
				fileType = strings.TrimPrefix(filepath.Ext(path), ".")
			}
			if _, err := extract.ParseFormat(fileType); err != nil {
				return fmt.Errorf("add: %w", err)
			}

			if title == "" {
				title = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
			}

			// DOCQA_UPLOAD_DIR keeps a stable copy of registered files so
			// processing is not broken by the original being moved.
			if uploadDir := os.Getenv("DOCQA_UPLOAD_DIR"); uploadDir != "" {
				copied, err := copyToUploadDir(path, uploadDir)
				if err != nil {
					return fmt.Errorf("add: %w", err)
				}
				path = copied
			}

			store, err := openDocStore(log)
			if err != nil {
				return fmt.Errorf("add: %w", err)
			}
			defer func() { _ = store.Close() }()

			doc, err := store.CreateDocument(ctx, docstore.Document{
				Title:    title,
				FilePath: path,
				FileType: fileType,
				UserID:   userID,
				AgentID:  agentID,
			})
			if err != nil {
				return fmt.Errorf("add: failed to register document: %w", err)
			}

			fmt.Printf("Registered document %s (%s)\n", doc.ID, doc.Title)
			fmt.Printf("Process it with: docqa process --id %s\n", doc.ID)
			return nil
		},
	}

	cmd.Flags().StringVarP(&title, "title", "t", "", "Document title (default: file name)")
	cmd.Flags().StringVarP(&userID, "user", "u", "", "Owning user ID")
	cmd.Flags().StringVarP(&agentID, "agent", "a", "", "Optional agent ID to scope the document to")
	cmd.Flags().StringVar(&fileType, "type", "", "File type override (txt, pdf, docx/doc; default: from extension)")

	_ = cmd.MarkFlagRequired("user")

	return cmd
}

// copyToUploadDir copies src into dir (created if missing) and returns the
// destination path.
func copyToUploadDir(src, dir string) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create upload dir: %w", err)
	}
	dst := filepath.Join(dir, filepath.Base(src))

	in, err := os.Open(src)
	if err != nil {
		return "", fmt.Errorf("failed to open source file: %w", err)
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return "", fmt.Errorf("failed to create upload copy: %w", err)
	}
	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		return "", fmt.Errorf("failed to copy into upload dir: %w", err)
	}
	if err := out.Close(); err != nil {
		return "", fmt.Errorf("failed to finalise upload copy: %w", err)
	}
	return dst, nil
}
