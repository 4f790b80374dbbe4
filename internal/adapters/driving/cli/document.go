package cli

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/custodia-labs/sercha-local/internal/core/domain"
)

var documentCmd = &cobra.Command{
	Use:     "document",
	Aliases: []string{"doc"},
	Short:   "Inspect indexed documents",
	Long:    `List indexed documents, show their state and print their extracted text.`,
}

var documentListCmd = &cobra.Command{
	Use:   "list",
	Short: "List documents",
	Args:  cobra.NoArgs,
	RunE:  runDocumentList,
}

var documentGetCmd = &cobra.Command{
	Use:   "get <id|path>",
	Short: "Show document info",
	Args:  cobra.ExactArgs(1),
	RunE:  runDocumentGet,
}

var documentContentCmd = &cobra.Command{
	Use:   "content <id|path>",
	Short: "Print document content",
	Args:  cobra.ExactArgs(1),
	RunE:  runDocumentContent,
}

var (
	docListStatus []string
	docListPath   string
	docListTags   []string
	docListLimit  int
	docListJSON   bool
)

func init() {
	documentListCmd.Flags().StringSliceVar(&docListStatus, "status", nil, "only documents in these states")
	documentListCmd.Flags().StringVar(&docListPath, "path", "", "only documents under this path")
	documentListCmd.Flags().StringSliceVar(&docListTags, "tag", nil, "only documents with this tag")
	documentListCmd.Flags().IntVarP(&docListLimit, "limit", "n", 0, "maximum number of documents")
	documentListCmd.Flags().BoolVar(&docListJSON, "json", false, "output documents as JSON")

	documentCmd.AddCommand(documentListCmd)
	documentCmd.AddCommand(documentGetCmd)
	documentCmd.AddCommand(documentContentCmd)
	rootCmd.AddCommand(documentCmd)
}

func runDocumentList(cmd *cobra.Command, _ []string) error {
	if documentService == nil {
		return fmt.Errorf("document: %w", errNotConfigured)
	}

	filter := domain.DocumentFilter{
		PathPrefix: absPath(docListPath),
		Tags:       docListTags,
		Limit:      docListLimit,
	}
	for _, s := range docListStatus {
		status := domain.DocumentStatus(strings.TrimSpace(s))
		if !status.IsValid() {
			return fmt.Errorf("unknown status %q", s)
		}
		filter.Statuses = append(filter.Statuses, status)
	}

	docs, err := documentService.List(cmd.Context(), filter)
	if err != nil {
		return fmt.Errorf("failed to list documents: %w", err)
	}
	if docListJSON {
		return outputJSON(cmd, docs)
	}
	if len(docs) == 0 {
		cmd.Println("No documents found.")
		return nil
	}

	st := stylesFor(cmd.OutOrStdout())
	for _, d := range docs {
		status := string(d.Status)
		if d.Status == domain.StatusError {
			status = st.Error.Render(status)
		}
		cmd.Printf("  %-10s %s\n", status, st.Path.Render(d.Path))
	}
	cmd.Printf("\nTotal: %d documents\n", len(docs))
	return nil
}

func runDocumentGet(cmd *cobra.Command, args []string) error {
	if documentService == nil {
		return fmt.Errorf("document: %w", errNotConfigured)
	}

	doc, err := documentService.Get(cmd.Context(), documentRef(args[0]))
	if err != nil {
		return fmt.Errorf("failed to get document: %w", err)
	}

	cmd.Printf("Document: %s\n\n", doc.ID)
	cmd.Printf("  Title:    %s\n", doc.Title)
	cmd.Printf("  Path:     %s\n", doc.Path)
	cmd.Printf("  Status:   %s\n", doc.Status)
	cmd.Printf("  Type:     %s (%s)\n", doc.MIMEType, doc.Category)
	cmd.Printf("  Size:     %d bytes\n", doc.Size)
	if doc.OCRStatus != "" {
		cmd.Printf("  OCR:      %s\n", doc.OCRStatus)
	}
	if len(doc.Tags) > 0 {
		cmd.Printf("  Tags:     %s\n", strings.Join(doc.Tags, ", "))
	}
	cmd.Printf("  Created:  %s\n", doc.CreatedAt.Format("2006-01-02 15:04:05"))
	cmd.Printf("  Updated:  %s\n", doc.UpdatedAt.Format("2006-01-02 15:04:05"))
	if doc.IndexedAt != nil {
		cmd.Printf("  Indexed:  %s\n", doc.IndexedAt.Format("2006-01-02 15:04:05"))
	}
	if doc.Error != nil {
		cmd.Printf("  Error:    %s: %s\n", doc.Error.Stage, doc.Error.Message)
	}

	if len(doc.Metadata) > 0 {
		cmd.Println("\n  Metadata:")
		for k, v := range doc.Metadata {
			cmd.Printf("    %s: %v\n", k, v)
		}
	}
	return nil
}

func runDocumentContent(cmd *cobra.Command, args []string) error {
	if documentService == nil {
		return fmt.Errorf("document: %w", errNotConfigured)
	}

	content, err := documentService.GetContent(cmd.Context(), documentRef(args[0]))
	if err != nil {
		return fmt.Errorf("failed to get document content: %w", err)
	}
	cmd.Println(content)
	return nil
}

// documentRef turns an existing relative path into an absolute one and
// leaves ids alone.
func documentRef(ref string) string {
	if _, err := os.Stat(ref); err == nil {
		return absPath(ref)
	}
	return ref
}
