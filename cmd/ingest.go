package cmd

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	domain "github.com/AzielCF/az-medchat/chatengine/domain"
	"github.com/AzielCF/az-medchat/chatengine/providers"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

// reportLine is one JSONL record accepted by ingest.
type reportLine struct {
	SourceID string `json:"source_id"`
	Content  string `json:"content"`
}

var ingestCmd = &cobra.Command{
	Use:   "ingest <reports.jsonl>",
	Short: "Embed report texts and store them for retrieval",
	Long: `Read one JSON object per line ({"source_id": "...", "content": "..."}),
embed each content with the configured embedding endpoint and store the vector
in the report_embeddings table.`,
	Args: cobra.ExactArgs(1),
	RunE: runIngest,
}

func init() {
	rootCmd.AddCommand(ingestCmd)
}

func runIngest(cmd *cobra.Command, args []string) error {
	if cfg.RAG.EmbeddingURL == "" {
		return fmt.Errorf("EMBEDDING_API_URL is required for ingest")
	}
	ctx := cmd.Context()

	f, err := os.Open(args[0])
	if err != nil {
		return err
	}
	defer f.Close()

	e := &engine{cfg: cfg, log: logrus.StandardLogger(), cancel: func() {}}
	defer e.Stop()

	snippets, err := e.openSnippets(ctx)
	if err != nil {
		return err
	}
	embedder := providers.NewOpenAIEmbedder(cfg.RAG)

	var stored, skipped int
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for n := 1; scanner.Scan(); n++ {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var rec reportLine
		if err := json.Unmarshal([]byte(line), &rec); err != nil || strings.TrimSpace(rec.Content) == "" {
			logrus.Warnf("[INGEST] Skipping line %d: invalid record", n)
			skipped++
			continue
		}

		vector, err := embedder.Embed(ctx, rec.Content)
		if err != nil {
			logrus.WithError(err).Warnf("[INGEST] Skipping line %d: embedding failed", n)
			skipped++
			continue
		}
		if err := snippets.SaveSnippet(ctx, domain.EmbeddedSnippet{
			SourceID: rec.SourceID,
			Content:  rec.Content,
			Vector:   vector,
		}); err != nil {
			return fmt.Errorf("failed to store line %d: %w", n, err)
		}
		stored++
	}
	if err := scanner.Err(); err != nil {
		return err
	}

	logrus.Infof("[INGEST] Stored %d reports, skipped %d", stored, skipped)
	return nil
}
