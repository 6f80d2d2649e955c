// Package cli provides output formatting and an HTTP client for the vecindex command.
package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/hyperjump/vecindex/internal/models"
	"github.com/hyperjump/vecindex/pkg/utils"
)

// OutputFormat is the format for command output.
type OutputFormat string

const (
	// OutputText is human-readable text (default).
	OutputText OutputFormat = "text"
	// OutputCompact prints one tab-separated line per item.
	OutputCompact OutputFormat = "compact"
	// OutputJSON is structured JSON for machine consumption.
	OutputJSON OutputFormat = "json"
)

// ParseOutputFormat validates a --output flag value.
func ParseOutputFormat(s string) (OutputFormat, error) {
	switch f := OutputFormat(strings.ToLower(s)); f {
	case OutputText, OutputCompact, OutputJSON:
		return f, nil
	case "":
		return OutputText, nil
	default:
		return "", fmt.Errorf("unknown output format %q (want text, compact or json)", s)
	}
}

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// WriteSearchResults writes search results to w in the given format.
// Use OutputJSON for parseable output consumable by other apps.
func WriteSearchResults(w io.Writer, response *models.SearchResponse, format OutputFormat) error {
	switch format {
	case OutputJSON:
		return writeJSON(w, response)
	case OutputCompact:
		for _, r := range response.Results {
			fmt.Fprintf(w, "%d\t%.6f\t%s\t%s\t%s\n", r.Rank, r.SimilarityScore, r.DocumentID, r.EmbeddingID, r.ChunkID)
		}
		return nil
	default:
		writeSearchResultsText(w, response)
		return nil
	}
}

func writeSearchResultsText(w io.Writer, response *models.SearchResponse) {
	fmt.Fprintf(w, "\nFound %d results in %dms (%d documents searched, %d candidates)\n",
		response.TotalFound, response.Stats.SearchTimeMs, response.Stats.DocumentsSearched, response.Stats.TotalCandidates)
	for _, warning := range response.Warnings {
		fmt.Fprintf(w, "warning: %s\n", warning)
	}
	if len(response.SkippedDocuments) > 0 {
		fmt.Fprintf(w, "skipped (dimension mismatch): %s\n", strings.Join(response.SkippedDocuments, ", "))
	}
	if len(response.MissingDocuments) > 0 {
		fmt.Fprintf(w, "not indexed: %s\n", strings.Join(response.MissingDocuments, ", "))
	}
	fmt.Fprintln(w)
	for _, result := range response.Results {
		writeOneResult(w, result)
	}
}

func writeOneResult(w io.Writer, result *models.SearchResult) {
	fmt.Fprintf(w, "─────────────────────────────────────────────────────────\n")
	fmt.Fprintf(w, "Rank: %d | Score: %.4f\n", result.Rank, result.SimilarityScore)
	fmt.Fprintf(w, "Document: %s\n", result.DocumentID)
	fmt.Fprintf(w, "Embedding: %s\n", result.EmbeddingID)
	if result.ChunkID != "" {
		fmt.Fprintf(w, "Chunk: %s\n", result.ChunkID)
	}
	if len(result.Metadata) > 0 {
		fmt.Fprintf(w, "Metadata: %s\n", formatMetadata(result.Metadata))
	}
	if result.Vector != nil {
		fmt.Fprintf(w, "Vector: %s\n", utils.FormatVector(result.Vector, 8))
	}
	fmt.Fprintln(w)
}

// formatMetadata renders metadata as sorted key=value pairs.
func formatMetadata(m models.Metadata) string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = fmt.Sprintf("%s=%s", k, utils.Truncate(fmt.Sprint(m[k]), 60))
	}
	return strings.Join(parts, " ")
}

// PrintSearchResults prints search results to stdout in text format.
func PrintSearchResults(response *models.SearchResponse) {
	_ = WriteSearchResults(os.Stdout, response, OutputText)
}

// WriteStats writes index statistics to w.
func WriteStats(w io.Writer, stats models.Stats, format OutputFormat) error {
	if format == OutputJSON {
		return writeJSON(w, stats)
	}
	ids := make([]string, 0, len(stats.VectorsPerDocument))
	for id := range stats.VectorsPerDocument {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	if format == OutputCompact {
		for _, id := range ids {
			fmt.Fprintf(w, "%s\t%d\t%d\n", id, stats.DimensionPerDocument[id], stats.VectorsPerDocument[id])
		}
		return nil
	}
	fmt.Fprintf(w, "Documents: %d\nVectors: %d\n", stats.TotalDocuments, stats.TotalVectors)
	if len(ids) > 0 {
		fmt.Fprintln(w)
		fmt.Fprintf(w, "%-40s %9s %9s\n", "DOCUMENT", "DIMENSION", "VECTORS")
		for _, id := range ids {
			fmt.Fprintf(w, "%-40s %9d %9d\n", utils.Truncate(id, 37), stats.DimensionPerDocument[id], stats.VectorsPerDocument[id])
		}
	}
	return nil
}

// WriteDocuments writes document infos to w.
func WriteDocuments(w io.Writer, docs []models.DocumentInfo, format OutputFormat) error {
	switch format {
	case OutputJSON:
		return writeJSON(w, docs)
	case OutputCompact:
		for _, d := range docs {
			fmt.Fprintf(w, "%s\t%d\t%d\t%s\n", d.DocumentID, d.Dimension, d.TotalVectors, d.UpdatedAt.Format("2006-01-02T15:04:05Z07:00"))
		}
		return nil
	default:
		if len(docs) == 0 {
			fmt.Fprintln(w, "No documents indexed.")
			return nil
		}
		fmt.Fprintf(w, "%-40s %9s %9s  %s\n", "DOCUMENT", "DIMENSION", "VECTORS", "UPDATED")
		for _, d := range docs {
			fmt.Fprintf(w, "%-40s %9d %9d  %s\n", utils.Truncate(d.DocumentID, 37), d.Dimension, d.TotalVectors, d.UpdatedAt.Format("2006-01-02 15:04:05"))
		}
		return nil
	}
}
