// Package cli provides output formatting and the HTTP client used by the kioku CLI.
package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/hyperjump/kioku/internal/models"
	"github.com/hyperjump/kioku/pkg/utils"
)

// OutputFormat is the format for command output.
type OutputFormat string

const (
	// OutputText is human-readable text (default).
	OutputText OutputFormat = "text"
	// OutputJSON is structured JSON for machine consumption.
	OutputJSON OutputFormat = "json"
)

// ParseOutputFormat validates a --output flag value.
func ParseOutputFormat(s string) (OutputFormat, error) {
	switch OutputFormat(strings.ToLower(s)) {
	case OutputText, "":
		return OutputText, nil
	case OutputJSON:
		return OutputJSON, nil
	default:
		return "", fmt.Errorf("unknown output format %q (want text or json)", s)
	}
}

const captionWidth = 80

// WriteJSON writes v as indented JSON.
func WriteJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// WriteSearchResults writes a search response to w in the given format.
func WriteSearchResults(w io.Writer, response *models.SearchResponse, format OutputFormat) error {
	if format == OutputJSON {
		return WriteJSON(w, response)
	}
	fmt.Fprintf(w, "\nFound %d photos for %s in %dms (%s)\n", len(response.Hits), response.UserID, response.QueryTime, response.Mode)
	if response.Suggestion != "" {
		fmt.Fprintf(w, "Did you mean: %s\n", response.Suggestion)
	}
	fmt.Fprintln(w)
	for i, h := range response.Hits {
		fmt.Fprintf(w, "%2d. %s\n", i+1, h.Path)
		if h.Distance >= 0 {
			fmt.Fprintf(w, "    score %.4f  distance %.4f\n", h.Score, h.Distance)
		} else {
			fmt.Fprintf(w, "    score %.4f  (caption match)\n", h.Score)
		}
		if h.Caption != "" {
			fmt.Fprintf(w, "    %s\n", utils.Truncate(utils.SingleLine(h.Caption), captionWidth))
		}
	}
	return nil
}

// WritePhotos writes a user's photo list.
func WritePhotos(w io.Writer, userID string, photos []models.Photo, format OutputFormat) error {
	if format == OutputJSON {
		return WriteJSON(w, map[string]interface{}{"user_id": userID, "photos": photos})
	}
	fmt.Fprintf(w, "%d photos indexed for %s\n", len(photos), userID)
	for _, p := range photos {
		fmt.Fprintf(w, "%s\t%s\n", p.Path, utils.Truncate(utils.SingleLine(p.Caption), captionWidth))
	}
	return nil
}

// WriteStats writes one or more users' index summaries.
func WriteStats(w io.Writer, stats []models.IndexStats, format OutputFormat) error {
	if format == OutputJSON {
		return WriteJSON(w, stats)
	}
	for _, s := range stats {
		fmt.Fprintf(w, "%s\n", s.UserID)
		fmt.Fprintf(w, "  photos:     %d\n", s.Photos)
		fmt.Fprintf(w, "  dimension:  %d\n", s.Dimension)
		fmt.Fprintf(w, "  index:      %s (%s)\n", s.Backend, s.Metric)
		fmt.Fprintf(w, "  disk:       %s\n", utils.HumanBytes(s.DiskBytes))
		fmt.Fprintf(w, "  loaded:     %s\n", s.LoadedFrom)
	}
	return nil
}
