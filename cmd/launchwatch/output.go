package main

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"gopkg.in/yaml.v3"

	"launchwatch/internal/models"
)

var outputFmt string

// StatsResult is the output of the stats command.
type StatsResult struct {
	Stats models.MonitorStats `json:"stats" yaml:"stats"`
}

// ExtractResult is one record of the extract command.
type ExtractResult struct {
	Index   int             `json:"index" yaml:"index"`
	Listing *models.Listing `json:"listing,omitempty" yaml:"listing,omitempty"`
	Message string          `json:"message,omitempty" yaml:"message,omitempty"`
	Buttons []string        `json:"buttons,omitempty" yaml:"buttons,omitempty"`
	Image   bool            `json:"image" yaml:"image"`
	Error   string          `json:"error,omitempty" yaml:"error,omitempty"`
}

// outputResult writes result to w in the given format.
func outputResult(w io.Writer, result interface{}, format string) error {
	switch format {
	case "json":
		return outputJSON(w, result)
	case "yaml":
		return outputYAML(w, result)
	default:
		return outputTable(w, result)
	}
}

func outputJSON(w io.Writer, result interface{}) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(result)
}

func outputYAML(w io.Writer, result interface{}) error {
	data, err := yaml.Marshal(result)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, string(data))
	return err
}

func outputTable(out io.Writer, result interface{}) error {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	defer w.Flush()

	switch r := result.(type) {
	case []models.AnnouncementRecord:
		return outputAnnouncementsTable(w, r)
	case StatsResult:
		return outputStatsTable(w, r)
	case []ExtractResult:
		return outputExtractTable(w, r)
	default:
		return outputJSON(out, result)
	}
}

func outputAnnouncementsTable(w *tabwriter.Writer, records []models.AnnouncementRecord) error {
	fmt.Fprintln(w, "ID\tPOSTED AT\tNAME\tKEY\tMESSAGE")
	for _, r := range records {
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\n",
			r.ID, r.AnnouncedAt.UTC().Format(time.RFC3339), r.DisplayName, r.IdentityKey, r.DeliveryReceiptID)
	}
	return nil
}

func outputStatsTable(w *tabwriter.Writer, r StatsResult) error {
	s := r.Stats
	lastCheck := "never"
	if s.LastCycleAt != nil {
		lastCheck = s.LastCycleAt.UTC().Format(time.RFC3339)
	}
	lastError := "-"
	if s.LastError != nil {
		lastError = *s.LastError
	}
	fmt.Fprintf(w, "RUNNING\t%t\n", s.Running)
	fmt.Fprintf(w, "TOKENS FOUND\t%d\n", s.TotalSeen)
	fmt.Fprintf(w, "TOKENS POSTED\t%d\n", s.TotalAnnounced)
	fmt.Fprintf(w, "CYCLES\t%d\n", s.TotalCycles)
	fmt.Fprintf(w, "DELIVERY FAILURES\t%d\n", s.DeliveryFailures)
	fmt.Fprintf(w, "LAST CHECK\t%s\n", lastCheck)
	fmt.Fprintf(w, "LAST ERROR\t%s\n", lastError)
	return nil
}

func outputExtractTable(w *tabwriter.Writer, results []ExtractResult) error {
	fmt.Fprintln(w, "#\tKEY\tNAME\tSYMBOL\tIMAGE\tERROR")
	for _, r := range results {
		key, name, symbol := "-", "-", "-"
		if r.Listing != nil {
			key, name, symbol = r.Listing.IdentityKey, r.Listing.DisplayName(), r.Listing.Symbol
		}
		errText := "-"
		if r.Error != "" {
			errText = r.Error
		}
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%t\t%s\n", r.Index, key, name, symbol, r.Image, errText)
	}
	return nil
}
