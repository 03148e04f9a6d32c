package main

import (
	"fmt"
	"io"
	"os"

	simplejson "github.com/bitly/go-simplejson"
	"github.com/spf13/cobra"

	"launchwatch/config"
	"launchwatch/internal/extract"
	"launchwatch/internal/formatter"
)

func extractCmd() *cobra.Command {
	var (
		listKey     string
		showMessage bool
	)
	cmd := &cobra.Command{
		Use:   "extract [file]",
		Short: "Run the extractor and formatter over a saved feed response",
		Long: `Read a feed response from a file (or stdin with "-") and print what each
record would produce. Nothing is stored or delivered.

Examples:
  launchwatch extract feed.json
  curl -s https://api.blast.fun/pools | launchwatch extract - -o json --message`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Default()
			if loaded, err := config.LoadConfig(configPath); err == nil {
				cfg = *loaded
			}
			if listKey != "" {
				cfg.Feed.ListKey = listKey
			}

			in := cmd.InOrStdin()
			if args[0] != "-" {
				f, err := os.Open(args[0])
				if err != nil {
					return err
				}
				defer f.Close()
				in = f
			}

			results, err := dryRun(in, cfg, showMessage)
			if err != nil {
				return err
			}
			return outputResult(cmd.OutOrStdout(), results, outputFmt)
		},
	}
	cmd.Flags().StringVar(&listKey, "list-key", "", "Override feed.list_key")
	cmd.Flags().BoolVar(&showMessage, "message", false, "Include the rendered message")
	cmd.Flags().StringVarP(&outputFmt, "output", "o", "table", "Output format: table, json, yaml")
	return cmd
}

func dryRun(r io.Reader, cfg config.Config, showMessage bool) ([]ExtractResult, error) {
	doc, err := simplejson.NewFromReader(r)
	if err != nil {
		return nil, fmt.Errorf("failed to parse feed response: %w", err)
	}

	ex := extract.New(extract.WithPoolIDFallback(cfg.Feed.AllowPoolIDFallback))
	fm := formatter.New(cfg.Formatter)

	records := extract.Records(doc, cfg.Feed.ListKey)
	results := make([]ExtractResult, 0, len(records))
	for i, raw := range records {
		res := ExtractResult{Index: i}
		listing, err := ex.Extract(raw)
		if err != nil {
			res.Error = err.Error()
			results = append(results, res)
			continue
		}
		payload := fm.Format(listing)
		res.Listing = &listing
		res.Image = payload.Image != nil
		if showMessage {
			res.Message = payload.Text
		}
		for _, a := range payload.Actions {
			res.Buttons = append(res.Buttons, a.Text+" "+a.URL)
		}
		results = append(results, res)
	}
	return results, nil
}
