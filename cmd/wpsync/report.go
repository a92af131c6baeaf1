package main

import (
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/MarcoPoloResearchLab/wpsync/internal/ledger"
	"github.com/spf13/cobra"
)

const (
	statsFormatTable = "table"
	statsFormatCSV   = "csv"
	statsFormatJSON  = "json"
)

var (
	errUnknownStatsFormat = errors.New("--format must be table, csv or json")
	reportedStatuses      = []ledger.Status{ledger.StatusCreated, ledger.StatusUpdated, ledger.StatusSkipped, ledger.StatusError}
)

// statsReport is the exported shape of the per-status counts.
type statsReport struct {
	SiteID *int64           `json:"site_id,omitempty"`
	Counts map[string]int64 `json:"counts"`
	Total  int64            `json:"total"`
}

func newStatsReport(siteID *int64, stats map[ledger.Status]int64) statsReport {
	report := statsReport{SiteID: siteID, Counts: make(map[string]int64, len(reportedStatuses))}
	for _, status := range reportedStatuses {
		report.Counts[string(status)] = stats[status]
		report.Total += stats[status]
	}
	return report
}

func newStatsCommand() *cobra.Command {
	var (
		siteID     int64
		format     string
		outputPath string
	)
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Count import records per status",
		RunE: func(cmd *cobra.Command, args []string) error {
			format = strings.ToLower(strings.TrimSpace(format))
			if format != statsFormatTable && format != statsFormatCSV && format != statsFormatJSON {
				return errUnknownStatsFormat
			}

			app, err := openApplication()
			if err != nil {
				return err
			}
			defer app.Close()

			var filter *int64
			if cmd.Flags().Changed("site") {
				filter = &siteID
			}
			stats, err := app.ledger.ImportStatistics(cmd.Context(), filter)
			if err != nil {
				return err
			}
			report := newStatsReport(filter, stats)

			if outputPath == "" {
				return writeStats(cmd.OutOrStdout(), format, report)
			}
			file, err := os.Create(outputPath)
			if err != nil {
				return fmt.Errorf("create %s: %w", outputPath, err)
			}
			if err := writeStats(file, format, report); err != nil {
				_ = file.Close()
				return err
			}
			if err := file.Close(); err != nil {
				return err
			}
			app.ledger.Log(cmd.Context(), ledger.LevelInfo, fmt.Sprintf("statistics exported to %s", outputPath))
			fmt.Fprintf(cmd.OutOrStdout(), "statistics written to %s\n", outputPath)
			return nil
		},
	}
	cmd.Flags().Int64Var(&siteID, "site", 0, "Restrict to one site profile")
	cmd.Flags().StringVar(&format, "format", statsFormatTable, "Output format: table, csv or json")
	cmd.Flags().StringVar(&outputPath, "output", "", "Write the report to this file instead of stdout")
	return cmd
}

func writeStats(out io.Writer, format string, report statsReport) error {
	switch format {
	case statsFormatCSV:
		writer := csv.NewWriter(out)
		if err := writer.Write([]string{"status", "count"}); err != nil {
			return err
		}
		for _, status := range reportedStatuses {
			if err := writer.Write([]string{string(status), strconv.FormatInt(report.Counts[string(status)], 10)}); err != nil {
				return err
			}
		}
		writer.Flush()
		return writer.Error()
	case statsFormatJSON:
		encoder := json.NewEncoder(out)
		encoder.SetIndent("", "  ")
		return encoder.Encode(report)
	default:
		writer := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
		fmt.Fprintln(writer, "STATUS\tCOUNT")
		for _, status := range reportedStatuses {
			fmt.Fprintf(writer, "%s\t%d\n", status, report.Counts[string(status)])
		}
		fmt.Fprintf(writer, "total\t%d\n", report.Total)
		return writer.Flush()
	}
}

func newLogsCommand() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "logs",
		Short: "Show the newest operation log entries",
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := openApplication()
			if err != nil {
				return err
			}
			defer app.Close()

			entries, err := app.ledger.RecentLogs(cmd.Context(), limit)
			if err != nil {
				return err
			}
			writer := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			for _, entry := range entries {
				fmt.Fprintf(writer, "%s\t%s\t%s\n", entry.CreatedAt.Format(time.DateTime), entry.Level, entry.Message)
			}
			return writer.Flush()
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 50, "Entries to show")
	return cmd
}
