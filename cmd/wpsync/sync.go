package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"

	"github.com/MarcoPoloResearchLab/wpsync/internal/content"
	"github.com/MarcoPoloResearchLab/wpsync/internal/feed"
	"github.com/MarcoPoloResearchLab/wpsync/internal/ledger"
	"github.com/MarcoPoloResearchLab/wpsync/internal/syncer"
	"github.com/MarcoPoloResearchLab/wpsync/internal/wordpress"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var errMissingFeed = errors.New("a feed url is required (--feed or feed.url)")

func newSyncCommand() *cobra.Command {
	var (
		siteID       int64
		feedURL      string
		kindName     string
		templatePath string
		maxItems     int
		noImages     bool
	)
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Import the entries of a feed into a site",
		RunE: func(cmd *cobra.Command, args []string) error {
			kind, err := content.ParseKind(kindName)
			if err != nil {
				return err
			}

			app, err := openApplication()
			if err != nil {
				return err
			}
			defer app.Close()

			if strings.TrimSpace(feedURL) == "" {
				feedURL = app.config.FeedURL
			}
			if feedURL == "" {
				return errMissingFeed
			}

			options := feed.DefaultOptions(kind)
			options.MaxItems = app.config.MaxItems
			if cmd.Flags().Changed("max-items") {
				options.MaxItems = maxItems
			}
			if templatePath != "" {
				options.Template, err = feed.LoadTemplate(templatePath)
				if err != nil {
					return err
				}
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			profile, err := app.ledger.GetSiteProfile(ctx, siteID)
			if err != nil {
				return err
			}
			site := syncer.SiteFromProfile(profile)

			doer, err := app.transportClient()
			if err != nil {
				return err
			}
			fetcher, err := feed.NewFetcher(doer, app.logger)
			if err != nil {
				return err
			}
			document, err := fetcher.Fetch(ctx, feedURL)
			if err != nil {
				app.ledger.Log(ctx, ledger.LevelError, fmt.Sprintf("feed %s unavailable: %v", feedURL, err))
				return err
			}
			items, err := feed.ToItems(document, options)
			if err != nil {
				return err
			}
			if app.config.ImportImages && !noImages {
				items = fetcher.AttachImages(ctx, items, app.config.MaxImages)
			}

			engine, err := syncer.NewEngine(syncer.Config{
				Ledger:               app.ledger,
				Remote:               wordpress.NewClient(doer, app.logger),
				Logger:               app.logger,
				Workers:              app.config.Workers,
				LedgerErrorThreshold: app.config.LedgerErrorThreshold,
				SkipChangeDetection:  !app.config.DetectChanges,
			})
			if err != nil {
				return err
			}

			app.logger.Info("sync starting",
				zap.Int64("site_id", site.ID),
				zap.String("feed", feedURL),
				zap.String("kind", string(kind)),
				zap.Int("items", len(items)))
			summary, runErr := engine.Run(ctx, site, items)
			if err := printSummary(cmd.OutOrStdout(), summary); err != nil {
				return err
			}
			return runErr
		},
	}
	cmd.Flags().Int64Var(&siteID, "site", 0, "Site profile id")
	cmd.Flags().StringVar(&feedURL, "feed", "", "RSS or Atom feed URL (defaults to feed.url)")
	cmd.Flags().StringVar(&kindName, "kind", string(content.KindPost), "Content kind: post, page or product")
	cmd.Flags().StringVar(&templatePath, "template", "", "html/template file rendering each body")
	cmd.Flags().IntVar(&maxItems, "max-items", 0, "Entries to import, 0 for all (defaults to sync.max_items)")
	cmd.Flags().BoolVar(&noImages, "no-images", false, "Skip downloading images referenced by entries")
	_ = cmd.MarkFlagRequired("site")
	return cmd
}

func printSummary(out io.Writer, summary syncer.RunSummary) error {
	writer := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "STATUS\tKIND\tSLUG\tREMOTE ID\tDETAIL")
	for _, result := range summary.Results {
		status := string(result.Status)
		if errors.Is(result.Err, syncer.ErrNotDispatched) {
			status = "not dispatched"
		}
		remoteID := "-"
		if result.RemoteID != nil {
			remoteID = fmt.Sprintf("%d", *result.RemoteID)
		}
		detail := ""
		if result.Err != nil && !errors.Is(result.Err, syncer.ErrNotDispatched) {
			detail = result.Err.Error()
		}
		fmt.Fprintf(writer, "%s\t%s\t%s\t%s\t%s\n", status, result.Kind, result.Slug, remoteID, detail)
	}
	if err := writer.Flush(); err != nil {
		return err
	}

	fmt.Fprintf(out, "\nrun %s: %d created, %d updated, %d skipped, %d errors",
		summary.RunID,
		summary.Counts[ledger.StatusCreated],
		summary.Counts[ledger.StatusUpdated],
		summary.Counts[ledger.StatusSkipped],
		summary.Counts[ledger.StatusError])
	if summary.NotDispatched > 0 {
		fmt.Fprintf(out, ", %d not dispatched", summary.NotDispatched)
	}
	fmt.Fprintln(out)
	if summary.Warning != "" {
		fmt.Fprintf(out, "warning: %s\n", summary.Warning)
	}
	return nil
}
