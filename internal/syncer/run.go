package syncer

import (
	"context"
	"fmt"

	"github.com/MarcoPoloResearchLab/wpsync/internal/content"
	"github.com/MarcoPoloResearchLab/wpsync/internal/ledger"
	"github.com/MarcoPoloResearchLab/wpsync/internal/wordpress"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// RunSummary reports a batch. Results follow input order.
type RunSummary struct {
	RunID         string
	Results       []Result
	Counts        map[ledger.Status]int
	NotDispatched int
	LedgerErrors  int
	Warning       string
}

// Run syncs a batch on a bounded worker pool. Items sharing a source identity are handled by one
// worker in input order. Cancelling ctx stops dispatch; items already started finish and persist
// their outcome. The returned error is non-nil only when the run was cancelled.
func (e *Engine) Run(ctx context.Context, site wordpress.Site, items []content.Item) (RunSummary, error) {
	runID := newRunID()
	logger := e.logger.With(zap.String("run_id", runID), zap.Int64("site_id", site.ID))
	logger.Info("sync run started", zap.Int("items", len(items)), zap.Int("workers", e.workers))

	results := make([]Result, len(items))
	dispatched := make([]bool, len(items))

	var group errgroup.Group
	group.SetLimit(e.workers)
	for _, indexes := range partitionByIdentity(items) {
		if ctx.Err() != nil {
			break
		}
		group.Go(func() error {
			for _, index := range indexes {
				if ctx.Err() != nil {
					return nil
				}
				dispatched[index] = true
				results[index] = e.Sync(context.WithoutCancel(ctx), site, items[index])
			}
			return nil
		})
	}
	_ = group.Wait()

	summary := RunSummary{RunID: runID, Results: results, Counts: make(map[ledger.Status]int)}
	for index := range results {
		if !dispatched[index] {
			summary.NotDispatched++
			results[index] = notDispatched(items[index])
			continue
		}
		summary.Counts[results[index].Status]++
		if results[index].LedgerFailure {
			summary.LedgerErrors++
		}
	}

	if e.ledgerErrorThreshold > 0 && summary.LedgerErrors >= e.ledgerErrorThreshold {
		summary.Warning = fmt.Sprintf("local ledger failed on %d items; the store may be damaged", summary.LedgerErrors)
		logger.Warn("ledger failures crossed threshold",
			zap.Int("ledger_errors", summary.LedgerErrors),
			zap.Int("threshold", e.ledgerErrorThreshold))
		e.ledger.Log(context.WithoutCancel(ctx), ledger.LevelWarning, fmt.Sprintf("run %s: %s", runID, summary.Warning))
	}

	logger.Info("sync run finished",
		zap.Int("created", summary.Counts[ledger.StatusCreated]),
		zap.Int("updated", summary.Counts[ledger.StatusUpdated]),
		zap.Int("skipped", summary.Counts[ledger.StatusSkipped]),
		zap.Int("errors", summary.Counts[ledger.StatusError]),
		zap.Int("not_dispatched", summary.NotDispatched))

	if err := ctx.Err(); err != nil {
		return summary, fmt.Errorf("sync run %s cancelled: %w", runID, err)
	}
	return summary, nil
}

// partitionByIdentity groups item indexes by source identity, in order of first appearance.
// Items without an identity are never grouped.
func partitionByIdentity(items []content.Item) [][]int {
	var groups [][]int
	positions := make(map[string]int)
	for index, item := range items {
		identity := ""
		if item != nil {
			identity = content.SourceIdentity(item)
		}
		if identity == "" {
			groups = append(groups, []int{index})
			continue
		}
		if position, ok := positions[identity]; ok {
			groups[position] = append(groups[position], index)
			continue
		}
		positions[identity] = len(groups)
		groups = append(groups, []int{index})
	}
	return groups
}

func notDispatched(item content.Item) Result {
	result := Result{Err: ErrNotDispatched}
	if item != nil {
		result.SourceIdentity = content.SourceIdentity(item)
		result.Kind = item.Kind()
		result.Slug = item.Base().Slug
	}
	return result
}

func newRunID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}
