// Package syncer drives content items through lookup, change detection, write and ledger update.
package syncer

import (
	"context"
	"errors"
	"fmt"

	"github.com/MarcoPoloResearchLab/wpsync/internal/content"
	"github.com/MarcoPoloResearchLab/wpsync/internal/ledger"
	"github.com/MarcoPoloResearchLab/wpsync/internal/wordpress"
	"go.uber.org/zap"
)

var (
	errMissingLedger = errors.New("ledger is required")
	errMissingRemote = errors.New("remote client is required")
	// ErrNotDispatched marks items skipped because the run was cancelled before they started.
	ErrNotDispatched = errors.New("syncer: item not dispatched before cancellation")
)

// Remote is the backend surface the engine writes through.
type Remote interface {
	FindBySlug(ctx context.Context, site wordpress.Site, kind content.Kind, slug string) (*wordpress.Resource, error)
	Create(ctx context.Context, site wordpress.Site, item content.Item) (wordpress.Resource, error)
	Update(ctx context.Context, site wordpress.Site, remoteID int64, item content.Item) (wordpress.Resource, error)
	UploadMedia(ctx context.Context, site wordpress.Site, asset content.MediaAsset) (int64, error)
}

// Ledger is the slice of the import ledger the engine depends on.
type Ledger interface {
	FindImportRecord(ctx context.Context, siteID int64, sourceIdentity string) (*ledger.ImportRecord, error)
	UpsertImportRecord(ctx context.Context, siteID int64, sourceIdentity string, remoteID *int64, status ledger.Status) (ledger.ImportRecord, error)
	HasContentChanged(ctx context.Context, siteID, remoteID int64, content string) (bool, error)
	RecordFingerprint(ctx context.Context, siteID, remoteID int64, content string) (string, error)
	Log(ctx context.Context, level ledger.Level, message string)
}

// Config wires an Engine.
type Config struct {
	Ledger               Ledger
	Remote               Remote
	Logger               *zap.Logger
	Workers              int
	LedgerErrorThreshold int

	// SkipChangeDetection skips any previously imported item still present remotely without
	// comparing fingerprints.
	SkipChangeDetection bool
}

// Engine runs the per-item state machine. It is safe for concurrent use as long as no two
// callers sync the same source identity at once; Run guarantees that for its own batch.
type Engine struct {
	ledger               Ledger
	remote               Remote
	logger               *zap.Logger
	workers              int
	ledgerErrorThreshold int
	detectChanges        bool
}

// Result is the terminal state of one item.
type Result struct {
	SourceIdentity string
	Kind           content.Kind
	Slug           string
	Status         ledger.Status
	RemoteID       *int64
	LedgerFailure  bool
	Err            error
}

// NewEngine validates the wiring. Fewer than one worker means one.
func NewEngine(cfg Config) (*Engine, error) {
	if cfg.Ledger == nil {
		return nil, fmt.Errorf("syncer.engine.new.missing_ledger: %w", errMissingLedger)
	}
	if cfg.Remote == nil {
		return nil, fmt.Errorf("syncer.engine.new.missing_remote: %w", errMissingRemote)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	workers := cfg.Workers
	if workers < 1 {
		workers = 1
	}
	return &Engine{
		ledger:               cfg.Ledger,
		remote:               cfg.Remote,
		logger:               logger,
		workers:              workers,
		ledgerErrorThreshold: cfg.LedgerErrorThreshold,
		detectChanges:        !cfg.SkipChangeDetection,
	}, nil
}

// SiteFromProfile turns a stored profile into a backend target.
func SiteFromProfile(profile ledger.SiteProfile) wordpress.Site {
	return wordpress.Site{
		ID:        profile.ID,
		BaseURL:   profile.BaseURL,
		Principal: profile.Principal,
		Secret:    profile.Secret,
	}
}

// Sync takes one item to a terminal state. Failures are folded into the result, never returned.
func (e *Engine) Sync(ctx context.Context, site wordpress.Site, item content.Item) Result {
	identity := ""
	result := Result{}
	if item != nil {
		identity = content.SourceIdentity(item)
		result = Result{SourceIdentity: identity, Kind: item.Kind(), Slug: item.Base().Slug}
	}

	if err := content.Validate(item); err != nil {
		e.ledger.Log(ctx, ledger.LevelError, fmt.Sprintf("rejected item %q: %v", identity, err))
		if identity == "" {
			return e.fail(result, err)
		}
		prior, ledgerErr := e.ledger.FindImportRecord(ctx, site.ID, identity)
		if ledgerErr != nil {
			return e.ledgerFailure(ctx, result, ledgerErr)
		}
		return e.recordError(ctx, site, result, priorRemoteID(prior), err)
	}

	prior, err := e.ledger.FindImportRecord(ctx, site.ID, identity)
	if err != nil {
		return e.ledgerFailure(ctx, result, err)
	}
	known := priorRemoteID(prior)

	existing, err := e.remote.FindBySlug(ctx, site, item.Kind(), result.Slug)
	if err != nil {
		return e.recordError(ctx, site, result, known, fmt.Errorf("lookup %s %q: %w", item.Kind(), result.Slug, err))
	}

	fingerprintSource := item.FingerprintSource()
	if existing != nil && known != nil {
		changed := false
		if e.detectChanges {
			changed, err = e.ledger.HasContentChanged(ctx, site.ID, existing.ID, fingerprintSource)
			if err != nil {
				return e.ledgerFailure(ctx, result, err)
			}
		}
		if !changed {
			remoteID := existing.ID
			if _, err := e.ledger.UpsertImportRecord(ctx, site.ID, identity, &remoteID, ledger.StatusSkipped); err != nil {
				return e.ledgerFailure(ctx, result, err)
			}
			result.Status = ledger.StatusSkipped
			result.RemoteID = &remoteID
			return result
		}
	}

	item = e.attachMedia(ctx, site, item)

	resource, status, err := e.write(ctx, site, item, existing)
	if err != nil {
		return e.recordError(ctx, site, result, known, err)
	}

	remoteID := resource.ID
	result.RemoteID = &remoteID
	if _, err := e.ledger.UpsertImportRecord(ctx, site.ID, identity, &remoteID, status); err != nil {
		return e.ledgerFailure(ctx, result, err)
	}
	if _, err := e.ledger.RecordFingerprint(ctx, site.ID, remoteID, fingerprintSource); err != nil {
		return e.ledgerFailure(ctx, result, err)
	}

	result.Status = status
	e.ledger.Log(ctx, ledger.LevelInfo, fmt.Sprintf("%s %q %s (remote id %d)", item.Kind(), result.Slug, status, remoteID))
	return result
}

// write creates or updates the resource. A create rejected as a conflict is retried as an
// update of the resource found by slug, exactly once; an update of a resource that vanished
// becomes a create.
func (e *Engine) write(ctx context.Context, site wordpress.Site, item content.Item, existing *wordpress.Resource) (wordpress.Resource, ledger.Status, error) {
	slug := item.Base().Slug
	if existing != nil {
		resource, err := e.remote.Update(ctx, site, existing.ID, item)
		if err == nil {
			return resource, ledger.StatusUpdated, nil
		}
		if !errors.Is(err, wordpress.ErrRemoteNotFound) {
			return wordpress.Resource{}, "", fmt.Errorf("update %s %d: %w", item.Kind(), existing.ID, err)
		}
		e.ledger.Log(ctx, ledger.LevelWarning, fmt.Sprintf("%s %d vanished before update; creating %q", item.Kind(), existing.ID, slug))
	}

	resource, err := e.remote.Create(ctx, site, item)
	if err == nil {
		return resource, ledger.StatusCreated, nil
	}
	if !errors.Is(err, wordpress.ErrRemoteConflict) {
		return wordpress.Resource{}, "", fmt.Errorf("create %s %q: %w", item.Kind(), slug, err)
	}

	found, lookupErr := e.remote.FindBySlug(ctx, site, item.Kind(), slug)
	if lookupErr != nil {
		return wordpress.Resource{}, "", fmt.Errorf("resolve conflicting %s %q: %w", item.Kind(), slug, lookupErr)
	}
	if found == nil {
		return wordpress.Resource{}, "", fmt.Errorf("resolve conflicting %s %q: %w", item.Kind(), slug, err)
	}
	resource, err = e.remote.Update(ctx, site, found.ID, item)
	if err != nil {
		return wordpress.Resource{}, "", fmt.Errorf("update conflicting %s %d: %w", item.Kind(), found.ID, err)
	}
	return resource, ledger.StatusUpdated, nil
}

// attachMedia uploads the item's assets. The first upload becomes the featured media; products
// also list every upload ahead of their existing images. Failed uploads are dropped.
func (e *Engine) attachMedia(ctx context.Context, site wordpress.Site, item content.Item) content.Item {
	assets := item.Base().Media
	if len(assets) == 0 {
		return item
	}

	uploaded := make([]int64, 0, len(assets))
	for _, asset := range assets {
		id, err := e.remote.UploadMedia(ctx, site, asset)
		if err != nil {
			e.ledger.Log(ctx, ledger.LevelWarning, fmt.Sprintf("media %s for %q not uploaded: %v", asset.Filename, item.Base().Slug, err))
			continue
		}
		uploaded = append(uploaded, id)
	}
	if len(uploaded) == 0 {
		return item
	}

	switch typed := item.(type) {
	case content.Post:
		if typed.FeaturedMediaID == 0 {
			typed.FeaturedMediaID = uploaded[0]
		}
		return typed
	case content.Page:
		if typed.FeaturedMediaID == 0 {
			typed.FeaturedMediaID = uploaded[0]
		}
		return typed
	case content.Product:
		if typed.FeaturedMediaID == 0 {
			typed.FeaturedMediaID = uploaded[0]
		}
		typed.ImageIDs = append(uploaded, typed.ImageIDs...)
		return typed
	default:
		return item
	}
}

func (e *Engine) recordError(ctx context.Context, site wordpress.Site, result Result, remoteID *int64, cause error) Result {
	result.RemoteID = remoteID
	e.ledger.Log(ctx, ledger.LevelError, fmt.Sprintf("%s %q failed: %v", result.Kind, result.Slug, cause))
	if _, err := e.ledger.UpsertImportRecord(ctx, site.ID, result.SourceIdentity, remoteID, ledger.StatusError); err != nil {
		result.LedgerFailure = true
		cause = errors.Join(cause, err)
	}
	return e.fail(result, cause)
}

func (e *Engine) ledgerFailure(ctx context.Context, result Result, err error) Result {
	result.LedgerFailure = true
	e.ledger.Log(ctx, ledger.LevelError, fmt.Sprintf("ledger failure for %q: %v", result.SourceIdentity, err))
	return e.fail(result, err)
}

func (e *Engine) fail(result Result, err error) Result {
	result.Status = ledger.StatusError
	result.Err = err
	e.logger.Warn("item failed",
		zap.String("source_identity", result.SourceIdentity),
		zap.String("kind", string(result.Kind)),
		zap.String("slug", result.Slug),
		zap.Bool("ledger_failure", result.LedgerFailure),
		zap.Error(err))
	return result
}

func priorRemoteID(record *ledger.ImportRecord) *int64 {
	if record == nil || record.RemoteID == nil {
		return nil
	}
	id := *record.RemoteID
	return &id
}
