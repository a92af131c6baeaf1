package ledger

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	errMissingDatabase = errors.New("database handle is required")
	errMissingBaseURL  = errors.New("base url is required")
	errMissingIdentity = errors.New("source identity is required")
	errInvalidStatus   = errors.New("unknown import status")
	// ErrSiteProfileNotFound indicates that no site profile matches the requested id.
	ErrSiteProfileNotFound = errors.New("ledger: site profile not found")
	noOpLogger             = zap.NewNop()
)

// Error reports a storage-layer failure for one ledger operation.
type Error struct {
	Operation string
	Reason    string
	Cause     error
}

func (e *Error) Error() string {
	if e.Cause == nil {
		return e.Code()
	}
	return fmt.Sprintf("%s: %v", e.Code(), e.Cause)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Code returns the operation.reason identifier.
func (e *Error) Code() string {
	return fmt.Sprintf("%s.%s", e.Operation, e.Reason)
}

const (
	opServiceNew          = "ledger.service.new"
	opAddSiteProfile      = "ledger.add_site_profile"
	opListSiteProfiles    = "ledger.list_site_profiles"
	opGetSiteProfile      = "ledger.get_site_profile"
	opDeleteSiteProfile   = "ledger.delete_site_profile"
	opRotateSecret        = "ledger.rotate_secret"
	opFindImportRecord    = "ledger.find_import_record"
	opUpsertImportRecord  = "ledger.upsert_import_record"
	opRecordFingerprint   = "ledger.record_fingerprint"
	opLatestFingerprint   = "ledger.latest_fingerprint"
	opImportStatistics    = "ledger.import_statistics"
	opRecentLogs          = "ledger.recent_logs"
	opLog                 = "ledger.log"
	defaultRecentLogLimit = 50
)

func newError(operation, reason string, cause error) error {
	return &Error{Operation: operation, Reason: reason, Cause: cause}
}

// ServiceConfig wires the ledger to its store.
type ServiceConfig struct {
	Database *gorm.DB
	Clock    func() time.Time
	Logger   *zap.Logger
}

// Service is the persistent import ledger.
type Service struct {
	db     *gorm.DB
	clock  func() time.Time
	logger *zap.Logger
}

// NewService validates the configuration and applies defaults.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, newError(opServiceNew, "missing_database", errMissingDatabase)
	}

	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}

	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}

	return &Service{db: cfg.Database, clock: clock, logger: logger}, nil
}

// Fingerprint returns the hex md5 digest used for drift detection.
func Fingerprint(content string) string {
	sum := md5.Sum([]byte(content))
	return hex.EncodeToString(sum[:])
}

// AddSiteProfile persists a new backend target and returns its id.
func (s *Service) AddSiteProfile(ctx context.Context, baseURL, principal, secret, displayName string) (int64, error) {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		return 0, newError(opAddSiteProfile, "missing_base_url", errMissingBaseURL)
	}

	now := s.now()
	profile := SiteProfile{
		BaseURL:     baseURL,
		Principal:   strings.TrimSpace(principal),
		Secret:      secret,
		DisplayName: strings.TrimSpace(displayName),
		CreatedAt:   now,
		LastUsedAt:  now,
	}
	if err := s.db.WithContext(ctx).Create(&profile).Error; err != nil {
		s.logError(opAddSiteProfile, "insert_failed", err, zap.String("base_url", baseURL))
		return 0, newError(opAddSiteProfile, "insert_failed", err)
	}

	s.Log(ctx, LevelInfo, fmt.Sprintf("site profile %d added for %s", profile.ID, baseURL))
	return profile.ID, nil
}

// ListSiteProfiles returns every profile, most recently used first.
func (s *Service) ListSiteProfiles(ctx context.Context) ([]SiteProfile, error) {
	var profiles []SiteProfile
	if err := s.db.WithContext(ctx).
		Order("last_used_at DESC").
		Order("id DESC").
		Find(&profiles).Error; err != nil {
		s.logError(opListSiteProfiles, "query_failed", err)
		return nil, newError(opListSiteProfiles, "query_failed", err)
	}
	return profiles, nil
}

// GetSiteProfile loads one profile and marks it as used.
func (s *Service) GetSiteProfile(ctx context.Context, id int64) (SiteProfile, error) {
	var profile SiteProfile
	err := s.db.WithContext(ctx).Where("id = ?", id).Take(&profile).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return SiteProfile{}, newError(opGetSiteProfile, "not_found", ErrSiteProfileNotFound)
	}
	if err != nil {
		s.logError(opGetSiteProfile, "query_failed", err, zap.Int64("site_id", id))
		return SiteProfile{}, newError(opGetSiteProfile, "query_failed", err)
	}

	usedAt := s.now()
	if err := s.db.WithContext(ctx).
		Model(&SiteProfile{}).
		Where("id = ?", id).
		Update("last_used_at", usedAt).Error; err != nil {
		s.logError(opGetSiteProfile, "touch_failed", err, zap.Int64("site_id", id))
		return SiteProfile{}, newError(opGetSiteProfile, "touch_failed", err)
	}
	profile.LastUsedAt = usedAt
	return profile, nil
}

// DeleteSiteProfile removes a profile and its import records. It reports false when nothing matched.
func (s *Service) DeleteSiteProfile(ctx context.Context, id int64) (bool, error) {
	var deleted bool
	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("site_id = ?", id).Delete(&ImportRecord{}).Error; err != nil {
			return newError(opDeleteSiteProfile, "records_delete_failed", err)
		}
		result := tx.Where("id = ?", id).Delete(&SiteProfile{})
		if result.Error != nil {
			return newError(opDeleteSiteProfile, "profile_delete_failed", result.Error)
		}
		deleted = result.RowsAffected > 0
		return nil
	})
	if txErr != nil {
		s.logError(opDeleteSiteProfile, "transaction_failed", txErr, zap.Int64("site_id", id))
		s.Log(ctx, LevelError, fmt.Sprintf("failed to delete site profile %d: %v", id, txErr))
		return false, txErr
	}
	if deleted {
		s.Log(ctx, LevelInfo, fmt.Sprintf("site profile %d deleted", id))
	}
	return deleted, nil
}

// RotateSecret replaces the stored secret of a profile.
func (s *Service) RotateSecret(ctx context.Context, id int64, secret string) error {
	result := s.db.WithContext(ctx).
		Model(&SiteProfile{}).
		Where("id = ?", id).
		Update("secret", secret)
	if result.Error != nil {
		s.logError(opRotateSecret, "update_failed", result.Error, zap.Int64("site_id", id))
		return newError(opRotateSecret, "update_failed", result.Error)
	}
	if result.RowsAffected == 0 {
		return newError(opRotateSecret, "not_found", ErrSiteProfileNotFound)
	}
	s.Log(ctx, LevelInfo, fmt.Sprintf("secret rotated for site profile %d", id))
	return nil
}

// FindImportRecord returns the record for a source item, or nil when it was never imported.
func (s *Service) FindImportRecord(ctx context.Context, siteID int64, sourceIdentity string) (*ImportRecord, error) {
	var record ImportRecord
	err := s.db.WithContext(ctx).
		Where("site_id = ? AND source_identity = ?", siteID, sourceIdentity).
		Take(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		s.logError(opFindImportRecord, "query_failed", err,
			zap.Int64("site_id", siteID),
			zap.String("source_identity", sourceIdentity))
		return nil, newError(opFindImportRecord, "query_failed", err)
	}
	return &record, nil
}

// UpsertImportRecord inserts or overwrites the single record keyed by site and source identity.
func (s *Service) UpsertImportRecord(ctx context.Context, siteID int64, sourceIdentity string, remoteID *int64, status Status) (ImportRecord, error) {
	if strings.TrimSpace(sourceIdentity) == "" {
		return ImportRecord{}, newError(opUpsertImportRecord, "missing_source_identity", errMissingIdentity)
	}
	if !status.Valid() {
		return ImportRecord{}, newError(opUpsertImportRecord, "invalid_status", fmt.Errorf("%w: %q", errInvalidStatus, status))
	}

	now := s.now()
	record := ImportRecord{
		SiteID:         siteID,
		SourceIdentity: sourceIdentity,
		RemoteID:       remoteID,
		Status:         status,
		ImportedAt:     now,
		LastUpdatedAt:  now,
	}
	if err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "site_id"}, {Name: "source_identity"}},
		DoUpdates: clause.AssignmentColumns([]string{"remote_id", "status", "last_updated_at"}),
	}).Create(&record).Error; err != nil {
		s.logError(opUpsertImportRecord, "upsert_failed", err,
			zap.Int64("site_id", siteID),
			zap.String("source_identity", sourceIdentity))
		return ImportRecord{}, newError(opUpsertImportRecord, "upsert_failed", err)
	}

	stored, err := s.FindImportRecord(ctx, siteID, sourceIdentity)
	if err != nil {
		return ImportRecord{}, err
	}
	if stored == nil {
		return ImportRecord{}, newError(opUpsertImportRecord, "reload_failed", gorm.ErrRecordNotFound)
	}

	s.Log(ctx, LevelInfo, fmt.Sprintf("import record for %q set to %s", sourceIdentity, status))
	return *stored, nil
}

// RecordFingerprint appends the hash of content to the history of a remote resource.
func (s *Service) RecordFingerprint(ctx context.Context, siteID, remoteID int64, content string) (string, error) {
	hash := Fingerprint(content)
	entry := ContentFingerprint{
		SiteID:     siteID,
		RemoteID:   remoteID,
		Hash:       hash,
		RecordedAt: s.now(),
	}
	if err := s.db.WithContext(ctx).Create(&entry).Error; err != nil {
		s.logError(opRecordFingerprint, "insert_failed", err,
			zap.Int64("site_id", siteID),
			zap.Int64("remote_id", remoteID))
		return hash, newError(opRecordFingerprint, "insert_failed", err)
	}
	return hash, nil
}

// LatestFingerprint returns the authoritative hash for a remote resource and whether one exists.
func (s *Service) LatestFingerprint(ctx context.Context, siteID, remoteID int64) (string, bool, error) {
	var entry ContentFingerprint
	err := s.db.WithContext(ctx).
		Where("site_id = ? AND remote_id = ?", siteID, remoteID).
		Order("recorded_at DESC").
		Order("id DESC").
		Take(&entry).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", false, nil
	}
	if err != nil {
		s.logError(opLatestFingerprint, "query_failed", err,
			zap.Int64("site_id", siteID),
			zap.Int64("remote_id", remoteID))
		return "", false, newError(opLatestFingerprint, "query_failed", err)
	}
	return entry.Hash, true, nil
}

// HasContentChanged reports whether content differs from the latest recorded fingerprint.
// Content without any history counts as changed.
func (s *Service) HasContentChanged(ctx context.Context, siteID, remoteID int64, content string) (bool, error) {
	latest, found, err := s.LatestFingerprint(ctx, siteID, remoteID)
	if err != nil {
		return false, err
	}
	if !found {
		return true, nil
	}
	return latest != Fingerprint(content), nil
}

// ImportStatistics counts import records per status, optionally for one site.
func (s *Service) ImportStatistics(ctx context.Context, siteID *int64) (map[Status]int64, error) {
	type statusCount struct {
		Status Status
		Count  int64
	}

	query := s.db.WithContext(ctx).
		Model(&ImportRecord{}).
		Select("status, COUNT(*) AS count").
		Group("status")
	if siteID != nil {
		query = query.Where("site_id = ?", *siteID)
	}

	var rows []statusCount
	if err := query.Scan(&rows).Error; err != nil {
		s.logError(opImportStatistics, "query_failed", err)
		return nil, newError(opImportStatistics, "query_failed", err)
	}

	stats := make(map[Status]int64, len(rows))
	for _, row := range rows {
		stats[row.Status] = row.Count
	}
	return stats, nil
}

// Log appends an operation log entry. Storage failures are reported to the process logger only.
func (s *Service) Log(ctx context.Context, level Level, message string) {
	switch level {
	case LevelError:
		s.loggerOrDefault().Error(message)
	case LevelWarning:
		s.loggerOrDefault().Warn(message)
	default:
		level = LevelInfo
		s.loggerOrDefault().Info(message)
	}

	if s == nil || s.db == nil {
		return
	}
	entry := OperationLogEntry{Level: level, Message: message, CreatedAt: s.now()}
	if err := s.db.WithContext(context.WithoutCancel(ctx)).Create(&entry).Error; err != nil {
		s.logError(opLog, "insert_failed", err, zap.String("message", message))
	}
}

// RecordFailure stores a failed outbound attempt as an ERROR entry.
func (s *Service) RecordFailure(ctx context.Context, message string) {
	s.Log(ctx, LevelError, message)
}

// RecentLogs returns the newest operation log entries first.
func (s *Service) RecentLogs(ctx context.Context, limit int) ([]OperationLogEntry, error) {
	if limit <= 0 {
		limit = defaultRecentLogLimit
	}
	var entries []OperationLogEntry
	if err := s.db.WithContext(ctx).
		Order("id DESC").
		Limit(limit).
		Find(&entries).Error; err != nil {
		s.logError(opRecentLogs, "query_failed", err)
		return nil, newError(opRecentLogs, "query_failed", err)
	}
	return entries, nil
}

// Valid reports whether the status is one of the known terminal states.
func (st Status) Valid() bool {
	switch st {
	case StatusCreated, StatusUpdated, StatusError, StatusSkipped:
		return true
	default:
		return false
	}
}

func (s *Service) now() time.Time {
	return s.clock().UTC()
}

func (s *Service) loggerOrDefault() *zap.Logger {
	if s == nil || s.logger == nil {
		return noOpLogger
	}
	return s.logger
}

func (s *Service) logError(operation, reason string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	s.loggerOrDefault().Error("ledger service error", attrs...)
}
