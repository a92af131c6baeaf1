package ledger

import "time"

// Status enumerates the terminal states an import can reach.
type Status string

const (
	StatusCreated Status = "created"
	StatusUpdated Status = "updated"
	StatusError   Status = "error"
	StatusSkipped Status = "skipped"
)

// Level enumerates operation log severities.
type Level string

const (
	LevelInfo    Level = "INFO"
	LevelError   Level = "ERROR"
	LevelWarning Level = "WARNING"
)

// SiteProfile identifies one backend target and the credentials used against it.
type SiteProfile struct {
	ID          int64     `gorm:"column:id;primaryKey;autoIncrement" json:"id"`
	BaseURL     string    `gorm:"column:base_url;size:2048;not null" json:"base_url"`
	Principal   string    `gorm:"column:principal;size:190;not null" json:"principal"`
	Secret      string    `gorm:"column:secret;not null" json:"-"`
	DisplayName string    `gorm:"column:display_name;size:190;not null;default:''" json:"display_name"`
	CreatedAt   time.Time `gorm:"column:created_at;not null" json:"created_at"`
	LastUsedAt  time.Time `gorm:"column:last_used_at;not null;index" json:"last_used_at"`
}

// TableName provides the explicit table binding for GORM.
func (SiteProfile) TableName() string {
	return "site_profiles"
}

// ImportRecord tracks the latest sync outcome for one source item on one site.
type ImportRecord struct {
	ID             int64        `gorm:"column:id;primaryKey;autoIncrement" json:"id"`
	SiteID         int64        `gorm:"column:site_id;not null;uniqueIndex:idx_import_site_source,priority:1" json:"site_id"`
	SourceIdentity string       `gorm:"column:source_identity;size:2048;not null;uniqueIndex:idx_import_site_source,priority:2" json:"source_identity"`
	RemoteID       *int64       `gorm:"column:remote_id" json:"remote_id,omitempty"`
	Status         Status       `gorm:"column:status;size:32;not null;index" json:"status"`
	ImportedAt     time.Time    `gorm:"column:imported_at;not null" json:"imported_at"`
	LastUpdatedAt  time.Time    `gorm:"column:last_updated_at;not null" json:"last_updated_at"`
	Site           *SiteProfile `gorm:"foreignKey:SiteID;constraint:OnDelete:CASCADE" json:"-"`
}

// TableName provides the explicit table binding for GORM.
func (ImportRecord) TableName() string {
	return "import_records"
}

// ContentFingerprint is one entry of the append-only hash history of a remote resource.
type ContentFingerprint struct {
	ID         int64     `gorm:"column:id;primaryKey;autoIncrement"`
	SiteID     int64     `gorm:"column:site_id;not null;index:idx_fingerprint_lookup,priority:1"`
	RemoteID   int64     `gorm:"column:remote_id;not null;index:idx_fingerprint_lookup,priority:2"`
	Hash       string    `gorm:"column:hash;size:64;not null"`
	RecordedAt time.Time `gorm:"column:recorded_at;not null;index:idx_fingerprint_lookup,priority:3"`
}

// TableName provides the explicit table binding for GORM.
func (ContentFingerprint) TableName() string {
	return "content_fingerprints"
}

// OperationLogEntry is an append-only audit line, independent of import state.
type OperationLogEntry struct {
	ID        int64     `gorm:"column:id;primaryKey;autoIncrement" json:"id"`
	Level     Level     `gorm:"column:level;size:16;not null" json:"level"`
	Message   string    `gorm:"column:message;type:text;not null" json:"message"`
	CreatedAt time.Time `gorm:"column:created_at;not null;index" json:"created_at"`
}

// TableName provides the explicit table binding for GORM.
func (OperationLogEntry) TableName() string {
	return "operation_logs"
}

// Models lists every persisted ledger type in migration order.
func Models() []any {
	return []any{&SiteProfile{}, &ImportRecord{}, &ContentFingerprint{}, &OperationLogEntry{}}
}
