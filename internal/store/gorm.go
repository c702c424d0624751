package store

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync/atomic"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	annerrors "github.com/a3tai/mcp-pdf-annotator/internal/errors"
	"github.com/a3tai/mcp-pdf-annotator/internal/geometry"
	"github.com/a3tai/mcp-pdf-annotator/internal/schema"
)

const (
	// DriverSQLite selects the embedded pure-Go sqlite driver
	DriverSQLite = "sqlite"
	// DriverPostgres selects the postgres driver
	DriverPostgres = "postgres"

	// metadataKey stands in for a missing line item in the unique index;
	// NULLs never collide in a unique index
	metadataKey = -1

	reasonSuperseded = "superseded"
	reasonDeleted    = "deleted"
)

// annotationRow is the current value of one (document, field, line item) key
type annotationRow struct {
	ID              uint64 `gorm:"primaryKey;autoIncrement:false"`
	DocumentID      string `gorm:"size:64;not null;uniqueIndex:idx_annotation_key,priority:1"`
	FieldName       string `gorm:"size:64;not null;uniqueIndex:idx_annotation_key,priority:2"`
	LineItemKey     int    `gorm:"not null;uniqueIndex:idx_annotation_key,priority:3"`
	Page            int    `gorm:"not null"`
	X0              float64
	Y0              float64
	X1              float64
	Y1              float64
	RawValue        string
	NormalizedValue string
	Normalized      bool
	Mode            string `gorm:"size:8"`
	CreatedAt       time.Time
}

func (annotationRow) TableName() string { return "annotations" }

// revisionRow is an annotation value that is no longer current
type revisionRow struct {
	ID              uint64 `gorm:"primaryKey;autoIncrement:false"`
	DocumentID      string `gorm:"size:64;not null;index"`
	FieldName       string `gorm:"size:64;not null"`
	LineItemKey     int    `gorm:"not null"`
	Page            int    `gorm:"not null"`
	X0              float64
	Y0              float64
	X1              float64
	Y1              float64
	RawValue        string
	NormalizedValue string
	Normalized      bool
	Mode            string `gorm:"size:8"`
	CreatedAt       time.Time
	SupersededAt    time.Time
	Reason          string `gorm:"size:16"`
}

func (revisionRow) TableName() string { return "annotation_revisions" }

func lineItemKey(lineItem *int) int {
	if lineItem == nil {
		return metadataKey
	}
	return *lineItem
}

func toRow(a Annotation) annotationRow {
	return annotationRow{
		ID:              a.ID,
		DocumentID:      a.DocumentID,
		FieldName:       a.FieldName,
		LineItemKey:     lineItemKey(a.LineItem),
		Page:            a.Page,
		X0:              a.Rect.X0,
		Y0:              a.Rect.Y0,
		X1:              a.Rect.X1,
		Y1:              a.Rect.Y1,
		RawValue:        a.RawValue,
		NormalizedValue: a.NormalizedValue,
		Normalized:      a.Normalized,
		Mode:            a.Mode,
		CreatedAt:       a.CreatedAt,
	}
}

func (r annotationRow) toAnnotation() Annotation {
	a := Annotation{
		ID:              r.ID,
		DocumentID:      r.DocumentID,
		Page:            r.Page,
		Rect:            geometry.Rect{X0: r.X0, Y0: r.Y0, X1: r.X1, Y1: r.Y1},
		FieldName:       r.FieldName,
		RawValue:        r.RawValue,
		NormalizedValue: r.NormalizedValue,
		Normalized:      r.Normalized,
		Mode:            r.Mode,
		CreatedAt:       r.CreatedAt,
	}
	if r.LineItemKey != metadataKey {
		item := r.LineItemKey
		a.LineItem = &item
	}
	return a
}

func (r annotationRow) revision(at time.Time, reason string) revisionRow {
	return revisionRow{
		ID:              r.ID,
		DocumentID:      r.DocumentID,
		FieldName:       r.FieldName,
		LineItemKey:     r.LineItemKey,
		Page:            r.Page,
		X0:              r.X0,
		Y0:              r.Y0,
		X1:              r.X1,
		Y1:              r.Y1,
		RawValue:        r.RawValue,
		NormalizedValue: r.NormalizedValue,
		Normalized:      r.Normalized,
		Mode:            r.Mode,
		CreatedAt:       r.CreatedAt,
		SupersededAt:    at,
		Reason:          reason,
	}
}

func (r revisionRow) toAnnotation() Annotation {
	a := annotationRow{
		ID:              r.ID,
		DocumentID:      r.DocumentID,
		FieldName:       r.FieldName,
		LineItemKey:     r.LineItemKey,
		Page:            r.Page,
		X0:              r.X0,
		Y0:              r.Y0,
		X1:              r.X1,
		Y1:              r.Y1,
		RawValue:        r.RawValue,
		NormalizedValue: r.NormalizedValue,
		Normalized:      r.Normalized,
		Mode:            r.Mode,
		CreatedAt:       r.CreatedAt,
	}.toAnnotation()
	at := r.SupersededAt
	a.SupersededAt = &at
	a.Reason = r.Reason
	return a
}

// Options configures a GormStore
type Options struct {
	Debug bool
	// Now overrides the clock, for tests
	Now func() time.Time
}

// GormStore implements Store on gorm
type GormStore struct {
	db     *gorm.DB
	schema *schema.Schema
	opts   Options

	lastID atomic.Uint64
	locks  *keyedMutex
}

// Open connects to the database with the named driver and migrates it
func Open(driver, dsn string, s *schema.Schema, opts Options) (*GormStore, error) {
	var dialector gorm.Dialector
	switch driver {
	case DriverSQLite, "":
		dialector = sqlite.Open(dsn)
	case DriverPostgres:
		dialector = postgres.Open(dsn)
	default:
		return nil, fmt.Errorf("unsupported database driver: %s", driver)
	}

	logLevel := logger.Silent
	if opts.Debug {
		logLevel = logger.Info
	}
	db, err := gorm.Open(dialector, &gorm.Config{Logger: logger.Default.LogMode(logLevel)})
	if err != nil {
		return nil, annerrors.Wrap(annerrors.ErrorTypePersistenceWriteFailure, "failed to open database", err)
	}

	if driver != DriverPostgres {
		// sqlite allows one writer; a single connection avoids SQLITE_BUSY
		sqlDB, err := db.DB()
		if err != nil {
			return nil, fmt.Errorf("failed to access sql.DB: %w", err)
		}
		sqlDB.SetMaxOpenConns(1)
	}

	return New(db, s, opts)
}

// New wraps an open gorm connection, migrates the schema and seeds the ID
// counter from the largest ID already stored
func New(db *gorm.DB, s *schema.Schema, opts Options) (*GormStore, error) {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if err := db.AutoMigrate(&annotationRow{}, &revisionRow{}); err != nil {
		return nil, annerrors.Wrap(annerrors.ErrorTypePersistenceWriteFailure, "failed to migrate database", err)
	}

	st := &GormStore{db: db, schema: s, opts: opts, locks: newKeyedMutex()}

	var maxCurrent, maxRevision uint64
	if err := db.Model(&annotationRow{}).Select("COALESCE(MAX(id), 0)").Row().Scan(&maxCurrent); err != nil {
		return nil, fmt.Errorf("failed to read annotation ids: %w", err)
	}
	if err := db.Model(&revisionRow{}).Select("COALESCE(MAX(id), 0)").Row().Scan(&maxRevision); err != nil {
		return nil, fmt.Errorf("failed to read revision ids: %w", err)
	}
	st.lastID.Store(max(maxCurrent, maxRevision))

	if opts.Debug {
		log.Printf("Annotation store ready, last id %d", st.lastID.Load())
	}
	return st, nil
}

func validate(a Annotation) error {
	switch {
	case a.DocumentID == "":
		return annerrors.New(annerrors.ErrorTypeInvalidArgument, "annotation without document identity")
	case a.FieldName == "":
		return annerrors.New(annerrors.ErrorTypeInvalidArgument, "annotation without field name").
			WithDocument(a.DocumentID)
	case a.LineItem != nil && *a.LineItem < 0:
		return annerrors.Newf(annerrors.ErrorTypeInvalidArgument, "negative line item %d", *a.LineItem).
			WithDocument(a.DocumentID).WithField(a.FieldName)
	}
	return nil
}

func writeFailure(a Annotation, op string, err error) error {
	return annerrors.Wrap(annerrors.ErrorTypePersistenceWriteFailure, op+" failed", err).
		WithDocument(a.DocumentID).WithPage(a.Page).WithField(a.FieldName)
}

// Upsert implements Store
func (s *GormStore) Upsert(ctx context.Context, a Annotation) (Annotation, error) {
	if err := validate(a); err != nil {
		return Annotation{}, err
	}

	unlock := s.locks.Lock(a.DocumentID)
	defer unlock()

	now := s.opts.Now()
	a.ID = s.lastID.Add(1)
	a.CreatedAt = now
	a.SupersededAt = nil
	a.Reason = ""
	row := toRow(a)

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing annotationRow
		err := tx.Where("document_id = ? AND field_name = ? AND line_item_key = ?",
			row.DocumentID, row.FieldName, row.LineItemKey).Take(&existing).Error
		switch {
		case err == nil:
			rev := existing.revision(now, reasonSuperseded)
			if err := tx.Create(&rev).Error; err != nil {
				return fmt.Errorf("failed to record revision: %w", err)
			}
			if err := tx.Delete(&existing).Error; err != nil {
				return fmt.Errorf("failed to remove superseded annotation: %w", err)
			}
		case !errors.Is(err, gorm.ErrRecordNotFound):
			return fmt.Errorf("failed to look up current annotation: %w", err)
		}
		return tx.Create(&row).Error
	})
	if err != nil {
		return Annotation{}, writeFailure(a, "upsert", err)
	}

	if s.opts.Debug {
		log.Printf("Stored annotation %d: %s/%s item %d", a.ID, a.DocumentID, a.FieldName, row.LineItemKey)
	}
	return a, nil
}

// ListForDocument implements Store
func (s *GormStore) ListForDocument(ctx context.Context, documentID string) ([]Annotation, error) {
	var rows []annotationRow
	if err := s.db.WithContext(ctx).Where("document_id = ?", documentID).Order("id").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to list annotations for %s: %w", documentID, err)
	}

	out := make([]Annotation, len(rows))
	for i, r := range rows {
		out[i] = r.toAnnotation()
	}
	SortForSchema(out, s.schema)
	return out, nil
}

// Delete implements Store. Deleting a missing key returns a NotFound error.
func (s *GormStore) Delete(ctx context.Context, documentID, field string, lineItem *int) error {
	unlock := s.locks.Lock(documentID)
	defer unlock()

	key := Annotation{DocumentID: documentID, FieldName: field, LineItem: lineItem}
	found := false
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing annotationRow
		err := tx.Where("document_id = ? AND field_name = ? AND line_item_key = ?",
			documentID, field, lineItemKey(lineItem)).Take(&existing).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		found = true
		rev := existing.revision(s.opts.Now(), reasonDeleted)
		if err := tx.Create(&rev).Error; err != nil {
			return err
		}
		return tx.Delete(&existing).Error
	})
	if err != nil {
		return writeFailure(key, "delete", err)
	}
	if !found {
		return annerrors.Newf(annerrors.ErrorTypeNotFound, "no annotation for field %s", field).
			WithDocument(documentID).WithField(field)
	}
	return nil
}

// DeleteDocument implements Store
func (s *GormStore) DeleteDocument(ctx context.Context, documentID string) error {
	unlock := s.locks.Lock(documentID)
	defer unlock()

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("document_id = ?", documentID).Delete(&annotationRow{}).Error; err != nil {
			return err
		}
		return tx.Where("document_id = ?", documentID).Delete(&revisionRow{}).Error
	})
	if err != nil {
		return writeFailure(Annotation{DocumentID: documentID}, "delete document", err)
	}
	return nil
}

// History implements Store. Entries are ordered by ID.
func (s *GormStore) History(ctx context.Context, documentID string) ([]Annotation, error) {
	var rows []revisionRow
	if err := s.db.WithContext(ctx).Where("document_id = ?", documentID).Order("id").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to read history for %s: %w", documentID, err)
	}
	out := make([]Annotation, len(rows))
	for i, r := range rows {
		out[i] = r.toAnnotation()
	}
	return out, nil
}

// Documents implements Store
func (s *GormStore) Documents(ctx context.Context) ([]string, error) {
	var ids []string
	err := s.db.WithContext(ctx).Model(&annotationRow{}).Distinct("document_id").Order("document_id").Pluck("document_id", &ids).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list documents: %w", err)
	}
	return ids, nil
}

// Close implements Store
func (s *GormStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
