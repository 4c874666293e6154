// Package repository provides the data-access layer: the per-scope document
// registry in MySQL and session conversation state in Redis.
package repository

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"learnmate-go/internal/model"
)

// ErrDocumentNotFound is returned when a (scope, hash) pair is not registered.
var ErrDocumentNotFound = errors.New("document not found")

// DocumentRepository is the per-scope content-hash index used for dedupe.
type DocumentRepository interface {
	// Register inserts the record and reports whether it was created.
	// When a record for (scope, doc_hash) already exists the existing row is
	// returned with created=false. Safe under concurrent calls for the same
	// document: the unique key admits at most one row.
	Register(ctx context.Context, rec *model.DocumentRecord) (created bool, existing *model.DocumentRecord, err error)
	Find(ctx context.Context, scope model.Scope, docHash string) (*model.DocumentRecord, error)
	SetChunkCount(ctx context.Context, scope model.Scope, docHash string, count int) error
	Delete(ctx context.Context, scope model.Scope, docHash string) error
}

type gormDocumentRepository struct {
	db *gorm.DB
}

// NewDocumentRepository creates a MySQL-backed DocumentRepository.
func NewDocumentRepository(db *gorm.DB) DocumentRepository {
	return &gormDocumentRepository{db: db}
}

func (r *gormDocumentRepository) Register(ctx context.Context, rec *model.DocumentRecord) (bool, *model.DocumentRecord, error) {
	res := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(rec)
	if res.Error != nil {
		return false, nil, fmt.Errorf("register document: %w", res.Error)
	}
	if res.RowsAffected > 0 {
		return true, rec, nil
	}
	// Lost the race or re-ingestion: fetch the surviving row.
	existing, err := r.Find(ctx, model.Scope(rec.Scope), rec.DocHash)
	if err != nil {
		return false, nil, err
	}
	return false, existing, nil
}

func (r *gormDocumentRepository) Find(ctx context.Context, scope model.Scope, docHash string) (*model.DocumentRecord, error) {
	var rec model.DocumentRecord
	err := r.db.WithContext(ctx).
		Where("scope = ? AND doc_hash = ?", scope.String(), docHash).
		First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrDocumentNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find document: %w", err)
	}
	return &rec, nil
}

func (r *gormDocumentRepository) SetChunkCount(ctx context.Context, scope model.Scope, docHash string, count int) error {
	err := r.db.WithContext(ctx).
		Model(&model.DocumentRecord{}).
		Where("scope = ? AND doc_hash = ?", scope.String(), docHash).
		Update("chunk_count", count).Error
	if err != nil {
		return fmt.Errorf("set chunk count: %w", err)
	}
	return nil
}

func (r *gormDocumentRepository) Delete(ctx context.Context, scope model.Scope, docHash string) error {
	res := r.db.WithContext(ctx).
		Where("scope = ? AND doc_hash = ?", scope.String(), docHash).
		Delete(&model.DocumentRecord{})
	if res.Error != nil {
		return fmt.Errorf("delete document record: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrDocumentNotFound
	}
	return nil
}
