package persistence

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"github.com/strandlabs/strand/internal/domain/entity"
	"github.com/strandlabs/strand/internal/domain/repository"
	"github.com/strandlabs/strand/internal/infrastructure/persistence/models"
)

// GormFileRepository is the gorm-backed file registry.
type GormFileRepository struct {
	db *gorm.DB
}

// NewGormFileRepository creates the repository.
func NewGormFileRepository(db *gorm.DB) repository.FileRepository {
	return &GormFileRepository{db: db}
}

func (r *GormFileRepository) Save(ctx context.Context, f *entity.FileRecord) error {
	if err := r.db.WithContext(ctx).Save(fileToModel(f)).Error; err != nil {
		return fmt.Errorf("save file: %w", err)
	}
	return nil
}

func (r *GormFileRepository) FindByID(ctx context.Context, id string) (*entity.FileRecord, error) {
	var model models.FileModel
	if err := r.db.WithContext(ctx).First(&model, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("file %s: %w", id, entity.ErrNotFound)
		}
		return nil, fmt.Errorf("find file: %w", err)
	}
	return fileToEntity(&model), nil
}

func (r *GormFileRepository) List(ctx context.Context, limit, offset int) ([]*entity.FileRecord, error) {
	var rows []models.FileModel
	err := r.db.WithContext(ctx).
		Order("created_at desc").
		Limit(limit).
		Offset(offset).
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("list files: %w", err)
	}

	out := make([]*entity.FileRecord, 0, len(rows))
	for i := range rows {
		out = append(out, fileToEntity(&rows[i]))
	}
	return out, nil
}

func (r *GormFileRepository) Delete(ctx context.Context, id string) error {
	result := r.db.WithContext(ctx).Delete(&models.FileModel{}, "id = ?", id)
	if result.Error != nil {
		return fmt.Errorf("delete file: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("file %s: %w", id, entity.ErrNotFound)
	}
	return nil
}

func fileToModel(f *entity.FileRecord) *models.FileModel {
	return &models.FileModel{
		ID:        f.ID,
		Filename:  f.Filename,
		Purpose:   f.Purpose,
		Bytes:     f.Bytes,
		MimeType:  f.MimeType,
		CreatedAt: f.CreatedAt,
	}
}

func fileToEntity(m *models.FileModel) *entity.FileRecord {
	return &entity.FileRecord{
		ID:        m.ID,
		Filename:  m.Filename,
		Purpose:   m.Purpose,
		Bytes:     m.Bytes,
		MimeType:  m.MimeType,
		CreatedAt: m.CreatedAt,
	}
}
