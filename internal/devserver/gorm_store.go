package devserver

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/datatypes"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// DocumentModel is the single table behind GormStore.
type DocumentModel struct {
	Kind      string         `gorm:"primaryKey;size:32"`
	ID        string         `gorm:"primaryKey;size:64"`
	OwnerID   string         `gorm:"index:idx_documents_owner"`
	Key       string         `gorm:"column:lookup_key;index:idx_documents_key"`
	Status    string         `gorm:"index"`
	Data      datatypes.JSON `gorm:"type:jsonb;not null"`
	CreatedAt time.Time      `gorm:"not null;index"`
	UpdatedAt time.Time      `gorm:"not null"`
}

func (DocumentModel) TableName() string { return "dev_documents" }

// GormStore implements Store using GORM + Postgres.
type GormStore struct {
	db *gorm.DB
}

// NewGormStore opens the DB and runs auto-migrations.
func NewGormStore(dsn string) (*GormStore, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := db.AutoMigrate(&DocumentModel{}); err != nil {
		return nil, fmt.Errorf("auto migrate: %w", err)
	}
	return &GormStore{db: db}, nil
}

func (s *GormStore) Put(ctx context.Context, doc Document) error {
	model := DocumentModel{
		Kind:      doc.Kind,
		ID:        doc.ID,
		OwnerID:   doc.OwnerID,
		Key:       doc.Key,
		Status:    doc.Status,
		Data:      datatypes.JSON(doc.Data),
		CreatedAt: doc.CreatedAt,
		UpdatedAt: time.Now().UTC(),
	}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "kind"}, {Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"owner_id", "lookup_key", "status", "data", "updated_at"}),
	}).Create(&model).Error
}

func (s *GormStore) Get(ctx context.Context, kind, id string) (Document, error) {
	var model DocumentModel
	err := s.db.WithContext(ctx).First(&model, "kind = ? AND id = ?", kind, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Document{}, ErrNotFound
	}
	if err != nil {
		return Document{}, err
	}
	return documentFromModel(model), nil
}

func (s *GormStore) Find(ctx context.Context, kind string, f Filter) ([]Document, error) {
	q := s.db.WithContext(ctx).Where("kind = ?", kind)
	if f.OwnerID != "" {
		q = q.Where("owner_id = ?", f.OwnerID)
	}
	if f.Key != "" {
		q = q.Where("lookup_key = ?", f.Key)
	}
	if f.Status != "" {
		q = q.Where("status = ?", f.Status)
	}
	var models []DocumentModel
	if err := q.Order("created_at ASC, id ASC").Find(&models).Error; err != nil {
		return nil, err
	}
	out := make([]Document, 0, len(models))
	for _, m := range models {
		out = append(out, documentFromModel(m))
	}
	return out, nil
}

func (s *GormStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func documentFromModel(m DocumentModel) Document {
	return Document{
		Kind:      m.Kind,
		ID:        m.ID,
		OwnerID:   m.OwnerID,
		Key:       m.Key,
		Status:    m.Status,
		CreatedAt: m.CreatedAt,
		Data:      []byte(m.Data),
	}
}
