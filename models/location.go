package models

import (
	"context"
	"strings"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Location is a warehouse, depot or a channel/segment used for filtering.
type Location struct {
	ID        int          `gorm:"primary_key" json:"id"`
	Code      string       `gorm:"size:64;not null;uniqueIndex" json:"code"`
	Name      string       `gorm:"size:255" json:"name"`
	Kind      LocationKind `gorm:"size:20;not null;default:'warehouse'" json:"kind"`
	CreatedAt time.Time    `gorm:"autoCreateTime" json:"created_at"`
}

// Source identifies where events come from; its code scopes idempotency and picks the schema adapter.
type Source struct {
	ID          int        `gorm:"primary_key" json:"id"`
	Code        string     `gorm:"size:100;not null;uniqueIndex" json:"code"`
	Kind        SourceKind `gorm:"size:10;not null" json:"kind"`
	Description string     `gorm:"size:255" json:"description"`
	CreatedAt   time.Time  `gorm:"autoCreateTime" json:"created_at"`
}

// EnsureLocation registers a location code if it is not known yet.
func EnsureLocation(ctx context.Context, db *gorm.DB, code string, kind LocationKind) error {
	code = strings.TrimSpace(code)
	if code == "" {
		return nil
	}
	loc := Location{Code: code, Name: code, Kind: kind}
	return db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&loc).Error
}

// EnsureSource registers a source code if it is not known yet.
func EnsureSource(ctx context.Context, db *gorm.DB, code string, kind SourceKind, description string) error {
	src := Source{Code: code, Kind: kind, Description: description}
	return db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&src).Error
}
