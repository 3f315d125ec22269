package models

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gorm.io/gorm"
)

var validate = validator.New()

// Product is a tracked SKU. Active codes form the normalizer's allow-list.
type Product struct {
	ID        int       `gorm:"primary_key" json:"id"`
	Code      string    `gorm:"size:64;not null;uniqueIndex" json:"code"`
	Name      string    `gorm:"size:255;not null" json:"name"`
	Category  string    `gorm:"size:100" json:"category"`
	IsActive  *bool     `gorm:"not null;default:true" json:"is_active"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

type NewProduct struct {
	Code     string `json:"code" validate:"required,max=64"`
	Name     string `json:"name" validate:"required,max=255"`
	Category string `json:"category" validate:"max=100"`
}

func CreateProduct(ctx context.Context, db *gorm.DB, input *NewProduct) (*Product, error) {
	input.Code = strings.TrimSpace(input.Code)
	if err := validate.Struct(input); err != nil {
		return nil, err
	}
	var count int64
	if err := db.WithContext(ctx).Model(&Product{}).Where("code = ?", input.Code).Count(&count).Error; err != nil {
		return nil, err
	}
	if count > 0 {
		return nil, errors.New("duplicate product code: " + input.Code)
	}
	active := true
	product := Product{
		Code:     input.Code,
		Name:     input.Name,
		Category: input.Category,
		IsActive: &active,
	}
	if err := db.WithContext(ctx).Create(&product).Error; err != nil {
		return nil, err
	}
	return &product, nil
}

// GetActiveProductCodes returns the allow-list of tracked SKU codes.
func GetActiveProductCodes(ctx context.Context, db *gorm.DB) (map[string]struct{}, error) {
	var codes []string
	if err := db.WithContext(ctx).Model(&Product{}).
		Where("is_active = ?", true).
		Pluck("code", &codes).Error; err != nil {
		return nil, err
	}
	set := make(map[string]struct{}, len(codes))
	for _, c := range codes {
		set[c] = struct{}{}
	}
	return set, nil
}

// UpsertProduct creates the product or refreshes its name and category and
// reactivates it. created reports whether a new row was written.
func UpsertProduct(ctx context.Context, db *gorm.DB, input *NewProduct) (product *Product, created bool, err error) {
	input.Code = strings.TrimSpace(input.Code)
	if err := validate.Struct(input); err != nil {
		return nil, false, err
	}
	var existing Product
	err = db.WithContext(ctx).Where("code = ?", input.Code).Take(&existing).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		product, err = CreateProduct(ctx, db, input)
		return product, err == nil, err
	}
	if err != nil {
		return nil, false, err
	}
	if err := db.WithContext(ctx).Model(&existing).Updates(map[string]any{
		"name":      input.Name,
		"category":  input.Category,
		"is_active": true,
	}).Error; err != nil {
		return nil, false, err
	}
	return &existing, false, nil
}
