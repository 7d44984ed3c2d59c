package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/benefitpass/coupon-engine/internal/models"
)

// MerchantRepo is the read-only merchant directory lookup.
type MerchantRepo struct {
	db *sql.DB
}

func NewMerchantRepo(db *sql.DB) *MerchantRepo {
	return &MerchantRepo{db: db}
}

// Merchant returns (nil, nil) when the id matches nothing.
func (r *MerchantRepo) Merchant(ctx context.Context, id string) (*models.Merchant, error) {
	var m models.Merchant
	err := r.db.QueryRowContext(ctx, `
		SELECT id, name, lat, lng FROM merchants WHERE id = $1
	`, id).Scan(&m.ID, &m.Name, &m.Lat, &m.Lng)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("load merchant: %w", err)
	}
	return &m, nil
}
