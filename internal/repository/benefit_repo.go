package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/benefitpass/coupon-engine/internal/models"
)

// BenefitRepo reads benefit rules from the catalog tables. The engine never
// writes these; benefit CRUD belongs to the catalog service.
type BenefitRepo struct {
	db *sql.DB
}

func NewBenefitRepo(db *sql.DB) *BenefitRepo {
	return &BenefitRepo{db: db}
}

// Benefit returns (nil, nil) when the id matches nothing.
func (r *BenefitRepo) Benefit(ctx context.Context, id string) (*models.Benefit, error) {
	var (
		b          models.Benefit
		totalLimit sql.NullInt64
		dailyLimit sql.NullInt64
		userLimit  sql.NullInt64
	)
	err := r.db.QueryRowContext(ctx, `
		SELECT id, merchant_id, title, status, valid_from, valid_to,
		       geo_radius_meters, total_limit, daily_limit, user_limit, student_only
		FROM benefits
		WHERE id = $1
	`, id).Scan(
		&b.ID,
		&b.MerchantID,
		&b.Title,
		&b.Status,
		&b.ValidFrom,
		&b.ValidTo,
		&b.GeoRadiusMeters,
		&totalLimit,
		&dailyLimit,
		&userLimit,
		&b.StudentOnly,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("load benefit: %w", err)
	}

	if totalLimit.Valid {
		n := int(totalLimit.Int64)
		b.Quota.TotalLimit = &n
	}
	if dailyLimit.Valid {
		n := int(dailyLimit.Int64)
		b.Quota.DailyLimit = &n
	}
	if userLimit.Valid {
		n := int(userLimit.Int64)
		b.Quota.UserLimit = &n
	}

	b.TimeWindows, err = r.timeWindows(ctx, b.ID)
	if err != nil {
		return nil, err
	}
	b.BlackoutDates, err = r.blackoutDates(ctx, b.ID)
	if err != nil {
		return nil, err
	}

	// A malformed row is a catalog defect, not a benefit to trust.
	if err := b.Validate(); err != nil {
		return nil, fmt.Errorf("load benefit: %w", err)
	}

	return &b, nil
}

func (r *BenefitRepo) timeWindows(ctx context.Context, benefitID string) ([]models.TimeWindow, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT day_of_week, start_time, end_time
		FROM benefit_time_windows
		WHERE benefit_id = $1
	`, benefitID)
	if err != nil {
		return nil, fmt.Errorf("load time windows: %w", err)
	}
	defer rows.Close()

	var windows []models.TimeWindow
	for rows.Next() {
		var (
			day        int
			start, end string
		)
		if err := rows.Scan(&day, &start, &end); err != nil {
			return nil, fmt.Errorf("load time windows: %w", err)
		}
		windows = append(windows, models.TimeWindow{
			DayOfWeek: time.Weekday(day),
			Start:     start,
			End:       end,
		})
	}
	return windows, rows.Err()
}

func (r *BenefitRepo) blackoutDates(ctx context.Context, benefitID string) ([]models.BlackoutDate, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT blackout_date
		FROM benefit_blackout_dates
		WHERE benefit_id = $1
	`, benefitID)
	if err != nil {
		return nil, fmt.Errorf("load blackout dates: %w", err)
	}
	defer rows.Close()

	var dates []models.BlackoutDate
	for rows.Next() {
		var d time.Time
		if err := rows.Scan(&d); err != nil {
			return nil, fmt.Errorf("load blackout dates: %w", err)
		}
		dates = append(dates, models.BlackoutDate(d.Format(models.DateLayout)))
	}
	return dates, rows.Err()
}
