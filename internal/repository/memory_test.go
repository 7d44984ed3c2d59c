package repository

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/benefitpass/coupon-engine/internal/models"
)

// Malformed benefits are rejected at the door, never stored and trusted.
func TestPutBenefitRejectsInvalidBenefits(t *testing.T) {
	store := NewMemoryStore()
	now := time.Now()

	inverted := &models.Benefit{ID: "b1", ValidFrom: now.Add(time.Hour), ValidTo: now}
	require.Error(t, store.PutBenefit(inverted))

	badWindow := &models.Benefit{
		ID: "b2", ValidFrom: now, ValidTo: now.Add(time.Hour),
		TimeWindows: []models.TimeWindow{{DayOfWeek: time.Monday, Start: "26:00", End: "27:00"}},
	}
	require.Error(t, store.PutBenefit(badWindow))

	for _, id := range []string{"b1", "b2"} {
		b, err := store.Benefit(context.Background(), id)
		require.NoError(t, err)
		assert.Nil(t, b, "rejected benefit %s must not be stored", id)
	}

	ok := &models.Benefit{ID: "b3", ValidFrom: now, ValidTo: now.Add(time.Hour), GeoRadiusMeters: 150}
	require.NoError(t, store.PutBenefit(ok))
	b, err := store.Benefit(context.Background(), "b3")
	require.NoError(t, err)
	assert.NotNil(t, b)
}
