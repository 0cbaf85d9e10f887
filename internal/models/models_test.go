package models

import (
	"database/sql"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolveKind(t *testing.T) {
	p := &Product{ID: 1}
	require.NoError(t, p.ResolveKind())
	assert.Equal(t, KindStandalone, p.Kind)

	p = &Product{
		ID:              2,
		ProductableType: sql.NullString{String: ProductableCourse, Valid: true},
		ProductableID:   sql.NullInt64{Int64: 7, Valid: true},
	}
	require.NoError(t, p.ResolveKind())
	assert.Equal(t, KindCourse, p.Kind)

	courseID, ok := p.CourseID()
	assert.True(t, ok)
	assert.Equal(t, int64(7), courseID)

	p = &Product{
		ID:              3,
		ProductableType: sql.NullString{String: ProductableGiftCardType, Valid: true},
		ProductableID:   sql.NullInt64{Int64: 1, Valid: true},
	}
	require.NoError(t, p.ResolveKind())
	assert.Equal(t, KindGiftCardType, p.Kind)
}

func TestResolveKindUnknownType(t *testing.T) {
	p := &Product{
		ID:              4,
		ProductableType: sql.NullString{String: "workshop", Valid: true},
		ProductableID:   sql.NullInt64{Int64: 1, Valid: true},
	}
	assert.Error(t, p.ResolveKind())
}

func TestResolveKindMissingID(t *testing.T) {
	p := &Product{
		ID:              5,
		ProductableType: sql.NullString{String: ProductableCostume, Valid: true},
	}
	assert.Error(t, p.ResolveKind())
}

func TestPurchasable(t *testing.T) {
	assert.True(t, (&Product{Active: true, Price: 100}).Purchasable())
	assert.False(t, (&Product{Active: false, Price: 100}).Purchasable())
	assert.False(t, (&Product{Active: true, Price: 0}).Purchasable())
}

func TestFormatAmount(t *testing.T) {
	assert.Equal(t, "$50.00", FormatAmount(5000))
	assert.Equal(t, "$0.05", FormatAmount(5))
	assert.Equal(t, "$123.45", FormatAmount(12345))
	assert.Equal(t, "-$10.00", FormatAmount(-1000))
	assert.Equal(t, "$0.00", FormatAmount(0))
}
