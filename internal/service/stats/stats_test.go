package stats

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/liderhq/payhub/internal/repository"
)

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func TestBucketFor(t *testing.T) {
	tests := []struct {
		name string
		from time.Time
		to   time.Time
		want string
	}{
		{
			name: "week is daily",
			from: date(2025, 3, 1),
			to:   date(2025, 3, 8),
			want: BucketDaily,
		},
		{
			name: "45 days is still daily",
			from: date(2025, 1, 1),
			to:   date(2025, 2, 15),
			want: BucketDaily,
		},
		{
			name: "two months is monthly",
			from: date(2025, 1, 1),
			to:   date(2025, 3, 1),
			want: BucketMonthly,
		},
		{
			name: "year boundary is monthly",
			from: date(2024, 1, 1),
			to:   date(2024, 12, 31),
			want: BucketMonthly,
		},
		{
			name: "over a year is yearly",
			from: date(2023, 1, 1),
			to:   date(2025, 1, 1),
			want: BucketYearly,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, BucketFor(tt.from, tt.to))
		})
	}
}

func TestFill(t *testing.T) {
	t.Run("fills gaps with zero points", func(t *testing.T) {
		rows := []repository.SeriesRow{
			{Bucket: "2025-03-02", In: decimal.NewFromInt(100), Out: decimal.NewFromInt(30)},
		}

		points := Fill(rows, date(2025, 3, 1), date(2025, 3, 3), BucketDaily)

		require.Len(t, points, 6)
		require.Equal(t, Point{Date: "2025-03-01", Direction: DirectionIn, Amount: decimal.Zero}, points[0])
		require.Equal(t, Point{Date: "2025-03-01", Direction: DirectionOut, Amount: decimal.Zero}, points[1])
		require.True(t, points[2].Amount.Equal(decimal.NewFromInt(100)))
		require.True(t, points[3].Amount.Equal(decimal.NewFromInt(30)))
		require.Equal(t, "2025-03-03", points[4].Date)
	})

	t.Run("ascending order regardless of row order", func(t *testing.T) {
		rows := []repository.SeriesRow{
			{Bucket: "2025-03-03", In: decimal.NewFromInt(2)},
			{Bucket: "2025-03-01", In: decimal.NewFromInt(1)},
		}

		points := Fill(rows, date(2025, 3, 1), date(2025, 3, 3), BucketDaily)

		var dates []string
		for _, p := range points {
			dates = append(dates, p.Date)
		}
		require.Equal(t, []string{
			"2025-03-01", "2025-03-01",
			"2025-03-02", "2025-03-02",
			"2025-03-03", "2025-03-03",
		}, dates)
	})

	t.Run("monthly buckets do not skip short months", func(t *testing.T) {
		points := Fill(nil, date(2025, 1, 31), date(2025, 4, 1), BucketMonthly)

		var dates []string
		for _, p := range points {
			if p.Direction == DirectionIn {
				dates = append(dates, p.Date)
			}
		}
		require.Equal(t, []string{"2025-01", "2025-02", "2025-03", "2025-04"}, dates)
	})

	t.Run("yearly buckets", func(t *testing.T) {
		rows := []repository.SeriesRow{
			{Bucket: "2024", In: decimal.NewFromInt(500)},
		}

		points := Fill(rows, date(2023, 6, 15), date(2025, 2, 1), BucketYearly)

		require.Len(t, points, 6)
		require.Equal(t, "2023", points[0].Date)
		require.True(t, points[2].Amount.Equal(decimal.NewFromInt(500)))
		require.Equal(t, "2025", points[4].Date)
	})
}
