// Package stats aggregates ledger amounts into reporting series.
package stats

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/liderhq/payhub/internal/repository"
)

// Bucket granularity picked from the requested range length
const (
	BucketDaily   = "daily"
	BucketMonthly = "monthly"
	BucketYearly  = "yearly"
)

// Range thresholds: above a year buckets are yearly, above 45 days monthly,
// otherwise daily
const (
	yearlyThreshold  = 365 * 24 * time.Hour
	monthlyThreshold = 45 * 24 * time.Hour

	defaultRange = 7 * 24 * time.Hour
)

// Point is one direction of one bucket. Buckets with no entries are present
// with a zero amount.
type Point struct {
	Date      string          `json:"date"`
	Direction string          `json:"direction"`
	Amount    decimal.Decimal `json:"amount"`
}

// Series directions
const (
	DirectionIn  = "in"
	DirectionOut = "out"
)

type Totals struct {
	In  decimal.Decimal `json:"in"`
	Out decimal.Decimal `json:"out"`
}

type Service struct {
	transactions repository.TransactionRepo
}

func NewService(transactions repository.TransactionRepo) *Service {
	return &Service{transactions: transactions}
}

// Series returns succeeded amounts bucketed over [from, to]. Zero times fall
// back to the last seven days.
func (s *Service) Series(ctx context.Context, userID uuid.UUID, from, to time.Time) ([]Point, error) {
	if to.IsZero() {
		to = time.Now()
	}
	if from.IsZero() {
		from = to.Add(-defaultRange)
	}

	bucket := BucketFor(from, to)
	rows, err := s.transactions.AmountSeries(ctx, repository.SeriesOpts{
		UserID: userID,
		From:   from,
		To:     to,
		Format: pgFormat(bucket),
	})
	if err != nil {
		return nil, err
	}

	return Fill(rows, from, to, bucket), nil
}

func (s *Service) Totals(ctx context.Context, userID uuid.UUID) (Totals, error) {
	totals, err := s.transactions.AmountTotals(ctx, userID)
	if err != nil {
		return Totals{}, err
	}

	return Totals{In: totals.In, Out: totals.Out}, nil
}

// BucketFor picks the bucket granularity for a range
func BucketFor(from, to time.Time) string {
	switch d := to.Sub(from); {
	case d > yearlyThreshold:
		return BucketYearly
	case d > monthlyThreshold:
		return BucketMonthly
	default:
		return BucketDaily
	}
}

func pgFormat(bucket string) string {
	switch bucket {
	case BucketYearly:
		return "YYYY"
	case BucketMonthly:
		return "YYYY-MM"
	default:
		return "YYYY-MM-DD"
	}
}

func goLayout(bucket string) string {
	switch bucket {
	case BucketYearly:
		return "2006"
	case BucketMonthly:
		return "2006-01"
	default:
		return "2006-01-02"
	}
}

// Fill expands sparse db rows into a dense ascending series over [from, to],
// inserting zero points for buckets without entries
func Fill(rows []repository.SeriesRow, from, to time.Time, bucket string) []Point {
	byBucket := make(map[string]repository.SeriesRow, len(rows))
	for _, row := range rows {
		byBucket[row.Bucket] = row
	}

	layout := goLayout(bucket)
	var points []Point

	for cur := truncate(from, bucket); !cur.After(to); cur = step(cur, bucket) {
		key := cur.Format(layout)
		row := byBucket[key]

		in := decimal.Zero
		out := decimal.Zero
		if row.Bucket == key {
			in = row.In
			out = row.Out
		}

		points = append(points,
			Point{Date: key, Direction: DirectionIn, Amount: in},
			Point{Date: key, Direction: DirectionOut, Amount: out},
		)
	}

	return points
}

// truncate aligns t to its bucket start so stepping never skips a bucket
func truncate(t time.Time, bucket string) time.Time {
	switch bucket {
	case BucketYearly:
		return time.Date(t.Year(), 1, 1, 0, 0, 0, 0, t.Location())
	case BucketMonthly:
		return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, t.Location())
	default:
		return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
	}
}

func step(t time.Time, bucket string) time.Time {
	switch bucket {
	case BucketYearly:
		return t.AddDate(1, 0, 0)
	case BucketMonthly:
		return t.AddDate(0, 1, 0)
	default:
		return t.AddDate(0, 0, 1)
	}
}
