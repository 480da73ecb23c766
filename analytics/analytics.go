// Package analytics derives revenue metrics from reconciled purchase
// history. All bucketing uses UTC calendar days and all sums stay in
// decimal form so repeated aggregation never drifts.
package analytics

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"datamarket/registry"
)

const dayLayout = "2006-01-02"

// Sale is one revenue-bearing purchase observed for an account.
type Sale struct {
	Timestamp time.Time
	Amount    decimal.Decimal
}

// TrendPoint is one calendar-day revenue bucket. Date is the UTC day
// in YYYY-MM-DD form.
type TrendPoint struct {
	Date    string          `json:"date"`
	Revenue decimal.Decimal `json:"revenue"`
}

// Trend classifies period-over-period movement.
type Trend string

const (
	TrendUp     Trend = "up"
	TrendDown   Trend = "down"
	TrendStable Trend = "stable"
)

// Period reports revenue for the current window against the window
// immediately before it.
type Period struct {
	PeriodRevenue         decimal.Decimal `json:"periodRevenue"`
	PreviousPeriodRevenue decimal.Decimal `json:"previousPeriodRevenue"`
	GrowthRatePercent     decimal.Decimal `json:"growthRatePercent"`
	Trend                 Trend           `json:"trend"`
	AvgDailyRevenue       decimal.Decimal `json:"avgDailyRevenue"`
}

// Summary is the dashboard headline for one account.
type Summary struct {
	DatasetsOwned int             `json:"datasetsOwned"`
	ListedValue   decimal.Decimal `json:"listedValue"`
	Purchases     int             `json:"purchases"`
	TotalSpent    decimal.Decimal `json:"totalSpent"`
}

// RevenueTrend buckets sales inside [now-days, now] by UTC calendar
// day and returns the buckets in ascending date order. Days without a
// sale are omitted rather than zero-filled.
func RevenueTrend(sales []Sale, days int, now time.Time) []TrendPoint {
	if days <= 0 {
		return nil
	}
	now = now.UTC()
	cutoff := now.AddDate(0, 0, -days)

	buckets := make(map[string]decimal.Decimal)
	for _, s := range sales {
		ts := s.Timestamp.UTC()
		if ts.Before(cutoff) || ts.After(now) {
			continue
		}
		key := ts.Format(dayLayout)
		buckets[key] = buckets[key].Add(s.Amount)
	}

	points := make([]TrendPoint, 0, len(buckets))
	for date, revenue := range buckets {
		points = append(points, TrendPoint{Date: date, Revenue: revenue})
	}
	sort.Slice(points, func(i, j int) bool { return points[i].Date < points[j].Date })
	return points
}

// PeriodAnalytics sums the current days-long window and the one
// preceding it, then derives growth rate, trend direction and average
// daily revenue. A previous period of zero with current revenue is
// reported as 100% growth; two empty periods report zero growth.
func PeriodAnalytics(sales []Sale, days int, now time.Time) Period {
	now = now.UTC()
	periodStart := now.AddDate(0, 0, -days)
	previousStart := now.AddDate(0, 0, -2*days)

	var period, previous decimal.Decimal
	for _, s := range sales {
		ts := s.Timestamp.UTC()
		switch {
		case ts.After(now):
		case !ts.Before(periodStart):
			period = period.Add(s.Amount)
		case !ts.Before(previousStart):
			previous = previous.Add(s.Amount)
		}
	}

	growth := decimal.Zero
	switch {
	case previous.IsPositive():
		growth = period.Sub(previous).
			Div(previous).
			Mul(decimal.NewFromInt(100)).
			Round(1)
	case period.IsPositive():
		growth = decimal.NewFromInt(100)
	}

	trend := TrendStable
	switch {
	case period.GreaterThan(previous):
		trend = TrendUp
	case period.LessThan(previous):
		trend = TrendDown
	}

	avgDaily := decimal.Zero
	if buckets := RevenueTrend(sales, days, now); len(buckets) > 0 {
		avgDaily = period.DivRound(decimal.NewFromInt(int64(len(buckets))), 4)
	}

	return Period{
		PeriodRevenue:         period,
		PreviousPeriodRevenue: previous,
		GrowthRatePercent:     growth,
		Trend:                 trend,
		AvgDailyRevenue:       avgDaily,
	}
}

// Summarize rolls up account-level headline numbers: the datasets the
// account has listed and the purchases it has made. ListedValue is the
// combined asking price of the owned datasets, not realised revenue.
func Summarize(owned []registry.Dataset, purchases []Sale) Summary {
	var listed, spent decimal.Decimal
	for _, d := range owned {
		listed = listed.Add(d.Price)
	}
	for _, p := range purchases {
		spent = spent.Add(p.Amount)
	}
	return Summary{
		DatasetsOwned: len(owned),
		ListedValue:   listed,
		Purchases:     len(purchases),
		TotalSpent:    spent,
	}
}
