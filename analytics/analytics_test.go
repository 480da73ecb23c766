package analytics

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"datamarket/registry"
)

var analyticsNow = time.Date(2024, 3, 20, 12, 0, 0, 0, time.UTC)

func sale(daysAgo int, amount string) Sale {
	return Sale{
		Timestamp: analyticsNow.AddDate(0, 0, -daysAgo),
		Amount:    decimal.RequireFromString(amount),
	}
}

func TestRevenueTrendBucketsByDay(t *testing.T) {
	sales := []Sale{
		sale(2, "10"),
		sale(1, "20"),
		sale(1, "5"),
		sale(45, "999"), // outside the window
	}

	points := RevenueTrend(sales, 30, analyticsNow)
	if len(points) != 2 {
		t.Fatalf("buckets = %d, want 2", len(points))
	}
	if points[0].Date != "2024-03-18" || points[0].Revenue.String() != "10" {
		t.Fatalf("first bucket = %s/%s, want 2024-03-18/10", points[0].Date, points[0].Revenue)
	}
	if points[1].Date != "2024-03-19" || points[1].Revenue.String() != "25" {
		t.Fatalf("second bucket = %s/%s, want 2024-03-19/25", points[1].Date, points[1].Revenue)
	}
}

func TestRevenueTrendEmptyInputs(t *testing.T) {
	if got := RevenueTrend(nil, 30, analyticsNow); len(got) != 0 {
		t.Fatalf("nil sales: got %d buckets", len(got))
	}
	if got := RevenueTrend([]Sale{sale(1, "10")}, 0, analyticsNow); got != nil {
		t.Fatalf("zero-day window: got %v", got)
	}
}

func TestPeriodAnalyticsGrowth(t *testing.T) {
	sales := []Sale{
		sale(2, "30"),  // current period
		sale(40, "20"), // previous period
	}

	p := PeriodAnalytics(sales, 30, analyticsNow)
	if p.PeriodRevenue.String() != "30" || p.PreviousPeriodRevenue.String() != "20" {
		t.Fatalf("revenues = %s/%s, want 30/20", p.PeriodRevenue, p.PreviousPeriodRevenue)
	}
	if got, want := p.GrowthRatePercent.String(), "50"; got != want {
		t.Fatalf("growth = %s, want %s", got, want)
	}
	if p.Trend != TrendUp {
		t.Fatalf("trend = %s, want up", p.Trend)
	}
}

func TestPeriodAnalyticsZeroPreviousPeriod(t *testing.T) {
	sales := []Sale{sale(2, "50")}

	p := PeriodAnalytics(sales, 30, analyticsNow)
	if got, want := p.GrowthRatePercent.String(), "100"; got != want {
		t.Fatalf("growth = %s, want %s", got, want)
	}
	if p.Trend != TrendUp {
		t.Fatalf("trend = %s, want up", p.Trend)
	}
}

func TestPeriodAnalyticsBothPeriodsEmpty(t *testing.T) {
	p := PeriodAnalytics(nil, 30, analyticsNow)
	if !p.GrowthRatePercent.IsZero() {
		t.Fatalf("growth = %s, want 0", p.GrowthRatePercent)
	}
	if p.Trend != TrendStable {
		t.Fatalf("trend = %s, want stable", p.Trend)
	}
	if !p.AvgDailyRevenue.IsZero() {
		t.Fatalf("avg daily = %s, want 0", p.AvgDailyRevenue)
	}
}

func TestPeriodAnalyticsDashboardScenario(t *testing.T) {
	// Purchases of 10 on day D and 20 on day D+1, nothing before.
	sales := []Sale{
		sale(2, "10"),
		sale(1, "20"),
	}

	points := RevenueTrend(sales, 30, analyticsNow)
	if len(points) != 2 || points[0].Revenue.String() != "10" || points[1].Revenue.String() != "20" {
		t.Fatalf("trend = %+v, want [(D,10) (D+1,20)]", points)
	}

	p := PeriodAnalytics(sales, 30, analyticsNow)
	if got, want := p.PeriodRevenue.String(), "30"; got != want {
		t.Fatalf("period revenue = %s, want %s", got, want)
	}
	if got, want := p.GrowthRatePercent.String(), "100"; got != want {
		t.Fatalf("growth = %s, want %s", got, want)
	}
	if got, want := p.AvgDailyRevenue.String(), "15"; got != want {
		t.Fatalf("avg daily = %s, want %s", got, want)
	}
}

func TestSummarize(t *testing.T) {
	owned := []registry.Dataset{
		{ID: 1, Price: decimal.RequireFromString("12.5")},
		{ID: 2, Price: decimal.RequireFromString("7.5")},
	}
	purchases := []Sale{sale(1, "3"), sale(2, "4")}

	s := Summarize(owned, purchases)
	if s.DatasetsOwned != 2 || s.Purchases != 2 {
		t.Fatalf("counts = %d/%d, want 2/2", s.DatasetsOwned, s.Purchases)
	}
	if got, want := s.ListedValue.String(), "20"; got != want {
		t.Fatalf("listed value = %s, want %s", got, want)
	}
	if got, want := s.TotalSpent.String(), "7"; got != want {
		t.Fatalf("total spent = %s, want %s", got, want)
	}
}
