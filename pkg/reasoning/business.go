package reasoning

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/orneryd/bizgraph/pkg/graph"
)

// RevenueStats aggregate transaction amounts.
type RevenueStats struct {
	Total             float64 `json:"total"`
	AverageOrderValue float64 `json:"average_order_value"`
	DailySlope        float64 `json:"daily_slope"`
	Trend             Trend   `json:"trend"`
}

// CustomerStats aggregate per-customer behaviour.
type CustomerStats struct {
	Unique       int     `json:"unique"`
	AverageValue float64 `json:"average_value"`
	RepeatRate   float64 `json:"repeat_rate"`
}

// ProductRevenue is one product's share of revenue.
type ProductRevenue struct {
	ProductID graph.ProductID `json:"product_id"`
	Revenue   float64         `json:"revenue"`
}

// ProductStats aggregate per-product sales.
type ProductStats struct {
	Unique int              `json:"unique"`
	Top    []ProductRevenue `json:"top"`
	// TopConcentration is the share of revenue carried by Top.
	TopConcentration float64 `json:"top_concentration"`
}

// OperationStats describe the stream itself.
type OperationStats struct {
	Transactions   int       `json:"transactions"`
	Units          int       `json:"units"`
	CompletionRate float64   `json:"completion_rate"`
	PeriodStart    time.Time `json:"period_start"`
	PeriodEnd      time.Time `json:"period_end"`
	PeriodDays     int       `json:"period_days"`
}

// BusinessInsights is the result of GenerateBusinessInsights.
type BusinessInsights struct {
	Revenue    RevenueStats   `json:"revenue"`
	Customers  CustomerStats  `json:"customers"`
	Products   ProductStats   `json:"products"`
	Operations OperationStats `json:"operations"`
	Insights   []string       `json:"insights"`
}

const topProducts = 5

// completed reports whether a transaction counts as settled. Records without
// a status are treated as completed.
func completed(status string) bool {
	return status == "" || strings.EqualFold(status, "completed")
}

// metaRule combines two sub-aggregates into one insight.
type metaRule struct {
	when func(b *BusinessInsights) bool
	text string
}

var metaRules = []metaRule{
	{
		when: func(b *BusinessInsights) bool { return b.Revenue.Trend == TrendUp && b.Customers.AverageValue >= 500 },
		text: "Revenue is growing and driven by high-value customers; protect them with retention programs",
	},
	{
		when: func(b *BusinessInsights) bool { return b.Revenue.Trend == TrendDown && b.Customers.AverageValue >= 500 },
		text: "Revenue is falling despite high-value customers; investigate churn among top spenders",
	},
	{
		when: func(b *BusinessInsights) bool { return b.Revenue.Trend == TrendUp && b.Customers.RepeatRate >= 0.3 },
		text: "Growth is supported by repeat purchases",
	},
	{
		when: func(b *BusinessInsights) bool { return b.Revenue.Trend == TrendDown && b.Customers.RepeatRate < 0.3 },
		text: "Revenue is falling and few customers return; focus on re-engagement",
	},
	{
		when: func(b *BusinessInsights) bool { return b.Products.TopConcentration >= 0.5 && b.Products.Unique >= 20 },
		text: "Top products carry most revenue in a broad catalogue; review the long tail",
	},
	{
		when: func(b *BusinessInsights) bool { return b.Products.TopConcentration >= 0.8 && b.Products.Unique < 20 },
		text: "Revenue depends on a handful of products; diversify the catalogue",
	},
	{
		when: func(b *BusinessInsights) bool {
			return b.Operations.CompletionRate < 0.9 && b.Revenue.AverageOrderValue >= 100
		},
		text: "High-value orders are failing to complete; review checkout and fulfilment",
	},
	{
		when: func(b *BusinessInsights) bool {
			return b.Operations.CompletionRate >= 0.95 && b.Revenue.AverageOrderValue >= 100
		},
		text: "High-value orders complete reliably",
	},
}

// NoBusinessPatternInsight is reported when no meta rule fires.
const NoBusinessPatternInsight = "No notable cross-metric patterns in this period"

// GenerateBusinessInsights aggregates the stream into revenue, customer,
// product and operational statistics and derives meta insights from pairs
// of them.
func GenerateBusinessInsights(stream []graph.Transaction) (*BusinessInsights, error) {
	if len(stream) == 0 {
		return nil, fmt.Errorf("transaction stream is empty: %w", graph.ErrValidation)
	}

	b := &BusinessInsights{}
	perCustomer := make(map[graph.CustomerID]struct {
		spend float64
		count int
	})
	perProduct := make(map[graph.ProductID]float64)
	perDay := make(map[time.Time]float64)
	done := 0

	start, end := stream[0].Timestamp, stream[0].Timestamp
	for _, t := range stream {
		b.Revenue.Total += t.Amount
		b.Operations.Units += t.Quantity
		if completed(t.Status) {
			done++
		}
		c := perCustomer[t.CustomerID]
		c.spend += t.Amount
		c.count++
		perCustomer[t.CustomerID] = c
		perProduct[t.ProductID] += t.Amount

		day := t.Timestamp.UTC().Truncate(24 * time.Hour)
		perDay[day] += t.Amount
		if t.Timestamp.Before(start) {
			start = t.Timestamp
		}
		if t.Timestamp.After(end) {
			end = t.Timestamp
		}
	}

	n := len(stream)
	b.Revenue.AverageOrderValue = b.Revenue.Total / float64(n)
	b.Revenue.DailySlope, b.Revenue.Trend = dailyTrend(perDay)

	b.Customers.Unique = len(perCustomer)
	b.Customers.AverageValue = b.Revenue.Total / float64(len(perCustomer))
	repeat := 0
	for _, c := range perCustomer {
		if c.count > 1 {
			repeat++
		}
	}
	b.Customers.RepeatRate = float64(repeat) / float64(len(perCustomer))

	b.Products.Unique = len(perProduct)
	b.Products.Top = topByRevenue(perProduct, topProducts)
	var topSum float64
	for _, p := range b.Products.Top {
		topSum += p.Revenue
	}
	if b.Revenue.Total > 0 {
		b.Products.TopConcentration = topSum / b.Revenue.Total
	}

	b.Operations.Transactions = n
	b.Operations.CompletionRate = float64(done) / float64(n)
	b.Operations.PeriodStart = start.UTC()
	b.Operations.PeriodEnd = end.UTC()
	b.Operations.PeriodDays = int(end.Sub(start).Hours()/24) + 1

	for _, r := range metaRules {
		if r.when(b) {
			b.Insights = append(b.Insights, r.text)
		}
	}
	if len(b.Insights) == 0 {
		b.Insights = []string{NoBusinessPatternInsight}
	}
	return b, nil
}

// dailyTrend fits revenue per day against the day offset from the first day.
func dailyTrend(perDay map[time.Time]float64) (float64, Trend) {
	days := make([]time.Time, 0, len(perDay))
	for d := range perDay {
		days = append(days, d)
	}
	sort.Slice(days, func(i, j int) bool { return days[i].Before(days[j]) })

	xs := make([]float64, len(days))
	ys := make([]float64, len(days))
	for i, d := range days {
		xs[i] = d.Sub(days[0]).Hours() / 24
		ys[i] = perDay[d]
	}
	s := slope(xs, ys)
	return s, direction(s, mean(ys))
}

func topByRevenue(perProduct map[graph.ProductID]float64, limit int) []ProductRevenue {
	out := make([]ProductRevenue, 0, len(perProduct))
	for id, r := range perProduct {
		out = append(out, ProductRevenue{ProductID: id, Revenue: r})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Revenue != out[j].Revenue {
			return out[i].Revenue > out[j].Revenue
		}
		return out[i].ProductID < out[j].ProductID
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out
}
