package reasoning

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orneryd/bizgraph/pkg/graph"
)

var t0 = time.Date(2024, 2, 1, 10, 0, 0, 0, time.UTC)

func purchases(c graph.CustomerID, amounts ...float64) []graph.Transaction {
	out := make([]graph.Transaction, len(amounts))
	for i, a := range amounts {
		out[i] = graph.Transaction{
			ID:         fmt.Sprintf("%s-%02d", c, i),
			CustomerID: c,
			ProductID:  "p",
			Quantity:   1,
			Amount:     a,
			Timestamp:  t0.Add(time.Duration(i) * time.Hour),
		}
	}
	return out
}

func TestSlope(t *testing.T) {
	assert.InDelta(t, 2.0, slope([]float64{0, 1, 2}, []float64{1, 3, 5}), 1e-12)
	assert.Equal(t, 0.0, slope([]float64{1}, []float64{4}))
	assert.Equal(t, 0.0, slope([]float64{3, 3}, []float64{1, 9}))
}

func TestJourneyStages(t *testing.T) {
	amounts := make([]float64, 10)
	for i := range amounts {
		amounts[i] = 100
	}
	// other customers' transactions must be ignored
	stream := append(purchases("b", 5000), purchases("a", amounts...)...)

	j, err := AnalyzeCustomerJourney("a", stream)
	require.NoError(t, err)
	require.Len(t, j.Touchpoints, 10)

	want := []Stage{
		StageFirstPurchase,
		StageExploration, StageExploration, StageExploration,
		StageRegular, StageRegular, StageRegular, StageRegular, StageRegular,
		StageLoyal,
	}
	for i, tp := range j.Touchpoints {
		assert.Equal(t, want[i], tp.Stage, "touchpoint %d", i)
	}
	assert.Equal(t, StageLoyal, j.CurrentStage)
	assert.Equal(t, 1000.0, j.TotalSpent)
	assert.Equal(t, 1000.0, j.Touchpoints[9].CumulativeSpend)
	assert.Equal(t, TrendStable, j.AmountTrend)
	assert.Equal(t, ActionPremiumUpsell, j.NextBestAction)

	assert.Contains(t, j.Insights, "Moved from first_purchase to exploration at purchase 2 (cumulative spend 200.00)")
	assert.Contains(t, j.Insights, "Moved from exploration to regular at purchase 5 (cumulative spend 500.00)")
	assert.Contains(t, j.Insights, "Moved from regular to loyal at purchase 10 (cumulative spend 1000.00)")
}

func TestJourneyCumulativeSpendPromotes(t *testing.T) {
	j, err := AnalyzeCustomerJourney("a", purchases("a", 100, 600))
	require.NoError(t, err)
	assert.Equal(t, StageRegular, j.Touchpoints[1].Stage)

	j, err = AnalyzeCustomerJourney("a", purchases("a", 1500, 600))
	require.NoError(t, err)
	assert.Equal(t, StageLoyal, j.Touchpoints[1].Stage)
}

func TestJourneyChronologicalOrder(t *testing.T) {
	stream := purchases("a", 10, 20, 30)
	stream[0], stream[2] = stream[2], stream[0]

	j, err := AnalyzeCustomerJourney("a", stream)
	require.NoError(t, err)
	assert.Equal(t, "a-00", j.Touchpoints[0].TransactionID)
	assert.Equal(t, "a-02", j.Touchpoints[2].TransactionID)
}

func TestJourneyTrend(t *testing.T) {
	up, err := AnalyzeCustomerJourney("a", purchases("a", 10, 20, 30, 40))
	require.NoError(t, err)
	assert.Equal(t, TrendUp, up.AmountTrend)
	assert.InDelta(t, 10.0, up.AmountSlope, 1e-9)

	down, err := AnalyzeCustomerJourney("a", purchases("a", 40, 30, 20, 10))
	require.NoError(t, err)
	assert.Equal(t, TrendDown, down.AmountTrend)

	flat, err := AnalyzeCustomerJourney("a", purchases("a", 100, 101, 100, 101))
	require.NoError(t, err)
	assert.Equal(t, TrendStable, flat.AmountTrend)
}

func TestJourneyEmpty(t *testing.T) {
	j, err := AnalyzeCustomerJourney("nobody", purchases("a", 10))
	require.NoError(t, err)
	assert.Empty(t, j.Touchpoints)
	assert.Equal(t, []string{NoJourneyInsight}, j.Insights)
	assert.Equal(t, ActionWelcomeOffer, j.NextBestAction)

	_, err = AnalyzeCustomerJourney("", nil)
	assert.ErrorIs(t, err, graph.ErrValidation)
}

func TestNextBestAction(t *testing.T) {
	tests := []struct {
		total float64
		count int
		want  Action
	}{
		{2500, 10, ActionVIPProgram},
		{2500, 3, ActionPremiumUpsell},
		{1000, 1, ActionPremiumUpsell},
		{500, 6, ActionLoyaltyRewards},
		{50, 2, ActionCrossSell},
		{10, 1, ActionWelcomeOffer},
		{0, 0, ActionWelcomeOffer},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("%.0f/%d", tt.total, tt.count), func(t *testing.T) {
			assert.Equal(t, tt.want, nextBestAction(tt.total, tt.count))
		})
	}
}

func TestBusinessInsights(t *testing.T) {
	day2 := t0.Add(24 * time.Hour)
	stream := []graph.Transaction{
		{ID: "1", CustomerID: "c1", ProductID: "p1", Quantity: 1, Amount: 100, Timestamp: t0, Status: "completed"},
		{ID: "2", CustomerID: "c2", ProductID: "p2", Quantity: 2, Amount: 100, Timestamp: t0, Status: "cancelled"},
		{ID: "3", CustomerID: "c1", ProductID: "p1", Quantity: 1, Amount: 300, Timestamp: day2},
		{ID: "4", CustomerID: "c3", ProductID: "p3", Quantity: 3, Amount: 300, Timestamp: day2, Status: "Completed"},
	}

	b, err := GenerateBusinessInsights(stream)
	require.NoError(t, err)

	assert.Equal(t, 800.0, b.Revenue.Total)
	assert.Equal(t, 200.0, b.Revenue.AverageOrderValue)
	assert.InDelta(t, 400.0, b.Revenue.DailySlope, 1e-9)
	assert.Equal(t, TrendUp, b.Revenue.Trend)

	assert.Equal(t, 3, b.Customers.Unique)
	assert.InDelta(t, 800.0/3, b.Customers.AverageValue, 1e-9)
	assert.InDelta(t, 1.0/3, b.Customers.RepeatRate, 1e-9)

	assert.Equal(t, 3, b.Products.Unique)
	require.Len(t, b.Products.Top, 3)
	assert.Equal(t, ProductRevenue{ProductID: "p1", Revenue: 400}, b.Products.Top[0])
	assert.Equal(t, 1.0, b.Products.TopConcentration)

	assert.Equal(t, 4, b.Operations.Transactions)
	assert.Equal(t, 7, b.Operations.Units)
	assert.Equal(t, 0.75, b.Operations.CompletionRate)
	assert.Equal(t, 2, b.Operations.PeriodDays)

	assert.Equal(t, []string{
		"Growth is supported by repeat purchases",
		"Revenue depends on a handful of products; diversify the catalogue",
		"High-value orders are failing to complete; review checkout and fulfilment",
	}, b.Insights)
}

func TestBusinessInsightsSingleDay(t *testing.T) {
	b, err := GenerateBusinessInsights(purchases("a", 5))
	require.NoError(t, err)
	assert.Equal(t, TrendStable, b.Revenue.Trend)
	assert.Equal(t, 1, b.Operations.PeriodDays)
}

func TestBusinessInsightsEmpty(t *testing.T) {
	_, err := GenerateBusinessInsights(nil)
	assert.ErrorIs(t, err, graph.ErrValidation)
}
