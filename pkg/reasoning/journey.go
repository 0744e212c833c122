package reasoning

import (
	"fmt"
	"sort"
	"time"

	"github.com/orneryd/bizgraph/pkg/graph"
)

// Stage is a customer's position in the purchase lifecycle.
type Stage string

const (
	StageFirstPurchase Stage = "first_purchase"
	StageExploration   Stage = "exploration"
	StageRegular       Stage = "regular"
	StageLoyal         Stage = "loyal"
)

// stageRule matches when the touchpoint index or the cumulative spend reaches
// its bar.
type stageRule struct {
	stage         Stage
	minIndex      int
	minCumulative float64
}

// stageRules apply from the second touchpoint on; the first is always
// StageFirstPurchase. No match means StageExploration.
var stageRules = []stageRule{
	{stage: StageLoyal, minIndex: 9, minCumulative: 2000},
	{stage: StageRegular, minIndex: 4, minCumulative: 500},
}

func stageFor(index int, cumulative float64) Stage {
	if index == 0 {
		return StageFirstPurchase
	}
	for _, r := range stageRules {
		if index >= r.minIndex || cumulative >= r.minCumulative {
			return r.stage
		}
	}
	return StageExploration
}

// Action is a next-best action.
type Action struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

// actionRule matches when both bars are reached. A zero bar always passes.
type actionRule struct {
	minSpend float64
	minCount int
	action   Action
}

var (
	ActionVIPProgram     = Action{Name: "vip_program", Description: "Invite to the VIP program with dedicated support"}
	ActionPremiumUpsell  = Action{Name: "premium_upsell", Description: "Offer premium products matching past purchases"}
	ActionLoyaltyRewards = Action{Name: "loyalty_rewards", Description: "Enroll in loyalty rewards to keep purchase frequency up"}
	ActionCrossSell      = Action{Name: "cross_sell", Description: "Recommend complementary products from related categories"}
	ActionWelcomeOffer   = Action{Name: "welcome_offer", Description: "Send a welcome discount to encourage the next purchase"}
)

// actionRules is the next-best-action decision table. The last row has no
// bars and always matches.
var actionRules = []actionRule{
	{minSpend: 2000, minCount: 10, action: ActionVIPProgram},
	{minSpend: 1000, action: ActionPremiumUpsell},
	{minCount: 5, action: ActionLoyaltyRewards},
	{minCount: 2, action: ActionCrossSell},
	{action: ActionWelcomeOffer},
}

func nextBestAction(total float64, count int) Action {
	for _, r := range actionRules {
		if total >= r.minSpend && count >= r.minCount {
			return r.action
		}
	}
	return ActionWelcomeOffer
}

// Touchpoint is one transaction placed on the journey.
type Touchpoint struct {
	Index           int             `json:"index"`
	TransactionID   string          `json:"transaction_id"`
	ProductID       graph.ProductID `json:"product_id"`
	Amount          float64         `json:"amount"`
	Timestamp       time.Time       `json:"timestamp"`
	CumulativeSpend float64         `json:"cumulative_spend"`
	Stage           Stage           `json:"stage"`
}

// Journey is the result of AnalyzeCustomerJourney.
type Journey struct {
	CustomerID     graph.CustomerID `json:"customer_id"`
	Touchpoints    []Touchpoint     `json:"touchpoints"`
	Transactions   int              `json:"transactions"`
	TotalSpent     float64          `json:"total_spent"`
	CurrentStage   Stage            `json:"current_stage,omitempty"`
	AmountSlope    float64          `json:"amount_slope"`
	AmountTrend    Trend            `json:"amount_trend"`
	Insights       []string         `json:"insights"`
	NextBestAction Action           `json:"next_best_action"`
}

// NoJourneyInsight is reported for customers without transactions.
const NoJourneyInsight = "No transactions recorded for this customer"

// AnalyzeCustomerJourney walks the customer's transactions in chronological
// order, assigns a stage to each and proposes one next-best action.
func AnalyzeCustomerJourney(id graph.CustomerID, stream []graph.Transaction) (*Journey, error) {
	if id == "" {
		return nil, fmt.Errorf("customer id is empty: %w", graph.ErrValidation)
	}

	var mine []graph.Transaction
	for _, t := range stream {
		if t.CustomerID == id {
			mine = append(mine, t)
		}
	}
	sort.SliceStable(mine, func(i, j int) bool {
		if !mine[i].Timestamp.Equal(mine[j].Timestamp) {
			return mine[i].Timestamp.Before(mine[j].Timestamp)
		}
		return mine[i].ID < mine[j].ID
	})

	j := &Journey{
		CustomerID:   id,
		Touchpoints:  make([]Touchpoint, 0, len(mine)),
		Transactions: len(mine),
		AmountTrend:  TrendStable,
	}
	if len(mine) == 0 {
		j.Insights = []string{NoJourneyInsight}
		j.NextBestAction = nextBestAction(0, 0)
		return j, nil
	}

	xs := make([]float64, len(mine))
	amounts := make([]float64, len(mine))
	var prev Stage
	for i, t := range mine {
		j.TotalSpent += t.Amount
		stage := stageFor(i, j.TotalSpent)
		j.Touchpoints = append(j.Touchpoints, Touchpoint{
			Index:           i,
			TransactionID:   t.ID,
			ProductID:       t.ProductID,
			Amount:          t.Amount,
			Timestamp:       t.Timestamp,
			CumulativeSpend: j.TotalSpent,
			Stage:           stage,
		})
		if i > 0 && stage != prev {
			j.Insights = append(j.Insights, fmt.Sprintf("Moved from %s to %s at purchase %d (cumulative spend %.2f)",
				prev, stage, i+1, j.TotalSpent))
		}
		prev = stage
		xs[i] = float64(i)
		amounts[i] = t.Amount
	}
	j.CurrentStage = prev

	j.AmountSlope = slope(xs, amounts)
	j.AmountTrend = direction(j.AmountSlope, mean(amounts))
	switch j.AmountTrend {
	case TrendUp:
		j.Insights = append(j.Insights, fmt.Sprintf("Purchase amounts are trending up (%.2f per purchase)", j.AmountSlope))
	case TrendDown:
		j.Insights = append(j.Insights, fmt.Sprintf("Purchase amounts are trending down (%.2f per purchase)", j.AmountSlope))
	default:
		if len(mine) > 1 {
			j.Insights = append(j.Insights, "Purchase amounts are stable")
		}
	}
	if len(mine) == 1 {
		j.Insights = append(j.Insights, "Single purchase so far; journey has just started")
	}

	j.NextBestAction = nextBestAction(j.TotalSpent, j.Transactions)
	return j, nil
}
