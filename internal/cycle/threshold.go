// Package cycle implements the order-cycle state machine and threshold
// evaluator as pure functions over models.OrderCycle. Nothing here touches
// storage or the network: services call these inside a store transaction so
// that derived state and phase checks commit atomically with the mutation
// that caused them.
package cycle

import (
	"math"

	"github.com/Nikhil170404/hyperlocal-sub001/internal/models"
)

// Evaluate reports whether every product aggregate reaches its minimum
// quantity. An empty aggregate map is vacuously met.
func Evaluate(aggs map[string]models.ProductAggregate) bool {
	for _, a := range aggs {
		if !a.Met() {
			return false
		}
	}
	return true
}

// Recompute rebuilds every derived field on the cycle from its active
// participants: per-product aggregates, total amount, participant count and
// the threshold flag. Must run as the last step of any mutation, inside the
// same transaction, so no reader ever observes stale derived state.
func Recompute(c *models.OrderCycle) {
	aggs := make(map[string]models.ProductAggregate)
	var total float64
	count := 0

	for _, p := range c.ActiveParticipants() {
		count++
		total += p.TotalAmount
		for _, item := range p.Items {
			a := aggs[item.ProductID]
			if a.Name == "" {
				a.Name = item.ProductName
			}
			if item.MinQuantity > a.MinQuantity {
				a.MinQuantity = item.MinQuantity
			}
			a.Quantity += item.Quantity
			aggs[item.ProductID] = a
		}
	}

	c.ProductAggregates = aggs
	c.TotalAmount = math.Round(total*100) / 100
	c.TotalParticipants = count
	c.MinQuantityMet = Evaluate(aggs)
}
