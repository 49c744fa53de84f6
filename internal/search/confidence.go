package search

import (
	"math"

	"github.com/hyperjump/kotae/internal/models"
	"github.com/hyperjump/kotae/pkg/utils"
)

// Confidence maps retrieval scores to a value in [0, 1]: the mean score scaled by
// how many of the targetK slots were filled, rounded to two decimals. No results
// give 0. A non-positive targetK counts as full coverage.
func Confidence(results []models.RetrievalResult, targetK int) float64 {
	if len(results) == 0 {
		return 0
	}
	var sum float64
	for _, r := range results {
		sum += r.Score
	}
	mean := sum / float64(len(results))
	coverage := 1.0
	if targetK > 0 {
		coverage = math.Min(float64(len(results))/float64(targetK), 1)
	}
	return utils.Round(math.Min(mean*coverage, 1), 2)
}
