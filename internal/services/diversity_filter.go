package services

import "github.com/temcen/giftwise/pkg/models"

// DiversityFilter caps how many products a single retailer may contribute
// and bounds the overall result size.
type DiversityFilter struct {
	maxPerRetailer int
	maxResults     int
}

func NewDiversityFilter(maxPerRetailer, maxResults int) *DiversityFilter {
	return &DiversityFilter{
		maxPerRetailer: maxPerRetailer,
		maxResults:     maxResults,
	}
}

// Apply walks an already sorted list and omits any product whose retailer
// has reached its cap. Kept products stay in their original relative order.
// A non-positive limit disables that cap.
func (df *DiversityFilter) Apply(sorted []models.RankedProduct) []models.RankedProduct {
	capacity := len(sorted)
	if df.maxResults > 0 && df.maxResults < capacity {
		capacity = df.maxResults
	}

	result := make([]models.RankedProduct, 0, capacity)
	perRetailer := make(map[string]int)

	for _, product := range sorted {
		if df.maxResults > 0 && len(result) >= df.maxResults {
			break
		}

		key := product.RetailerKey()
		if df.maxPerRetailer > 0 && perRetailer[key] >= df.maxPerRetailer {
			continue
		}

		perRetailer[key]++
		result = append(result, product)
	}

	return result
}
