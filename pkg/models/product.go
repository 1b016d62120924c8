package models

// ProductSource identifies the candidate pool a product belongs to.
type ProductSource string

const (
	SourceVendor    ProductSource = "vendor"
	SourceAffiliate ProductSource = "affiliate"
)

// Availability mirrors the availability column of the products table.
type Availability string

const (
	AvailabilityInStock    Availability = "in_stock"
	AvailabilityLimited    Availability = "limited"
	AvailabilityPreorder   Availability = "preorder"
	AvailabilityOutOfStock Availability = "out_of_stock"
)

// Badge labels shown next to a ranked product.
const (
	BadgePartner      = "Partner"
	BadgePrime        = "Prime"
	BadgeFreeShipping = "Free Shipping"
	BadgeBestSeller   = "Best Seller"
)

type Fulfillment struct {
	PrimeEligible bool     `json:"prime_eligible"`
	FreeShipping  bool     `json:"free_shipping"`
	DeliveryDays  *int     `json:"delivery_days,omitempty"`
	SellerRating  *float64 `json:"seller_rating,omitempty"`
	BestSeller    bool     `json:"best_seller"`
}

// CandidateProduct is a product eligible for recommendation. The score
// signals are nullable; defaults for missing values are applied only by
// the ranking engine.
type CandidateProduct struct {
	ID           string        `json:"id"`
	Title        string        `json:"title"`
	Description  string        `json:"description,omitempty"`
	Price        float64       `json:"price"`
	Currency     string        `json:"currency"`
	ImageURLs    []string      `json:"image_urls"`
	Categories   []string      `json:"categories"`
	Source       ProductSource `json:"source"`
	Retailer     string        `json:"retailer"`
	Country      *string       `json:"country,omitempty"`
	Availability Availability  `json:"availability"`

	QualityScore    *float64 `json:"quality_score,omitempty"`
	RecencyScore    *float64 `json:"recency_score,omitempty"`
	PopularityScore *float64 `json:"popularity_score,omitempty"`
	Similarity      *float64 `json:"similarity,omitempty"`

	Fulfillment Fulfillment `json:"fulfillment"`
}

// IsVendorSourced reports whether the product came from the vendor pool.
func (p *CandidateProduct) IsVendorSourced() bool {
	return p.Source == SourceVendor
}

// RetailerKey is the key used for per-retailer diversification. Products
// without a retailer are grouped by their source pool.
func (p *CandidateProduct) RetailerKey() string {
	if p.Retailer != "" {
		return p.Retailer
	}
	return string(p.Source)
}

// RankedProduct is a candidate with its final score, 1-based rank and badges.
// It is recomputed on every request and never persisted.
type RankedProduct struct {
	CandidateProduct
	Score  float64  `json:"score"`
	Rank   int      `json:"rank"`
	Badges []string `json:"badges"`
}
