package enrich

import (
	"math"

	"realtor/ingest/internal/models"
)

// Confidence multipliers applied when a value is inferred rather than observed.
const (
	BedroomEstimateConfidence = 0.7
	RentalMatchConfidence     = 0.85
)

// bedroomBucket maps prices below Max to Bedrooms. The last bucket has no
// upper bound.
type bedroomBucket struct {
	Max      int64
	Bedrooms int
	// Inclusive makes Max part of this bucket.
	Inclusive bool
}

type bedroomTable struct {
	buckets []bedroomBucket
	noPrice int
}

var bedroomTables = map[models.PropertyCategory]bedroomTable{
	models.CategoryHouse: {
		buckets: []bedroomBucket{{Max: 400_000, Bedrooms: 2}, {Max: 700_000, Bedrooms: 3, Inclusive: true}, {Bedrooms: 4}},
		noPrice: 3,
	},
	models.CategoryUnit: {
		buckets: []bedroomBucket{{Max: 300_000, Bedrooms: 1}, {Max: 550_000, Bedrooms: 2}, {Bedrooms: 3}},
		noPrice: 2,
	},
	models.CategoryTownhouse: {
		buckets: []bedroomBucket{{Max: 500_000, Bedrooms: 2}, {Max: 800_000, Bedrooms: 3}, {Bedrooms: 4}},
		noPrice: 3,
	},
	models.CategoryOther:      otherTable,
	models.CategoryCommercial: otherTable,
}

var otherTable = bedroomTable{
	buckets: []bedroomBucket{{Max: 500_000, Bedrooms: 2}, {Max: 800_000, Bedrooms: 3}, {Bedrooms: 4}},
	noPrice: 3,
}

func (t bedroomTable) lookup(price *int64) int {
	if price == nil || *price <= 0 {
		return t.noPrice
	}
	p := *price
	for _, b := range t.buckets {
		if b.Max == 0 || p < b.Max || (b.Inclusive && p == b.Max) {
			return b.Bedrooms
		}
	}
	return t.noPrice
}

// EstimateBedrooms fills in an absent bedroom count from the sale price and
// category. Present values and vacant land are left alone; land has no
// dwelling to count. ok reports whether an estimate was made.
func EstimateBedrooms(rec models.PropertyRecord) (out models.PropertyRecord, ok bool) {
	if rec.Bedrooms != nil {
		return rec, false
	}
	table, known := bedroomTables[rec.Category]
	if !known {
		return rec, false
	}
	n := table.lookup(rec.SalePrice)
	rec.Bedrooms = &n
	rec.Confidence *= BedroomEstimateConfidence
	return rec, true
}

// RentalLookup finds the preferred rental median for an exact
// (region, postcode, bedrooms) combination.
type RentalLookup interface {
	Lookup(region models.Region, postcode string, bedrooms int) (models.RentalMedian, bool)
}

// MatchRental sets an estimated weekly rent from the lookup. Records that
// already carry a rent or lack a bedroom count are returned unchanged, as are
// records without an exact match.
func MatchRental(rec models.PropertyRecord, rentals RentalLookup) (models.PropertyRecord, bool) {
	if rec.WeeklyRent != nil || rec.Bedrooms == nil || rentals == nil {
		return rec, false
	}
	median, found := rentals.Lookup(rec.Region, rec.Postcode, *rec.Bedrooms)
	if !found {
		return rec, false
	}
	rent := median.MedianWeeklyRent
	rec.WeeklyRent = &rent
	rec.RentEstimated = true
	rec.Confidence *= RentalMatchConfidence
	return rec, true
}

// CalculateYield sets the gross rental yield in percent, rounded to two
// decimals. The yield is cleared when price or rent is missing or not
// positive.
func CalculateYield(rec models.PropertyRecord) models.PropertyRecord {
	rec.RentalYield = nil
	if rec.SalePrice == nil || rec.WeeklyRent == nil {
		return rec
	}
	if y, ok := Yield(*rec.SalePrice, *rec.WeeklyRent); ok {
		rec.RentalYield = &y
	}
	return rec
}

// Yield returns weeklyRent*52/price*100 rounded to two decimals.
func Yield(price int64, weeklyRent int) (float64, bool) {
	if price <= 0 || weeklyRent <= 0 {
		return 0, false
	}
	y := float64(weeklyRent) * 52 / float64(price) * 100
	return math.Round(y*100) / 100, true
}
