package enrich

import (
	"realtor/ingest/internal/models"
)

type rentalKey struct {
	region   models.Region
	postcode string
	bedrooms int
}

// RentalIndex is an in-memory RentalLookup holding the preferred median per
// (region, postcode, bedrooms). It is read-only once built.
type RentalIndex struct {
	medians map[rentalKey]models.RentalMedian
}

// NewRentalIndex keeps the most recent period per key. Ties go to the larger
// sample size, then to the lower source ID.
func NewRentalIndex(medians []models.RentalMedian) *RentalIndex {
	idx := &RentalIndex{medians: make(map[rentalKey]models.RentalMedian, len(medians))}
	for _, m := range medians {
		k := rentalKey{region: m.Region, postcode: m.Postcode, bedrooms: m.Bedrooms}
		if cur, ok := idx.medians[k]; !ok || preferred(m, cur) {
			idx.medians[k] = m
		}
	}
	return idx
}

func preferred(a, b models.RentalMedian) bool {
	if !a.Period.Equal(b.Period) {
		return a.Period.After(b.Period)
	}
	as, bs := sampleSize(a), sampleSize(b)
	if as != bs {
		return as > bs
	}
	return a.SourceID < b.SourceID
}

func sampleSize(m models.RentalMedian) int {
	if m.SampleSize == nil {
		return -1
	}
	return *m.SampleSize
}

func (idx *RentalIndex) Lookup(region models.Region, postcode string, bedrooms int) (models.RentalMedian, bool) {
	m, ok := idx.medians[rentalKey{region: region, postcode: postcode, bedrooms: bedrooms}]
	return m, ok
}

// Len returns the number of indexed keys.
func (idx *RentalIndex) Len() int { return len(idx.medians) }
