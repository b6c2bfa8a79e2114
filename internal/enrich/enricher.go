package enrich

import (
	"github.com/sirupsen/logrus"

	"realtor/ingest/internal/models"
)

// Stats counts what an Enricher inferred.
type Stats struct {
	BedroomsEstimated int
	RentsMatched      int
	YieldsCalculated  int
}

// Enricher applies bedroom estimation, rental matching and yield calculation
// in that order. It is not safe for concurrent use because of its counters.
type Enricher struct {
	rentals RentalLookup
	logger  *logrus.Entry
	stats   Stats
}

func NewEnricher(rentals RentalLookup, logger *logrus.Entry) *Enricher {
	return &Enricher{rentals: rentals, logger: logger}
}

func (e *Enricher) Enrich(rec models.PropertyRecord) models.PropertyRecord {
	rec, estimated := EstimateBedrooms(rec)
	if estimated {
		e.stats.BedroomsEstimated++
	}

	rec, matched := MatchRental(rec, e.rentals)
	if matched {
		e.stats.RentsMatched++
	} else if rec.Bedrooms != nil && rec.WeeklyRent == nil {
		e.logger.WithFields(logrus.Fields{
			"postcode": rec.Postcode,
			"bedrooms": *rec.Bedrooms,
		}).Debug("No rental median for property")
	}

	rec = CalculateYield(rec)
	if rec.RentalYield != nil {
		e.stats.YieldsCalculated++
	}
	return rec
}

func (e *Enricher) Stats() Stats { return e.stats }
