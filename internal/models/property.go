package models

import (
	"strings"
	"time"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// Region is a first-level administrative division code.
type Region string

const (
	RegionNSW Region = "NSW"
	RegionVIC Region = "VIC"
	RegionQLD Region = "QLD"
	RegionWA  Region = "WA"
	RegionSA  Region = "SA"
	RegionTAS Region = "TAS"
	RegionACT Region = "ACT"
	RegionNT  Region = "NT"
)

var Regions = []Region{RegionNSW, RegionVIC, RegionQLD, RegionWA, RegionSA, RegionTAS, RegionACT, RegionNT}

// IsValid reports whether r is one of the known region codes.
func (r Region) IsValid() bool {
	for _, known := range Regions {
		if r == known {
			return true
		}
	}
	return false
}

// PropertyCategory is the canonical property type.
type PropertyCategory string

const (
	CategoryHouse      PropertyCategory = "house"
	CategoryUnit       PropertyCategory = "unit"
	CategoryTownhouse  PropertyCategory = "townhouse"
	CategoryVacantLand PropertyCategory = "vacant-land"
	CategoryCommercial PropertyCategory = "commercial"
	CategoryOther      PropertyCategory = "other"
)

// categoryVocabulary is checked in order; townhouse must precede house.
var categoryVocabulary = []struct {
	category PropertyCategory
	words    []string
}{
	{CategoryTownhouse, []string{"townhouse", "town house", "terrace", "villa", "duplex"}},
	{CategoryUnit, []string{"unit", "apartment", "flat", "strata", "studio"}},
	{CategoryVacantLand, []string{"vacant", "land"}},
	{CategoryCommercial, []string{"commercial", "retail", "office", "shop", "industrial"}},
	{CategoryHouse, []string{"house", "dwelling", "residence", "detached"}},
}

// NormalizeCategory maps a source-native property type to the canonical
// category. Unrecognised strings map to CategoryOther.
func NormalizeCategory(native string) PropertyCategory {
	lower := strings.ToLower(strings.TrimSpace(native))
	if lower == "" {
		return CategoryOther
	}
	for _, entry := range categoryVocabulary {
		for _, word := range entry.words {
			if strings.Contains(lower, word) {
				return entry.category
			}
		}
	}
	return CategoryOther
}

// PropertyRecord is one observed real-estate unit. The tuple
// (Address, Suburb, Region, Postcode) is its natural key.
type PropertyRecord struct {
	ID            uint             `gorm:"primaryKey" json:"id"`
	Address       string           `gorm:"not null;uniqueIndex:idx_properties_natural_key,priority:1" json:"address"`
	Suburb        string           `gorm:"not null;uniqueIndex:idx_properties_natural_key,priority:2" json:"suburb"`
	Region        Region           `gorm:"type:varchar(3);not null;uniqueIndex:idx_properties_natural_key,priority:3" json:"region"`
	Postcode      string           `gorm:"type:varchar(4);not null;uniqueIndex:idx_properties_natural_key,priority:4" json:"postcode"`
	Category      PropertyCategory `gorm:"type:varchar(16);not null;default:other" json:"category"`
	Bedrooms      *int             `json:"bedrooms"`
	SalePrice     *int64           `json:"sale_price"`
	SaleDate      *time.Time       `json:"sale_date"`
	WeeklyRent    *int             `json:"weekly_rent"`
	RentEstimated bool             `gorm:"not null;default:false" json:"rent_estimated"`
	RentalYield   *float64         `json:"rental_yield"`
	SourceID      string           `gorm:"not null;index" json:"source_id"`
	Quality       QualityTier      `gorm:"type:varchar(16);not null" json:"quality"`
	Confidence    float64          `gorm:"not null;default:1" json:"confidence"`
	ExternalID    *string          `gorm:"index" json:"external_id"`
	LastUpdated   time.Time        `json:"last_updated"`
}

func (PropertyRecord) TableName() string { return "properties" }

// Key returns the natural key of the record.
func (p PropertyRecord) Key() NaturalKey {
	return NaturalKey{Address: p.Address, Suburb: p.Suburb, Region: p.Region, Postcode: p.Postcode}
}

// Score is the record's quality score.
func (p PropertyRecord) Score() float64 {
	return QualityScore(p.Quality, p.Confidence)
}

// NaturalKey identifies one real-world property across all sources.
type NaturalKey struct {
	Address  string
	Suburb   string
	Region   Region
	Postcode string
}

// NormalizeKeyPart trims, collapses inner whitespace and upper-cases a
// natural-key component so that keys from different feeds compare equal.
func NormalizeKeyPart(s string) string {
	collapsed := strings.Join(strings.Fields(s), " ")
	return cases.Upper(language.English).String(collapsed)
}

// FormatAddress joins the optional unit and house number with the street
// name, e.g. "2/10 SMITH STREET".
func FormatAddress(unit, house, street string) string {
	unit, house, street = strings.TrimSpace(unit), strings.TrimSpace(house), strings.TrimSpace(street)
	number := house
	switch {
	case unit != "" && house != "":
		number = unit + "/" + house
	case unit != "":
		number = unit
	}
	if number == "" {
		return NormalizeKeyPart(street)
	}
	return NormalizeKeyPart(number + " " + street)
}
