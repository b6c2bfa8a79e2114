package models

import "time"

// RentalMedian is an aggregate weekly rent statistic, unique per
// (Region, Postcode, Bedrooms, Period, SourceID).
type RentalMedian struct {
	ID               uint      `gorm:"primaryKey" json:"id"`
	Region           Region    `gorm:"type:varchar(3);not null;uniqueIndex:idx_rental_medians_key,priority:1" json:"region"`
	Postcode         string    `gorm:"type:varchar(4);not null;uniqueIndex:idx_rental_medians_key,priority:2" json:"postcode"`
	Bedrooms         int       `gorm:"not null;uniqueIndex:idx_rental_medians_key,priority:3" json:"bedrooms"`
	Period           time.Time `gorm:"not null;uniqueIndex:idx_rental_medians_key,priority:4" json:"period"`
	SourceID         string    `gorm:"not null;uniqueIndex:idx_rental_medians_key,priority:5" json:"source_id"`
	Suburb           *string   `json:"suburb"`
	MedianWeeklyRent int       `gorm:"not null" json:"median_weekly_rent"`
	SampleSize       *int      `json:"sample_size"`
	UpdatedAt        time.Time `json:"updated_at"`
}

func (RentalMedian) TableName() string { return "rental_medians" }

// SalesEvent is an immutable observation of a property changing hands.
type SalesEvent struct {
	ID         uint      `gorm:"primaryKey" json:"id"`
	PropertyID uint      `gorm:"not null;uniqueIndex:idx_sales_history_event,priority:1" json:"property_id"`
	Address    string    `gorm:"not null" json:"address"`
	Suburb     string    `gorm:"not null" json:"suburb"`
	Region     Region    `gorm:"type:varchar(3);not null" json:"region"`
	Postcode   string    `gorm:"type:varchar(4);not null" json:"postcode"`
	SaleDate   time.Time `gorm:"not null;uniqueIndex:idx_sales_history_event,priority:2" json:"sale_date"`
	SalePrice  int64     `gorm:"not null;uniqueIndex:idx_sales_history_event,priority:3" json:"sale_price"`
	SourceID   string    `gorm:"not null" json:"source_id"`
	ObservedAt time.Time `gorm:"not null" json:"observed_at"`

	Property *PropertyRecord `gorm:"foreignKey:PropertyID;constraint:OnDelete:RESTRICT" json:"-"`
}

func (SalesEvent) TableName() string { return "sales_history" }

// NewSalesEvent builds the event for a persisted record carrying a sale
// price and date. ok is false when either is absent.
func NewSalesEvent(propertyID uint, rec PropertyRecord, observedAt time.Time) (SalesEvent, bool) {
	if rec.SalePrice == nil || rec.SaleDate == nil {
		return SalesEvent{}, false
	}
	return SalesEvent{
		PropertyID: propertyID,
		Address:    rec.Address,
		Suburb:     rec.Suburb,
		Region:     rec.Region,
		Postcode:   rec.Postcode,
		SaleDate:   *rec.SaleDate,
		SalePrice:  *rec.SalePrice,
		SourceID:   rec.SourceID,
		ObservedAt: observedAt,
	}, true
}
