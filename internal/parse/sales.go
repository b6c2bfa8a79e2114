package parse

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"realtor/ingest/config"
	"realtor/ingest/internal/models"
)

// Sales feed columns, matched case- and space-insensitively.
const (
	colPropertyID    = "property id"
	colUnitNumber    = "property unit number"
	colHouseNumber   = "property house number"
	colStreetName    = "property street name"
	colLocality      = "property locality"
	colPostcode      = "property post code"
	colPurchasePrice = "purchase price"
	colSettlement    = "settlement date"
	colContract      = "contract date"
	colNature        = "nature of property"
	colPurpose       = "primary purpose"
	colStrataLot     = "strata lot number"
)

var requiredSalesColumns = []string{
	colPropertyID, colStreetName, colLocality, colPostcode,
	colPurchasePrice, colSettlement, colNature,
}

var optionalSalesColumns = []string{
	colUnitNumber, colHouseNumber, colContract, colPurpose, colStrataLot,
}

// Nature-of-property codes used by the sales feed.
const (
	natureResidence  = "R"
	natureVacantLand = "V"
	natureOther      = "3"
)

// salesStream maps rows of a delimited sales feed to property records.
type salesStream struct {
	src       config.Source
	fetchedAt time.Time
	closer    io.Closer
	reader    *csv.Reader
	columns   map[string]int

	current Result[models.PropertyRecord]
	err     error
	done    bool
}

// NewSalesStream reads the header of a delimited sales payload and returns a
// stream over its rows. A malformed header is a ParseError. The stream owns
// rc and closes it.
func NewSalesStream(rc io.ReadCloser, src config.Source, fetchedAt time.Time) (Stream[models.PropertyRecord], error) {
	reader := csv.NewReader(decodeText(rc))
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true
	reader.ReuseRecord = true
	if src.Delimiter != "" {
		d, _ := utf8.DecodeRuneInString(src.Delimiter)
		reader.Comma = d
	}

	header, err := reader.Read()
	if err != nil {
		rc.Close()
		if errors.Is(err, io.EOF) {
			return nil, &ParseError{Source: src.ID, Err: errors.New("payload is empty")}
		}
		return nil, &ParseError{Source: src.ID, Err: fmt.Errorf("failed to read header: %w", err)}
	}

	columns, err := mapSalesHeader(header)
	if err != nil {
		rc.Close()
		return nil, &ParseError{Source: src.ID, Err: err}
	}

	return &salesStream{
		src:       src,
		fetchedAt: fetchedAt,
		closer:    rc,
		reader:    reader,
		columns:   columns,
	}, nil
}

func mapSalesHeader(header []string) (map[string]int, error) {
	columns := make(map[string]int, len(header))
	for i, h := range header {
		if strings.ContainsRune(h, utf8.RuneError) {
			return nil, fmt.Errorf("header is not valid text: column %d", i+1)
		}
		name := normalizeHeader(h)
		if _, dup := columns[name]; !dup && name != "" {
			columns[name] = i
		}
	}

	var missing []string
	for _, col := range requiredSalesColumns {
		if _, ok := columns[col]; !ok {
			missing = append(missing, col)
		}
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("header is missing required columns: %s", strings.Join(missing, ", "))
	}
	return columns, nil
}

func (s *salesStream) Next() bool {
	if s.done {
		return false
	}
	for {
		fields, err := s.reader.Read()
		if err != nil {
			if errors.Is(err, io.EOF) {
				s.done = true
				return false
			}
			var csvErr *csv.ParseError
			if errors.As(err, &csvErr) {
				s.current = Result[models.PropertyRecord]{
					Skipped: skip(strconv.Itoa(csvErr.Line), ReasonUnparseableValue, "%v", csvErr.Err),
				}
				return true
			}
			s.err = &ParseError{Source: s.src.ID, Err: err}
			s.done = true
			return false
		}

		if blankRow(fields) {
			continue
		}
		line, _ := s.reader.FieldPos(0)
		rec, skipped := s.mapRow(fields, strconv.Itoa(line))
		s.current = Result[models.PropertyRecord]{Record: rec, Skipped: skipped}
		return true
	}
}

func (s *salesStream) Result() Result[models.PropertyRecord] { return s.current }

func (s *salesStream) Err() error { return s.err }

func (s *salesStream) Close() error {
	s.done = true
	return s.closer.Close()
}

func (s *salesStream) field(fields []string, col string) string {
	i, ok := s.columns[col]
	if !ok || i >= len(fields) {
		return ""
	}
	return strings.TrimSpace(fields[i])
}

func (s *salesStream) mapRow(fields []string, line string) (models.PropertyRecord, *SkippedRow) {
	var rec models.PropertyRecord

	for _, f := range fields {
		if strings.ContainsRune(f, utf8.RuneError) {
			return rec, skip(line, ReasonUnparseableValue, "row is not valid text")
		}
	}

	street := s.field(fields, colStreetName)
	if street == "" {
		return rec, skip(line, ReasonMissingField, "%s is empty", colStreetName)
	}
	locality := s.field(fields, colLocality)
	if locality == "" {
		return rec, skip(line, ReasonMissingField, "%s is empty", colLocality)
	}
	postcode := s.field(fields, colPostcode)
	if postcode == "" {
		return rec, skip(line, ReasonMissingField, "%s is empty", colPostcode)
	}
	if !validPostcode(postcode) {
		return rec, skip(line, ReasonOutOfRange, "postcode %q is not four digits", postcode)
	}

	var price *int64
	amount, err := parseAmount(s.field(fields, colPurchasePrice))
	switch {
	case errors.Is(err, errEmpty):
	case err != nil:
		return rec, skip(line, ReasonUnparseableValue, "%v", err)
	case amount <= 0:
		return rec, skip(line, ReasonOutOfRange, "purchase price %v is not positive", amount)
	case amount >= math.MaxInt64:
		return rec, skip(line, ReasonOutOfRange, "purchase price %v is too large", amount)
	default:
		v := int64(math.Round(amount))
		price = &v
	}

	saleDate, reason, err := s.saleDate(fields)
	if err != nil {
		return rec, skip(line, reason, "%v", err)
	}

	unit := s.field(fields, colUnitNumber)
	rec = models.PropertyRecord{
		Address:    models.FormatAddress(unit, s.field(fields, colHouseNumber), street),
		Suburb:     models.NormalizeKeyPart(locality),
		Region:     s.src.Region,
		Postcode:   postcode,
		Category:   inferCategory(s.field(fields, colNature), unit, s.field(fields, colStrataLot), s.field(fields, colPurpose)),
		SalePrice:  price,
		SaleDate:   saleDate,
		SourceID:   s.src.ID,
		Quality:    s.src.Tier,
		Confidence: s.src.Confidence,
	}
	if id := s.field(fields, colPropertyID); id != "" {
		rec.ExternalID = &id
	}
	return rec, nil
}

// saleDate prefers the contract date and falls back to the settlement date.
// Dates more than a day after the fetch are out of range.
func (s *salesStream) saleDate(fields []string) (*time.Time, Reason, error) {
	raw := s.field(fields, colContract)
	if raw == "" {
		raw = s.field(fields, colSettlement)
	}
	if raw == "" {
		return nil, "", nil
	}
	t, err := parseDate(raw)
	if err != nil {
		return nil, ReasonUnparseableValue, err
	}
	if t.After(s.fetchedAt.Add(24 * time.Hour)) {
		return nil, ReasonOutOfRange, fmt.Errorf("sale date %s is in the future", raw)
	}
	return &t, "", nil
}

func inferCategory(nature, unit, strataLot, purpose string) models.PropertyCategory {
	switch strings.ToUpper(nature) {
	case natureVacantLand:
		return models.CategoryVacantLand
	case natureOther:
		return models.CategoryOther
	case natureResidence:
		if unit != "" || strataLot != "" {
			return models.CategoryUnit
		}
		if c := models.NormalizeCategory(purpose); c != models.CategoryOther {
			return c
		}
		return models.CategoryHouse
	default:
		return models.NormalizeCategory(nature)
	}
}

func blankRow(fields []string) bool {
	for _, f := range fields {
		if strings.TrimSpace(f) != "" {
			return false
		}
	}
	return true
}
