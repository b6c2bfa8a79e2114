package parse

import (
	"errors"
	"fmt"
	"io"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"

	"realtor/ingest/config"
	"realtor/ingest/internal/models"
)

// headerScanRows bounds how far down a sheet the header row is searched for.
const headerScanRows = 15

var (
	isoPeriodPattern   = regexp.MustCompile(`\b(\d{4})-(\d{2})\b`)
	monthPeriodPattern = regexp.MustCompile(`(?i)\b(jan|feb|mar|apr|may|jun|jul|aug|sep|oct|nov|dec)[a-z]*[\s_-]*(\d{4}|\d{2})\b`)
)

// rentalHeader records where the columns of one sheet live.
type rentalHeader struct {
	row      int
	postcode int
	bedrooms int
	rent     int
	sample   int
	suburb   int
}

func matchRentalHeader(cells []string, row int) (rentalHeader, bool) {
	h := rentalHeader{row: row, postcode: -1, bedrooms: -1, rent: -1, sample: -1, suburb: -1}
	for i, cell := range cells {
		name := normalizeHeader(cell)
		switch {
		case name == "postcode" || name == "post code":
			setOnce(&h.postcode, i)
		case strings.Contains(name, "bedroom"):
			setOnce(&h.bedrooms, i)
		case strings.Contains(name, "median") && strings.Contains(name, "rent"):
			setOnce(&h.rent, i)
		case strings.Contains(name, "bonds lodged") || name == "sample size":
			setOnce(&h.sample, i)
		case name == "suburb" || name == "locality":
			setOnce(&h.suburb, i)
		}
	}
	return h, h.postcode >= 0 && h.bedrooms >= 0 && h.rent >= 0
}

func setOnce(dst *int, i int) {
	if *dst < 0 {
		*dst = i
	}
}

type rentalSheet struct {
	name   string
	period time.Time
	header rentalHeader
}

// rentalStream walks every recognised sheet of a rental bond workbook.
type rentalStream struct {
	src    config.Source
	book   *excelize.File
	sheets []rentalSheet

	sheetIdx int
	rows     *excelize.Rows
	rowNum   int

	current Result[models.RentalMedian]
	err     error
	done    bool
}

// NewRentalStream opens a rental bond workbook. Sheets without a recognisable
// header are ignored; a workbook with none is a ParseError.
func NewRentalStream(r io.ReadCloser, src config.Source, fetchedAt time.Time) (Stream[models.RentalMedian], error) {
	defer r.Close()

	book, err := excelize.OpenReader(r)
	if err != nil {
		return nil, &ParseError{Source: src.ID, Err: fmt.Errorf("failed to open workbook: %w", err)}
	}

	fallback, err := fallbackPeriod(src, fetchedAt)
	if err != nil {
		book.Close()
		return nil, &ParseError{Source: src.ID, Err: err}
	}

	var sheets []rentalSheet
	for _, name := range book.GetSheetList() {
		header, ok, err := findRentalHeader(book, name)
		if err != nil {
			book.Close()
			return nil, &ParseError{Source: src.ID, Err: fmt.Errorf("sheet %s: %w", name, err)}
		}
		if !ok {
			continue
		}
		period, ok := periodFromSheetName(name)
		if !ok {
			period = fallback
		}
		sheets = append(sheets, rentalSheet{name: name, period: period, header: header})
	}

	if len(sheets) == 0 {
		book.Close()
		return nil, &ParseError{Source: src.ID, Err: errors.New("no sheet has a postcode, bedrooms and median rent header")}
	}

	return &rentalStream{src: src, book: book, sheets: sheets}, nil
}

func findRentalHeader(book *excelize.File, sheet string) (rentalHeader, bool, error) {
	rows, err := book.Rows(sheet)
	if err != nil {
		return rentalHeader{}, false, err
	}
	defer rows.Close()

	for n := 1; n <= headerScanRows && rows.Next(); n++ {
		cells, err := rows.Columns()
		if err != nil {
			return rentalHeader{}, false, err
		}
		if h, ok := matchRentalHeader(cells, n); ok {
			return h, true, nil
		}
	}
	return rentalHeader{}, false, rows.Error()
}

// periodFromSheetName extracts a reporting month from names such as
// "Dec 2024", "December 2024", "2024-12" or "Dec-24".
func periodFromSheetName(name string) (time.Time, bool) {
	if m := isoPeriodPattern.FindStringSubmatch(name); m != nil {
		if t, err := time.Parse("2006-01", m[1]+"-"+m[2]); err == nil {
			return t, true
		}
	}
	if m := monthPeriodPattern.FindStringSubmatch(name); m != nil {
		year := m[2]
		if len(year) == 2 {
			year = "20" + year
		}
		month := strings.ToUpper(m[1][:1]) + strings.ToLower(m[1][1:3])
		if t, err := time.Parse("Jan 2006", month+" "+year); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

func fallbackPeriod(src config.Source, fetchedAt time.Time) (time.Time, error) {
	if src.Period != "" {
		t, err := time.Parse("2006-01", src.Period)
		if err != nil {
			return time.Time{}, fmt.Errorf("invalid period %q: %w", src.Period, err)
		}
		return t, nil
	}
	f := fetchedAt.UTC()
	return time.Date(f.Year(), f.Month(), 1, 0, 0, 0, 0, time.UTC), nil
}

func (s *rentalStream) Next() bool {
	for !s.done {
		if s.rows == nil {
			if s.sheetIdx >= len(s.sheets) {
				s.done = true
				return false
			}
			if err := s.openSheet(); err != nil {
				s.fail(err)
				return false
			}
		}

		if !s.rows.Next() {
			err := s.rows.Error()
			s.rows.Close()
			s.rows = nil
			s.sheetIdx++
			if err != nil {
				s.fail(err)
				return false
			}
			continue
		}
		s.rowNum++

		cells, err := s.rows.Columns()
		if err != nil {
			s.fail(err)
			return false
		}
		if blankRow(cells) {
			continue
		}

		sheet := s.sheets[s.sheetIdx]
		line := fmt.Sprintf("%s!%d", sheet.name, s.rowNum)
		rec, skipped := s.mapRow(sheet, cells, line)
		s.current = Result[models.RentalMedian]{Record: rec, Skipped: skipped}
		return true
	}
	return false
}

// openSheet positions the row iterator just past the sheet's header row.
func (s *rentalStream) openSheet() error {
	sheet := s.sheets[s.sheetIdx]
	rows, err := s.book.Rows(sheet.name)
	if err != nil {
		return fmt.Errorf("sheet %s: %w", sheet.name, err)
	}
	for n := 0; n < sheet.header.row; n++ {
		if !rows.Next() {
			rows.Close()
			return fmt.Errorf("sheet %s: header row vanished", sheet.name)
		}
	}
	s.rows = rows
	s.rowNum = sheet.header.row
	return nil
}

func (s *rentalStream) fail(err error) {
	s.err = &ParseError{Source: s.src.ID, Err: err}
	s.done = true
}

func (s *rentalStream) Result() Result[models.RentalMedian] { return s.current }

func (s *rentalStream) Err() error { return s.err }

func (s *rentalStream) Close() error {
	s.done = true
	if s.rows != nil {
		s.rows.Close()
		s.rows = nil
	}
	return s.book.Close()
}

func cell(cells []string, i int) string {
	if i < 0 || i >= len(cells) {
		return ""
	}
	return strings.TrimSpace(cells[i])
}

func (s *rentalStream) mapRow(sheet rentalSheet, cells []string, line string) (models.RentalMedian, *SkippedRow) {
	var rec models.RentalMedian
	h := sheet.header

	postcode := cell(cells, h.postcode)
	if postcode == "" {
		return rec, skip(line, ReasonMissingField, "postcode is empty")
	}
	if !validPostcode(postcode) {
		return rec, skip(line, ReasonOutOfRange, "postcode %q is not four digits", postcode)
	}

	rawBedrooms := cell(cells, h.bedrooms)
	if rawBedrooms == "" {
		return rec, skip(line, ReasonMissingField, "bedrooms is empty")
	}
	bedrooms, err := parseBedrooms(rawBedrooms)
	if err != nil {
		return rec, skip(line, ReasonUnparseableValue, "%v", err)
	}

	rawRent := cell(cells, h.rent)
	if suppressed(rawRent) {
		return rec, skip(line, ReasonMissingField, "median rent is suppressed")
	}
	rent, err := parseAmount(rawRent)
	if err != nil {
		return rec, skip(line, ReasonUnparseableValue, "%v", err)
	}
	if rent <= 0 {
		return rec, skip(line, ReasonOutOfRange, "median rent %v is not positive", rent)
	}
	if rent >= math.MaxInt32 {
		return rec, skip(line, ReasonOutOfRange, "median rent %v is too large", rent)
	}

	rec = models.RentalMedian{
		Region:           s.src.Region,
		Postcode:         postcode,
		Bedrooms:         bedrooms,
		Period:           sheet.period,
		SourceID:         s.src.ID,
		MedianWeeklyRent: int(math.Round(rent)),
	}
	if suburb := cell(cells, h.suburb); suburb != "" {
		normalized := models.NormalizeKeyPart(suburb)
		rec.Suburb = &normalized
	}
	if raw := cell(cells, h.sample); !suppressed(raw) {
		if n, err := strconv.Atoi(strings.ReplaceAll(raw, ",", "")); err == nil && n >= 0 {
			rec.SampleSize = &n
		}
	}
	return rec, nil
}

// parseBedrooms reads bedroom counts as published in bond data: digits,
// "Bedsitter" for studios and "4 or more"/"4+" for the open top bucket.
func parseBedrooms(s string) (int, error) {
	lower := strings.ToLower(strings.TrimSpace(s))
	if strings.HasPrefix(lower, "bedsit") {
		return 0, nil
	}
	lower = strings.TrimSuffix(lower, " or more")
	lower = strings.TrimSuffix(lower, "+")
	lower = strings.TrimSuffix(lower, ".0")
	n, err := strconv.Atoi(strings.TrimSpace(lower))
	if err != nil || n < 0 {
		return 0, fmt.Errorf("invalid bedrooms %q", s)
	}
	return n, nil
}

// suppressed reports the markers bond data uses for withheld values.
func suppressed(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "s", "-", "n/a", "na":
		return true
	}
	return false
}
