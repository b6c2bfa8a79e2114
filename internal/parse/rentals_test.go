package parse

import (
	"bytes"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"realtor/ingest/config"
	"realtor/ingest/internal/models"
)

func rentalSource() config.Source {
	return config.Source{
		ID:         "nsw_rentals",
		Kind:       config.KindRentalWorkbook,
		Region:     models.RegionNSW,
		Tier:       models.TierAggregated,
		Confidence: 1,
	}
}

// workbook builds an xlsx payload with one sheet per entry.
func workbook(t *testing.T, sheets map[string][][]any) io.ReadCloser {
	t.Helper()
	f := excelize.NewFile()
	defer f.Close()

	for name, rows := range sheets {
		_, err := f.NewSheet(name)
		require.NoError(t, err)
		for i, row := range rows {
			cellRef, err := excelize.CoordinatesToCellName(1, i+1)
			require.NoError(t, err)
			require.NoError(t, f.SetSheetRow(name, cellRef, &row))
		}
	}
	require.NoError(t, f.DeleteSheet("Sheet1"))

	buf, err := f.WriteToBuffer()
	require.NoError(t, err)
	return io.NopCloser(bytes.NewReader(buf.Bytes()))
}

func TestRentalStream_ParsesSheets(t *testing.T) {
	payload := workbook(t, map[string][][]any{
		"Dec 2024": {
			{"Rental Bond Lodgements"},
			{},
			{"Postcode", "Suburb", "Number of Bedrooms", "Median Weekly Rent", "New Bonds Lodged"},
			{2000, "Sydney", 1, 750, 120},
			{2000, "Sydney", "Bedsitter", 520, "s"},
			{},
			{2150, "Parramatta", "4 or more", "$800", 33},
			{2150, "Parramatta", 2, "s", "s"},
		},
	})

	s, err := NewRentalStream(payload, rentalSource(), fetchedAt)
	require.NoError(t, err)
	records, skipped := collect(t, s)

	require.Len(t, records, 3)
	require.Len(t, skipped, 1)
	assert.Equal(t, ReasonMissingField, skipped[0].Reason)
	assert.Equal(t, "Dec 2024!8", skipped[0].Line)

	period := time.Date(2024, 12, 1, 0, 0, 0, 0, time.UTC)
	first := records[0]
	assert.Equal(t, models.RegionNSW, first.Region)
	assert.Equal(t, "2000", first.Postcode)
	assert.Equal(t, 1, first.Bedrooms)
	assert.Equal(t, 750, first.MedianWeeklyRent)
	assert.Equal(t, period, first.Period)
	assert.Equal(t, "nsw_rentals", first.SourceID)
	require.NotNil(t, first.Suburb)
	assert.Equal(t, "SYDNEY", *first.Suburb)
	require.NotNil(t, first.SampleSize)
	assert.Equal(t, 120, *first.SampleSize)

	assert.Equal(t, 0, records[1].Bedrooms)
	assert.Nil(t, records[1].SampleSize)

	assert.Equal(t, 4, records[2].Bedrooms)
	assert.Equal(t, 800, records[2].MedianWeeklyRent)
}

func TestRentalStream_IgnoresSheetsWithoutHeader(t *testing.T) {
	payload := workbook(t, map[string][][]any{
		"Notes": {{"This workbook contains bond data"}},
		"Data": {
			{"Postcode", "Bedrooms", "Median Rent"},
			{2010, 2, 650},
		},
	})

	src := rentalSource()
	src.Period = "2024-09"
	s, err := NewRentalStream(payload, src, fetchedAt)
	require.NoError(t, err)
	records, _ := collect(t, s)

	require.Len(t, records, 1)
	assert.Equal(t, time.Date(2024, 9, 1, 0, 0, 0, 0, time.UTC), records[0].Period)
}

func TestRentalStream_FallsBackToFetchMonth(t *testing.T) {
	payload := workbook(t, map[string][][]any{
		"Data": {
			{"Postcode", "Bedrooms", "Median Rent"},
			{2010, 2, 650},
		},
	})

	s, err := NewRentalStream(payload, rentalSource(), fetchedAt)
	require.NoError(t, err)
	records, _ := collect(t, s)

	require.Len(t, records, 1)
	assert.Equal(t, time.Date(2024, 12, 1, 0, 0, 0, 0, time.UTC), records[0].Period)
}

func TestRentalStream_RejectsNonFiniteRent(t *testing.T) {
	payload := workbook(t, map[string][][]any{
		"Dec 2024": {
			{"Postcode", "Number of Bedrooms", "Median Weekly Rent"},
			{2000, 1, "NaN"},
			{2000, 2, "Inf"},
			{2000, 3, "1e12"},
			{2000, 4, 900},
		},
	})

	s, err := NewRentalStream(payload, rentalSource(), fetchedAt)
	require.NoError(t, err)
	records, skipped := collect(t, s)

	require.Len(t, records, 1)
	assert.Equal(t, 900, records[0].MedianWeeklyRent)
	require.Len(t, skipped, 3)
	assert.Equal(t, ReasonUnparseableValue, skipped[0].Reason)
	assert.Equal(t, ReasonUnparseableValue, skipped[1].Reason)
	assert.Equal(t, ReasonOutOfRange, skipped[2].Reason)
}

func TestRentalStream_NoHeaderIsParseError(t *testing.T) {
	payload := workbook(t, map[string][][]any{
		"Notes": {{"nothing here"}},
	})

	_, err := NewRentalStream(payload, rentalSource(), fetchedAt)
	require.Error(t, err)
	var pe *ParseError
	assert.True(t, errors.As(err, &pe))
}

func TestRentalStream_CorruptWorkbook(t *testing.T) {
	_, err := NewRentalStream(io.NopCloser(bytes.NewReader([]byte("not a workbook"))), rentalSource(), fetchedAt)
	require.Error(t, err)
	var pe *ParseError
	assert.True(t, errors.As(err, &pe))
}

func TestPeriodFromSheetName(t *testing.T) {
	tests := []struct {
		name string
		want time.Time
		ok   bool
	}{
		{"Dec 2024", time.Date(2024, 12, 1, 0, 0, 0, 0, time.UTC), true},
		{"December 2024", time.Date(2024, 12, 1, 0, 0, 0, 0, time.UTC), true},
		{"2024-03", time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC), true},
		{"Jun-23", time.Date(2023, 6, 1, 0, 0, 0, 0, time.UTC), true},
		{"Bonds Sep 2022", time.Date(2022, 9, 1, 0, 0, 0, 0, time.UTC), true},
		{"Data", time.Time{}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := periodFromSheetName(tt.name)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseBedrooms(t *testing.T) {
	for in, want := range map[string]int{"0": 0, "3": 3, "Bedsitter": 0, "4 or more": 4, "4+": 4} {
		got, err := parseBedrooms(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	_, err := parseBedrooms("Total")
	assert.Error(t, err)
}
