package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"
	"time"

	"realtor/ingest/internal/models"
)

var ErrUnknownSource = errors.New("unknown source")

// SourceKind selects the parser and writer path for a source.
type SourceKind string

const (
	KindSalesCSV       SourceKind = "sales_csv"
	KindRentalWorkbook SourceKind = "rental_workbook"
)

// Source describes one named feed.
type Source struct {
	ID   string     `json:"id"`
	Kind SourceKind `json:"kind"`
	URL  string     `json:"url"`

	// Glob selecting the single archive member to extract. Empty means the
	// download is the payload itself.
	ArchiveMember string `json:"archive_member,omitempty"`

	Region     models.Region      `json:"region"`
	Tier       models.QualityTier `json:"tier"`
	Confidence float64            `json:"confidence"`

	// Field delimiter for delimited feeds, "," when empty
	Delimiter string `json:"delimiter,omitempty"`

	// Reporting period (YYYY-MM) for workbook sheets whose name carries none
	Period string `json:"period,omitempty"`

	Timeout    time.Duration `json:"-"`
	MaxRetries int           `json:"max_retries"`
	RetryDelay time.Duration `json:"-"`
	Enabled    bool          `json:"enabled"`
}

// sourceFile is the JSON shape of SOURCES_FILE entries. Durations are given
// in seconds and pointer fields distinguish "unset" from zero.
type sourceFile struct {
	ID             string             `json:"id"`
	Kind           SourceKind         `json:"kind"`
	URL            string             `json:"url"`
	ArchiveMember  *string            `json:"archive_member"`
	Region         models.Region      `json:"region"`
	Tier           models.QualityTier `json:"tier"`
	Confidence     *float64           `json:"confidence"`
	Delimiter      string             `json:"delimiter"`
	Period         string             `json:"period"`
	TimeoutSeconds int                `json:"timeout_seconds"`
	MaxRetries     *int               `json:"max_retries"`
	Enabled        *bool              `json:"enabled"`
}

// Validate checks that the descriptor can drive a pipeline.
func (s Source) Validate() error {
	if s.ID == "" {
		return errors.New("source id is required")
	}
	if s.Kind != KindSalesCSV && s.Kind != KindRentalWorkbook {
		return fmt.Errorf("source %s: unsupported kind %q", s.ID, s.Kind)
	}
	if s.URL == "" {
		return fmt.Errorf("source %s: url is required", s.ID)
	}
	if !s.Region.IsValid() {
		return fmt.Errorf("source %s: invalid region %q", s.ID, s.Region)
	}
	if !s.Tier.IsValid() {
		return fmt.Errorf("source %s: invalid quality tier %q", s.ID, s.Tier)
	}
	if s.Confidence < 0 || s.Confidence > 1 {
		return fmt.Errorf("source %s: confidence %v outside [0,1]", s.ID, s.Confidence)
	}
	if s.Period != "" {
		if _, err := time.Parse("2006-01", s.Period); err != nil {
			return fmt.Errorf("source %s: period %q is not YYYY-MM", s.ID, s.Period)
		}
	}
	return nil
}

// Catalog is the set of configured sources keyed by ID.
type Catalog struct {
	sources map[string]Source
}

// Get returns the source with the given ID.
func (c Catalog) Get(id string) (Source, bool) {
	s, ok := c.sources[id]
	return s, ok
}

// All returns every source sorted by ID.
func (c Catalog) All() []Source {
	out := make([]Source, 0, len(c.sources))
	for _, s := range c.sources {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Select resolves the requested IDs. With no IDs every enabled source is
// returned. Duplicate IDs are collapsed.
func (c Catalog) Select(ids []string) ([]Source, error) {
	if len(ids) == 0 {
		var enabled []Source
		for _, s := range c.All() {
			if s.Enabled {
				enabled = append(enabled, s)
			}
		}
		return enabled, nil
	}

	seen := make(map[string]bool, len(ids))
	selected := make([]Source, 0, len(ids))
	for _, id := range ids {
		if seen[id] {
			continue
		}
		seen[id] = true
		s, ok := c.sources[id]
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnknownSource, id)
		}
		selected = append(selected, s)
	}
	return selected, nil
}

// BuiltinSources returns the sources known without a catalog file.
func (c *Config) BuiltinSources() []Source {
	return []Source{
		{
			ID:            "nsw_sales",
			Kind:          KindSalesCSV,
			URL:           c.Sources.NSWSalesURL,
			ArchiveMember: c.Sources.NSWSalesMember,
			Region:        models.RegionNSW,
			Tier:          models.TierIndividual,
			Confidence:    models.DefaultConfidence,
			Timeout:       c.Fetch.Timeout,
			MaxRetries:    c.Fetch.MaxRetries,
			RetryDelay:    c.Fetch.RetryDelay,
			Enabled:       true,
		},
		{
			ID:         "nsw_rentals",
			Kind:       KindRentalWorkbook,
			URL:        c.Sources.NSWRentalsURL,
			Region:     models.RegionNSW,
			Tier:       models.TierAggregated,
			Confidence: models.DefaultConfidence,
			Period:     c.Sources.NSWRentalsPeriod,
			Timeout:    c.Fetch.Timeout,
			MaxRetries: c.Fetch.MaxRetries,
			RetryDelay: c.Fetch.RetryDelay,
			Enabled:    true,
		},
	}
}

// SourceCatalog builds the catalog from the built-in sources and, when
// configured, the sources file.
func (c *Config) SourceCatalog() (Catalog, error) {
	catalog := Catalog{sources: make(map[string]Source)}
	for _, s := range c.BuiltinSources() {
		catalog.sources[s.ID] = s
	}

	if c.Sources.File != "" {
		entries, err := loadSourceFile(c.Sources.File)
		if err != nil {
			return Catalog{}, err
		}
		for _, entry := range entries {
			base, ok := catalog.sources[entry.ID]
			if !ok {
				base = Source{
					Confidence: models.DefaultConfidence,
					Timeout:    c.Fetch.Timeout,
					MaxRetries: c.Fetch.MaxRetries,
					RetryDelay: c.Fetch.RetryDelay,
					Enabled:    true,
				}
			}
			catalog.sources[entry.ID] = entry.merge(base)
		}
	}

	for _, s := range catalog.sources {
		if err := s.Validate(); err != nil {
			return Catalog{}, err
		}
	}
	return catalog, nil
}

func (e sourceFile) merge(base Source) Source {
	s := base
	s.ID = e.ID
	if e.Kind != "" {
		s.Kind = e.Kind
	}
	if e.URL != "" {
		s.URL = e.URL
	}
	if e.ArchiveMember != nil {
		s.ArchiveMember = *e.ArchiveMember
	}
	if e.Region != "" {
		s.Region = e.Region
	}
	if e.Tier != "" {
		s.Tier = e.Tier
	}
	if e.Confidence != nil {
		s.Confidence = *e.Confidence
	}
	if e.Delimiter != "" {
		s.Delimiter = e.Delimiter
	}
	if e.Period != "" {
		s.Period = e.Period
	}
	if e.TimeoutSeconds > 0 {
		s.Timeout = time.Duration(e.TimeoutSeconds) * time.Second
	}
	if e.MaxRetries != nil {
		s.MaxRetries = *e.MaxRetries
	}
	if e.Enabled != nil {
		s.Enabled = *e.Enabled
	}
	return s
}

func loadSourceFile(path string) ([]sourceFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read sources file: %w", err)
	}

	var entries []sourceFile
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("failed to parse sources file: %w", err)
	}
	for i, entry := range entries {
		if entry.ID == "" {
			return nil, fmt.Errorf("sources file entry %d has no id", i)
		}
	}
	return entries, nil
}
