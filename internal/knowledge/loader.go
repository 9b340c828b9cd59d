package knowledge

import (
	"context"
	"net/url"
	"path"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/panel-quote/internal/fetcher"
	"github.com/sells-group/panel-quote/internal/model"
)

// Format is the encoding of a knowledge document.
type Format string

// Document formats.
const (
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
	FormatXLSX Format = "xlsx"
	FormatCSV  Format = "csv"
)

// maxConcurrentLoads bounds the sources fetched at once.
const maxConcurrentLoads = 4

// SourceSpec configures one knowledge source.
type SourceSpec struct {
	Name     string           `yaml:"name" mapstructure:"name"`
	Level    int              `yaml:"level" mapstructure:"level"`
	Kind     model.SourceKind `yaml:"kind" mapstructure:"kind"`
	Location string           `yaml:"location" mapstructure:"location"`
	Format   Format           `yaml:"format" mapstructure:"format"`
}

// DetectFormat returns the explicit format, or one derived from the
// location's extension.
func (s SourceSpec) DetectFormat() (Format, error) {
	if s.Format != "" {
		switch f := Format(strings.ToLower(string(s.Format))); f {
		case FormatJSON, FormatYAML, FormatXLSX, FormatCSV:
			return f, nil
		case "yml":
			return FormatYAML, nil
		default:
			return "", eris.Errorf("knowledge: source %s: unknown format %q", s.Name, s.Format)
		}
	}

	p := s.Location
	if u, err := url.Parse(s.Location); err == nil && u.Path != "" {
		p = u.Path
	}
	switch strings.ToLower(path.Ext(p)) {
	case ".json":
		return FormatJSON, nil
	case ".yaml", ".yml":
		return FormatYAML, nil
	case ".xlsx":
		return FormatXLSX, nil
	case ".csv":
		return FormatCSV, nil
	default:
		return "", eris.Errorf("knowledge: source %s: cannot detect format of %s", s.Name, s.Location)
	}
}

// ValidateSpecs checks that source names are unique and levels positive.
func ValidateSpecs(specs []SourceSpec) error {
	if len(specs) == 0 {
		return eris.New("knowledge: no sources configured")
	}
	names := make(map[string]bool, len(specs))
	for _, s := range specs {
		if s.Name == "" {
			return eris.Errorf("knowledge: source at %s has no name", s.Location)
		}
		if names[s.Name] {
			return eris.Errorf("knowledge: duplicate source name %s", s.Name)
		}
		names[s.Name] = true
		if s.Level < 1 {
			return eris.Errorf("knowledge: source %s: level must be >= 1, got %d", s.Name, s.Level)
		}
		switch s.Kind {
		case "", model.SourceMatrix, model.SourceCatalog, model.SourceValidatedSnapshot, model.SourceWebSnapshot:
		default:
			return eris.Errorf("knowledge: source %s: unknown kind %q", s.Name, s.Kind)
		}
		if s.Location == "" {
			return eris.Errorf("knowledge: source %s: location is required", s.Name)
		}
		if _, err := s.DetectFormat(); err != nil {
			return err
		}
	}
	return nil
}

// Loader reads configured sources into snapshots.
type Loader struct {
	opener *fetcher.Opener
	strict bool
	tmpDir string
}

// NewLoader creates a Loader. With strict set, a snapshot whose BOM rules
// reference unknown SKUs or families is rejected.
func NewLoader(opener *fetcher.Opener, strict bool) *Loader {
	return &Loader{opener: opener, strict: strict}
}

// WithTempDir sets where remote workbooks are downloaded.
func (l *Loader) WithTempDir(dir string) *Loader {
	l.tmpDir = dir
	return l
}

// Load reads every source concurrently and returns a snapshot. Any failing
// source fails the whole load.
func (l *Loader) Load(ctx context.Context, specs []SourceSpec) (*Snapshot, error) {
	if err := ValidateSpecs(specs); err != nil {
		return nil, err
	}

	sources := make([]*model.KnowledgeSource, len(specs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrentLoads)

	for i, spec := range specs {
		g.Go(func() error {
			src, err := l.LoadSource(gctx, spec)
			if err != nil {
				return err
			}
			sources[i] = src
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	snap := NewSnapshot(sources...)
	if l.strict {
		if err := CheckReferences(snap); err != nil {
			return nil, err
		}
	}

	zap.L().Info("knowledge: snapshot loaded",
		zap.String("version", snap.Version()),
		zap.Int("sources", len(sources)),
	)
	return snap, nil
}

// LoadSource reads and validates one source.
func (l *Loader) LoadSource(ctx context.Context, spec SourceSpec) (*model.KnowledgeSource, error) {
	format, err := spec.DetectFormat()
	if err != nil {
		return nil, err
	}

	log := zap.L().With(
		zap.String("source", spec.Name),
		zap.Int("level", spec.Level),
		zap.String("format", string(format)),
	)
	log.Debug("knowledge: loading source", zap.String("location", spec.Location))

	doc, err := l.readDocument(ctx, spec.Location, format)
	if err != nil {
		return nil, eris.Wrapf(err, "knowledge: load source %s", spec.Name)
	}
	if err := doc.Validate(); err != nil {
		return nil, eris.Wrapf(err, "knowledge: source %s", spec.Name)
	}

	src := doc.ToSource(spec.Name, spec.Level, spec.Kind)
	products, accessories, rules := src.Counts()
	log.Info("knowledge: source loaded",
		zap.Int("products", products),
		zap.Int("accessories", accessories),
		zap.Int("bom_rules", rules),
	)
	return src, nil
}

func (l *Loader) readDocument(ctx context.Context, location string, format Format) (*Document, error) {
	if format == FormatXLSX {
		return l.readWorkbook(ctx, location)
	}

	rc, err := l.opener.Open(ctx, location)
	if err != nil {
		return nil, err
	}
	defer rc.Close() //nolint:errcheck

	switch format {
	case FormatJSON:
		return fetcher.DecodeJSONObject[Document](rc)
	case FormatYAML:
		return fetcher.DecodeYAMLObject[Document](rc)
	case FormatCSV:
		rows, err := fetcher.ReadCSV(rc, fetcher.CSVOptions{TrimSpace: true, Comment: '#'})
		if err != nil {
			return nil, err
		}
		return documentFromCSV(rows)
	default:
		return nil, eris.Errorf("knowledge: unsupported format %q", format)
	}
}

// readWorkbook reads the variants and accessories sheets. A workbook with
// neither is read as a single table from its first sheet.
func (l *Loader) readWorkbook(ctx context.Context, location string) (*Document, error) {
	local, cleanup, err := l.opener.LocalFile(ctx, location, l.tmpDir)
	if err != nil {
		return nil, err
	}
	defer cleanup()

	sheets, err := fetcher.ReadXLSXSheets(local, SheetVariants, SheetAccessories)
	if err != nil {
		return nil, err
	}
	if len(sheets) > 0 {
		return documentFromSheets(sheets)
	}

	rows, err := fetcher.ReadXLSX(local, fetcher.XLSXOptions{})
	if err != nil {
		return nil, err
	}
	return documentFromCSV(rows)
}
