// Package shaps saves the map graphic of every reservoir dam as a standalone
// SVG document.
package shaps

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"reservoir-data/lib/scrapers/reservoir"
	"reservoir-data/lib/telemetry"
	"reservoir-data/lib/textutil"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

var tracer = telemetry.Tracer("reservoir-data.services.shaps")
var meter = telemetry.Meter("reservoir-data.services.shaps")
var svgsWritten = telemetry.Counter(meter, "shaps.svgs_written", "dam graphics saved as SVG")

const documentPrologue = `<?xml version="1.0" encoding="utf-8"?>
<!DOCTYPE svg PUBLIC "-//W3C//DTD SVG 1.1//EN" "http://www.w3.org/Graphics/SVG/1.1/DTD/svg11.dtd">
`

// Document wraps an inline svg fragment into a standalone SVG 1.1 file.
func Document(graphic string) string {
	return documentPrologue + graphic
}

type Service struct {
	scraper *reservoir.Scraper
	dir     string
}

func NewService(scraper *reservoir.Scraper, dir string) Service {
	return Service{scraper: scraper, dir: dir}
}

// Path is the file the graphic of option is written to.
func (s Service) Path(option reservoir.Option) string {
	name := textutil.SanitizeFilename(option.Label)
	if option.Label == "" {
		name = textutil.SanitizeFilename(option.Value)
	}
	return filepath.Join(s.dir, name+".svg")
}

func (s Service) save(ctx context.Context, option reservoir.Option, graphic string) error {
	path := s.Path(option)
	err := os.WriteFile(path, []byte(Document(graphic)), 0644)
	if err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	svgsWritten.Add(ctx, 1, metric.WithAttributes(attribute.String("dam", option.Label)))
	slog.InfoContext(ctx, "saved svg", "path", path)
	return nil
}

// Run scrapes every dam and writes the graphics found into the output
// directory.
func (s Service) Run(ctx context.Context) (reservoir.Summary, error) {
	ctx, span := tracer.Start(ctx, "Run")
	defer span.End()

	err := os.MkdirAll(s.dir, 0755)
	if err != nil {
		return reservoir.Summary{}, err
	}
	summary, err := s.scraper.Scrape(ctx, s.save)
	if err != nil {
		span.RecordError(err)
		return summary, err
	}
	slog.InfoContext(
		ctx, "done",
		"options", summary.Options,
		"saved", summary.Saved,
		"no_data", summary.NoData,
		"failed", summary.Failed,
	)
	return summary, nil
}
