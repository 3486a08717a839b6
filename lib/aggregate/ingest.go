// Package aggregate reshapes water quality CSV rows into per (year, dam)
// JSON documents and merges them into previously persisted output.
package aggregate

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"reservoir-data/lib/telemetry"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var tracer = telemetry.Tracer("reservoir-data.lib.aggregate")
var meter = telemetry.Meter("reservoir-data.lib.aggregate")
var rowsIngested = telemetry.Counter(meter, "aggregate.rows_ingested", "CSV rows merged into documents")
var rowsSkipped = telemetry.Counter(meter, "aggregate.rows_skipped", "CSV rows left out of documents")

type Stats struct {
	Rows    int
	Skipped int
	// paths of the documents written
	Written []string
}

// Build reads every row of r into a Tree. Rows that are missing a required
// column or whose field count does not match the header are skipped, a
// malformed sampledate fails the whole build.
func Build(ctx context.Context, r io.Reader) (Tree, Stats, error) {
	var stats Stats

	reader, err := NewReader(r)
	if err != nil {
		return nil, stats, err
	}

	tree := Tree{}
	for {
		row, err := reader.Next()
		if err == io.EOF {
			break
		}
		var fieldErr *FieldCountError
		if errors.As(err, &fieldErr) {
			stats.Rows++
			stats.Skipped++
			slog.DebugContext(ctx, "skipping row", "reason", fieldErr.Error())
			continue
		}
		if err != nil {
			return nil, stats, fmt.Errorf("read csv: %w", err)
		}
		stats.Rows++

		reason, err := tree.Add(row)
		if err != nil {
			return nil, stats, fmt.Errorf("row %d: %w", stats.Rows, err)
		}
		if reason != "" {
			stats.Skipped++
			slog.DebugContext(ctx, "skipping row", "row", stats.Rows, "reason", string(reason))
		}
	}

	rowsIngested.Add(ctx, int64(stats.Rows-stats.Skipped))
	rowsSkipped.Add(ctx, int64(stats.Skipped))
	return tree, stats, nil
}

// Ingest aggregates the CSV in r and merges the result into store.
func Ingest(ctx context.Context, r io.Reader, store Store) (Stats, error) {
	tree, stats, err := Build(ctx, r)
	if err != nil {
		return stats, err
	}
	slog.InfoContext(ctx, "processed rows", "rows", stats.Rows, "skipped", stats.Skipped)

	stats.Written, err = store.Merge(ctx, tree)
	return stats, err
}

// IngestFile is Ingest on the CSV file at path.
func IngestFile(ctx context.Context, path string, store Store) (Stats, error) {
	ctx, span := tracer.Start(ctx, "IngestFile", trace.WithAttributes(
		attribute.String("path", path),
	))
	defer span.End()

	f, err := os.Open(path)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to open csv")
		return Stats{}, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	stats, err := Ingest(ctx, f, store)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to ingest csv")
		return stats, fmt.Errorf("ingest %s: %w", path, err)
	}
	return stats, nil
}
