// Package opendata runs the dataset download jobs: every CSV distribution of
// the configured datasets is downloaded into the raw directory and, for the
// datasets that are aggregated, merged into the JSON documents.
package opendata

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"sort"
	"strconv"
	"strings"

	"reservoir-data/lib/aggregate"
	dataapi "reservoir-data/lib/opendata"
	"reservoir-data/lib/telemetry"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var tracer = telemetry.Tracer("reservoir-data.services.opendata")

type Options struct {
	Datasets []string
	// datasets whose CSV is reshaped into documents after download
	AggregateDatasets []string
	RawDir            string
	Store             aggregate.Store
	PageSize          int
}

// Result is the outcome of one distribution, or of a whole dataset when its
// metadata could not be read (Index is -1 then).
type Result struct {
	DatasetId string
	Index     int
	Url       string
	Path      string
	// zero unless the distribution was aggregated
	Stats aggregate.Stats
	Err   error
}

type Service struct {
	client    dataapi.Client
	fetcher   dataapi.Fetcher
	paginator dataapi.Paginator
	opts      Options
}

func NewService(baseUrl string, fetcher dataapi.Fetcher, opts Options) Service {
	return Service{
		client:    dataapi.NewClient(baseUrl, fetcher),
		fetcher:   fetcher,
		paginator: dataapi.NewPaginator(fetcher, opts.PageSize),
		opts:      opts,
	}
}

func (s Service) aggregated(datasetId string) bool {
	return slices.Contains(s.opts.AggregateDatasets, datasetId)
}

// RawPath is where distribution `index` of `datasetId` is downloaded to.
func (s Service) RawPath(datasetId string, index int) string {
	return filepath.Join(s.opts.RawDir, fmt.Sprintf("%s_%d.csv", datasetId, index))
}

type download func(ctx context.Context, link string) (string, error)

func (s Service) run(ctx context.Context, fetch download, aggregateAfter bool) []Result {
	var results []Result
	for _, datasetId := range s.opts.Datasets {
		if ctx.Err() != nil {
			break
		}
		slog.InfoContext(ctx, "fetching dataset", "dataset", datasetId)
		results = append(results, s.runDataset(ctx, datasetId, fetch, aggregateAfter)...)
	}
	return results
}

func (s Service) runDataset(ctx context.Context, datasetId string, fetch download, aggregateAfter bool) []Result {
	ctx, span := tracer.Start(ctx, "runDataset", trace.WithAttributes(
		attribute.String("dataset_id", datasetId),
	))
	defer span.End()

	distributions, err := s.client.Distributions(ctx, datasetId)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to read dataset metadata")
		if errors.Is(err, dataapi.ErrNoDistribution) {
			slog.WarnContext(ctx, "no distribution found for dataset", "dataset", datasetId)
		} else {
			slog.WarnContext(ctx, "failed to fetch metadata for dataset", "dataset", datasetId, "err", err)
		}
		return []Result{{DatasetId: datasetId, Index: -1, Err: err}}
	}

	var results []Result
	for _, distribution := range dataapi.CSVDistributions(distributions) {
		if ctx.Err() != nil {
			break
		}
		result := s.runDistribution(ctx, datasetId, distribution, fetch, aggregateAfter && s.aggregated(datasetId))
		results = append(results, result)
	}
	return results
}

func (s Service) runDistribution(ctx context.Context, datasetId string, distribution dataapi.Distribution, fetch download, aggregateAfter bool) Result {
	ctx, span := tracer.Start(ctx, "runDistribution", trace.WithAttributes(
		attribute.String("dataset_id", datasetId),
		attribute.Int("index", distribution.Index),
	))
	defer span.End()

	result := Result{
		DatasetId: datasetId,
		Index:     distribution.Index,
		Url:       distribution.DownloadUrl,
		Path:      s.RawPath(datasetId, distribution.Index),
	}
	slog.InfoContext(ctx, "downloading csv", "url", result.Url, "format", distribution.Format)

	body, err := fetch(ctx, result.Url)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to download csv")
		slog.WarnContext(ctx, "failed to download csv", "url", result.Url, "err", err)
		result.Err = err
		return result
	}

	err = os.MkdirAll(filepath.Dir(result.Path), 0755)
	if err == nil {
		err = os.WriteFile(result.Path, []byte(body), 0644)
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to save csv")
		slog.WarnContext(ctx, "failed to save csv", "path", result.Path, "err", err)
		result.Err = err
		return result
	}
	slog.InfoContext(ctx, "saved csv", "path", result.Path)

	if !aggregateAfter {
		return result
	}

	slog.InfoContext(ctx, "processing csv data", "path", result.Path)
	result.Stats, err = aggregate.IngestFile(ctx, result.Path, s.opts.Store)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to aggregate csv")
		slog.WarnContext(ctx, "failed to aggregate csv", "path", result.Path, "err", err)
		result.Err = err
	}
	return result
}

// Full downloads every CSV distribution page by page and aggregates the
// datasets configured for it. Failures are isolated to the dataset or
// distribution they happened on.
func (s Service) Full(ctx context.Context) []Result {
	ctx, span := tracer.Start(ctx, "Full")
	defer span.End()
	return s.run(ctx, s.paginator.FetchAll, true)
}

// Fetch downloads every CSV distribution with a single request each, nothing
// is aggregated.
func (s Service) Fetch(ctx context.Context) []Result {
	ctx, span := tracer.Start(ctx, "Fetch")
	defer span.End()
	return s.run(ctx, func(ctx context.Context, link string) (string, error) {
		return dataapi.FetchOnce(ctx, s.fetcher, link)
	}, false)
}

type rawFile struct {
	path  string
	index int
}

// rawFiles lists the downloaded distributions of datasetId ordered by index.
func (s Service) rawFiles(datasetId string) ([]rawFile, error) {
	matches, err := filepath.Glob(filepath.Join(s.opts.RawDir, datasetId+"_*.csv"))
	if err != nil {
		return nil, err
	}

	var files []rawFile
	for _, path := range matches {
		name := strings.TrimSuffix(filepath.Base(path), ".csv")
		index, err := strconv.Atoi(strings.TrimPrefix(name, datasetId+"_"))
		if err != nil || index < 0 {
			continue
		}
		files = append(files, rawFile{path: path, index: index})
	}
	sort.Slice(files, func(i, j int) bool {
		return files[i].index < files[j].index
	})
	return files, nil
}

// Reingest aggregates the already downloaded CSV of every aggregated dataset
// again, without touching the network.
func (s Service) Reingest(ctx context.Context) []Result {
	ctx, span := tracer.Start(ctx, "Reingest")
	defer span.End()

	var results []Result
	for _, datasetId := range s.opts.AggregateDatasets {
		files, err := s.rawFiles(datasetId)
		if err != nil {
			slog.WarnContext(ctx, "failed to list raw files", "dataset", datasetId, "err", err)
			results = append(results, Result{DatasetId: datasetId, Index: -1, Err: err})
			continue
		}
		if len(files) == 0 {
			slog.WarnContext(ctx, "no raw files for dataset", "dataset", datasetId)
		}

		for _, file := range files {
			if ctx.Err() != nil {
				return results
			}
			slog.InfoContext(ctx, "processing csv data", "path", file.path)
			stats, err := aggregate.IngestFile(ctx, file.path, s.opts.Store)
			if err != nil {
				slog.WarnContext(ctx, "failed to aggregate csv", "path", file.path, "err", err)
			}
			results = append(results, Result{
				DatasetId: datasetId,
				Index:     file.index,
				Path:      file.path,
				Stats:     stats,
				Err:       err,
			})
		}
	}
	return results
}

// Failed counts the results that carry an error.
func Failed(results []Result) int {
	count := 0
	for _, r := range results {
		if r.Err != nil {
			count++
		}
	}
	return count
}
