// Package opendata talks to the data.gov.tw dataset REST API: dataset
// metadata lookups and paginated CSV downloads.
package opendata

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"reservoir-data/lib/telemetry"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var tracer = telemetry.Tracer("reservoir-data.lib.opendata")
var meter = telemetry.Meter("reservoir-data.lib.opendata")
var pagesFetched = telemetry.Counter(meter, "opendata.pages_fetched", "CSV pages fetched from the dataset API")

const DefaultBaseUrl = "https://data.gov.tw/api/v2/rest/dataset/"

var (
	ErrNoDistribution = errors.New("no distribution found")
	ErrNoData         = errors.New("no data")
	ErrHeaderMismatch = errors.New("page header does not match the first page")
)

// Fetcher performs a single GET and returns the body text.
type Fetcher interface {
	Get(ctx context.Context, link string) (string, error)
}

// Distribution is one downloadable resource of a dataset.
type Distribution struct {
	// position within the dataset's distribution list
	Index       int    `json:"-"`
	Format      string `json:"resourceFormat"`
	Description string `json:"resourceDescription"`
	DownloadUrl string `json:"resourceDownloadUrl"`
}

// IsCSV reports whether the distribution is described as CSV.
func (d Distribution) IsCSV() bool {
	return strings.Contains(strings.ToUpper(d.Description), "CSV")
}

type metadataResponse struct {
	Result struct {
		Title        string         `json:"title"`
		Distribution []Distribution `json:"distribution"`
	} `json:"result"`
}

type Client struct {
	BaseUrl string
	Fetcher Fetcher
}

func NewClient(baseUrl string, fetcher Fetcher) Client {
	if baseUrl == "" {
		baseUrl = DefaultBaseUrl
	}
	return Client{BaseUrl: baseUrl, Fetcher: fetcher}
}

func (c Client) metadataUrl(datasetId string) string {
	return strings.TrimSuffix(c.BaseUrl, "/") + "/" + datasetId
}

// Distributions fetches the metadata of a dataset and returns all of its
// distributions, in order.
func (c Client) Distributions(ctx context.Context, datasetId string) ([]Distribution, error) {
	ctx, span := tracer.Start(ctx, "Distributions", trace.WithAttributes(
		attribute.String("dataset_id", datasetId),
	))
	defer span.End()

	body, err := c.Fetcher.Get(ctx, c.metadataUrl(datasetId))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to fetch metadata")
		return nil, fmt.Errorf("fetch metadata: %w", err)
	}

	var res metadataResponse
	err = json.Unmarshal([]byte(body), &res)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to parse metadata")
		return nil, fmt.Errorf("parse metadata: %w", err)
	}
	if res.Result.Distribution == nil {
		span.SetStatus(codes.Error, ErrNoDistribution.Error())
		return nil, ErrNoDistribution
	}

	for i := range res.Result.Distribution {
		res.Result.Distribution[i].Index = i
	}
	slog.InfoContext(
		ctx, "found dataset",
		"dataset", datasetId,
		"title", res.Result.Title,
		"distributions", len(res.Result.Distribution),
	)
	return res.Result.Distribution, nil
}

// CSVDistributions keeps the distributions described as CSV that have a
// download url.
func CSVDistributions(distributions []Distribution) []Distribution {
	var out []Distribution
	for _, d := range distributions {
		if !d.IsCSV() || d.DownloadUrl == "" {
			continue
		}
		out = append(out, d)
	}
	return out
}
