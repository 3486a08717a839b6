package opendata

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"strings"

	"reservoir-data/lib/textutil"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const DefaultPageSize = 1000

// Paginator downloads a CSV resource page by page using the `limit` and
// `offset` query parameters.
type Paginator struct {
	Fetcher  Fetcher
	PageSize int
}

func NewPaginator(fetcher Fetcher, pageSize int) Paginator {
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	return Paginator{Fetcher: fetcher, PageSize: pageSize}
}

// PageUrl sets `limit` and `offset` on link, keeping every other query parameter.
func PageUrl(link *url.URL, limit, offset int) string {
	page := *link
	query := page.Query()
	query.Set("limit", strconv.Itoa(limit))
	query.Set("offset", strconv.Itoa(offset))
	page.RawQuery = query.Encode()
	return page.String()
}

func sameHeader(a, b string) bool {
	return strings.TrimSpace(textutil.StripBOM(a)) == strings.TrimSpace(textutil.StripBOM(b))
}

// FetchAll downloads every page of the resource at link and returns a single
// CSV text: the header of the first page followed by the non-blank records of
// every page. Every page after the first must repeat the same header.
//
// A failure on any page fails the whole fetch. ErrNoData is returned if no
// records were found.
func (p Paginator) FetchAll(ctx context.Context, link string) (string, error) {
	ctx, span := tracer.Start(ctx, "FetchAll", trace.WithAttributes(
		attribute.String("url", link),
	))
	defer span.End()

	base, err := url.Parse(link)
	if err != nil {
		span.SetStatus(codes.Error, "invalid url")
		return "", fmt.Errorf("parse url: %w", err)
	}

	var header string
	var records []string
	for offset := 0; ; offset += p.PageSize {
		slog.InfoContext(ctx, "fetching page", "offset", offset)

		body, err := p.Fetcher.Get(ctx, PageUrl(base, p.PageSize, offset))
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "failed to fetch page")
			return "", fmt.Errorf("fetch offset %d: %w", offset, err)
		}
		pagesFetched.Add(ctx, 1)

		lines := SplitLines(body)
		if len(lines) == 0 {
			break
		}

		if offset == 0 {
			header = lines[0]
		} else if !sameHeader(header, lines[0]) {
			span.SetStatus(codes.Error, ErrHeaderMismatch.Error())
			return "", fmt.Errorf("%w: offset %d: got %q", ErrHeaderMismatch, offset, lines[0])
		}
		lines = lines[1:]

		recordCount := len(lines)
		for _, line := range lines {
			if strings.TrimSpace(line) == "" {
				continue
			}
			records = append(records, line)
		}

		slog.InfoContext(ctx, "fetched records", "offset", offset, "count", recordCount)

		if recordCount < p.PageSize {
			break
		}
	}

	if len(records) == 0 {
		return "", ErrNoData
	}
	return header + "\n" + strings.Join(records, "\n"), nil
}

// FetchOnce downloads the resource at link with a single request.
func FetchOnce(ctx context.Context, fetcher Fetcher, link string) (string, error) {
	ctx, span := tracer.Start(ctx, "FetchOnce", trace.WithAttributes(
		attribute.String("url", link),
	))
	defer span.End()

	body, err := fetcher.Get(ctx, link)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to fetch")
		return "", err
	}
	if strings.TrimSpace(body) == "" {
		return "", ErrNoData
	}
	return body, nil
}

// SplitLines splits a CSV body into its records. Newlines inside double
// quoted fields do not end a record, trailing carriage returns are dropped.
// A terminating newline does not produce an empty last record.
//
// Only a quote at the start of a field opens a quoted field, a quote in the
// middle of an unquoted field is literal. Within a quoted field `""` is an
// escaped quote.
func SplitLines(body string) []string {
	var lines []string
	inQuotes := false
	fieldStart := true
	start := 0
	for i := 0; i < len(body); i++ {
		c := body[i]
		if inQuotes {
			if c != '"' {
				continue
			}
			if i+1 < len(body) && body[i+1] == '"' {
				i++
				continue
			}
			inQuotes = false
			continue
		}

		switch c {
		case '"':
			if fieldStart {
				inQuotes = true
			}
			fieldStart = false
		case ',':
			fieldStart = true
		case '\n':
			lines = append(lines, strings.TrimSuffix(body[start:i], "\r"))
			start = i + 1
			fieldStart = true
		default:
			fieldStart = false
		}
	}
	if start < len(body) {
		lines = append(lines, strings.TrimSuffix(body[start:], "\r"))
	}
	return lines
}
