package opendata

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

// csvServer serves `records` in pages the way the dataset API does, the
// header is repeated at the top of every page.
type csvServer struct {
	header  string
	records []string
	// page offset at which to fail, -1 never fails
	failAt int
	// if set, returned instead of the header for pages after the first
	otherHeader string

	calls []string
}

func newCsvServer(total int) *csvServer {
	s := &csvServer{header: "sampledate,damname,siteid", failAt: -1}
	for i := 0; i < total; i++ {
		s.records = append(s.records, fmt.Sprintf("2023-05-01,DamX,S%d", i))
	}
	return s
}

func (s *csvServer) Get(_ context.Context, link string) (string, error) {
	s.calls = append(s.calls, link)

	parsed, err := url.Parse(link)
	if err != nil {
		return "", err
	}
	query := parsed.Query()
	limit, err := strconv.Atoi(query.Get("limit"))
	if err != nil {
		return "", err
	}
	offset, err := strconv.Atoi(query.Get("offset"))
	if err != nil {
		return "", err
	}
	if offset == s.failAt {
		return "", errors.New("connection reset")
	}

	header := s.header
	if offset > 0 && s.otherHeader != "" {
		header = s.otherHeader
	}

	end := min(offset+limit, len(s.records))
	start := min(offset, end)
	lines := append([]string{header}, s.records[start:end]...)
	return strings.Join(lines, "\n") + "\n", nil
}

type staticFetcher struct {
	bodies map[string]string
	err    error
}

func (f staticFetcher) Get(_ context.Context, link string) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	body, ok := f.bodies[link]
	if !ok {
		return "", fmt.Errorf("unexpected url %s", link)
	}
	return body, nil
}
