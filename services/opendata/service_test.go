package opendata

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"reservoir-data/lib/aggregate"
	"reservoir-data/lib/httpclient"
	dataapi "reservoir-data/lib/opendata"

	"github.com/stretchr/testify/require"
)

const header = "sampledate,damname,siteid,twd97lon,twd97lat,samplelayer,sampledepth,itemname,itemengname,itemengabbreviation,itemvalue,itemunit,note"

var waterQuality = []string{
	"2023-05-01,石門水庫,S1,121.1,24.9,表層,0,酸鹼值,pH,pH,7.2,,",
	"2023-05-01,石門水庫,S1,121.1,24.9,表層,0,水溫,Water Temperature,WT,25.1,°C,",
	"2022-11-02,翡翠水庫,S9,121.5,24.8,表層,0,酸鹼值,pH,pH,7.6,,",
}

type distribution struct {
	Format      string `json:"resourceFormat"`
	Description string `json:"resourceDescription"`
	DownloadUrl string `json:"resourceDownloadUrl"`
}

// apiServer imitates the dataset API, csv resources are served in pages
// honouring limit and offset.
type apiServer struct {
	*httptest.Server
	distributions map[string][]distribution
	resources     map[string][]string
	requests      []string
}

func newApiServer(t *testing.T) *apiServer {
	s := &apiServer{
		distributions: map[string][]distribution{},
		resources:     map[string][]string{},
	}
	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.requests = append(s.requests, r.URL.RequestURI())

		if id, ok := strings.CutPrefix(r.URL.Path, "/dataset/"); ok {
			list, ok := s.distributions[id]
			if !ok {
				w.WriteHeader(http.StatusInternalServerError)
				return
			}
			res := map[string]any{"success": true, "result": map[string]any{}}
			if list != nil {
				res["result"] = map[string]any{"distribution": list}
			}
			err := json.NewEncoder(w).Encode(res)
			require.Nil(t, err)
			return
		}

		records, ok := s.resources[r.URL.Path]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		query := r.URL.Query()
		if !query.Has("limit") {
			fmt.Fprint(w, strings.Join(append([]string{header}, records...), "\n"))
			return
		}
		limit, _ := strconv.Atoi(query.Get("limit"))
		offset, _ := strconv.Atoi(query.Get("offset"))
		end := min(offset+limit, len(records))
		start := min(offset, end)
		fmt.Fprint(w, strings.Join(append([]string{header}, records[start:end]...), "\n")+"\n")
	}))
	t.Cleanup(s.Close)
	return s
}

func (s *apiServer) csv(path string, records []string) string {
	s.resources[path] = records
	return s.URL + path
}

func newTestService(t *testing.T, server *apiServer, opts Options) (Service, string) {
	client, err := httpclient.New(httpclient.Options{})
	require.Nil(t, err)

	dir := t.TempDir()
	opts.RawDir = filepath.Join(dir, "raw")
	opts.Store = aggregate.Store{Dir: filepath.Join(dir, "docs", "json")}
	return NewService(server.URL+"/dataset/", client, opts), dir
}

func TestFull(t *testing.T) {
	server := newApiServer(t)
	server.distributions["6345"] = []distribution{
		{Format: "JSON", Description: "JSON 格式", DownloadUrl: server.URL + "/6345.json"},
		{Format: "CSV", Description: "水質監測 csv", DownloadUrl: server.csv("/6345.csv", waterQuality)},
	}
	server.distributions["111184"] = []distribution{
		{Format: "CSV", Description: "CSV", DownloadUrl: server.csv("/111184.csv", waterQuality[:1])},
	}

	service, dir := newTestService(t, server, Options{
		Datasets:          []string{"missing", "111184", "6345"},
		AggregateDatasets: []string{"6345"},
		PageSize:          2,
	})
	results := service.Full(context.Background())

	require.Len(t, results, 3)
	require.Equal(t, "missing", results[0].DatasetId)
	require.Equal(t, -1, results[0].Index)
	require.NotNil(t, results[0].Err)
	require.Equal(t, 1, Failed(results))

	require.Equal(t, filepath.Join(dir, "raw", "111184_0.csv"), results[1].Path)
	require.Nil(t, results[1].Err)
	require.Empty(t, results[1].Stats.Written)

	require.Equal(t, filepath.Join(dir, "raw", "6345_1.csv"), results[2].Path)
	require.Nil(t, results[2].Err)
	require.Equal(t, 3, results[2].Stats.Rows)
	require.ElementsMatch(t, []string{
		filepath.Join(dir, "docs", "json", "2022", "翡翠水庫.json"),
		filepath.Join(dir, "docs", "json", "2023", "石門水庫.json"),
	}, results[2].Stats.Written)

	raw, err := os.ReadFile(results[2].Path)
	require.Nil(t, err)
	require.Equal(t, strings.Join(append([]string{header}, waterQuality...), "\n"), string(raw))

	// three records on pages of two
	require.Contains(t, server.requests, "/6345.csv?limit=2&offset=0")
	require.Contains(t, server.requests, "/6345.csv?limit=2&offset=2")
	require.NotContains(t, server.requests, "/6345.csv?limit=2&offset=4")
	require.NotContains(t, server.requests, "/6345.json")
}

func TestFullDownloadFailure(t *testing.T) {
	server := newApiServer(t)
	server.distributions["6345"] = []distribution{
		{Description: "CSV", DownloadUrl: server.URL + "/gone.csv"},
		{Description: "CSV", DownloadUrl: server.csv("/6345.csv", waterQuality)},
	}

	service, dir := newTestService(t, server, Options{
		Datasets:          []string{"6345"},
		AggregateDatasets: []string{"6345"},
		PageSize:          dataapi.DefaultPageSize,
	})
	results := service.Full(context.Background())

	require.Len(t, results, 2)
	var fetchErr *httpclient.FetchError
	require.ErrorAs(t, results[0].Err, &fetchErr)
	require.Equal(t, http.StatusNotFound, fetchErr.StatusCode)
	_, err := os.Stat(filepath.Join(dir, "raw", "6345_0.csv"))
	require.True(t, os.IsNotExist(err))

	require.Nil(t, results[1].Err)
	require.Len(t, results[1].Stats.Written, 2)
}

func TestFullNoDistribution(t *testing.T) {
	server := newApiServer(t)
	server.distributions["6345"] = nil

	service, _ := newTestService(t, server, Options{Datasets: []string{"6345"}})
	results := service.Full(context.Background())

	require.Len(t, results, 1)
	require.ErrorIs(t, results[0].Err, dataapi.ErrNoDistribution)
}

func TestFetch(t *testing.T) {
	server := newApiServer(t)
	server.distributions["6345"] = []distribution{
		{Description: "CSV", DownloadUrl: server.csv("/6345.csv", waterQuality)},
	}

	service, dir := newTestService(t, server, Options{
		Datasets:          []string{"6345"},
		AggregateDatasets: []string{"6345"},
		PageSize:          1,
	})
	results := service.Fetch(context.Background())

	require.Len(t, results, 1)
	require.Nil(t, results[0].Err)
	require.Contains(t, server.requests, "/6345.csv")
	for _, uri := range server.requests {
		require.NotContains(t, uri, "offset")
	}

	raw, err := os.ReadFile(filepath.Join(dir, "raw", "6345_0.csv"))
	require.Nil(t, err)
	require.Equal(t, strings.Join(append([]string{header}, waterQuality...), "\n"), string(raw))

	// fetch never aggregates
	_, err = os.Stat(filepath.Join(dir, "docs"))
	require.True(t, os.IsNotExist(err))
}

func TestReingest(t *testing.T) {
	server := newApiServer(t)
	service, dir := newTestService(t, server, Options{
		AggregateDatasets: []string{"6345"},
	})

	rawDir := filepath.Join(dir, "raw")
	require.Nil(t, os.MkdirAll(rawDir, 0755))
	write := func(name string, rows ...string) {
		contents := strings.Join(append([]string{header}, rows...), "\n")
		require.Nil(t, os.WriteFile(filepath.Join(rawDir, name), []byte(contents), 0644))
	}
	write("6345_10.csv", waterQuality[2])
	write("6345_2.csv", waterQuality[:2]...)
	write("6345_notes.csv", "not,a,dataset")
	write("111184_0.csv", waterQuality...)

	results := service.Reingest(context.Background())

	require.Len(t, results, 2)
	require.Equal(t, 2, results[0].Index)
	require.Equal(t, 10, results[1].Index)
	require.Zero(t, Failed(results))
	require.Empty(t, server.requests)

	_, err := os.Stat(filepath.Join(dir, "docs", "json", "2023", "石門水庫.json"))
	require.Nil(t, err)
	_, err = os.Stat(filepath.Join(dir, "docs", "json", "2022", "翡翠水庫.json"))
	require.Nil(t, err)
}
