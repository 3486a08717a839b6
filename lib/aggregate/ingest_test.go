package aggregate

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
)

const header = "sampledate,damname,siteid,twd97lon,twd97lat,samplelayer,sampledepth,itemname,itemengname,itemengabbreviation,itemvalue,itemunit,note"

func csvOf(rows ...string) string {
	return strings.Join(append([]string{header}, rows...), "\n") + "\n"
}

func ingest(t *testing.T, store Store, contents string) Stats {
	stats, err := Ingest(context.Background(), strings.NewReader(contents), store)
	require.Nil(t, err)
	return stats
}

func readFile(t *testing.T, path string) []byte {
	contents, err := os.ReadFile(path)
	require.Nil(t, err)
	return contents
}

func compact(t *testing.T, contents []byte) string {
	var buf bytes.Buffer
	err := json.Compact(&buf, contents)
	require.Nil(t, err)
	return buf.String()
}

func TestIngestSingleRow(t *testing.T) {
	store := Store{Dir: t.TempDir()}
	stats := ingest(t, store, csvOf("2023-05-01,DamX,S1,121.1,24.9,Surface,0,pH,pH,pH,7.2,,"))

	path := filepath.Join(store.Dir, "2023", "DamX.json")
	require.Equal(t, []string{path}, stats.Written)
	require.Equal(t, 1, stats.Rows)
	require.Zero(t, stats.Skipped)

	expected := `{"S1":{"twd97lon":"121.1","twd97lat":"24.9","data":{"2023-05-01":[{"samplelayer":"Surface","sampledepth":"0","itemname":"pH","itemengname":"pH","itemengabbreviation":"pH","itemvalue":"7.2","itemunit":"","note":""}]}}}`
	require.Equal(t, expected, compact(t, readFile(t, path)))
}

func TestIngestOutputFormat(t *testing.T) {
	store := Store{Dir: t.TempDir()}
	ingest(t, store, csvOf("2023-05-01,石門水庫,S1,121.1,24.9,表層,0,酸鹼值,pH,pH,<7.2,,a&b"))

	contents := string(readFile(t, filepath.Join(store.Dir, "2023", "石門水庫.json")))
	require.Contains(t, contents, "酸鹼值")
	require.Contains(t, contents, `"itemvalue": "<7.2"`)
	require.Contains(t, contents, `"note": "a&b"`)
	require.Contains(t, contents, "\n    \"S1\": {")
}

func TestIngestIdempotent(t *testing.T) {
	contents := csvOf(
		"2023-05-01,DamX,S1,121.1,24.9,Surface,0,pH,pH,pH,7.2,,",
		"2023-05-01,DamX,S1,121.1,24.9,Surface,0,DO,DO,DO,8.1,mg/L,",
		"2023-06-01,DamX,S2,121.2,24.8,Bottom,10,pH,pH,pH,6.9,,",
		"2022-12-30,DamY,S9,120.0,23.0,Surface,0,pH,pH,pH,7.0,,",
	)
	store := Store{Dir: t.TempDir()}

	ingest(t, store, contents)
	first := readFile(t, store.Path("2023", "DamX"))
	firstY := readFile(t, store.Path("2022", "DamY"))

	ingest(t, store, contents)
	require.Equal(t, first, readFile(t, store.Path("2023", "DamX")))
	require.Equal(t, firstY, readFile(t, store.Path("2022", "DamY")))
}

func TestIngestOrderIndependent(t *testing.T) {
	a := csvOf(
		"2023-05-01,DamX,S1,121.1,24.9,Surface,0,pH,pH,pH,7.2,,",
		"2023-06-01,DamX,S2,121.2,24.8,Surface,0,pH,pH,pH,7.0,,",
	)
	b := csvOf(
		"2023-05-01,DamX,S1,121.1,24.9,Surface,0,DO,DO,DO,8.1,mg/L,",
		"2023-05-01,DamX,S1,121.1,24.9,Bottom,20,pH,pH,pH,6.5,,",
		"2023-07-01,DamX,S3,121.3,24.7,Surface,0,pH,pH,pH,7.7,,",
	)

	ab := Store{Dir: t.TempDir()}
	ingest(t, ab, a)
	ingest(t, ab, b)

	ba := Store{Dir: t.TempDir()}
	ingest(t, ba, b)
	ingest(t, ba, a)

	left := readFile(t, ab.Path("2023", "DamX"))
	right := readFile(t, ba.Path("2023", "DamX"))
	if diff := cmp.Diff(string(left), string(right)); diff != "" {
		t.Fatalf("(-a then b +b then a)\n%s", diff)
	}
}

func loadDoc(t *testing.T, store Store, year, dam string) Document {
	doc, err := store.Load(context.Background(), year, dam)
	require.Nil(t, err)
	return doc
}

func TestIngestDistinctKeysKept(t *testing.T) {
	store := Store{Dir: t.TempDir()}
	ingest(t, store, csvOf(
		"2023-05-01,DamX,S1,121.1,24.9,Surface,0,pH,pH,pH,7.2,,",
		"2023-05-01,DamX,S1,121.1,24.9,Surface,5,pH,pH,pH,7.1,,",
		"2023-05-01,DamX,S1,121.1,24.9,Surface,0,DO,DO,DO,8.1,mg/L,",
	))

	doc := loadDoc(t, store, "2023", "DamX")
	require.Len(t, doc["S1"].Data["2023-05-01"], 3)
}

func TestIngestLaterRowWins(t *testing.T) {
	store := Store{Dir: t.TempDir()}
	ingest(t, store, csvOf(
		"2023-05-01,DamX,S1,121.0,24.0,Surface,0,pH,pH,pH,7.2,,",
		"2023-05-01,DamX,S1,121.1,24.9,Surface,0,pH,pH,pH,7.5,,revised",
	))

	doc := loadDoc(t, store, "2023", "DamX")
	entries := doc["S1"].Data["2023-05-01"]
	require.Len(t, entries, 1)
	require.Equal(t, "7.5", entries["Surface|0|pH"].ItemValue)
	require.Equal(t, "revised", entries["Surface|0|pH"].Note)
	require.Equal(t, "121.1", doc["S1"].Lon)
	require.Equal(t, "24.9", doc["S1"].Lat)

	// a later ingestion replaces the entry again
	ingest(t, store, csvOf("2023-05-01,DamX,S1,121.1,24.9,Surface,0,pH,pH,pH,7.9,,"))
	doc = loadDoc(t, store, "2023", "DamX")
	require.Equal(t, "7.9", doc["S1"].Data["2023-05-01"]["Surface|0|pH"].ItemValue)
}

func TestIngestMergePreservesExisting(t *testing.T) {
	store := Store{Dir: t.TempDir()}
	ingest(t, store, csvOf(
		"2023-05-01,DamX,S1,121.1,24.9,Surface,0,pH,pH,pH,7.2,,",
		"2023-05-01,DamX,S2,121.2,24.8,Surface,0,pH,pH,pH,7.0,,",
	))
	ingest(t, store, csvOf(
		"2023-05-01,DamX,S1,121.5,24.5,Surface,0,DO,DO,DO,8.1,mg/L,",
		"2023-08-01,DamX,S1,121.5,24.5,Surface,0,pH,pH,pH,7.4,,",
	))

	doc := loadDoc(t, store, "2023", "DamX")
	require.Len(t, doc, 2)
	require.Equal(t, "121.5", doc["S1"].Lon)
	require.Equal(t, "24.5", doc["S1"].Lat)
	require.Len(t, doc["S1"].Data, 2)
	require.Len(t, doc["S1"].Data["2023-05-01"], 2)
	require.Equal(t, "7.0", doc["S2"].Data["2023-05-01"]["Surface|0|pH"].ItemValue)
}

func TestIngestSkipsIncompleteRows(t *testing.T) {
	store := Store{Dir: t.TempDir()}
	stats := ingest(t, store, csvOf(
		",DamX,S1,121.1,24.9,Surface,0,pH,pH,pH,7.2,,",
		"2023-05-01,,S1,121.1,24.9,Surface,0,pH,pH,pH,7.2,,",
		"2023-05-01,DamX,S1",
		"2023-05-01,DamX,S1,121.1,24.9,Surface,0,pH,pH,pH,7.2,,",
	))
	require.Equal(t, 4, stats.Rows)
	require.Equal(t, 3, stats.Skipped)
	require.Len(t, stats.Written, 1)
}

func TestIngestBadDate(t *testing.T) {
	store := Store{Dir: t.TempDir()}
	_, err := Ingest(context.Background(), strings.NewReader(csvOf(
		"2023-05-01,DamX,S1,121.1,24.9,Surface,0,pH,pH,pH,7.2,,",
		"sometime,DamX,S1,121.1,24.9,Surface,0,pH,pH,pH,7.2,,",
	)), store)

	var dateErr *DateError
	require.True(t, errors.As(err, &dateErr))
	require.Equal(t, "sometime", dateErr.Date)

	entries, err := os.ReadDir(store.Dir)
	require.Nil(t, err)
	require.Empty(t, entries)
}

func TestIngestByteOrderMark(t *testing.T) {
	store := Store{Dir: t.TempDir()}
	stats := ingest(t, store, "\uFEFF"+csvOf("2023-05-01,DamX,S1,121.1,24.9,Surface,0,pH,pH,pH,7.2,,"))
	require.Zero(t, stats.Skipped)
	require.Len(t, stats.Written, 1)
}

func TestIngestSanitizedPath(t *testing.T) {
	store := Store{Dir: t.TempDir()}
	stats := ingest(t, store, csvOf("2024/01/15,A/B Dam,S1,121.1,24.9,Surface,0,pH,pH,pH,7.2,,"))
	require.Equal(t, []string{filepath.Join(store.Dir, "2024", "A_B_Dam.json")}, stats.Written)
}

func TestIngestInvalidExisting(t *testing.T) {
	store := Store{Dir: t.TempDir()}
	path := store.Path("2023", "DamX")
	require.Nil(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.Nil(t, os.WriteFile(path, []byte("{not json"), 0644))

	ingest(t, store, csvOf("2023-05-01,DamX,S1,121.1,24.9,Surface,0,pH,pH,pH,7.2,,"))
	doc := loadDoc(t, store, "2023", "DamX")
	require.Len(t, doc, 1)
}

func TestIngestKeepsSitesWithNumericFields(t *testing.T) {
	store := Store{Dir: t.TempDir()}
	path := store.Path("2023", "DamX")
	require.Nil(t, os.MkdirAll(filepath.Dir(path), 0755))
	existing := `{
		"OLD": {"twd97lon": 121.0, "twd97lat": 24.5, "data": {"2023-01-02": [
			{"samplelayer": "Surface", "sampledepth": 0, "itemname": "pH", "itemvalue": 7.1, "note": null}
		]}},
		"GONE": null
	}`
	require.Nil(t, os.WriteFile(path, []byte(existing), 0644))

	ingest(t, store, csvOf("2023-05-01,DamX,S1,121.1,24.9,Surface,0,pH,pH,pH,7.2,,"))

	doc := loadDoc(t, store, "2023", "DamX")
	require.Len(t, doc, 2)
	require.Equal(t, "121.0", doc["OLD"].Lon)
	require.Equal(t, "24.5", doc["OLD"].Lat)
	diff := cmp.Diff(map[string]Entry{
		"Surface|0|pH": {SampleLayer: "Surface", SampleDepth: "0", ItemName: "pH", ItemValue: "7.1"},
	}, doc["OLD"].Data["2023-01-02"])
	if diff != "" {
		t.Fatal(diff)
	}
}

func TestIngestRefusesUnreadableSite(t *testing.T) {
	store := Store{Dir: t.TempDir()}
	path := store.Path("2023", "DamX")
	require.Nil(t, os.MkdirAll(filepath.Dir(path), 0755))
	existing := `{"OLD": {"twd97lon": "121.0", "twd97lat": "24.5", "data": "broken"}}`
	require.Nil(t, os.WriteFile(path, []byte(existing), 0644))

	stats, err := Ingest(context.Background(), strings.NewReader(csvOf("2023-05-01,DamX,S1,121.1,24.9,Surface,0,pH,pH,pH,7.2,,")), store)
	require.NotNil(t, err)
	require.Empty(t, stats.Written)
	require.Equal(t, existing, string(readFile(t, path)))
}

func TestIngestNonObjectExisting(t *testing.T) {
	store := Store{Dir: t.TempDir()}
	path := store.Path("2023", "DamX")
	require.Nil(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.Nil(t, os.WriteFile(path, []byte(`"just a string"`), 0644))

	ingest(t, store, csvOf("2023-05-01,DamX,S1,121.1,24.9,Surface,0,pH,pH,pH,7.2,,"))
	require.Len(t, loadDoc(t, store, "2023", "DamX"), 1)
}

func TestIngestFileMissing(t *testing.T) {
	_, err := IngestFile(context.Background(), filepath.Join(t.TempDir(), "missing.csv"), Store{Dir: t.TempDir()})
	require.ErrorIs(t, err, os.ErrNotExist)
}

func TestIngestFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "6345_0.csv")
	require.Nil(t, os.WriteFile(path, []byte(csvOf("2023-05-01,DamX,S1,121.1,24.9,Surface,0,pH,pH,pH,7.2,,")), 0644))

	store := Store{Dir: filepath.Join(dir, "docs", "json")}
	stats, err := IngestFile(context.Background(), path, store)
	require.Nil(t, err)
	require.Equal(t, []string{store.Path("2023", "DamX")}, stats.Written)
}
