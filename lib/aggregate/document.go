package aggregate

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
)

// Entry is a single measurement of a site on a sample date.
type Entry struct {
	SampleLayer         string `json:"samplelayer"`
	SampleDepth         string `json:"sampledepth"`
	ItemName            string `json:"itemname"`
	ItemEngName         string `json:"itemengname"`
	ItemEngAbbreviation string `json:"itemengabbreviation"`
	ItemValue           string `json:"itemvalue"`
	ItemUnit            string `json:"itemunit"`
	Note                string `json:"note"`
}

// Key identifies an entry within its sample date, it is never serialized.
func (e Entry) Key() string {
	return e.SampleLayer + "|" + e.SampleDepth + "|" + e.ItemName
}

// Site holds the coordinates of a monitoring site and its measurements,
// keyed by sample date then by Entry.Key.
type Site struct {
	Lon  string
	Lat  string
	Data map[string]map[string]Entry
}

func NewSite(lon, lat string) *Site {
	return &Site{Lon: lon, Lat: lat, Data: map[string]map[string]Entry{}}
}

// Put stores entry under date, replacing an entry with the same key.
func (s *Site) Put(date string, entry Entry) {
	if s.Data == nil {
		s.Data = map[string]map[string]Entry{}
	}
	entries, ok := s.Data[date]
	if !ok {
		entries = map[string]Entry{}
		s.Data[date] = entries
	}
	entries[entry.Key()] = entry
}

type siteJson struct {
	Lon  string             `json:"twd97lon"`
	Lat  string             `json:"twd97lat"`
	Data map[string][]Entry `json:"data"`
}

// jsonText reads a string, number or boolean as its text, null as "".
type jsonText string

func (t *jsonText) UnmarshalJSON(b []byte) error {
	raw := bytes.TrimSpace(b)
	switch {
	case len(raw) == 0 || bytes.Equal(raw, []byte("null")):
		*t = ""
	case raw[0] == '"':
		var str string
		err := json.Unmarshal(raw, &str)
		if err != nil {
			return err
		}
		*t = jsonText(str)
	case raw[0] == '{' || raw[0] == '[':
		return fmt.Errorf("expected a scalar, got %s", raw)
	default:
		*t = jsonText(raw)
	}
	return nil
}

type siteJsonIn struct {
	Lon  jsonText        `json:"twd97lon"`
	Lat  jsonText        `json:"twd97lat"`
	Data json.RawMessage `json:"data"`
}

type entryJsonIn struct {
	SampleLayer         jsonText `json:"samplelayer"`
	SampleDepth         jsonText `json:"sampledepth"`
	ItemName            jsonText `json:"itemname"`
	ItemEngName         jsonText `json:"itemengname"`
	ItemEngAbbreviation jsonText `json:"itemengabbreviation"`
	ItemValue           jsonText `json:"itemvalue"`
	ItemUnit            jsonText `json:"itemunit"`
	Note                jsonText `json:"note"`
}

func (e entryJsonIn) entry() Entry {
	return Entry{
		SampleLayer:         string(e.SampleLayer),
		SampleDepth:         string(e.SampleDepth),
		ItemName:            string(e.ItemName),
		ItemEngName:         string(e.ItemEngName),
		ItemEngAbbreviation: string(e.ItemEngAbbreviation),
		ItemValue:           string(e.ItemValue),
		ItemUnit:            string(e.ItemUnit),
		Note:                string(e.Note),
	}
}

// sortedEntries flattens entries into a list ordered by key.
func sortedEntries(entries map[string]Entry) []Entry {
	keys := make([]string, 0, len(entries))
	for k := range entries {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make([]Entry, 0, len(keys))
	for _, k := range keys {
		out = append(out, entries[k])
	}
	return out
}

func (s Site) MarshalJSON() ([]byte, error) {
	out := siteJson{
		Lon:  s.Lon,
		Lat:  s.Lat,
		Data: make(map[string][]Entry, len(s.Data)),
	}
	for date, entries := range s.Data {
		out.Data[date] = sortedEntries(entries)
	}
	return json.Marshal(out)
}

func (s *Site) UnmarshalJSON(b []byte) error {
	var in siteJsonIn
	err := json.Unmarshal(b, &in)
	if err != nil {
		return err
	}

	s.Lon = string(in.Lon)
	s.Lat = string(in.Lat)
	s.Data = map[string]map[string]Entry{}

	raw := bytes.TrimSpace(in.Data)
	// an empty data set may have been written as a list
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) || bytes.Equal(raw, []byte("[]")) {
		return nil
	}

	var dates map[string][]entryJsonIn
	err = json.Unmarshal(raw, &dates)
	if err != nil {
		return err
	}
	for date, entries := range dates {
		s.Data[date] = map[string]Entry{}
		for _, e := range entries {
			s.Put(date, e.entry())
		}
	}
	return nil
}

// ErrNotDocument is returned by DecodeDocument for valid JSON that is not a
// site object.
var ErrNotDocument = errors.New("json is not a document object")

// DecodeDocument reads a persisted document site by site. Scalar fields may
// be strings or numbers, null sites are dropped. A site that still cannot be
// read fails the whole decode so the file is never replaced by a partial
// document.
func DecodeDocument(b []byte) (Document, error) {
	raw := bytes.TrimSpace(b)
	if bytes.Equal(raw, []byte("null")) || bytes.Equal(raw, []byte("[]")) {
		return Document{}, nil
	}

	var sites map[string]json.RawMessage
	err := json.Unmarshal(raw, &sites)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrNotDocument, err)
	}

	doc := make(Document, len(sites))
	for siteId, contents := range sites {
		if bytes.Equal(bytes.TrimSpace(contents), []byte("null")) {
			continue
		}
		site := &Site{}
		err := json.Unmarshal(contents, site)
		if err != nil {
			return nil, fmt.Errorf("site %q: %w", siteId, err)
		}
		doc[siteId] = site
	}
	return doc, nil
}

// Document is the persisted form of one (year, dam) pair, keyed by site id.
type Document map[string]*Site

// Merge merges other into d. New sites are inserted, existing sites take the
// coordinates of other and gain its entries key by key. Nothing in d is
// removed.
func (d Document) Merge(other Document) {
	for siteId, site := range other {
		existing, ok := d[siteId]
		if !ok {
			d[siteId] = site.clone()
			continue
		}

		existing.Lon = site.Lon
		existing.Lat = site.Lat
		for date, entries := range site.Data {
			for _, entry := range entries {
				existing.Put(date, entry)
			}
		}
	}
}

func (s *Site) clone() *Site {
	out := NewSite(s.Lon, s.Lat)
	for date, entries := range s.Data {
		out.Data[date] = make(map[string]Entry, len(entries))
		for _, entry := range entries {
			out.Put(date, entry)
		}
	}
	return out
}

// Encode renders d as indented JSON without escaping HTML characters.
func (d Document) Encode() ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "    ")
	err := enc.Encode(d)
	if err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Tree is the in-memory aggregation of rows: year -> dam name -> Document.
type Tree map[string]map[string]Document

// Site returns the site of (year, dam, siteId), creating every missing level.
func (t Tree) Site(year, dam, siteId string) *Site {
	dams, ok := t[year]
	if !ok {
		dams = map[string]Document{}
		t[year] = dams
	}
	doc, ok := dams[dam]
	if !ok {
		doc = Document{}
		dams[dam] = doc
	}
	site, ok := doc[siteId]
	if !ok {
		site = NewSite("", "")
		doc[siteId] = site
	}
	return site
}
