package reservoir

import (
	"maps"

	"reservoir-data/lib/htmlutil"

	"github.com/PuerkitoBio/goquery"
)

// Option is one entry of the dam dropdown.
type Option struct {
	Value string
	Label string
}

// Session is the hidden form state that has to be replayed on every postback,
// along with what the initial page offered.
type Session struct {
	Fields  map[string]string
	Options []Option
	// form field name of the dam dropdown, also the postback event target
	Target string
}

func sessionFromPage(doc *goquery.Document, fallbackTarget string) Session {
	_, fields := htmlutil.Attrs(doc.Find(`input[type="hidden"]`), "name", "value")

	dropdown := doc.Find(`select[id$="ddlDam"]`).First()
	var options []Option
	dropdown.Find("option").Each(func(_ int, s *goquery.Selection) {
		options = append(options, Option{
			Value: s.AttrOr("value", ""),
			Label: htmlutil.CleanText(s),
		})
	})

	return Session{
		Fields:  fields,
		Options: options,
		Target:  dropdown.AttrOr("name", fallbackTarget),
	}
}

// WithTokens returns a copy of s whose view state and event validation are
// replaced by those present in tokens.
func (s Session) WithTokens(tokens map[string]string) Session {
	fields := maps.Clone(s.Fields)
	if fields == nil {
		fields = map[string]string{}
	}
	for _, name := range []string{ViewStateField, EventValidationField} {
		value, ok := tokens[name]
		if !ok {
			continue
		}
		fields[name] = value
	}
	s.Fields = fields
	return s
}
