// Package reservoir scrapes the per dam map graphics of the MOENV reservoir
// water quality page. The page is an ASP.NET WebForm, every dam is selected
// through an asynchronous postback that has to carry the hidden form state of
// the previous response.
package reservoir

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"reservoir-data/lib/telemetry"

	"github.com/PuerkitoBio/goquery"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var tracer = telemetry.Tracer("reservoir-data.lib.scrapers.reservoir")

const (
	DefaultPageUrl       = "https://wq.moenv.gov.tw/EWQP/zh/EnvWaterMonitoring/Reservoir.aspx"
	DefaultDamField      = "ctl00$CPH1$ddlDam"
	DefaultScriptManager = "ctl00$ScriptMgr"
	DefaultUpdatePanel   = "ctl00$CPH1$UpdatePanel1"
	DefaultDelay         = time.Millisecond * 500
)

var ErrNoOptions = errors.New("no dam options found")

// Transport is the HTTP surface the scraper needs.
type Transport interface {
	Get(ctx context.Context, link string) (string, error)
	PostForm(ctx context.Context, link string, form url.Values, headers map[string]string) (string, error)
}

type Options struct {
	PageUrl string
	// used when the dropdown has no name attribute
	DamField      string
	ScriptManager string
	UpdatePanel   string
	// wait between two options
	Delay     time.Duration
	Extractor Extractor
}

// Handler receives the graphic of every option that had one.
type Handler func(ctx context.Context, option Option, graphic string) error

type Summary struct {
	Options int
	Saved   int
	NoData  int
	Failed  int
}

type Scraper struct {
	transport Transport
	opts      Options
	origin    string
}

func New(transport Transport, opts Options) (*Scraper, error) {
	if transport == nil {
		return nil, errors.New("transport is nil")
	}
	if opts.PageUrl == "" {
		opts.PageUrl = DefaultPageUrl
	}
	if opts.DamField == "" {
		opts.DamField = DefaultDamField
	}
	if opts.ScriptManager == "" {
		opts.ScriptManager = DefaultScriptManager
	}
	if opts.UpdatePanel == "" {
		opts.UpdatePanel = DefaultUpdatePanel
	}
	if opts.Delay < 0 {
		opts.Delay = 0
	}
	if opts.Extractor == nil {
		opts.Extractor = DefaultExtractor
	}

	page, err := url.Parse(opts.PageUrl)
	if err != nil {
		return nil, fmt.Errorf("parse page url: %w", err)
	}
	if page.Scheme == "" || page.Host == "" {
		return nil, fmt.Errorf("page url %q is not absolute", opts.PageUrl)
	}

	return &Scraper{
		transport: transport,
		opts:      opts,
		origin:    page.Scheme + "://" + page.Host,
	}, nil
}

// Init fetches the page and captures its hidden fields and dam options.
func (s *Scraper) Init(ctx context.Context) (Session, error) {
	ctx, span := tracer.Start(ctx, "Init")
	defer span.End()

	body, err := s.transport.Get(ctx, s.opts.PageUrl)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to fetch initial page")
		return Session{}, fmt.Errorf("fetch initial page: %w", err)
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(body))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to parse initial page")
		return Session{}, fmt.Errorf("parse initial page: %w", err)
	}

	session := sessionFromPage(doc, s.opts.DamField)
	if len(session.Options) == 0 {
		span.SetStatus(codes.Error, ErrNoOptions.Error())
		return Session{}, ErrNoOptions
	}
	return session, nil
}

func (s *Scraper) form(session Session, option Option) url.Values {
	form := url.Values{}
	for name, value := range session.Fields {
		form.Set(name, value)
	}
	form.Set(s.opts.ScriptManager, s.opts.UpdatePanel+"|"+session.Target)
	form.Set("__EVENTTARGET", session.Target)
	form.Set("__EVENTARGUMENT", "")
	form.Set("__LASTFOCUS", "")
	form.Set("__ASYNCPOST", "true")
	form.Set(session.Target, option.Value)
	return form
}

func (s *Scraper) headers() map[string]string {
	return map[string]string{
		"X-Requested-With": "XMLHttpRequest",
		"X-MicrosoftAjax":  "Delta=true",
		"Content-Type":     "application/x-www-form-urlencoded; charset=UTF-8",
		"Referer":          s.opts.PageUrl,
		"Origin":           s.origin,
	}
}

// Submit selects option through an asynchronous postback and returns the
// raw delta payload.
func (s *Scraper) Submit(ctx context.Context, session Session, option Option) (string, error) {
	return s.transport.PostForm(ctx, s.opts.PageUrl, s.form(session, option), s.headers())
}

func (s *Scraper) wait(ctx context.Context) error {
	if s.opts.Delay == 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(s.opts.Delay)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// scrapeOption runs one postback and returns the session to use for the next one.
func (s *Scraper) scrapeOption(ctx context.Context, session Session, option Option, handle Handler, summary *Summary) Session {
	ctx, span := tracer.Start(ctx, "scrapeOption", trace.WithAttributes(
		attribute.String("value", option.Value),
		attribute.String("label", option.Label),
	))
	defer span.End()

	payload, err := s.Submit(ctx, session, option)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "postback failed")
		slog.WarnContext(ctx, "failed to fetch data", "label", option.Label, "err", err)
		summary.Failed++
		return session
	}

	// the response carries the state for the next postback whether or not
	// this dam has a graphic
	tokens := Tokens(payload)
	if len(tokens) == 0 {
		slog.DebugContext(ctx, "response carried no session tokens", "label", option.Label)
	}
	next := session.WithTokens(tokens)

	graphic, err := s.opts.Extractor.Graphic(payload)
	switch {
	case errors.Is(err, ErrNoMapContainer):
		slog.InfoContext(ctx, "no reservoir data found", "label", option.Label)
		summary.NoData++
		return next
	case err != nil:
		slog.InfoContext(ctx, "could not extract svg", "label", option.Label, "err", err)
		summary.NoData++
		return next
	}

	err = handle(ctx, option, graphic)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to handle graphic")
		slog.WarnContext(ctx, "failed to save graphic", "label", option.Label, "err", err)
		summary.Failed++
		return next
	}
	summary.Saved++
	return next
}

// Scrape walks every non-empty dam option in order, handing each graphic
// found to handle. Only a failure of the initial page or a cancelled context
// is returned as an error, a failing option is counted and skipped.
func (s *Scraper) Scrape(ctx context.Context, handle Handler) (Summary, error) {
	ctx, span := tracer.Start(ctx, "Scrape")
	defer span.End()

	session, err := s.Init(ctx)
	if err != nil {
		return Summary{}, err
	}
	summary := Summary{Options: len(session.Options)}
	slog.InfoContext(ctx, "found dam options", "count", len(session.Options))
	slog.InfoContext(ctx, "extracted hidden form fields", "count", len(session.Fields))

	first := true
	for _, option := range session.Options {
		if option.Value == "" {
			continue
		}
		if !first {
			err := s.wait(ctx)
			if err != nil {
				return summary, err
			}
		}
		first = false

		slog.InfoContext(ctx, "processing", "label", option.Label, "value", option.Value)
		session = s.scrapeOption(ctx, session, option, handle, &summary)
	}

	return summary, nil
}
