package httpclient

import (
	"context"
	"crypto/tls"
	"fmt"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"time"

	"reservoir-data/lib/restyutil"
	"reservoir-data/lib/telemetry"

	cloudflarebp "github.com/DaRealFreak/cloudflare-bp-go"
	"github.com/go-resty/resty/v2"
)

var tracer = telemetry.Tracer("reservoir-data.lib.httpclient")

const (
	DefaultTimeout = time.Second * 30

	userAgent      = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/91.0.4472.124 Safari/537.36"
	accept         = "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8"
	acceptLanguage = "zh-TW,zh;q=0.9,en-US;q=0.8,en;q=0.7"
)

// FetchError is returned for transport failures and non-2xx responses.
type FetchError struct {
	Method string
	URL    string
	// zero if no response was received
	StatusCode int
	Err        error
}

func (e *FetchError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s %s: unexpected status %d", e.Method, e.URL, e.StatusCode)
	}
	return fmt.Sprintf("%s %s: %v", e.Method, e.URL, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

type Options struct {
	// defaults to DefaultTimeout
	Timeout time.Duration
	// certificates are not verified unless set
	VerifyTLS bool
	// if set, every request/response pair is written here
	Output restyutil.InstrumentOutput
}

// Client issues single requests and returns the raw body text.
type Client struct {
	http *resty.Client
}

func New(opts Options) (*Client, error) {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	roundTripper := cloudflarebp.AddCloudFlareByPass(transport)
	if !opts.VerifyTLS {
		if transport.TLSClientConfig == nil {
			transport.TLSClientConfig = &tls.Config{}
		}
		transport.TLSClientConfig.InsecureSkipVerify = true
	}

	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, err
	}

	client := resty.New()
	client.SetTransport(roundTripper)
	client.SetCookieJar(jar)
	client.SetTimeout(timeout)
	client.SetHeaders(map[string]string{
		"User-Agent":      userAgent,
		"Accept":          accept,
		"Accept-Language": acceptLanguage,
	})

	restyutil.InstrumentClient(client, tracer, opts.Output)

	return &Client{http: client}, nil
}

func checkResponse(method, link string, res *resty.Response, err error) (string, error) {
	if err != nil {
		return "", &FetchError{Method: method, URL: link, Err: err}
	}
	if res.StatusCode() < 200 || res.StatusCode() >= 300 {
		return "", &FetchError{
			Method:     method,
			URL:        link,
			StatusCode: res.StatusCode(),
			Err:        fmt.Errorf("unexpected status %s", res.Status()),
		}
	}
	return string(res.Body()), nil
}

func (c *Client) Get(ctx context.Context, link string) (string, error) {
	res, err := c.http.R().
		SetContext(ctx).
		Get(link)
	return checkResponse(http.MethodGet, link, res, err)
}

// PostForm posts `form` url-encoded. headers given here take priority over
// the client defaults, including Content-Type.
func (c *Client) PostForm(ctx context.Context, link string, form url.Values, headers map[string]string) (string, error) {
	req := c.http.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/x-www-form-urlencoded").
		SetHeaders(headers).
		// a string body keeps an explicit Content-Type, SetFormData would
		// overwrite it.
		SetBody(form.Encode())

	res, err := req.Post(link)
	return checkResponse(http.MethodPost, link, res, err)
}
