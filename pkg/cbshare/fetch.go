package cbshare

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"golang.org/x/net/html"
)

const (
	USER_AGENT = "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/118.0 Safari/537.36"

	// The share site 302s token links through a session cookie before
	// landing on the portable page, so the redirect budget has to cover
	// a few extra hops.
	MAX_REDIRECTS = 10

	DEFAULT_CONNECT_TIMEOUT = 8 * time.Second
	DEFAULT_REQUEST_TIMEOUT = 18 * time.Second

	titleSnippetLimit = 120
)

// FetchErrorKind classifies transport-level fetch failures. HTTP error
// statuses are not failures at this layer; any status comes back in a
// FetchResult so callers can decide what an error page means to them.
type FetchErrorKind string

const (
	FetchErrorInit    FetchErrorKind = "init"
	FetchErrorTimeout FetchErrorKind = "timeout"
	FetchErrorNetwork FetchErrorKind = "network"
)

type FetchError struct {
	Kind   FetchErrorKind
	Detail string
	Err    error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch %s: %s", e.Kind, e.Detail)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// FetchResult is the outcome of one logical GET, after redirects.
type FetchResult struct {
	Body          string
	FinalURL      string
	StatusCode    int
	ContentType   string
	RedirectChain []string
	TitleSnippet  string
}

// Fetcher performs single GETs against the share site. The zero value
// is usable and applies the default timeouts.
type Fetcher struct {
	ConnectTimeout time.Duration
	RequestTimeout time.Duration
}

func (f *Fetcher) connectTimeout() time.Duration {
	if f.ConnectTimeout > 0 {
		return f.ConnectTimeout
	}
	return DEFAULT_CONNECT_TIMEOUT
}

func (f *Fetcher) requestTimeout() time.Duration {
	if f.RequestTimeout > 0 {
		return f.RequestTimeout
	}
	return DEFAULT_REQUEST_TIMEOUT
}

// Fetch issues one GET, transparently following up to MAX_REDIRECTS
// redirects. When useCookies is true a private cookie jar exists for
// the duration of this call only, so session cookies set on the first
// hop are presented on later hops; the jar is never reused.
//
// Every Location header seen along the way is recorded in the result's
// RedirectChain, including on failed fetches.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string, useCookies bool) (*FetchResult, error) {
	result := &FetchResult{FinalURL: rawURL}

	u, err := url.Parse(rawURL)
	if err != nil || !u.IsAbs() || (u.Scheme != "http" && u.Scheme != "https") {
		return result, &FetchError{
			Kind:   FetchErrorInit,
			Detail: fmt.Sprintf("not an absolute http(s) URL: %q", rawURL),
			Err:    err,
		}
	}

	client := retryablehttp.NewClient()
	client.Logger = log.New(io.Discard, "", 0)
	// Retrying on timeout/5xx is a caller-level policy, not ours.
	client.RetryMax = 0
	client.HTTPClient.Timeout = f.requestTimeout()
	client.HTTPClient.Transport = &http.Transport{
		DialContext: (&net.Dialer{
			Timeout: f.connectTimeout(),
		}).DialContext,
		TLSHandshakeTimeout: f.connectTimeout(),
	}
	client.HTTPClient.CheckRedirect = func(req *http.Request, via []*http.Request) error {
		// Record the hop before enforcing the limit, so the chain is
		// complete even when the fetch dies on it.
		location := req.URL.String()
		if req.Response != nil {
			if raw := req.Response.Header.Get("Location"); raw != "" {
				location = raw
			}
		}
		result.RedirectChain = append(result.RedirectChain, location)

		if len(via) >= MAX_REDIRECTS {
			return fmt.Errorf("stopped after %d redirects", MAX_REDIRECTS)
		}
		return nil
	}

	if useCookies {
		jar, err := cookiejar.New(nil)
		if err != nil {
			return result, &FetchError{Kind: FetchErrorInit, Detail: "cookie jar init failed", Err: err}
		}
		client.HTTPClient.Jar = jar
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return result, &FetchError{Kind: FetchErrorInit, Detail: "request init failed", Err: err}
	}
	req.Header.Set("User-Agent", USER_AGENT)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	req.Header.Set("Accept-Language", "cs-CZ,cs;q=0.9,en;q=0.8")

	resp, err := client.Do(req)
	if err != nil {
		return result, classifyTransportError(err)
	}
	defer resp.Body.Close()

	result.FinalURL = resp.Request.URL.String()
	result.StatusCode = resp.StatusCode
	result.ContentType = resp.Header.Get("Content-Type")

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return result, classifyTransportError(err)
	}
	result.Body = string(body)
	result.TitleSnippet = htmlTitle(result.Body)

	return result, nil
}

func classifyTransportError(err error) *FetchError {
	kind := FetchErrorNetwork
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		kind = FetchErrorTimeout
	}
	return &FetchError{Kind: kind, Detail: err.Error(), Err: err}
}

// htmlTitle pulls the document title for diagnostics. Best effort: a
// page without a parseable title yields "".
func htmlTitle(body string) string {
	doc, err := html.Parse(strings.NewReader(body))
	if err != nil {
		return ""
	}
	title, ok := findTitle(doc)
	if !ok {
		return ""
	}
	return truncate(normalizeText(title), titleSnippetLimit)
}

func findTitle(n *html.Node) (string, bool) {
	if n.Type == html.ElementNode && n.Data == "title" {
		if n.FirstChild != nil {
			return n.FirstChild.Data, true
		}
		return "", true
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if title, ok := findTitle(c); ok {
			return title, ok
		}
	}
	return "", false
}
