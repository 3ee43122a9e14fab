package cbshare

import (
	"context"
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/Podly27/CB-soutez-4RO/internal/utils"
)

const (
	// SourceTag identifies the share site in audit bundles.
	SourceTag = "cbpmr.info"

	defaultPortableBase = "https://www.cbpmr.info"
	errorPathPrefix     = "/share/error"
	fallbackDisplayName = "CBPMR share"
)

// FailureKind is the caller-visible classification of an import
// failure. The caller maps kinds to localized messages; internals
// (redirect chains, snippets) only ever go to the failure log.
type FailureKind string

const (
	FailureFetch        FailureKind = "fetch_failed"
	FailureErrorPage    FailureKind = "remote_error_page"
	FailureUnresolvable FailureKind = "unresolvable_share_reference"
	FailureNoRows       FailureKind = "no_data_rows"
	FailureLocator      FailureKind = "invalid_locator"
	FailureCount        FailureKind = "invalid_count"
)

// ImportError is the only error type Resolve returns.
type ImportError struct {
	Kind   FailureKind
	Detail string
}

func (e *ImportError) Error() string {
	return fmt.Sprintf("share import failed (%s): %s", e.Kind, e.Detail)
}

// ImportAudit is the opaque metadata bundle stored alongside an
// accepted submission.
type ImportAudit struct {
	Source      string    `json:"source"`
	OriginalURL string    `json:"original_url"`
	FinalURL    string    `json:"final_url"`
	PortableID  string    `json:"portable_id,omitempty"`
	TotalKM     *int      `json:"total_km,omitempty"`
	Entries     []Entry   `json:"entries"`
	EntryCount  int       `json:"entry_count"`
	FetchedAt   time.Time `json:"fetched_at"`
}

// ImportResult is the normalized output handed to the submission
// workflow. It is built once per attempt and never mutated afterwards.
type ImportResult struct {
	CallSign   string      `json:"call_sign"`
	QTHName    string      `json:"qth_name"`
	QTHLocator string      `json:"qth_locator"`
	QSOCount   int         `json:"qso_count"`
	Audit      ImportAudit `json:"audit"`
}

// Resolver drives one share import: fetch, classify, optionally
// re-fetch the canonical portable URL, parse, validate, normalize.
// Each Resolve call owns all of its state; concurrent imports need no
// coordination.
type Resolver struct {
	Fetcher *Fetcher
	Faillog *FailureLog

	// PortableBase overrides the canonical portable URL origin.
	// Tests point it at a local server; production leaves it empty.
	PortableBase string
}

func NewResolver(fetcher *Fetcher, faillog *FailureLog) *Resolver {
	return &Resolver{Fetcher: fetcher, Faillog: faillog}
}

var (
	portablePathRe = regexp.MustCompile(`/share/portable/(\d+)`)
	sharePathIDRe  = regexp.MustCompile(`/share/[^/]+/(\d+)`)
	bodyParamIDRe  = regexp.MustCompile(`[?&;]id=(\d+)`)
)

// Resolve takes a user-supplied share URL and produces either a
// normalized import or an *ImportError. Host allow-listing is the
// caller's job; by the time a URL gets here it is trusted to point at
// the share site.
func (r *Resolver) Resolve(ctx context.Context, rawURL string) (*ImportResult, error) {
	originalURL := normalizeScheme(strings.TrimSpace(rawURL))

	res, err := r.Fetcher.Fetch(ctx, originalURL, true)
	if err != nil {
		return nil, r.fail(FailureFetch, err.Error(), FailureRecord{
			OriginalURL:   originalURL,
			FinalURL:      res.FinalURL,
			HTTPStatus:    res.StatusCode,
			RedirectChain: res.RedirectChain,
		})
	}

	finalURL, err := url.Parse(res.FinalURL)
	if err != nil {
		return nil, r.fail(FailureUnresolvable, "unparseable final URL: "+res.FinalURL, FailureRecord{
			OriginalURL:   originalURL,
			FinalURL:      res.FinalURL,
			HTTPStatus:    res.StatusCode,
			RedirectChain: res.RedirectChain,
			Title:         res.TitleSnippet,
		})
	}

	if strings.HasPrefix(finalURL.Path, errorPathPrefix) {
		return nil, r.fail(FailureErrorPage, "share link landed on the remote error page", FailureRecord{
			OriginalURL:   originalURL,
			FinalURL:      res.FinalURL,
			HTTPStatus:    res.StatusCode,
			RedirectChain: res.RedirectChain,
			Title:         res.TitleSnippet,
			BodySnippet:   res.Body,
		})
	}

	portableID := portableIDFromPath(finalURL.Path)
	if portableID == "" {
		portableID = resolvePortableID(finalURL, res.Body)
		if portableID == "" {
			return nil, r.fail(FailureUnresolvable, "no portable id derivable from URL or body", FailureRecord{
				OriginalURL:   originalURL,
				FinalURL:      res.FinalURL,
				HTTPStatus:    res.StatusCode,
				RedirectChain: res.RedirectChain,
				Title:         res.TitleSnippet,
				BodySnippet:   res.Body,
			})
		}

		utils.Log.WithFields(map[string]interface{}{
			"portable_id": portableID,
			"final_url":   res.FinalURL,
		}).Debug("share link required portable resolution")

		portableURL := r.portableURL(portableID)
		res, err = r.Fetcher.Fetch(ctx, portableURL, true)
		if err != nil {
			return nil, r.fail(FailureFetch, err.Error(), FailureRecord{
				OriginalURL:   originalURL,
				FinalURL:      portableURL,
				HTTPStatus:    res.StatusCode,
				PortableID:    portableID,
				RedirectChain: res.RedirectChain,
			})
		}
	}

	payload := ParsePortable(res.Body)

	diag := FailureRecord{
		OriginalURL:   originalURL,
		FinalURL:      res.FinalURL,
		HTTPStatus:    res.StatusCode,
		PortableID:    portableID,
		RedirectChain: res.RedirectChain,
		Title:         res.TitleSnippet,
		RowsFound:     payload.FoundRows,
		BodySnippet:   res.Body,
	}

	if !payload.HasTable || len(payload.Entries) == 0 {
		return nil, r.fail(FailureNoRows, "no contact table rows on the portable page", diag)
	}

	locator := NormalizeLocator(payload.MyLocator)
	if utf8.RuneCountInString(locator) != 6 {
		return nil, r.fail(FailureLocator, fmt.Sprintf("locator %q is not 6 characters", locator), diag)
	}

	count := effectiveCount(payload)
	if count <= 0 {
		return nil, r.fail(FailureCount, "no positive contact count derivable", diag)
	}

	return &ImportResult{
		CallSign:   displayName(payload.ExpName, payload.Place),
		QTHName:    displayName(payload.Place, payload.ExpName),
		QTHLocator: locator,
		QSOCount:   count,
		Audit: ImportAudit{
			Source:      SourceTag,
			OriginalURL: originalURL,
			FinalURL:    res.FinalURL,
			PortableID:  portableID,
			TotalKM:     payload.TotalKM,
			Entries:     payload.Entries,
			EntryCount:  len(payload.Entries),
			FetchedAt:   time.Now().UTC(),
		},
	}, nil
}

func (r *Resolver) fail(kind FailureKind, detail string, record FailureRecord) *ImportError {
	record.Kind = string(kind)
	record.Detail = detail
	r.Faillog.Record(record)
	return &ImportError{Kind: kind, Detail: detail}
}

func (r *Resolver) portableURL(id string) string {
	base := r.PortableBase
	if base == "" {
		base = defaultPortableBase
	}
	return base + "/share/portable/" + id
}

// normalizeScheme upgrades plain-http links to the share site; it
// redirects to https anyway and skipping the extra hop keeps the
// cookie handoff on one scheme. Other hosts pass through untouched.
func normalizeScheme(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Scheme != "http" {
		return rawURL
	}
	host := strings.ToLower(u.Hostname())
	if host == SourceTag || strings.HasSuffix(host, "."+SourceTag) {
		u.Scheme = "https"
		return u.String()
	}
	return rawURL
}

// NormalizeLocator uppercases and strips surrounding whitespace. It is
// idempotent; validity (exactly 6 characters) is checked separately.
func NormalizeLocator(locator string) string {
	return strings.ToUpper(strings.TrimSpace(locator))
}

// effectiveCount applies the fixed contact-count precedence: the
// stated header count when positive, else digits from the raw header
// text, else the number of parsed entries.
func effectiveCount(payload PortablePayload) int {
	if payload.StatedCount != nil && *payload.StatedCount > 0 {
		return *payload.StatedCount
	}
	if n := extractInt(payload.StatedCountText); n != nil && *n > 0 {
		return *n
	}
	return len(payload.Entries)
}

func displayName(preferred, fallback string) string {
	if preferred != "" {
		return preferred
	}
	if fallback != "" {
		return fallback
	}
	return fallbackDisplayName
}

func portableIDFromPath(path string) string {
	if m := portablePathRe.FindStringSubmatch(path); m != nil {
		return m[1]
	}
	return ""
}

// The portable-id strategies, in fixed order. Each is pure; the first
// success wins, so a path-embedded id always beats one scraped out of
// the body.
var idStrategies = []func(finalURL *url.URL, body string) string{
	func(u *url.URL, _ string) string {
		if m := sharePathIDRe.FindStringSubmatch(u.Path); m != nil {
			return m[1]
		}
		return ""
	},
	func(u *url.URL, _ string) string {
		id := u.Query().Get("id")
		if id != "" && digitsRe.FindString(id) == id {
			return id
		}
		return ""
	},
	// The remaining strategies run over raw HTML on purpose: by this
	// point the page may be malformed beyond what a DOM parse keeps.
	func(_ *url.URL, body string) string {
		if m := bodyParamIDRe.FindStringSubmatch(body); m != nil {
			return m[1]
		}
		return ""
	},
	func(_ *url.URL, body string) string {
		if m := portablePathRe.FindStringSubmatch(body); m != nil {
			return m[1]
		}
		return ""
	},
}

func resolvePortableID(finalURL *url.URL, body string) string {
	for _, strategy := range idStrategies {
		if id := strategy(finalURL, body); id != "" {
			return id
		}
	}
	return ""
}
