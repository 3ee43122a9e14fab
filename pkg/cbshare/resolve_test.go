package cbshare

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/tidwall/gjson"
)

func mustParseURL(t *testing.T, rawURL string) *url.URL {
	t.Helper()
	u, err := url.Parse(rawURL)
	if err != nil {
		t.Fatalf("failed to parse %q: %v", rawURL, err)
	}
	return u
}

func testResolver(t *testing.T, base string) (*Resolver, string) {
	t.Helper()

	logPath := filepath.Join(t.TempDir(), "failures.log")
	faillog := NewFailureLog(logPath)
	t.Cleanup(func() { faillog.Close() })

	r := NewResolver(&Fetcher{}, faillog)
	r.PortableBase = base
	return r, logPath
}

func resolveKind(t *testing.T, err error) FailureKind {
	t.Helper()
	var importErr *ImportError
	if !errors.As(err, &importErr) {
		t.Fatalf("expected *ImportError, got %v", err)
	}
	return importErr.Kind
}

func readFailureRecords(t *testing.T, path string) []string {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("failed to read failure log: %v", err)
	}
	var lines []string
	for _, line := range strings.Split(string(data), "\n") {
		if strings.TrimSpace(line) != "" {
			lines = append(lines, line)
		}
	}
	return lines
}

func TestResolveTokenLinkEndToEnd(t *testing.T) {
	srv := shareSite(t)
	r, logPath := testResolver(t, srv.URL)

	result, err := r.Resolve(context.Background(), srv.URL+"/share/t0k3n")
	if err != nil {
		t.Fatalf("unexpected resolve error: %v", err)
	}

	if result.QTHLocator != "JN99DJ" {
		t.Errorf("unexpected locator: %q", result.QTHLocator)
	}
	if result.QSOCount != 2 {
		t.Errorf("unexpected qso count: %d", result.QSOCount)
	}
	if result.CallSign != "Exp Vysilka" {
		t.Errorf("unexpected call sign: %q", result.CallSign)
	}
	if result.QTHName != "Lysa hora" {
		t.Errorf("unexpected qth name: %q", result.QTHName)
	}
	if result.Audit.PortableID != "10860" {
		t.Errorf("unexpected portable id: %q", result.Audit.PortableID)
	}
	if result.Audit.Source != SourceTag {
		t.Errorf("unexpected audit source: %q", result.Audit.Source)
	}
	if result.Audit.EntryCount != 2 || len(result.Audit.Entries) != 2 {
		t.Errorf("expected full entry list in audit, got %d/%d",
			result.Audit.EntryCount, len(result.Audit.Entries))
	}
	if result.Audit.FetchedAt.IsZero() {
		t.Error("expected a fetch timestamp")
	}

	if records := readFailureRecords(t, logPath); len(records) != 0 {
		t.Errorf("expected no failure records on success, got %d", len(records))
	}
}

func TestResolveErrorPage(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/share/t0k3n", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/share/error/session", http.StatusFound)
	})
	mux.HandleFunc("/share/error/session", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("<html><head><title>Chyba</title></head><body>vyzaduje prohlizec</body></html>"))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	r, logPath := testResolver(t, srv.URL)
	_, err := r.Resolve(context.Background(), srv.URL+"/share/t0k3n")

	if kind := resolveKind(t, err); kind != FailureErrorPage {
		t.Fatalf("expected %s, got %s", FailureErrorPage, kind)
	}

	records := readFailureRecords(t, logPath)
	if len(records) != 1 {
		t.Fatalf("expected exactly 1 failure record, got %d", len(records))
	}
	if got := gjson.Get(records[0], "title").String(); got != "Chyba" {
		t.Errorf("expected page title in diagnostics, got %q", got)
	}
}

func TestResolveEmptyTable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(emptyTableFixture))
	}))
	defer srv.Close()

	r, _ := testResolver(t, srv.URL)
	_, err := r.Resolve(context.Background(), srv.URL+"/share/portable/99")

	if kind := resolveKind(t, err); kind != FailureNoRows {
		t.Fatalf("expected %s, got %s", FailureNoRows, kind)
	}
}

func TestResolveShortLocator(t *testing.T) {
	page := strings.Replace(portableFixture, " jn99dj ", "JN99D", 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(page))
	}))
	defer srv.Close()

	r, _ := testResolver(t, srv.URL)
	_, err := r.Resolve(context.Background(), srv.URL+"/share/portable/99")

	if kind := resolveKind(t, err); kind != FailureLocator {
		t.Fatalf("expected %s, got %s", FailureLocator, kind)
	}
}

func TestResolveFetchFailureLogsOneRecord(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	srv.Close()

	r, logPath := testResolver(t, srv.URL)
	target := srv.URL + "/share/t0k3n"
	_, err := r.Resolve(context.Background(), target)

	if kind := resolveKind(t, err); kind != FailureFetch {
		t.Fatalf("expected %s, got %s", FailureFetch, kind)
	}

	records := readFailureRecords(t, logPath)
	if len(records) != 1 {
		t.Fatalf("expected exactly 1 failure record, got %d", len(records))
	}
	if got := gjson.Get(records[0], "original_url").String(); got != target {
		t.Errorf("expected record to reference %q, got %q", target, got)
	}
	if got := gjson.Get(records[0], "kind").String(); got != string(FailureFetch) {
		t.Errorf("unexpected record kind: %q", got)
	}
}

func TestResolveUnresolvableShare(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("<html><body>nothing to see</body></html>"))
	}))
	defer srv.Close()

	r, _ := testResolver(t, srv.URL)
	_, err := r.Resolve(context.Background(), srv.URL+"/somewhere/else")

	if kind := resolveKind(t, err); kind != FailureUnresolvable {
		t.Fatalf("expected %s, got %s", FailureUnresolvable, kind)
	}
}

// A share page that is not portable-shaped but carries the id in its
// query string must be re-fetched through the canonical portable URL.
func TestResolveViaQueryParameter(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/share/view", func(w http.ResponseWriter, r *http.Request) {
		// Body advertises a different id; the query parameter must win.
		w.Write([]byte(`<html><body><a href="/share/portable/888">jiny denik</a></body></html>`))
	})
	mux.HandleFunc("/share/portable/777", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(portableFixture))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	r, _ := testResolver(t, srv.URL)
	result, err := r.Resolve(context.Background(), srv.URL+"/share/view?id=777")
	if err != nil {
		t.Fatalf("unexpected resolve error: %v", err)
	}
	if result.Audit.PortableID != "777" {
		t.Fatalf("expected portable id 777, got %q", result.Audit.PortableID)
	}
}

func TestPortableIDStrategyOrder(t *testing.T) {
	body := `<html><body><a href="/share/portable/888">denik</a> x?id=555;</body></html>`

	cases := []struct {
		name string
		url  string
		want string
	}{
		{"path id wins over body", "https://www.cbpmr.info/share/view/111", "111"},
		{"query id wins over body", "https://www.cbpmr.info/share/view?id=222", "222"},
		{"body parameter wins over body link", "https://www.cbpmr.info/share/view", "555"},
		{"body link is the last resort", "https://www.cbpmr.info/share/view", "888"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			pageBody := body
			if tc.want == "888" {
				pageBody = `<html><body><a href="/share/portable/888">denik</a></body></html>`
			}
			u := mustParseURL(t, tc.url)
			if got := resolvePortableID(u, pageBody); got != tc.want {
				t.Fatalf("expected id %q, got %q", tc.want, got)
			}
		})
	}
}

func TestNormalizeLocator(t *testing.T) {
	if got := NormalizeLocator(" jn69wr "); got != "JN69WR" {
		t.Fatalf("expected JN69WR, got %q", got)
	}
	// Idempotent on already-normalized input.
	if got := NormalizeLocator("JN69WR"); got != "JN69WR" {
		t.Fatalf("expected JN69WR unchanged, got %q", got)
	}
}

func TestEffectiveCountPrecedence(t *testing.T) {
	twelve := 12
	zero := 0
	entries := make([]Entry, 10)

	cases := []struct {
		name    string
		payload PortablePayload
		want    int
	}{
		{"stated count wins", PortablePayload{StatedCount: &twelve, Entries: entries}, 12},
		{"entry count fallback", PortablePayload{Entries: entries}, 10},
		{"non-positive stated count ignored", PortablePayload{StatedCount: &zero, StatedCountText: "0 spojeni", Entries: entries}, 10},
		{"header text fallback", PortablePayload{StatedCountText: "celkem 7", Entries: entries}, 7},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := effectiveCount(tc.payload); got != tc.want {
				t.Fatalf("expected %d, got %d", tc.want, got)
			}
		})
	}
}

func TestNormalizeScheme(t *testing.T) {
	if got := normalizeScheme("http://www.cbpmr.info/share/abc"); got != "https://www.cbpmr.info/share/abc" {
		t.Fatalf("unexpected normalization: %q", got)
	}
	if got := normalizeScheme("https://www.cbpmr.info/share/abc"); !strings.HasPrefix(got, "https://") {
		t.Fatalf("https input must pass through, got %q", got)
	}
	if got := normalizeScheme("http://127.0.0.1:8080/share/abc"); got != "http://127.0.0.1:8080/share/abc" {
		t.Fatalf("other hosts must pass through, got %q", got)
	}
}
