package server

import (
	"net/http"
	"net/url"
	"strings"

	"github.com/weppos/publicsuffix-go/publicsuffix"

	"github.com/Podly27/CB-soutez-4RO/internal/utils"
	"github.com/Podly27/CB-soutez-4RO/pkg/cbshare"
	"github.com/Podly27/CB-soutez-4RO/pkg/storage"
)

// Server exposes the submission workflow around the import resolver.
// It owns the host allow-list and the mapping of failure kinds to
// user-facing messages; scraping internals never leave this boundary.
type Server struct {
	DB           *storage.DB
	Resolver     *cbshare.Resolver
	AllowedHosts []string
}

func New(db *storage.DB, resolver *cbshare.Resolver, allowedHosts []string) *Server {
	return &Server{
		DB:           db,
		Resolver:     resolver,
		AllowedHosts: allowedHosts,
	}
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/health", s.handleHealth)
	mux.HandleFunc("POST /api/import", s.handleImport)
	mux.HandleFunc("POST /api/submissions", s.handleSubmit)
	mux.HandleFunc("GET /api/submissions", s.handleListSubmissions)

	return mux
}

func (s *Server) Start(addr string) error {
	utils.Log.Info("Starting submission server on ", addr)
	return http.ListenAndServe(addr, s.Handler())
}

// hostAllowed checks the share URL's host against the configured
// allow-list, either as an exact host or by registrable domain, so
// "www.cbpmr.info" passes a "cbpmr.info" entry.
func (s *Server) hostAllowed(rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return false
	}
	host := strings.ToLower(u.Hostname())

	for _, allowed := range s.AllowedHosts {
		allowed = strings.ToLower(strings.TrimSpace(allowed))
		if allowed == "" {
			continue
		}
		if host == allowed {
			return true
		}
		if domain, err := publicsuffix.Domain(host); err == nil && domain == allowed {
			return true
		}
	}
	return false
}

// userMessage maps an import failure kind to the message shown to the
// submitter. Diagnostics stay in the failure log.
func userMessage(kind cbshare.FailureKind) string {
	switch kind {
	case cbshare.FailureFetch:
		return "The diary could not be loaded from the share link."
	case cbshare.FailureErrorPage:
		return "This share link requires a browser session. Please use the direct portable link."
	case cbshare.FailureUnresolvable:
		return "This share link could not be resolved. Please use the direct portable link."
	case cbshare.FailureNoRows:
		return "No contact log was found on the linked page. Please confirm the link is public."
	case cbshare.FailureLocator:
		return "A valid station locator could not be read from the diary."
	case cbshare.FailureCount:
		return "The contact count could not be determined from the diary."
	default:
		return "The diary could not be imported."
	}
}
