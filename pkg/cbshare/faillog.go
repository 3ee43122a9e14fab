package cbshare

import (
	"io"
	"os"

	"github.com/sirupsen/logrus"
)

const (
	snippetLimit = 1000
	detailLimit  = 2000
)

// FailureRecord is the diagnostic payload written when an import
// fails. It is write-once: nothing in the pipeline ever reads it back.
type FailureRecord struct {
	Kind          string
	Detail        string
	OriginalURL   string
	FinalURL      string
	HTTPStatus    int
	Title         string
	RowsFound     int
	PortableID    string
	RedirectChain []string
	BodySnippet   string
}

// FailureLog is a best-effort diagnostic sink. Records go out as
// single JSON lines, so concurrent imports can append without
// interleaving. A nil *FailureLog is a valid no-op sink.
type FailureLog struct {
	log  *logrus.Logger
	file *os.File
}

// NewFailureLog opens an append-only sink at path. It never fails:
// when the file cannot be opened the sink silently discards records,
// because diagnostics must not break the import flow.
func NewFailureLog(path string) *FailureLog {
	l := logrus.New()
	l.SetFormatter(&logrus.JSONFormatter{})

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		l.SetOutput(io.Discard)
		return &FailureLog{log: l}
	}
	l.SetOutput(f)
	return &FailureLog{log: l, file: f}
}

// Record persists one failure record. It never returns an error and
// never panics; a broken sink must not mask the failure being logged.
func (l *FailureLog) Record(rec FailureRecord) {
	if l == nil || l.log == nil {
		return
	}
	defer func() {
		_ = recover()
	}()

	l.log.WithFields(logrus.Fields{
		"kind":           rec.Kind,
		"detail":         truncate(rec.Detail, detailLimit),
		"original_url":   rec.OriginalURL,
		"final_url":      rec.FinalURL,
		"http_status":    rec.HTTPStatus,
		"title":          truncate(rec.Title, titleSnippetLimit),
		"rows_found":     rec.RowsFound,
		"portable_id":    rec.PortableID,
		"redirect_chain": rec.RedirectChain,
		"body_snippet":   truncate(rec.BodySnippet, snippetLimit),
	}).Info("share import failure")
}

func (l *FailureLog) Close() error {
	if l == nil || l.file == nil {
		return nil
	}
	return l.file.Close()
}

// truncate bounds s to limit runes so oversized pages cannot bloat the
// diagnostic log.
func truncate(s string, limit int) string {
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit]) + "..."
}
