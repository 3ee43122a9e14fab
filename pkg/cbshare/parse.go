package cbshare

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// Entry is one logged contact from the portable table. Every field is
// optional; string fields are "" and KM is nil when the row did not
// carry them in a recognizable form.
type Entry struct {
	Time    string `json:"time,omitempty"`
	Name    string `json:"name,omitempty"`
	Locator string `json:"locator,omitempty"`
	KM      *int   `json:"km,omitempty"`
	Note    string `json:"note,omitempty"`
}

// PortablePayload is everything extractable from one portable share
// page. HasTable reports presence of the data table itself; FoundRows
// counts rows matched by the table-body selector whether or not any of
// their fields parsed, so "table present but nothing extractable" and
// "no table at all" stay distinguishable.
type PortablePayload struct {
	Title           string
	ExpName         string
	Date            string
	MyLocator       string
	Place           string
	StatedCount     *int
	StatedCountText string
	TotalKM         *int
	Entries         []Entry
	FoundRows       int
	HasTable        bool
}

var (
	whitespaceRe = regexp.MustCompile(`\s+`)
	digitsRe     = regexp.MustCompile(`(\d+)`)
	timeTokenRe  = regexp.MustCompile(`\b\d{1,2}:\d{2}\b`)
	dateTokenRe  = regexp.MustCompile(`\b\d{1,2}\.\d{1,2}\.\d{4}\b`)
)

// ParsePortable extracts the share payload from portable-page HTML.
// It never fails: malformed or unrelated markup degrades to an empty
// payload rather than an error.
func ParsePortable(rawHTML string) PortablePayload {
	var payload PortablePayload

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(rawHTML))
	if err != nil {
		return payload
	}

	payload.Title = normalizeText(doc.Find("title").First().Text())

	headerText := normalizeText(doc.Find("header").Text())
	payload.Date = dateTokenRe.FindString(headerText)
	if payload.Date == "" {
		payload.Date = dateTokenRe.FindString(normalizeText(doc.Find("body").Text()))
	}

	payload.ExpName = payload.Title
	if payload.ExpName == "" {
		payload.ExpName = headerText
	}

	// The page labels these by id, not by position. Note that the
	// stated contact count lives under #distance and the total
	// distance under #km on the real markup.
	payload.MyLocator = normalizeText(doc.Find("#locator").First().Text())
	payload.Place = normalizeText(doc.Find("#place").First().Text())
	payload.StatedCountText = normalizeText(doc.Find("#distance").First().Text())
	payload.StatedCount = extractInt(payload.StatedCountText)
	payload.TotalKM = extractInt(normalizeText(doc.Find("#km").First().Text()))

	payload.HasTable = doc.Find("table#myTable").Length() > 0

	doc.Find("table#myTable tbody tr").Each(func(_ int, row *goquery.Selection) {
		payload.FoundRows++

		cells := row.Find("td")
		if cells.Length() == 0 {
			return
		}

		entry := Entry{
			Name:    normalizeText(row.Find("span.duplicity-name").First().Text()),
			Locator: normalizeText(row.Find("span.font-caption-locator-small").First().Text()),
			KM:      extractInt(normalizeText(row.Find("p.span-km").First().Text())),
			Note:    rowNote(row),
		}
		if cells.Length() > 1 {
			entry.Time = extractTime(cells.Eq(1).Text())
		}
		payload.Entries = append(payload.Entries, entry)
	})

	return payload
}

// rowNote finds the free-text note of a row. The markup does not label
// notes distinctly: a note is the annotation span after a <br>, or
// failing that the second span of the same annotation class.
func rowNote(row *goquery.Selection) string {
	note := normalizeText(row.Find("br ~ span.font-ariel").First().Text())
	if note != "" {
		return note
	}
	return normalizeText(row.Find("span.font-ariel").Eq(1).Text())
}

func normalizeText(s string) string {
	return strings.TrimSpace(whitespaceRe.ReplaceAllString(s, " "))
}

// extractInt pulls the first run of digits out of s. Non-numeric text
// yields nil.
func extractInt(s string) *int {
	match := digitsRe.FindString(s)
	if match == "" {
		return nil
	}
	n, err := strconv.Atoi(match)
	if err != nil {
		return nil
	}
	return &n
}

// extractTime prefers an HH:MM token over whatever else shares the
// time cell.
func extractTime(s string) string {
	if token := timeTokenRe.FindString(s); token != "" {
		return token
	}
	return normalizeText(s)
}
