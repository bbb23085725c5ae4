package notification

import (
	"fmt"
	"html"
	"strings"
	"unicode/utf8"

	"github.com/recallbot/internal/domain"
)

const (
	// MaxTextRunes is the longest post text the broadcasters accept.
	MaxTextRunes = 300
	// DefaultTitle labels every rendered post.
	DefaultTitle = "FDA Recall"

	ellipsis = "…"
)

var defaultLangs = []string{"en-US"}

// Render builds the notification draft for a recall. It performs no I/O and
// returns the same draft for the same recall.
func Render(r domain.Recall) domain.Draft {
	f := fields{
		category: Clean(r.Category),
		product:  Clean(r.Product),
		company:  Clean(r.Company),
		reason:   Clean(r.Reason),
	}

	linkTitle := Clean(r.LinkText)
	if linkTitle == "" {
		linkTitle = f.product
	}

	return domain.Draft{
		RecallID:        r.RecallID,
		Title:           DefaultTitle,
		Text:            fit(f, MaxTextRunes),
		LinkURI:         strings.TrimSpace(r.NaturalKey),
		LinkTitle:       linkTitle,
		LinkDescription: fmt.Sprintf("Category: %s\nReason: %s", f.category, f.reason),
		Langs:           append([]string(nil), defaultLangs...),
	}
}

// Clean decodes HTML entities until none remain and collapses whitespace.
// Upstream cells are sometimes encoded more than once ("&amp;amp;"). The
// number of passes is bounded by the input length.
func Clean(s string) string {
	for i := 0; i <= len(s); i++ {
		d := html.UnescapeString(s)
		if d == s {
			break
		}
		s = d
	}
	return strings.Join(strings.Fields(s), " ")
}

type fields struct {
	category, product, company, reason string
}

func (f fields) text() string {
	return fmt.Sprintf("🚨 RECALL ALERT (%s) 🚨\n\nPRODUCT: %s\nCOMPANY: %s\nREASON: %s\n\nStay safe and informed! 🛡\nFor more details, see below! 👇",
		f.category, f.product, f.company, f.reason)
}

// fit shortens reason, then product, then company until the text fits in
// limit runes. The header and footer are kept intact.
func fit(f fields, limit int) string {
	text := f.text()
	over := utf8.RuneCountInString(text) - limit
	for _, field := range []*string{&f.reason, &f.product, &f.company} {
		if over <= 0 {
			break
		}
		n := utf8.RuneCountInString(*field)
		if n == 0 {
			continue
		}
		keep := n - over - utf8.RuneCountInString(ellipsis)
		if keep < 0 {
			keep = 0
		}
		*field = truncateRunes(*field, keep) + ellipsis
		text = f.text()
		over = utf8.RuneCountInString(text) - limit
	}
	if over > 0 {
		text = truncateRunes(text, limit)
	}
	return text
}

func truncateRunes(s string, n int) string {
	if n <= 0 {
		return ""
	}
	i := 0
	for pos := range s {
		if i == n {
			return strings.TrimRight(s[:pos], " ")
		}
		i++
	}
	return s
}
