package fda

import (
	"net/url"
	"strings"
	"time"

	"github.com/recallbot/internal/domain"
	"golang.org/x/net/html"
)

// Row cell order: date, link, product, category, reason, company.
func parseRow(row []string, base *url.URL) (domain.Candidate, bool) {
	href, linkText := parseLink(row[1])
	if href == "" {
		return domain.Candidate{}, false
	}
	ref, err := url.Parse(href)
	if err != nil {
		return domain.Candidate{}, false
	}
	return domain.Candidate{
		NaturalKey: base.ResolveReference(ref).String(),
		LinkText:   linkText,
		Product:    cellText(row[2]),
		Category:   cellText(row[3]),
		Reason:     cellText(row[4]),
		Company:    cellText(row[5]),
		Date:       parseDate(row[0]),
	}, true
}

// parseLink returns the href and the text of the first anchor in frag.
func parseLink(frag string) (string, string) {
	z := html.NewTokenizer(strings.NewReader(frag))
	var (
		href   string
		inLink bool
		text   strings.Builder
	)
	for {
		switch z.Next() {
		case html.ErrorToken:
			return href, strings.TrimSpace(text.String())
		case html.StartTagToken:
			t := z.Token()
			if t.Data == "a" && href == "" {
				href = attr(t, "href")
				inLink = true
			}
		case html.EndTagToken:
			if z.Token().Data == "a" && inLink {
				return href, strings.TrimSpace(text.String())
			}
		case html.TextToken:
			if inLink {
				text.Write(z.Text())
			}
		}
	}
}

// parseDate reads the datetime attribute of the first element carrying one.
func parseDate(frag string) *time.Time {
	z := html.NewTokenizer(strings.NewReader(frag))
	for {
		tt := z.Next()
		if tt == html.ErrorToken {
			return nil
		}
		if tt != html.StartTagToken && tt != html.SelfClosingTagToken {
			continue
		}
		v := attr(z.Token(), "datetime")
		if v == "" {
			continue
		}
		for _, layout := range []string{time.RFC3339, "2006-01-02T15:04:05", "2006-01-02"} {
			if t, err := time.Parse(layout, v); err == nil {
				t = t.UTC()
				return &t
			}
		}
		return nil
	}
}

// cellText returns the text content of frag with entities decoded.
func cellText(frag string) string {
	z := html.NewTokenizer(strings.NewReader(frag))
	var b strings.Builder
	for {
		switch z.Next() {
		case html.ErrorToken:
			return strings.TrimSpace(b.String())
		case html.TextToken:
			b.Write(z.Text())
		case html.StartTagToken, html.SelfClosingTagToken:
			if z.Token().Data == "br" {
				b.WriteByte(' ')
			}
		}
	}
}

func attr(t html.Token, name string) string {
	for _, a := range t.Attr {
		if a.Key == name {
			return strings.TrimSpace(a.Val)
		}
	}
	return ""
}
