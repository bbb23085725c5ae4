package bluesky

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

const (
	linkFeature = "app.bsky.richtext.facet#link"
	tagFeature  = "app.bsky.richtext.facet#tag"
	maxTagRunes = 64
)

var (
	urlRe = regexp.MustCompile(`https?://[^\s<>"]+`)
	tagRe = regexp.MustCompile(`(?:^|\s)(#[^\s#]+)`)
)

// Facet annotates a byte range of the post text.
type Facet struct {
	Index    ByteSlice `json:"index"`
	Features []Feature `json:"features"`
}

// ByteSlice is a half-open range of UTF-8 byte offsets.
type ByteSlice struct {
	ByteStart int `json:"byteStart"`
	ByteEnd   int `json:"byteEnd"`
}

type Feature struct {
	Type string `json:"$type"`
	URI  string `json:"uri,omitempty"`
	Tag  string `json:"tag,omitempty"`
}

// DetectFacets finds links and hashtags in text. Offsets are UTF-8 byte
// positions, which is what the AT Protocol expects.
func DetectFacets(text string) []Facet {
	var out []Facet
	for _, m := range urlRe.FindAllStringIndex(text, -1) {
		start, end := m[0], trimTrailing(text, m[0], m[1])
		out = append(out, Facet{
			Index:    ByteSlice{ByteStart: start, ByteEnd: end},
			Features: []Feature{{Type: linkFeature, URI: text[start:end]}},
		})
	}
	for _, m := range tagRe.FindAllStringSubmatchIndex(text, -1) {
		start, end := m[2], trimTrailing(text, m[2], m[3])
		tag := text[start+1 : end]
		if tag == "" || isDigits(tag) || utf8.RuneCountInString(tag) > maxTagRunes {
			continue
		}
		out = append(out, Facet{
			Index:    ByteSlice{ByteStart: start, ByteEnd: end},
			Features: []Feature{{Type: tagFeature, Tag: tag}},
		})
	}
	return out
}

// trimTrailing drops sentence punctuation from the end of a match.
func trimTrailing(text string, start, end int) int {
	for end > start && strings.ContainsRune(".,;:!?)'\"", rune(text[end-1])) {
		end--
	}
	return end
}

func isDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
