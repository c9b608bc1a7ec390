// Package doi extracts Digital Object Identifiers from free text.
package doi

import (
	"html"
	"net/url"
	"regexp"
	"strings"
)

// pattern matches 10.<registrant>/<suffix> where the registrant has 4-9 digits.
var pattern = regexp.MustCompile(`10\.\d{4,9}/\S+`)

// markup finds the start of an XML tag swallowed by pattern. SICI DOIs hold
// "<" followed by a digit, so only "</" and "<" before a letter count.
var markup = regexp.MustCompile(`</|<[A-Za-z]`)

// Normalize returns the first DOI found in text.
//
// HTML entities and percent-encoding are decoded before matching. With fullText
// set the match is also cut at the first XML tag that the whitespace-free
// pattern swallowed and cleaned of trailing punctuation.
func Normalize(text string, fullText bool) (string, bool) {
	text = unescape(text)

	match := pattern.FindString(text)
	if match == "" {
		return "", false
	}

	if fullText {
		if loc := markup.FindStringIndex(match); loc != nil {
			match = match[:loc[0]]
		}
		match = strings.TrimRight(match, `.,"`)
	}

	if !pattern.MatchString(match) {
		return "", false
	}
	return match, true
}

// Key returns the canonical comparison form of a DOI, or "" if text holds none.
// DOIs are case-insensitive, so the key is lowercased.
func Key(text string) string {
	d, ok := Normalize(text, true)
	if !ok {
		return ""
	}
	return strings.ToLower(d)
}

// unescape decodes HTML entities then percent-encoding. Invalid escape
// sequences are left untouched.
func unescape(text string) string {
	text = html.UnescapeString(text)
	if decoded, err := url.PathUnescape(text); err == nil {
		text = decoded
	}
	return text
}
