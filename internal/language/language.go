// Package language normalizes user-supplied language hints to ISO 639-1
// codes. Cache keys embed the normalized form, so "en", "EN", and "en-US"
// all derive the same transcription key.
package language

import (
	"strings"

	"golang.org/x/text/language"
)

// Full word forms that BCP 47 parsing does not accept but uploads commonly carry.
var byWord = map[string]string{
	"english":    "en",
	"spanish":    "es",
	"french":     "fr",
	"german":     "de",
	"italian":    "it",
	"portuguese": "pt",
	"japanese":   "ja",
	"korean":     "ko",
	"chinese":    "zh",
	"russian":    "ru",
	"arabic":     "ar",
	"hindi":      "hi",
	"dutch":      "nl",
	"polish":     "pl",
	"swedish":    "sv",
}

// Normalize reduces a language hint to its ISO 639-1 base code. Region and
// script subtags are dropped ("en-US" -> "en"). Unrecognized input returns
// the empty string so callers treat it as "no language specified".
func Normalize(value string) string {
	trimmed := strings.ToLower(strings.TrimSpace(value))
	if trimmed == "" {
		return ""
	}
	if code, ok := byWord[trimmed]; ok {
		return code
	}
	tag, err := language.Parse(trimmed)
	if err != nil {
		return ""
	}
	base, conf := tag.Base()
	if conf == language.No {
		return ""
	}
	code := base.String()
	// Base.String returns ISO 639-3 for languages without a two-letter code;
	// those are passed through as-is.
	return code
}
