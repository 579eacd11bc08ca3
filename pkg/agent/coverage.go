package agent

import (
	"regexp"
	"strings"

	"github.com/maestro-ai/maestro/pkg/models"
)

// CoverageDisclaimer is appended when a response makes factual claims
// that are not backed by citations.
const CoverageDisclaimer = "\n\nRemarque : certaines informations chiffrées de cette réponse ne proviennent pas directement des documents consultés."

// factualToken matches numbers with units, currency or percentages,
// numeric dates, years, and month names — the markers of a factual
// claim that should carry a source.
var factualToken = regexp.MustCompile(`(?i)` +
	`\d+(?:[.,]\d+)?\s*(?:%|€|\$|eur|usd|k€|m€)` +
	`|\b\d{1,2}/\d{1,2}/\d{2,4}\b` +
	`|\b(?:19|20)\d{2}\b` +
	`|\b(?:janvier|février|mars|avril|mai|juin|juillet|août|septembre|octobre|novembre|décembre` +
	`|january|february|march|april|may|june|july|august|september|october|november|december)\b`)

// citationMarker matches inline source references like [1] or
// [Source: rapport.pdf].
var citationMarker = regexp.MustCompile(`\[[^\]]+\]`)

var disclaimerPhrases = []string{
	"ne proviennent pas directement",
	"ne sont pas directement sourcées",
	"sans source documentaire",
	"not directly sourced",
	"no direct source",
}

// EnsureSourceCoverage checks the response for factual claims lacking
// sources and returns the disclaimer to append, if any. The profile
// selects the heuristic: reactive runs get a cheap whole-response scan,
// other profiles get paragraph-level analysis.
func EnsureSourceCoverage(content string, profile models.Profile, citations []models.Citation) (string, bool) {
	if strings.TrimSpace(content) == "" {
		return "", false
	}
	if hasDisclaimer(content) {
		return "", false
	}

	if profile == models.ProfileReactive {
		if len(citations) == 0 && factualToken.MatchString(content) {
			return CoverageDisclaimer, true
		}
		return "", false
	}

	for _, paragraph := range strings.Split(content, "\n\n") {
		if !factualToken.MatchString(paragraph) {
			continue
		}
		if citationMarker.MatchString(paragraph) || hasDisclaimer(paragraph) {
			continue
		}
		return CoverageDisclaimer, true
	}
	return "", false
}

func hasDisclaimer(s string) bool {
	lower := strings.ToLower(s)
	for _, phrase := range disclaimerPhrases {
		if strings.Contains(lower, phrase) {
			return true
		}
	}
	return false
}
