package match

import (
	"regexp"
	"strings"
	"unicode"
)

// Bracketed suffixes that name a variant of a song rather than the song
// itself. DJ exports are full of these and remote catalogs rarely agree on
// them, so they are stripped before comparison.
var variantPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\s*\([^)]*(?:remix|mix|edit|remaster(?:ed)?|version|radio|extended|bootleg|dub|instrumental|rework|re-?rub|vip)[^)]*\)`),
	regexp.MustCompile(`(?i)\s*\[[^\]]*(?:remix|mix|edit|remaster(?:ed)?|version|radio|extended|bootleg|dub|instrumental|rework|re-?rub|vip)[^\]]*\]`),
}

// Featuring credits; catalogs attach them to either the title or the artist.
var featuringPattern = regexp.MustCompile(`(?i)\s*[\(\[]?\s*(?:feat\.?|ft\.?|featuring)\s+[^\)\]]+[\)\]]?`)

// CleanTitle strips variant and featuring suffixes from a track title.
func CleanTitle(title string) string {
	title = strings.TrimSpace(title)
	for _, p := range variantPatterns {
		title = p.ReplaceAllString(title, "")
	}
	title = featuringPattern.ReplaceAllString(title, "")
	return strings.TrimSpace(title)
}

// Fold lowercases a string, drops punctuation and collapses whitespace,
// producing the canonical form the similarity scoring compares.
func Fold(s string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(s) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
		case unicode.IsSpace(r) || unicode.IsPunct(r) || unicode.IsSymbol(r):
			b.WriteRune(' ')
		}
	}
	return strings.Join(strings.Fields(b.String()), " ")
}

// normalizeTitle is the full title pipeline: variant stripping then folding.
func normalizeTitle(title string) string {
	return Fold(CleanTitle(title))
}

// normalizeArtist folds an artist name after dropping featuring credits.
func normalizeArtist(artist string) string {
	return Fold(featuringPattern.ReplaceAllString(artist, ""))
}
