// Package feedpublish scores product captions and publishes the ones that
// clear the quality bar. Captions below the bar are saved for editing
// instead of being discarded.
package feedpublish

import (
	"strings"
	"unicode"
)

// PublishThreshold is the minimum quality score for automatic publishing.
// Captions between ApprovalThreshold and PublishThreshold are saved and
// held for human approval; below ApprovalThreshold they are saved only.
const (
	PublishThreshold  = 0.85
	ApprovalThreshold = 0.70
)

// DuplicateThreshold marks a caption as a duplicate of an already
// published post when the best similarity search score exceeds it.
const DuplicateThreshold = 0.90

// Quality component weights
const (
	languageWeight   = 0.35
	brandWeight      = 0.30
	lengthWeight     = 0.15
	engagementWeight = 0.20
)

// Engagement sub-weights
const (
	emojiBonus   = 0.5
	ctaBonus     = 0.3
	hashtagBonus = 0.2
)

// Caption length bounds in characters. Captions inside the ideal band
// score full marks, ones inside the tolerated band score partial credit.
const (
	minCaptionLength = 50
	maxCaptionLength = 150

	minToleratedLength = 30
	maxToleratedLength = 200
)

// Partial scores for near-miss brand mentions and caption lengths
const (
	partialBrandScore  = 0.7
	partialLengthScore = 0.7
	outlierLengthScore = 0.3
)

// languageKeywords holds common function words per supported language.
// A caption counts as written in a language when it contains at least
// two of them.
var languageKeywords = map[string][]string{
	"nl": {"de", "het", "een", "voor", "met", "van", "nu", "jouw", "onze", "korting", "bestel", "nieuw"},
	"fr": {"le", "la", "les", "un", "une", "pour", "avec", "votre", "notre", "nouveau", "découvrez", "chez"},
	"en": {"the", "a", "your", "our", "with", "for", "new", "now", "discover", "shop"},
}

// ctaPhrases are call-to-action markers per language
var ctaPhrases = map[string][]string{
	"nl": {"bestel nu", "shop nu", "bekijk", "ontdek", "koop nu"},
	"fr": {"commandez", "achetez", "découvrez", "profitez"},
	"en": {"shop now", "order now", "buy now", "discover", "check out"},
}

// QualityScore breaks a caption's score into its components
type QualityScore struct {
	Language   float64 `json:"language_score"`
	Brand      float64 `json:"brand_score"`
	Length     float64 `json:"length_score"`
	Engagement float64 `json:"engagement_score"`
	Total      float64 `json:"total"`
}

// LanguageForBrand maps a brand to its audience language
func LanguageForBrand(brand string) string {
	b := strings.ToLower(brand)
	switch {
	case strings.Contains(b, "pomandi"):
		return "nl"
	case strings.Contains(b, "costume"):
		return "fr"
	default:
		return "en"
	}
}

// ScoreCaption computes the quality of a caption for a brand. The
// expected language comes from the brand unless given explicitly.
func ScoreCaption(caption, brand, language string) QualityScore {
	if language == "" {
		language = LanguageForBrand(brand)
	}

	var s QualityScore
	if countKeywords(caption, language) >= 2 {
		s.Language = 1.0
	}
	s.Brand = brandScore(caption, brand)
	s.Length = lengthScore(len([]rune(caption)))
	s.Engagement = engagementScore(caption, language)

	s.Total = languageWeight*s.Language +
		brandWeight*s.Brand +
		lengthWeight*s.Length +
		engagementWeight*s.Engagement
	return s
}

func countKeywords(caption, language string) int {
	keywords := languageKeywords[language]
	words := map[string]struct{}{}
	for _, w := range strings.Fields(strings.ToLower(caption)) {
		words[strings.Trim(w, ".,!?;:'\"()")] = struct{}{}
	}
	count := 0
	for _, kw := range keywords {
		if _, ok := words[kw]; ok {
			count++
		}
	}
	return count
}

// brandScore gives full marks when the brand appears with its canonical
// capitalization (first letter upper, rest lower), partial credit when it
// only appears case-insensitively, and zero when it is absent.
func brandScore(caption, brand string) float64 {
	if brand == "" {
		return 0
	}
	canonical := strings.ToUpper(brand[:1]) + strings.ToLower(brand[1:])
	if strings.Contains(caption, canonical) {
		return 1.0
	}
	if strings.Contains(strings.ToLower(caption), strings.ToLower(brand)) {
		return partialBrandScore
	}
	return 0
}

// lengthScore grades a caption by its rune count
func lengthScore(n int) float64 {
	switch {
	case n >= minCaptionLength && n <= maxCaptionLength:
		return 1.0
	case n >= minToleratedLength && n <= maxToleratedLength:
		return partialLengthScore
	default:
		return outlierLengthScore
	}
}

func engagementScore(caption, language string) float64 {
	score := 0.0
	if countEmoji(caption) >= 2 {
		score += emojiBonus
	}
	lower := strings.ToLower(caption)
	for _, phrase := range ctaPhrases[language] {
		if strings.Contains(lower, phrase) {
			score += ctaBonus
			break
		}
	}
	if strings.ContainsRune(caption, '#') {
		score += hashtagBonus
	}
	return score
}

func countEmoji(s string) int {
	count := 0
	for _, r := range s {
		if unicode.Is(unicode.So, r) || (r >= 0x1F300 && r <= 0x1FAFF) || (r >= 0x2600 && r <= 0x27BF) {
			count++
		}
	}
	return count
}
