// Package caption derives a short title and a fixed-size hashtag set from
// the free-text, comma-separated tags attached to a stock clip.
//
// Synthesize never fails: with no usable tags it falls back to the default
// subject for the title and to the fallback pool for hashtags. All
// randomness comes from the caller's *rand.Rand so output is reproducible
// under a fixed seed.
package caption

import (
	"math/rand/v2"
	"strings"
	"unicode"
	"unicode/utf8"
)

// Ellipsis replaces the tail of a truncated title.
const Ellipsis = "…"

// Placeholders substituted with the first and second capitalized tokens.
const (
	placeholder1 = "{1}"
	placeholder2 = "{2}"
)

// Config controls caption synthesis.
type Config struct {
	// MaxTitleLen is the maximum title length in runes.
	MaxTitleLen int
	// HashtagCount is the target number of hashtags (K).
	HashtagCount int
	// FallbackTags pads the hashtag set when clip tags are insufficient.
	FallbackTags []string
	// Templates are title patterns using {1} and optionally {2}. A template
	// without placeholders is always eligible.
	Templates []string
	// DefaultSubject stands in for the first token when there are no tags.
	DefaultSubject string
}

// DefaultConfig returns the settings used by the publishing pipelines.
func DefaultConfig() Config {
	return Config{
		MaxTitleLen:  50,
		HashtagCount: 8,
		FallbackTags: []string{
			"#nature", "#earth", "#wildlife", "#peace",
			"#travel", "#explore", "#reels", "#daily",
		},
		Templates: []string{
			"Nature Peace 🌿",
			"{1} Vibes 🌿",
			"Peaceful {1} Moments",
			"Lost in the {1} 🌲",
			"{1} & {2} 🌿",
			"Where {1} Meets {2}",
		},
		DefaultSubject: "Nature",
	}
}

// Spec is the derived caption for one post.
type Spec struct {
	Title    string
	Hashtags []string
}

// HashtagLine joins the hashtags with single spaces.
func (s Spec) HashtagLine() string {
	return strings.Join(s.Hashtags, " ")
}

// Text renders the caption as posted: title, a blank line, then hashtags.
func (s Spec) Text() string {
	if len(s.Hashtags) == 0 {
		return s.Title
	}
	return s.Title + "\n\n" + s.HashtagLine()
}

// Synthesize builds a title and hashtag set from rawTags.
func Synthesize(rawTags string, cfg Config, rng *rand.Rand) Spec {
	tokens := Tokens(rawTags)
	return Spec{
		Title:    title(tokens, cfg, rng),
		Hashtags: hashtags(tokens, cfg, rng),
	}
}

// Tokens splits rawTags on commas, trims whitespace and drops empty tokens.
func Tokens(rawTags string) []string {
	parts := strings.Split(rawTags, ",")
	tokens := make([]string, 0, len(parts))
	for _, p := range parts {
		if t := strings.TrimSpace(p); t != "" {
			tokens = append(tokens, t)
		}
	}
	return tokens
}

// Truncate shortens s to at most max runes, ending in Ellipsis when cut.
func Truncate(s string, max int) string {
	if max <= 0 {
		return ""
	}
	if utf8.RuneCountInString(s) <= max {
		return s
	}
	if max == 1 {
		return Ellipsis
	}
	runes := []rune(s)
	head := strings.TrimRightFunc(string(runes[:max-1]), unicode.IsSpace)
	return head + Ellipsis
}

func title(tokens []string, cfg Config, rng *rand.Rand) string {
	subjects := make([]string, 0, 2)
	for _, t := range tokens {
		if len(subjects) == 2 {
			break
		}
		subjects = append(subjects, capitalize(t))
	}
	if len(subjects) == 0 && cfg.DefaultSubject != "" {
		subjects = append(subjects, capitalize(cfg.DefaultSubject))
	}

	var eligible []string
	for _, tpl := range cfg.Templates {
		if placeholderCount(tpl) <= len(subjects) {
			eligible = append(eligible, tpl)
		}
	}

	var t string
	if len(eligible) > 0 {
		tpl := eligible[rng.IntN(len(eligible))]
		r := strings.NewReplacer(placeholder1, at(subjects, 0), placeholder2, at(subjects, 1))
		t = r.Replace(tpl)
	} else {
		t = strings.Join(subjects, " & ")
	}
	return Truncate(strings.TrimSpace(t), cfg.MaxTitleLen)
}

func hashtags(tokens []string, cfg Config, rng *rand.Rand) []string {
	k := cfg.HashtagCount
	if k <= 0 {
		return nil
	}

	fallback := uniqueTags(cfg.FallbackTags)

	var derived []string
	for _, t := range tokens {
		joined := strings.Join(strings.Fields(t), "")
		if isAlpha(joined) {
			derived = append(derived, "#"+joined)
		}
	}
	candidates := uniqueTags(append(derived, fallback...))

	if len(candidates) >= k {
		out := make([]string, 0, k)
		for _, i := range rng.Perm(len(candidates))[:k] {
			out = append(out, candidates[i])
		}
		return out
	}

	out := append([]string(nil), candidates...)
	present := make(map[string]bool, len(out))
	for _, tag := range out {
		present[tag] = true
	}
	for _, i := range rng.Perm(len(fallback)) {
		if len(out) >= k {
			break
		}
		if tag := fallback[i]; !present[tag] {
			present[tag] = true
			out = append(out, tag)
		}
	}
	return out
}

// uniqueTags normalises every tag to a leading '#', drops empties and
// removes duplicates (case-sensitive), keeping first occurrences.
func uniqueTags(tags []string) []string {
	seen := make(map[string]bool, len(tags))
	out := make([]string, 0, len(tags))
	for _, tag := range tags {
		tag = strings.Join(strings.Fields(tag), "")
		if !strings.HasPrefix(tag, "#") {
			tag = "#" + tag
		}
		if tag == "#" || seen[tag] {
			continue
		}
		seen[tag] = true
		out = append(out, tag)
	}
	return out
}

func isAlpha(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if !unicode.IsLetter(r) {
			return false
		}
	}
	return true
}

// capitalize upper-cases the first letter of every word.
func capitalize(s string) string {
	words := strings.Fields(s)
	for i, w := range words {
		r, size := utf8.DecodeRuneInString(w)
		words[i] = string(unicode.ToUpper(r)) + w[size:]
	}
	return strings.Join(words, " ")
}

func placeholderCount(tpl string) int {
	switch {
	case strings.Contains(tpl, placeholder2):
		return 2
	case strings.Contains(tpl, placeholder1):
		return 1
	default:
		return 0
	}
}

func at(s []string, i int) string {
	if i < len(s) {
		return s[i]
	}
	return ""
}
