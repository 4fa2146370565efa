// Package screen filters adversarial submission text before it enters the
// queue and normalizes winning prompts before the transform call.
package screen

import (
	"regexp"
	"strings"
	"unicode"
)

// minPromptLength is the shortest submission worth polling on.
const minPromptLength = 8

var bannedPatterns = []*regexp.Regexp{
	regexp.MustCompile("```"),
	regexp.MustCompile("`.+`"),
	regexp.MustCompile(`\b(import|def|class)\b`),
	regexp.MustCompile(`\b(sudo|wget|curl|rm\s+-rf|powershell|cmd\.exe)\b`),
	regexp.MustCompile(`\bhttps?://`),
	regexp.MustCompile(`<script|</script|<\?php`),
	regexp.MustCompile(`\b(select|drop|insert|update)\b\s`),
}

var nsfwWords = map[string]struct{}{
	"nsfw": {}, "sex": {}, "porn": {}, "porno": {}, "pornography": {},
	"nude": {}, "nudity": {}, "xxx": {}, "erotic": {}, "explicit": {}, "fetish": {},
}

var profanity = []string{
	"fuck", "shit", "bitch", "asshole", "dick", "cunt", "bastard",
}

var leetReplacer = strings.NewReplacer(
	"0", "o", "1", "i", "!", "i", "|", "l", "3", "e", "4", "a",
	"5", "s", "7", "t", "8", "b", "9", "g", "$", "s", "@", "a",
)

// Violation returns a human-readable reason when the text must be rejected,
// or the empty string when it is acceptable.
func Violation(text string) string {
	normalized := leetReplacer.Replace(strings.ToLower(text))
	for word := range nsfwWords {
		if strings.Contains(normalized, word) {
			return "NSFW content not allowed"
		}
	}
	for _, pattern := range bannedPatterns {
		if pattern.MatchString(normalized) {
			return "code or unsafe content not allowed"
		}
	}
	if reason := gibberishReason(text); reason != "" {
		return "gibberish: " + reason
	}
	return ""
}

func gibberishReason(text string) string {
	t := strings.TrimSpace(text)
	if len(t) < minPromptLength {
		return "too short"
	}
	if hasRepeatedRun(t, 6) {
		return "excessive repeated characters"
	}
	if len(t) > 20 {
		uniq := make(map[rune]struct{})
		for _, r := range t {
			uniq[r] = struct{}{}
		}
		if float64(len(uniq))/float64(len([]rune(t))) < 0.15 {
			return "very low character variety"
		}
	}
	var alnum, digits int
	for _, r := range t {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			alnum++
			if unicode.IsDigit(r) {
				digits++
			}
		}
	}
	if alnum > 0 && float64(digits)/float64(alnum) > 0.6 {
		return "mostly numbers"
	}
	var meaningfulWords int
	for _, w := range wordPattern.FindAllString(t, -1) {
		if len(w) >= 3 {
			meaningfulWords++
		}
	}
	if meaningfulWords < 3 {
		return "too few meaningful words"
	}
	var letters, vowels int
	for _, r := range strings.ToLower(t) {
		if r >= 'a' && r <= 'z' {
			letters++
			if strings.ContainsRune("aeiou", r) {
				vowels++
			}
		}
	}
	if letters >= 6 && float64(vowels)/float64(letters) < 0.25 {
		return "very low vowel ratio"
	}
	var noise int
	for _, r := range t {
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) && !unicode.IsSpace(r) && !strings.ContainsRune(".,!?'-", r) {
			noise++
		}
	}
	if float64(noise)/float64(max(1, len([]rune(t)))) > 0.4 {
		return "too much non-alphanumeric noise"
	}
	if hasRepeatedNgram(t) {
		return "repeated pattern gibberish"
	}
	return ""
}

var wordPattern = regexp.MustCompile(`[A-Za-z]+`)

// hasRepeatedRun reports a run of the same rune at least n long.
func hasRepeatedRun(text string, n int) bool {
	var prev rune
	run := 0
	for _, r := range text {
		if r == prev {
			run++
			if run >= n {
				return true
			}
		} else {
			prev = r
			run = 1
		}
	}
	return false
}

// hasRepeatedNgram detects keyboard-smash style repetition of short n-grams.
func hasRepeatedNgram(text string) bool {
	squeezed := strings.Join(strings.Fields(text), "")
	runes := []rune(squeezed)
	for _, n := range []int{2, 3, 4} {
		if len(runes) < n*4 {
			continue
		}
		counts := make(map[string]int)
		for i := 0; i+n <= len(runes); i++ {
			counts[string(runes[i:i+n])]++
		}
		threshold := max(4, len(runes)/(n*3))
		for _, c := range counts {
			if c >= threshold {
				return true
			}
		}
	}
	return false
}

var (
	backtickPattern   = regexp.MustCompile("`{1,3}")
	urlPattern        = regexp.MustCompile(`https?://\S+`)
	whitespacePattern = regexp.MustCompile(`\s+`)
)

// PrepareForTransform normalizes winning prompt text before the external
// transform call: code fences and URLs removed, whitespace collapsed,
// punctuation deduplicated, sentence-cased, profanity masked.
func PrepareForTransform(text string) string {
	t := strings.TrimSpace(text)
	t = backtickPattern.ReplaceAllString(t, "")
	t = urlPattern.ReplaceAllString(t, "")
	t = strings.TrimSpace(whitespacePattern.ReplaceAllString(t, " "))
	t = dedupePunctuation(t)

	runes := []rune(t)
	if len(runes) > 0 && unicode.IsLetter(runes[0]) {
		runes[0] = unicode.ToUpper(runes[0])
		t = string(runes)
	}
	if t != "" && !strings.ContainsRune(".!?", rune(t[len(t)-1])) {
		t += "."
	}
	return maskProfanity(t)
}

func dedupePunctuation(text string) string {
	var b strings.Builder
	var prev rune
	for _, r := range text {
		if r == prev && strings.ContainsRune("!?.,", r) {
			continue
		}
		b.WriteRune(r)
		prev = r
	}
	return b.String()
}

func maskProfanity(text string) string {
	words := make([]string, 0, len(profanity)+len(nsfwWords))
	words = append(words, profanity...)
	for w := range nsfwWords {
		words = append(words, w)
	}
	for _, w := range words {
		pattern := regexp.MustCompile(`(?i)\b` + regexp.QuoteMeta(w) + `\b`)
		text = pattern.ReplaceAllStringFunc(text, func(m string) string {
			if len(m) <= 2 {
				return strings.Repeat("*", len(m))
			}
			return m[:1] + strings.Repeat("*", len(m)-2) + m[len(m)-1:]
		})
	}
	return text
}
