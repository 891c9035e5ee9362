package canonical

import (
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// foldAccents strips combining marks, so "Barça" becomes "Barca" and
// "Ødegaard" keeps its base letter. Case is preserved.
// Transformers are stateful, so a fresh chain is built per call.
func foldAccents(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		return s
	}
	return out
}

// Fold returns the comparison form of s: accents removed, case folded.
func Fold(s string) string {
	return cases.Fold().String(foldAccents(strings.TrimSpace(s)))
}

// Title renders a folded name for display ("de jong" -> "De Jong").
func Title(s string) string {
	return cases.Title(language.English).String(s)
}

type token struct {
	raw     string // accent-folded, original case
	fold    string
	capital bool
	word    bool // letters only (apostrophes allowed)
	tagged  bool // preceded by @ or #
}

// tokenize splits text into word and number tokens. Possessive 's is dropped.
func tokenize(text string) []token {
	text = foldAccents(text)
	var (
		out    []token
		cur    []rune
		tagged bool
		prev   rune
	)
	flush := func() {
		if len(cur) == 0 {
			tagged = false
			return
		}
		raw := strings.Trim(string(cur), "'")
		raw = strings.TrimSuffix(raw, "'s")
		cur = cur[:0]
		if raw == "" {
			tagged = false
			return
		}
		word := true
		for _, r := range raw {
			if !unicode.IsLetter(r) && r != '\'' {
				word = false
				break
			}
		}
		first := []rune(raw)[0]
		out = append(out, token{
			raw:     raw,
			fold:    cases.Fold().String(raw),
			capital: unicode.IsUpper(first),
			word:    word,
			tagged:  tagged,
		})
		tagged = false
	}
	for _, r := range text {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			if len(cur) == 0 && (prev == '@' || prev == '#') {
				tagged = true
			}
			cur = append(cur, r)
		case r == '\'' || r == '’':
			if len(cur) > 0 {
				cur = append(cur, '\'')
			}
		default:
			flush()
		}
		prev = r
	}
	flush()
	return out
}
