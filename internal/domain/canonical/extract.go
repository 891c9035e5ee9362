package canonical

import (
	"slices"
	"strings"

	"github.com/okian/transferwire/internal/domain/model"
)

// Extractor extracts keys with a specific gazetteer.
type Extractor struct {
	clubs *Gazetteer
}

// NewExtractor returns an Extractor. A nil gazetteer uses the built-in clubs.
func NewExtractor(g *Gazetteer) *Extractor {
	if g == nil {
		g = defaultGazetteer
	}
	return &Extractor{clubs: g}
}

var defaultGazetteer = NewGazetteer(nil) //nolint:gochecknoglobals // read-only after init

// Extract returns the canonical key of text using the built-in gazetteer.
func Extract(text string) Key {
	return NewExtractor(nil).Extract(text)
}

// Gazetteer returns the extractor's club gazetteer.
func (e *Extractor) Gazetteer() *Gazetteer { return e.clubs }

// Extract returns the canonical key of text.
//
// Grammar:
//
//	clubs  = every gazetteer alias in the text (longest match first)
//	stage  = the most advanced stage phrase in the text
//	player = surname of the first capitalised name phrase that is neither a
//	         club alias nor a stopword; particles may sit inside the phrase
func (e *Extractor) Extract(text string) Key {
	tokens := tokenize(text)
	isClub := make([]bool, len(tokens))

	var k Key
	for i := 0; i < len(tokens); {
		if tokens[i].tagged {
			i++
			continue
		}
		if id, n := e.clubs.match(tokens, i); n > 0 {
			k.Clubs = append(k.Clubs, id)
			for j := i; j < i+n; j++ {
				isClub[j] = true
			}
			i += n
			continue
		}
		i++
	}
	slices.Sort(k.Clubs)
	k.Clubs = slices.Compact(k.Clubs)

	k.Stage = detectStage(tokens)
	k.Player = detectPlayer(tokens, isClub)

	if !k.HasEntities() {
		k.Tokens = contentTokens(tokens)
	}
	return k
}

func detectStage(tokens []token) model.Stage {
	stage := model.StageUnknown
	for i := range tokens {
		for n := min(maxAliasWords, len(tokens)-i); n > 0; n-- {
			if s, ok := StageOf(joinFold(tokens[i : i+n])); ok {
				stage = stage.Max(s)
			}
		}
	}
	return stage
}

func nameStart(t token, club bool) bool {
	return t.word && t.capital && !t.tagged && !club && !isStopword(t.fold)
}

func detectPlayer(tokens []token, isClub []bool) string {
	for i := range tokens {
		if !nameStart(tokens[i], isClub[i]) {
			continue
		}
		phrase := []string{tokens[i].fold}
		for j := i + 1; j < len(tokens); j++ {
			t := tokens[j]
			if nameStart(t, isClub[j]) {
				phrase = append(phrase, t.fold)
				continue
			}
			// A particle only joins when a capitalised name follows it.
			if t.word && isParticle(t.fold) && j+1 < len(tokens) && nameStart(tokens[j+1], isClub[j+1]) {
				phrase = append(phrase, t.fold)
				continue
			}
			break
		}
		return surname(phrase)
	}
	return ""
}

// surname drops the given name of a multi-word phrase.
func surname(phrase []string) string {
	if len(phrase) == 1 {
		return phrase[0]
	}
	return strings.Join(phrase[1:], " ")
}

func contentTokens(tokens []token) []string {
	out := make([]string, 0, len(tokens))
	for _, t := range tokens {
		if !t.word || t.tagged || isStopword(t.fold) {
			continue
		}
		out = append(out, t.fold)
	}
	slices.Sort(out)
	return slices.Compact(out)
}
