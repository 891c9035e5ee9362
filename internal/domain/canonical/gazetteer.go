package canonical

import (
	"strings"
)

// maxAliasWords bounds the n-gram length used for club and stage lookups.
const maxAliasWords = 4

// defaultClubs maps canonical club ids to their aliases. Aliases are folded
// before lookup so accents and case do not matter.
var defaultClubs = map[string][]string{ //nolint:gochecknoglobals // read-only gazetteer
	"arsenal":           {"arsenal", "gunners", "afc"},
	"aston-villa":       {"aston villa", "villa"},
	"chelsea":           {"chelsea", "cfc"},
	"liverpool":         {"liverpool", "lfc"},
	"manchester-city":   {"manchester city", "man city", "mcfc"},
	"manchester-united": {"manchester united", "man utd", "man united", "mufc"},
	"newcastle":         {"newcastle", "newcastle united"},
	"tottenham":         {"tottenham", "tottenham hotspur", "spurs", "thfc"},
	"west-ham":          {"west ham", "west ham united"},
	"everton":           {"everton"},
	"brighton":          {"brighton"},
	"barcelona":         {"barcelona", "barca", "fc barcelona"},
	"real-madrid":       {"real madrid"},
	"atletico-madrid":   {"atletico madrid", "atletico", "atleti"},
	"sevilla":           {"sevilla"},
	"valencia":          {"valencia"},
	"bayern-munich":     {"bayern munich", "bayern", "bayern munchen", "fc bayern"},
	"borussia-dortmund": {"borussia dortmund", "dortmund", "bvb"},
	"leverkusen":        {"bayer leverkusen", "leverkusen"},
	"juventus":          {"juventus", "juve"},
	"inter":             {"inter", "inter milan", "internazionale"},
	"milan":             {"ac milan", "milan"},
	"napoli":            {"napoli"},
	"roma":              {"roma", "as roma"},
	"lazio":             {"lazio"},
	"atalanta":          {"atalanta"},
	"psg":               {"psg", "paris saint germain", "paris sg"},
	"marseille":         {"marseille", "olympique marseille"},
	"lyon":              {"lyon", "olympique lyonnais"},
	"monaco":            {"monaco"},
	"benfica":           {"benfica"},
	"porto":             {"porto", "fc porto"},
	"sporting":          {"sporting cp", "sporting lisbon"},
	"ajax":              {"ajax"},
	"psv":               {"psv", "psv eindhoven"},
	"al-nassr":          {"al nassr"},
	"al-hilal":          {"al hilal"},
	"inter-miami":       {"inter miami"},
}

// Gazetteer resolves club aliases to canonical club ids.
type Gazetteer struct {
	aliases map[string]string
	display map[string]string
}

// NewGazetteer builds a gazetteer from the built-in clubs plus extra
// alias -> club id pairs. Extra aliases override built-in ones.
func NewGazetteer(extra map[string]string) *Gazetteer {
	g := &Gazetteer{aliases: make(map[string]string), display: make(map[string]string)}
	for id, aliases := range defaultClubs {
		g.display[id] = Title(aliases[0])
		for _, a := range aliases {
			g.aliases[Fold(a)] = id
		}
	}
	for alias, id := range extra {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		g.aliases[Fold(alias)] = id
		if _, ok := g.display[id]; !ok {
			g.display[id] = Title(alias)
		}
	}
	return g
}

// Lookup returns the club id for a folded alias phrase.
func (g *Gazetteer) Lookup(phrase string) (string, bool) {
	id, ok := g.aliases[phrase]
	return id, ok
}

// Display returns a human name for a club id.
func (g *Gazetteer) Display(id string) string {
	if name, ok := g.display[id]; ok {
		return name
	}
	return Title(strings.ReplaceAll(id, "-", " "))
}

// Len returns the number of aliases.
func (g *Gazetteer) Len() int { return len(g.aliases) }

// match finds the longest alias starting at tokens[i] and returns the
// club id and the number of tokens consumed.
func (g *Gazetteer) match(tokens []token, i int) (string, int) {
	for n := min(maxAliasWords, len(tokens)-i); n > 0; n-- {
		if id, ok := g.aliases[joinFold(tokens[i:i+n])]; ok {
			return id, n
		}
	}
	return "", 0
}

func joinFold(ts []token) string {
	if len(ts) == 1 {
		return ts[0].fold
	}
	parts := make([]string, len(ts))
	for i, t := range ts {
		parts[i] = t.fold
	}
	return strings.Join(parts, " ")
}
