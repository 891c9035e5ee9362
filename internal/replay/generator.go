package replay

import (
	"fmt"
	"math/rand"
	"time"

	"github.com/google/uuid"

	"github.com/okian/transferwire/internal/domain/model"
)

// players are display names whose surname the extractor keys stories on.
var players = []string{ //nolint:gochecknoglobals // read-only fixtures
	"Declan Rice", "Victor Osimhen", "Florian Wirtz", "Jamal Musiala",
	"Rafael Leao", "Alexander Isak", "Joao Neves", "Nico Williams",
	"Viktor Gyokeres", "Jonathan David", "Martin Zubimendi", "Khvicha Kvaratskhelia",
}

// moves are selling and buying clubs by a gazetteer alias.
var moves = [][2]string{ //nolint:gochecknoglobals // read-only fixtures
	{"Chelsea", "Arsenal"},
	{"Napoli", "PSG"},
	{"Leverkusen", "Real Madrid"},
	{"Bayern", "Liverpool"},
	{"Milan", "Barcelona"},
	{"Newcastle", "Man City"},
	{"Benfica", "Juventus"},
	{"Porto", "Man Utd"},
}

var regions = []model.Region{ //nolint:gochecknoglobals // read-only fixtures
	model.RegionEngland, model.RegionSpain, model.RegionItaly, model.RegionGermany, model.RegionFrance,
}

// ladder is the order in which a transfer is reported. Every template names
// both clubs so all reports of one transfer share a canonical key.
var ladder = []struct { //nolint:gochecknoglobals // read-only fixtures
	stage     model.Stage
	templates []string
}{
	{model.StageTalks, []string{
		"%[3]s in talks with %[2]s over %[1]s transfer",
		"%[1]s transfer: %[3]s open negotiations with %[2]s",
	}},
	{model.StageBid, []string{
		"%[3]s submit %[4]s bid for %[2]s star %[1]s",
		"%[3]s make %[4]s offer to %[2]s for %[1]s",
	}},
	{model.StageAgreed, []string{
		"%[3]s agree %[4]s fee with %[2]s for %[1]s",
		"%[1]s agrees personal terms with %[3]s after %[2]s accept fee",
	}},
	{model.StageMedical, []string{
		"%[1]s undergoing medical at %[3]s ahead of %[4]s transfer from %[2]s",
	}},
	{model.StageHereWeGo, []string{
		"Here we go! %[1]s to %[3]s from %[2]s, %[4]s fee",
	}},
	{model.StageConfirmed, []string{
		"Official: %[1]s transfer from %[2]s to %[3]s completed",
	}},
}

// chatter never reads as transfer news.
var chatter = []string{ //nolint:gochecknoglobals // read-only fixtures
	"Match report: %[2]s 2-1 %[3]s",
	"Injury update: %[1]s back in %[2]s training",
	"Player ratings from %[3]s against %[2]s",
}

// Constants for fee generation.
const (
	feeMin  = 20
	feeStep = 5
	feeSpan = 21
)

// stalledCeiling is the highest ladder rung a transfer that never happens
// reaches: talks or a bid.
const stalledCeiling = 1

// honestSkip is how often a tier 1 source declines to repeat a transfer that
// will not happen.
const honestSkip = 0.7

type transfer struct {
	player  string
	from    string
	to      string
	fee     string
	genuine bool
	ceiling int // highest ladder rung
	rung    int // current rung, -1 before the first report
}

func (t *transfer) text(rng *rand.Rand, templates []string) string {
	tpl := templates[rng.Intn(len(templates))]
	return fmt.Sprintf(tpl, t.player, t.from, t.to, t.fee)
}

// generator produces timestamped signal batches, one per cycle.
type generator struct {
	cfg       Config
	rng       *rand.Rand
	sources   []model.Source
	transfers []*transfer

	sent   []model.Signal
	origin map[string]int // signal id -> transfer index, -1 for chatter
}

func buildSources(n int) []model.Source {
	out := make([]model.Source, n)
	for i := range out {
		out[i] = model.Source{
			ID:     fmt.Sprintf("replay-%02d", i+1),
			Name:   fmt.Sprintf("Replay Desk %d", i+1),
			Region: regions[i%len(regions)],
			Tier:   i%model.MaxTier + 1,
			Active: true,
			Kind:   model.SourceKindPush,
		}
	}
	return out
}

func newGenerator(cfg Config, sources []model.Source) *generator {
	g := &generator{
		cfg:     cfg,
		rng:     rand.New(rand.NewSource(cfg.Seed)), //nolint:gosec // deterministic replays
		sources: sources,
		origin:  make(map[string]int),
	}
	for i := 0; i < cfg.Transfers; i++ {
		p := i % len(players)
		move := moves[(i/len(players)+p)%len(moves)]
		t := &transfer{
			player:  players[p],
			from:    move[0],
			to:      move[1],
			fee:     fmt.Sprintf("£%dm", feeMin+feeStep*g.rng.Intn(feeSpan)),
			genuine: g.rng.Float64() < cfg.GenuineRate,
			rung:    -1,
		}
		t.ceiling = len(ladder) - 1
		if !t.genuine {
			t.ceiling = g.rng.Intn(stalledCeiling + 1)
		}
		g.transfers = append(g.transfers, t)
	}
	return g
}

// id draws a uuid from the seeded stream so replays are repeatable.
func (g *generator) id() string {
	u, err := uuid.NewRandomFromReader(g.rng)
	if err != nil {
		return uuid.NewString()
	}
	return u.String()
}

func (g *generator) signal(src model.Source, text string, at time.Time, step time.Duration, origin int) model.Signal {
	sig := model.Signal{
		ID:         g.id(),
		SourceID:   src.ID,
		Text:       text,
		ObservedAt: at.Add(time.Duration(g.rng.Int63n(int64(step)))),
	}
	g.origin[sig.ID] = origin
	return sig
}

func (g *generator) pick() model.Source { return g.sources[g.rng.Intn(len(g.sources))] }

// batch returns the signals observed in [at, at+step).
func (g *generator) batch(at time.Time, step time.Duration) (fresh, resent []model.Signal) {
	for i, t := range g.transfers {
		reporters := 0
		switch {
		case t.rung < t.ceiling && g.rng.Float64() < advanceChance:
			t.rung++
			reporters = 1 + g.rng.Intn(maxReporters)
		case t.rung >= 0 && g.rng.Float64() < advanceChance/2:
			reporters = 1
		}
		for r := 0; r < reporters; r++ {
			src := g.pick()
			if !t.genuine && src.Tier == model.MinTier && g.rng.Float64() < honestSkip {
				continue
			}
			fresh = append(fresh, g.signal(src, t.text(g.rng, ladder[t.rung].templates), at, step, i))
		}
		if g.rng.Float64() < g.cfg.NoiseRate {
			fresh = append(fresh, g.signal(g.pick(), t.text(g.rng, chatter), at, step, -1))
		}
	}

	if len(g.sent) > 0 {
		for range int(float64(len(fresh))*g.cfg.ResendRate + 0.5) {
			resent = append(resent, g.sent[g.rng.Intn(len(g.sent))])
		}
	}
	g.sent = append(g.sent, fresh...)
	return fresh, resent
}

// transferOf returns the transfer a signal reports, or nil for chatter.
func (g *generator) transferOf(signalID string) *transfer {
	i, ok := g.origin[signalID]
	if !ok || i < 0 {
		return nil
	}
	return g.transfers[i]
}
