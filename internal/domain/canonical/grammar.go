package canonical

import "github.com/okian/transferwire/internal/domain/model"

// stagePhrases maps folded keyword phrases to the stage they announce.
// The most advanced stage found in a text wins.
var stagePhrases = map[string]model.Stage{ //nolint:gochecknoglobals // read-only grammar
	"rumour": model.StageRumour, "rumours": model.StageRumour, "rumor": model.StageRumour,
	"linked": model.StageRumour, "speculation": model.StageRumour,

	"interest": model.StageInterest, "interested": model.StageInterest, "monitoring": model.StageInterest,
	"eyeing": model.StageInterest, "target": model.StageInterest, "keen": model.StageInterest,
	"scouting": model.StageInterest, "shortlist": model.StageInterest, "approach": model.StageInterest,

	"talks": model.StageTalks, "negotiations": model.StageTalks, "negotiating": model.StageTalks,
	"in contact": model.StageTalks, "discussions": model.StageTalks, "signing": model.StageTalks,

	"bid": model.StageBid, "offer": model.StageBid, "proposal": model.StageBid, "bids": model.StageBid,
	"submitted": model.StageBid,

	"agree": model.StageAgreed, "agreed": model.StageAgreed, "agreement": model.StageAgreed,
	"agrees": model.StageAgreed, "personal terms": model.StageAgreed, "deal done": model.StageAgreed,
	"done deal": model.StageAgreed, "accepted": model.StageAgreed, "accept": model.StageAgreed,
	"accepts": model.StageAgreed,

	"medical": model.StageMedical, "medicals": model.StageMedical, "medical tests": model.StageMedical,

	"here we go": model.StageHereWeGo,

	"confirmed": model.StageConfirmed, "official": model.StageConfirmed, "signs": model.StageConfirmed,
	"signed": model.StageConfirmed, "completed": model.StageConfirmed, "unveiled": model.StageConfirmed,
	"completes": model.StageConfirmed, "announced": model.StageConfirmed, "confirm": model.StageConfirmed,
	"confirms": model.StageConfirmed, "sign": model.StageConfirmed, "joins": model.StageConfirmed,
	"joined": model.StageConfirmed, "complete": model.StageConfirmed, "seals": model.StageConfirmed,
}

// stopwords never start or extend a player name phrase, even when capitalised.
var stopwords = map[string]struct{}{} //nolint:gochecknoglobals // read-only grammar

// nameParticles may sit inside a player name ("Frenkie de Jong").
var nameParticles = map[string]struct{}{ //nolint:gochecknoglobals // read-only grammar
	"de": {}, "van": {}, "der": {}, "von": {}, "di": {}, "da": {}, "dos": {}, "del": {},
	"le": {}, "la": {}, "ter": {}, "ten": {}, "el": {}, "bin": {}, "ben": {},
}

func init() { //nolint:gochecknoinits // derived read-only tables
	words := []string{
		"a", "an", "the", "to", "for", "of", "in", "on", "at", "and", "or", "with", "from", "by", "as",
		"is", "are", "was", "be", "been", "has", "have", "had", "will", "would", "could", "into", "over",
		"after", "per", "via", "but", "not", "no", "yes", "it", "its", "he", "his", "him", "they", "their",
		"this", "that", "these", "also", "now", "just", "set", "close", "closing", "very", "more", "all",
		"fee", "deal", "done", "breaking", "exclusive", "update", "report", "reports", "reported", "reportedly",
		"understand", "understands", "sources", "source", "club", "clubs", "told", "here", "we", "go",
		"new", "total", "add", "ons", "plus", "million", "euros", "pounds", "today", "tonight", "tomorrow",
		"verbal", "contract", "until", "player", "players", "transfer", "transfers", "window", "summer",
		"january", "personal", "terms", "first", "next", "last", "big", "huge", "news", "latest", "live",
		"monday", "tuesday", "wednesday", "thursday", "friday", "saturday", "sunday",
		"premier", "league", "serie", "liga", "bundesliga", "champions", "fifa", "uefa",
		"according", "sky", "sports", "bbc", "espn", "romano", "fabrizio", "athletic", "guardian", "marca",
	}
	for _, w := range words {
		stopwords[w] = struct{}{}
	}
	for phrase := range stagePhrases {
		stopwords[phrase] = struct{}{}
	}
}

func isStopword(fold string) bool {
	_, ok := stopwords[fold]
	return ok
}

func isParticle(fold string) bool {
	_, ok := nameParticles[fold]
	return ok
}

// StageOf returns the most advanced stage named by a folded phrase.
func StageOf(phrase string) (model.Stage, bool) {
	s, ok := stagePhrases[phrase]
	return s, ok
}
