package canonical

import (
	"unicode/utf8"

	"github.com/agnivade/levenshtein"
)

// Similarity scores how likely two keys describe the same transfer, in [0,1].
// It is the normalised player edit similarity times the club overlap. For the
// same player the overlap is containment, so a report that also names the
// selling club still matches one naming only the buyer.
// Keys without a player on both sides score 0: there is nothing to fuzz on.
func Similarity(a, b Key) float64 {
	if a.Player == "" || b.Player == "" {
		return 0
	}
	if a.Player == b.Player {
		return clubOverlap(a.Clubs, b.Clubs, true)
	}
	return playerSimilarity(a.Player, b.Player) * clubOverlap(a.Clubs, b.Clubs, false)
}

func playerSimilarity(a, b string) float64 {
	if a == b {
		return 1
	}
	longest := max(utf8.RuneCountInString(a), utf8.RuneCountInString(b))
	if longest == 0 {
		return 0
	}
	d := levenshtein.ComputeDistance(a, b)
	return 1 - float64(d)/float64(longest)
}

// clubOverlap is |A∩B| / |A∪B| over sorted unique club ids, or
// |A∩B| / min(|A|,|B|) when contained is set. Two empty sets overlap fully.
func clubOverlap(a, b []string, contained bool) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 1
	}
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	inter, i, j := 0, 0, 0
	for i < len(a) && j < len(b) {
		switch {
		case a[i] == b[j]:
			inter++
			i++
			j++
		case a[i] < b[j]:
			i++
		default:
			j++
		}
	}
	if contained {
		return float64(inter) / float64(min(len(a), len(b)))
	}
	union := len(a) + len(b) - inter
	return float64(inter) / float64(union)
}
