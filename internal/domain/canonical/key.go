// Package canonical turns signal text into canonical story keys.
//
// A Key is the entity tuple a story is identified by: the player, the set of
// clubs involved and the transfer stage. Extraction is a pure function of the
// text, so the same text always produces the same key.
package canonical

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"github.com/okian/transferwire/internal/domain/model"
)

// hashBytes is the number of SHA-256 bytes kept in a canonical hash.
const hashBytes = 16

// textPrefix marks identities built from text tokens when no entity was found.
const textPrefix = "text:"

// Key is the canonical entity tuple extracted from a signal.
type Key struct {
	Player string      `json:"player,omitempty"`
	Clubs  []string    `json:"clubs,omitempty"` // sorted, unique club ids
	Stage  model.Stage `json:"stage"`
	// Tokens are the content words of the text. They only identify the key
	// when neither a player nor a club was found.
	Tokens []string `json:"-"`
}

// HasEntities reports whether a player or club was extracted.
func (k Key) HasEntities() bool { return k.Player != "" || len(k.Clubs) > 0 }

// Identity is the pre-hash form of the key. The stage is not part of it:
// a story keeps its identity while the transfer progresses.
func (k Key) Identity() string {
	if !k.HasEntities() {
		return textPrefix + strings.Join(k.Tokens, " ")
	}
	return k.Player + "|" + strings.Join(k.Clubs, ",")
}

// Hash returns the canonical hash (hex, 16 bytes of SHA-256).
func (k Key) Hash() string {
	sum := sha256.Sum256([]byte(k.Identity()))
	return hex.EncodeToString(sum[:hashBytes])
}

// Label renders the key for logs and reports.
func (k Key) Label(g *Gazetteer) string {
	if !k.HasEntities() {
		return k.Identity()
	}
	parts := make([]string, 0, len(k.Clubs)+1)
	if k.Player != "" {
		parts = append(parts, Title(k.Player))
	}
	for _, c := range k.Clubs {
		if g != nil {
			parts = append(parts, g.Display(c))
		} else {
			parts = append(parts, c)
		}
	}
	return strings.Join(parts, " / ")
}
