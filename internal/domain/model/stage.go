package model

import (
	"encoding/json"
	"fmt"
)

// Stage is the progress of a transfer narrative. Values are ordered.
type Stage int

const (
	StageUnknown Stage = iota
	StageRumour
	StageInterest
	StageTalks
	StageBid
	StageAgreed
	StageMedical
	StageHereWeGo
	StageConfirmed
)

var stageNames = [...]string{
	StageUnknown:   "unknown",
	StageRumour:    "rumour",
	StageInterest:  "interest",
	StageTalks:     "talks",
	StageBid:       "bid",
	StageAgreed:    "agreed",
	StageMedical:   "medical",
	StageHereWeGo:  "here_we_go",
	StageConfirmed: "confirmed",
}

func (s Stage) String() string {
	if s < 0 || int(s) >= len(stageNames) {
		return stageNames[StageUnknown]
	}
	return stageNames[s]
}

// ParseStage maps a stage name back to its value.
func ParseStage(name string) (Stage, error) {
	for i, n := range stageNames {
		if n == name {
			return Stage(i), nil
		}
	}
	return StageUnknown, fmt.Errorf("%w: %q", ErrUnknownStage, name)
}

// Max returns the more advanced of two stages.
func (s Stage) Max(o Stage) Stage {
	if o > s {
		return o
	}
	return s
}

func (s Stage) MarshalJSON() ([]byte, error) { return json.Marshal(s.String()) }

func (s *Stage) UnmarshalJSON(b []byte) error {
	var name string
	if err := json.Unmarshal(b, &name); err != nil {
		return err
	}
	v, err := ParseStage(name)
	if err != nil {
		return err
	}
	*s = v
	return nil
}
