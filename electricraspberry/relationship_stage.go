package electricraspberry

import "fmt"

// RelationshipStage is a coarse label for relationship strength.
type RelationshipStage int

const (
	StageStranger RelationshipStage = iota
	StageAcquaintance
	StageCasual
	StageFriend
	StageCloseFriend
)

func (s RelationshipStage) String() string {
	switch s {
	case StageStranger:
		return "stranger"
	case StageAcquaintance:
		return "acquaintance"
	case StageCasual:
		return "casual"
	case StageFriend:
		return "friend"
	case StageCloseFriend:
		return "close_friend"
	default:
		return fmt.Sprintf("RelationshipStage(%d)", int(s))
	}
}

func (s RelationshipStage) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Stage returns the highest stage whose threshold strength meets.
func (t RelationshipStageThresholds) Stage(strength float64) RelationshipStage {
	switch {
	case strength >= t.CloseFriend:
		return StageCloseFriend
	case strength >= t.Friend:
		return StageFriend
	case strength >= t.Casual:
		return StageCasual
	case strength >= t.Acquaintance:
		return StageAcquaintance
	default:
		return StageStranger
	}
}
