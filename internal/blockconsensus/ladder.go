// Package blockconsensus implements leader rotation, the five-stage
// strategy ladder, the network health gate, and coinbase reward
// distribution for the 24-hour block production cadence.
package blockconsensus

import "time"

// Strategy is one rung of the block-production fallback ladder.
type Strategy int

const (
	StrategyNormalBFT Strategy = iota
	StrategyLeaderRotation
	StrategyReducedThreshold
	StrategyRewardOnly
	StrategyEmergency
)

func (s Strategy) String() string {
	switch s {
	case StrategyNormalBFT:
		return "normal_bft"
	case StrategyLeaderRotation:
		return "leader_rotation"
	case StrategyReducedThreshold:
		return "reduced_threshold"
	case StrategyRewardOnly:
		return "reward_only"
	case StrategyEmergency:
		return "emergency"
	default:
		return "unknown"
	}
}

// StageSpec is one row of the strategy-ladder table.
// Threshold is a fraction of active Σ weight, except for Emergency,
// which uses the special "≥1 vote AND ≥10% of active weight" rule
// implemented directly in EvaluateStage.
type StageSpec struct {
	Strategy       Strategy
	Threshold      float64
	Timeout        time.Duration
	IncludeMempool bool
}

// Ladder is the fixed five-stage fallback sequence.
var Ladder = []StageSpec{
	{Strategy: StrategyNormalBFT, Threshold: 2.0 / 3.0, Timeout: 600 * time.Second, IncludeMempool: true},
	{Strategy: StrategyLeaderRotation, Threshold: 2.0 / 3.0, Timeout: 300 * time.Second, IncludeMempool: true},
	{Strategy: StrategyReducedThreshold, Threshold: 0.5, Timeout: 120 * time.Second, IncludeMempool: true},
	{Strategy: StrategyRewardOnly, Threshold: 1.0 / 3.0, Timeout: 60 * time.Second, IncludeMempool: false},
	{Strategy: StrategyEmergency, Threshold: 0, Timeout: 0, IncludeMempool: false},
}

// EmergencyMinWeightFraction is the "≥10% of active weight" floor for
// the last-resort Emergency stage.
const EmergencyMinWeightFraction = 0.10

// EvaluateStage reports whether a stage's threshold was met given the
// approve weight and vote count collected, and the network's total
// active weight at evaluation time.
func EvaluateStage(stage StageSpec, approveWeight uint64, approveVotes int, totalWeight uint64) bool {
	if stage.Strategy == StrategyEmergency {
		return approveVotes >= 1 && totalWeight > 0 && float64(approveWeight) >= EmergencyMinWeightFraction*float64(totalWeight)
	}
	if totalWeight == 0 {
		return false
	}
	return float64(approveWeight)/float64(totalWeight) >= stage.Threshold
}

// MinMasternodes is the network-health gate's minimum registered count.
const MinMasternodes = 4

// HealthSampleSize is the maximum number of peers probed by the health gate.
const HealthSampleSize = 5

// HealthProbeTimeout bounds each individual peer health probe.
const HealthProbeTimeout = 5 * time.Second

// LeaderForHeight returns the deterministic leader for height H: the
// node at index ((H + offset) mod |active_set|) in the lexicographically
// sorted active set. ProduceBlock passes the ladder stage index as
// offset (0 for NormalBFT), so each later stage picks the next node.
func LeaderForHeight(activeSet []string, height uint64, offset uint64) string {
	if len(activeSet) == 0 {
		return ""
	}
	idx := (height + offset) % uint64(len(activeSet))
	return activeSet[idx]
}
