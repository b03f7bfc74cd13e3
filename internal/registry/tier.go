package registry

import "github.com/timecoin/node/pkg/models"

// TierInfo is one row of the collateral-tier table. APYPercent and
// MinUptime are informational: nothing outside this table reads them,
// and they do not enter the voting-power formula.
type TierInfo struct {
	Tier              models.Tier
	MinCollateral     uint64
	BaseWeight        uint64
	APYPercent        float64
	VoteMaturityBlocks uint64
	MinUptime         float64
}

var tierTable = []TierInfo{
	{
		Tier:               models.TierProfessional,
		MinCollateral:      100_000,
		BaseWeight:         50,
		APYPercent:         30.0,
		VoteMaturityBlocks: 10,
		MinUptime:          0.98,
	},
	{
		Tier:               models.TierVerified,
		MinCollateral:      10_000,
		BaseWeight:         10,
		APYPercent:         24.0,
		VoteMaturityBlocks: 3,
		MinUptime:          0.95,
	},
	{
		Tier:               models.TierCommunity,
		MinCollateral:      1_000,
		BaseWeight:         1,
		APYPercent:         18.0,
		VoteMaturityBlocks: 1,
		MinUptime:          0.90,
	},
}

// ClassifyTier returns the tier for a given collateral amount, or
// (TierNone, false) if the amount is below the Community minimum.
// Tier is a pure function of collateral.
func ClassifyTier(collateral uint64) (models.Tier, bool) {
	for _, t := range tierTable {
		if collateral >= t.MinCollateral {
			return t.Tier, true
		}
	}
	return models.TierNone, false
}

// Info returns the table row for a tier. Panics on models.TierNone —
// callers must classify successfully first.
func Info(tier models.Tier) TierInfo {
	for _, t := range tierTable {
		if t.Tier == tier {
			return t
		}
	}
	panic("registry: Info called with TierNone")
}

// LongevityMultiplier is
// min(3.0, 1 + (days_since_registration/365) * 0.5).
func LongevityMultiplier(daysSinceRegistration float64) float64 {
	m := 1.0 + (daysSinceRegistration/365.0)*0.5
	if m > 3.0 {
		return 3.0
	}
	return m
}
