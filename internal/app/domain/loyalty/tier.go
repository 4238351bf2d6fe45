package loyalty

// Tier is a customer's loyalty standing, derived from lifetime earned points.
type Tier string

const (
	TierBronze   Tier = "bronze"
	TierSilver   Tier = "silver"
	TierGold     Tier = "gold"
	TierPlatinum Tier = "platinum"
)

// tierThresholds is evaluated top to bottom; entries must stay ordered by
// descending Min for TierFor to pick the highest qualifying tier.
var tierThresholds = []struct {
	Min        int64
	Tier       Tier
	Multiplier float64
}{
	{5000, TierPlatinum, 2.00},
	{3000, TierGold, 1.50},
	{1000, TierSilver, 1.25},
	{0, TierBronze, 1.00},
}

// TierFor returns the tier for a lifetime earned total.
func TierFor(lifetimeEarned int64) Tier {
	for _, t := range tierThresholds {
		if lifetimeEarned >= t.Min {
			return t.Tier
		}
	}
	return TierBronze
}

// Multiplier returns the earning multiplier applied on top of rule points.
// Unknown tiers earn at the bronze rate.
func (t Tier) Multiplier() float64 {
	for _, th := range tierThresholds {
		if th.Tier == t {
			return th.Multiplier
		}
	}
	return 1.00
}
