package quota

import "github.com/mensahlabs/rentlink/internal/identity"

// TierCeiling defines how many contact unlocks a subscription tier grants
// per cycle. Unbounded tiers never consult the numeric ceiling.
type TierCeiling struct {
	Tier      identity.Tier
	Units     int
	Unbounded bool
}

// Ceilings is the hardcoded tier catalogue.
var Ceilings = map[identity.Tier]TierCeiling{
	identity.TierFree:      {Tier: identity.TierFree, Units: 3},
	identity.TierBasic:     {Tier: identity.TierBasic, Units: 15},
	identity.TierRelax:     {Tier: identity.TierRelax, Units: 40},
	identity.TierSuperuser: {Tier: identity.TierSuperuser, Unbounded: true},
}

// CeilingFor returns the ceiling for a tier. Unknown tiers fall back to the
// FREE ceiling so an unrecognised value can never grant unlimited access.
func CeilingFor(tier identity.Tier) TierCeiling {
	if c, ok := Ceilings[tier]; ok {
		return c
	}
	return Ceilings[identity.TierFree]
}
