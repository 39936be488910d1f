package entitlement

import (
	"time"

	"github.com/chatdude/anonchat/internal/user"
)

// SKU identifies a purchasable grant. The catalog below is the closed set of
// codes accepted from payment confirmations and admin grants.
type SKU string

const (
	SKUPremiumPass30d SKU = "premium_pass_30d"
	SKUPriority7d     SKU = "priority_7d"
	SKUVault30d       SKU = "vault_30d"
	SKUDetails30d     SKU = "details_30d"
	SKURematchPack5   SKU = "rematch_pack_5"
)

// effect is one feature mutation applied by a SKU.
type effect struct {
	feature user.Feature
	dur     time.Duration // duration features: horizon extension from now
	credits int           // counter features: increment
}

const (
	premiumPassDuration = 30 * 24 * time.Hour
	premiumPassCredits  = 5
)

// catalog maps each SKU to its effects. The premium pass is the bundle:
// five duration features at one horizon plus five rematch credits.
var catalog = map[SKU][]effect{
	SKUPremiumPass30d: {
		{feature: user.FeaturePriority, dur: premiumPassDuration},
		{feature: user.FeatureVault, dur: premiumPassDuration},
		{feature: user.FeatureDetails, dur: premiumPassDuration},
		{feature: user.FeatureBadge, dur: premiumPassDuration},
		{feature: user.FeatureMood, dur: premiumPassDuration},
		{feature: user.FeatureRematch, credits: premiumPassCredits},
	},
	SKUPriority7d: {
		{feature: user.FeaturePriority, dur: 7 * 24 * time.Hour},
	},
	SKUVault30d: {
		{feature: user.FeatureVault, dur: 30 * 24 * time.Hour},
	},
	SKUDetails30d: {
		{feature: user.FeatureDetails, dur: 30 * 24 * time.Hour},
	},
	SKURematchPack5: {
		{feature: user.FeatureRematch, credits: 5},
	},
}

// KnownSKU reports whether code is in the catalog.
func KnownSKU(code SKU) bool {
	_, ok := catalog[code]
	return ok
}

// SKUs returns the catalog codes (for the /premium listing).
func SKUs() []SKU {
	return []SKU{SKUPremiumPass30d, SKUPriority7d, SKUVault30d, SKUDetails30d, SKURematchPack5}
}
