package pricing

import (
	"fmt"
	"math"

	"github.com/nexusai/credit-engine/internal/domain"
)

// Rate is the unit economics for one (service kind, provider) pair.
// CreditsPerUnit and CostPerUnit are expressed per single unit of the
// declared UnitKind; token rates are written as per-1k divided down.
type Rate struct {
	UnitKind       domain.UnitKind
	CreditsPerUnit float64
	CostPerUnit    float64
}

// Quote is the priced outcome for a usage report.
type Quote struct {
	Credits int64
	CostUSD float64
	Rate    string
}

// Fallback rates for usage the catalog has no entry for. Unknown
// usage must still be billable, so pricing never fails a request.
const (
	fallbackUnitsPerCredit = 100
	fallbackCostPerUnit    = 0.0001
	mismatchCostPerUnit    = 0.001
)

// Catalog is the static, versioned pricing table. It is immutable
// after construction and safe for concurrent use without
// synchronization.
type Catalog struct {
	rates map[domain.ServiceKind]map[string]Rate
}

// Default returns the canonical catalog. Providers map to a fixed rate
// validated here at construction; anything unlisted prices through the
// conservative linear fallback.
func Default() *Catalog {
	return &Catalog{rates: map[domain.ServiceKind]map[string]Rate{
		domain.ServiceGPT: {
			"gpt-4o-mini": {UnitKind: domain.UnitTokens, CreditsPerUnit: 1.0 / 1000, CostPerUnit: 0.00015 / 1000},
			"gpt-4o":      {UnitKind: domain.UnitTokens, CreditsPerUnit: 8.0 / 1000, CostPerUnit: 0.0025 / 1000},
			"gpt-4":       {UnitKind: domain.UnitTokens, CreditsPerUnit: 25.0 / 1000, CostPerUnit: 0.03 / 1000},
		},
		domain.ServiceVoiceTTS: {
			"cartesia":   {UnitKind: domain.UnitCharacters, CreditsPerUnit: 0.0008, CostPerUnit: 0.000011},
			"openai-tts": {UnitKind: domain.UnitCharacters, CreditsPerUnit: 0.001, CostPerUnit: 0.000015},
		},
		domain.ServiceVoiceSTT: {
			"deepgram":       {UnitKind: domain.UnitMinutes, CreditsPerUnit: 8, CostPerUnit: 0.0043},
			"openai-whisper": {UnitKind: domain.UnitMinutes, CreditsPerUnit: 10, CostPerUnit: 0.006},
		},
		domain.ServiceVision: {
			"gpt-4o-vision": {UnitKind: domain.UnitImages, CreditsPerUnit: 40, CostPerUnit: 0.008},
			"gpt-4-vision":  {UnitKind: domain.UnitImages, CreditsPerUnit: 50, CostPerUnit: 0.01},
		},
		domain.ServicePhone: {
			"twilio":      {UnitKind: domain.UnitMinutes, CreditsPerUnit: 20, CostPerUnit: 0.0085},
			"twilio-intl": {UnitKind: domain.UnitMinutes, CreditsPerUnit: 35, CostPerUnit: 0.015},
		},
		domain.ServiceRealtime: {
			"livekit":        {UnitKind: domain.UnitMinutes, CreditsPerUnit: 12, CostPerUnit: 0.004},
			"livekit-egress": {UnitKind: domain.UnitMinutes, CreditsPerUnit: 15, CostPerUnit: 0.005},
		},
	}}
}

// Lookup returns the rate for a (service kind, provider) pair.
func (c *Catalog) Lookup(kind domain.ServiceKind, provider string) (Rate, bool) {
	rate, ok := c.rates[kind][provider]
	return rate, ok
}

// Price computes credits and estimated USD cost for a usage report.
// Credits are floored to an integer with a hard floor of 1 credit for
// any strictly positive unit count; zero or negative units price to
// zero.
func (c *Catalog) Price(kind domain.ServiceKind, provider string, units int64, unitKind domain.UnitKind) Quote {
	if units <= 0 {
		return Quote{Rate: "no units consumed"}
	}

	rate, ok := c.rates[kind][provider]
	if !ok {
		credits := max64(1, units/fallbackUnitsPerCredit)
		return Quote{
			Credits: credits,
			CostUSD: float64(units) * fallbackCostPerUnit,
			Rate:    fmt.Sprintf("1 credit per %d %s (default rate)", fallbackUnitsPerCredit, unitKind),
		}
	}

	if rate.UnitKind != unitKind {
		// The provider is known but was reported in the wrong unit;
		// charge one credit per unit rather than refusing to bill.
		return Quote{
			Credits: max64(1, units),
			CostUSD: float64(units) * mismatchCostPerUnit,
			Rate:    fmt.Sprintf("1 credit per %s (unit mismatch, expected %s)", unitKind, rate.UnitKind),
		}
	}

	credits := int64(math.Floor(float64(units) * rate.CreditsPerUnit))
	if credits < 1 {
		credits = 1
	}
	return Quote{
		Credits: credits,
		CostUSD: float64(units) * rate.CostPerUnit,
		Rate:    fmt.Sprintf("%d credits for %d %s", credits, units, unitKind),
	}
}

func max64(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}
