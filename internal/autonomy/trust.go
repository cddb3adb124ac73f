package autonomy

import (
	"math"

	"chatterfix/internal/utils"
)

// Base trust per action kind. Stock and schedule data come straight from
// the database; host load is the noisiest signal.
var baseTrust = map[Kind]float64{
	KindReorderPart:           0.5,
	KindPreventiveMaintenance: 0.45,
	KindServiceFollowup:       0.4,
	KindInvestigateLoad:       0.3,
}

const duplicatePenalty = 1.0

// TrustScore is an additive breakdown of how confident the engine is in an action
type TrustScore struct {
	Factors map[string]float64 `json:"factors"`
	Total   float64            `json:"total"`
}

func newTrust(kind Kind) *TrustScore {
	t := &TrustScore{Factors: map[string]float64{}}
	t.add("base", baseTrust[kind])
	return t
}

func (t *TrustScore) add(factor string, value float64) {
	if value == 0 {
		return
	}
	t.Factors[factor] += round(value)
	var sum float64
	for _, v := range t.Factors {
		sum += v
	}
	t.Total = round(utils.Clamp(sum, 0, 1))
}

// stockEvidence grows with how far below its reorder point a part is.
func stockEvidence(quantity, minQuantity int) float64 {
	if quantity <= 0 {
		return 0.3
	}
	if minQuantity <= 0 {
		return 0
	}
	deficit := 1 - float64(quantity)/float64(minQuantity)
	return 0.3 * utils.Clamp(deficit, 0, 1)
}

// overdueEvidence reaches its cap once a schedule is a full period late.
func overdueEvidence(overdueDays float64, frequencyDays int) float64 {
	if overdueDays <= 0 || frequencyDays <= 0 {
		return 0.05
	}
	return 0.05 + 0.25*utils.Clamp(overdueDays/float64(frequencyDays), 0, 1)
}

// criticalityEvidence centers on the default criticality of 3.
func criticalityEvidence(criticality int) float64 {
	if criticality == 0 {
		return 0
	}
	return 0.05 * float64(criticality-3)
}

// loadEvidence scales with how far the worst of CPU and memory is above the threshold.
func loadEvidence(percent, threshold float64) float64 {
	if percent <= threshold {
		return 0
	}
	return 0.2 + 0.3*utils.Clamp((percent-threshold)/(100-threshold), 0, 1)
}

func round(v float64) float64 {
	return math.Round(v*1000) / 1000
}
