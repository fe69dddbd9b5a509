// SPDX-License-Identifier: MIT

// Package scoring computes the composite plugin health/search score. The
// update and observation functions are pure; persistence lives in Store.
package scoring

import (
	"math"
	"time"
)

const (
	// Half-lives tuned to the probe cadence: daily health probes decay with
	// alpha ~= 0.293, twice-weekly search probes with alpha ~= 0.159.
	HealthHalfLife = 48 * time.Hour
	SearchHalfLife = 14 * 24 * time.Hour

	// tauConf controls how fast confidence decays without fresh samples.
	tauConf = 4 * 7 * 24 * time.Hour

	defaultWeightHealth = 0.4
	defaultWeightSearch = 0.6
)

// EwmaState is an exponentially weighted moving average with sample count.
type EwmaState struct {
	Value   float64   `json:"value"`
	LastTS  time.Time `json:"last_ts"`
	Samples int       `json:"samples"`
}

// Alpha returns the smoothing factor for an elapsed interval and half-life:
// 1 - 0.5^(dt/halfLife).
func Alpha(dt, halfLife time.Duration) float64 {
	if halfLife <= 0 || dt <= 0 {
		return 1
	}
	return 1 - math.Pow(0.5, dt.Seconds()/halfLife.Seconds())
}

// Update folds an observation into the state. Only a state that has never
// been touched (zero timestamp) adopts the observation directly; a timed
// state always blends, regardless of its sample count.
func Update(s EwmaState, observation float64, now time.Time, halfLife time.Duration) EwmaState {
	observation = clamp01(observation)
	if s.LastTS.IsZero() {
		return EwmaState{Value: observation, LastTS: now, Samples: 1}
	}
	a := Alpha(now.Sub(s.LastTS), halfLife)
	return EwmaState{
		Value:   clamp01(a*observation + (1-a)*s.Value),
		LastTS:  now,
		Samples: s.Samples + 1,
	}
}

// Confidence combines sample saturation with recency decay:
// (1 - exp(-n/10)) * exp(-age/tau), clamped to [0,1].
func Confidence(samples int, age time.Duration) float64 {
	if samples <= 0 {
		return 0
	}
	sat := 1 - math.Exp(-float64(samples)/10)
	decay := math.Exp(-age.Seconds() / tauConf.Seconds())
	return clamp01(sat * decay)
}

// HealthProbe is the outcome of one reachability probe.
type HealthProbe struct {
	OK         bool
	Captcha    bool
	StatusCode int
	Duration   time.Duration
}

// HealthObservation maps a health probe to [0,1]. Captcha walls score zero
// outright; otherwise availability and latency weigh half each, with 5s as
// the useless-latency ceiling.
func HealthObservation(p HealthProbe) float64 {
	if p.Captcha {
		return 0
	}
	ok := 0.0
	if p.OK {
		ok = 1
	}
	latency := math.Max(0, 1-float64(p.Duration.Milliseconds())/5000)
	return clamp01(0.5*ok + 0.5*latency)
}

// SearchProbe is the outcome of one mini-search probe.
type SearchProbe struct {
	OK                   bool
	Duration             time.Duration
	ItemsRatio           float64
	HosterReachableRatio float64
	HosterSupportedRatio float64
}

// SearchObservation maps a mini-search probe to [0,1].
func SearchObservation(p SearchProbe) float64 {
	ok := 0.0
	if p.OK {
		ok = 1
	}
	latency := 1 - math.Min(1, float64(p.Duration.Milliseconds())/10000)
	return clamp01(0.20*ok +
		0.15*latency +
		0.20*clamp01(p.ItemsRatio) +
		0.20*clamp01(p.HosterReachableRatio) +
		0.25*clamp01(p.HosterSupportedRatio))
}

// Final combines the two EWMAs and scales by confidence. A fully cold plugin
// (confidence 0) keeps half its raw weighted score.
func Final(health, search, confidence float64) float64 {
	return FinalWeighted(health, search, confidence, defaultWeightHealth, defaultWeightSearch)
}

// FinalWeighted is Final with explicit weights.
func FinalWeighted(health, search, confidence, wH, wS float64) float64 {
	raw := wH*clamp01(health) + wS*clamp01(search)
	return clamp01(raw * (0.5 + 0.5*clamp01(confidence)))
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
