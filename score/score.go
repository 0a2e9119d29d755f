// Package score blends textual relevance with place population into the final
// rank score of a gazetteer query hit.
package score

import "math"

const (
	// DefaultWeight caps the population lift at 50% of the base score.
	DefaultWeight = 0.5

	// DefaultSaturation is the population beyond which the lift no longer
	// grows.
	DefaultSaturation = 1e9
)

// Func maps a base text relevance score and a population to a final score.
// Implementations must be pure and non-decreasing in both arguments.
type Func func(base float64, population int64) float64

// PopulationBoost multiplies the base score by a bounded logarithmic
// population term:
//
//	base * (1 + Weight * log10(1+min(pop, Saturation)) / log10(1+Saturation))
//
// A population can therefore lift a score by at most a factor of 1+Weight,
// which keeps a clearly better text match ahead of a merely bigger place.
type PopulationBoost struct {
	Weight     float64
	Saturation float64
}

// Default is the PopulationBoost used when callers do not configure one.
var Default = PopulationBoost{Weight: DefaultWeight, Saturation: DefaultSaturation}

// Rank scores with the Default boost.
func Rank(base float64, population int64) float64 {
	return Default.Score(base, population)
}

// Score returns the final rank score for base and population. Negative inputs
// are treated as zero.
func (b PopulationBoost) Score(base float64, population int64) float64 {
	if base <= 0 || math.IsNaN(base) {
		return 0
	}

	return base * b.Multiplier(population)
}

// Multiplier returns the factor applied to the base score for population.
func (b PopulationBoost) Multiplier(population int64) float64 {
	weight := b.Weight
	if weight < 0 || math.IsNaN(weight) {
		weight = 0
	}

	saturation := b.Saturation
	if saturation < 1 || math.IsNaN(saturation) {
		saturation = DefaultSaturation
	}

	pop := float64(population)
	if pop < 0 {
		pop = 0
	}
	pop = math.Min(pop, saturation)

	return 1 + weight*math.Log10(1+pop)/math.Log10(1+saturation)
}
