// Package utils contains small math and concurrency helpers shared by the
// resection pipeline.
package utils

import (
	"math"
	"math/rand"
)

// DegToRad converts degrees to radians.
func DegToRad(degrees float64) float64 {
	return degrees * math.Pi / 180
}

// RadToDeg converts radians to degrees.
func RadToDeg(radians float64) float64 {
	return radians * 180 / math.Pi
}

// Square is faster than math.Pow(x, 2).
func Square(n float64) float64 {
	return n * n
}

// Clamp bounds x to [min, max].
func Clamp(x, min, max float64) float64 {
	if x < min {
		return min
	}
	if x > max {
		return max
	}
	return x
}

// SampleRandomIntRange samples a random integer within a range given by [min, max]
// using the given rand.Rand.
func SampleRandomIntRange(min, max int, r *rand.Rand) int {
	return r.Intn(max-min+1) + min
}

// SampleNDistinct draws n distinct integers in [0, pop) using the given rand.Rand.
// It panics if n > pop.
func SampleNDistinct(n, pop int, r *rand.Rand) []int {
	if n > pop {
		panic("cannot sample more distinct integers than the population size")
	}
	picked := make([]int, 0, n)
	seen := make(map[int]bool, n)
	for len(picked) < n {
		k := r.Intn(pop)
		if seen[k] {
			continue
		}
		seen[k] = true
		picked = append(picked, k)
	}
	return picked
}
