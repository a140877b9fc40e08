package lanchain

// flow-sim.go holds the inter-packet time samplers used by client
// applications.  A sampler takes a U01 random number and a vector of
// distribution parameters, the first of which is always the packet rate.

import (
	"math"
)

// interArrival is the signature of a sampler of inter-packet times
type interArrival func(float64, []float64) float64

// samplerFor selects the sampler for a model name, constant spacing being
// the default
func samplerFor(model string) interArrival {
	switch model {
	case "exponential", "exp", "expon":
		return sampleExpRV
	}
	return sampleConst
}

// needsRng reports whether the model draws random numbers at all
func needsRng(model string) bool {
	switch model {
	case "exponential", "exp", "expon":
		return true
	}
	return false
}

var rdigits uint = 12

// roundFloat rounds computed simulation times so that sums of intervals
// compare as expected, e.g. 0.5 + 15*0.5 == 8.0
func roundFloat(val float64, precision uint) float64 {
	ratio := math.Pow(10, float64(precision))
	return math.Round(val*ratio) / ratio
}

// expRV returns a sample of an exponentially distributed random number
func expRV(u01, rate float64) float64 {
	return -math.Log(1.0-u01) / rate
}

// sampleExpRV draws an exponential inter-packet time, params[0] being the rate
func sampleExpRV(u01 float64, params []float64) float64 {
	return expRV(u01, params[0])
}

// sampleConst returns the constant inter-packet time 1/params[0]
func sampleConst(u01 float64, params []float64) float64 {
	return 1.0 / params[0]
}
