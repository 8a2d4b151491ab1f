package providers

import "math"

const mmHgPerHPa = 0.750062

// hPaToMmHg converts hectopascals to whole millimetres of mercury.
func hPaToMmHg(v float64) float64 {
	return math.Round(v * mmHgPerHPa)
}

// kmhToMs converts km/h to m/s with one decimal.
func kmhToMs(v float64) float64 {
	return math.Round(v/3.6*10) / 10
}

// plausible reports whether t looks like an outdoor temperature in °C.
func plausible(t float64) bool {
	return t > -50 && t < 50
}
