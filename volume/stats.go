package volume

import (
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// Summary describes the intensity distribution of a grid.
type Summary struct {
	Min    float64
	Max    float64
	Mean   float64
	StdDev float64
}

// Summarize computes a Summary of the grid's values.
func Summarize(v *VoxelGrid) Summary {
	if len(v.Values) == 0 {
		return Summary{}
	}
	mean, std := stat.MeanStdDev(v.Values, nil)
	if len(v.Values) == 1 {
		std = 0
	}
	return Summary{
		Min:    floats.Min(v.Values),
		Max:    floats.Max(v.Values),
		Mean:   mean,
		StdDev: std,
	}
}
