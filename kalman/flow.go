package kalman

import (
	"gonum.org/v1/gonum/floats"

	"github.com/dfabianus/biopreprocessing/signal"
)

// VolumeFlow derives a volume and a flow-rate trajectory from the
// filtered weight history of a feed (or harvest) tank: the smoothed
// weight divided by the liquid density, offset by the starting volume,
// gives the tank volume; the negated weight rate of change divided by
// the density gives the flow leaving the tank.
func VolumeFlow(h History, density, v0 float64) (volume, flow []float64) {
	volume = h.Positions()
	floats.Scale(1/density, volume)
	floats.AddConst(v0, volume)

	flow = h.Velocities()
	floats.Scale(-1/density, flow)
	return volume, flow
}

// FlowEstimate runs the batch filter over a weight measurement series
// and returns the filter history together with the derived volume and
// flow-rate trajectories. The filter starts at the first measured
// weight with zero rate.
func FlowEstimate(ts signal.TimeSeries, density, v0 float64, cfg Config) (History, []float64, []float64, error) {
	init := NewEstimate(ts.Value(0), 0, nil)
	h, err := Batch(ts, init, cfg)
	if err != nil {
		return History{}, nil, nil, err
	}
	volume, flow := VolumeFlow(h, density, v0)
	return h, volume, flow, nil
}
