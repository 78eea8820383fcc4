package binfit

import "fmt"

// Projection selects an ordered subset of a channel's axes, reduces
// (sums) the rest, and permutes the kept axes into the caller's order.
type Projection struct {
	Channel string
	Axes    []string
}

// Project reshapes the flat per-channel slice of values (length
// channel.NBins()) into the channel's axis shape, sums over axes not named
// in p.Axes, and transposes the remainder into the order given by p.Axes.
// It returns the projected flat values and the resulting shape.
func Project(m *Model, p Projection, values []float64) ([]float64, []int, error) {
	const op = "Project"
	var ch *Channel
	for i := range m.Channels {
		if m.Channels[i].Name == p.Channel {
			ch = &m.Channels[i]
			break
		}
	}
	if ch == nil {
		return nil, nil, newErr(op, ProjectionError, "channel %q not found", p.Channel)
	}
	if len(values) != ch.NBins() {
		return nil, nil, newErr(op, InvalidData, "len(values)=%d != channel %q nbins=%d", len(values), ch.Name, ch.NBins())
	}

	axisPos := make(map[string]int, len(ch.Axes))
	for i, a := range ch.Axes {
		axisPos[a] = i
	}
	keep := make([]int, len(p.Axes))
	for i, a := range p.Axes {
		pos, ok := axisPos[a]
		if !ok {
			return nil, nil, newErr(op, ProjectionError, "axis %q not found in channel %q", a, ch.Name)
		}
		keep[i] = pos
	}

	shape := ch.Shape
	strides := make([]int, len(shape))
	acc := 1
	for i := len(shape) - 1; i >= 0; i-- {
		strides[i] = acc
		acc *= shape[i]
	}

	outShape := make([]int, len(keep))
	for i, axPos := range keep {
		outShape[i] = shape[axPos]
	}
	outSize := 1
	for _, s := range outShape {
		outSize *= s
	}
	out := make([]float64, outSize)

	outStrides := make([]int, len(outShape))
	acc = 1
	for i := len(outShape) - 1; i >= 0; i-- {
		outStrides[i] = acc
		acc *= outShape[i]
	}

	total := len(values)
	multiIdx := make([]int, len(shape))
	for flat := 0; flat < total; flat++ {
		rem := flat
		for d := range shape {
			multiIdx[d] = rem / strides[d]
			rem = rem % strides[d]
		}
		outFlat := 0
		for oi, axPos := range keep {
			outFlat += multiIdx[axPos] * outStrides[oi]
		}
		out[outFlat] += values[flat]
	}

	return out, outShape, nil
}

// ProjectF composes PR with an arbitrary per-channel observable function:
// call fn to produce the channel's flat values, then project the result.
func ProjectF(m *Model, p Projection, fn func() ([]float64, error)) ([]float64, []int, error) {
	vals, err := fn()
	if err != nil {
		return nil, nil, fmt.Errorf("project: %w", err)
	}
	return Project(m, p, vals)
}
