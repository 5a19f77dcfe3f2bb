package fluor

import (
	"fmt"

	"gonum.org/v1/gonum/floats"
)

// Histogram counts values into equal-width bins over [Low, High]. The last
// bin is closed on the right so High itself is counted.
type Histogram struct {
	Counts []int
	Edges  []float64
}

func NewHistogram(values []float64, bins int, low, high float64) (*Histogram, error) {
	if bins <= 0 {
		return nil, fmt.Errorf("histogram needs at least one bin, got %d", bins)
	}
	if !(high > low) {
		return nil, fmt.Errorf("histogram range [%v,%v] is empty", low, high)
	}

	h := &Histogram{
		Counts: make([]int, bins),
		Edges:  floats.Span(make([]float64, bins+1), low, high),
	}

	width := (high - low) / float64(bins)
	for _, v := range values {
		if v < low || v > high {
			continue
		}
		i := int((v - low) / width)
		if i >= bins {
			i = bins - 1
		}
		h.Counts[i]++
	}

	return h, nil
}

// Midpoints returns the centre of each bin
func (h *Histogram) Midpoints() []float64 {
	mids := make([]float64, len(h.Counts))
	for i := range mids {
		mids[i] = (h.Edges[i] + h.Edges[i+1]) / 2
	}
	return mids
}

// Peak returns the midpoint of the fullest bin. Ties resolve to the lowest
// bin; an all-empty histogram peaks at its first bin.
func (h *Histogram) Peak() float64 {
	if len(h.Counts) == 0 {
		return 0
	}
	best := 0
	for i, c := range h.Counts {
		if c > h.Counts[best] {
			best = i
		}
	}
	return h.Midpoints()[best]
}

func (h *Histogram) Total() int {
	total := 0
	for _, c := range h.Counts {
		total += c
	}
	return total
}
