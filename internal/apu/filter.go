package apu

import "math"

// biquad is a single direct-form-I second-order IIR section. The filter
// chain is a fixed array of these rather than an interface/trait-object
// chain: all three stages are the same shape, only their coefficients
// differ, and there's never a reason to swap one out at runtime.
type biquad struct {
	b0, b1, b2 float64
	a1, a2     float64
	x1, x2     float64
	y1, y2     float64
}

func (f *biquad) step(x float64) float64 {
	y := f.b0*x + f.b1*f.x1 + f.b2*f.x2 - f.a1*f.y1 - f.a2*f.y2
	f.x2, f.x1 = f.x1, x
	f.y2, f.y1 = f.y1, y
	return y
}

func highPassBiquad(sampleRate, cutoff float64) biquad {
	w0 := 2 * math.Pi * cutoff / sampleRate
	cosw0, sinw0 := math.Cos(w0), math.Sin(w0)
	alpha := sinw0 / (2 * 0.7071067811865476) // Q = 1/sqrt(2), Butterworth

	b0 := (1 + cosw0) / 2
	b1 := -(1 + cosw0)
	b2 := (1 + cosw0) / 2
	a0 := 1 + alpha
	a1 := -2 * cosw0
	a2 := 1 - alpha

	return biquad{b0: b0 / a0, b1: b1 / a0, b2: b2 / a0, a1: a1 / a0, a2: a2 / a0}
}

func lowPassBiquad(sampleRate, cutoff float64) biquad {
	w0 := 2 * math.Pi * cutoff / sampleRate
	cosw0, sinw0 := math.Cos(w0), math.Sin(w0)
	alpha := sinw0 / (2 * 0.7071067811865476)

	b0 := (1 - cosw0) / 2
	b1 := 1 - cosw0
	b2 := (1 - cosw0) / 2
	a0 := 1 + alpha
	a1 := -2 * cosw0
	a2 := 1 - alpha

	return biquad{b0: b0 / a0, b1: b1 / a0, b2: b2 / a0, a1: a1 / a0, a2: a2 / a0}
}

// outputFilter is the three-stage IIR chain applied to every mixed APU
// sample: two high-pass sections (90 Hz, 440 Hz) followed by one low-pass
// section (14 kHz), matching the analog output stage of the real console.
type outputFilter struct {
	stages [3]biquad
}

func newOutputFilter(sampleRate float64) outputFilter {
	return outputFilter{stages: [3]biquad{
		highPassBiquad(sampleRate, 90),
		highPassBiquad(sampleRate, 440),
		lowPassBiquad(sampleRate, 14000),
	}}
}

func (f *outputFilter) apply(sample float32) float32 {
	x := float64(sample)
	for i := range f.stages {
		x = f.stages[i].step(x)
	}
	return float32(x)
}
