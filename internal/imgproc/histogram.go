package imgproc

import "math"

const (
	// HistBins is the number of bins per channel.
	HistBins = 8
	// HistSize is the total number of bins of a fingerprint.
	HistSize = HistBins * HistBins * HistBins

	binShift = 5 // 256 / HistBins == 1 << binShift

	epsilon = 2.220446049250313e-16
)

// Histogram is a flattened 8x8x8 RGB color histogram.
// Bin (r, g, b) lives at r*64 + g*8 + b.
type Histogram [HistSize]float64

// ComputeHistogram counts the pixels of f into 8 bins per channel over [0,256)
// and L2-normalizes the result.
func ComputeHistogram(f *Frame) *Histogram {
	var h Histogram
	pix := f.Pix
	for i := 0; i+2 < len(pix); i += Channels {
		r := int(pix[i] >> binShift)
		g := int(pix[i+1] >> binShift)
		b := int(pix[i+2] >> binShift)
		h[r*HistBins*HistBins+g*HistBins+b]++
	}
	h.Normalize()
	return &h
}

// Normalize scales h to unit L2 norm. An empty histogram is left untouched.
func (h *Histogram) Normalize() {
	var sq float64
	for _, v := range h {
		sq += v * v
	}
	if sq == 0 {
		return
	}
	norm := math.Sqrt(sq)
	for i := range h {
		h[i] /= norm
	}
}

// Correlation returns the Pearson correlation coefficient of a and b.
// When either histogram has no variance the result is 1, matching the
// convention of OpenCV's HISTCMP_CORREL.
func Correlation(a, b *Histogram) float64 {
	const n = float64(HistSize)

	var sa, sb, saa, sbb, sab float64
	for i := 0; i < HistSize; i++ {
		x, y := a[i], b[i]
		sa += x
		sb += y
		saa += x * x
		sbb += y * y
		sab += x * y
	}

	num := sab - sa*sb/n
	denom := (saa - sa*sa/n) * (sbb - sb*sb/n)
	if math.Abs(denom) <= epsilon {
		return 1
	}
	return num / math.Sqrt(denom)
}
