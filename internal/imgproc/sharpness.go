package imgproc

// BT.601 luma weights in 14-bit fixed point, the same integer path OpenCV
// takes for 8-bit RGB to gray conversion.
const (
	lumaShift = 14
	lumaR     = 4899
	lumaG     = 9617
	lumaB     = 1868
	lumaRound = 1 << (lumaShift - 1)
)

// Gray is a single channel 8-bit image.
type Gray struct {
	Width  int
	Height int
	Pix    []uint8
}

// Grayscale converts f to luma.
func Grayscale(f *Frame) *Gray {
	g := &Gray{
		Width:  f.Width,
		Height: f.Height,
		Pix:    make([]uint8, f.Width*f.Height),
	}
	src := f.Pix
	for i, j := 0, 0; j < len(g.Pix); i, j = i+Channels, j+1 {
		y := int(src[i])*lumaR + int(src[i+1])*lumaG + int(src[i+2])*lumaB + lumaRound
		g.Pix[j] = uint8(y >> lumaShift)
	}
	return g
}

// reflect101 maps an out of range coordinate back into [0,n) mirroring
// around the edge pixel without repeating it (gfedcb|abcdefgh|gfedcba).
func reflect101(i, n int) int {
	if n == 1 {
		return 0
	}
	for i < 0 || i >= n {
		if i < 0 {
			i = -i
		} else {
			i = 2*n - 2 - i
		}
	}
	return i
}

// LaplacianVariance applies the 4-neighbour Laplacian kernel
//
//	0  1  0
//	1 -4  1
//	0  1  0
//
// and returns the population variance of the response.
func LaplacianVariance(g *Gray) float64 {
	w, h := g.Width, g.Height
	if w == 0 || h == 0 {
		return 0
	}

	var sum, sumSq float64
	at := func(x, y int) int {
		return int(g.Pix[reflect101(y, h)*w+reflect101(x, w)])
	}

	for y := 0; y < h; y++ {
		row := y * w
		for x := 0; x < w; x++ {
			var v int
			if x > 0 && y > 0 && x < w-1 && y < h-1 {
				c := row + x
				v = int(g.Pix[c-w]) + int(g.Pix[c+w]) + int(g.Pix[c-1]) + int(g.Pix[c+1]) - 4*int(g.Pix[c])
			} else {
				v = at(x, y-1) + at(x, y+1) + at(x-1, y) + at(x+1, y) - 4*at(x, y)
			}
			fv := float64(v)
			sum += fv
			sumSq += fv * fv
		}
	}

	n := float64(w * h)
	mean := sum / n
	variance := sumSq/n - mean*mean
	if variance < 0 {
		return 0
	}
	return variance
}

// Sharpness is the Laplacian variance of the frame's luma.
func Sharpness(f *Frame) float64 {
	return LaplacianVariance(Grayscale(f))
}
