package classify

import "github.com/fpang/recording-splitter/internal/frame"

const (
	// BlankTolerance is the per-channel distance from the median a pixel may
	// have and still count as part of a uniform frame.
	BlankTolerance = 2
	// BlankFraction is the share of pixels that must be within tolerance for
	// the frame to count as blank.
	BlankFraction = 0.95
)

// IsBlank reports whether img is a near-uniform frame: at least BlankFraction
// of its pixels lie within BlankTolerance of the per-channel median in all
// three channels. An empty image is never blank.
func IsBlank(img *frame.RGB) bool {
	w, h := img.Rect.Dx(), img.Rect.Dy()
	n := w * h
	if n == 0 {
		return false
	}

	var hist [3][256]int
	for y := 0; y < h; y++ {
		row := img.Pix[y*img.Stride : y*img.Stride+3*w]
		for i := 0; i < len(row); i += 3 {
			hist[0][row[i]]++
			hist[1][row[i+1]]++
			hist[2][row[i+2]]++
		}
	}

	var lo, hi [3]float64
	for c := range 3 {
		m := median(&hist[c], n)
		lo[c] = m - BlankTolerance
		hi[c] = m + BlankTolerance
	}

	within := 0
	for y := 0; y < h; y++ {
		row := img.Pix[y*img.Stride : y*img.Stride+3*w]
		for i := 0; i < len(row); i += 3 {
			if inRange(row[i], lo[0], hi[0]) &&
				inRange(row[i+1], lo[1], hi[1]) &&
				inRange(row[i+2], lo[2], hi[2]) {
				within++
			}
		}
	}
	return float64(within) >= BlankFraction*float64(n)
}

func inRange(v uint8, lo, hi float64) bool {
	f := float64(v)
	return f >= lo && f <= hi
}

// median of n samples described by a 256-bin histogram. For an even count it
// is the mean of the two middle values.
func median(hist *[256]int, n int) float64 {
	lower := nth(hist, (n-1)/2)
	if n%2 == 1 {
		return float64(lower)
	}
	upper := nth(hist, n/2)
	return (float64(lower) + float64(upper)) / 2
}

// nth returns the value of the k-th smallest sample (zero-based).
func nth(hist *[256]int, k int) int {
	seen := 0
	for v, count := range hist {
		seen += count
		if seen > k {
			return v
		}
	}
	return 255
}
