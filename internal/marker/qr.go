package marker

import (
	"errors"
	"image"
	"image/color"
	"math"

	"github.com/makiuchi-d/gozxing"
	"github.com/makiuchi-d/gozxing/qrcode"
	"golang.org/x/image/draw"
)

// DefaultMaxDimension bounds the longest side of the image handed to the QR
// reader. Larger frames are scaled down first.
const DefaultMaxDimension = 1920

// maxCodesPerFrame caps the mask-and-retry loop used to find more than one
// code in a frame.
const maxCodesPerFrame = 4

// QRDecoder decodes QR codes with gozxing.
type QRDecoder struct {
	// MaxDimension is the longest side, in pixels, the reader works on.
	// Zero means DefaultMaxDimension.
	MaxDimension int
	// TryHarder enables the slower, more thorough gozxing search.
	TryHarder bool
}

var _ Decoder = (*QRDecoder)(nil)

// Decode returns the payloads of all QR codes found in img, first match
// first. An image without any code yields an empty slice and no error.
//
// The reader locates a single symbol per pass, so after each hit the symbol's
// bounding box is painted white and the image is scanned again.
func (d *QRDecoder) Decode(img image.Image) ([]string, error) {
	canvas := d.prepare(img)
	reader := qrcode.NewQRCodeReader()

	hints := map[gozxing.DecodeHintType]interface{}{}
	if d.TryHarder {
		hints[gozxing.DecodeHintType_TRY_HARDER] = true
	}

	var payloads []string
	for len(payloads) < maxCodesPerFrame {
		bmp, err := gozxing.NewBinaryBitmapFromImage(canvas)
		if err != nil {
			return nil, err
		}
		res, err := reader.Decode(bmp, hints)
		if err != nil {
			if isNotFound(err) && len(payloads) == 0 {
				return nil, nil
			}
			if len(payloads) > 0 {
				// Anything after the first code is best effort.
				break
			}
			return nil, err
		}
		payloads = append(payloads, res.GetText())
		if !maskSymbol(canvas, res.GetResultPoints()) {
			break
		}
	}
	return payloads, nil
}

func isNotFound(err error) bool {
	var nf gozxing.NotFoundException
	return errors.As(err, &nf)
}

// prepare copies img into a mutable RGBA canvas, scaling it down when it
// exceeds the configured maximum dimension.
func (d *QRDecoder) prepare(img image.Image) *image.RGBA {
	limit := d.MaxDimension
	if limit <= 0 {
		limit = DefaultMaxDimension
	}
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	if longest := max(w, h); longest > limit {
		scale := float64(limit) / float64(longest)
		w = max(1, int(math.Round(float64(w)*scale)))
		h = max(1, int(math.Round(float64(h)*scale)))
	}
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	if w == b.Dx() && h == b.Dy() {
		draw.Draw(dst, dst.Bounds(), img, b.Min, draw.Src)
	} else {
		draw.ApproxBiLinear.Scale(dst, dst.Bounds(), img, b, draw.Src, nil)
	}
	return dst
}

// maskSymbol whites out the region spanned by the finder points of a decoded
// symbol, padded so the finder rings and quiet zone go too. It reports
// false when the points give no usable region.
func maskSymbol(canvas *image.RGBA, points []gozxing.ResultPoint) bool {
	if len(points) < 2 {
		return false
	}
	minX, minY := math.Inf(1), math.Inf(1)
	maxX, maxY := math.Inf(-1), math.Inf(-1)
	for _, p := range points {
		if p == nil {
			continue
		}
		minX = math.Min(minX, p.GetX())
		minY = math.Min(minY, p.GetY())
		maxX = math.Max(maxX, p.GetX())
		maxY = math.Max(maxY, p.GetY())
	}
	if math.IsInf(minX, 0) || maxX <= minX || maxY <= minY {
		return false
	}
	padX := (maxX - minX) * 0.75
	padY := (maxY - minY) * 0.75
	r := image.Rect(
		int(minX-padX), int(minY-padY),
		int(math.Ceil(maxX+padX)), int(math.Ceil(maxY+padY)),
	).Intersect(canvas.Bounds())
	if r.Empty() {
		return false
	}
	draw.Draw(canvas, r, image.NewUniform(color.White), image.Point{}, draw.Src)
	return true
}
