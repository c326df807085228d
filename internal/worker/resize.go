package worker

import (
	"fmt"
	"image"

	"golang.org/x/image/draw"

	"github.com/Iron-Ham/pixbridge/internal/bridge"
	"github.com/Iron-Ham/pixbridge/internal/errors"
	"github.com/Iron-Ham/pixbridge/internal/imaging"
)

// resize allocates dst at width×height with the source's depth and scales
// every source slice into it. Only single-channel 8- and 16-bit stacks are
// supported.
func (w *Worker) resize(width, height int, src, dst string) error {
	dims := w.table.GetDimensions(src)
	if dims.Z == 0 {
		return fmt.Errorf("source %s has no slices", display(src, imaging.DefaultSource))
	}
	if dims.C != 1 {
		return errors.Wrapf(errors.ErrInvalidInput, "resize supports one channel, source has %d", dims.C)
	}
	if !w.table.SetDimensions(dst, imaging.Dimensions{X: width, Y: height, Z: dims.Z, C: 1}) {
		return errors.New("allocate destination failed")
	}
	if dst == "" {
		dst = imaging.DefaultDestination
	}

	bounds := image.Rect(0, 0, width, height)
	for z := range dims.Z {
		if w.table.ShouldInterrupt() {
			w.logf(bridge.LogWarn, "resize interrupted after %d of %d slices", z, dims.Z)
			return nil
		}
		in := w.table.GetPixels(z, src, nil, imaging.CacheDiscard)
		if in == nil {
			return fmt.Errorf("read slice %d failed", z)
		}
		// The view is overwritten by the next pixel callback.
		srcImg, err := decodeGray(in, dims.X, dims.Y)
		if err != nil {
			return err
		}
		dstImg := newGrayLike(srcImg, bounds)
		draw.ApproxBiLinear.Scale(dstImg, bounds, srcImg, srcImg.Bounds(), draw.Src, nil)

		out := w.table.GetPixels(z, dst, nil, imaging.CacheDefault)
		if out == nil {
			return fmt.Errorf("read destination slice %d failed", z)
		}
		encodeGray(out, dstImg)
		if !w.table.SetPixels(z, dst, nil, imaging.CacheDefault, true) {
			return fmt.Errorf("write slice %d failed", z)
		}
		w.table.ProgressReport(percent(z+1, dims.Z))
	}
	return nil
}

// decodeGray copies a raw little-endian slice into an image.Gray or
// image.Gray16, chosen by sample size.
func decodeGray(raw []byte, width, height int) (draw.Image, error) {
	r := image.Rect(0, 0, width, height)
	switch len(raw) {
	case width * height:
		img := image.NewGray(r)
		copy(img.Pix, raw)
		return img, nil
	case 2 * width * height:
		img := image.NewGray16(r)
		for i := 0; i < len(raw); i += 2 {
			img.Pix[i], img.Pix[i+1] = raw[i+1], raw[i]
		}
		return img, nil
	default:
		return nil, errors.Wrapf(errors.ErrInvalidInput,
			"%d bytes for a %dx%d slice is not an 8- or 16-bit sample", len(raw), width, height)
	}
}

func newGrayLike(src image.Image, r image.Rectangle) draw.Image {
	if _, ok := src.(*image.Gray16); ok {
		return image.NewGray16(r)
	}
	return image.NewGray(r)
}

// encodeGray writes img back into raw little-endian samples.
func encodeGray(raw []byte, img draw.Image) {
	switch m := img.(type) {
	case *image.Gray:
		copy(raw, m.Pix)
	case *image.Gray16:
		for i := 0; i+1 < len(m.Pix) && i+1 < len(raw); i += 2 {
			raw[i], raw[i+1] = m.Pix[i+1], m.Pix[i]
		}
	}
}
