package imaging

import (
	"encoding/binary"
	"image"
	"image/color"
	"image/png"
	"io"
	"path/filepath"
	"strings"

	"github.com/xfmoulet/qoi"
	"golang.org/x/image/bmp"
	"golang.org/x/image/tiff"

	"github.com/Iron-Ham/pixbridge/internal/errors"
)

// Format is an on-disk slice encoding.
type Format string

const (
	FormatPNG  Format = "png"
	FormatTIFF Format = "tiff"
	FormatBMP  Format = "bmp"
	FormatQOI  Format = "qoi"
)

// FormatFromPath picks a format from a file extension.
func FormatFromPath(path string) (Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".png":
		return FormatPNG, nil
	case ".tif", ".tiff":
		return FormatTIFF, nil
	case ".bmp":
		return FormatBMP, nil
	case ".qoi":
		return FormatQOI, nil
	default:
		return "", errors.Wrapf(errors.ErrInvalidInput, "unsupported image extension %q", filepath.Ext(path))
	}
}

// Decode reads one grayscale slice. 16-bit grayscale input produces a
// Uint16 stack; anything else is converted to 8-bit luminance.
func Decode(r io.Reader, name string, f Format) (*Stack, error) {
	var (
		img image.Image
		err error
	)
	switch f {
	case FormatPNG:
		img, err = png.Decode(r)
	case FormatTIFF:
		img, err = tiff.Decode(r)
	case FormatBMP:
		img, err = bmp.Decode(r)
	case FormatQOI:
		img, err = qoi.Decode(r)
	default:
		return nil, errors.Wrapf(errors.ErrInvalidInput, "unsupported format %q", f)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "decode %s", f)
	}
	return FromImage(name, img), nil
}

// FromImage converts a decoded image into a single-slice stack.
func FromImage(name string, img image.Image) *Stack {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()

	if g16, ok := img.(*image.Gray16); ok {
		s := NewStack(name, w, h, 1, 1, Uint16)
		dst := s.slices[0]
		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				v := g16.Gray16At(b.Min.X+x, b.Min.Y+y).Y
				binary.LittleEndian.PutUint16(dst[(y*w+x)*2:], v)
			}
		}
		return s
	}

	s := NewStack(name, w, h, 1, 1, Uint8)
	dst := s.slices[0]
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			dst[y*w+x] = color.GrayModel.Convert(img.At(b.Min.X+x, b.Min.Y+y)).(color.Gray).Y
		}
	}
	return s
}

// ToImage renders the first channel of one slice as a grayscale image.
// Uint8 slices become image.Gray; Uint16 and Float32 slices become
// image.Gray16, with Float32 samples clamped to [0, 65535].
func ToImage(src Image, index int) (image.Image, error) {
	raw, err := src.SlicePixels(index)
	if err != nil {
		return nil, err
	}
	w, h, c := src.Width(), src.Height(), max(src.ChannelCount(), 1)
	pt := src.PixelType()
	size := pt.Size()
	rect := image.Rect(0, 0, w, h)

	if pt == Uint8 {
		g := image.NewGray(rect)
		for i := 0; i < w*h; i++ {
			g.Pix[i] = raw[i*c]
		}
		return g, nil
	}

	g := image.NewGray16(rect)
	for i := 0; i < w*h; i++ {
		v := Sample(raw[i*c*size:i*c*size+size], pt)
		g.SetGray16(i%w, i/w, color.Gray16{Y: uint16(clamp(v, 65535))})
	}
	return g, nil
}

// Encode writes slice index of src in format f.
func Encode(w io.Writer, src Image, index int, f Format) error {
	img, err := ToImage(src, index)
	if err != nil {
		return err
	}
	switch f {
	case FormatPNG:
		return png.Encode(w, img)
	case FormatTIFF:
		return tiff.Encode(w, img, &tiff.Options{Compression: tiff.Deflate})
	case FormatBMP:
		return bmp.Encode(w, img)
	case FormatQOI:
		return qoi.Encode(w, img)
	default:
		return errors.Wrapf(errors.ErrInvalidInput, "unsupported format %q", f)
	}
}
