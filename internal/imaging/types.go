// Package imaging provides the host-side collaborators a bridge reads from
// and writes to: in-memory image stacks, labeled point sets, a name catalog
// with reserved default source/destination names, and slice codecs.
package imaging

import (
	"fmt"

	"google.golang.org/protobuf/types/known/structpb"
)

// PixelType identifies the sample format of an image.
type PixelType uint8

// Supported pixel types. Samples are stored little-endian.
const (
	Uint8 PixelType = iota + 1
	Uint16
	Float32
)

// Size returns the number of bytes per sample.
func (p PixelType) Size() int {
	switch p {
	case Uint8:
		return 1
	case Uint16:
		return 2
	case Float32:
		return 4
	default:
		return 0
	}
}

// String returns the name of the pixel type.
func (p PixelType) String() string {
	switch p {
	case Uint8:
		return "uint8"
	case Uint16:
		return "uint16"
	case Float32:
		return "float32"
	default:
		return fmt.Sprintf("PixelType(%d)", uint8(p))
	}
}

// WidestPixelType is the pixel type assumed when only a dimension hint is known.
const WidestPixelType = Float32

// Dimensions is the five-axis shape reported to workers. For stacks X, Y and
// Z are width, height and slice count, T is 1 and C is the channel count.
// For point sets X, Y and Z are bounding extents, T is the number of points
// and C is 1.
type Dimensions struct {
	X, Y, Z, T, C int
}

// SliceBytes returns the size in bytes of one X×Y slice with C channels.
func (d Dimensions) SliceBytes(p PixelType) int {
	c := d.C
	if c < 1 {
		c = 1
	}
	return d.X * d.Y * c * p.Size()
}

// CachePolicy is an opaque hint passed through from the worker to the
// collaborator when a slice is accessed.
type CachePolicy int

const (
	// CacheDefault leaves caching to the collaborator.
	CacheDefault CachePolicy = 0
	// CacheDiscard asks the collaborator not to retain the slice after access.
	CacheDiscard CachePolicy = 1
)

// Collaborator is anything the bridge can resolve by name.
type Collaborator interface {
	Name() string
}

// Image is a stack-like collaborator.
type Image interface {
	Collaborator
	Width() int
	Height() int
	Depth() int
	ChannelCount() int
	PixelType() PixelType
	// SlicePixels returns the raw samples of a slice, row-major with
	// interleaved channels. Callers must not modify the returned bytes.
	SlicePixels(index int) ([]byte, error)
	// SetPixelValue writes the first channel of the sample at (x, y).
	SetPixelValue(x, y, index int, value float64) error
}

// BulkWriter is implemented by images whose slices can be written in place.
type BulkWriter interface {
	MutableSlice(index int, cache CachePolicy) ([]byte, error)
}

// PointSetLike is a collaborator made of coordinates instead of pixels.
type PointSetLike interface {
	Collaborator
	// Extent returns the size of the bounding box along each axis.
	Extent() (x, y, z float64)
	Len() int
}

// MetadataCarrier is implemented by collaborators that hold structured metadata.
type MetadataCarrier interface {
	Metadata() *structpb.Struct
	SetMetadata(*structpb.Struct)
}

// Allocatable is implemented by destinations that can be allocated or
// resized on request.
type Allocatable interface {
	Allocate(dims Dimensions, pixelType PixelType) error
}

// DimensionsOf returns the shape of a collaborator as reported to workers.
// ok is false for collaborators that are neither images nor point sets.
func DimensionsOf(c Collaborator) (d Dimensions, ok bool) {
	switch v := c.(type) {
	case Image:
		return Dimensions{X: v.Width(), Y: v.Height(), Z: v.Depth(), T: 1, C: v.ChannelCount()}, true
	case PointSetLike:
		x, y, z := v.Extent()
		return Dimensions{X: ceil(x), Y: ceil(y), Z: ceil(z), T: v.Len(), C: 1}, true
	default:
		return Dimensions{}, false
	}
}

func ceil(f float64) int {
	i := int(f)
	if float64(i) < f {
		i++
	}
	return i
}
