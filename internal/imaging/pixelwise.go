package imaging

// PixelwiseOnly exposes only the Image methods of the wrapped image, hiding
// BulkWriter so every write has to go through SetPixelValue. It models
// destinations backed by storage that cannot hand out a mutable slice.
type PixelwiseOnly struct {
	Image
}

// NewPixelwiseOnly wraps img.
func NewPixelwiseOnly(img Image) PixelwiseOnly {
	return PixelwiseOnly{Image: img}
}
