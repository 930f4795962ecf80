package facematch

// Box is a face bounding box in pixel coordinates, corners [X1,Y1] (top-left) and [X2,Y2]
// (bottom-right).
type Box struct {
	X1, Y1, X2, Y2 float64
}

// BoxFromSlice converts a [x1, y1, x2, y2] slice as returned by the embedding server.
// Returns the zero Box and false for anything that is not four values.
func BoxFromSlice(bbox []float64) (Box, bool) {
	if len(bbox) != 4 {
		return Box{}, false
	}
	return Box{X1: bbox[0], Y1: bbox[1], X2: bbox[2], Y2: bbox[3]}, true
}

// Scale multiplies every coordinate by factor. Used to map boxes detected on a downsampled
// frame back to full resolution.
func (b Box) Scale(factor int) Box {
	f := float64(factor)
	return Box{X1: b.X1 * f, Y1: b.Y1 * f, X2: b.X2 * f, Y2: b.Y2 * f}
}

// Width returns the box width (0 for inverted boxes).
func (b Box) Width() float64 {
	return max(b.X2-b.X1, 0)
}

// Height returns the box height (0 for inverted boxes).
func (b Box) Height() float64 {
	return max(b.Y2-b.Y1, 0)
}

// Slice returns the box as [x1, y1, x2, y2].
func (b Box) Slice() []float64 {
	return []float64{b.X1, b.Y1, b.X2, b.Y2}
}

// IoU calculates Intersection over Union between two boxes in the same coordinate system.
func (b Box) IoU(other Box) float64 {
	x1 := max(b.X1, other.X1)
	y1 := max(b.Y1, other.Y1)
	x2 := min(b.X2, other.X2)
	y2 := min(b.Y2, other.Y2)

	if x2 <= x1 || y2 <= y1 {
		return 0 // No intersection
	}

	intersection := (x2 - x1) * (y2 - y1)
	union := b.Width()*b.Height() + other.Width()*other.Height() - intersection
	if union <= 0 {
		return 0
	}

	return intersection / union
}
