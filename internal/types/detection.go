package types

// Detection is a single object detection in pixel coordinates.
// X1,Y1 is the top-left corner of the bounding box, X2,Y2 the bottom-right.
type Detection struct {
	X1         int     `json:"x1"`
	Y1         int     `json:"y1"`
	X2         int     `json:"x2"`
	Y2         int     `json:"y2"`
	Confidence float64 `json:"conf"`
	ClassID    int     `json:"class_id,omitempty"`
}

// Area returns the pixel area of the bounding box.
func (d Detection) Area() int {
	return (d.X2 - d.X1) * (d.Y2 - d.Y1)
}

// Center returns the center of the bounding box in pixel coordinates.
func (d Detection) Center() (x, y int) {
	return (d.X1 + d.X2) / 2, (d.Y1 + d.Y2) / 2
}
