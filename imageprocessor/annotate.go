package imageprocessor

import (
	"image"
	"image/color"

	"inspectwatch/types"

	"gocv.io/x/gocv"
)

// DefaultBorderThickness is the border width drawn around every inspected image
const DefaultBorderThickness = 40

var (
	colorOK  = color.RGBA{R: 0, G: 255, B: 0, A: 0}
	colorNOK = color.RGBA{R: 255, G: 0, B: 0, A: 0}
)

// StatusColor returns the border color for a status; anything but ok is red
func StatusColor(status types.Status) color.RGBA {
	if status == types.StatusOK {
		return colorOK
	}
	return colorNOK
}

// DrawStatusBorder draws a solid status border over the whole image in place
func DrawStatusBorder(mat *gocv.Mat, status types.Status, thickness int) {
	if thickness <= 0 {
		thickness = DefaultBorderThickness
	}
	rect := image.Rect(0, 0, mat.Cols()-1, mat.Rows()-1)
	gocv.Rectangle(mat, rect, StatusColor(status), thickness)
}
