// Package imageprocessor loads, annotates and encodes the images of an inspection line.
package imageprocessor

import "gocv.io/x/gocv"

// ImageLoader reads one file into a BGR Mat
type ImageLoader interface {
	LoadImage(path string) (gocv.Mat, error)
}
