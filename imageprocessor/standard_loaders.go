package imageprocessor

import (
	"image"
	_ "image/jpeg"
	_ "image/png"
	"os"

	"inspectwatch/logging"

	"gocv.io/x/gocv"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

// StandardImageLoader handles common image formats like JPEG, PNG, etc.
type StandardImageLoader struct {
	BaseImageLoader
}

// NewStandardImageLoader creates a new loader for standard image formats
func NewStandardImageLoader() *StandardImageLoader {
	return &StandardImageLoader{
		BaseImageLoader: BaseImageLoader{
			SupportedFormats: []FormatType{
				FormatJPEG,
				FormatPNG,
				FormatBMP,
				FormatWEBP,
			},
		},
	}
}

// LoadImage loads a standard image format
func (l *StandardImageLoader) LoadImage(path string) (gocv.Mat, error) {
	img, err := l.DefaultLoadImage(path)
	if err == nil {
		return img, nil
	}
	img.Close()
	return loadWithGoDecoders(path)
}

// TiffImageLoader specializes in TIFF format loading
type TiffImageLoader struct {
	BaseImageLoader
}

// NewTiffImageLoader creates a new TIFF image loader
func NewTiffImageLoader() *TiffImageLoader {
	return &TiffImageLoader{
		BaseImageLoader: BaseImageLoader{
			SupportedFormats: []FormatType{FormatTIFF},
		},
	}
}

// LoadImage implements specialized loading for TIFF images
func (l *TiffImageLoader) LoadImage(path string) (gocv.Mat, error) {
	// Standard OpenCV loading works for most TIFF files
	img := gocv.IMRead(path, gocv.IMReadColor)
	if !img.Empty() {
		return img, nil
	}
	img.Close()

	logging.DebugLog("OpenCV could not read TIFF %s, trying Go decoders", path)
	return loadWithGoDecoders(path)
}

// loadWithGoDecoders decodes with the registered Go image decoders and converts to a BGR Mat
func loadWithGoDecoders(path string) (gocv.Mat, error) {
	goImg, err := tryGoImagePackages(path)
	if err != nil {
		return gocv.NewMat(), newImageLoadError("failed to load image (all methods failed)", path)
	}

	mat, err := gocv.ImageToMatRGB(goImg)
	if err != nil || mat.Empty() {
		mat.Close()
		return gocv.NewMat(), newImageLoadError("failed to convert decoded image", path)
	}
	return mat, nil
}

// tryGoImagePackages loads an image using Go's image packages
func tryGoImagePackages(path string) (image.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	img, _, err := image.Decode(f)
	return img, err
}
