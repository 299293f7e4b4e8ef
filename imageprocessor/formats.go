package imageprocessor

import (
	"path/filepath"
	"strings"

	"gocv.io/x/gocv"
)

// FormatType identifies an image container format
type FormatType string

const (
	FormatUnknown FormatType = "unknown"
	FormatJPEG    FormatType = "jpeg"
	FormatPNG     FormatType = "png"
	FormatTIFF    FormatType = "tiff"
	FormatBMP     FormatType = "bmp"
	FormatWEBP    FormatType = "webp"
)

var formatByExt = map[string]FormatType{
	".jpg":  FormatJPEG,
	".jpeg": FormatJPEG,
	".png":  FormatPNG,
	".tif":  FormatTIFF,
	".tiff": FormatTIFF,
	".bmp":  FormatBMP,
	".webp": FormatWEBP,
}

// encoderExt is the extension OpenCV selects the encoder by
var encoderExt = map[FormatType]gocv.FileExt{
	FormatJPEG: gocv.JPEGFileExt,
	FormatPNG:  gocv.PNGFileExt,
	FormatTIFF: gocv.FileExt(".tiff"),
	FormatBMP:  gocv.FileExt(".bmp"),
	FormatWEBP: gocv.FileExt(".webp"),
}

// GetFileFormat returns the format for the file's extension, case-insensitively
func GetFileFormat(path string) FormatType {
	if format, ok := formatByExt[strings.ToLower(filepath.Ext(path))]; ok {
		return format
	}
	return FormatUnknown
}

// encodeExt returns the encoder for format; annotated copies of unknown formats are written as PNG
func encodeExt(format FormatType) gocv.FileExt {
	if ext, ok := encoderExt[format]; ok {
		return ext
	}
	return gocv.PNGFileExt
}
