package imageprocessor

import (
	"sync"

	"gocv.io/x/gocv"
)

// ImageLoaderRegistry picks the loader for a file from its format
type ImageLoaderRegistry struct {
	mu       sync.RWMutex
	byFormat map[FormatType]ImageLoader
	fallback ImageLoader
}

// NewImageLoaderRegistry registers the OpenCV-backed loaders for every supported format
func NewImageLoaderRegistry() *ImageLoaderRegistry {
	standard := NewStandardImageLoader()
	r := &ImageLoaderRegistry{
		byFormat: make(map[FormatType]ImageLoader),
		fallback: standard,
	}
	r.Register(standard, standard.SupportedFormats...)

	tiff := NewTiffImageLoader()
	r.Register(tiff, tiff.SupportedFormats...)
	return r
}

// Register makes loader responsible for formats, replacing earlier registrations
func (r *ImageLoaderRegistry) Register(loader ImageLoader, formats ...FormatType) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, f := range formats {
		r.byFormat[f] = loader
	}
}

// loaderFor returns the loader registered for the file's format; files with an
// unknown extension go to the fallback loader, which lets OpenCV sniff the content
func (r *ImageLoaderRegistry) loaderFor(path string) ImageLoader {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if loader, ok := r.byFormat[GetFileFormat(path)]; ok {
		return loader
	}
	return r.fallback
}

// LoadImage reads path in BGR color with the matching loader
func (r *ImageLoaderRegistry) LoadImage(path string) (gocv.Mat, error) {
	loader := r.loaderFor(path)
	if loader == nil {
		return gocv.NewMat(), newImageLoadError("no loader registered", path)
	}
	if !fileExists(path) {
		return gocv.NewMat(), newImageLoadError("file is not readable", path)
	}
	return loader.LoadImage(path)
}
