package imageprocessor

import (
	"fmt"
	"os"

	inserrors "inspectwatch/errors"
	"inspectwatch/logging"
	"inspectwatch/types"

	"github.com/sirupsen/logrus"
	"gocv.io/x/gocv"
)

// Codec decodes image files and produces annotated, encoded copies
type Codec struct {
	registry  *ImageLoaderRegistry
	thickness int
	logger    *logrus.Entry
}

// NewCodec creates a codec drawing borders of the given thickness
func NewCodec(borderThickness int) *Codec {
	if borderThickness <= 0 {
		borderThickness = DefaultBorderThickness
	}
	return &Codec{
		registry:  NewImageLoaderRegistry(),
		thickness: borderThickness,
		logger:    logging.NewLogger("codec"),
	}
}

// Decode loads the image at path. Any failure to read or decode it is reported as CORRUPT_INPUT.
func (c *Codec) Decode(path string) (img *types.Image, err error) {
	defer func() {
		if r := recover(); r != nil {
			img = nil
			err = inserrors.CorruptImage(path, fmt.Errorf("panic while decoding: %v", r))
		}
	}()

	mat, err := c.registry.LoadImage(path)
	if err != nil {
		mat.Close()
		return nil, asCorrupt(path, err)
	}
	defer mat.Close()

	if mat.Empty() {
		return nil, newImageLoadError("decoded image is empty", path)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, inserrors.CorruptImage(path, err)
	}

	return &types.Image{
		Path:    path,
		Format:  string(GetFileFormat(path)),
		Width:   mat.Cols(),
		Height:  mat.Rows(),
		Encoded: data,
	}, nil
}

// Annotate returns a copy of img with a green (ok) or red (nok) border drawn on it,
// encoded back to the source format
func (c *Codec) Annotate(img *types.Image, status types.Status) (out *types.Image, err error) {
	if img == nil || len(img.Encoded) == 0 {
		return nil, inserrors.CorruptImage(pathOf(img), fmt.Errorf("no image data to annotate"))
	}

	defer func() {
		if r := recover(); r != nil {
			out = nil
			err = inserrors.Wrap(fmt.Errorf("%v", r), inserrors.ErrCodeInternal, "panic while annotating image")
		}
	}()

	mat, err := gocv.IMDecode(img.Encoded, gocv.IMReadColor)
	if err != nil || mat.Empty() {
		mat.Close()
		if err == nil {
			err = fmt.Errorf("decoded image is empty")
		}
		return nil, inserrors.CorruptImage(img.Path, err)
	}
	defer mat.Close()

	DrawStatusBorder(&mat, status, c.thickness)

	format := FormatType(img.Format)
	buf, err := gocv.IMEncode(encodeExt(format), mat)
	if err != nil {
		return nil, fmt.Errorf("failed to encode annotated image %s: %w", img.Path, err)
	}
	defer buf.Close()

	encoded := append([]byte(nil), buf.GetBytes()...)
	c.logger.WithFields(logrus.Fields{
		"path":   img.Path,
		"status": status,
		"bytes":  len(encoded),
	}).Debug("Annotated image")

	return &types.Image{
		Path:    img.Path,
		Format:  img.Format,
		Width:   mat.Cols(),
		Height:  mat.Rows(),
		Encoded: encoded,
	}, nil
}

func asCorrupt(path string, err error) error {
	if inserrors.Is(err, inserrors.ErrCodeCorruptInput) {
		return err
	}
	return inserrors.CorruptImage(path, err)
}

func pathOf(img *types.Image) string {
	if img == nil {
		return ""
	}
	return img.Path
}
