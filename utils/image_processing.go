package utils

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/jpeg"

	_ "image/gif"
	_ "image/png"

	"go.uber.org/zap"

	"github.com/aidly-labs/aidly-go-sdk/models"
)

// jpegQuality for canonical re-encodes. High enough that the analyzer sees
// the wound, small enough to ship over the wire.
const jpegQuality = 90

// NormalizeImage validates raw upload bytes and produces the canonical
// injury image: a JPEG with no alpha or palette channel. Inputs that are
// already canonical (opaque JPEG) pass through byte-identical, so running
// normalization twice is a no-op. The input slice is never mutated.
func NormalizeImage(raw []byte) (*models.InjuryImage, error) {
	if len(raw) > models.MaxImageBytes {
		return nil, &models.InvalidImageError{
			Reason: models.ErrImageTooLarge,
			Detail: fmt.Sprintf("%d bytes, limit %d", len(raw), models.MaxImageBytes),
		}
	}

	img, format, err := image.Decode(bytes.NewReader(raw))
	if err != nil {
		return nil, &models.InvalidImageError{Reason: models.ErrImageUndecodable, Detail: err.Error()}
	}

	bounds := img.Bounds()
	mode, flat := canonicalMode(img)

	// Opaque JPEG input is already in canonical form.
	if flat && format == "jpeg" {
		zap.L().Debug("Image already canonical",
			zap.String("mode", mode),
			zap.Int("width", bounds.Dx()),
			zap.Int("height", bounds.Dy()))
		return &models.InjuryImage{
			Data:      raw,
			Width:     bounds.Dx(),
			Height:    bounds.Dy(),
			ColorMode: mode,
		}, nil
	}

	var buf bytes.Buffer
	if flat {
		// Mode is fine, container is not: re-encode as JPEG unchanged.
		if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: jpegQuality}); err != nil {
			return nil, &models.InvalidImageError{Reason: models.ErrImageUndecodable, Detail: err.Error()}
		}
	} else {
		// Flatten alpha/palette forms onto a white opaque canvas.
		canvas := image.NewRGBA(bounds)
		draw.Draw(canvas, bounds, image.NewUniform(color.White), image.Point{}, draw.Src)
		draw.Draw(canvas, bounds, img, bounds.Min, draw.Over)
		if err := jpeg.Encode(&buf, canvas, &jpeg.Options{Quality: jpegQuality}); err != nil {
			return nil, &models.InvalidImageError{Reason: models.ErrImageUndecodable, Detail: err.Error()}
		}
		mode = models.ColorModeRGB
	}

	zap.L().Debug("Normalized image",
		zap.String("source_format", format),
		zap.String("mode", mode),
		zap.Int("bytes", buf.Len()))

	return &models.InjuryImage{
		Data:      buf.Bytes(),
		Width:     bounds.Dx(),
		Height:    bounds.Dy(),
		ColorMode: mode,
	}, nil
}

// canonicalMode reports the color mode of a decoded image and whether that
// mode is already free of alpha and palette channels.
func canonicalMode(img image.Image) (string, bool) {
	switch img.(type) {
	case *image.YCbCr:
		return models.ColorModeRGB, true
	case *image.Gray, *image.Gray16:
		return models.ColorModeGray, true
	default:
		// NRGBA/RGBA (alpha), Paletted, NYCbCrA, CMYK: all get flattened.
		return models.ColorModeRGB, false
	}
}
