// Package image bounds the size of screenshot attachments before they are
// sent to the model. Downscaling trades resolution for cost: 800px on the
// longer edge keeps on-screen text legible to the model while cutting token
// and bandwidth cost substantially.
package image

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"image/color"

	"github.com/disintegration/imaging"

	"github.com/littletone/littletone/internal/log"
)

const (
	// MaxEdge is the longest allowed edge after downscaling.
	MaxEdge = 800

	// JPEGQuality balances legibility of embedded text against output size.
	JPEGQuality = 70
)

// Processor downscales base64-encoded images.
type Processor struct {
	logger log.Logger
}

// NewProcessor creates an image processor.
func NewProcessor(logger log.Logger) *Processor {
	return &Processor{logger: logger}
}

// Downscale decodes a base64 image, resizes it so the longer edge is at most
// MaxEdge, flattens transparency onto white, and re-encodes it as base64
// JPEG. Images already within bounds are still flattened and re-encoded so
// output size stays bounded regardless of input format.
//
// A decode failure returns an error; callers drop the attachment and
// continue rather than failing the request.
func (p *Processor) Downscale(encoded string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", fmt.Errorf("decoding base64 image: %w", err)
	}

	img, err := imaging.Decode(bytes.NewReader(raw))
	if err != nil {
		return "", fmt.Errorf("decoding image: %w", err)
	}

	bounds := img.Bounds()
	if bounds.Dx() > MaxEdge || bounds.Dy() > MaxEdge {
		img = imaging.Fit(img, MaxEdge, MaxEdge, imaging.Lanczos)
	}

	// Flatten any alpha channel onto white. JPEG has no transparency, and
	// leaving alpha in place darkens transparent PNG regions to black.
	flat := imaging.New(img.Bounds().Dx(), img.Bounds().Dy(), color.NRGBA{R: 255, G: 255, B: 255, A: 255})
	flat = imaging.OverlayCenter(flat, img, 1.0)

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, flat, imaging.JPEG, imaging.JPEGQuality(JPEGQuality)); err != nil {
		return "", fmt.Errorf("encoding jpeg: %w", err)
	}

	out := base64.StdEncoding.EncodeToString(buf.Bytes())

	reduction := 0.0
	if len(encoded) > 0 {
		reduction = (1 - float64(len(out))/float64(len(encoded))) * 100
	}
	p.logger.Info("image downscaled",
		"original_bytes", len(encoded),
		"processed_bytes", len(out),
		"reduction_pct", fmt.Sprintf("%.1f", reduction))

	return out, nil
}
