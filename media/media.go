// Package media turns arbitrary source images into Twitter-acceptable JPEG
// assets and uploads them. Sources may be JPEG, PNG or WebP; anything larger
// than the provider's dimension bound is downscaled with a high-quality
// resampling filter before re-encoding.
package media

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"log/slog"
	"os"

	_ "image/png" // registered for image.Decode

	_ "github.com/gen2brain/webp" // registered for image.Decode

	"golang.org/x/image/draw"
)

const (
	// MaxDimension is the largest width or height the provider accepts
	// before requiring a downscale.
	MaxDimension = 2048

	// JPEGQuality is the fixed re-encode quality factor.
	JPEGQuality = 85
)

// Asset is one source image handed to the pipeline.
type Asset struct {
	Data     []byte
	MimeHint string
}

// Processed is a provider-ready image.
type Processed struct {
	Data   []byte
	Width  int
	Height int
}

// Uploader is the slice of the Twitter client the pipeline needs.
type Uploader interface {
	UploadMedia(ctx context.Context, data []byte) (string, error)
}

// Pipeline processes and uploads images.
type Pipeline struct {
	uploader Uploader
	logger   *slog.Logger
	maxDim   int
	quality  int
}

// New creates a media pipeline. Zero maxDim/quality take the provider defaults.
func New(uploader Uploader, maxDim, quality int, logger *slog.Logger) *Pipeline {
	if maxDim <= 0 {
		maxDim = MaxDimension
	}
	if quality <= 0 {
		quality = JPEGQuality
	}
	return &Pipeline{
		uploader: uploader,
		maxDim:   maxDim,
		quality:  quality,
		logger:   logger,
	}
}

// Process decodes a source image, flattens it to an opaque RGB image and
// downscales it so neither dimension exceeds the bound, preserving aspect
// ratio, then re-encodes it as JPEG.
func (p *Pipeline) Process(asset Asset) (*Processed, error) {
	src, format, err := image.Decode(bytes.NewReader(asset.Data))
	if err != nil {
		return nil, fmt.Errorf("decode image (hint %q): %w", asset.MimeHint, err)
	}

	bounds := src.Bounds()
	width, height := bounds.Dx(), bounds.Dy()
	if width == 0 || height == 0 {
		return nil, errors.New("image has zero dimension")
	}

	targetW, targetH := fitWithin(width, height, p.maxDim)

	// Flatten onto a white background so transparent PNG/WebP sources
	// become valid opaque JPEGs.
	dst := image.NewRGBA(image.Rect(0, 0, targetW, targetH))
	draw.Draw(dst, dst.Bounds(), image.NewUniform(color.White), image.Point{}, draw.Src)
	if targetW == width && targetH == height {
		draw.Draw(dst, dst.Bounds(), src, bounds.Min, draw.Over)
	} else {
		draw.CatmullRom.Scale(dst, dst.Bounds(), src, bounds, draw.Over, nil)
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, dst, &jpeg.Options{Quality: p.quality}); err != nil {
		return nil, fmt.Errorf("encode jpeg: %w", err)
	}

	p.logger.Info("Image processed",
		"source_format", format,
		"source_size", fmt.Sprintf("%dx%d", width, height),
		"target_size", fmt.Sprintf("%dx%d", targetW, targetH),
		"bytes_in", len(asset.Data),
		"bytes_out", buf.Len())

	return &Processed{Data: buf.Bytes(), Width: targetW, Height: targetH}, nil
}

// fitWithin scales (w, h) down so both fit inside bound, keeping aspect ratio.
// Images already within the bound are untouched.
func fitWithin(w, h, bound int) (int, int) {
	if w <= bound && h <= bound {
		return w, h
	}
	if w >= h {
		scaled := (h*bound + w/2) / w
		if scaled < 1 {
			scaled = 1
		}
		return bound, scaled
	}
	scaled := (w*bound + h/2) / h
	if scaled < 1 {
		scaled = 1
	}
	return scaled, bound
}

// uploadOne stages the processed image in a scratch file and streams it to
// the upload endpoint. The scratch file is removed on every exit path.
func (p *Pipeline) uploadOne(ctx context.Context, processed *Processed) (string, error) {
	f, err := os.CreateTemp("", "relay-media-*.jpg")
	if err != nil {
		return "", fmt.Errorf("create scratch file: %w", err)
	}
	scratch := f.Name()
	defer func() {
		if removeErr := os.Remove(scratch); removeErr != nil {
			p.logger.Warn("Failed to remove scratch file", "path", scratch, "error", removeErr)
		}
	}()

	if _, err := f.Write(processed.Data); err != nil {
		f.Close()
		return "", fmt.Errorf("write scratch file: %w", err)
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("close scratch file: %w", err)
	}

	data, err := os.ReadFile(scratch)
	if err != nil {
		return "", fmt.Errorf("read scratch file: %w", err)
	}

	return p.uploader.UploadMedia(ctx, data)
}

// UploadAll processes and uploads a batch of images. Each asset is handled
// independently and uploaded sequentially; a single failure does not abort
// the batch, but at least one upload must succeed or the whole batch fails.
func (p *Pipeline) UploadAll(ctx context.Context, assets []Asset) ([]string, error) {
	if len(assets) == 0 {
		return nil, nil
	}

	var mediaIDs []string
	var lastErr error
	for i, asset := range assets {
		processed, err := p.Process(asset)
		if err != nil {
			p.logger.Warn("Skipping image that failed processing", "index", i, "error", err)
			lastErr = err
			continue
		}

		mediaID, err := p.uploadOne(ctx, processed)
		if err != nil {
			p.logger.Warn("Skipping image that failed upload", "index", i, "error", err)
			lastErr = err
			continue
		}
		mediaIDs = append(mediaIDs, mediaID)
	}

	if len(mediaIDs) == 0 {
		return nil, fmt.Errorf("no image uploaded successfully: %w", lastErr)
	}

	p.logger.Info("Media batch uploaded", "requested", len(assets), "uploaded", len(mediaIDs))
	return mediaIDs, nil
}
