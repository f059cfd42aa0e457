package media

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"io"
	"log/slog"
	"testing"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeUploader struct {
	uploads int
	failAt  map[int]error // 1-based call number to error
}

func (f *fakeUploader) UploadMedia(context.Context, []byte) (string, error) {
	f.uploads++
	if err, ok := f.failAt[f.uploads]; ok {
		return "", err
	}
	return "media-id", nil
}

func encodePNG(t *testing.T, img image.Image) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	return buf.Bytes()
}

func solidImage(w, h int) image.Image {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := range h {
		for x := range w {
			img.Set(x, y, color.RGBA{R: 200, G: 100, B: 50, A: 255})
		}
	}
	return img
}

func TestFitWithin(t *testing.T) {
	tests := []struct {
		name  string
		w, h  int
		bound int
		wantW int
		wantH int
	}{
		{name: "already within bound", w: 800, h: 600, bound: 2048, wantW: 800, wantH: 600},
		{name: "square oversize", w: 5000, h: 5000, bound: 2048, wantW: 2048, wantH: 2048},
		{name: "wide oversize", w: 4096, h: 1024, bound: 2048, wantW: 2048, wantH: 512},
		{name: "tall oversize", w: 1024, h: 4096, bound: 2048, wantW: 512, wantH: 2048},
		{name: "extreme aspect never hits zero", w: 100000, h: 2, bound: 2048, wantW: 2048, wantH: 1},
		{name: "exactly at bound", w: 2048, h: 2048, bound: 2048, wantW: 2048, wantH: 2048},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gotW, gotH := fitWithin(tt.w, tt.h, tt.bound)
			if gotW != tt.wantW || gotH != tt.wantH {
				t.Errorf("fitWithin(%d, %d, %d) = (%d, %d), want (%d, %d)",
					tt.w, tt.h, tt.bound, gotW, gotH, tt.wantW, tt.wantH)
			}
		})
	}
}

func TestProcessDownscalesOversizeImage(t *testing.T) {
	p := New(&fakeUploader{}, 0, 0, testLogger())

	src := encodePNG(t, solidImage(5000, 2500))
	processed, err := p.Process(Asset{Data: src, MimeHint: "image/png"})
	if err != nil {
		t.Fatalf("Process() error = %v", err)
	}
	if processed.Width != 2048 || processed.Height != 1024 {
		t.Errorf("processed size = %dx%d, want 2048x1024", processed.Width, processed.Height)
	}

	decoded, err := jpeg.Decode(bytes.NewReader(processed.Data))
	if err != nil {
		t.Fatalf("output is not valid jpeg: %v", err)
	}
	b := decoded.Bounds()
	if b.Dx() != 2048 || b.Dy() != 1024 {
		t.Errorf("decoded size = %dx%d, want 2048x1024", b.Dx(), b.Dy())
	}
}

func TestProcessKeepsSmallImage(t *testing.T) {
	p := New(&fakeUploader{}, 0, 0, testLogger())

	processed, err := p.Process(Asset{Data: encodePNG(t, solidImage(640, 480))})
	if err != nil {
		t.Fatalf("Process() error = %v", err)
	}
	if processed.Width != 640 || processed.Height != 480 {
		t.Errorf("processed size = %dx%d, want 640x480 untouched", processed.Width, processed.Height)
	}
}

func TestProcessFlattensTransparency(t *testing.T) {
	p := New(&fakeUploader{}, 0, 0, testLogger())

	// Fully transparent source; the flattened JPEG must come out white.
	transparent := image.NewRGBA(image.Rect(0, 0, 10, 10))
	processed, err := p.Process(Asset{Data: encodePNG(t, transparent)})
	if err != nil {
		t.Fatalf("Process() error = %v", err)
	}

	decoded, err := jpeg.Decode(bytes.NewReader(processed.Data))
	if err != nil {
		t.Fatalf("decode output: %v", err)
	}
	r, g, b, _ := decoded.At(5, 5).RGBA()
	if r>>8 < 240 || g>>8 < 240 || b>>8 < 240 {
		t.Errorf("flattened pixel = (%d, %d, %d), want near white", r>>8, g>>8, b>>8)
	}
}

func TestProcessRejectsGarbage(t *testing.T) {
	p := New(&fakeUploader{}, 0, 0, testLogger())
	if _, err := p.Process(Asset{Data: []byte("not an image"), MimeHint: "image/jpeg"}); err == nil {
		t.Error("Process() error = nil, want decode error")
	}
}

func TestUploadAllContinuesOnFailure(t *testing.T) {
	uploader := &fakeUploader{failAt: map[int]error{2: errors.New("upload refused")}}
	p := New(uploader, 0, 0, testLogger())

	assets := []Asset{
		{Data: encodePNG(t, solidImage(10, 10))},
		{Data: encodePNG(t, solidImage(10, 10))},
		{Data: encodePNG(t, solidImage(10, 10))},
	}

	ids, err := p.UploadAll(context.Background(), assets)
	if err != nil {
		t.Fatalf("UploadAll() error = %v, want partial success", err)
	}
	if len(ids) != 2 {
		t.Errorf("got %d media ids, want 2", len(ids))
	}
}

func TestUploadAllFailsWhenNothingUploads(t *testing.T) {
	p := New(&fakeUploader{}, 0, 0, testLogger())

	// Every asset fails to decode, so nothing ever reaches the uploader.
	_, err := p.UploadAll(context.Background(), []Asset{
		{Data: []byte("junk one")},
		{Data: []byte("junk two")},
	})
	if err == nil {
		t.Error("UploadAll() error = nil, want failure when no image survives")
	}
}

func TestUploadAllEmptyBatch(t *testing.T) {
	p := New(&fakeUploader{}, 0, 0, testLogger())
	ids, err := p.UploadAll(context.Background(), nil)
	if err != nil || ids != nil {
		t.Errorf("UploadAll(nil) = %v, %v; want nil, nil", ids, err)
	}
}
