package bloggart

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func testPNG(t *testing.T, w, h int) *bytes.Buffer {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for x := 0; x < w; x++ {
		img.Set(x, h/2, color.RGBA{R: 200, A: 255})
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	return &buf
}

func TestSaveImageResizesAndServes(t *testing.T) {
	a := newTestApp(t, testConfig(t))
	ctx := context.Background()

	img, err := a.SaveImage(ctx, testPNG(t, 1200, 600), "My Photo.png")
	if err != nil {
		t.Fatalf("SaveImage failed: %v", err)
	}
	if img.Filename != "my-photo.jpg" {
		t.Errorf("Filename = %q, want my-photo.jpg", img.Filename)
	}
	if img.Width != 800 || img.Height != 400 {
		t.Errorf("size = %dx%d, want 800x400", img.Width, img.Height)
	}

	dup, err := a.SaveImage(ctx, testPNG(t, 10, 10), "my photo.gif")
	if err != nil {
		t.Fatalf("SaveImage failed: %v", err)
	}
	if dup.Filename != "my-photo-2.jpg" {
		t.Errorf("second Filename = %q, want my-photo-2.jpg", dup.Filename)
	}

	rec := httptest.NewRecorder()
	a.Echo.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, img.URL(), nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("GET %s = %d", img.URL(), rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "image/jpeg" {
		t.Errorf("Content-Type = %q", ct)
	}
	if cc := rec.Header().Get("Cache-Control"); !strings.Contains(cc, "immutable") {
		t.Errorf("Cache-Control = %q", cc)
	}

	// Uploads are not pages and stay out of the sitemap.
	paths, err := a.Static.IndexedPaths(ctx)
	if err != nil {
		t.Fatalf("IndexedPaths failed: %v", err)
	}
	if len(paths) != 0 {
		t.Errorf("IndexedPaths = %v, want none", paths)
	}

	if err := a.DeleteImage(ctx, img.Filename); err != nil {
		t.Fatalf("DeleteImage failed: %v", err)
	}
	assertNoDocument(t, a, img.URL())
	images, err := a.Store.ListImages(ctx)
	if err != nil {
		t.Fatalf("ListImages failed: %v", err)
	}
	if len(images) != 1 || images[0].Filename != "my-photo-2.jpg" {
		t.Errorf("ListImages = %v", images)
	}
}

func TestSaveImageRejectsGarbage(t *testing.T) {
	a := newTestApp(t, testConfig(t))
	_, err := a.SaveImage(context.Background(), strings.NewReader("not an image"), "x.png")
	if !errors.Is(err, ErrInvalidImage) {
		t.Errorf("err = %v, want ErrInvalidImage", err)
	}
}
