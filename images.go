package bloggart

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	"image/jpeg"
	_ "image/png"
	"io"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/labstack/echo/v4"
	"golang.org/x/image/draw"
)

const (
	maxImageWidth = 800
	jpegQuality   = 80
	maxUploadSize = 10 << 20 // 10MB
	uploadsPrefix = "/static/uploads/"
)

// ErrInvalidImage is returned for uploads that cannot be decoded.
var ErrInvalidImage = errors.New("invalid image")

// processImage decodes an image from src, resizes it to maxImageWidth when
// wider, and encodes it as JPEG.
func processImage(src io.Reader, originalName string) (Image, []byte, error) {
	img, _, err := image.Decode(src)
	if err != nil {
		return Image{}, nil, fmt.Errorf("%w: %v", ErrInvalidImage, err)
	}

	bounds := img.Bounds()
	w, h := bounds.Dx(), bounds.Dy()

	if w > maxImageWidth {
		newH := h * maxImageWidth / w
		dst := image.NewRGBA(image.Rect(0, 0, maxImageWidth, newH))
		draw.CatmullRom.Scale(dst, dst.Bounds(), img, bounds, draw.Over, nil)
		img = dst
		w = maxImageWidth
		h = newH
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: jpegQuality}); err != nil {
		return Image{}, nil, fmt.Errorf("encode jpeg: %w", err)
	}

	name := slugifyFilename(originalName)
	if name == "" {
		name = "image"
	}
	return Image{
		Filename:     name + ".jpg",
		OriginalName: originalName,
		Width:        w,
		Height:       h,
		Size:         buf.Len(),
	}, buf.Bytes(), nil
}

// slugifyFilename converts a filename (without extension) to a URL-safe slug.
func slugifyFilename(name string) string {
	ext := filepath.Ext(name)
	return Slugify(strings.TrimSuffix(name, ext))
}

// uniqueFilename appends a counter until no stored document uses the name.
func (a *App) uniqueFilename(ctx context.Context, filename string) (string, error) {
	base := strings.TrimSuffix(filename, ".jpg")
	candidate := filename
	for n := 2; ; n++ {
		_, err := a.Static.Get(ctx, uploadsPrefix+candidate)
		if errors.Is(err, ErrNotFound) {
			return candidate, nil
		}
		if err != nil {
			return "", err
		}
		candidate = fmt.Sprintf("%s-%d.jpg", base, n)
	}
}

// SaveImage stores an uploaded image as a static document and records it.
func (a *App) SaveImage(ctx context.Context, src io.Reader, originalName string) (Image, error) {
	img, data, err := processImage(src, originalName)
	if err != nil {
		return Image{}, err
	}
	if img.Filename, err = a.uniqueFilename(ctx, img.Filename); err != nil {
		return Image{}, err
	}
	img.UploadedAt = a.now().UTC()
	if _, err := a.Static.Set(ctx, img.URL(), data, "image/jpeg", NotIndexed(),
		WithHeader("Cache-Control", "public, max-age=31536000, immutable")); err != nil {
		return Image{}, err
	}
	if err := a.Store.SaveImage(ctx, img); err != nil {
		return Image{}, err
	}
	a.log.Info().Str("file", img.Filename).Int("bytes", img.Size).Msg("image uploaded")
	return img, nil
}

// DeleteImage removes an uploaded image.
func (a *App) DeleteImage(ctx context.Context, filename string) error {
	if err := a.Store.DeleteImage(ctx, filename); err != nil {
		return err
	}
	return a.Static.Remove(ctx, uploadsPrefix+filename)
}

func (a *App) handleImageUpload(c echo.Context) error {
	file, err := c.FormFile("image")
	if err != nil {
		return c.String(http.StatusBadRequest, "No image file provided")
	}
	if file.Size > maxUploadSize {
		return c.String(http.StatusBadRequest, "File too large (max 10MB)")
	}
	src, err := file.Open()
	if err != nil {
		return err
	}
	defer src.Close()

	if _, err := a.SaveImage(c.Request().Context(), src, file.Filename); err != nil {
		if errors.Is(err, ErrInvalidImage) {
			return c.String(http.StatusBadRequest, "Invalid image: "+err.Error())
		}
		return err
	}
	return a.renderImageList(c)
}

func (a *App) handleImageDelete(c echo.Context) error {
	filename := c.Param("filename")
	if filename == "" {
		return c.String(http.StatusBadRequest, "Filename required")
	}
	if err := a.DeleteImage(c.Request().Context(), filename); err != nil {
		if errors.Is(err, ErrNotFound) {
			return echo.ErrNotFound
		}
		return err
	}
	return a.renderImageList(c)
}

func (a *App) handleImageList(c echo.Context) error {
	return a.renderImageList(c)
}

func (a *App) renderImageList(c echo.Context) error {
	images, err := a.Store.ListImages(c.Request().Context())
	if err != nil {
		return err
	}
	data := a.adminData(c)
	data.Images = images
	return a.renderAdmin(c, http.StatusOK, "images.html", data)
}
