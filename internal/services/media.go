package services

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"strconv"
	"strings"

	"github.com/disintegration/imaging"
	"github.com/hourse/backend/internal/config"
)

// Formats imaging can decode.
var decodableImageTypes = map[string]imaging.Format{
	"image/jpeg": imaging.JPEG,
	"image/jpg":  imaging.JPEG,
	"image/png":  imaging.PNG,
	"image/gif":  imaging.GIF,
	"image/bmp":  imaging.BMP,
	"image/tiff": imaging.TIFF,
}

const (
	SplashWidth  = 1242
	SplashHeight = 2688
	SplashName   = "splash-1242x2688.png"
)

// MobileIconSizes lists the icon set rendered for the mobile app.
var MobileIconSizes = []int{1024, 512, 192, 180, 167, 152, 120, 87, 80, 76, 60, 58, 40, 29, 20}

type MediaService struct {
	maxDimension  int
	quality       int
	thumbnailSize int
}

func NewMediaService(cfg config.MediaConfig) *MediaService {
	m := &MediaService{
		maxDimension:  cfg.MaxDimension,
		quality:       cfg.JPEGQuality,
		thumbnailSize: cfg.ThumbnailSize,
	}
	if m.maxDimension <= 0 {
		m.maxDimension = 1920
	}
	if m.quality <= 0 || m.quality > 100 {
		m.quality = 80
	}
	if m.thumbnailSize <= 0 {
		m.thumbnailSize = 300
	}
	return m
}

func (m *MediaService) ThumbnailSize() int {
	return m.thumbnailSize
}

func IsImage(mimeType string) bool {
	_, ok := decodableImageTypes[strings.ToLower(mimeType)]
	return ok
}

// Compress fits the image within the configured bounds and re-encodes it.
// PNG stays PNG; everything else becomes JPEG. When the result is not
// smaller than the input and no resize happened, the input is returned.
func (m *MediaService) Compress(data []byte, mimeType string) ([]byte, string, error) {
	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return nil, "", fmt.Errorf("decode image: %w", err)
	}

	bounds := img.Bounds()
	resized := false
	if bounds.Dx() > m.maxDimension || bounds.Dy() > m.maxDimension {
		img = imaging.Fit(img, m.maxDimension, m.maxDimension, imaging.Lanczos)
		resized = true
	}

	format, outType := imaging.JPEG, "image/jpeg"
	if strings.EqualFold(mimeType, "image/png") {
		format, outType = imaging.PNG, "image/png"
	}

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, format, imaging.JPEGQuality(m.quality)); err != nil {
		return nil, "", fmt.Errorf("encode image: %w", err)
	}

	if !resized && buf.Len() >= len(data) {
		return data, mimeType, nil
	}
	return buf.Bytes(), outType, nil
}

// Thumbnail renders a centre-cropped square JPEG of ThumbnailSize pixels.
func (m *MediaService) Thumbnail(data []byte) ([]byte, error) {
	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}

	thumb := imaging.Fill(img, m.thumbnailSize, m.thumbnailSize, imaging.Center, imaging.Lanczos)

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, thumb, imaging.JPEG, imaging.JPEGQuality(m.quality)); err != nil {
		return nil, fmt.Errorf("encode thumbnail: %w", err)
	}
	return buf.Bytes(), nil
}

// MobileAssets renders the PNG icon set plus a splash screen with the icon
// centred on background.
func (m *MediaService) MobileAssets(data []byte, background color.Color) (map[string][]byte, error) {
	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("decode icon: %w", err)
	}

	square := imaging.Fill(img, MobileIconSizes[0], MobileIconSizes[0], imaging.Center, imaging.Lanczos)
	assets := make(map[string][]byte, len(MobileIconSizes)+1)

	for _, size := range MobileIconSizes {
		icon := image.Image(square)
		if size != MobileIconSizes[0] {
			icon = imaging.Resize(square, size, size, imaging.Lanczos)
		}
		encoded, err := encodePNG(icon)
		if err != nil {
			return nil, err
		}
		assets["icon-"+strconv.Itoa(size)+".png"] = encoded
	}

	splash := imaging.New(SplashWidth, SplashHeight, background)
	splash = imaging.PasteCenter(splash, imaging.Resize(square, 512, 512, imaging.Lanczos))
	encoded, err := encodePNG(splash)
	if err != nil {
		return nil, err
	}
	assets[SplashName] = encoded

	return assets, nil
}

func encodePNG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.PNG); err != nil {
		return nil, fmt.Errorf("encode png: %w", err)
	}
	return buf.Bytes(), nil
}

// ParseHexColor accepts #RGB or #RRGGBB and falls back to white.
func ParseHexColor(value string) color.Color {
	hex := strings.TrimPrefix(strings.TrimSpace(value), "#")
	if len(hex) == 3 {
		hex = string([]byte{hex[0], hex[0], hex[1], hex[1], hex[2], hex[2]})
	}
	if len(hex) != 6 {
		return color.White
	}
	parsed, err := strconv.ParseUint(hex, 16, 32)
	if err != nil {
		return color.White
	}
	return color.NRGBA{R: uint8(parsed >> 16), G: uint8(parsed >> 8), B: uint8(parsed), A: 0xff}
}
