package service

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"image"
	"image/draw"
	_ "image/gif" // Register GIF decoder
	"image/jpeg"
	_ "image/png" // Register PNG decoder
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"betelconnect/internal/config"
	"betelconnect/internal/models"
	"betelconnect/internal/observability"

	"github.com/chai2010/webp"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	xdraw "golang.org/x/image/draw"
	_ "golang.org/x/image/webp" // Register WebP decoder
)

const (
	DefaultBlobMaxUploadSizeMB = 10
	MasterMaxSize              = 2048
	JPEGQuality                = 82
	WebPQuality                = 70
)

// Blob folders.
const (
	FolderMessages = "betel/messages"
	FolderPosts    = "betel/posts"
)

// UploadInput carries either raw bytes or a base64 data URI.
type UploadInput struct {
	Data    []byte
	DataURI string
	Folder  string
}

// Asset is a stored blob.
type Asset struct {
	URL      string `json:"url"`
	PublicID string `json:"public_id"`
}

// BlobStore uploads and releases media.
type BlobStore interface {
	Upload(ctx context.Context, in UploadInput) (Asset, error)
	Delete(ctx context.Context, publicID string) error
}

// LocalBlobStore keeps a JPEG and a WebP rendition of each upload under
// <root>/<folder>/<hash>/.
type LocalBlobStore struct {
	root     string
	baseURL  string
	maxBytes int64
}

// NewLocalBlobStore creates a LocalBlobStore from cfg.
func NewLocalBlobStore(cfg *config.Config) *LocalBlobStore {
	s := &LocalBlobStore{
		root:     "uploads",
		baseURL:  "/media",
		maxBytes: DefaultBlobMaxUploadSizeMB * 1024 * 1024,
	}
	if cfg != nil {
		if cfg.BlobDir != "" {
			s.root = cfg.BlobDir
		}
		if cfg.BlobBaseURL != "" {
			s.baseURL = strings.TrimRight(cfg.BlobBaseURL, "/")
		}
		if cfg.BlobMaxUploadMB > 0 {
			s.maxBytes = cfg.BlobMaxUploadBytes()
		}
	}
	return s
}

// IsImageDataURI reports whether s is a base64 image data URI.
func IsImageDataURI(s string) bool {
	return strings.HasPrefix(s, "data:image/") && strings.Contains(s, ";base64,")
}

func decodeDataURI(s string) ([]byte, error) {
	if !IsImageDataURI(s) {
		return nil, errors.New("not an image data URI")
	}
	_, payload, _ := strings.Cut(s, ";base64,")
	return base64.StdEncoding.DecodeString(payload)
}

func (s *LocalBlobStore) Upload(ctx context.Context, in UploadInput) (asset Asset, err error) {
	span, _ := observability.NewSpan(ctx, "blob.upload")
	defer func() {
		observability.BlobOperations.WithLabelValues("upload", observability.Outcome(err)).Inc()
		span.SetError(err)
		span.End()
	}()

	content := in.Data
	if in.DataURI != "" {
		content, err = decodeDataURI(in.DataURI)
		if err != nil {
			return Asset{}, models.NewValidationError("Invalid image data")
		}
	}
	if len(content) == 0 {
		return Asset{}, models.NewValidationError("No image uploaded")
	}
	if int64(len(content)) > s.maxBytes {
		return Asset{}, models.NewValidationError(fmt.Sprintf("File too large (max %dMB)", s.maxBytes/(1024*1024)))
	}
	if !isAllowedImageMIME(http.DetectContentType(content)) {
		return Asset{}, models.NewValidationError("Invalid image type")
	}
	decoded, _, err := image.Decode(bytes.NewReader(content))
	if err != nil {
		return Asset{}, models.NewValidationError("Invalid image file")
	}

	master := resizeToFit(decoded, MasterMaxSize, MasterMaxSize)
	jpg, err := encodeJPEG(master, JPEGQuality)
	if err != nil {
		return Asset{}, models.NewUploadError(err)
	}
	wp, err := encodeWebP(master, WebPQuality)
	if err != nil {
		return Asset{}, models.NewUploadError(err)
	}

	folder := strings.Trim(filepath.ToSlash(in.Folder), "/")
	if folder == "" || strings.Contains(folder, "..") {
		return Asset{}, models.NewValidationError("Invalid folder")
	}
	publicID := folder + "/" + uploadHash(jpg)
	dir := filepath.Join(s.root, filepath.FromSlash(publicID))
	if err := writeBytesToFile(filepath.Join(dir, "master.jpg"), jpg); err != nil {
		return Asset{}, models.NewUploadError(err)
	}
	if err := writeBytesToFile(filepath.Join(dir, "master.webp"), wp); err != nil {
		_ = os.RemoveAll(dir)
		return Asset{}, models.NewUploadError(err)
	}

	span.AddAttributes(attribute.String("blob.public_id", publicID), attribute.Int("blob.bytes", len(jpg)))
	return Asset{URL: s.URL(publicID), PublicID: publicID}, nil
}

// URL returns the address the JPEG master of publicID is served from.
func (s *LocalBlobStore) URL(publicID string) string {
	return s.baseURL + "/" + publicID + "/master.jpg"
}

// Delete removes the blob directory. Unknown ids are a no-op.
func (s *LocalBlobStore) Delete(_ context.Context, publicID string) (err error) {
	defer func() {
		observability.BlobOperations.WithLabelValues("delete", observability.Outcome(err)).Inc()
	}()
	id := strings.Trim(filepath.ToSlash(publicID), "/")
	if id == "" || strings.Contains(id, "..") {
		return models.NewValidationError("Invalid public id")
	}
	return os.RemoveAll(filepath.Join(s.root, filepath.FromSlash(id)))
}

// uploadHash names an upload directory. A fresh uuid is mixed in so two
// uploads of the same bytes never share a directory.
func uploadHash(content []byte) string {
	h := sha256.New()
	_, _ = fmt.Fprintf(h, "%s:", uuid.NewString())
	h.Write(content)
	return hex.EncodeToString(h.Sum(nil))
}

func resizeToFit(src image.Image, maxWidth, maxHeight int) image.Image {
	bounds := src.Bounds()
	w := bounds.Dx()
	h := bounds.Dy()
	if w <= 0 || h <= 0 {
		return src
	}
	if w <= maxWidth && h <= maxHeight {
		return src
	}

	scaleW := float64(maxWidth) / float64(w)
	scaleH := float64(maxHeight) / float64(h)
	scale := scaleW
	if scaleH < scale {
		scale = scaleH
	}
	newW := max(int(float64(w)*scale), 1)
	newH := max(int(float64(h)*scale), 1)

	dst := image.NewRGBA(image.Rect(0, 0, newW, newH))
	xdraw.CatmullRom.Scale(dst, dst.Bounds(), src, bounds, xdraw.Over, nil)
	return dst
}

// flatten draws img onto an opaque canvas so transparent PNGs encode cleanly.
func flatten(img image.Image) image.Image {
	dst := image.NewRGBA(img.Bounds())
	draw.Draw(dst, dst.Bounds(), image.White, image.Point{}, draw.Src)
	draw.Draw(dst, dst.Bounds(), img, img.Bounds().Min, draw.Over)
	return dst
}

func encodeJPEG(img image.Image, quality int) ([]byte, error) {
	buf := bytes.NewBuffer(nil)
	if err := jpeg.Encode(buf, flatten(img), &jpeg.Options{Quality: quality}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func encodeWebP(img image.Image, quality int) ([]byte, error) {
	buf := bytes.NewBuffer(nil)
	if err := webp.Encode(buf, img, &webp.Options{Quality: float32(quality)}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func isAllowedImageMIME(contentType string) bool {
	switch strings.ToLower(strings.TrimSpace(strings.Split(contentType, ";")[0])) {
	case "image/jpeg", "image/png", "image/gif", "image/webp":
		return true
	default:
		return false
	}
}

func writeBytesToFile(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}
