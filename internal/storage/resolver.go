package storage

import (
	"context"
	"encoding/base64"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"realskin-backend/pkg/api"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"
)

type ResolverConfig struct {
	// DownloadDir caches fetched inputs between jobs on the same instance.
	DownloadDir string

	// FallbackImage is the bundled placeholder used when a remote input
	// cannot be fetched. When empty or missing a neutral placeholder is
	// generated under DownloadDir.
	FallbackImage string

	Retries    int
	RetryDelay time.Duration
}

type ResolvedInput struct {
	Path         string
	UsedFallback bool
}

// Resolver turns a job input descriptor into a local image path.
type Resolver struct {
	store ObjectStore
	http  *resty.Client
	cfg   ResolverConfig
}

func NewResolver(store ObjectStore, cfg ResolverConfig) *Resolver {
	if cfg.Retries <= 0 {
		cfg.Retries = 3
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = 2 * time.Second
	}

	return &Resolver{
		store: store,
		http: resty.New().
			SetRetryCount(cfg.Retries - 1).
			SetRetryWaitTime(cfg.RetryDelay).
			SetRetryMaxWaitTime(cfg.RetryDelay),
		cfg: cfg,
	}
}

func (r *Resolver) Resolve(ctx context.Context, input api.RunInput) (ResolvedInput, error) {
	switch input.Type {
	case api.InputTypeImageId:
		return r.resolveImageId(ctx, input.Data)
	case api.InputTypeUrl:
		return r.resolveUrl(ctx, input.Data)
	case api.InputTypeBase64:
		return r.resolveBase64(input.Data)
	default:
		return ResolvedInput{}, fmt.Errorf("unsupported input type %q", input.Type)
	}
}

func (r *Resolver) resolveImageId(ctx context.Context, imageId string) (ResolvedInput, error) {
	if imageId == "" {
		return ResolvedInput{}, fmt.Errorf("missing image_id")
	}

	localPath := filepath.Join(r.cfg.DownloadDir, filepath.Base(imageId))

	// Instances keep downloaded images between jobs; skip the fetch if we
	// already have it.
	if _, err := os.Stat(localPath); err == nil {
		slog.Info("image already cached, skipping download", "image_id", imageId, "path", localPath)
		return ResolvedInput{Path: localPath}, nil
	}

	var lastErr error
	for attempt := 1; attempt <= r.cfg.Retries; attempt++ {
		if err := r.store.DownloadObject(ctx, imageId, localPath); err != nil {
			lastErr = err
			// A leftover partial file here would pass the cache check on
			// the next job for the same image.
			os.Remove(localPath)
			slog.Warn("failed to download input image", "image_id", imageId, "attempt", attempt, "max_attempts", r.cfg.Retries, "error", err)
			time.Sleep(r.cfg.RetryDelay)
			continue
		}
		return ResolvedInput{Path: localPath}, nil
	}

	slog.Warn("input image unreachable after retries, using fallback image", "image_id", imageId, "error", lastErr)
	return r.fallback()
}

func (r *Resolver) resolveUrl(ctx context.Context, rawUrl string) (ResolvedInput, error) {
	if rawUrl == "" {
		return ResolvedInput{}, fmt.Errorf("missing input url")
	}

	// Take the extension from the path only, not from any query string.
	var ext string
	if parsed, err := url.Parse(rawUrl); err == nil {
		ext = filepath.Ext(parsed.Path)
	}
	localPath := filepath.Join(r.cfg.DownloadDir, uuid.NewString()+ext)

	res, err := r.http.R().
		SetContext(ctx).
		SetOutput(localPath).
		Get(rawUrl)
	if err != nil {
		slog.Warn("failed to fetch input url after retries, using fallback image", "url", rawUrl, "error", err)
		return r.fallback()
	}
	if res.IsError() {
		slog.Warn("input url returned error status, using fallback image", "url", rawUrl, "status", res.StatusCode())
		return r.fallback()
	}

	return ResolvedInput{Path: localPath}, nil
}

func (r *Resolver) resolveBase64(data string) (ResolvedInput, error) {
	if data == "" {
		return ResolvedInput{}, fmt.Errorf("missing base64 input data")
	}

	// Strip an optional data URL prefix ("data:image/jpeg;base64,...").
	if strings.HasPrefix(data, "data:") {
		if _, rest, ok := strings.Cut(data, ","); ok {
			data = rest
		}
	}

	raw, err := base64.StdEncoding.DecodeString(data)
	if err != nil {
		return ResolvedInput{}, fmt.Errorf("invalid base64 input data: %w", err)
	}

	localPath := filepath.Join(r.cfg.DownloadDir, "upload-"+uuid.NewString()+".png")
	if err := os.MkdirAll(filepath.Dir(localPath), os.ModePerm); err != nil {
		return ResolvedInput{}, fmt.Errorf("failed to create download directory: %w", err)
	}
	if err := os.WriteFile(localPath, raw, 0o644); err != nil {
		return ResolvedInput{}, fmt.Errorf("failed to write decoded input image: %w", err)
	}

	return ResolvedInput{Path: localPath}, nil
}

func (r *Resolver) fallback() (ResolvedInput, error) {
	if r.cfg.FallbackImage != "" {
		if _, err := os.Stat(r.cfg.FallbackImage); err == nil {
			return ResolvedInput{Path: r.cfg.FallbackImage, UsedFallback: true}, nil
		}
		slog.Warn("configured fallback image not found, generating placeholder", "path", r.cfg.FallbackImage)
	}

	path := filepath.Join(r.cfg.DownloadDir, "fallback.png")
	if _, err := os.Stat(path); err == nil {
		return ResolvedInput{Path: path, UsedFallback: true}, nil
	}

	if err := writePlaceholderImage(path); err != nil {
		return ResolvedInput{}, fmt.Errorf("failed to create fallback image: %w", err)
	}
	return ResolvedInput{Path: path, UsedFallback: true}, nil
}

func writePlaceholderImage(path string) error {
	img := image.NewRGBA(image.Rect(0, 0, 512, 512))
	draw.Draw(img, img.Bounds(), &image.Uniform{color.RGBA{128, 128, 128, 255}}, image.Point{}, draw.Src)

	if err := os.MkdirAll(filepath.Dir(path), os.ModePerm); err != nil {
		return fmt.Errorf("failed to create directory for placeholder: %w", err)
	}
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create placeholder file: %w", err)
	}
	defer file.Close()

	if err := png.Encode(file, img); err != nil {
		return fmt.Errorf("failed to encode placeholder image: %w", err)
	}
	return nil
}
