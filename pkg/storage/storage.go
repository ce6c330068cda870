/**
 * @description
 * File storage for catalogue workflow files. Drivers: local disk and S3
 * (presigned download URLs).
 */
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
	"time"
)

var ErrInvalidKey = errors.New("invalid storage key")

// Storage stores workflow files and hands out download URLs.
type Storage interface {
	Put(ctx context.Context, key string, r io.Reader, contentType string) error
	URL(ctx context.Context, key string) (string, error)
}

// Config selects and configures a driver.
type Config struct {
	Driver         string
	LocalDir       string
	LocalURLPrefix string
	S3Region       string
	S3Bucket       string
	S3Prefix       string
	S3Endpoint     string
	PresignTTL     time.Duration
}

// New builds the configured driver. An empty driver means local.
func New(ctx context.Context, cfg Config) (Storage, error) {
	switch cfg.Driver {
	case "", "local":
		return NewLocal(cfg.LocalDir, cfg.LocalURLPrefix), nil
	case "s3":
		if cfg.S3Region == "" || cfg.S3Bucket == "" {
			return nil, errors.New("S3 config missing: S3_REGION and S3_BUCKET are required")
		}
		return NewS3(ctx, S3Config{
			Region:     cfg.S3Region,
			Bucket:     cfg.S3Bucket,
			Prefix:     cfg.S3Prefix,
			Endpoint:   cfg.S3Endpoint,
			PresignTTL: cfg.PresignTTL,
		})
	default:
		return nil, fmt.Errorf("unknown STORAGE_DRIVER: %s", cfg.Driver)
	}
}

// cleanKey rejects keys that would escape the storage root.
func cleanKey(key string) (string, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return "", ErrInvalidKey
	}
	cleaned := path.Clean("/" + key)[1:]
	if cleaned == "" || cleaned != strings.TrimPrefix(key, "/") || strings.Contains(key, "..") {
		return "", ErrInvalidKey
	}
	return cleaned, nil
}
