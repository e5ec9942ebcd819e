package storage

import (
	"context"
	"fmt"
	"time"
)

// URLSigner turns stored object keys into URLs clients can fetch.
type URLSigner interface {
	// Exists checks if an object with the given key exists.
	Exists(ctx context.Context, key string) (bool, error)

	// GetURL returns a URL for the object. S3 returns a presigned URL valid
	// for expires unless a public URL prefix is configured.
	GetURL(ctx context.Context, key string, expires time.Duration) (string, error)
}

// Config selects and configures a storage backend.
type Config struct {
	Driver string      `mapstructure:"driver"` // "local", "s3", "none"
	Local  LocalConfig `mapstructure:"local"`
	S3     S3Config    `mapstructure:"s3"`
}

// New returns the configured signer, or nil for driver "none".
func New(ctx context.Context, cfg Config) (URLSigner, error) {
	switch cfg.Driver {
	case "s3":
		return NewS3Storage(ctx, cfg.S3)
	case "local":
		return NewLocalStorage(cfg.Local)
	case "none", "":
		return nil, nil
	default:
		return nil, fmt.Errorf("unsupported storage driver: %s", cfg.Driver)
	}
}
