package cloudflush

import (
	"fmt"
	"time"
)

// Config configures the uploader.
type Config struct {
	Bucket              string        // destination bucket (required)
	ObjectPrefix        string        // object key prefix, e.g. "segments/ckpt/"
	ChunkSize           int           // per-chunk upload size (default 32MiB)
	MaxChunksPerCompose int           // GCS compose fan-in limit (default 32)
	MaxRetries          int           // per-file upload retry budget (default 3)
	RetryDelay          time.Duration // delay between retries (default 5s)
	GRPCPoolSize        int           // gRPC connection pool size (default 64)
	ChannelBufferSize   int           // sealed-file channel buffer size (default 100)
	Compress            bool          // gzip-compress before upload (default true)
}

// DefaultConfig returns baseline defaults for bucket.
func DefaultConfig(bucket string) Config {
	return Config{
		Bucket:              bucket,
		ChunkSize:           32 * 1024 * 1024,
		MaxChunksPerCompose: 32,
		MaxRetries:          3,
		RetryDelay:          5 * time.Second,
		GRPCPoolSize:        64,
		ChannelBufferSize:   100,
		Compress:            true,
	}
}

// Validate fills in defaults and rejects unusable configuration.
func (c *Config) Validate() error {
	if c.Bucket == "" {
		return fmt.Errorf("cloudflush: Bucket is required")
	}
	if c.ChunkSize <= 0 {
		c.ChunkSize = 32 * 1024 * 1024
	}
	if c.MaxChunksPerCompose <= 0 {
		c.MaxChunksPerCompose = 32
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = 3
	}
	if c.RetryDelay <= 0 {
		c.RetryDelay = 5 * time.Second
	}
	if c.GRPCPoolSize <= 0 {
		c.GRPCPoolSize = 64
	}
	if c.ChannelBufferSize <= 0 {
		c.ChannelBufferSize = 100
	}
	return nil
}
