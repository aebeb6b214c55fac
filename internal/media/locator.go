package media

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// Config carries the object storage and CDN settings for a Locator.
type Config struct {
	Endpoint           string
	UseSSL             bool
	TransientBucket    string
	PermanentBucket    string
	TransientAccessKey string
	TransientSecretKey string
	SharedAccessKey    string
	SharedSecretKey    string
	CDNBaseURL         string
	PresignExpiry      time.Duration
	DefaultExtension   string
}

// Locator resolves produced media to serveable URLs. Media lives in two
// buckets: a transient one written by workers and a permanent one for shared
// content. The permanent bucket is always consulted first.
type Locator struct {
	transient       *minio.Client
	shared          *minio.Client
	transientBucket string
	permanentBucket string
	cdnBaseURL      string
	presignExpiry   time.Duration
	defaultExt      string
}

// NewLocator builds a Locator. At least one credential pair is required.
func NewLocator(cfg Config) (*Locator, error) {
	l := &Locator{
		transientBucket: cfg.TransientBucket,
		permanentBucket: cfg.PermanentBucket,
		cdnBaseURL:      strings.TrimRight(cfg.CDNBaseURL, "/"),
		presignExpiry:   cfg.PresignExpiry,
		defaultExt:      cfg.DefaultExtension,
	}
	if l.presignExpiry <= 0 {
		l.presignExpiry = 30 * time.Minute
	}
	if l.defaultExt == "" {
		l.defaultExt = ".webp"
	}

	if cfg.TransientAccessKey != "" && cfg.TransientSecretKey != "" {
		client, err := minio.New(cfg.Endpoint, &minio.Options{
			Creds:  credentials.NewStaticV4(cfg.TransientAccessKey, cfg.TransientSecretKey, ""),
			Secure: cfg.UseSSL,
		})
		if err != nil {
			return nil, fmt.Errorf("transient storage client: %w", err)
		}
		l.transient = client
	}
	if cfg.SharedAccessKey != "" && cfg.SharedSecretKey != "" {
		client, err := minio.New(cfg.Endpoint, &minio.Options{
			Creds:  credentials.NewStaticV4(cfg.SharedAccessKey, cfg.SharedSecretKey, ""),
			Secure: cfg.UseSSL,
		})
		if err != nil {
			return nil, fmt.Errorf("shared storage client: %w", err)
		}
		l.shared = client
	}
	if l.transient == nil && l.shared == nil {
		return nil, fmt.Errorf("no storage credentials configured")
	}
	return l, nil
}

// ResolveURL returns a serveable URL for the object key. With a CDN base
// configured the CDN URL is constructed directly; otherwise a presigned URL
// is generated, permanent bucket first with transient fallback.
func (l *Locator) ResolveURL(ctx context.Context, objectKey string) (string, error) {
	if objectKey == "" {
		return "", fmt.Errorf("empty object key")
	}
	if l.cdnBaseURL != "" {
		name := objectKey
		if !strings.Contains(name, ".") {
			name += l.defaultExt
		}
		return l.cdnBaseURL + "/" + name, nil
	}
	return l.presignURL(ctx, objectKey)
}

func (l *Locator) presignURL(ctx context.Context, objectKey string) (string, error) {
	if l.shared != nil {
		u, err := l.shared.PresignedGetObject(ctx, l.permanentBucket, objectKey, l.presignExpiry, url.Values{})
		if err == nil {
			return u.String(), nil
		}
	}
	if l.transient != nil {
		u, err := l.transient.PresignedGetObject(ctx, l.transientBucket, objectKey, l.presignExpiry, url.Values{})
		if err != nil {
			return "", fmt.Errorf("presign object: %w", err)
		}
		return u.String(), nil
	}
	return "", fmt.Errorf("no storage client available")
}

// NormalizeURL rewrites a stored media URL to its CDN form. The function is
// total and idempotent: empty strings, data URLs, and URLs already under the
// CDN base pass through unchanged, and unparseable input falls back to a
// manual filename split rather than failing.
func (l *Locator) NormalizeURL(raw string) string {
	if raw == "" || l.cdnBaseURL == "" {
		return raw
	}
	if strings.HasPrefix(raw, "data:") {
		return raw
	}
	base := l.cdnBaseURL + "/"
	if strings.HasPrefix(raw, base) {
		return raw
	}

	u, err := url.Parse(raw)
	if err != nil {
		parts := strings.Split(raw, "/")
		name := parts[len(parts)-1]
		if idx := strings.Index(name, "?"); idx != -1 {
			name = name[:idx]
		}
		if name == "" {
			return raw
		}
		if !strings.Contains(name, ".") {
			name += l.defaultExt
		}
		return base + name
	}

	path := strings.Trim(u.Path, "/")
	if path == "" {
		return raw
	}
	parts := strings.Split(path, "/")
	name := parts[len(parts)-1]
	if name == "" {
		return raw
	}
	if !strings.Contains(name, ".") {
		name += l.defaultExt
	}
	return base + name
}

// Exists reports whether the object is present in either bucket.
func (l *Locator) Exists(ctx context.Context, objectKey string) bool {
	if l.shared != nil {
		if _, err := l.shared.StatObject(ctx, l.permanentBucket, objectKey, minio.StatObjectOptions{}); err == nil {
			return true
		}
	}
	if l.transient != nil {
		if _, err := l.transient.StatObject(ctx, l.transientBucket, objectKey, minio.StatObjectOptions{}); err == nil {
			return true
		}
	}
	return false
}

// Delete removes the object from the transient bucket. Permanent content is
// never deleted here.
func (l *Locator) Delete(ctx context.Context, objectKey string) error {
	if l.transient == nil {
		return fmt.Errorf("no transient storage client configured")
	}
	return l.transient.RemoveObject(ctx, l.transientBucket, objectKey, minio.RemoveObjectOptions{})
}
