package storage

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	gcs "cloud.google.com/go/storage"
)

const (
	defaultUploadTTL      = 15 * time.Minute
	maxUploadTTL          = 7 * 24 * time.Hour
	defaultMaxUploadBytes = 10 << 20
	contentLengthHeader   = "x-goog-content-length-range"
)

var allowedImageTypes = map[string]struct{}{
	"image/jpeg": {},
	"image/png":  {},
	"image/webp": {},
	"image/avif": {},
}

// ErrUnsupportedContentType is returned for uploads that are not a storefront image format.
var ErrUnsupportedContentType = errors.New("storage: unsupported content type")

// UploaderConfig configures signed uploads into the product image bucket.
type UploaderConfig struct {
	Bucket string
	// PublicBaseURL is the CDN or bucket URL images are served from. Defaults to
	// https://storage.googleapis.com/{bucket}.
	PublicBaseURL string
	TTL           time.Duration
	MaxBytes      int64
}

// Upload describes a direct browser-to-bucket PUT.
type Upload struct {
	URL       string
	Method    string
	ObjectURL string
	Headers   map[string]string
	ExpiresAt time.Time
}

// Uploader issues V4 signed PUT URLs for product and category images.
type Uploader struct {
	bucket   string
	baseURL  string
	ttl      time.Duration
	maxBytes int64
	signer   Signer
	clock    func() time.Time
}

// UploaderOption customises an Uploader.
type UploaderOption func(*Uploader)

// WithUploaderClock overrides the clock used for expiry.
func WithUploaderClock(clock func() time.Time) UploaderOption {
	return func(u *Uploader) {
		if clock != nil {
			u.clock = clock
		}
	}
}

// NewUploader validates cfg and builds an Uploader.
func NewUploader(cfg UploaderConfig, signer Signer, opts ...UploaderOption) (*Uploader, error) {
	bucket := strings.TrimSpace(cfg.Bucket)
	if bucket == "" {
		return nil, errors.New("storage: bucket is required")
	}
	if signer == nil {
		return nil, errors.New("storage: signer is required")
	}
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = defaultUploadTTL
	}
	if ttl > maxUploadTTL {
		return nil, fmt.Errorf("storage: upload ttl %s exceeds %s", ttl, maxUploadTTL)
	}
	maxBytes := cfg.MaxBytes
	if maxBytes <= 0 {
		maxBytes = defaultMaxUploadBytes
	}
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.PublicBaseURL), "/")
	if baseURL == "" {
		baseURL = "https://storage.googleapis.com/" + bucket
	}

	u := &Uploader{
		bucket:   bucket,
		baseURL:  baseURL,
		ttl:      ttl,
		maxBytes: maxBytes,
		signer:   signer,
		clock:    time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(u)
		}
	}
	return u, nil
}

// SignedUploadURL signs a PUT for object. The client must send the returned headers verbatim.
func (u *Uploader) SignedUploadURL(ctx context.Context, object, contentType string) (Upload, error) {
	object = strings.TrimLeft(strings.TrimSpace(object), "/")
	if object == "" {
		return Upload{}, errors.New("storage: object path is required")
	}
	contentType = strings.ToLower(strings.TrimSpace(contentType))
	if _, ok := allowedImageTypes[contentType]; !ok {
		return Upload{}, fmt.Errorf("%w: %q", ErrUnsupportedContentType, contentType)
	}

	lengthRange := fmt.Sprintf("0,%d", u.maxBytes)
	expires := u.clock().UTC().Add(u.ttl)

	signed, err := gcs.SignedURL(u.bucket, object, &gcs.SignedURLOptions{
		GoogleAccessID: u.signer.Email(),
		SignBytes: func(payload []byte) ([]byte, error) {
			return u.signer.SignBytes(ctx, payload)
		},
		Method:      http.MethodPut,
		Expires:     expires,
		ContentType: contentType,
		Headers:     []string{contentLengthHeader + ":" + lengthRange},
		Scheme:      gcs.SigningSchemeV4,
	})
	if err != nil {
		return Upload{}, fmt.Errorf("storage: sign upload url: %w", err)
	}

	return Upload{
		URL:       signed,
		Method:    http.MethodPut,
		ObjectURL: u.baseURL + "/" + escapeObject(object),
		Headers: map[string]string{
			"Content-Type":      contentType,
			contentLengthHeader: lengthRange,
		},
		ExpiresAt: expires,
	}, nil
}

func escapeObject(object string) string {
	parts := strings.Split(object, "/")
	for i, part := range parts {
		parts[i] = url.PathEscape(part)
	}
	return strings.Join(parts, "/")
}
