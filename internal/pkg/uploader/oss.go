package uploader

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/aliyun/aliyun-oss-go-sdk/oss"

	"feedsync/internal/pkg/config"
)

var extensions = map[string]string{
	"image/jpeg": "jpeg",
	"image/jpg":  "jpeg",
	"image/png":  "png",
	"image/gif":  "gif",
	"image/webp": "webp",
	"image/heic": "heic",
}

// ObjectPath builds the storage path <uid>/<unix-ms>.<ext>.
func ObjectPath(userID, contentType string, now time.Time) string {
	ext, ok := extensions[strings.ToLower(contentType)]
	if !ok {
		ext = "jpeg"
	}
	return fmt.Sprintf("%s/%d.%s", userID, now.UnixMilli(), ext)
}

// PublicURL is the public-read URL of an object.
func PublicURL(endpoint, bucket, path string) string {
	host := strings.TrimPrefix(strings.TrimPrefix(endpoint, "https://"), "http://")
	return fmt.Sprintf("https://%s.%s/%s", bucket, strings.TrimSuffix(host, "/"), path)
}

// AliyunOSSUploader stores attachments in OSS, one bucket per name.
type AliyunOSSUploader struct {
	client *oss.Client
	config config.OSSConfig

	mu      sync.Mutex
	buckets map[string]*oss.Bucket
}

func NewAliyunOSSUploader(cfg config.OSSConfig) (*AliyunOSSUploader, error) {
	client, err := oss.New(cfg.Endpoint, cfg.AccessKeyID, cfg.AccessKeySecret)
	if err != nil {
		return nil, err
	}
	return &AliyunOSSUploader{
		client:  client,
		config:  cfg,
		buckets: make(map[string]*oss.Bucket),
	}, nil
}

func (u *AliyunOSSUploader) bucket(name string) (*oss.Bucket, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if b, ok := u.buckets[name]; ok {
		return b, nil
	}
	b, err := u.client.Bucket(name)
	if err != nil {
		return nil, err
	}
	u.buckets[name] = b
	return b, nil
}

// UploadBinary puts data at path in bucket and returns the public URL.
// Note: Assuming bucket is public-read or using CDN.
func (u *AliyunOSSUploader) UploadBinary(ctx context.Context, bucket, path string, data []byte, contentType string) (string, error) {
	b, err := u.bucket(bucket)
	if err != nil {
		return "", fmt.Errorf("open bucket %s: %w", bucket, err)
	}
	if err := b.PutObject(path, bytes.NewReader(data), oss.ContentType(contentType), oss.WithContext(ctx)); err != nil {
		return "", fmt.Errorf("put object %s/%s: %w", bucket, path, err)
	}
	return PublicURL(u.config.Endpoint, bucket, path), nil
}

var ErrUploaderDisabled = errors.New("object storage is not configured")

// Disabled rejects every upload. Used when no OSS endpoint is configured so
// image attachments fail through the normal upload-failure path.
type Disabled struct{}

func (Disabled) UploadBinary(context.Context, string, string, []byte, string) (string, error) {
	return "", ErrUploaderDisabled
}
