package helper

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/aliyun/aliyun-oss-go-sdk/oss"
	"github.com/rs/zerolog"
)

func getEnv(k string) string { return strings.TrimSpace(os.Getenv(k)) }

func normalizeEndpoint(ep string) string {
	ep = strings.TrimSpace(ep)
	ep = strings.TrimPrefix(ep, "https://")
	ep = strings.TrimPrefix(ep, "http://")
	return strings.TrimRight(ep, "/")
}

/* =======================================================================
   OSS Service
======================================================================= */

type OSSService struct {
	Client     *oss.Client
	Bucket     *oss.Bucket
	Endpoint   string
	BucketName string
	PublicBase string // ALI_OSS_PUBLIC_BASE, mis. CDN
}

// NewOSSServiceFromEnv membaca ALI_OSS_*; error kalau ada yang kosong.
func NewOSSServiceFromEnv(log zerolog.Logger) (*OSSService, error) {
	endpoint := normalizeEndpoint(getEnv("ALI_OSS_ENDPOINT"))
	ak := getEnv("ALI_OSS_ACCESS_KEY")
	sk := getEnv("ALI_OSS_SECRET_KEY")
	sts := getEnv("ALI_OSS_SECURITY_TOKEN")
	bucketName := getEnv("ALI_OSS_BUCKET")
	if endpoint == "" || ak == "" || sk == "" || bucketName == "" {
		return nil, fmt.Errorf("missing env: ALI_OSS_ENDPOINT/ACCESS_KEY/SECRET_KEY/BUCKET")
	}

	var (
		client *oss.Client
		err    error
	)
	if sts != "" {
		client, err = oss.New(endpoint, ak, sk, oss.SecurityToken(sts))
	} else {
		client, err = oss.New(endpoint, ak, sk)
	}
	if err != nil {
		return nil, fmt.Errorf("oss.New: %w", err)
	}

	bkt, err := client.Bucket(bucketName)
	if err != nil {
		return nil, fmt.Errorf("client.Bucket: %w", err)
	}

	// Verifikasi ringan lokasi bucket
	if loc, err := client.GetBucketLocation(bucketName); err != nil {
		if se, ok := err.(oss.ServiceError); ok && se.StatusCode == 403 && se.Code == "AccessDenied" {
			log.Warn().Str("bucket", bucketName).Msg("[OSS] skip location check (AccessDenied)")
		} else {
			return nil, fmt.Errorf("verify bucket: %w", err)
		}
	} else {
		log.Info().Str("bucket", bucketName).Str("location", loc).Msg("[OSS] bucket siap")
	}

	return &OSSService{
		Client:     client,
		Bucket:     bkt,
		Endpoint:   endpoint,
		BucketName: bucketName,
		PublicBase: getEnv("ALI_OSS_PUBLIC_BASE"),
	}, nil
}

func (s *OSSService) PutObject(ctx context.Context, key string, data []byte, contentType string) error {
	if key == "" {
		return fmt.Errorf("empty key")
	}
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	opts := []oss.Option{
		oss.WithContext(ctx),
		oss.ContentType(contentType),
		oss.ContentDisposition("inline"),
		oss.CacheControl("public, max-age=31536000, immutable"),
	}
	return s.Bucket.PutObject(key, bytes.NewReader(data), opts...)
}

// DeleteObjects menghapus per batch 1000 (batas API OSS).
func (s *OSSService) DeleteObjects(ctx context.Context, keys []string) error {
	const maxChunk = 1000
	for start := 0; start < len(keys); start += maxChunk {
		end := min(start+maxChunk, len(keys))
		if _, err := s.Bucket.DeleteObjects(keys[start:end], oss.DeleteObjectsQuiet(true), oss.WithContext(ctx)); err != nil {
			return fmt.Errorf("delete batch %d-%d: %w", start, end, err)
		}
	}
	return nil
}

func (s *OSSService) PublicURL(key string) string {
	if key == "" {
		return ""
	}
	if s.PublicBase != "" {
		return strings.TrimRight(s.PublicBase, "/") + "/" + key
	}
	if s.Endpoint == "" || s.BucketName == "" {
		return ""
	}
	return fmt.Sprintf("https://%s.%s/%s", s.BucketName, s.Endpoint, key)
}

func (s *OSSService) Name() string { return "oss:" + s.BucketName }
