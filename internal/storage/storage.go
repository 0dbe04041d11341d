// Package storage archives rendered reports in an S3-compatible bucket.
package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"regexp"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"go.uber.org/fx"

	"github.com/ArpitGupta4957/yt-title-doctor/internal/config"
	"github.com/ArpitGupta4957/yt-title-doctor/pkg/apperror"
	"github.com/ArpitGupta4957/yt-title-doctor/pkg/logger"
)

var Module = fx.Module("storage",
	fx.Provide(NewService),
)

// ReportPrefix is the key prefix for archived reports.
const ReportPrefix = "reports/"

// Service stores objects in a single bucket. Without configuration every
// method fails and Enabled reports false.
type Service struct {
	client *s3.Client
	bucket string
	log    *slog.Logger
}

// UploadOptions configures an upload
type UploadOptions struct {
	ContentType string
	Metadata    map[string]string
}

// UploadResult describes a stored object
type UploadResult struct {
	Key    string
	Bucket string
	ETag   string
	Size   int64
}

// NewService creates a new storage service
func NewService(cfg *config.Config, log *slog.Logger) (*Service, error) {
	sc := cfg.Storage
	log = log.With(logger.Scope("storage"))

	if !sc.IsConfigured() {
		log.Info("report storage disabled - no configuration provided")
		return &Service{bucket: sc.Bucket, log: log}, nil
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(context.Background(),
		awsconfig.WithRegion(sc.Region),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			sc.AccessKeyID,
			sc.SecretAccessKey,
			"",
		)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	// Path-style addressing is required for MinIO
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.BaseEndpoint = aws.String(sc.Endpoint)
		o.UsePathStyle = true
	})

	log.Info("report storage initialized",
		slog.String("endpoint", sc.Endpoint),
		slog.String("bucket", sc.Bucket),
	)

	return &Service{client: client, bucket: sc.Bucket, log: log}, nil
}

// Enabled returns true if the storage service is properly configured
func (s *Service) Enabled() bool {
	return s.client != nil
}

// Upload uploads data to key
func (s *Service) Upload(ctx context.Context, key string, data io.Reader, size int64, opts UploadOptions) (*UploadResult, error) {
	if !s.Enabled() {
		return nil, apperror.NewNotConfigured("REPORT_STORAGE_ENDPOINT")
	}

	input := &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(key),
		Body:          data,
		ContentLength: aws.Int64(size),
	}
	if opts.ContentType != "" {
		input.ContentType = aws.String(opts.ContentType)
	}
	if len(opts.Metadata) > 0 {
		input.Metadata = opts.Metadata
	}

	result, err := s.client.PutObject(ctx, input)
	if err != nil {
		s.log.Error("failed to upload object",
			slog.String("key", key),
			logger.Error(err),
		)
		return nil, fmt.Errorf("upload failed: %w", err)
	}

	etag := ""
	if result.ETag != nil {
		etag = strings.Trim(*result.ETag, "\"")
	}

	s.log.Debug("object uploaded",
		slog.String("key", key),
		slog.Int64("size", size),
	)

	return &UploadResult{Key: key, Bucket: s.bucket, ETag: etag, Size: size}, nil
}

// Download retrieves an object. A missing key is a not_found error.
func (s *Service) Download(ctx context.Context, key string) (io.ReadCloser, error) {
	if !s.Enabled() {
		return nil, apperror.NewNotConfigured("REPORT_STORAGE_ENDPOINT")
	}

	result, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var nsk *types.NoSuchKey
		if errors.As(err, &nsk) {
			return nil, apperror.NewNotFound("object", key)
		}
		s.log.Error("failed to download object",
			slog.String("key", key),
			logger.Error(err),
		)
		return nil, fmt.Errorf("download failed: %w", err)
	}

	return result.Body, nil
}

// ArchiveReport stores a rendered report at reports/<jobId>.txt.
func (s *Service) ArchiveReport(ctx context.Context, jobID, text string) (*UploadResult, error) {
	body := []byte(text)
	return s.Upload(ctx, ReportKey(jobID), bytes.NewReader(body), int64(len(body)), UploadOptions{
		ContentType: "text/plain; charset=utf-8",
		Metadata:    map[string]string{"job-id": jobID},
	})
}

// ReportKey returns the object key of a job's archived report.
func ReportKey(jobID string) string {
	return ReportPrefix + SanitizeKeySegment(jobID) + ".txt"
}

var (
	unsafeKeyChars = regexp.MustCompile(`[^a-zA-Z0-9._-]`)
	repeatedUnders = regexp.MustCompile(`_{2,}`)
)

// SanitizeKeySegment cleans a single path segment for use in an object key
func SanitizeKeySegment(segment string) string {
	sanitized := unsafeKeyChars.ReplaceAllString(segment, "_")
	sanitized = repeatedUnders.ReplaceAllString(sanitized, "_")
	sanitized = strings.Trim(sanitized, "_.")

	if len(sanitized) > 200 {
		sanitized = sanitized[:200]
	}
	if sanitized == "" {
		return "unnamed"
	}
	return sanitized
}
