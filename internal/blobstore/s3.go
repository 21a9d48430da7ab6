package blobstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/magabrotheeeer/mixmaster/internal/config"
)

// S3 — хранилище в S3-совместимом бакете.
type S3 struct {
	client  *s3.Client
	presign *s3.PresignClient
	bucket  string
	log     *slog.Logger
}

var _ Store = (*S3)(nil)

// NewS3 создаёт клиента и проверяет доступность бакета.
// Вне production отсутствующий бакет создаётся.
func NewS3(ctx context.Context, cfg config.BlobStorage, env string, log *slog.Logger) (*S3, error) {
	const op = "blobstore.NewS3"
	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.Region),
	}
	if cfg.AccessKeyID != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("%s: failed to load AWS config: %w", op, err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.UsePathStyle
	})

	store := &S3{
		client:  client,
		presign: s3.NewPresignClient(client),
		bucket:  cfg.Bucket,
		log:     log.With(slog.String("bucket", cfg.Bucket)),
	}
	if err := store.ensureBucket(ctx, env); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return store, nil
}

func (s *S3) ensureBucket(ctx context.Context, env string) error {
	_, err := s.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(s.bucket)})
	if err == nil {
		return nil
	}
	if env == "prod" {
		return fmt.Errorf("bucket %s not accessible: %w", s.bucket, err)
	}
	s.log.Warn("bucket not found, creating it")
	if _, err := s.client.CreateBucket(ctx, &s3.CreateBucketInput{Bucket: aws.String(s.bucket)}); err != nil {
		return fmt.Errorf("failed to create bucket %s: %w", s.bucket, err)
	}
	return nil
}

// Put загружает объект.
func (s *S3) Put(ctx context.Context, key string, body io.Reader, size int64, contentType string) error {
	const op = "blobstore.S3.Put"
	input := &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        body,
		ContentType: aws.String(contentType),
	}
	if size >= 0 {
		input.ContentLength = aws.Int64(size)
	}
	if _, err := s.client.PutObject(ctx, input); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	s.log.Debug("object uploaded", slog.String("key", key), slog.Int64("size", size))
	return nil
}

// Exists проверяет наличие объекта.
func (s *S3) Exists(ctx context.Context, key string) (bool, error) {
	const op = "blobstore.S3.Exists"
	_, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err == nil {
		return true, nil
	}
	var notFound *types.NotFound
	var noSuchKey *types.NoSuchKey
	if errors.As(err, &notFound) || errors.As(err, &noSuchKey) {
		return false, nil
	}
	return false, fmt.Errorf("%s: %w", op, err)
}

// Delete удаляет объект. S3 не сообщает об ошибке для отсутствующего ключа.
func (s *S3) Delete(ctx context.Context, key string) error {
	const op = "blobstore.S3.Delete"
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	s.log.Debug("object deleted", slog.String("key", key))
	return nil
}

// PresignGet возвращает временную ссылку на скачивание объекта.
func (s *S3) PresignGet(ctx context.Context, key string, ttl time.Duration) (string, error) {
	const op = "blobstore.S3.PresignGet"
	req, err := s.presign.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	}, s3.WithPresignExpires(ttl))
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}
	return req.URL, nil
}
