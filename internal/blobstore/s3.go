// s3.go — Store поверх S3-совместимого хранилища (AWS S3, MinIO, LocalStack).
package blobstore

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// maxPresignTTL — предел срока presigned URL для SigV4.
const maxPresignTTL = 7 * 24 * time.Hour

// S3Store — bucket S3.
type S3Store struct {
	client    *s3.Client
	presigner *s3.PresignClient
	bucket    string
	logger    *slog.Logger

	clampOnce sync.Once
}

// NewS3Store создаёт Store для bucket.
// endpoint — адрес S3-совместимого сервиса; пусто — AWS. При заданном
// endpoint используется path-style адресация.
func NewS3Store(ctx context.Context, bucket, region, endpoint string, logger *slog.Logger) (*S3Store, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("загрузка конфигурации AWS: %w", err)
	}

	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
			o.UsePathStyle = true
		}
	})

	return &S3Store{
		client:    client,
		presigner: s3.NewPresignClient(client),
		bucket:    bucket,
		logger:    logger.With(slog.String("component", "s3_store")),
	}, nil
}

// Backend возвращает "s3".
func (s *S3Store) Backend() string {
	return "s3"
}

// Put загружает файл через PutObject.
func (s *S3Store) Put(ctx context.Context, name string, file *os.File, size int64, props ObjectProperties) error {
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:             aws.String(s.bucket),
		Key:                aws.String(name),
		Body:               io.NewSectionReader(file, 0, size),
		ContentLength:      aws.Int64(size),
		ContentType:        aws.String(props.ContentType),
		ContentDisposition: aws.String(props.ContentDisposition),
	})
	if err != nil {
		return fmt.Errorf("PutObject %s: %w", name, err)
	}
	return nil
}

// SignedURL возвращает presigned GET URL. SigV4 не допускает срок больше
// 7 дней, более длинный ttl ограничивается; предупреждение пишется один раз.
func (s *S3Store) SignedURL(ctx context.Context, name string, ttl time.Duration) (string, error) {
	if ttl > maxPresignTTL {
		s.clampOnce.Do(func() {
			s.logger.Warn("Срок presigned URL ограничен 7 днями",
				slog.Duration("requested", ttl),
				slog.Duration("max", maxPresignTTL),
			)
		})
		ttl = maxPresignTTL
	}

	req, err := s.presigner.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(name),
	}, s3.WithPresignExpires(ttl))
	if err != nil {
		return "", fmt.Errorf("presign GetObject %s: %w", name, err)
	}
	return req.URL, nil
}
