package storage

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// S3 stores files in a bucket and returns presigned GET URLs.
type S3 struct {
	Client     *s3.Client
	Presigner  *s3.PresignClient
	Bucket     string
	Prefix     string
	PresignTTL time.Duration
}

type S3Config struct {
	Region     string
	Bucket     string
	Prefix     string
	Endpoint   string
	PresignTTL time.Duration
}

func NewS3(ctx context.Context, cfg S3Config) (*S3, error) {
	awsCfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(cfg.Region))
	if err != nil {
		return nil, err
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})

	ttl := cfg.PresignTTL
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}
	return &S3{
		Client:     client,
		Presigner:  s3.NewPresignClient(client),
		Bucket:     cfg.Bucket,
		Prefix:     strings.Trim(cfg.Prefix, "/"),
		PresignTTL: ttl,
	}, nil
}

func (s *S3) objectKey(key string) (string, error) {
	key, err := cleanKey(key)
	if err != nil {
		return "", err
	}
	if s.Prefix != "" {
		key = s.Prefix + "/" + key
	}
	return key, nil
}

func (s *S3) Put(ctx context.Context, key string, r io.Reader, contentType string) error {
	objectKey, err := s.objectKey(key)
	if err != nil {
		return err
	}
	_, err = s.Client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.Bucket),
		Key:         aws.String(objectKey),
		Body:        r,
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return fmt.Errorf("s3 put %s: %w", objectKey, err)
	}
	return nil
}

func (s *S3) URL(ctx context.Context, key string) (string, error) {
	objectKey, err := s.objectKey(key)
	if err != nil {
		return "", err
	}
	req, err := s.Presigner.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.Bucket),
		Key:    aws.String(objectKey),
	}, s3.WithPresignExpires(s.PresignTTL))
	if err != nil {
		return "", fmt.Errorf("s3 presign %s: %w", objectKey, err)
	}
	return req.URL, nil
}

func (s *S3) String() string { return fmt.Sprintf("s3(%s/%s)", s.Bucket, s.Prefix) }
