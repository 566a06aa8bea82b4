package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/yourusername/fms-backend/internal/logger"
)

// S3Configuration は S3 ストレージの設定です。
type S3Configuration struct {
	Bucket    string
	Region    string
	KeyPrefix string
	AccessID  string
	AccessKey string
}

// objectAPI は S3 クライアントのうち利用する操作だけを切り出したものです。
type objectAPI interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// S3 は AWS S3 に保存するストレージです。
type S3 struct {
	client    objectAPI
	bucket    string
	keyPrefix string
}

// NewS3 は S3 ストレージを返します。AccessID が空の場合は既定のクレデンシャルチェーンを使用します。
func NewS3(ctx context.Context, cfg S3Configuration) (*S3, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("S3 bucket must not be empty")
	}

	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(cfg.Region)}
	if cfg.AccessID != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessID, cfg.AccessKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("loading aws config: %w", err)
	}

	logger.Default().WithField("bucket", cfg.Bucket).Debug("S3 storage enabled")
	return newS3WithClient(s3.NewFromConfig(awsCfg), cfg.Bucket, cfg.KeyPrefix), nil
}

func newS3WithClient(client objectAPI, bucket, keyPrefix string) *S3 {
	return &S3{client: client, bucket: bucket, keyPrefix: keyPrefix}
}

// Save は r の内容をオブジェクトとしてアップロードし、s3:// 形式の場所を返します。
func (s *S3) Save(ctx context.Context, key string, r io.Reader) (string, error) {
	objectKey, err := s.objectKey(key)
	if err != nil {
		return "", err
	}

	// 署名にはシーク可能な本文が必要なため、メモリに読み込む
	data, err := io.ReadAll(r)
	if err != nil {
		return "", fmt.Errorf("reading upload: %w", err)
	}

	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(objectKey),
		Body:   bytes.NewReader(data),
	})
	if err != nil {
		return "", fmt.Errorf("failed to upload %s: %w", objectKey, err)
	}
	return "s3://" + s.bucket + "/" + objectKey, nil
}

// Open はオブジェクトを取得します。
func (s *S3) Open(ctx context.Context, key string) (io.ReadCloser, error) {
	objectKey, err := s.objectKey(key)
	if err != nil {
		return nil, err
	}

	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(objectKey),
	})
	if err != nil {
		var noSuchKey *types.NoSuchKey
		if errors.As(err, &noSuchKey) {
			return nil, fs.ErrNotExist
		}
		return nil, fmt.Errorf("failed to download %s: %w", objectKey, err)
	}
	return out.Body, nil
}

func (s *S3) objectKey(key string) (string, error) {
	key = strings.TrimLeft(strings.TrimSpace(key), "/")
	if key == "" {
		return "", ErrInvalidKey
	}
	for _, segment := range strings.Split(key, "/") {
		if segment == ".." {
			return "", ErrInvalidKey
		}
	}
	return s.keyPrefix + key, nil
}
