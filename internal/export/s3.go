package export

import (
	"bytes"
	"context"
	"fmt"
	"net/http"

	aws "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// S3Config holds construction parameters. Credentials fall back to the
// default AWS chain when AccessKeyID is empty.
type S3Config struct {
	Region          string
	Endpoint        string // optional; set for MinIO and other S3-compatible stores
	PathStyle       bool
	Bucket          string
	Key             string
	AccessKeyID     string
	SecretAccessKey string
	HTTPClient      *http.Client
}

// S3Sink uploads the snapshot as a single object.
type S3Sink struct {
	client *s3.Client
	bucket string
	key    string
}

func NewS3Sink(ctx context.Context, cfg S3Config) (*S3Sink, error) {
	if cfg.Bucket == "" || cfg.Key == "" {
		return nil, fmt.Errorf("s3 bucket and key required")
	}
	region := cfg.Region
	if region == "" {
		region = "us-east-1"
	}
	loadOpts := []func(*config.LoadOptions) error{config.WithRegion(region)}
	if cfg.AccessKeyID != "" {
		loadOpts = append(loadOpts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, "")))
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, err
	}
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.PathStyle {
			o.UsePathStyle = true
		}
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		if cfg.HTTPClient != nil {
			o.HTTPClient = cfg.HTTPClient
		}
	})
	return &S3Sink{client: client, bucket: cfg.Bucket, key: cfg.Key}, nil
}

func (s *S3Sink) String() string { return "s3://" + s.bucket + "/" + s.key }

func (s *S3Sink) Put(ctx context.Context, data []byte) error {
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(s.key),
		Body:          bytes.NewReader(data),
		ContentType:   aws.String("application/json"),
		ContentLength: aws.Int64(int64(len(data))),
	})
	return err
}
