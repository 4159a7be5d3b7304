package storage

import (
	"bytes"
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

type s3API interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	DeleteObject(ctx context.Context, in *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
}

// S3Uploader stores assets in an S3 bucket.
type S3Uploader struct {
	client    s3API
	bucket    string
	prefix    string
	publicURL string
}

// NewS3Uploader loads the default AWS configuration from the environment.
func NewS3Uploader(ctx context.Context, bucket, region, prefix, publicBaseURL string) (*S3Uploader, error) {
	var opts []func(*config.LoadOptions) error
	if region != "" {
		opts = append(opts, config.WithRegion(region))
	}
	cfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("unable to load SDK config: %w", err)
	}
	return newS3Uploader(s3.NewFromConfig(cfg), bucket, cfg.Region, prefix, publicBaseURL), nil
}

func newS3Uploader(client s3API, bucket, region, prefix, publicBaseURL string) *S3Uploader {
	if publicBaseURL == "" {
		if region == "" {
			publicBaseURL = fmt.Sprintf("https://%s.s3.amazonaws.com", bucket)
		} else {
			publicBaseURL = fmt.Sprintf("https://%s.s3.%s.amazonaws.com", bucket, region)
		}
	}
	return &S3Uploader{client: client, bucket: bucket, prefix: prefix, publicURL: publicBaseURL}
}

func (s *S3Uploader) Upload(ctx context.Context, file File) (*Asset, error) {
	if err := validate(file); err != nil {
		return nil, err
	}

	key := ObjectKey(s.prefix, file.Name)
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(file.Data),
		ContentType: aws.String(file.ContentType),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to upload to S3: %w", err)
	}
	return &Asset{Key: key, URL: joinURL(s.publicURL, key)}, nil
}

// Delete removes the object. S3 reports success for missing keys.
func (s *S3Uploader) Delete(ctx context.Context, key string) error {
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("failed to delete s3://%s/%s: %w", s.bucket, key, err)
	}
	return nil
}
