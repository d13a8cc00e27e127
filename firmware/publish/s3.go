package publish

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	log "github.com/sirupsen/logrus"
)

// PutObjectAPI is the subset of the S3 client used for publishing
type PutObjectAPI interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Config selects the bucket and key prefix artifacts are mirrored to. Credentials come
// from the default AWS chain (AWS_ACCESS_KEY_ID, AWS_PROFILE, instance roles).
type S3Config struct {
	Bucket   string
	Prefix   string
	Region   string
	Endpoint string
}

// S3Publisher mirrors artifacts to an S3 compatible bucket
type S3Publisher struct {
	client PutObjectAPI
	bucket string
	prefix string
}

// NewS3Publisher builds a client from the default AWS configuration
func NewS3Publisher(ctx context.Context, cfg S3Config) (*S3Publisher, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("S3 bucket is required")
	}

	var opts []func(*config.LoadOptions) error
	if cfg.Region != "" {
		opts = append(opts, config.WithRegion(cfg.Region))
	}
	if cfg.Endpoint != "" {
		opts = append(opts, config.WithBaseEndpoint(cfg.Endpoint))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("unable to load SDK config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.UsePathStyle = true
		}
	})

	return NewS3PublisherWithClient(client, cfg.Bucket, cfg.Prefix), nil
}

// NewS3PublisherWithClient uses an existing client
func NewS3PublisherWithClient(client PutObjectAPI, bucket, prefix string) *S3Publisher {
	return &S3Publisher{client: client, bucket: bucket, prefix: prefix}
}

// Publish implements Publisher
func (p *S3Publisher) Publish(ctx context.Context, artifactPath string) (string, error) {
	var location string
	for i, src := range files(artifactPath) {
		data, err := os.ReadFile(src)
		if err != nil {
			return "", fmt.Errorf("read %s: %w", src, err)
		}

		key := path.Join(p.prefix, baseName(src))
		contentType := "application/octet-stream"
		if i > 0 {
			contentType = "application/json"
		}

		_, err = p.client.PutObject(ctx, &s3.PutObjectInput{
			Bucket:        aws.String(p.bucket),
			Key:           aws.String(key),
			Body:          bytes.NewReader(data),
			ContentLength: aws.Int64(int64(len(data))),
			ContentType:   aws.String(contentType),
		})
		if err != nil {
			return "", fmt.Errorf("upload %s to s3://%s/%s: %w", src, p.bucket, key, err)
		}
		if i == 0 {
			location = fmt.Sprintf("s3://%s/%s", p.bucket, key)
		}
	}

	log.Infof("published %s to %s", baseName(artifactPath), location)
	return location, nil
}
