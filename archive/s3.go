package archive

import (
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// Archiver copies finished clips to S3. The archive is strictly best-effort
// infrastructure: a clip is complete whether or not its copy lands.
type Archiver struct {
	client *s3.Client
	bucket string
	prefix string
}

// Config holds the archive destination. An empty Bucket disables archiving.
type Config struct {
	Bucket       string
	Region       string
	Prefix       string
	UsePathStyle bool
}

// New creates an Archiver, or nil when no bucket is configured. Credentials
// come from the standard AWS config/credential chain.
func New(ctx context.Context, cfg Config) (*Archiver, error) {
	if cfg.Bucket == "" {
		return nil, nil
	}

	var loadOpts []func(*awsconfig.LoadOptions) error
	if cfg.Region != "" {
		loadOpts = append(loadOpts, awsconfig.WithRegion(cfg.Region))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("load AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = cfg.UsePathStyle
	})

	return &Archiver{client: client, bucket: cfg.Bucket, prefix: cfg.Prefix}, nil
}

// Store uploads the clip at clipPath and returns the object key.
func (a *Archiver) Store(ctx context.Context, clipPath string) (string, error) {
	file, err := os.Open(clipPath)
	if err != nil {
		return "", fmt.Errorf("open clip for archive: %w", err)
	}
	defer file.Close()

	key := path.Join(a.prefix, filepath.Base(clipPath))
	_, err = a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(key),
		Body:        file,
		ContentType: aws.String("video/mp4"),
	})
	if err != nil {
		return "", fmt.Errorf("archive clip to s3://%s/%s: %w", a.bucket, key, err)
	}
	return key, nil
}
