// Package publish uploads finished dataset files to S3.
package publish

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// Uploader is the subset of the S3 client used to publish files.
type Uploader interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Publisher writes each file to Bucket under Prefix, keyed by its base
// name, so a later run overwrites the previous copy.
type S3Publisher struct {
	Bucket string
	Prefix string

	client Uploader
	logger *slog.Logger
}

// NewS3Publisher creates a publisher using the default AWS configuration.
func NewS3Publisher(ctx context.Context, bucket, prefix string) (*S3Publisher, error) {
	cfg, err := config.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("load AWS config: %w", err)
	}
	return NewS3PublisherWithClient(s3.NewFromConfig(cfg), bucket, prefix), nil
}

// NewS3PublisherWithClient creates a publisher around an existing client.
func NewS3PublisherWithClient(client Uploader, bucket, prefix string) *S3Publisher {
	return &S3Publisher{
		Bucket: bucket,
		Prefix: prefix,
		client: client,
		logger: slog.Default(),
	}
}

// Key returns the object key a local file is published under.
func (p *S3Publisher) Key(localPath string) string {
	name := filepath.Base(localPath)
	prefix := strings.Trim(p.Prefix, "/")
	if prefix == "" {
		return name
	}
	return path.Join(prefix, name)
}

// Publish uploads paths in order and returns their s3:// URIs. It stops at
// the first failure; URIs of the files already uploaded are still returned.
func (p *S3Publisher) Publish(ctx context.Context, paths ...string) ([]string, error) {
	uris := make([]string, 0, len(paths))
	for _, local := range paths {
		uri, err := p.put(ctx, local)
		if err != nil {
			return uris, err
		}
		uris = append(uris, uri)
	}
	return uris, nil
}

func (p *S3Publisher) put(ctx context.Context, local string) (string, error) {
	f, err := os.Open(local)
	if err != nil {
		return "", fmt.Errorf("open %s: %w", local, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return "", fmt.Errorf("stat %s: %w", local, err)
	}

	key := p.Key(local)
	uri := fmt.Sprintf("s3://%s/%s", p.Bucket, key)
	_, err = p.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(p.Bucket),
		Key:           aws.String(key),
		Body:          f,
		ContentLength: aws.Int64(info.Size()),
		ContentType:   aws.String(contentType(local)),
	})
	if err != nil {
		return "", fmt.Errorf("put object %s: %w", uri, err)
	}
	p.logger.Debug("uploaded file", slog.String("path", local), slog.String("uri", uri), slog.Int64("bytes", info.Size()))
	return uri, nil
}

func contentType(name string) string {
	switch filepath.Ext(name) {
	case ".csv":
		return "text/csv; charset=utf-8"
	case ".jsonl":
		return "application/x-ndjson"
	case ".parquet":
		return "application/vnd.apache.parquet"
	default:
		return "application/octet-stream"
	}
}
