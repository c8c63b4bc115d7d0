package exporters

import (
	"bytes"
	"context"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsConfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/biotracer/agent/internal/events"
	"github.com/google/uuid"
	"github.com/pkg/errors"
)

const (
	DefaultS3Prefix = "exports"
	jsonLinesType   = "application/x-ndjson"
	objectIdLength  = 8
)

// ObjectPutter is the part of the S3 api the exporter needs.
type ObjectPutter interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Exporter writes every batch as one JSON lines object under <prefix>/<run>/. The bucket must
// already exist.
type S3Exporter struct {
	client ObjectPutter
	bucket string
	prefix string
	clock  func() time.Time
}

func NewS3Exporter(client ObjectPutter, bucket, prefix string) (*S3Exporter, error) {
	if bucket == "" {
		return nil, errors.New("empty bucket")
	}
	prefix = strings.Trim(prefix, "/")
	if prefix == "" {
		prefix = DefaultS3Prefix
	}

	return &S3Exporter{
		client: client,
		bucket: bucket,
		prefix: prefix,
		clock:  time.Now,
	}, nil
}

// NewS3Client builds a client from the default credential chain. An empty region keeps the
// region the environment configures.
func NewS3Client(ctx context.Context, region string) (*s3.Client, error) {
	options := make([]func(*awsConfig.LoadOptions) error, 0)
	if region != "" {
		options = append(options, awsConfig.WithRegion(region))
	}

	sdkConfig, err := awsConfig.LoadDefaultConfig(ctx, options...)
	if err != nil {
		return nil, errors.WithMessage(err, "load aws config")
	}
	return s3.NewFromConfig(sdkConfig), nil
}

func (se *S3Exporter) Name() string {
	return "s3"
}

// Key returns a fresh object key for a batch of runName.
func (se *S3Exporter) Key(runName string) string {
	id := strings.ReplaceAll(uuid.New().String(), "-", "")[:objectIdLength]
	name := fmt.Sprintf("%s-%s.jsonl", se.clock().UTC().Format("20060102T150405Z"), id)
	return path.Join(se.prefix, runFileName(runName), name)
}

func (se *S3Exporter) Export(ctx context.Context, runName string, batch []events.Event) error {
	if len(batch) == 0 {
		return nil
	}

	var body bytes.Buffer
	if err := encodeLines(&body, batch); err != nil {
		return err
	}

	key := se.Key(runName)
	_, err := se.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(se.bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(body.Bytes()),
		ContentLength: aws.Int64(int64(body.Len())),
		ContentType:   aws.String(jsonLinesType),
	})
	if err != nil {
		return errors.WithMessagef(err, "put object '%s'", key)
	}
	return nil
}

func (se *S3Exporter) Close() error {
	return nil
}
