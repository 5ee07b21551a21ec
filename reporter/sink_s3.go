// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package reporter // import "go.opentelemetry.io/fleet-profiler/reporter"

import (
	"bytes"
	"context"
	"fmt"
	"path"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// S3PutObjectAPI is the subset of the S3 client used by S3Sink.
type S3PutObjectAPI interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput,
		optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Sink stores payloads as objects in an S3 bucket.
type S3Sink struct {
	client S3PutObjectAPI
	bucket string
	prefix string
}

var _ Sink = (*S3Sink)(nil)

// NewS3Client creates an S3 client from the default AWS configuration chain. A
// non-empty endpoint selects an S3 compatible store with path style addressing.
func NewS3Client(ctx context.Context, endpoint string) (*s3.Client, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS configuration: %w", err)
	}
	return s3.NewFromConfig(cfg, func(o *s3.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
			o.UsePathStyle = true
		}
	}), nil
}

// NewS3Sink returns a sink writing to bucket below prefix.
func NewS3Sink(client S3PutObjectAPI, bucket, prefix string) (*S3Sink, error) {
	if bucket == "" {
		return nil, fmt.Errorf("no S3 bucket")
	}
	return &S3Sink{client: client, bucket: bucket, prefix: prefix}, nil
}

func (s *S3Sink) Name() string {
	return "s3://" + path.Join(s.bucket, s.prefix)
}

func (s *S3Sink) Send(ctx context.Context, p *Payload) error {
	key := path.Join(s.prefix, p.Name)
	input := &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(p.Data),
		ContentLength: aws.Int64(int64(len(p.Data))),
		ContentType:   aws.String(p.Format.ContentType()),
		Metadata: map[string]string{
			"window-id": p.WindowID,
			"format":    string(p.Format),
		},
	}
	if enc := p.Compression.ContentEncoding(); enc != "" {
		input.ContentEncoding = aws.String(enc)
	}
	if _, err := s.client.PutObject(ctx, input); err != nil {
		return fmt.Errorf("failed to upload s3://%s/%s: %w", s.bucket, key, err)
	}
	return nil
}
