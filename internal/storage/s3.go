// Package storage archives documents to object storage. Archives are
// write-once JSON objects keyed by date, so re-running a daily pipeline
// overwrites with identical content.
package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/agentflow/agentflow/internal/errkind"
	"github.com/agentflow/agentflow/pkg/observability"
)

// S3API is the subset of the S3 client the archiver needs
type S3API interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
}

// Archiver stores and retrieves JSON documents in a bucket
type Archiver struct {
	client S3API
	bucket string
	logger observability.Logger
}

// NewArchiver creates an archiver using the default AWS config chain
func NewArchiver(ctx context.Context, bucket, region string, logger observability.Logger) (*Archiver, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("failed to load aws config: %w", err)
	}
	return &Archiver{client: s3.NewFromConfig(cfg), bucket: bucket, logger: logger}, nil
}

// NewArchiverWithClient injects a client, used by tests
func NewArchiverWithClient(client S3API, bucket string, logger observability.Logger) *Archiver {
	return &Archiver{client: client, bucket: bucket, logger: logger}
}

// Put writes a document as JSON under the given key
func (a *Archiver) Put(ctx context.Context, key string, document interface{}) error {
	body, err := json.Marshal(document)
	if err != nil {
		return errkind.Wrap(errkind.Internal, "storage.Put", err)
	}
	_, err = a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(body),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return errkind.Wrap(errkind.Transient, "storage.Put", err)
	}
	a.logger.Debug("Archived document", map[string]interface{}{
		"bucket": a.bucket,
		"key":    key,
		"bytes":  len(body),
	})
	return nil
}

// Get reads a JSON document into out
func (a *Archiver) Get(ctx context.Context, key string, out interface{}) error {
	resp, err := a.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(a.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return errkind.Wrap(errkind.Transient, "storage.Get", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return errkind.Wrap(errkind.Transient, "storage.Get", err)
	}
	if err := json.Unmarshal(body, out); err != nil {
		return errkind.Wrap(errkind.Internal, "storage.Get", err)
	}
	return nil
}

// List returns all object keys under the given prefix
func (a *Archiver) List(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	var token *string
	for {
		resp, err := a.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
			Bucket:            aws.String(a.bucket),
			Prefix:            aws.String(prefix),
			ContinuationToken: token,
		})
		if err != nil {
			return nil, errkind.Wrap(errkind.Transient, "storage.List", err)
		}
		for _, obj := range resp.Contents {
			keys = append(keys, aws.ToString(obj.Key))
		}
		if resp.NextContinuationToken == nil {
			return keys, nil
		}
		token = resp.NextContinuationToken
	}
}
