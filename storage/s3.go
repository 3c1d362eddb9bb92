package storage

import (
	"bytes"
	"context"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/rotisserie/eris"

	lcconfig "lawcrawl/config"
)

// Archive keeps raw payloads (listing pages that yielded nothing, provider
// responses) outside the database for later inspection.
type Archive interface {
	Put(ctx context.Context, key string, body []byte, contentType string) error
}

// objectPutter is the slice of *s3.Client the archive uses.
type objectPutter interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Archive writes to S3-compatible storage (AWS, DO Spaces, R2, MinIO).
type S3Archive struct {
	client objectPutter
	bucket string
	prefix string
}

func NewS3Archive(ctx context.Context, cfg lcconfig.ArchiveConfig) (*S3Archive, error) {
	opts := []func(*config.LoadOptions) error{config.WithRegion(cfg.Region)}
	if cfg.AccessKeyID != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, eris.Wrap(err, "load aws config")
	}

	var client *s3.Client
	if cfg.Endpoint != "" {
		client = s3.NewFromConfig(awsCfg, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		})
	} else {
		client = s3.NewFromConfig(awsCfg)
	}

	return &S3Archive{client: client, bucket: cfg.Bucket, prefix: "lawcrawl"}, nil
}

func (a *S3Archive) Put(ctx context.Context, key string, body []byte, contentType string) error {
	_, err := a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(path.Join(a.prefix, key)),
		Body:        bytes.NewReader(body),
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return eris.Wrapf(err, "put object %s", key)
	}
	return nil
}

// PageKey is where a listing page for a unit is archived.
func PageKey(jobID, unitID int64, at time.Time) string {
	return fmt.Sprintf("pages/job-%d/unit-%d-%s.html", jobID, unitID, at.UTC().Format("20060102T150405"))
}

// LookupKey is where a raw provider response is archived.
func LookupKey(lawyerID, lookupID int64, kind string) string {
	kind = strings.ReplaceAll(strings.ToLower(kind), " ", "-")
	return fmt.Sprintf("lookups/lawyer-%d/lookup-%d-%s.json", lawyerID, lookupID, kind)
}

// NopArchive drops everything. Used when no bucket is configured.
type NopArchive struct{}

func (NopArchive) Put(context.Context, string, []byte, string) error { return nil }
