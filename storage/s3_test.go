package storage

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakePutter struct {
	input *s3.PutObjectInput
	body  []byte
}

func (f *fakePutter) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	f.input = in
	f.body, _ = io.ReadAll(in.Body)
	return &s3.PutObjectOutput{}, nil
}

func TestS3Archive_Put(t *testing.T) {
	fake := &fakePutter{}
	a := &S3Archive{client: fake, bucket: "crawl-archive", prefix: "lawcrawl"}

	key := PageKey(4, 12, time.Date(2026, 5, 2, 10, 30, 0, 0, time.UTC))
	require.NoError(t, a.Put(context.Background(), key, []byte("<html></html>"), "text/html"))

	assert.Equal(t, "crawl-archive", aws.ToString(fake.input.Bucket))
	assert.Equal(t, "lawcrawl/pages/job-4/unit-12-20260502T103000.html", aws.ToString(fake.input.Key))
	assert.Equal(t, "text/html", aws.ToString(fake.input.ContentType))
	assert.Equal(t, "<html></html>", string(fake.body))
}

func TestLookupKey(t *testing.T) {
	assert.Equal(t, "lookups/lawyer-3/lookup-9-person-search.json", LookupKey(3, 9, "Person Search"))
}
