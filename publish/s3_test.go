package publish

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/require"
)

type fakeUploader struct {
	objects map[string]string
	types   map[string]string
	failOn  string
}

func (f *fakeUploader) PutObject(ctx context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	key := aws.ToString(in.Key)
	if key == f.failOn {
		return nil, errors.New("access denied")
	}
	body, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.objects[aws.ToString(in.Bucket)+"/"+key] = string(body)
	f.types[key] = aws.ToString(in.ContentType)
	return &s3.PutObjectOutput{}, nil
}

func newFake() *fakeUploader {
	return &fakeUploader{objects: map[string]string{}, types: map[string]string{}}
}

func TestKey(t *testing.T) {
	tests := []struct {
		prefix string
		want   string
	}{
		{prefix: "", want: "album_sales.csv"},
		{prefix: "charts", want: "charts/album_sales.csv"},
		{prefix: "/charts/kr/", want: "charts/kr/album_sales.csv"},
	}
	for _, tt := range tests {
		p := NewS3PublisherWithClient(newFake(), "bucket", tt.prefix)
		if got := p.Key("data/album_sales.csv"); got != tt.want {
			t.Fatalf("Key with prefix %q = %q, want %q", tt.prefix, got, tt.want)
		}
	}
}

func TestPublishUploadsFiles(t *testing.T) {
	dir := t.TempDir()
	csvPath := filepath.Join(dir, "us_daily_stream.csv")
	jsonPath := filepath.Join(dir, "us_daily_stream.jsonl")
	require.NoError(t, os.WriteFile(csvPath, []byte("date,rank\n2025-04-28,1\n"), 0o644))
	require.NoError(t, os.WriteFile(jsonPath, []byte("{}\n"), 0o644))

	fake := newFake()
	p := NewS3PublisherWithClient(fake, "charts-bucket", "daily")
	uris, err := p.Publish(context.Background(), csvPath, jsonPath)
	require.NoError(t, err)
	require.Equal(t, []string{
		"s3://charts-bucket/daily/us_daily_stream.csv",
		"s3://charts-bucket/daily/us_daily_stream.jsonl",
	}, uris)
	require.Equal(t, "date,rank\n2025-04-28,1\n", fake.objects["charts-bucket/daily/us_daily_stream.csv"])
	require.Equal(t, "application/x-ndjson", fake.types["daily/us_daily_stream.jsonl"])
}

func TestPublishStopsAtFirstFailure(t *testing.T) {
	dir := t.TempDir()
	first := filepath.Join(dir, "a.csv")
	second := filepath.Join(dir, "b.csv")
	require.NoError(t, os.WriteFile(first, []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(second, []byte("y"), 0o644))

	fake := newFake()
	fake.failOn = "b.csv"
	p := NewS3PublisherWithClient(fake, "bucket", "")
	uris, err := p.Publish(context.Background(), first, second, filepath.Join(dir, "c.csv"))
	require.Error(t, err)
	require.Equal(t, []string{"s3://bucket/a.csv"}, uris)
	require.Len(t, fake.objects, 1)

	_, err = p.Publish(context.Background(), filepath.Join(dir, "missing.csv"))
	require.Error(t, err)
}
