package remote

import (
	"bytes"
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeS3 struct {
	objects map[string][]byte
	putErr  error
	headErr error
	pages   [][]types.Object
	calls   int
}

func (f *fakeS3) PutObject(ctx context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	if f.putErr != nil {
		return nil, f.putErr
	}
	b, _ := io.ReadAll(in.Body)
	f.objects[aws.ToString(in.Key)] = b
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeS3) GetObject(ctx context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	b, ok := f.objects[aws.ToString(in.Key)]
	if !ok {
		return nil, &types.NoSuchKey{}
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(b))}, nil
}

func (f *fakeS3) DeleteObject(ctx context.Context, in *s3.DeleteObjectInput, _ ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	delete(f.objects, aws.ToString(in.Key))
	return &s3.DeleteObjectOutput{}, nil
}

func (f *fakeS3) ListObjectsV2(ctx context.Context, in *s3.ListObjectsV2Input, _ ...func(*s3.Options)) (*s3.ListObjectsV2Output, error) {
	page := f.pages[f.calls]
	f.calls++
	out := &s3.ListObjectsV2Output{Contents: page, IsTruncated: aws.Bool(f.calls < len(f.pages))}
	if f.calls < len(f.pages) {
		out.NextContinuationToken = aws.String("next")
	}
	return out, nil
}

func (f *fakeS3) HeadBucket(ctx context.Context, in *s3.HeadBucketInput, _ ...func(*s3.Options)) (*s3.HeadBucketOutput, error) {
	return &s3.HeadBucketOutput{}, f.headErr
}

func newFakeS3Store() (*S3Store, *fakeS3) {
	f := &fakeS3{objects: map[string][]byte{}}
	return &S3Store{client: f, bucket: "pocketsync"}, f
}

func TestS3Store_PutGetDelete(t *testing.T) {
	s, f := newFakeS3Store()
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, "data/a", []byte(`{"x":1}`)))
	assert.Equal(t, []byte(`{"x":1}`), f.objects["data/a"])

	body, err := s.Get(ctx, "data/a")
	require.NoError(t, err)
	assert.Equal(t, []byte(`{"x":1}`), body)

	require.NoError(t, s.Delete(ctx, "data/a"))
	_, err = s.Get(ctx, "data/a")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestS3Store_PutErrorWrapped(t *testing.T) {
	s, f := newFakeS3Store()
	f.putErr = errors.New("timeout")

	err := s.Put(context.Background(), "data/a", []byte(`1`))
	require.ErrorContains(t, err, `s3 put "data/a"`)
}

func TestS3Store_ListFollowsPages(t *testing.T) {
	s, f := newFakeS3Store()
	now := time.Now()
	f.pages = [][]types.Object{
		{{Key: aws.String("backups/1.json"), LastModified: &now, Size: aws.Int64(10)}},
		{{Key: aws.String("backups/2.json"), LastModified: &now, Size: aws.Int64(20)}},
	}

	objs, err := s.List(context.Background(), BackupPrefix)
	require.NoError(t, err)
	require.Len(t, objs, 2)
	assert.Equal(t, "backups/2.json", objs[1].Key)
	assert.Equal(t, int64(20), objs[1].Size)
}

func TestS3Store_Ping(t *testing.T) {
	s, f := newFakeS3Store()
	require.NoError(t, Ping(context.Background(), s))

	f.headErr = errors.New("no route")
	require.Error(t, Ping(context.Background(), s))
}

func TestNewS3Store_AppliesConfig(t *testing.T) {
	origLoad := loadDefaultAWSConfig
	origNew := newS3ClientFromConfig
	t.Cleanup(func() {
		loadDefaultAWSConfig = origLoad
		newS3ClientFromConfig = origNew
	})

	loadDefaultAWSConfig = func(ctx context.Context, optFns ...func(*awsconfig.LoadOptions) error) (aws.Config, error) {
		var lo awsconfig.LoadOptions
		for _, fn := range optFns {
			require.NoError(t, fn(&lo))
		}
		assert.Equal(t, "eu-central-1", lo.Region)
		assert.NotNil(t, lo.Credentials, "static credentials expected")
		return aws.Config{}, nil
	}

	var opts s3.Options
	newS3ClientFromConfig = func(cfg aws.Config, optFns ...func(*s3.Options)) s3API {
		for _, fn := range optFns {
			fn(&opts)
		}
		return &fakeS3{objects: map[string][]byte{}}
	}

	s, err := NewS3Store(context.Background(), S3Config{
		Bucket:       "b",
		Region:       "eu-central-1",
		Endpoint:     "http://127.0.0.1:9000",
		AccessKey:    "minioadmin",
		SecretKey:    "minioadmin",
		UsePathStyle: true,
	})
	require.NoError(t, err)
	require.NotNil(t, s)
	assert.Equal(t, "http://127.0.0.1:9000", aws.ToString(opts.BaseEndpoint))
	assert.True(t, opts.UsePathStyle)

	loadDefaultAWSConfig = func(ctx context.Context, optFns ...func(*awsconfig.LoadOptions) error) (aws.Config, error) {
		return aws.Config{}, errors.New("load-fail")
	}
	_, err = NewS3Store(context.Background(), S3Config{Region: "x"})
	require.ErrorContains(t, err, "load-fail")
}
