package storage

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/WiesHerd/contractpipeline/config"
	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"github.com/stretchr/testify/require"
)

type fakeS3 struct {
	mu      sync.Mutex
	objects map[string][]byte
	meta    map[string]map[string]string
	headErr error
}

func newFakeS3() *fakeS3 {
	return &fakeS3{objects: map[string][]byte{}, meta: map[string]map[string]string{}}
}

func (f *fakeS3) PutObject(ctx context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	data, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.objects[aws.ToString(in.Key)] = data
	f.meta[aws.ToString(in.Key)] = in.Metadata
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeS3) GetObject(ctx context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.objects[aws.ToString(in.Key)]
	if !ok {
		return nil, &types.NoSuchKey{}
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(data))}, nil
}

func (f *fakeS3) HeadObject(ctx context.Context, in *s3.HeadObjectInput, _ ...func(*s3.Options)) (*s3.HeadObjectOutput, error) {
	if f.headErr != nil {
		return nil, f.headErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.objects[aws.ToString(in.Key)]; !ok {
		return nil, &types.NotFound{}
	}
	return &s3.HeadObjectOutput{}, nil
}

type fakePresigner struct {
	ttl time.Duration
}

func (p *fakePresigner) PresignGetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error) {
	var opts s3.PresignOptions
	for _, fn := range optFns {
		fn(&opts)
	}
	p.ttl = opts.Expires
	return &v4.PresignedHTTPRequest{URL: "https://s3.example.com/" + aws.ToString(in.Key), Method: "GET"}, nil
}

func TestS3StoreRoundTrip(t *testing.T) {
	api := newFakeS3()
	presign := &fakePresigner{}
	store := &S3Store{api: api, presign: presign, bucket: "secondary"}
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, "contracts/p1-t1-2024/a.docx", []byte("doc"), ObjectMeta{Hash: "h1"}))
	require.Equal(t, "h1", api.meta["contracts/p1-t1-2024/a.docx"]["sha256"])

	data, err := store.Get(ctx, "contracts/p1-t1-2024/a.docx")
	require.NoError(t, err)
	require.Equal(t, []byte("doc"), data)

	ok, err := store.Exists(ctx, "contracts/p1-t1-2024/a.docx")
	require.NoError(t, err)
	require.True(t, ok)

	url, err := store.SignedURL(ctx, "contracts/p1-t1-2024/a.docx", 7*24*time.Hour)
	require.NoError(t, err)
	require.Equal(t, "https://s3.example.com/contracts/p1-t1-2024/a.docx", url)
	require.Equal(t, 7*24*time.Hour, presign.ttl)
}

func TestS3StoreMissing(t *testing.T) {
	store := &S3Store{api: newFakeS3(), presign: &fakePresigner{}, bucket: "secondary"}
	ctx := context.Background()

	_, err := store.Get(ctx, "missing")
	require.ErrorIs(t, err, ErrObjectNotFound)

	ok, err := store.Exists(ctx, "missing")
	require.NoError(t, err)
	require.False(t, ok)

	_, err = store.SignedURL(ctx, "missing", time.Hour)
	require.ErrorIs(t, err, ErrObjectNotFound)
}

func TestS3StoreAccessError(t *testing.T) {
	api := newFakeS3()
	api.headErr = &smithy.GenericAPIError{Code: "AccessDenied", Message: "denied"}
	store := &S3Store{api: api, presign: &fakePresigner{}, bucket: "secondary"}

	ok, err := store.Exists(context.Background(), "k")
	require.Error(t, err)
	require.False(t, ok)
	require.NotErrorIs(t, err, ErrObjectNotFound)
}

func TestS3ErrorAPICode(t *testing.T) {
	err := s3Error("k", &smithy.GenericAPIError{Code: "NotFound"})
	require.ErrorIs(t, err, ErrObjectNotFound)
}

func TestNewS3Store(t *testing.T) {
	orig := loadDefaultAWSConfig
	t.Cleanup(func() { loadDefaultAWSConfig = orig })

	var called bool
	loadDefaultAWSConfig = func(ctx context.Context, optFns ...func(*awsconfig.LoadOptions) error) (aws.Config, error) {
		called = true
		return aws.Config{Region: "us-east-1"}, nil
	}

	store, err := NewS3Store(context.Background(), &config.S3Config{
		Region:    "us-east-1",
		Endpoint:  "http://localhost:9100",
		AccessKey: "key",
		SecretKey: "secret",
		Bucket:    "secondary",
	})
	require.NoError(t, err)
	require.True(t, called)
	require.Equal(t, "secondary", store.bucket)
}

func TestNewS3StoreConfigError(t *testing.T) {
	orig := loadDefaultAWSConfig
	t.Cleanup(func() { loadDefaultAWSConfig = orig })

	loadDefaultAWSConfig = func(ctx context.Context, optFns ...func(*awsconfig.LoadOptions) error) (aws.Config, error) {
		return aws.Config{}, errors.New("no credentials")
	}

	_, err := NewS3Store(context.Background(), &config.S3Config{Region: "us-east-1"})
	require.Error(t, err)
}
