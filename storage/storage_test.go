package storage

import (
	"context"
	"io"
	"path/filepath"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func TestLocalStorage(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	root := t.TempDir()

	s, err := NewLocalStorage(root)
	req.NoError(err)

	req.NoError(s.Write(ctx, "t/metadata/v1.metadata.json", strings.NewReader("one")))
	data, err := ReadAll(ctx, s, "t/metadata/v1.metadata.json")
	req.NoError(err)
	req.Equal("one", string(data))

	req.NoError(s.Write(ctx, "t/metadata/v1.metadata.json", strings.NewReader("two")))
	data, err = ReadAll(ctx, s, "t/metadata/v1.metadata.json")
	req.NoError(err)
	req.Equal("two", string(data))

	req.NoError(s.Create(ctx, "t/metadata/v2.metadata.json", strings.NewReader("x")))
	err = s.Create(ctx, "t/metadata/v2.metadata.json", strings.NewReader("y"))
	req.ErrorIs(err, ErrExists)

	ok, err := s.Exists(ctx, "t/metadata/v2.metadata.json")
	req.NoError(err)
	req.True(ok)
	ok, err = s.Exists(ctx, "t/metadata/v3.metadata.json")
	req.NoError(err)
	req.False(ok)

	_, err = s.Read(ctx, "missing")
	req.ErrorIs(err, ErrNotFound)

	files, err := s.List(ctx, "t/metadata/")
	req.NoError(err)
	req.ElementsMatch([]string{"t/metadata/v1.metadata.json", "t/metadata/v2.metadata.json"}, files)

	loc := s.Location("t/data/a.parquet")
	req.Equal(filepath.Join(root, "t", "data", "a.parquet"), loc)
	p, err := s.Path(loc)
	req.NoError(err)
	req.Equal("t/data/a.parquet", p)
	_, err = s.Path("/elsewhere/a.parquet")
	req.Error(err)

	req.NoError(s.Delete(ctx, "t/metadata/v1.metadata.json"))
	req.NoError(s.Delete(ctx, "t/metadata/v1.metadata.json"))
}

func TestBufferUpload(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	s, err := NewLocalStorage(t.TempDir())
	req.NoError(err)

	b := NewBuffer()
	_, err = b.Write([]byte("hello"))
	req.NoError(err)
	req.Equal(int64(5), b.Size())

	loc, size, err := b.Upload(ctx, s, "obj", true)
	req.NoError(err)
	req.Equal(int64(5), size)
	req.Equal(s.Location("obj"), loc)

	_, _, err = b.Upload(ctx, s, "obj", true)
	req.ErrorIs(err, ErrExists)

	b.Reset()
	req.Zero(b.Size())
}

type mockS3 struct {
	mock.Mock
}

func (m *mockS3) PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	args := m.Called(ctx, params)
	return args.Get(0).(*s3.PutObjectOutput), args.Error(1)
}

func (m *mockS3) GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	args := m.Called(ctx, params)
	return args.Get(0).(*s3.GetObjectOutput), args.Error(1)
}

func (m *mockS3) HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error) {
	args := m.Called(ctx, params)
	return args.Get(0).(*s3.HeadObjectOutput), args.Error(1)
}

func (m *mockS3) DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	args := m.Called(ctx, params)
	return args.Get(0).(*s3.DeleteObjectOutput), args.Error(1)
}

func (m *mockS3) ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error) {
	args := m.Called(ctx, params)
	return args.Get(0).(*s3.ListObjectsV2Output), args.Error(1)
}

func TestS3StorageCreateIsConditional(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	client := &mockS3{}
	s := NewS3Storage(client, "bucket", "warehouse/")

	client.On("PutObject", mock.Anything, mock.MatchedBy(func(in *s3.PutObjectInput) bool {
		return aws.ToString(in.Key) == "warehouse/t/v1.json" && aws.ToString(in.IfNoneMatch) == "*"
	})).Return(&s3.PutObjectOutput{}, nil).Once()
	client.On("PutObject", mock.Anything, mock.Anything).Return(
		(*s3.PutObjectOutput)(nil), &smithy.GenericAPIError{Code: "PreconditionFailed"}).Once()

	req.NoError(s.Create(ctx, "t/v1.json", strings.NewReader("{}")))
	err := s.Create(ctx, "t/v1.json", strings.NewReader("{}"))
	req.ErrorIs(err, ErrExists)
	client.AssertExpectations(t)
}

func TestS3StorageReadAndList(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	client := &mockS3{}
	s := NewS3Storage(client, "bucket", "warehouse")

	client.On("GetObject", mock.Anything, mock.MatchedBy(func(in *s3.GetObjectInput) bool {
		return aws.ToString(in.Key) == "warehouse/a"
	})).Return(&s3.GetObjectOutput{Body: io.NopCloser(strings.NewReader("data"))}, nil)
	client.On("GetObject", mock.Anything, mock.Anything).Return((*s3.GetObjectOutput)(nil), &types.NoSuchKey{})
	client.On("HeadObject", mock.Anything, mock.Anything).Return((*s3.HeadObjectOutput)(nil), &types.NotFound{})
	client.On("ListObjectsV2", mock.Anything, mock.Anything).Return(&s3.ListObjectsV2Output{
		Contents: []types.Object{{Key: aws.String("warehouse/t/a")}, {Key: aws.String("warehouse/t/b")}},
	}, nil)

	data, err := ReadAll(ctx, s, "a")
	req.NoError(err)
	req.Equal("data", string(data))

	_, err = s.Read(ctx, "b")
	req.ErrorIs(err, ErrNotFound)

	ok, err := s.Exists(ctx, "b")
	req.NoError(err)
	req.False(ok)

	files, err := s.List(ctx, "t/")
	req.NoError(err)
	req.Equal([]string{"t/a", "t/b"}, files)

	req.Equal("s3://bucket/warehouse/t/a", s.Location("t/a"))
	p, err := s.Path("s3://bucket/warehouse/t/a")
	req.NoError(err)
	req.Equal("t/a", p)
}
