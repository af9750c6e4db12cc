package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
)

// S3API is the subset of the S3 client used by S3Storage.
type S3API interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
	ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
}

type S3Storage struct {
	client S3API
	bucket string
	prefix string
}

func NewS3Storage(client S3API, bucket, prefix string) *S3Storage {
	return &S3Storage{
		client: client,
		bucket: bucket,
		prefix: strings.Trim(prefix, "/"),
	}
}

func (s *S3Storage) key(p string) string {
	return path.Join(s.prefix, p)
}

func (s *S3Storage) Write(ctx context.Context, filepath string, data io.Reader) error {
	return s.put(ctx, filepath, data, false)
}

// Create uses a conditional PutObject (If-None-Match: *).
func (s *S3Storage) Create(ctx context.Context, filepath string, data io.Reader) error {
	return s.put(ctx, filepath, data, true)
}

func (s *S3Storage) put(ctx context.Context, filepath string, data io.Reader, exclusive bool) error {
	buf := new(bytes.Buffer)
	if _, err := io.Copy(buf, data); err != nil {
		return fmt.Errorf("copying data: %w", err)
	}

	input := &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(filepath)),
		Body:   bytes.NewReader(buf.Bytes()),
	}
	if exclusive {
		input.IfNoneMatch = aws.String("*")
	}

	if _, err := s.client.PutObject(ctx, input); err != nil {
		if exclusive && isPreconditionFailed(err) {
			return fmt.Errorf("%s: %w", filepath, ErrExists)
		}
		return fmt.Errorf("putting object %s: %w", filepath, err)
	}
	return nil
}

func (s *S3Storage) Read(ctx context.Context, filepath string) (io.ReadCloser, error) {
	output, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(filepath)),
	})
	if err != nil {
		var nsk *types.NoSuchKey
		if errors.As(err, &nsk) {
			return nil, fmt.Errorf("%s: %w", filepath, ErrNotFound)
		}
		return nil, fmt.Errorf("getting object %s: %w", filepath, err)
	}
	return output.Body, nil
}

func (s *S3Storage) Exists(ctx context.Context, filepath string) (bool, error) {
	_, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(filepath)),
	})
	if err == nil {
		return true, nil
	}
	var nf *types.NotFound
	if errors.As(err, &nf) {
		return false, nil
	}
	return false, fmt.Errorf("heading object %s: %w", filepath, err)
}

func (s *S3Storage) List(ctx context.Context, prefix string) ([]string, error) {
	fullPrefix := s.key(prefix)
	if strings.HasSuffix(prefix, "/") {
		fullPrefix += "/"
	}
	var files []string

	paginator := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(fullPrefix),
	})

	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("listing objects: %w", err)
		}

		for _, obj := range page.Contents {
			key := aws.ToString(obj.Key)
			if s.prefix != "" {
				key = strings.TrimPrefix(key, s.prefix+"/")
			}
			files = append(files, key)
		}
	}

	return files, nil
}

func (s *S3Storage) Delete(ctx context.Context, filepath string) error {
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(filepath)),
	})
	if err != nil {
		return fmt.Errorf("deleting object %s: %w", filepath, err)
	}
	return nil
}

func (s *S3Storage) Location(filepath string) string {
	return "s3://" + s.bucket + "/" + s.key(filepath)
}

func (s *S3Storage) Path(location string) (string, error) {
	base := "s3://" + s.bucket + "/"
	if s.prefix != "" {
		base += s.prefix + "/"
	}
	if !strings.HasPrefix(location, base) {
		return "", fmt.Errorf("location %s is outside %s", location, base)
	}
	return strings.TrimPrefix(location, base), nil
}

func isPreconditionFailed(err error) bool {
	var apiErr smithy.APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	switch apiErr.ErrorCode() {
	case "PreconditionFailed", "ConditionalRequestConflict":
		return true
	}
	return false
}
