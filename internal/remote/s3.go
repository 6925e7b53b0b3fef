package remote

import (
	"context"
	"fmt"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// S3Options configures the S3-compatible endpoint.
type S3Options struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Region    string
	Insecure  bool
}

// S3Store mirrors into an S3-compatible bucket under a prefix.
type S3Store struct {
	client *minio.Client
	bucket string
	prefix string
}

// NewS3Client builds a minio client. Without explicit keys, credentials
// are read from the standard AWS environment variables.
func NewS3Client(opts S3Options) (*minio.Client, error) {
	creds := credentials.NewEnvAWS()
	if opts.AccessKey != "" {
		creds = credentials.NewStaticV4(opts.AccessKey, opts.SecretKey, "")
	}

	client, err := minio.New(opts.Endpoint, &minio.Options{
		Creds:  creds,
		Secure: !opts.Insecure,
		Region: opts.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("creating s3 client for %s: %w", opts.Endpoint, err)
	}

	return client, nil
}

func NewS3Store(client *minio.Client, bucket, prefix string) *S3Store {
	return &S3Store{client: client, bucket: bucket, prefix: prefix}
}

func (s *S3Store) String() string {
	return "s3://" + objectName(s.bucket, s.prefix)
}

func (s *S3Store) List(ctx context.Context) ([]Object, error) {
	opts := minio.ListObjectsOptions{Recursive: true}
	if s.prefix != "" {
		opts.Prefix = s.prefix + "/"
	}

	var objects []Object

	for info := range s.client.ListObjects(ctx, s.bucket, opts) {
		if info.Err != nil {
			return nil, fmt.Errorf("listing %s: %w", s, info.Err)
		}

		key, ok := keyFromName(s.prefix, info.Key)
		if !ok {
			continue
		}

		objects = append(objects, Object{
			Key:     key,
			Size:    info.Size,
			MD5:     etagMD5(info.ETag),
			ModTime: info.LastModified,
		})
	}

	return objects, nil
}

func (s *S3Store) Put(ctx context.Context, key, src string) error {
	_, err := s.client.FPutObject(ctx, s.bucket, objectName(s.prefix, key), src, minio.PutObjectOptions{})
	if err != nil {
		return fmt.Errorf("uploading %s: %w", key, err)
	}

	return nil
}

func (s *S3Store) Delete(ctx context.Context, key string) error {
	err := s.client.RemoveObject(ctx, s.bucket, objectName(s.prefix, key), minio.RemoveObjectOptions{})
	if err != nil {
		return fmt.Errorf("deleting %s: %w", key, err)
	}

	return nil
}

// etagMD5 returns the ETag as an MD5 hex digest when it is one. Multipart
// uploads produce "<hash>-<parts>" ETags that are not content hashes.
func etagMD5(etag string) string {
	etag = strings.ToLower(strings.Trim(etag, `"`))
	if len(etag) != 32 || strings.Contains(etag, "-") {
		return ""
	}

	return etag
}
