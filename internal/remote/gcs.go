package remote

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"

	"cloud.google.com/go/storage"
	"google.golang.org/api/iterator"
)

// GCSStore mirrors into a Google Cloud Storage bucket under a prefix.
type GCSStore struct {
	bucket *storage.BucketHandle
	name   string
	prefix string
}

// NewGCSStore uses client for all bucket operations. Credentials come
// from the client (Application Default Credentials by default).
func NewGCSStore(client *storage.Client, bucket, prefix string) *GCSStore {
	return &GCSStore{
		bucket: client.Bucket(bucket),
		name:   bucket,
		prefix: prefix,
	}
}

func (s *GCSStore) String() string {
	return "gs://" + objectName(s.name, s.prefix)
}

func (s *GCSStore) List(ctx context.Context) ([]Object, error) {
	q := &storage.Query{}
	if s.prefix != "" {
		q.Prefix = s.prefix + "/"
	}

	if err := q.SetAttrSelection([]string{"Name", "Size", "MD5", "Updated"}); err != nil {
		return nil, err
	}

	var objects []Object

	it := s.bucket.Objects(ctx, q)

	for {
		attrs, err := it.Next()
		if err == iterator.Done {
			break
		}

		if err != nil {
			return nil, fmt.Errorf("listing %s: %w", s, err)
		}

		key, ok := keyFromName(s.prefix, attrs.Name)
		if !ok {
			continue
		}

		obj := Object{Key: key, Size: attrs.Size, ModTime: attrs.Updated}
		// Composite objects carry no MD5.
		if len(attrs.MD5) > 0 {
			obj.MD5 = hex.EncodeToString(attrs.MD5)
		}

		objects = append(objects, obj)
	}

	return objects, nil
}

func (s *GCSStore) Put(ctx context.Context, key, src string) error {
	f, err := os.Open(src) //nolint:gosec // G304: src comes from the local scan
	if err != nil {
		return err
	}
	defer f.Close()

	w := s.bucket.Object(objectName(s.prefix, key)).NewWriter(ctx)

	if _, err := io.Copy(w, f); err != nil {
		w.Close()
		return fmt.Errorf("uploading %s: %w", key, err)
	}

	if err := w.Close(); err != nil {
		return fmt.Errorf("finalizing %s: %w", key, err)
	}

	return nil
}

func (s *GCSStore) Delete(ctx context.Context, key string) error {
	err := s.bucket.Object(objectName(s.prefix, key)).Delete(ctx)
	if err != nil && !errors.Is(err, storage.ErrObjectNotExist) {
		return fmt.Errorf("deleting %s: %w", key, err)
	}

	return nil
}
