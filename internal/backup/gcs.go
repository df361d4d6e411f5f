package backup

import (
	"context"
	"fmt"
	"io"
	"os"
	"path"

	"cloud.google.com/go/storage"
)

// GCSUploader copies dump files into a Google Cloud Storage bucket.
type GCSUploader struct {
	client *storage.Client
	bucket string
	prefix string
}

// NewGCSUploader creates an uploader for the given bucket. prefix may be
// empty; objects keep the dump's base filename.
func NewGCSUploader(client *storage.Client, bucket, prefix string) (*GCSUploader, error) {
	if client == nil {
		return nil, fmt.Errorf("storage client is required")
	}
	if bucket == "" {
		return nil, fmt.Errorf("bucket name is required")
	}
	return &GCSUploader{
		client: client,
		bucket: bucket,
		prefix: prefix,
	}, nil
}

// Upload streams the file into the bucket and returns a gs:// URI. The
// object is overwritten on every run, matching the fixed dump filename.
func (u *GCSUploader) Upload(ctx context.Context, filePath string) (string, error) {
	f, err := os.Open(filePath)
	if err != nil {
		return "", fmt.Errorf("open dump: %w", err)
	}
	defer f.Close()

	object := path.Base(filePath)
	if u.prefix != "" {
		object = path.Join(u.prefix, object)
	}

	writer := u.client.Bucket(u.bucket).Object(object).NewWriter(ctx)
	writer.ContentType = "application/octet-stream"
	if _, err := io.Copy(writer, f); err != nil {
		closeErr := writer.Close()
		if closeErr != nil {
			return "", fmt.Errorf("copy dump: %w (close writer: %v)", err, closeErr)
		}
		return "", fmt.Errorf("copy dump: %w", err)
	}
	if err := writer.Close(); err != nil {
		return "", fmt.Errorf("close writer: %w", err)
	}
	return fmt.Sprintf("gs://%s/%s", u.bucket, object), nil
}
