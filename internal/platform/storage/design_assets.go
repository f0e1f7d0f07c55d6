package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"path"
	"strings"

	gcs "cloud.google.com/go/storage"
	"github.com/oklog/ulid/v2"

	"github.com/hanko-field/storefront/internal/services"
)

const defaultMaxDesignAssetBytes int64 = 20 << 20

var defaultDesignContentTypes = []string{
	"image/png",
	"image/jpeg",
	"image/webp",
	"image/svg+xml",
	"application/pdf",
}

// ObjectWriterFactory opens a writer for bucket/object. The returned writer
// commits the object on Close.
type ObjectWriterFactory func(ctx context.Context, bucket, object, contentType string, metadata map[string]string) io.WriteCloser

// GCSWriterFactory returns a factory writing through a Cloud Storage client.
func GCSWriterFactory(client *gcs.Client) ObjectWriterFactory {
	return func(ctx context.Context, bucket, object, contentType string, metadata map[string]string) io.WriteCloser {
		w := client.Bucket(bucket).Object(object).NewWriter(ctx)
		w.ContentType = contentType
		w.Metadata = metadata
		return w
	}
}

// ObjectDeleter removes bucket/object. Deleting a missing object is not an error.
type ObjectDeleter func(ctx context.Context, bucket, object string) error

// GCSDeleter returns a deleter backed by a Cloud Storage client.
func GCSDeleter(client *gcs.Client) ObjectDeleter {
	return func(ctx context.Context, bucket, object string) error {
		err := client.Bucket(bucket).Object(object).Delete(ctx)
		if errors.Is(err, gcs.ErrObjectNotExist) {
			return nil
		}
		return err
	}
}

// DesignAssetStoreOptions configures DesignAssetStore.
type DesignAssetStoreOptions struct {
	Bucket              string
	Prefix              string
	Writer              ObjectWriterFactory
	Deleter             ObjectDeleter
	AllowedContentTypes []string
	MaxSize             int64
	NewUploadID         func() string
}

// DesignAssetStore writes design proofs into a Cloud Storage bucket.
type DesignAssetStore struct {
	bucket      string
	prefix      string
	writer      ObjectWriterFactory
	deleter     ObjectDeleter
	allowed     []string
	maxSize     int64
	newUploadID func() string
}

var _ services.DesignAssetStore = (*DesignAssetStore)(nil)

// NewDesignAssetStore validates options and constructs a store.
func NewDesignAssetStore(opts DesignAssetStoreOptions) (*DesignAssetStore, error) {
	bucket := strings.TrimSpace(opts.Bucket)
	if bucket == "" {
		return nil, errors.New("storage: bucket name is required")
	}
	if opts.Writer == nil {
		return nil, errors.New("storage: object writer is required")
	}
	store := &DesignAssetStore{
		bucket:      bucket,
		prefix:      strings.TrimSpace(opts.Prefix),
		writer:      opts.Writer,
		deleter:     opts.Deleter,
		allowed:     opts.AllowedContentTypes,
		maxSize:     opts.MaxSize,
		newUploadID: opts.NewUploadID,
	}
	if len(store.allowed) == 0 {
		store.allowed = defaultDesignContentTypes
	}
	if store.maxSize <= 0 {
		store.maxSize = defaultMaxDesignAssetBytes
	}
	if store.newUploadID == nil {
		store.newUploadID = func() string { return ulid.Make().String() }
	}
	return store, nil
}

// Put streams the asset into the bucket and returns its gs:// reference.
func (s *DesignAssetStore) Put(ctx context.Context, asset services.DesignAssetUpload) (string, error) {
	if asset.Body == nil {
		return "", fmt.Errorf("%w: design asset body is required", services.ErrValidation)
	}
	contentType := resolveContentType(asset.ContentType, asset.FileName)
	if contentType == "" {
		return "", fmt.Errorf("%w: design asset content type is required", services.ErrValidation)
	}
	if !contentTypeAllowed(contentType, s.allowed) {
		return "", fmt.Errorf("%w: content type %s is not allowed", services.ErrValidation, contentType)
	}
	if asset.Size > s.maxSize {
		return "", fmt.Errorf("%w: design asset exceeds %d bytes", services.ErrValidation, s.maxSize)
	}

	object, err := designProofObject(s.prefix, asset.OrderID, asset.OrderItemID, s.newUploadID(), asset.FileName)
	if err != nil {
		return "", fmt.Errorf("%w: %s", services.ErrValidation, err.Error())
	}

	// Cancelling the writer context aborts the upload without committing a partial object.
	writeCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	w := s.writer(writeCtx, s.bucket, object, contentType, map[string]string{
		"order_id":      asset.OrderID,
		"order_item_id": asset.OrderItemID,
	})
	written, err := io.Copy(w, io.LimitReader(asset.Body, s.maxSize+1))
	switch {
	case err != nil:
		cancel()
		_ = w.Close()
		return "", fmt.Errorf("storage: write %s: %w", object, err)
	case written > s.maxSize:
		cancel()
		_ = w.Close()
		return "", fmt.Errorf("%w: design asset exceeds %d bytes", services.ErrValidation, s.maxSize)
	case written == 0:
		cancel()
		_ = w.Close()
		return "", fmt.Errorf("%w: design asset is empty", services.ErrValidation)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("storage: commit %s: %w", object, err)
	}
	return "gs://" + s.bucket + "/" + object, nil
}

// Delete removes an object previously returned by Put. References outside the store's
// bucket are rejected.
func (s *DesignAssetStore) Delete(ctx context.Context, ref string) error {
	if s.deleter == nil {
		return errors.New("storage: object deleter is not configured")
	}
	object, ok := strings.CutPrefix(ref, "gs://"+s.bucket+"/")
	if !ok || object == "" {
		return fmt.Errorf("storage: %q is not an object in bucket %s", ref, s.bucket)
	}
	if err := s.deleter(ctx, s.bucket, object); err != nil {
		return fmt.Errorf("storage: delete %s: %w", object, err)
	}
	return nil
}

func resolveContentType(contentType, fileName string) string {
	contentType = strings.TrimSpace(contentType)
	if contentType == "" || contentType == "application/octet-stream" {
		if guessed := mime.TypeByExtension(strings.ToLower(path.Ext(fileName))); guessed != "" {
			contentType = guessed
		}
	}
	if mediaType, _, err := mime.ParseMediaType(contentType); err == nil {
		return strings.ToLower(mediaType)
	}
	return strings.ToLower(contentType)
}

func contentTypeAllowed(contentType string, allowed []string) bool {
	normalized := strings.ToLower(strings.TrimSpace(contentType))
	for _, candidate := range allowed {
		candidate = strings.ToLower(strings.TrimSpace(candidate))
		if candidate == "" {
			continue
		}
		if candidate == "*" {
			return true
		}
		if strings.HasSuffix(candidate, "/*") {
			if strings.HasPrefix(normalized, strings.TrimSuffix(candidate, "*")) {
				return true
			}
			continue
		}
		if normalized == candidate {
			return true
		}
	}
	return false
}
