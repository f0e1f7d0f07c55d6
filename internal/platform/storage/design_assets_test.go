package storage

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/hanko-field/storefront/internal/services"
)

type recordedObject struct {
	bucket      string
	object      string
	contentType string
	metadata    map[string]string
	buf         bytes.Buffer
	closed      bool
	aborted     bool
	ctx         context.Context
}

func (o *recordedObject) Write(p []byte) (int, error) { return o.buf.Write(p) }

func (o *recordedObject) Close() error {
	o.closed = true
	o.aborted = o.ctx.Err() != nil
	return nil
}

type writerRecorder struct {
	objects []*recordedObject
	deleted []string
}

func (r *writerRecorder) delete(_ context.Context, bucket, object string) error {
	r.deleted = append(r.deleted, bucket+"/"+object)
	return nil
}

func (r *writerRecorder) factory(ctx context.Context, bucket, object, contentType string, metadata map[string]string) io.WriteCloser {
	obj := &recordedObject{bucket: bucket, object: object, contentType: contentType, metadata: metadata, ctx: ctx}
	r.objects = append(r.objects, obj)
	return obj
}

func newTestStore(t *testing.T, rec *writerRecorder, maxSize int64) *DesignAssetStore {
	t.Helper()
	store, err := NewDesignAssetStore(DesignAssetStoreOptions{
		Bucket:      "hanko-designs",
		Prefix:      "designs",
		Writer:      rec.factory,
		Deleter:     rec.delete,
		MaxSize:     maxSize,
		NewUploadID: func() string { return "01UPLOAD" },
	})
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	return store
}

func TestDesignAssetStorePutWritesObject(t *testing.T) {
	rec := &writerRecorder{}
	store := newTestStore(t, rec, 0)

	ref, err := store.Put(context.Background(), services.DesignAssetUpload{
		OrderID:     "ord_1",
		OrderItemID: "itm_1",
		FileName:    "proof.png",
		ContentType: "image/png",
		Body:        strings.NewReader("\x89PNG"),
	})
	if err != nil {
		t.Fatalf("put: %v", err)
	}
	if ref != "gs://hanko-designs/designs/orders/ord_1/items/itm_1/01UPLOAD-proof.png" {
		t.Fatalf("unexpected ref %s", ref)
	}
	obj := rec.objects[0]
	if !obj.closed || obj.aborted || obj.buf.String() != "\x89PNG" {
		t.Fatalf("expected committed object, got %+v", obj)
	}
	if obj.contentType != "image/png" || obj.metadata["order_item_id"] != "itm_1" {
		t.Fatalf("unexpected object attributes %+v", obj)
	}
}

func TestDesignAssetStoreGuessesContentTypeFromExtension(t *testing.T) {
	rec := &writerRecorder{}
	store := newTestStore(t, rec, 0)

	if _, err := store.Put(context.Background(), services.DesignAssetUpload{
		OrderID: "ord_1", OrderItemID: "itm_1", FileName: "proof.pdf",
		ContentType: "application/octet-stream", Body: strings.NewReader("%PDF"),
	}); err != nil {
		t.Fatalf("put: %v", err)
	}
	if rec.objects[0].contentType != "application/pdf" {
		t.Fatalf("expected pdf content type, got %s", rec.objects[0].contentType)
	}
}

func TestDesignAssetStoreRejectsInvalidUploads(t *testing.T) {
	rec := &writerRecorder{}
	store := newTestStore(t, rec, 8)
	ctx := context.Background()

	cases := map[string]services.DesignAssetUpload{
		"content type":  {OrderID: "ord_1", OrderItemID: "itm_1", FileName: "run.exe", ContentType: "application/x-msdownload", Body: strings.NewReader("MZ")},
		"declared size": {OrderID: "ord_1", OrderItemID: "itm_1", FileName: "a.png", ContentType: "image/png", Size: 9, Body: strings.NewReader("x")},
		"traversal":     {OrderID: "../ord", OrderItemID: "itm_1", FileName: "a.png", ContentType: "image/png", Body: strings.NewReader("x")},
		"missing body":  {OrderID: "ord_1", OrderItemID: "itm_1", FileName: "a.png", ContentType: "image/png"},
	}
	for name, upload := range cases {
		if _, err := store.Put(ctx, upload); !errors.Is(err, services.ErrValidation) {
			t.Fatalf("%s: expected validation error, got %v", name, err)
		}
	}
	if len(rec.objects) != 0 {
		t.Fatalf("rejected uploads must not open writers, got %d", len(rec.objects))
	}
}

func TestDesignAssetStoreAbortsOversizedStream(t *testing.T) {
	rec := &writerRecorder{}
	store := newTestStore(t, rec, 4)

	_, err := store.Put(context.Background(), services.DesignAssetUpload{
		OrderID: "ord_1", OrderItemID: "itm_1", FileName: "big.png",
		ContentType: "image/png", Body: strings.NewReader("0123456789"),
	})
	if !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if len(rec.objects) != 1 || !rec.objects[0].aborted {
		t.Fatalf("expected aborted write")
	}
}

func TestNewDesignAssetStoreRequiresBucketAndWriter(t *testing.T) {
	if _, err := NewDesignAssetStore(DesignAssetStoreOptions{Writer: (&writerRecorder{}).factory}); err == nil {
		t.Fatalf("expected bucket error")
	}
	if _, err := NewDesignAssetStore(DesignAssetStoreOptions{Bucket: "b"}); err == nil {
		t.Fatalf("expected writer error")
	}
}

func TestDesignAssetStoreDeleteRemovesOwnObjects(t *testing.T) {
	rec := &writerRecorder{}
	store := newTestStore(t, rec, 0)

	if err := store.Delete(context.Background(), "gs://hanko-designs/designs/orders/ord_1/items/itm_1/01UPLOAD-proof.png"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if len(rec.deleted) != 1 || rec.deleted[0] != "hanko-designs/designs/orders/ord_1/items/itm_1/01UPLOAD-proof.png" {
		t.Fatalf("unexpected deletions %v", rec.deleted)
	}

	for _, ref := range []string{"gs://other-bucket/a.png", "https://example.com/a.png", "gs://hanko-designs/"} {
		if err := store.Delete(context.Background(), ref); err == nil {
			t.Fatalf("expected error deleting %q", ref)
		}
	}
	if len(rec.deleted) != 1 {
		t.Fatalf("foreign refs must not be deleted, got %v", rec.deleted)
	}

	bare, err := NewDesignAssetStore(DesignAssetStoreOptions{Bucket: "hanko-designs", Writer: rec.factory})
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	if err := bare.Delete(context.Background(), "gs://hanko-designs/a.png"); err == nil {
		t.Fatalf("expected error without a deleter")
	}
}
