package storage

import (
	"errors"
	"fmt"
	"testing"

	"github.com/minio/minio-go/v7"
)

func TestWrapObjectErrorMapsMissingKeys(t *testing.T) {
	missing := minio.ErrorResponse{Code: "NoSuchKey", Message: "The specified key does not exist."}
	err := wrapObjectError("get object", "sessions/a/cover/1", missing)
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	other := wrapObjectError("get object", "k", fmt.Errorf("connection reset"))
	if errors.Is(other, ErrNotFound) {
		t.Fatalf("expected transport error to stay distinct, got %v", other)
	}
}

func TestNewClientValidatesBucket(t *testing.T) {
	if _, err := NewClient(Config{Endpoint: "localhost:9000", Access: "a", Secret: "b"}); err == nil {
		t.Fatal("expected missing bucket to fail")
	}

	c, err := NewClient(Config{Endpoint: "localhost:9000", Access: "a", Secret: "b", Bucket: "pixelframe"})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	if c.Bucket() != "pixelframe" {
		t.Fatalf("expected bucket pixelframe, got %s", c.Bucket())
	}
}
