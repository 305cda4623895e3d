package pipeline

import (
	"context"
	"errors"
	"path"
	"strings"

	"github.com/dunamismax/pixelframe/internal/cover"
	"github.com/dunamismax/pixelframe/internal/storage"
)

type ObjectStoreFetcher struct {
	Storage *storage.Client
}

func (f ObjectStoreFetcher) Fetch(ctx context.Context, key string) ([]byte, error) {
	if f.Storage == nil {
		return nil, errors.New("storage client is required")
	}
	if strings.TrimSpace(key) == "" {
		return nil, errors.New("object key is required")
	}
	return f.Storage.ReadObject(ctx, key)
}

type ObjectStoreEmitter struct {
	Storage      *storage.Client
	OutputPrefix string
}

func (e ObjectStoreEmitter) Emit(ctx context.Context, req Request, name string, data []byte) (string, error) {
	if e.Storage == nil {
		return "", errors.New("storage client is required")
	}

	objectKey := OutputKey(e.OutputPrefix, req.JobID, name)
	if err := e.Storage.WriteObject(ctx, objectKey, data, contentTypeForName(name)); err != nil {
		return "", err
	}
	return objectKey, nil
}

// NewObjectStoreProcessor reads photos and cover templates from the bucket
// and writes exports under outputPrefix.
func NewObjectStoreProcessor(client *storage.Client, templatePrefix, outputPrefix string, cache *cover.TemplateCache) *Processor {
	templates := cover.ObjectSource{Prefix: templatePrefix}
	if client != nil {
		templates.Objects = client
		templates.Bucket = client.Bucket()
	}
	return NewProcessor(
		ObjectStoreFetcher{Storage: client},
		ObjectStoreEmitter{Storage: client, OutputPrefix: outputPrefix},
		templates,
		cache,
	)
}

func OutputKey(prefix, jobID, name string) string {
	return path.Join(defaultOutputPrefix(prefix), sanitizePathToken(jobID), path.Base(name))
}

func defaultOutputPrefix(prefix string) string {
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		return "outputs"
	}
	return prefix
}

func contentTypeForName(name string) string {
	switch strings.ToLower(path.Ext(name)) {
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".webp":
		return "image/webp"
	default:
		return "image/png"
	}
}
