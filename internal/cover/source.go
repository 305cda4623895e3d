package cover

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"
)

const (
	ManifestFile    = "cover.json"
	TemplatesPrefix = "profile"
)

// TemplateSource supplies the manifest and the template bitmaps it names.
type TemplateSource interface {
	ReadManifest(ctx context.Context) ([]byte, error)
	ReadTemplate(ctx context.Context, name string) ([]byte, error)
	// URL identifies a template for caching; equal URLs mean equal bytes.
	URL(name string) string
}

// DirSource serves templates from a directory tree holding cover.json and
// profile/<name>.
type DirSource struct {
	FS fs.FS
	// Root is used in URLs only, to keep cache keys distinct across roots.
	Root string
}

func (s DirSource) ReadManifest(ctx context.Context) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s.FS == nil {
		return nil, errors.New("template filesystem is required")
	}
	return fs.ReadFile(s.FS, ManifestFile)
}

func (s DirSource) ReadTemplate(ctx context.Context, name string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s.FS == nil {
		return nil, errors.New("template filesystem is required")
	}
	p := path.Join(TemplatesPrefix, name)
	if !fs.ValidPath(p) {
		return nil, fmt.Errorf("invalid template path %q", name)
	}
	return fs.ReadFile(s.FS, p)
}

func (s DirSource) URL(name string) string {
	return "file://" + path.Join(s.Root, TemplatesPrefix, name)
}

// HTTPSource fetches templates hosted under a base URL, laid out like
// DirSource.
type HTTPSource struct {
	BaseURL    string
	HTTPClient *http.Client
}

func (s HTTPSource) ReadManifest(ctx context.Context) ([]byte, error) {
	return s.get(ctx, ManifestFile)
}

func (s HTTPSource) ReadTemplate(ctx context.Context, name string) ([]byte, error) {
	return s.get(ctx, path.Join(TemplatesPrefix, name))
}

func (s HTTPSource) URL(name string) string {
	u, err := s.resolve(path.Join(TemplatesPrefix, name))
	if err != nil {
		return ""
	}
	return u
}

func (s HTTPSource) resolve(rel string) (string, error) {
	base, err := url.Parse(strings.TrimRight(s.BaseURL, "/") + "/")
	if err != nil {
		return "", fmt.Errorf("parse template base url: %w", err)
	}
	ref, err := url.Parse(rel)
	if err != nil {
		return "", fmt.Errorf("parse template path: %w", err)
	}
	return base.ResolveReference(ref).String(), nil
}

func (s HTTPSource) get(ctx context.Context, rel string) ([]byte, error) {
	if strings.TrimSpace(s.BaseURL) == "" {
		return nil, errors.New("template base url is required")
	}
	target, err := s.resolve(rel)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, fmt.Errorf("build template request: %w", err)
	}

	client := s.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", target, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("fetch %s: unexpected status %d", target, resp.StatusCode)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxTemplateBytes))
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", target, err)
	}
	return data, nil
}

type ObjectReader interface {
	ReadObject(ctx context.Context, objectKey string) ([]byte, error)
}

// ObjectSource reads templates from object storage under Prefix
// (default "templates").
type ObjectSource struct {
	Objects ObjectReader
	Bucket  string
	Prefix  string
}

func (s ObjectSource) ReadManifest(ctx context.Context) ([]byte, error) {
	if s.Objects == nil {
		return nil, errors.New("object reader is required")
	}
	return s.Objects.ReadObject(ctx, s.key(ManifestFile))
}

func (s ObjectSource) ReadTemplate(ctx context.Context, name string) ([]byte, error) {
	if s.Objects == nil {
		return nil, errors.New("object reader is required")
	}
	return s.Objects.ReadObject(ctx, s.key(path.Join(TemplatesPrefix, name)))
}

func (s ObjectSource) URL(name string) string {
	return "s3://" + path.Join(s.Bucket, s.key(path.Join(TemplatesPrefix, name)))
}

func (s ObjectSource) key(rel string) string {
	prefix := strings.Trim(strings.TrimSpace(s.Prefix), "/")
	if prefix == "" {
		prefix = "templates"
	}
	return path.Join(prefix, rel)
}
