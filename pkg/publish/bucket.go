package publish

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"
)

const metaSuffix = ".meta"

// Bucket is a Sink backed by a local directory.
type Bucket struct {
	dir string
}

// NewBucket opens (creating if needed) the bucket directory.
func NewBucket(dir string) (*Bucket, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create bucket dir: %w", err)
	}
	return &Bucket{dir: dir}, nil
}

// Dir returns the bucket's directory.
func (b *Bucket) Dir() string { return b.dir }

// Put writes obj under name, replacing any previous version.
func (b *Bucket) Put(ctx context.Context, name string, obj Object) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	path, err := b.path(name)
	if err != nil {
		return err
	}

	if obj.ModTime.IsZero() {
		obj.ModTime = time.Now().UTC()
	}
	if obj.ETag == "" {
		obj.ETag = ETag(obj.Body)
	}
	obj.Size = len(obj.Body)

	meta, err := json.Marshal(obj)
	if err != nil {
		return fmt.Errorf("failed to marshal object metadata: %w", err)
	}

	// Body first so the metadata never describes a body that is not there yet.
	if err := writeFileAtomic(path, obj.Body); err != nil {
		return fmt.Errorf("failed to write object %s: %w", name, err)
	}
	if err := writeFileAtomic(path+metaSuffix, meta); err != nil {
		return fmt.Errorf("failed to write object metadata %s: %w", name, err)
	}
	return nil
}

// Get reads the object stored under name.
func (b *Bucket) Get(ctx context.Context, name string) (Object, error) {
	if err := ctx.Err(); err != nil {
		return Object{}, err
	}
	path, err := b.path(name)
	if err != nil {
		return Object{}, err
	}

	meta, err := os.ReadFile(path + metaSuffix)
	if errors.Is(err, fs.ErrNotExist) {
		return Object{}, ErrObjectNotFound
	}
	if err != nil {
		return Object{}, fmt.Errorf("failed to read object metadata %s: %w", name, err)
	}

	var obj Object
	if err := json.Unmarshal(meta, &obj); err != nil {
		return Object{}, fmt.Errorf("corrupt object metadata %s: %w", name, err)
	}

	obj.Body, err = os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return Object{}, ErrObjectNotFound
	}
	if err != nil {
		return Object{}, fmt.Errorf("failed to read object %s: %w", name, err)
	}
	return obj, nil
}

func (b *Bucket) path(name string) (string, error) {
	if name == "" || name == "." || name == ".." ||
		strings.ContainsAny(name, `/\`) || strings.HasSuffix(name, metaSuffix) {
		return "", fmt.Errorf("invalid object name %q", name)
	}
	return filepath.Join(b.dir, name), nil
}

func writeFileAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-"+filepath.Base(path)+"-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return err
	}
	return nil
}
