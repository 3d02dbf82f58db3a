// Package storefs stores printed artifacts on the local filesystem.
package storefs

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"io/fs"
	"mime"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/goliatone/go-pageprint/export"
	"gopkg.in/yaml.v3"
)

const metaSuffix = ".meta.yaml"

// Sink is a filesystem-backed print sink. Writes land in a temp file that is
// renamed into place, so readers never observe a partial artifact.
type Sink struct {
	Root string
	Now  func() time.Time
}

// NewSink creates a filesystem-backed print sink rooted at root.
func NewSink(root string) *Sink {
	return &Sink{Root: root, Now: time.Now}
}

type sidecar struct {
	Filename    string    `yaml:"filename"`
	ContentType string    `yaml:"content_type"`
	Size        int64     `yaml:"size"`
	Pages       int       `yaml:"pages,omitempty"`
	CreatedAt   time.Time `yaml:"created_at"`
}

// Put stores an artifact under key.
func (s *Sink) Put(ctx context.Context, key string, r io.Reader, meta export.ArtifactMeta) (export.ArtifactRef, error) {
	target, err := s.resolve(ctx, key)
	if err != nil {
		return export.ArtifactRef{}, err
	}
	if r == nil {
		return export.ArtifactRef{}, export.NewError(export.KindValidation, "artifact reader is required", nil)
	}

	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return export.ArtifactRef{}, export.NewError(export.KindInternal, "create artifact dir", err)
	}
	size, err := writeAtomic(target, r)
	if err != nil {
		return export.ArtifactRef{}, export.NewError(export.KindInternal, "write artifact", err)
	}

	meta.Size = size
	if meta.CreatedAt.IsZero() {
		meta.CreatedAt = s.now()
	}
	if meta.ContentType == "" {
		meta.ContentType = mime.TypeByExtension(filepath.Ext(target))
	}
	if meta.Filename == "" {
		meta.Filename = filepath.Base(target)
	}

	payload, err := yaml.Marshal(sidecar{
		Filename:    meta.Filename,
		ContentType: meta.ContentType,
		Size:        meta.Size,
		Pages:       meta.Pages,
		CreatedAt:   meta.CreatedAt,
	})
	if err != nil {
		return export.ArtifactRef{}, export.NewError(export.KindInternal, "encode artifact meta", err)
	}
	if _, err := writeAtomic(target+metaSuffix, bytes.NewReader(payload)); err != nil {
		return export.ArtifactRef{}, export.NewError(export.KindInternal, "write artifact meta", err)
	}

	return export.ArtifactRef{Key: cleanKey(key), Meta: meta}, nil
}

// Open reads an artifact from disk.
func (s *Sink) Open(ctx context.Context, key string) (io.ReadCloser, export.ArtifactMeta, error) {
	target, err := s.resolve(ctx, key)
	if err != nil {
		return nil, export.ArtifactMeta{}, err
	}

	file, err := os.Open(target)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, export.ArtifactMeta{}, export.NewError(export.KindNotFound, fmt.Sprintf("artifact %q not found", key), err)
		}
		return nil, export.ArtifactMeta{}, export.NewError(export.KindInternal, "open artifact", err)
	}

	meta := s.stat(target, file)
	return file, meta, nil
}

// Delete removes an artifact and its metadata. Missing artifacts are ignored.
func (s *Sink) Delete(ctx context.Context, key string) error {
	target, err := s.resolve(ctx, key)
	if err != nil {
		return err
	}
	_ = os.Remove(target)
	_ = os.Remove(target + metaSuffix)
	return nil
}

// List returns every artifact under the root, oldest first.
func (s *Sink) List(ctx context.Context) ([]export.ArtifactRef, error) {
	if err := s.check(ctx); err != nil {
		return nil, err
	}
	root, err := filepath.Abs(s.Root)
	if err != nil {
		return nil, export.NewError(export.KindInternal, "resolve sink root", err)
	}

	refs := []export.ArtifactRef{}
	err = filepath.WalkDir(root, func(p string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			if os.IsNotExist(walkErr) && p == root {
				return filepath.SkipDir
			}
			return walkErr
		}
		if d.IsDir() || strings.HasSuffix(p, metaSuffix) || strings.HasPrefix(d.Name(), ".") {
			return nil
		}
		rel, err := filepath.Rel(root, p)
		if err != nil {
			return err
		}
		refs = append(refs, export.ArtifactRef{
			Key:  filepath.ToSlash(rel),
			Meta: s.stat(p, nil),
		})
		return nil
	})
	if err != nil {
		return nil, export.NewError(export.KindInternal, "list artifacts", err)
	}

	sort.SliceStable(refs, func(i, j int) bool {
		if refs[i].Meta.CreatedAt.Equal(refs[j].Meta.CreatedAt) {
			return refs[i].Key < refs[j].Key
		}
		return refs[i].Meta.CreatedAt.Before(refs[j].Meta.CreatedAt)
	})
	return refs, nil
}

func (s *Sink) check(ctx context.Context) error {
	if s == nil {
		return export.NewError(export.KindInternal, "sink is nil", nil)
	}
	if ctx != nil {
		if err := ctx.Err(); err != nil {
			return err
		}
	}
	if strings.TrimSpace(s.Root) == "" {
		return export.NewError(export.KindValidation, "sink root is required", nil)
	}
	return nil
}

func (s *Sink) resolve(ctx context.Context, key string) (string, error) {
	if err := s.check(ctx); err != nil {
		return "", err
	}
	if strings.TrimSpace(key) == "" {
		return "", export.NewError(export.KindValidation, "artifact key is required", nil)
	}
	rel := cleanKey(key)
	if rel == "" || strings.HasSuffix(rel, metaSuffix) {
		return "", export.NewError(export.KindValidation, "invalid artifact key", nil)
	}

	root, err := filepath.Abs(s.Root)
	if err != nil {
		return "", export.NewError(export.KindInternal, "resolve sink root", err)
	}
	target := filepath.Join(root, filepath.FromSlash(rel))
	within, err := filepath.Rel(root, target)
	if err != nil || within == "." || within == ".." || strings.HasPrefix(within, ".."+string(filepath.Separator)) {
		return "", export.NewError(export.KindValidation, "artifact key escapes root", err)
	}
	return target, nil
}

func (s *Sink) stat(target string, file *os.File) export.ArtifactMeta {
	meta := readSidecar(target)
	if meta.ContentType == "" {
		meta.ContentType = mime.TypeByExtension(filepath.Ext(target))
	}
	if meta.Filename == "" {
		meta.Filename = filepath.Base(target)
	}
	if meta.Size == 0 || meta.CreatedAt.IsZero() {
		var info os.FileInfo
		var err error
		if file != nil {
			info, err = file.Stat()
		} else {
			info, err = os.Stat(target)
		}
		if err == nil {
			if meta.Size == 0 {
				meta.Size = info.Size()
			}
			if meta.CreatedAt.IsZero() {
				meta.CreatedAt = info.ModTime()
			}
		}
	}
	return meta
}

func (s *Sink) now() time.Time {
	if s.Now == nil {
		return time.Now()
	}
	return s.Now()
}

func readSidecar(target string) export.ArtifactMeta {
	data, err := os.ReadFile(target + metaSuffix)
	if err != nil {
		return export.ArtifactMeta{}
	}
	var sc sidecar
	if err := yaml.Unmarshal(data, &sc); err != nil {
		return export.ArtifactMeta{}
	}
	return export.ArtifactMeta{
		Filename:    sc.Filename,
		ContentType: sc.ContentType,
		Size:        sc.Size,
		Pages:       sc.Pages,
		CreatedAt:   sc.CreatedAt,
	}
}

func writeAtomic(target string, r io.Reader) (int64, error) {
	tmp, err := os.CreateTemp(filepath.Dir(target), ".pageprint-*")
	if err != nil {
		return 0, err
	}
	defer func() {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
	}()

	size, err := io.Copy(tmp, r)
	if err != nil {
		return 0, err
	}
	if err := tmp.Sync(); err != nil {
		return 0, err
	}
	if err := tmp.Close(); err != nil {
		return 0, err
	}
	return size, os.Rename(tmp.Name(), target)
}

func cleanKey(key string) string {
	return strings.TrimPrefix(path.Clean("/"+strings.TrimSpace(key)), "/")
}
