package archive

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// FSStore keeps archive objects as files under a root directory, with a
// `.meta` sidecar per object carrying content type and user metadata. Writes
// stream to a temp file and rename into place.
type FSStore struct {
	root string
}

// NewFSStore returns a filesystem archive rooted at path, creating it if
// needed.
func NewFSStore(root string) (*FSStore, error) {
	if root == "" {
		root = "./dbio-archive"
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, err
	}
	return &FSStore{root: root}, nil
}

func (s *FSStore) Driver() Driver { return DriverFilesystem }

// sanitizeKey rejects keys that would escape the root.
func sanitizeKey(key string) (string, error) {
	if strings.TrimSpace(key) == "" {
		return "", fmt.Errorf("empty archive key")
	}
	if strings.HasPrefix(key, "/") || strings.Contains(key, "..") {
		return "", fmt.Errorf("invalid archive key %q", key)
	}
	clean := filepath.ToSlash(filepath.Clean(key))
	if strings.HasPrefix(clean, "..") {
		return "", fmt.Errorf("invalid archive key %q", key)
	}
	return clean, nil
}

func (s *FSStore) pathFor(key string) (dataPath, metaPath string, err error) {
	k, err := sanitizeKey(key)
	if err != nil {
		return "", "", err
	}
	dataPath = filepath.Join(s.root, k)
	return dataPath, dataPath + ".meta", nil
}

type metaFile struct {
	ContentType string            `json:"content_type,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
	ETag        string            `json:"etag"`
	Size        int64             `json:"size"`
	CreatedAt   time.Time         `json:"created_at"`
}

func (s *FSStore) Put(ctx context.Context, key string, r io.Reader, opts PutOptions) (ObjectInfo, error) {
	dataPath, metaPath, err := s.pathFor(key)
	if err != nil {
		return ObjectInfo{}, err
	}
	if _, err := os.Stat(dataPath); err == nil {
		return ObjectInfo{}, fmt.Errorf("archive object %s already exists", key)
	}
	if err := os.MkdirAll(filepath.Dir(dataPath), 0o755); err != nil {
		return ObjectInfo{}, err
	}
	tmp, err := os.CreateTemp(filepath.Dir(dataPath), ".tmp-*")
	if err != nil {
		return ObjectInfo{}, err
	}
	defer func() { _ = os.Remove(tmp.Name()) }()
	h := sha256.New()
	size, err := io.Copy(io.MultiWriter(tmp, h), r)
	if err != nil {
		_ = tmp.Close()
		return ObjectInfo{}, err
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return ObjectInfo{}, err
	}
	if err := tmp.Close(); err != nil {
		return ObjectInfo{}, err
	}
	if err := os.Rename(tmp.Name(), dataPath); err != nil {
		return ObjectInfo{}, err
	}
	etag := hex.EncodeToString(h.Sum(nil))
	now := time.Now().UTC()
	mf := metaFile{ContentType: opts.ContentType, Metadata: cloneMetadata(opts.Metadata), ETag: etag, Size: size, CreatedAt: now}
	raw, err := json.MarshalIndent(mf, "", "  ")
	if err != nil {
		return ObjectInfo{}, err
	}
	if err := os.WriteFile(metaPath, raw, 0o644); err != nil {
		return ObjectInfo{}, err
	}
	return ObjectInfo{Key: key, Size: size, ContentType: opts.ContentType, ETag: etag, Metadata: cloneMetadata(opts.Metadata), LastModified: now, URL: s.localURL(key)}, nil
}

func (s *FSStore) Get(ctx context.Context, key string) (ObjectInfo, io.ReadCloser, error) {
	dataPath, metaPath, err := s.pathFor(key)
	if err != nil {
		return ObjectInfo{}, nil, err
	}
	file, err := os.Open(dataPath)
	if err != nil {
		return ObjectInfo{}, nil, err
	}
	mf, err := readMeta(metaPath)
	if err != nil {
		_ = file.Close()
		return ObjectInfo{}, nil, err
	}
	return s.infoFrom(key, mf), file, nil
}

func (s *FSStore) Head(ctx context.Context, key string) (ObjectInfo, error) {
	_, metaPath, err := s.pathFor(key)
	if err != nil {
		return ObjectInfo{}, err
	}
	mf, err := readMeta(metaPath)
	if err != nil {
		return ObjectInfo{}, err
	}
	return s.infoFrom(key, mf), nil
}

func (s *FSStore) Delete(ctx context.Context, key string) (bool, error) {
	dataPath, metaPath, err := s.pathFor(key)
	if err != nil {
		return false, err
	}
	if _, err := os.Stat(dataPath); errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err := os.Remove(dataPath); err != nil {
		return false, err
	}
	_ = os.Remove(metaPath)
	return true, nil
}

func (s *FSStore) List(ctx context.Context, prefix string) ([]ObjectInfo, error) {
	var infos []ObjectInfo
	err := filepath.WalkDir(s.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !strings.HasSuffix(path, ".meta") {
			return nil
		}
		mf, err := readMeta(path)
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(s.root, strings.TrimSuffix(path, ".meta"))
		if err != nil {
			return err
		}
		key := filepath.ToSlash(rel)
		if prefix == "" || strings.HasPrefix(key, prefix) {
			infos = append(infos, s.infoFrom(key, mf))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Key < infos[j].Key })
	return infos, nil
}

// PresignURL returns a pseudo local URL; there is no auth on the filesystem
// driver.
func (s *FSStore) PresignURL(ctx context.Context, key string, opts SignedURLOptions) (string, error) {
	if opts.Method != "" && !strings.EqualFold(opts.Method, "GET") {
		return "", ErrUnsupported
	}
	return s.localURL(key), nil
}

func (s *FSStore) localURL(key string) string {
	return (&url.URL{Scheme: "http", Host: "local.archive", Path: "/" + key}).String()
}

func (s *FSStore) infoFrom(key string, mf metaFile) ObjectInfo {
	return ObjectInfo{Key: key, Size: mf.Size, ContentType: mf.ContentType, ETag: mf.ETag, Metadata: cloneMetadata(mf.Metadata), LastModified: mf.CreatedAt, URL: s.localURL(key)}
}

func readMeta(path string) (metaFile, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return metaFile{}, err
	}
	var mf metaFile
	if err := json.Unmarshal(raw, &mf); err != nil {
		return metaFile{}, err
	}
	return mf, nil
}
