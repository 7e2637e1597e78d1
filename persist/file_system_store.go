package persist

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"southwinds.dev/tether/internal/debug"
	"time"
)

const (
	FilePermissions os.FileMode = 0600
	DirPermissions  os.FileMode = 0700
)

// FileSystemStore implements Store on the local filesystem, one file per record:
//
//	basePath/
//	└── namespace/
//	    ├── store.json            # StoreInfo
//	    └── records/
//	        ├── secure_jules_api_key
//	        └── jules_api_key
type FileSystemStore struct {
	basePath   string
	namespace  string
	rootPath   string // basePath/namespace/
	recordsDir string // basePath/namespace/records/
	infoFile   string // basePath/namespace/store.json
}

var _ Store = (*FileSystemStore)(nil)

// NewFileSystemStore initializes and returns a new instance of FileSystemStore
func NewFileSystemStore(basePath string, namespace string) (*FileSystemStore, error) {
	if namespace == "" {
		namespace = defaultNamespace
	}

	if err := validateNamespace(namespace); err != nil {
		return nil, fmt.Errorf("invalid namespace: %w", err)
	}

	rootPath := filepath.Join(basePath, namespace)

	fs := &FileSystemStore{
		basePath:   basePath,
		namespace:  namespace,
		rootPath:   rootPath,
		recordsDir: filepath.Join(rootPath, "records"),
		infoFile:   filepath.Join(rootPath, "store.json"),
	}

	if err := os.MkdirAll(fs.recordsDir, DirPermissions); err != nil {
		return nil, fmt.Errorf("failed to create directory %s: %w", fs.recordsDir, err)
	}

	if err := fs.initializeStoreInfo(); err != nil {
		return nil, fmt.Errorf("failed to initialize store info: %w", err)
	}

	return fs, nil
}

func (fs *FileSystemStore) initializeStoreInfo() error {
	if _, err := os.Stat(fs.infoFile); os.IsNotExist(err) {
		info := StoreInfo{
			Version:   "1.0.0",
			Namespace: fs.namespace,
			CreatedAt: time.Now().UTC(),
			Structure: "v1",
		}

		data, err := json.MarshalIndent(info, "", "  ")
		if err != nil {
			return err
		}

		return writeSecureFile(fs.infoFile, data, FilePermissions)
	}
	return nil
}

func (fs *FileSystemStore) recordPath(key string) (string, error) {
	if err := ValidateKey(key); err != nil {
		return "", err
	}
	return filepath.Join(fs.recordsDir, key), nil
}

func (fs *FileSystemStore) Get(ctx context.Context, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	path, err := fs.recordPath(key)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to read record %s: %w", key, err)
	}

	debug.Print("FileSystemStore.Get: %s (%d bytes)\n", key, len(data))
	return data, nil
}

func (fs *FileSystemStore) Set(ctx context.Context, key string, value []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	path, err := fs.recordPath(key)
	if err != nil {
		return err
	}

	if err = os.MkdirAll(fs.recordsDir, DirPermissions); err != nil {
		return fmt.Errorf("failed to create records directory: %w", err)
	}

	if err = writeSecureFile(path, value, FilePermissions); err != nil {
		return fmt.Errorf("failed to write record %s: %w", key, err)
	}
	return nil
}

func (fs *FileSystemStore) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	path, err := fs.recordPath(key)
	if err != nil {
		return err
	}

	if err = os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete record %s: %w", key, err)
	}
	return nil
}

func (fs *FileSystemStore) Exists(ctx context.Context, key string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	path, err := fs.recordPath(key)
	if err != nil {
		return false, err
	}
	return fileExists(path)
}

func (fs *FileSystemStore) GetType() string {
	return string(StoreTypeFileSystem)
}

// Ping checks the records directory is still reachable
func (fs *FileSystemStore) Ping(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	info, err := os.Stat(fs.recordsDir)
	if err != nil {
		return fmt.Errorf("records directory unavailable: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("%s is not a directory", fs.recordsDir)
	}
	return nil
}

func (fs *FileSystemStore) Close() error {
	return nil
}

// writeSecureFile writes through a temp file and renames it into place so a
// crash never leaves a half-written envelope behind
func writeSecureFile(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	tmpFile, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmpFile.Name()

	if _, err = tmpFile.Write(data); err != nil {
		_ = tmpFile.Close()
		_ = os.Remove(tmpPath)
		return fmt.Errorf("failed to write to temp file: %w", err)
	}

	if err = tmpFile.Sync(); err != nil {
		_ = tmpFile.Close()
		_ = os.Remove(tmpPath)
		return fmt.Errorf("failed to sync temp file: %w", err)
	}

	if err = tmpFile.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("failed to close temp file: %w", err)
	}

	if err = os.Chmod(tmpPath, perm); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("failed to set permissions: %w", err)
	}

	if err = os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("failed to rename temp file: %w", err)
	}

	return nil
}

func fileExists(path string) (bool, error) {
	_, err := os.Stat(path)
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, err
}
