// Package imagestore persists linked wBPF images as JSON files.
package imagestore

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/datenlord/wbpf-userspace/domain/entities"
	"github.com/datenlord/wbpf-userspace/domain/ports"
)

// Extension is appended to image names to form file names.
const Extension = ".image.json"

// fileStoreConfig holds configuration for the FileStore.
type fileStoreConfig struct {
	dir      string
	dirPerm  os.FileMode
	filePerm os.FileMode
}

func defaultFileStoreConfig() fileStoreConfig {
	return fileStoreConfig{
		dir:      ".",
		dirPerm:  0o755,
		filePerm: 0o644,
	}
}

// FileStoreOption configures a FileStore instance.
type FileStoreOption func(*fileStoreConfig)

// WithDir sets the directory images are stored in.
func WithDir(dir string) FileStoreOption {
	return func(c *fileStoreConfig) {
		c.dir = dir
	}
}

// WithFilePermissions sets the permissions of written image files.
func WithFilePermissions(perm os.FileMode) FileStoreOption {
	return func(c *fileStoreConfig) {
		c.filePerm = perm
	}
}

// WithDirPermissions sets the permissions of a created store directory.
func WithDirPermissions(perm os.FileMode) FileStoreOption {
	return func(c *fileStoreConfig) {
		c.dirPerm = perm
	}
}

// FileStore keeps one JSON file per image in a directory.
type FileStore struct {
	config fileStoreConfig
}

// NewFileStore creates a new FileStore with the given options.
func NewFileStore(opts ...FileStoreOption) ports.ImageStore {
	cfg := defaultFileStoreConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	return &FileStore{config: cfg}
}

func (s *FileStore) path(name string) (string, error) {
	if name == "" || strings.ContainsAny(name, `/\`) || name == "." || name == ".." {
		return "", fmt.Errorf("invalid image name %q", name)
	}
	return filepath.Join(s.config.dir, name+Extension), nil
}

// Load reads the named image.
func (s *FileStore) Load(name string) (*entities.Image, error) {
	path, err := s.path(name)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read image %s: %w", name, err)
	}
	return Decode(data)
}

// Save writes img under name, replacing an existing image.
func (s *FileStore) Save(name string, img *entities.Image) error {
	path, err := s.path(name)
	if err != nil {
		return err
	}
	data, err := Encode(img)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(s.config.dir, s.config.dirPerm); err != nil {
		return fmt.Errorf("create image directory: %w", err)
	}
	if err := os.WriteFile(path, data, s.config.filePerm); err != nil {
		return fmt.Errorf("write image %s: %w", name, err)
	}
	return nil
}

// List returns the names of all stored images, sorted.
func (s *FileStore) List() ([]string, error) {
	entries, err := os.ReadDir(s.config.dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("list images: %w", err)
	}
	var names []string
	for _, e := range entries {
		if name, ok := strings.CutSuffix(e.Name(), Extension); ok && !e.IsDir() {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names, nil
}

// Encode serializes an image.
func Encode(img *entities.Image) ([]byte, error) {
	if img == nil {
		return nil, fmt.Errorf("encode image: nil image")
	}
	data, err := json.MarshalIndent(img, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode image: %w", err)
	}
	return data, nil
}

// Decode parses an image and checks that its code is whole instructions.
func Decode(data []byte) (*entities.Image, error) {
	var img entities.Image
	if err := json.Unmarshal(data, &img); err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}
	if len(img.Code) == 0 {
		return nil, fmt.Errorf("decode image: no code")
	}
	if len(img.Code)%entities.InstructionSize != 0 {
		return nil, fmt.Errorf("decode image: code size %d is not a multiple of %d", len(img.Code), entities.InstructionSize)
	}
	return &img, nil
}
