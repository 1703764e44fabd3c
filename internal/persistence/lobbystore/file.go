package lobbystore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/zstd"
)

// FileBackend keeps each lobby as <dir>/<lobby>.json.zst. Writes go to a temp file
// in the same directory and are renamed into place.
type FileBackend struct {
	Dir string
}

func NewFileBackend(dir string) (*FileBackend, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	return &FileBackend{Dir: dir}, nil
}

func (b *FileBackend) Path(lobbyID string) string {
	return filepath.Join(b.Dir, lobbyID+".json.zst")
}

func (b *FileBackend) Read(_ context.Context, lobbyID string) ([]byte, error) {
	f, err := os.Open(b.Path(lobbyID))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	defer f.Close()
	raw, err := ReadCompressed(f)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	return raw, nil
}

// ReadCompressed decodes one zstd-compressed record.
func ReadCompressed(r io.Reader) ([]byte, error) {
	dec, err := zstd.NewReader(r)
	if err != nil {
		return nil, err
	}
	defer dec.Close()
	return io.ReadAll(dec)
}

func (b *FileBackend) Write(_ context.Context, lobbyID string, data []byte) error {
	tmp, err := os.CreateTemp(b.Dir, "."+lobbyID+".*.tmp")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	cleanup := func() {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
	}

	enc, err := zstd.NewWriter(tmp, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		cleanup()
		return err
	}
	if _, err := enc.Write(data); err != nil {
		_ = enc.Close()
		cleanup()
		return err
	}
	if err := enc.Close(); err != nil {
		cleanup()
		return err
	}
	if err := tmp.Sync(); err != nil {
		cleanup()
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return err
	}
	if err := os.Rename(tmpPath, b.Path(lobbyID)); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("rename: %w", err)
	}
	return nil
}
