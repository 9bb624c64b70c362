package attachments

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"tasklane/domain"
)

// ErrInvalidRef is returned for references this store never handed out.
var ErrInvalidRef = errors.New("invalid attachment reference")

const maxExtLen = 10

// FS keeps attachments as flat files under a root directory. References are
// a random uuid plus the original file extension.
type FS struct {
	root    string
	maxSize int64
}

func NewFS(root string, maxSize int64) (*FS, error) {
	if err := os.MkdirAll(root, 0o750); err != nil {
		return nil, fmt.Errorf("create attachment dir: %w", err)
	}
	return &FS{root: root, maxSize: maxSize}, nil
}

func (s *FS) Save(ctx context.Context, filename string, r io.Reader) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	ref := uuid.NewString() + safeExt(filename)
	f, err := os.OpenFile(filepath.Join(s.root, ref), os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o640)
	if err != nil {
		return "", err
	}
	src := r
	if s.maxSize > 0 {
		src = io.LimitReader(r, s.maxSize+1)
	}
	n, err := io.Copy(f, src)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err == nil && s.maxSize > 0 && n > s.maxSize {
		err = domain.NewValidationError("file", fmt.Sprintf("exceeds %d bytes", s.maxSize))
	}
	if err != nil {
		_ = os.Remove(filepath.Join(s.root, ref))
		return "", err
	}
	return ref, nil
}

func (s *FS) Open(ctx context.Context, ref string) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !validRef(ref) {
		return nil, ErrInvalidRef
	}
	f, err := os.Open(filepath.Join(s.root, ref))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	return f, nil
}

func safeExt(name string) string {
	ext := strings.ToLower(filepath.Ext(filepath.Base(name)))
	if len(ext) < 2 || len(ext) > maxExtLen {
		return ""
	}
	for _, r := range ext[1:] {
		if (r < 'a' || r > 'z') && (r < '0' || r > '9') {
			return ""
		}
	}
	return ext
}

func validRef(ref string) bool {
	ext := filepath.Ext(ref)
	if ext != "" && safeExt(ref) != ext {
		return false
	}
	id := strings.TrimSuffix(ref, ext)
	parsed, err := uuid.Parse(id)
	return err == nil && parsed.String() == id
}
