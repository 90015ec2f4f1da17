package artifact

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/bytedance/sonic"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/xsbridge/internal/infrastructure/logging"
	"github.com/GriffinCanCode/xsbridge/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/xsbridge/internal/shared/types"
)

// ErrPersist matches every PersistError.
var ErrPersist = errors.New("artifact: persist failed")

// PersistError reports a profile that could not be written. The profile
// itself is untouched, so persisting can be retried.
type PersistError struct {
	Path string
	Op   string
	Err  error
}

func (e *PersistError) Error() string {
	return fmt.Sprintf("persist profile to %s: %s: %v", e.Path, e.Op, e.Err)
}

func (e *PersistError) Unwrap() error { return e.Err }

func (e *PersistError) Is(target error) bool { return target == ErrPersist }

// Compression is the encoding applied to the artifact file.
type Compression int

const (
	CompressionNone Compression = iota
	CompressionGzip
	CompressionZstd
)

// String returns the string representation of the compression
func (c Compression) String() string {
	switch c {
	case CompressionGzip:
		return "gzip"
	case CompressionZstd:
		return "zstd"
	default:
		return "none"
	}
}

// CompressionFor picks the compression from the path's extension.
func CompressionFor(path string) Compression {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".gz":
		return CompressionGzip
	case ".zst":
		return CompressionZstd
	default:
		return CompressionNone
	}
}

var (
	gzipMagic = []byte{0x1f, 0x8b}
	zstdMagic = []byte{0x28, 0xb5, 0x2f, 0xfd}
)

// Encode returns the artifact JSON for profile.
func Encode(profile *types.Profile) ([]byte, error) {
	if profile == nil {
		return nil, errors.New("nil profile")
	}
	if profile.Hits == nil {
		profile = &types.Profile{Hits: []types.Hit{}}
	}
	return sonic.ConfigStd.Marshal(profile)
}

// Writer persists profiles.
type Writer struct {
	logger  *logging.Logger
	metrics *monitoring.Metrics
}

// NewWriter creates a writer. A nil logger or metrics disables that concern.
func NewWriter(logger *logging.Logger, metrics *monitoring.Metrics) *Writer {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Writer{logger: logger.Named("artifact"), metrics: metrics}
}

// Persist writes profile to dest, replacing any existing file.
func (w *Writer) Persist(profile *types.Profile, dest string) error {
	size, err := w.persist(profile, dest)
	if err != nil {
		w.metrics.RecordArtifact("error", 0)
		w.logger.Error("failed to persist profile", zap.String("path", dest), zap.Error(err))
		return err
	}
	w.metrics.RecordArtifact("ok", size)
	w.logger.Info("profile persisted",
		zap.String("path", dest),
		zap.Int("bytes", size),
		zap.Int("hits", len(profile.Hits)))
	return nil
}

func (w *Writer) persist(profile *types.Profile, dest string) (int, error) {
	data, err := Encode(profile)
	if err != nil {
		return 0, &PersistError{Path: dest, Op: "encode", Err: err}
	}

	dir, base := filepath.Split(dest)
	if dir == "" {
		dir = "."
	}
	tmp, err := os.CreateTemp(dir, "."+base+".tmp-*")
	if err != nil {
		return 0, &PersistError{Path: dest, Op: "create", Err: err}
	}
	committed := false
	defer func() {
		if !committed {
			tmp.Close()
			os.Remove(tmp.Name())
		}
	}()

	counter := &countingWriter{w: tmp}
	if err := writeCompressed(counter, data, CompressionFor(dest)); err != nil {
		return 0, &PersistError{Path: dest, Op: "write", Err: err}
	}
	if err := tmp.Sync(); err != nil {
		return 0, &PersistError{Path: dest, Op: "sync", Err: err}
	}
	if err := tmp.Chmod(0o644); err != nil {
		return 0, &PersistError{Path: dest, Op: "chmod", Err: err}
	}
	if err := tmp.Close(); err != nil {
		return 0, &PersistError{Path: dest, Op: "close", Err: err}
	}
	if err := os.Rename(tmp.Name(), dest); err != nil {
		os.Remove(tmp.Name())
		committed = true
		return 0, &PersistError{Path: dest, Op: "rename", Err: err}
	}
	committed = true
	return counter.n, nil
}

func writeCompressed(dst io.Writer, data []byte, compression Compression) error {
	switch compression {
	case CompressionGzip:
		gz := gzip.NewWriter(dst)
		if _, err := gz.Write(data); err != nil {
			gz.Close()
			return err
		}
		return gz.Close()
	case CompressionZstd:
		enc, err := zstd.NewWriter(dst)
		if err != nil {
			return err
		}
		if _, err := enc.Write(data); err != nil {
			enc.Close()
			return err
		}
		return enc.Close()
	default:
		_, err := dst.Write(data)
		return err
	}
}

// Load reads an artifact written by Persist. Compression is detected from
// the file contents.
func Load(path string) (*types.Profile, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read artifact: %w", err)
	}
	data, err := decompress(raw)
	if err != nil {
		return nil, fmt.Errorf("decompress artifact %s: %w", path, err)
	}
	var profile types.Profile
	if err := sonic.Unmarshal(data, &profile); err != nil {
		return nil, fmt.Errorf("parse artifact %s: %w", path, err)
	}
	return &profile, nil
}

func decompress(raw []byte) ([]byte, error) {
	switch {
	case bytes.HasPrefix(raw, gzipMagic):
		gz, err := gzip.NewReader(bytes.NewReader(raw))
		if err != nil {
			return nil, err
		}
		defer gz.Close()
		return io.ReadAll(gz)
	case bytes.HasPrefix(raw, zstdMagic):
		dec, err := zstd.NewReader(nil)
		if err != nil {
			return nil, err
		}
		defer dec.Close()
		return dec.DecodeAll(raw, nil)
	default:
		return raw, nil
	}
}

type countingWriter struct {
	w io.Writer
	n int
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += n
	return n, err
}
