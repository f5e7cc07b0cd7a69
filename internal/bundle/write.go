package bundle

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"howett.net/plist"

	"github.com/vburojevic/roborec/internal/domain"
)

// DefaultCopyWorkers bounds parallel artifact copies.
const DefaultCopyWorkers = 4

// Options configures Write.
type Options struct {
	Format   Format
	Resolver ClassNameResolver
	Workers  int
	Logger   *zap.Logger
}

// Result describes a written bundle.
type Result struct {
	Dir       string `json:"dir"`
	Manifest  string `json:"manifest"`
	Format    Format `json:"format"`
	Entries   int    `json:"entries"`
	Artifacts int    `json:"artifacts"`
}

// Write composes the manifest for log and writes it together with the
// referenced artifacts into dir. Failures are returned as
// *domain.SerializationError; log and store are left untouched so the call
// can be retried with another dir.
func Write(ctx context.Context, dir string, log []*domain.InteractionEvent, store ArtifactLookup, opts Options) (*Result, error) {
	if opts.Format == "" {
		opts.Format = FormatJSON
	}
	if opts.Workers <= 0 {
		opts.Workers = DefaultCopyWorkers
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	entries := Compose(log, store, opts.Resolver)

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, &domain.SerializationError{Path: dir, Err: err}
	}

	copied, err := copyArtifacts(ctx, dir, entries, store, opts.Workers)
	if err != nil {
		return nil, err
	}

	data, err := encode(entries, opts.Format)
	if err != nil {
		return nil, &domain.SerializationError{Path: dir, Err: err}
	}
	manifest := filepath.Join(dir, opts.Format.ManifestName())
	if err := writeFileAtomic(manifest, data); err != nil {
		return nil, &domain.SerializationError{Path: manifest, Err: err}
	}

	logger.Info("bundle written",
		zap.String("dir", dir),
		zap.String("format", string(opts.Format)),
		zap.Int("entries", len(entries)),
		zap.Int("artifacts", copied))

	return &Result{
		Dir:       dir,
		Manifest:  manifest,
		Format:    opts.Format,
		Entries:   len(entries),
		Artifacts: copied,
	}, nil
}

func copyArtifacts(ctx context.Context, dir string, entries []Entry, store ArtifactLookup, workers int) (int, error) {
	var keys []string
	for _, e := range entries {
		if e.Hierarchy != "" {
			keys = append(keys, e.Hierarchy)
		}
		if e.Screenshot != "" {
			keys = append(keys, e.Screenshot)
		}
	}

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for _, key := range keys {
		a, _ := store.Lookup(key)
		dst := filepath.Join(dir, key)
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			if err := copyFile(a.Path, dst); err != nil {
				return &domain.SerializationError{Path: dst, Err: err}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		var se *domain.SerializationError
		if errors.As(err, &se) {
			return 0, err
		}
		return 0, &domain.SerializationError{Path: dir, Err: err}
	}
	return len(keys), nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

func encode(entries []Entry, format Format) ([]byte, error) {
	switch format {
	case FormatJSON:
		data, err := json.MarshalIndent(entries, "", "  ")
		if err != nil {
			return nil, fmt.Errorf("failed to encode manifest: %w", err)
		}
		return append(data, '\n'), nil
	case FormatPlist:
		data, err := plist.MarshalIndent(entries, plist.XMLFormat, "\t")
		if err != nil {
			return nil, fmt.Errorf("failed to encode manifest: %w", err)
		}
		return data, nil
	default:
		return nil, fmt.Errorf("unknown manifest format %q", format)
	}
}

func writeFileAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".manifest-*")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	if err := os.Chmod(tmp.Name(), 0o644); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), path)
}
