package catalog

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"strconv"
	"strings"

	"arctic-iceberg/storage"
)

const versionHintFile = "version-hint.text"

// FileStore keeps metadata as versioned files in object storage:
// {table}/metadata/v{N}.metadata.json plus a version-hint.text pointing at
// the latest N. Versions are created exclusively, so the first writer of
// v{N+1} wins and every other swap from v{N} fails. The version file is the
// commit; the hint only speeds up Load.
type FileStore struct {
	storage storage.Storage
	logger  *slog.Logger
}

func NewFileStore(s storage.Storage) *FileStore {
	return &FileStore{storage: s, logger: slog.Default().With("component", "file-store")}
}

func metadataDir(name string) string {
	return path.Join(name, "metadata")
}

func versionPath(name string, version int64) string {
	return path.Join(metadataDir(name), fmt.Sprintf("v%d.metadata.json", version))
}

func (s *FileStore) Load(ctx context.Context, name string) ([]byte, int64, error) {
	version, err := s.latestVersion(ctx, name)
	if err != nil {
		return nil, 0, err
	}
	doc, err := storage.ReadAll(ctx, s.storage, versionPath(name, version))
	if err != nil {
		return nil, 0, fmt.Errorf("reading metadata v%d of %s: %w", version, name, err)
	}
	return doc, version, nil
}

// latestVersion starts from the hint and probes forward, since the hint is
// written after the version file and may lag behind.
func (s *FileStore) latestVersion(ctx context.Context, name string) (int64, error) {
	version := int64(1)
	hint, err := storage.ReadAll(ctx, s.storage, path.Join(metadataDir(name), versionHintFile))
	switch {
	case err == nil:
		if v, perr := strconv.ParseInt(strings.TrimSpace(string(hint)), 10, 64); perr == nil && v > 0 {
			version = v
		}
	case !errors.Is(err, storage.ErrNotFound):
		return 0, fmt.Errorf("reading version hint of %s: %w", name, err)
	}

	exists, err := s.storage.Exists(ctx, versionPath(name, version))
	if err != nil {
		return 0, err
	}
	if !exists {
		if version == 1 {
			return 0, fmt.Errorf("%s: %w", name, ErrNoSuchTable)
		}
		return 0, fmt.Errorf("version hint of %s points at missing v%d", name, version)
	}

	for {
		next, err := s.storage.Exists(ctx, versionPath(name, version+1))
		if err != nil {
			return 0, err
		}
		if !next {
			return version, nil
		}
		version++
	}
}

func (s *FileStore) Create(ctx context.Context, name string, doc []byte) error {
	if err := s.storage.Create(ctx, versionPath(name, 1), bytes.NewReader(doc)); err != nil {
		if errors.Is(err, storage.ErrExists) {
			return fmt.Errorf("%s: %w", name, ErrTableExists)
		}
		return fmt.Errorf("writing metadata v1 of %s: %w", name, err)
	}
	s.writeHint(ctx, name, 1)
	return nil
}

func (s *FileStore) Swap(ctx context.Context, name string, expected int64, doc []byte) error {
	exists, err := s.storage.Exists(ctx, versionPath(name, expected))
	if err != nil {
		return err
	}
	if !exists {
		return fmt.Errorf("%s has no v%d: %w", name, expected, ErrNoSuchTable)
	}
	next := expected + 1
	if err := s.storage.Create(ctx, versionPath(name, next), bytes.NewReader(doc)); err != nil {
		if errors.Is(err, storage.ErrExists) {
			return fmt.Errorf("%s v%d already written: %w", name, next, ErrVersionMismatch)
		}
		return fmt.Errorf("writing metadata v%d of %s: %w", next, name, err)
	}
	s.writeHint(ctx, name, next)
	return nil
}

// writeHint points the hint at version. A failure leaves the hint behind,
// which latestVersion probes past.
func (s *FileStore) writeHint(ctx context.Context, name string, version int64) {
	hint := strings.NewReader(strconv.FormatInt(version, 10))
	if err := s.storage.Write(ctx, path.Join(metadataDir(name), versionHintFile), hint); err != nil {
		s.logger.Warn("failed to write version hint", "table", name, "version", version, "error", err)
	}
}

func (s *FileStore) List(ctx context.Context) ([]string, error) {
	files, err := s.storage.List(ctx, "")
	if err != nil {
		return nil, err
	}
	var names []string
	suffix := "/metadata/v1.metadata.json"
	for _, f := range files {
		if name, ok := strings.CutSuffix(f, suffix); ok && name != "" {
			names = append(names, name)
		}
	}
	return names, nil
}
