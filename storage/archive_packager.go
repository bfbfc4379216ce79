package storage

import (
	"archive/zip"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"stem-splitter/core/models"

	"go.uber.org/zap"
)

// ArchiveName is the file name used inside the workspace and for downloads
const ArchiveName = "stems.zip"

// ArchiveMediaType is the content type of produced archives
const ArchiveMediaType = "application/zip"

// archiveTime is stamped on every entry so identical trees give identical archives
var archiveTime = time.Date(1980, 1, 1, 0, 0, 0, 0, time.UTC)

// Archive is a packaged stem tree living inside a job workspace
type Archive struct {
	Path    string
	Size    int64
	Entries []string
}

// PackagingError is returned when the expected stem directory is missing
type PackagingError struct {
	Dir string
	Err error
}

func (e *PackagingError) Error() string {
	return fmt.Sprintf("stem directory %s unavailable: %v", e.Dir, e.Err)
}

// Unwrap lets callers match models.ErrPackagingFailed
func (e *PackagingError) Unwrap() []error {
	return []error{models.ErrPackagingFailed, e.Err}
}

// stemDirResolver locates the stem directory within a separator output root
type stemDirResolver func(outputRoot, model, audioPath string) string

var stemDirResolvers = map[models.ModelVariant]stemDirResolver{
	models.VariantGeneral: func(outputRoot, _, _ string) string {
		return outputRoot
	},
	models.VariantFineTuned: func(outputRoot, model, audioPath string) string {
		return filepath.Join(outputRoot, model, trackName(audioPath))
	},
}

// ArchivePackager zips separator output into a single archive
type ArchivePackager struct {
	logger *zap.Logger
}

// NewArchivePackager creates a new archive packager
func NewArchivePackager(logger *zap.Logger) *ArchivePackager {
	return &ArchivePackager{logger: logger}
}

// StemDir returns the directory Pack archives for the given variant
func StemDir(variant models.ModelVariant, outputRoot, model, audioPath string) (string, error) {
	resolve, ok := stemDirResolvers[variant]
	if !ok {
		return "", fmt.Errorf("no output layout known for variant %q", variant)
	}
	return resolve(outputRoot, model, audioPath), nil
}

// Pack archives the variant's stem directory into <workspaceDir>/stems.zip
func (p *ArchivePackager) Pack(
	outputRoot string,
	variant models.ModelVariant,
	model string,
	audioPath string,
	workspaceDir string,
) (*Archive, error) {
	dir, err := StemDir(variant, outputRoot, model, audioPath)
	if err != nil {
		return nil, &PackagingError{Dir: outputRoot, Err: err}
	}

	info, err := os.Stat(dir)
	if err != nil {
		return nil, &PackagingError{Dir: dir, Err: err}
	}
	if !info.IsDir() {
		return nil, &PackagingError{Dir: dir, Err: errors.New("not a directory")}
	}

	files, err := collectFiles(dir)
	if err != nil {
		return nil, &PackagingError{Dir: dir, Err: err}
	}

	archivePath := filepath.Join(workspaceDir, ArchiveName)
	if err := writeZip(archivePath, dir, files); err != nil {
		return nil, fmt.Errorf("write archive: %w", err)
	}

	stat, err := os.Stat(archivePath)
	if err != nil {
		return nil, fmt.Errorf("stat archive: %w", err)
	}

	p.logger.Info("archive packaged",
		zap.String("stem_dir", dir),
		zap.Int("entries", len(files)),
		zap.Int64("bytes", stat.Size()),
	)

	return &Archive{
		Path:    archivePath,
		Size:    stat.Size(),
		Entries: files,
	}, nil
}

// ListEntries returns the file entries of a zip archive in stored order
func ListEntries(archivePath string) ([]string, error) {
	r, err := zip.OpenReader(archivePath)
	if err != nil {
		return nil, err
	}
	defer r.Close()

	var entries []string
	for _, f := range r.File {
		if f.FileInfo().IsDir() {
			continue
		}
		entries = append(entries, f.Name)
	}
	return entries, nil
}

// collectFiles returns slash-separated paths of regular files below dir, sorted
func collectFiles(dir string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.Type().IsRegular() {
			return nil
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		files = append(files, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(files)
	return files, nil
}

func writeZip(archivePath, dir string, files []string) (err error) {
	out, err := os.Create(archivePath)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := out.Close(); err == nil {
			err = cerr
		}
	}()

	zw := zip.NewWriter(out)
	for _, name := range files {
		if err := addFile(zw, dir, name); err != nil {
			return fmt.Errorf("add %s: %w", name, err)
		}
	}
	return zw.Close()
}

func addFile(zw *zip.Writer, dir, name string) error {
	src, err := os.Open(filepath.Join(dir, filepath.FromSlash(name)))
	if err != nil {
		return err
	}
	defer src.Close()

	w, err := zw.CreateHeader(&zip.FileHeader{
		Name:     name,
		Method:   zip.Deflate,
		Modified: archiveTime,
	})
	if err != nil {
		return err
	}
	_, err = io.Copy(w, src)
	return err
}

// trackName is the audio file's base name without its extension
func trackName(audioPath string) string {
	base := filepath.Base(audioPath)
	return strings.TrimSuffix(base, filepath.Ext(base))
}
