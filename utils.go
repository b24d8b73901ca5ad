package yoloprep

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/afero"
)

// ImageExtensions are the image file extensions (lower case, with the dot) recognised in a
// dataset's image directory. Matching is case-insensitive.
var ImageExtensions = []string{".jpg", ".jpeg", ".png", ".bmp", ".webp"}

// isImageFile reports whether name has one of the ImageExtensions.
func isImageFile(name string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	for _, v := range ImageExtensions {
		if ext == v {
			return true
		}
	}
	return false
}

// filesInDir returns the paths of all regular files (or symlinks) directly in dirPath for which
// keep returns true, sorted by file name.
func filesInDir(fs afero.Fs, dirPath string, keep func(name string) bool) ([]string, error) {
	entries, err := afero.ReadDir(fs, dirPath)
	if err != nil {
		return nil, errors.Wrapf(err, "cannot read directory %q", dirPath)
	}

	files := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.Mode().IsRegular() && e.Mode()&os.ModeSymlink == 0 {
			continue
		}
		if !keep(e.Name()) {
			continue
		}
		files = append(files, filepath.Join(dirPath, e.Name()))
	}

	return files, nil
}

// filesByExtInDir returns all regular files with file extension ext found directly in directory
// dirPath. All files are returned if extension is empty.
func filesByExtInDir(fs afero.Fs, dirPath, ext string) ([]string, error) {
	return filesInDir(fs, dirPath, func(name string) bool {
		return strings.HasSuffix(name, ext)
	})
}

// imageFilesInDir returns all files in dirPath with one of the ImageExtensions.
func imageFilesInDir(fs afero.Fs, dirPath string) ([]string, error) {
	return filesInDir(fs, dirPath, isImageFile)
}

// splitPath splits the given file path into the dir name, the base name without extension and the
// extension (without the dot).
func splitPath(path string) (dir, baseNoExt, ext string, err error) {
	dir, file := filepath.Split(path)
	ext = filepath.Ext(file)
	if ext == "" {
		return "", "", "", fmt.Errorf("missing file extension in %q", path)
	}

	dir = strings.TrimSuffix(dir, string(os.PathSeparator))
	baseNoExt = file[0 : len(file)-len(ext)]
	ext = ext[1:]

	return dir, baseNoExt, ext, nil
}

// stem is the base name of path without its extension.
func stem(path string) string {
	base := filepath.Base(path)
	return base[:len(base)-len(filepath.Ext(base))]
}

// stemSet maps the stems of the given file paths to the paths.
func stemSet(paths []string) map[string][]string {
	set := make(map[string][]string, len(paths))
	for _, p := range paths {
		s := stem(p)
		set[s] = append(set[s], p)
	}
	return set
}

// findImageByStem looks for an image named baseNoExt with one of the ImageExtensions in
// imageDir. Returns "" if there is none.
func findImageByStem(fs afero.Fs, imageDir, baseNoExt string) string {
	images, err := imageFilesInDir(fs, imageDir)
	if err != nil {
		log.WithError(err).Debug("No image directory to probe")
		return ""
	}
	for _, p := range images {
		if stem(p) == baseNoExt {
			return p
		}
	}
	return ""
}

// copyFile copies src to dst, overwriting dst, and carries over the permission bits and the
// modification time.
func copyFile(fs afero.Fs, src, dst string) (err error) {
	info, err := fs.Stat(src)
	if err != nil {
		return err
	}

	in, err := fs.Open(src)
	if err != nil {
		return err
	}
	defer closeWithErrCheck(in, &err)

	out, err := fs.OpenFile(dst, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, info.Mode().Perm())
	if err != nil {
		return err
	}
	if _, err = io.Copy(out, in); err != nil {
		_ = out.Close()
		return errors.Wrapf(err, "failed to copy %q to %q", src, dst)
	}
	if err = out.Close(); err != nil {
		return err
	}

	if err = fs.Chmod(dst, info.Mode().Perm()); err != nil {
		return err
	}
	return fs.Chtimes(dst, info.ModTime(), info.ModTime())
}

// writeLines writes lines to path, each terminated by a newline.
func writeLines(fs afero.Fs, path string, lines []string) error {
	var b strings.Builder
	for _, l := range lines {
		b.WriteString(l)
		b.WriteByte('\n')
	}
	if err := afero.WriteFile(fs, path, []byte(b.String()), 0644); err != nil {
		return errors.Wrapf(err, "cannot write file %q", path)
	}
	return nil
}

// closeWithErrCheck calls c.Close(). If it returns an error, and (*e == nil), e is set to that
// error.
func closeWithErrCheck(c io.Closer, e *error) {
	err := c.Close()
	if err != nil && *e == nil {
		*e = err
	}
}
