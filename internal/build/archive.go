package build

import (
	"archive/tar"
	"compress/gzip"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// Pack упаковывает содержимое каталога dir в tar.gz архив dst.
// Пути внутри архива относительны dir.
func Pack(dir, dst string) error {
	out, err := os.Create(dst)
	if err != nil {
		return fmt.Errorf("create archive: %w", err)
	}
	defer out.Close()

	gz := gzip.NewWriter(out)
	tw := tar.NewWriter(gz)

	err = filepath.WalkDir(dir, func(path string, entry fs.DirEntry, werr error) error {
		if werr != nil {
			return werr
		}
		if path == dir {
			return nil
		}

		rel, rerr := filepath.Rel(dir, path)
		if rerr != nil {
			return rerr
		}

		info, ierr := entry.Info()
		if ierr != nil {
			return ierr
		}

		// Симлинки и спецфайлы в архив не попадают.
		if !info.Mode().IsRegular() && !info.IsDir() {
			return nil
		}

		header, herr := tar.FileInfoHeader(info, "")
		if herr != nil {
			return herr
		}
		header.Name = filepath.ToSlash(rel)
		if info.IsDir() {
			header.Name += "/"
		}

		if terr := tw.WriteHeader(header); terr != nil {
			return terr
		}
		if info.IsDir() {
			return nil
		}

		file, ferr := os.Open(path)
		if ferr != nil {
			return ferr
		}
		defer file.Close()

		_, cerr := io.Copy(tw, file)
		return cerr
	})
	if err != nil {
		return fmt.Errorf("pack %s: %w", dir, err)
	}

	if err := tw.Close(); err != nil {
		return fmt.Errorf("close tar: %w", err)
	}
	if err := gz.Close(); err != nil {
		return fmt.Errorf("close gzip: %w", err)
	}
	return out.Close()
}

// Unpack разворачивает tar-архив src (скелет приложения) в каталог dir.
func Unpack(src, dir string) error {
	file, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("open skeleton: %w", err)
	}
	defer file.Close()

	tr := tar.NewReader(file)
	for {
		header, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("read skeleton: %w", err)
		}

		name := filepath.Clean(header.Name)
		if name == "." || strings.HasPrefix(name, "..") {
			continue
		}
		target := filepath.Join(dir, name)

		switch header.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, 0o755); err != nil {
				return fmt.Errorf("unpack dir %s: %w", name, err)
			}

		case tar.TypeReg:
			if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
				return fmt.Errorf("unpack dir for %s: %w", name, err)
			}
			out, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, header.FileInfo().Mode().Perm())
			if err != nil {
				return fmt.Errorf("unpack file %s: %w", name, err)
			}
			if _, err := io.Copy(out, tr); err != nil {
				out.Close()
				return fmt.Errorf("unpack file %s: %w", name, err)
			}
			if err := out.Close(); err != nil {
				return fmt.Errorf("unpack file %s: %w", name, err)
			}
		}
	}
}
