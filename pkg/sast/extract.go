package sast

import (
	"archive/tar"
	"archive/zip"
	"compress/gzip"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/MikhailDrugie/se-attack-modeling/internal/errors"
)

// maxExtractedFileSize caps a single extracted file. Larger entries
// are truncated rather than failing the whole scan.
const maxExtractedFileSize = 50 << 20

// extract unpacks a zip or tar archive into destDir. The format is
// detected from the file contents, not the extension. Entries
// escaping destDir are rejected.
func extract(archivePath, destDir string) error {
	kind, err := detectFormat(archivePath)
	if err != nil {
		return err
	}

	switch kind {
	case formatZip:
		return extractZip(archivePath, destDir)
	case formatTar, formatTarGz:
		return extractTar(archivePath, destDir, kind == formatTarGz)
	default:
		return errors.NewArchiveError(archivePath, "detect", nil)
	}
}

type archiveFormat int

const (
	formatUnknown archiveFormat = iota
	formatZip
	formatTar
	formatTarGz
)

// detectFormat sniffs the archive type from magic bytes: PK for zip,
// the gzip header for tar.gz, and the ustar marker at offset 257 for
// plain tar.
func detectFormat(path string) (archiveFormat, error) {
	f, err := os.Open(path)
	if err != nil {
		return formatUnknown, errors.NewArchiveError(path, "open", err)
	}
	defer f.Close()

	header := make([]byte, 265)
	n, err := io.ReadFull(f, header)
	if err != nil && err != io.ErrUnexpectedEOF {
		return formatUnknown, errors.NewArchiveError(path, "read", err)
	}
	header = header[:n]

	if len(header) >= 4 && header[0] == 'P' && header[1] == 'K' {
		return formatZip, nil
	}
	if len(header) >= 2 && header[0] == 0x1f && header[1] == 0x8b {
		return formatTarGz, nil
	}
	if len(header) >= 262 && string(header[257:262]) == "ustar" {
		return formatTar, nil
	}
	return formatUnknown, nil
}

func extractZip(archivePath, destDir string) error {
	reader, err := zip.OpenReader(archivePath)
	if err != nil {
		return errors.NewArchiveError(archivePath, "open zip", err)
	}
	defer reader.Close()

	for _, entry := range reader.File {
		target, err := safeJoin(destDir, entry.Name)
		if err != nil {
			return err
		}

		if entry.FileInfo().IsDir() {
			if err := os.MkdirAll(target, 0o755); err != nil {
				return errors.NewArchiveError(archivePath, "mkdir", err)
			}
			continue
		}

		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return errors.NewArchiveError(archivePath, "mkdir", err)
		}

		src, err := entry.Open()
		if err != nil {
			return errors.NewArchiveError(archivePath, "open entry", err)
		}
		if err := writeFile(target, src); err != nil {
			src.Close()
			return errors.NewArchiveError(archivePath, "write entry", err)
		}
		src.Close()
	}
	return nil
}

func extractTar(archivePath, destDir string, gzipped bool) error {
	f, err := os.Open(archivePath)
	if err != nil {
		return errors.NewArchiveError(archivePath, "open tar", err)
	}
	defer f.Close()

	var src io.Reader = f
	if gzipped {
		gz, err := gzip.NewReader(f)
		if err != nil {
			return errors.NewArchiveError(archivePath, "open gzip", err)
		}
		defer gz.Close()
		src = gz
	}

	tr := tar.NewReader(src)
	for {
		header, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return errors.NewArchiveError(archivePath, "read tar", err)
		}

		target, err := safeJoin(destDir, header.Name)
		if err != nil {
			return err
		}

		switch header.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, 0o755); err != nil {
				return errors.NewArchiveError(archivePath, "mkdir", err)
			}
		case tar.TypeReg:
			if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
				return errors.NewArchiveError(archivePath, "mkdir", err)
			}
			if err := writeFile(target, tr); err != nil {
				return errors.NewArchiveError(archivePath, "write entry", err)
			}
		}
		// Symlinks and special files are skipped.
	}
}

// safeJoin joins an archive entry name onto destDir, rejecting path
// traversal.
func safeJoin(destDir, name string) (string, error) {
	target := filepath.Join(destDir, filepath.Clean("/"+name))
	if !strings.HasPrefix(target, filepath.Clean(destDir)+string(os.PathSeparator)) &&
		target != filepath.Clean(destDir) {
		return "", errors.NewArchiveError(name, "unsafe path", nil)
	}
	return target, nil
}

func writeFile(target string, src io.Reader) error {
	dst, err := os.OpenFile(target, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	defer dst.Close()

	_, err = io.Copy(dst, io.LimitReader(src, maxExtractedFileSize))
	return err
}
