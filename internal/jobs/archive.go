package jobs

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/klauspost/compress/zip"
)

// manifestName 是压缩包内清单文件名。
const manifestName = "info.txt"

type archiveEntry struct {
	Name string
	Path string
}

// writeArchive 把 entries 与清单写入 dest。先写临时文件再改名，失败时不留下半成品。
func writeArchive(dest string, entries []archiveEntry, manifest []string) (retErr error) {
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return fmt.Errorf("create archive dir: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(dest), ".archive-*.zip")
	if err != nil {
		return fmt.Errorf("create archive: %w", err)
	}
	defer func() {
		if retErr != nil {
			tmp.Close()
			os.Remove(tmp.Name())
		}
	}()

	zw := zip.NewWriter(tmp)
	for _, e := range entries {
		if err := addFile(zw, e); err != nil {
			return err
		}
	}
	if len(manifest) > 0 {
		w, err := zw.CreateHeader(&zip.FileHeader{Name: manifestName, Method: zip.Deflate, Modified: time.Now()})
		if err != nil {
			return fmt.Errorf("add manifest: %w", err)
		}
		if _, err := io.WriteString(w, strings.Join(manifest, "\n")+"\n"); err != nil {
			return fmt.Errorf("write manifest: %w", err)
		}
	}
	if err := zw.Close(); err != nil {
		return fmt.Errorf("finish archive: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close archive: %w", err)
	}
	if err := os.Rename(tmp.Name(), dest); err != nil {
		return fmt.Errorf("move archive: %w", err)
	}
	return nil
}

func addFile(zw *zip.Writer, e archiveEntry) error {
	f, err := os.Open(e.Path)
	if err != nil {
		return fmt.Errorf("open %s: %w", e.Name, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("stat %s: %w", e.Name, err)
	}
	hdr, err := zip.FileInfoHeader(info)
	if err != nil {
		return fmt.Errorf("header %s: %w", e.Name, err)
	}
	hdr.Name = e.Name
	// PNG 已经压缩过，直接存储。
	hdr.Method = zip.Store

	w, err := zw.CreateHeader(hdr)
	if err != nil {
		return fmt.Errorf("add %s: %w", e.Name, err)
	}
	if _, err := io.Copy(w, f); err != nil {
		return fmt.Errorf("write %s: %w", e.Name, err)
	}
	return nil
}

// pruneArchives 删除 dir 下早于 maxAge 的压缩包。
func pruneArchives(dir string, maxAge time.Duration, now time.Time) int {
	matches, _ := filepath.Glob(filepath.Join(dir, "*.zip"))
	removed := 0
	for _, m := range matches {
		info, err := os.Stat(m)
		if err != nil || !info.Mode().IsRegular() {
			continue
		}
		if now.Sub(info.ModTime()) > maxAge && os.Remove(m) == nil {
			removed++
		}
	}
	return removed
}
