package saft

import (
	"archive/zip"
	"compress/gzip"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"
)

const sourcePayload = `<?xml version="1.0"?><AuditFile><Header/></AuditFile>`

func writePlain(t *testing.T, dir string) string {
	t.Helper()
	path := filepath.Join(dir, "audit.xml")
	if err := os.WriteFile(path, []byte(sourcePayload), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func writeGzip(t *testing.T, dir string) string {
	t.Helper()
	path := filepath.Join(dir, "audit.xml.gz")
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	gz := gzip.NewWriter(f)
	if _, err := gz.Write([]byte(sourcePayload)); err != nil {
		t.Fatal(err)
	}
	if err := gz.Close(); err != nil {
		t.Fatal(err)
	}
	if err := f.Close(); err != nil {
		t.Fatal(err)
	}
	return path
}

func writeZip(t *testing.T, dir string, members map[string]string) string {
	t.Helper()
	path := filepath.Join(dir, "audit.zip")
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	zw := zip.NewWriter(f)
	for name, content := range members {
		w, err := zw.Create(name)
		if err != nil {
			t.Fatal(err)
		}
		if _, err := w.Write([]byte(content)); err != nil {
			t.Fatal(err)
		}
	}
	if err := zw.Close(); err != nil {
		t.Fatal(err)
	}
	if err := f.Close(); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestOpenSourceFormats(t *testing.T) {
	dir := t.TempDir()
	paths := map[string]string{
		"plain": writePlain(t, dir),
		"gzip":  writeGzip(t, dir),
		"zip":   writeZip(t, dir, map[string]string{"inner/audit.XML": sourcePayload}),
	}
	for name, path := range paths {
		t.Run(name, func(t *testing.T) {
			rc, err := OpenSource(path)
			if err != nil {
				t.Fatal(err)
			}
			data, err := io.ReadAll(rc)
			if err != nil {
				t.Fatal(err)
			}
			if string(data) != sourcePayload {
				t.Errorf("payload mismatch: %q", data)
			}
			if err := rc.Close(); err != nil {
				t.Fatal(err)
			}
			if err := rc.Close(); err != nil {
				t.Errorf("second Close = %v, want nil", err)
			}
		})
	}
}

func TestOpenSourceZipSkipsNonXML(t *testing.T) {
	dir := t.TempDir()
	path := writeZip(t, dir, map[string]string{"readme.txt": "hi", "audit.xml": sourcePayload})
	rc, err := OpenSource(path)
	if err != nil {
		t.Fatal(err)
	}
	defer rc.Close()
	data, _ := io.ReadAll(rc)
	if string(data) != sourcePayload {
		t.Errorf("zip picked wrong member: %q", data)
	}
}

func TestOpenSourceErrors(t *testing.T) {
	dir := t.TempDir()
	cases := []struct {
		name string
		path string
	}{
		{"missing file", filepath.Join(dir, "nope.xml")},
		{"zip without xml", writeZip(t, dir, map[string]string{"readme.txt": "hi"})},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			if _, err := OpenSource(c.path); !errors.Is(err, ErrSourceFormat) {
				t.Errorf("err = %v, want ErrSourceFormat", err)
			}
		})
	}

	badGz := filepath.Join(dir, "bad.gz")
	if err := os.WriteFile(badGz, []byte("not gzip"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := OpenSource(badGz); !errors.Is(err, ErrSourceFormat) {
		t.Errorf("bad gzip err = %v, want ErrSourceFormat", err)
	}
}
