package saft

import (
	"archive/zip"
	"compress/gzip"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// source is the byte stream for one ingestion run. Close is idempotent and
// always releases the underlying container, even when the stream was only
// partially consumed.
type source struct {
	r       io.Reader
	closers []io.Closer
	once    sync.Once
	err     error
}

func (s *source) Read(p []byte) (int, error) { return s.r.Read(p) }

func (s *source) Close() error {
	s.once.Do(func() {
		// innermost first
		for i := len(s.closers) - 1; i >= 0; i-- {
			if cerr := s.closers[i].Close(); cerr != nil && s.err == nil {
				s.err = cerr
			}
		}
	})
	return s.err
}

// OpenSource opens an audit file for reading. A .zip container is expected to
// hold exactly one eligible XML member, which is decompressed on the fly; a
// .gz file is unwrapped likewise. No temporary files are created.
func OpenSource(path string) (io.ReadCloser, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".zip":
		return openZip(path)
	case ".gz", ".gzip":
		return openGzip(path)
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSourceFormat, err)
	}
	return &source{r: f, closers: []io.Closer{f}}, nil
}

func openZip(path string) (io.ReadCloser, error) {
	zr, err := zip.OpenReader(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSourceFormat, err)
	}
	for _, member := range zr.File {
		if !strings.HasSuffix(strings.ToLower(member.Name), ".xml") {
			continue
		}
		rc, err := member.Open()
		if err != nil {
			zr.Close()
			return nil, fmt.Errorf("%w: %v", ErrSourceFormat, err)
		}
		return &source{r: rc, closers: []io.Closer{zr, rc}}, nil
	}
	zr.Close()
	return nil, fmt.Errorf("%w: no xml member in %s", ErrSourceFormat, filepath.Base(path))
}

func openGzip(path string) (io.ReadCloser, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSourceFormat, err)
	}
	gz, err := gzip.NewReader(f)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("%w: %v", ErrSourceFormat, err)
	}
	return &source{r: gz, closers: []io.Closer{f, gz}}, nil
}
