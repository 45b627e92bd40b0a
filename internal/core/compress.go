package core

import (
	"bytes"
	"compress/gzip"
	"strings"

	"github.com/andybalholm/brotli"
)

// minCompressSize is the smallest body worth compressing; below this the
// frame overhead tends to win.
const minCompressSize = 1024

// chooseEncoding picks the best encoding the client accepts. Brotli wins
// over gzip when both are offered.
func chooseEncoding(acceptEncoding string) string {
	if acceptEncoding == "" {
		return ""
	}
	hasGzip := false
	for _, part := range strings.Split(acceptEncoding, ",") {
		enc := strings.TrimSpace(part)
		if i := strings.IndexByte(enc, ';'); i >= 0 {
			enc = strings.TrimSpace(enc[:i])
		}
		switch enc {
		case "br":
			return "br"
		case "gzip":
			hasGzip = true
		}
	}
	if hasGzip {
		return "gzip"
	}
	return ""
}

// compressBody compresses data with the named encoding.
func compressBody(data []byte, encoding string) ([]byte, error) {
	var buf bytes.Buffer
	switch encoding {
	case "br":
		w := brotli.NewWriter(&buf)
		if _, err := w.Write(data); err != nil {
			return nil, err
		}
		if err := w.Close(); err != nil {
			return nil, err
		}
	case "gzip":
		w := gzip.NewWriter(&buf)
		if _, err := w.Write(data); err != nil {
			return nil, err
		}
		if err := w.Close(); err != nil {
			return nil, err
		}
	}
	return buf.Bytes(), nil
}
