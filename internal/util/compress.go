package util

import (
	"bytes"
	"compress/zlib"
	"fmt"
	"io"

	"github.com/voxelcore/server/internal/coderr"
)

// CompressColumn zlib-compresses a column's serialized block data for
// persistence storage. There is no compression library in the example
// corpus; compress/zlib is used on the same stdlib-is-fine precedent as
// the ledger save/load path elsewhere in the corpus, which reaches for
// compress/gzip rather than a third-party codec.
func CompressColumn(raw []byte) ([]byte, error) {
	var buf bytes.Buffer
	w := zlib.NewWriter(&buf)
	if _, err := w.Write(raw); err != nil {
		return nil, coderr.Wrap(coderr.Io, "zlib write", err)
	}
	if err := w.Close(); err != nil {
		return nil, coderr.Wrap(coderr.Io, "zlib close", err)
	}
	return buf.Bytes(), nil
}

// DecompressColumn reverses CompressColumn, bounding the inflated size so
// a corrupt or hostile blob cannot force unbounded memory growth.
func DecompressColumn(compressed []byte, maxSize int) ([]byte, error) {
	r, err := zlib.NewReader(bytes.NewReader(compressed))
	if err != nil {
		return nil, coderr.Wrap(coderr.Codec, "zlib open", err)
	}
	defer r.Close()

	lr := io.LimitReader(r, int64(maxSize)+1)
	out, err := io.ReadAll(lr)
	if err != nil {
		return nil, coderr.Wrap(coderr.Io, "zlib read", err)
	}
	if len(out) > maxSize {
		return nil, coderr.New(coderr.Codec, fmt.Sprintf("decompressed column exceeds max size %d", maxSize))
	}
	return out, nil
}
