package storage

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/vmihailenco/msgpack/v5"
)

const matrixVersion = 1

// matrixFile is the on-disk vector matrix: rows x dim float32 values in row-major order.
type matrixFile struct {
	Version int       `msgpack:"v"`
	Dim     int       `msgpack:"dim"`
	Rows    int       `msgpack:"rows"`
	Data    []float32 `msgpack:"data"`
}

// EncodeMatrix serializes vectors, all of length dim. dim is kept even with zero rows so an
// empty collection remembers its dimensionality.
func EncodeMatrix(dim int, vectors [][]float32) ([]byte, error) {
	if dim <= 0 {
		return nil, fmt.Errorf("matrix dimension must be positive, got %d", dim)
	}
	m := matrixFile{Version: matrixVersion, Dim: dim, Rows: len(vectors), Data: make([]float32, 0, dim*len(vectors))}
	for i, v := range vectors {
		if len(v) != dim {
			return nil, fmt.Errorf("vector %d has %d components, want %d", i, len(v), dim)
		}
		m.Data = append(m.Data, v...)
	}
	var buf bytes.Buffer
	if err := msgpack.NewEncoder(&buf).Encode(&m); err != nil {
		return nil, fmt.Errorf("encode matrix: %w", err)
	}
	return buf.Bytes(), nil
}

// DecodeMatrix parses data written by EncodeMatrix.
func DecodeMatrix(data []byte) (int, [][]float32, error) {
	var m matrixFile
	if err := msgpack.Unmarshal(data, &m); err != nil {
		return 0, nil, fmt.Errorf("decode matrix: %w", err)
	}
	if m.Version != matrixVersion {
		return 0, nil, fmt.Errorf("unsupported matrix version %d", m.Version)
	}
	if m.Dim <= 0 || m.Rows < 0 {
		return 0, nil, fmt.Errorf("invalid matrix shape %dx%d", m.Rows, m.Dim)
	}
	if len(m.Data) != m.Rows*m.Dim {
		return 0, nil, fmt.Errorf("matrix has %d values, want %d", len(m.Data), m.Rows*m.Dim)
	}
	vectors := make([][]float32, m.Rows)
	for i := range vectors {
		vectors[i] = m.Data[i*m.Dim : (i+1)*m.Dim : (i+1)*m.Dim]
	}
	return m.Dim, vectors, nil
}

// EncodePaths writes one path per line.
func EncodePaths(paths []string) ([]byte, error) {
	var buf bytes.Buffer
	for i, p := range paths {
		if p == "" {
			return nil, fmt.Errorf("path %d is empty", i)
		}
		if strings.ContainsAny(p, "\r\n") {
			return nil, fmt.Errorf("path %d contains a line break", i)
		}
		buf.WriteString(p)
		buf.WriteByte('\n')
	}
	return buf.Bytes(), nil
}

// DecodePaths reads a path list. Blank lines are ignored.
func DecodePaths(data []byte) ([]string, error) {
	var paths []string
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimRight(line, "\r")
		if line == "" {
			continue
		}
		paths = append(paths, line)
	}
	return paths, nil
}
