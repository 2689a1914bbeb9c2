package vector

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"regexp"
	"strconv"
	"strings"
)

var npyMagic = []byte("\x93NUMPY")

var (
	npyDescrRe   = regexp.MustCompile(`'descr'\s*:\s*'([^']*)'`)
	npyFortranRe = regexp.MustCompile(`'fortran_order'\s*:\s*(True|False)`)
	npyShapeRe   = regexp.MustCompile(`'shape'\s*:\s*\(([^)]*)\)`)
)

// npyHeader is the parsed array header of a .npy file.
type npyHeader struct {
	order   binary.ByteOrder
	kind    byte // 'f' or 'i'
	size    int  // bytes per element
	fortran bool
	shape   []int
}

// ReadNPY decodes a 2-D numeric .npy array into a float32 Matrix. Float16
// is not supported; float64 and integer arrays are converted.
func ReadNPY(r io.Reader) (*Matrix, error) {
	br := bufio.NewReader(r)
	h, err := readNPYHeader(br)
	if err != nil {
		return nil, err
	}

	if len(h.shape) != 2 {
		if len(h.shape) == 1 && h.shape[0] == 0 {
			return &Matrix{}, nil
		}
		return nil, fmt.Errorf("npy: expected a 2-D array, got shape %v", h.shape)
	}
	rows, cols := h.shape[0], h.shape[1]
	if rows == 0 {
		return &Matrix{}, nil
	}

	if cols < 1 || rows > math.MaxInt/cols/h.size {
		return nil, fmt.Errorf("npy: bad shape %v", h.shape)
	}

	data, err := h.readData(br, rows*cols)
	if err != nil {
		return nil, err
	}
	if h.fortran {
		data = transpose(data, rows, cols)
	}
	return newMatrixFromData(data, rows, cols)
}

// npyReadBlock bounds each read so that memory grows with the bytes actually
// present, not with the shape the header claims.
const npyReadBlock = 64 * 1024

func (h *npyHeader) readData(r io.Reader, count int) ([]float32, error) {
	data := make([]float32, 0, min(count, npyReadBlock))
	buf := make([]byte, npyReadBlock/h.size*h.size)
	for len(data) < count {
		want := min(count-len(data), len(buf)/h.size)
		chunk := buf[:want*h.size]
		if _, err := io.ReadFull(r, chunk); err != nil {
			return nil, fmt.Errorf("npy: data truncated after %d of %d values: %w", len(data), count, err)
		}
		for i := 0; i < want; i++ {
			data = append(data, h.decode(chunk[i*h.size:(i+1)*h.size]))
		}
	}
	return data, nil
}

func readNPYHeader(br *bufio.Reader) (*npyHeader, error) {
	prefix := make([]byte, 8)
	if _, err := io.ReadFull(br, prefix); err != nil {
		return nil, fmt.Errorf("npy: short preamble: %w", err)
	}
	if !bytes.Equal(prefix[:6], npyMagic) {
		return nil, fmt.Errorf("npy: bad magic")
	}

	var headerLen int
	switch major := prefix[6]; major {
	case 1:
		var n uint16
		if err := binary.Read(br, binary.LittleEndian, &n); err != nil {
			return nil, fmt.Errorf("npy: header length: %w", err)
		}
		headerLen = int(n)
	case 2, 3:
		var n uint32
		if err := binary.Read(br, binary.LittleEndian, &n); err != nil {
			return nil, fmt.Errorf("npy: header length: %w", err)
		}
		headerLen = int(n)
	default:
		return nil, fmt.Errorf("npy: unsupported format version %d", major)
	}

	dict := make([]byte, headerLen)
	if _, err := io.ReadFull(br, dict); err != nil {
		return nil, fmt.Errorf("npy: short header: %w", err)
	}
	return parseNPYDict(string(dict))
}

func parseNPYDict(dict string) (*npyHeader, error) {
	descr := npyDescrRe.FindStringSubmatch(dict)
	fortran := npyFortranRe.FindStringSubmatch(dict)
	shape := npyShapeRe.FindStringSubmatch(dict)
	if descr == nil || fortran == nil || shape == nil {
		return nil, fmt.Errorf("npy: malformed header %q", strings.TrimSpace(dict))
	}

	h := &npyHeader{fortran: fortran[1] == "True"}
	if err := h.setDType(descr[1]); err != nil {
		return nil, err
	}

	for _, part := range strings.Split(shape[1], ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		n, err := strconv.Atoi(part)
		if err != nil || n < 0 {
			return nil, fmt.Errorf("npy: bad shape %q", shape[1])
		}
		h.shape = append(h.shape, n)
	}
	return h, nil
}

func (h *npyHeader) setDType(descr string) error {
	if len(descr) < 3 {
		return fmt.Errorf("npy: bad dtype %q", descr)
	}

	switch descr[0] {
	case '<', '|':
		h.order = binary.LittleEndian
	case '>':
		h.order = binary.BigEndian
	default:
		return fmt.Errorf("npy: bad byte order in dtype %q", descr)
	}

	size, err := strconv.Atoi(descr[2:])
	if err != nil {
		return fmt.Errorf("npy: bad dtype %q", descr)
	}
	h.kind, h.size = descr[1], size

	switch {
	case h.kind == 'f' && (size == 4 || size == 8):
	case h.kind == 'i' && (size == 4 || size == 8):
	default:
		return fmt.Errorf("npy: unsupported dtype %q", descr)
	}
	return nil
}

func (h *npyHeader) decode(b []byte) float32 {
	switch {
	case h.kind == 'f' && h.size == 4:
		return math.Float32frombits(h.order.Uint32(b))
	case h.kind == 'f':
		return float32(math.Float64frombits(h.order.Uint64(b)))
	case h.size == 4:
		return float32(int32(h.order.Uint32(b)))
	default:
		return float32(int64(h.order.Uint64(b)))
	}
}

func transpose(colMajor []float32, rows, cols int) []float32 {
	out := make([]float32, len(colMajor))
	for c := 0; c < cols; c++ {
		for r := 0; r < rows; r++ {
			out[r*cols+c] = colMajor[c*rows+r]
		}
	}
	return out
}

// WriteNPY encodes m as a version 1.0 little-endian float32 .npy array.
func WriteNPY(w io.Writer, m *Matrix) error {
	dict := fmt.Sprintf("{'descr': '<f4', 'fortran_order': False, 'shape': (%d, %d), }", m.Rows(), m.Cols())
	// preamble (10 bytes) + dict + newline is padded to a multiple of 64
	total := 10 + len(dict) + 1
	if rem := total % 64; rem != 0 {
		dict += strings.Repeat(" ", 64-rem)
	}
	dict += "\n"

	var buf bytes.Buffer
	buf.Write(npyMagic)
	buf.Write([]byte{1, 0})
	_ = binary.Write(&buf, binary.LittleEndian, uint16(len(dict)))
	buf.WriteString(dict)
	if _, err := w.Write(buf.Bytes()); err != nil {
		return err
	}
	return binary.Write(w, binary.LittleEndian, m.data)
}
