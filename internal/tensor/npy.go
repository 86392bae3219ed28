package tensor

import (
	"archive/zip"
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

// ErrInvalidNPY is returned for payloads that are not readable .npy arrays.
var ErrInvalidNPY = errors.New("invalid npy data")

var npyMagic = []byte("\x93NUMPY")

const (
	maxHeaderLen = 1 << 20

	// MaxPayload bounds the array payload ReadNPY accepts.
	MaxPayload = 4 << 30
)

var descrs = map[DType]string{
	Float32: "<f4",
	Float64: "<f8",
	Int8:    "|i1",
	Uint8:   "|u1",
	Int32:   "<i4",
	Int64:   "<i8",
}

var (
	descrRe   = regexp.MustCompile(`'descr':\s*'([^']*)'`)
	fortranRe = regexp.MustCompile(`'fortran_order':\s*(True|False)`)
	shapeRe   = regexp.MustCompile(`'shape':\s*\(([^)]*)\)`)
)

// WriteNPY encodes t in .npy format version 1.0.
func WriteNPY(w io.Writer, t *Tensor) error {
	descr, ok := descrs[t.dtype]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnsupportedDType, t.dtype)
	}

	dims := make([]string, len(t.shape))
	for i, d := range t.shape {
		dims[i] = strconv.FormatInt(d, 10)
	}
	shape := strings.Join(dims, ", ")
	if len(t.shape) == 1 {
		shape += ","
	}

	header := fmt.Sprintf("{'descr': '%s', 'fortran_order': False, 'shape': (%s), }", descr, shape)
	// magic(6) + version(2) + header length(2) + header + '\n' is padded to 64 bytes.
	total := len(npyMagic) + 4 + len(header) + 1
	if rem := total % 64; rem != 0 {
		header += strings.Repeat(" ", 64-rem)
	}
	header += "\n"

	var buf bytes.Buffer
	buf.Write(npyMagic)
	buf.Write([]byte{1, 0})
	if err := binary.Write(&buf, binary.LittleEndian, uint16(len(header))); err != nil {
		return err
	}
	buf.WriteString(header)

	if _, err := w.Write(buf.Bytes()); err != nil {
		return err
	}
	_, err := w.Write(t.data)
	return err
}

// ReadNPY decodes a C-ordered little-endian .npy array of at most MaxPayload bytes.
func ReadNPY(r io.Reader) (*Tensor, error) {
	return readNPY(r, MaxPayload)
}

// readNPY rejects arrays whose payload would exceed limit bytes before allocating it.
func readNPY(r io.Reader, limit int64) (*Tensor, error) {
	prefix := make([]byte, len(npyMagic)+2)
	if _, err := io.ReadFull(r, prefix); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidNPY, err)
	}
	if !bytes.Equal(prefix[:len(npyMagic)], npyMagic) {
		return nil, fmt.Errorf("%w: bad magic", ErrInvalidNPY)
	}

	var headerLen int
	switch major := prefix[len(npyMagic)]; major {
	case 1:
		var n uint16
		if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidNPY, err)
		}
		headerLen = int(n)
	case 2, 3:
		var n uint32
		if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidNPY, err)
		}
		headerLen = int(n)
	default:
		return nil, fmt.Errorf("%w: unsupported version %d", ErrInvalidNPY, major)
	}
	if headerLen > maxHeaderLen || int64(headerLen) > limit {
		return nil, fmt.Errorf("%w: header of %d bytes", ErrInvalidNPY, headerLen)
	}

	header := make([]byte, headerLen)
	if _, err := io.ReadFull(r, header); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidNPY, err)
	}

	dtype, shape, err := parseHeader(string(header))
	if err != nil {
		return nil, err
	}

	size, err := payloadSize(shape, dtype)
	if err != nil {
		return nil, err
	}
	if size > limit {
		return nil, fmt.Errorf("%w: shape %v needs %d bytes, at most %d available", ErrInvalidNPY, shape, size, limit)
	}

	data := make([]byte, size)
	if _, err := io.ReadFull(r, data); err != nil {
		return nil, fmt.Errorf("%w: payload: %v", ErrInvalidNPY, err)
	}

	return New(shape, dtype, data)
}

// payloadSize returns the byte size of shape, rejecting negative dimensions and overflow.
func payloadSize(shape []int64, dtype DType) (int64, error) {
	size := int64(dtype.Size())
	for _, d := range shape {
		if d < 0 {
			return 0, fmt.Errorf("%w: negative dimension in shape %v", ErrInvalidNPY, shape)
		}
		if d > 0 && size > math.MaxInt64/d {
			return 0, fmt.Errorf("%w: shape %v overflows", ErrInvalidNPY, shape)
		}
		size *= d
	}
	return size, nil
}

func parseHeader(h string) (DType, []int64, error) {
	m := descrRe.FindStringSubmatch(h)
	if m == nil {
		return "", nil, fmt.Errorf("%w: missing descr", ErrInvalidNPY)
	}
	var dtype DType
	for d, descr := range descrs {
		if descr == m[1] || (descr[0] == '|' && "<"+descr[1:] == m[1]) {
			dtype = d
		}
	}
	if dtype == "" {
		return "", nil, fmt.Errorf("%w: descr %q", ErrUnsupportedDType, m[1])
	}

	if f := fortranRe.FindStringSubmatch(h); f == nil || f[1] != "False" {
		return "", nil, fmt.Errorf("%w: only C-ordered arrays are supported", ErrInvalidNPY)
	}

	s := shapeRe.FindStringSubmatch(h)
	if s == nil {
		return "", nil, fmt.Errorf("%w: missing shape", ErrInvalidNPY)
	}
	var shape []int64
	for _, part := range strings.Split(s[1], ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		d, err := strconv.ParseInt(part, 10, 64)
		if err != nil {
			return "", nil, fmt.Errorf("%w: shape %q", ErrInvalidNPY, s[1])
		}
		shape = append(shape, d)
	}

	return dtype, shape, nil
}

// WriteNPZ stores tensors as an uncompressed .npz archive, one "<name>.npy" entry each.
func WriteNPZ(w io.Writer, tensors map[string]*Tensor) error {
	names := make([]string, 0, len(tensors))
	for name := range tensors {
		names = append(names, name)
	}
	sort.Strings(names)

	zw := zip.NewWriter(w)
	for _, name := range names {
		f, err := zw.CreateHeader(&zip.FileHeader{Name: name + ".npy", Method: zip.Store})
		if err != nil {
			return fmt.Errorf("npz entry %s: %w", name, err)
		}
		if err := WriteNPY(f, tensors[name]); err != nil {
			return fmt.Errorf("npz entry %s: %w", name, err)
		}
	}
	return zw.Close()
}

// ReadNPZ decodes every array of an .npz archive keyed by entry name without the .npy suffix.
func ReadNPZ(r io.ReaderAt, size int64) (map[string]*Tensor, error) {
	zr, err := zip.NewReader(r, size)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidNPY, err)
	}

	out := make(map[string]*Tensor, len(zr.File))
	for _, f := range zr.File {
		rc, err := f.Open()
		if err != nil {
			return nil, fmt.Errorf("npz entry %s: %w", f.Name, err)
		}
		limit := int64(MaxPayload)
		if f.UncompressedSize64 < uint64(limit) {
			limit = int64(f.UncompressedSize64)
		}
		t, err := readNPY(rc, limit)
		rc.Close()
		if err != nil {
			return nil, fmt.Errorf("npz entry %s: %w", f.Name, err)
		}
		out[strings.TrimSuffix(f.Name, ".npy")] = t
	}

	return out, nil
}

// SaveNPZ writes tensors to path.
func SaveNPZ(path string, tensors map[string]*Tensor) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := WriteNPZ(f, tensors); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// LoadNPZ reads an .npz archive from path.
func LoadNPZ(path string) (map[string]*Tensor, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, err
	}

	return ReadNPZ(f, info.Size())
}
