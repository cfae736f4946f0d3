package scene

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
)

const (
	endHeaderMarker   = "end_header"
	vertexCountPrefix = "element vertex"
	maxHeaderBytes    = 1 << 20 // guards against scanning a headerless binary
)

// Property is one `property <type> <name>` line declared for the vertex element.
type Property struct {
	Type string
	Name string
}

// Header holds the metadata extracted from the ASCII header.
type Header struct {
	VertexCount  int        // records declared by `element vertex N`
	HeaderLength int        // bytes up to and including the end_header line
	Format       string     // e.g. "binary_little_endian 1.0"; empty if not declared
	Properties   []Property // vertex properties in declaration order
}

// PropertyIndex returns the column of the named vertex property, or -1.
func (h Header) PropertyIndex(name string) int {
	for i, p := range h.Properties {
		if p.Name == name {
			return i
		}
	}
	return -1
}

// allFloat32 reports whether every declared vertex property is a 4-byte float,
// which is the only case where property names can be mapped onto columns.
func (h Header) allFloat32() bool {
	if len(h.Properties) == 0 {
		return false
	}
	for _, p := range h.Properties {
		switch p.Type {
		case "float", "float32":
		default:
			return false
		}
	}
	return true
}

// ParseHeader reads header lines from r until the end_header marker line and
// returns the declared vertex count and the header's byte length. The reader
// is consumed past the header only; callers slice the payload from the
// original buffer using HeaderLength.
func ParseHeader(r io.Reader) (Header, error) {
	br := bufio.NewReader(r)

	var (
		lines  []string
		length int
		done   bool
	)
	for !done {
		line, err := br.ReadBytes('\n')
		length += len(line)
		if length > maxHeaderBytes {
			return Header{}, formatErr(ErrMissingEndHeader, fmt.Sprintf("no marker in first %d bytes", maxHeaderBytes))
		}
		text := strings.TrimRight(string(line), "\r\n")
		lines = append(lines, text)
		if strings.TrimSpace(text) == endHeaderMarker {
			done = true
			continue
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return Header{}, formatErr(ErrMissingEndHeader, "")
			}
			return Header{}, fmt.Errorf("read header: %w", err)
		}
	}

	h := Header{HeaderLength: length}
	seenVertex, inVertex := false, false
	for _, line := range lines {
		fields := strings.Fields(line)
		if len(fields) == 0 {
			continue
		}
		switch {
		case strings.HasPrefix(line, vertexCountPrefix) && !seenVertex:
			n, err := strconv.Atoi(fields[len(fields)-1])
			if err != nil {
				return Header{}, formatErr(ErrMissingVertexCount, fmt.Sprintf("invalid count %q", fields[len(fields)-1]))
			}
			h.VertexCount = n
			seenVertex, inVertex = true, true
		case fields[0] == "element":
			inVertex = false
		case fields[0] == "format" && len(fields) > 1:
			h.Format = strings.Join(fields[1:], " ")
		case fields[0] == "property" && inVertex:
			// List properties carry variable-length data and cannot map to a column.
			if len(fields) == 3 {
				h.Properties = append(h.Properties, Property{Type: fields[1], Name: fields[2]})
			} else {
				h.Properties = append(h.Properties, Property{Type: "list", Name: fields[len(fields)-1]})
			}
		}
	}

	if h.VertexCount <= 0 {
		return Header{}, formatErr(ErrMissingVertexCount, "")
	}
	return h, nil
}

// SplitHeader parses the header at the start of data and returns it with the
// payload that follows.
func SplitHeader(data []byte) (Header, []byte, error) {
	h, err := ParseHeader(bytes.NewReader(data))
	if err != nil {
		return Header{}, nil, err
	}
	return h, data[h.HeaderLength:], nil
}
