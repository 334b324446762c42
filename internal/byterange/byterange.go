// Package byterange parses single-range HTTP Range headers against a known
// resource length.
//
// Only one range per request is served. Multi-range requests, syntax errors
// and inverted bounds are reported as ErrMalformed. A start at or past the
// end of the resource is ErrUnsatisfiable. An end past the resource is
// clamped to the last byte, and suffix ranges ("bytes=-N") select the final
// N bytes.
package byterange

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

const unitPrefix = "bytes="

var (
	// ErrMalformed is returned for Range headers that cannot be parsed.
	ErrMalformed = errors.New("malformed range")
	// ErrUnsatisfiable is returned when the range starts outside the resource.
	ErrUnsatisfiable = errors.New("range not satisfiable")
)

// Range is a resolved, inclusive byte interval within a resource.
type Range struct {
	Start int64
	End   int64
}

// Length returns the number of bytes covered by r.
func (r Range) Length() int64 {
	return r.End - r.Start + 1
}

// ContentRange formats the Content-Range header value for r within a
// resource of the given size.
func (r Range) ContentRange(size int64) string {
	return fmt.Sprintf("bytes %d-%d/%d", r.Start, r.End, size)
}

// UnsatisfiedContentRange formats the Content-Range header sent with a 416.
func UnsatisfiedContentRange(size int64) string {
	return fmt.Sprintf("bytes */%d", size)
}

// Parse resolves header against a resource of size bytes.
func Parse(header string, size int64) (Range, error) {
	spec, ok := strings.CutPrefix(strings.TrimSpace(header), unitPrefix)
	if !ok {
		return Range{}, fmt.Errorf("%w: unsupported unit in %q", ErrMalformed, header)
	}
	if strings.Contains(spec, ",") {
		return Range{}, fmt.Errorf("%w: multiple ranges are not supported", ErrMalformed)
	}

	startStr, endStr, ok := strings.Cut(strings.TrimSpace(spec), "-")
	if !ok {
		return Range{}, fmt.Errorf("%w: missing '-' in %q", ErrMalformed, header)
	}
	startStr = strings.TrimSpace(startStr)
	endStr = strings.TrimSpace(endStr)

	if startStr == "" {
		return parseSuffix(endStr, size)
	}

	start, err := parseOffset(startStr)
	if err != nil {
		return Range{}, err
	}
	end := size - 1
	if endStr != "" {
		if end, err = parseOffset(endStr); err != nil {
			return Range{}, err
		}
		if end < start {
			return Range{}, fmt.Errorf("%w: start %d is after end %d", ErrMalformed, start, end)
		}
	}

	if start >= size {
		return Range{}, fmt.Errorf("%w: start %d, size %d", ErrUnsatisfiable, start, size)
	}
	if end >= size {
		end = size - 1
	}
	return Range{Start: start, End: end}, nil
}

func parseSuffix(s string, size int64) (Range, error) {
	if s == "" {
		return Range{}, fmt.Errorf("%w: empty range", ErrMalformed)
	}
	n, err := parseOffset(s)
	if err != nil {
		return Range{}, err
	}
	if n == 0 || size == 0 {
		return Range{}, fmt.Errorf("%w: suffix of %d bytes, size %d", ErrUnsatisfiable, n, size)
	}
	start := size - n
	if start < 0 {
		start = 0
	}
	return Range{Start: start, End: size - 1}, nil
}

func parseOffset(s string) (int64, error) {
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil || n < 0 || s[0] == '+' {
		return 0, fmt.Errorf("%w: invalid offset %q", ErrMalformed, s)
	}
	return n, nil
}
