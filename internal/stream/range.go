package stream

import (
	"strconv"
	"strings"
)

type byteRange struct {
	start int64
	end   int64
}

// parseRange interprets a Range header against a file of the given size. It
// returns (nil, true) when the full body should be served, a span and true for
// a single satisfiable range, and (nil, false) when the requested range cannot
// be satisfied. Multi-range, suffix, and malformed specs all fall back to the
// full body rather than erroring.
func parseRange(header string, size int64) (*byteRange, bool) {
	header = strings.TrimSpace(header)
	if header == "" {
		return nil, true
	}
	const prefix = "bytes="
	if len(header) < len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return nil, true
	}
	spec := strings.TrimSpace(header[len(prefix):])
	if spec == "" || strings.Contains(spec, ",") {
		return nil, true
	}
	startPart, endPart, ok := strings.Cut(spec, "-")
	if !ok {
		return nil, true
	}
	startPart = strings.TrimSpace(startPart)
	endPart = strings.TrimSpace(endPart)
	if startPart == "" {
		// Suffix ranges (bytes=-500) are not supported.
		return nil, true
	}
	start, err := strconv.ParseInt(startPart, 10, 64)
	if err != nil || start < 0 {
		return nil, true
	}
	end := size - 1
	if endPart != "" {
		end, err = strconv.ParseInt(endPart, 10, 64)
		if err != nil || end < 0 {
			return nil, true
		}
	}
	if start > size-1 || end > size-1 || start > end {
		return nil, false
	}
	return &byteRange{start: start, end: end}, true
}
