package bot

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrRangeFormat marks input that is neither a page number nor a
// start-end pair.
var ErrRangeFormat = errors.New("invalid page range format")

// ErrRangeBounds marks a syntactically valid range outside the
// document.
var ErrRangeBounds = errors.New("page range out of bounds")

// parseRange accepts a single page number ("157") or an inclusive
// range ("1-5") and validates it against pageCount.
func parseRange(text string, pageCount int) (int, int, error) {
	text = strings.TrimSpace(text)

	var start, end int
	if idx := strings.Index(text, "-"); idx >= 0 {
		a, errA := strconv.Atoi(strings.TrimSpace(text[:idx]))
		b, errB := strconv.Atoi(strings.TrimSpace(text[idx+1:]))
		if errA != nil || errB != nil {
			return 0, 0, ErrRangeFormat
		}
		start, end = a, b
	} else {
		n, err := strconv.Atoi(text)
		if err != nil {
			return 0, 0, ErrRangeFormat
		}
		start, end = n, n
	}

	if start < 1 || end > pageCount || start > end {
		return 0, 0, fmt.Errorf("%w: %d-%d of %d", ErrRangeBounds, start, end, pageCount)
	}
	return start, end, nil
}
