package fanout

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Dimensions converts an aspect ratio such as "16/9" into a width and height
// whose longer side is base. Both sides are floored to a multiple of 16 and
// must stay positive.
func Dimensions(ratio string, base int) (int, int, error) {
	before, after, ok := strings.Cut(ratio, "/")
	if !ok {
		return 0, 0, fmt.Errorf("invalid aspect ratio %q", ratio)
	}
	w, err := parseSide(before)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid aspect ratio %q: %w", ratio, err)
	}
	h, err := parseSide(after)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid aspect ratio %q: %w", ratio, err)
	}
	if base <= 0 {
		return 0, 0, fmt.Errorf("invalid base size %d", base)
	}

	scale := float64(base) / math.Max(w, h)
	width := int(math.Round(w*scale)) / 16 * 16
	height := int(math.Round(h*scale)) / 16 * 16
	if width == 0 || height == 0 {
		return 0, 0, fmt.Errorf("aspect ratio %q is too extreme for base %d", ratio, base)
	}
	return width, height, nil
}

func parseSide(s string) (float64, error) {
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0, err
	}
	if math.IsNaN(v) || math.IsInf(v, 0) || v <= 0 {
		return 0, fmt.Errorf("side %q must be a positive finite number", s)
	}
	return v, nil
}
