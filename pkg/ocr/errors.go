package ocr

import "errors"

// ErrNoText is returned when no legible text can be recognized in the region.
var ErrNoText = errors.New("no text recognized in region")
