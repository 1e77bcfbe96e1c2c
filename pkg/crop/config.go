package crop

import (
	"encoding/json"
	"fmt"
	"strings"
)

// DPI limits for page rasterization. The original slider range: higher DPI
// gives better OCR at the cost of render time.
const (
	MinDPI     = 100
	MaxDPI     = 300
	DefaultDPI = 200
)

// Size is a width/height pair in pixels.
type Size struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// Config describes a chosen crop region and its provenance. It is built once
// per export action and never mutated afterwards. Page is 1-indexed in the
// exported document (human display); use PageIndex for the 0-based value the
// rendering API expects.
type Config struct {
	Label        string `json:"label"`
	SourceFile   string `json:"source_file"`
	Page         int    `json:"page"`
	Coordinates  Rect   `json:"coordinates"`
	DPI          int    `json:"dpi"`
	OriginalSize Size   `json:"original_size"`
	CroppedSize  Size   `json:"cropped_size"`
}

// PageIndex returns the 0-based page index.
func (c Config) PageIndex() int { return c.Page - 1 }

// ValidateDPI checks dpi against the allowed range, mapping 0 to the default.
func ValidateDPI(dpi int) (int, error) {
	if dpi == 0 {
		return DefaultDPI, nil
	}
	if dpi < MinDPI || dpi > MaxDPI {
		return 0, fmt.Errorf("dpi %d out of range [%d,%d]", dpi, MinDPI, MaxDPI)
	}
	return dpi, nil
}

// Validate checks the config invariants: page >= 1, dpi in range, coordinates
// consistent with the recorded sizes.
func (c Config) Validate() error {
	if c.Page < 1 {
		return fmt.Errorf("page %d must be >= 1", c.Page)
	}
	if _, err := ValidateDPI(c.DPI); err != nil {
		return err
	}
	norm, err := Normalize(c.Coordinates, c.OriginalSize.Width, c.OriginalSize.Height)
	if err != nil {
		return err
	}
	if norm != c.Coordinates {
		return fmt.Errorf("coordinates %+v exceed original size %dx%d",
			c.Coordinates, c.OriginalSize.Width, c.OriginalSize.Height)
	}
	if c.CroppedSize.Width != c.Coordinates.Width() || c.CroppedSize.Height != c.Coordinates.Height() {
		return fmt.Errorf("cropped size %dx%d does not match coordinates",
			c.CroppedSize.Width, c.CroppedSize.Height)
	}
	return nil
}

// Export serializes the config as an indented UTF-8 JSON document with stable
// key order (struct declaration order). Pure serialization, no I/O: writing
// the bytes somewhere is the caller's concern.
func Export(c Config) ([]byte, error) {
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("invalid crop config: %w", err)
	}
	return json.MarshalIndent(c, "", "  ")
}

// Parse is the inverse of Export. Integer fields round-trip bit-identical.
func Parse(data []byte) (Config, error) {
	var c Config
	if err := json.Unmarshal(data, &c); err != nil {
		return Config{}, fmt.Errorf("parse crop config: %w", err)
	}
	if err := c.Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid crop config: %w", err)
	}
	return c, nil
}

// Filename suggests a download name of the form <label-or-default>_<page>.json.
func (c Config) Filename() string {
	label := strings.TrimSpace(strings.ToLower(c.Label))
	label = strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			return r
		case r == '-' || r == '_':
			return r
		case r == ' ':
			return '_'
		}
		return -1
	}, label)
	if label == "" {
		label = "config"
	}
	return fmt.Sprintf("%s_%d.json", label, c.Page)
}
