package ocr

import "strings"

// normalizeText collapses internal whitespace and trims the line.
func normalizeText(t string) string {
	t = strings.ReplaceAll(t, "\n", " ")
	t = strings.ReplaceAll(t, "\t", " ")
	return strings.Join(strings.Fields(t), " ")
}

// joinLines rebuilds the full text block from recognized lines.
func joinLines(lines []Line) string {
	parts := make([]string, 0, len(lines))
	for _, l := range lines {
		parts = append(parts, l.Text)
	}
	return strings.Join(parts, "\n")
}

// avgConfidence returns the mean confidence across lines, 0 for none.
func avgConfidence(lines []Line) float64 {
	if len(lines) == 0 {
		return 0
	}
	var sum float64
	for _, l := range lines {
		sum += l.Confidence
	}
	return sum / float64(len(lines))
}

// clampConfidence restricts a confidence fraction to [0,1].
func clampConfidence(c float64) float64 {
	if c < 0 {
		return 0
	}
	if c > 1 {
		return 1
	}
	return c
}
