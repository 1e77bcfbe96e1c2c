package ocr

import (
	"fmt"
	"image"
	"log"
	"os"
	"strings"

	"github.com/disintegration/imaging"
	"github.com/otiai10/gosseract/v2"
)

// Line is one recognized text line with its confidence as a fraction in [0,1].
type Line struct {
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"`
}

// Result holds the recognized lines of a crop region plus the joined text and
// the mean line confidence.
type Result struct {
	Lines         []Line  `json:"lines"`
	Text          string  `json:"text"`
	AvgConfidence float64 `json:"avg_confidence"`
}

// ExtractLines runs Tesseract over a cropped invoice region and returns the
// recognized lines with per-line confidence. The image is preprocessed
// (grayscale, contrast, sharpen, upscale, threshold) before recognition.
// Returns ErrNoText when nothing legible is found.
func ExtractLines(img image.Image) (Result, error) {
	prepared := prepare(img)

	tmpFile, err := os.CreateTemp("", "recorte-ocr-*.png")
	if err != nil {
		return Result{}, fmt.Errorf("temp image: %w", err)
	}
	tmp := tmpFile.Name()
	_ = tmpFile.Close()
	defer func() {
		if rmErr := os.Remove(tmp); rmErr != nil {
			log.Printf("warning: remove ocr temp %s: %v", tmp, rmErr)
		}
	}()
	if err := imaging.Save(prepared, tmp); err != nil {
		return Result{}, fmt.Errorf("save temp image: %w", err)
	}

	client := gosseract.NewClient()
	defer client.Close()
	if err := client.SetLanguage("por"); err != nil {
		// Portuguese traineddata not installed; fall back to the default model.
		_ = client.SetLanguage("eng")
	}
	_ = client.SetPageSegMode(gosseract.PSM_SINGLE_BLOCK)
	if err := client.SetImage(tmp); err != nil {
		return Result{}, fmt.Errorf("set image: %w", err)
	}

	boxes, err := client.GetBoundingBoxes(gosseract.RIL_TEXTLINE)
	if err != nil {
		return Result{}, fmt.Errorf("ocr error: %w", err)
	}

	var lines []Line
	for _, b := range boxes {
		text := normalizeText(b.Word)
		if text == "" {
			continue
		}
		lines = append(lines, Line{Text: text, Confidence: clampConfidence(b.Confidence / 100)})
	}
	if len(lines) == 0 {
		// Line iteration can come back empty on sparse crops; retry with the
		// plain text pass before declaring the region empty.
		text, terr := client.Text()
		if terr != nil {
			return Result{}, fmt.Errorf("ocr error: %w", terr)
		}
		for _, raw := range strings.Split(text, "\n") {
			if t := normalizeText(raw); t != "" {
				lines = append(lines, Line{Text: t, Confidence: 0})
			}
		}
	}
	if len(lines) == 0 {
		return Result{}, ErrNoText
	}

	res := Result{
		Lines:         lines,
		Text:          joinLines(lines),
		AvgConfidence: avgConfidence(lines),
	}
	log.Printf("OCR crop %dx%d lines=%d avg_conf=%.2f",
		img.Bounds().Dx(), img.Bounds().Dy(), len(res.Lines), res.AvgConfidence)
	return res, nil
}
