// Package render rasterizes PDF invoice pages through pdfium. The wasm
// runtime is initialized once per process; instances are borrowed from the
// pool per call so concurrent handlers never share pdfium state.
package render

import (
	"fmt"
	"image"
	"sync"
	"time"

	"github.com/disintegration/imaging"
	"github.com/klippa-app/go-pdfium"
	"github.com/klippa-app/go-pdfium/requests"
	"github.com/klippa-app/go-pdfium/webassembly"

	"recorte/pkg/crop"
)

var (
	pool     pdfium.Pool
	poolOnce sync.Once
	poolErr  error
)

const instanceTimeout = 30 * time.Second

func getPool() (pdfium.Pool, error) {
	poolOnce.Do(func() {
		pool, poolErr = webassembly.Init(webassembly.Config{
			MinIdle:  1,
			MaxIdle:  2,
			MaxTotal: 4,
		})
	})
	if poolErr != nil {
		return nil, fmt.Errorf("pdfium init: %w", poolErr)
	}
	return pool, nil
}

func withInstance(fn func(instance pdfium.Pdfium) error) error {
	p, err := getPool()
	if err != nil {
		return err
	}
	instance, err := p.GetInstance(instanceTimeout)
	if err != nil {
		return fmt.Errorf("pdfium instance: %w", err)
	}
	defer instance.Close()
	return fn(instance)
}

// PageCount returns the number of pages in the PDF at path.
func PageCount(path string) (int, error) {
	var count int
	err := withInstance(func(instance pdfium.Pdfium) error {
		doc, err := instance.OpenDocument(&requests.OpenDocument{FilePath: &path})
		if err != nil {
			return fmt.Errorf("open pdf %s: %w", path, err)
		}
		defer instance.FPDF_CloseDocument(&requests.FPDF_CloseDocument{Document: doc.Document})
		pc, err := instance.FPDF_GetPageCount(&requests.FPDF_GetPageCount{Document: doc.Document})
		if err != nil {
			return fmt.Errorf("page count: %w", err)
		}
		count = pc.PageCount
		return nil
	})
	return count, err
}

// RenderPage rasterizes one page (0-based index) at the given DPI and returns
// a copy owned by the caller. DPI is validated against the crop package range;
// 0 selects the default.
func RenderPage(path string, pageIndex, dpi int) (image.Image, error) {
	dpi, err := crop.ValidateDPI(dpi)
	if err != nil {
		return nil, err
	}
	if pageIndex < 0 {
		return nil, fmt.Errorf("page index %d must be >= 0", pageIndex)
	}
	var out image.Image
	err = withInstance(func(instance pdfium.Pdfium) error {
		doc, err := instance.OpenDocument(&requests.OpenDocument{FilePath: &path})
		if err != nil {
			return fmt.Errorf("open pdf %s: %w", path, err)
		}
		defer instance.FPDF_CloseDocument(&requests.FPDF_CloseDocument{Document: doc.Document})

		pc, err := instance.FPDF_GetPageCount(&requests.FPDF_GetPageCount{Document: doc.Document})
		if err != nil {
			return fmt.Errorf("page count: %w", err)
		}
		if pageIndex >= pc.PageCount {
			return fmt.Errorf("page index %d out of range (document has %d pages)", pageIndex, pc.PageCount)
		}

		rendered, err := instance.RenderPageInDPI(&requests.RenderPageInDPI{
			DPI: dpi,
			Page: requests.Page{
				ByIndex: &requests.PageByIndex{Document: doc.Document, Index: pageIndex},
			},
		})
		if err != nil {
			return fmt.Errorf("render page %d: %w", pageIndex, err)
		}
		// The rendered buffer belongs to the instance; clone before release.
		out = imaging.Clone(rendered.Result.Image)
		rendered.Cleanup()
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
