package texrender

import (
	"fmt"

	"github.com/signintech/gopdf"

	"github.com/practice-lms/practice/internal/model"
)

const (
	fallbackMargin   = 40.0
	fallbackLineH    = 18.0
	fallbackFontSize = 12
)

// FallbackPDF builds a plain-text practice sheet with gopdf, used when the
// TeX toolchain is unavailable. Question stems are emitted as raw source.
// fontPath must point to a TTF file.
func FallbackPDF(fontPath, sid string, questions []model.Question) ([]byte, error) {
	pdf := gopdf.GoPdf{}
	pdf.Start(gopdf.Config{PageSize: *gopdf.PageSizeA4})
	if err := pdf.AddTTFFont("body", fontPath); err != nil {
		return nil, fmt.Errorf("load fallback font: %w", err)
	}
	if err := pdf.SetFont("body", "", fallbackFontSize); err != nil {
		return nil, err
	}

	w := newPageWriter(&pdf)
	w.line(fmt.Sprintf("Practice sheet for %s", sid))
	w.line("")
	for i, q := range questions {
		w.wrapped(fmt.Sprintf("%d. %s", i+1, q.Stem))
		for _, key := range sortedKeys(q.Choices) {
			w.wrapped(fmt.Sprintf("   (%s) %s", key, q.Choices[key]))
		}
		w.line("")
	}
	if w.err != nil {
		return nil, w.err
	}
	return pdf.GetBytesPdf(), nil
}

// pageWriter emits lines top to bottom, starting a fresh page when the
// cursor runs past the bottom margin.
type pageWriter struct {
	pdf *gopdf.GoPdf
	y   float64
	err error
}

func newPageWriter(pdf *gopdf.GoPdf) *pageWriter {
	pdf.AddPage()
	return &pageWriter{pdf: pdf, y: fallbackMargin}
}

func (w *pageWriter) line(text string) {
	if w.err != nil {
		return
	}
	if w.y+fallbackLineH > gopdf.PageSizeA4.H-fallbackMargin {
		w.pdf.AddPage()
		w.y = fallbackMargin
	}
	w.pdf.SetXY(fallbackMargin, w.y)
	w.err = w.pdf.Cell(nil, text)
	w.y += fallbackLineH
}

func (w *pageWriter) wrapped(text string) {
	if w.err != nil {
		return
	}
	width := gopdf.PageSizeA4.W - 2*fallbackMargin
	lines, err := w.pdf.SplitTextWithWordWrap(text, width)
	if err != nil {
		// Unsplittable text (e.g. a single very long token) goes out as-is.
		w.line(text)
		return
	}
	for _, l := range lines {
		w.line(l)
	}
}
