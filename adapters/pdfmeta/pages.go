// Package pdfmeta inspects printed PDF output.
package pdfmeta

import (
	"bytes"

	"github.com/goliatone/go-pageprint/export"
	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
)

// ContentType is the media type of printed PDF artifacts.
const ContentType = "application/pdf"

var pdfMagic = []byte("%PDF")

// IsPDF reports whether data starts with the PDF header.
func IsPDF(data []byte) bool {
	return bytes.HasPrefix(data, pdfMagic)
}

// PageCount validates pdf and returns its page count.
func PageCount(pdf []byte) (int, error) {
	if !IsPDF(pdf) {
		return 0, export.NewError(export.KindValidation, "printed output is not a pdf", nil)
	}

	conf := model.NewDefaultConfiguration()
	ctx, err := api.ReadValidateAndOptimize(bytes.NewReader(pdf), conf)
	if err != nil {
		return 0, export.NewError(export.KindPrintFailed, "printed pdf is invalid", err)
	}
	return ctx.PageCount, nil
}
