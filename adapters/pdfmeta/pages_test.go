package pdfmeta

import (
	"testing"

	"github.com/goliatone/go-pageprint/export"
)

func TestIsPDF(t *testing.T) {
	if !IsPDF([]byte("%PDF-1.7\n")) {
		t.Fatalf("expected pdf header to be detected")
	}
	if IsPDF([]byte("<html>")) || IsPDF(nil) {
		t.Fatalf("expected non-pdf input to be rejected")
	}
}

func TestPageCount_RejectsNonPDF(t *testing.T) {
	_, err := PageCount([]byte("<!doctype html><html></html>"))
	if export.KindFromError(err) != export.KindValidation {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestPageCount_RejectsTruncatedPDF(t *testing.T) {
	_, err := PageCount([]byte("%PDF-1.7\n1 0 obj\n<<"))
	if export.KindFromError(err) != export.KindPrintFailed {
		t.Fatalf("expected print_failed error, got %v", err)
	}
}
