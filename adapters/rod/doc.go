// Package exportrod opens print surfaces as pages of a rod-managed browser.
//
// Paper geometry comes from the @page rule of the print style block; the PDF
// options only toggle orientation, backgrounds and CSS page sizing.
package exportrod
