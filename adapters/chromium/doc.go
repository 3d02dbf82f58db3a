// Package exportchromium opens print surfaces as headless Chromium tabs.
//
// Each surface is a blank tab driven over the DevTools protocol with chromedp.
// Printing renders the tab with Page.printToPDF and stores the result in the
// configured print sink.
package exportchromium
