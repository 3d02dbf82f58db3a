// Package exportrouter exposes the print export trigger over go-router.
//
// The host page is served with an overlay export control that posts back to
// the export route. Exports, surface releases and listings are dispatched as
// go-command messages, so the matching handlers must be subscribed.
package exportrouter
