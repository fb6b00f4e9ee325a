// Package capi declares the raw libproxy entry points. Most users should use
// the top-level libproxy package, which owns every pointer returned here and
// releases it exactly once. Import this package directly only to select a
// backend or to plug in a custom Library.
//
// The cgo backend is compiled only with the libproxy build tag:
//
//	CGO_ENABLED=1 go build -tags libproxy ./...
//
// Without the tag, System returns a Library whose factory constructor always
// fails, so callers see libproxy.ErrUnavailable instead of a link error.
package capi
