// Package cdpi binds the vendor DPI client library through cgo and
// registers it as the "dmdpi" native interface.
//
// The binding is only compiled with cgo enabled and the dmdpi build tag:
//
//	CGO_CFLAGS="-I$DM_HOME/include" CGO_LDFLAGS="-L$DM_HOME/bin" go build -tags dmdpi ./...
//
// Without the tag the package is empty and importing it has no effect.
package cdpi
