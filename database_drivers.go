//go:build !test

// Production builds link every SQL backend; go test/go vet skip this file
// via the build tag.
package main

import "isotope-route-dashboard/pkg/database/drivers"

func init() {
	drivers.Ready()
}
