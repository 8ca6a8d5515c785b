// Package drivers registers the database/sql drivers the preferences store
// can open. Binaries import it explicitly so package tests do not pay for
// every engine.
package drivers

// Ready is a no-op that makes the import explicit at the call site.
func Ready() {}
