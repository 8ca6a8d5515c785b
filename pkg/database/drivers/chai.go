//go:build dragonfly || ios || freebsd || darwin || (linux && ppc64) || (linux && ppc64le) || (linux && s390x) || (linux && amd64) || (linux && mips64) || (linux && mips64le) || (linux && arm64) || android || (windows && amd64) || (windows && arm64)

package drivers

import (
	"database/sql"
	"database/sql/driver"

	sqlite "modernc.org/sqlite"
)

// "chai" opens SQLite-compatible files without the WAL pragmas the
// "sqlite" name gets, for hosts where WAL files are unwelcome.
func init() {
	sql.Register("chai", newChaiDriver())
}

func newChaiDriver() driver.Driver {
	return &sqlite.Driver{}
}
