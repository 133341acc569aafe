package dmcp

import (
	"os"
	"path/filepath"
)

const (
	DefaultAppName = "dmcp"

	// DefaultRecordDSN keeps execution records in a shared in-memory database so
	// they never outlive the process.
	DefaultRecordDSN = "file::memory:?cache=shared"

	DefaultPlannerBackend = "remote"
	DefaultProviderKind   = "none"
)

// DefaultConfigPath is the per-user configuration directory.
var DefaultConfigPath = func() string {
	if dir, err := os.UserConfigDir(); err == nil {
		return filepath.Join(dir, DefaultAppName)
	}
	return filepath.Join(".", "."+DefaultAppName)
}()
