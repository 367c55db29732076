package logging

import (
	"fmt"
	"path/filepath"
	"time"
)

const sessionLayout = "20060102_150405"

// LogFilePath returns the per-session log file for service under logsDir.
func LogFilePath(logsDir, service string, sessionStart time.Time) string {
	name := fmt.Sprintf("%s.%s.log", service, sessionStart.UTC().Format(sessionLayout))
	return filepath.Join(logsDir, name)
}
