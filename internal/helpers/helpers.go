package helpers

import (
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strings"

	log "github.com/sirupsen/logrus"
)

// SanitizeSegment makes a string safe to use as a single path segment. Path
// separators, control characters and characters that are unsafe on common
// filesystems are replaced with underscores, repeated separators collapsed.
// Album names and original filenames pass through here before planning.
func SanitizeSegment(name string) string {
	const unsafe = `<>:"/\|?*`

	var b strings.Builder
	for _, ch := range name {
		switch {
		case ch < 0x20 || ch == 0x7f:
			b.WriteRune('_')
		case strings.ContainsRune(unsafe, ch):
			b.WriteRune('_')
		default:
			b.WriteRune(ch)
		}
	}
	s := b.String()

	for strings.Contains(s, "__") {
		s = strings.ReplaceAll(s, "__", "_")
	}
	s = strings.Trim(s, " ._")

	// Dot-only names would escape the directory or collide with "." / "..".
	if s == "" {
		return "unnamed"
	}

	// Keep within common filename length limits, preserving the extension.
	if len(s) > 255 {
		ext := filepath.Ext(s)
		s = s[:255-len(ext)] + ext
	}
	return s
}

// CounterWriter tracks bytes written through it and reports them via an
// optional callback, used to surface per-item download progress.
type CounterWriter struct {
	Total   int64
	Writer  io.Writer
	OnChunk func(total int64)
}

// Write implements io.Writer.
func (cw *CounterWriter) Write(p []byte) (int, error) {
	n, err := cw.Writer.Write(p)
	cw.Total += int64(n)
	if cw.OnChunk != nil {
		cw.OnChunk(cw.Total)
	}
	return n, err
}

// BytesToSize converts a byte count into a human-readable string (KB, MB, GB, etc.).
func BytesToSize(bytes uint64) string {
	sizes := []string{"B", "KB", "MB", "GB", "TB"}
	if bytes == 0 {
		return "0B"
	}
	i := int(math.Floor(math.Log(float64(bytes)) / math.Log(1024)))
	if i >= len(sizes) {
		i = len(sizes) - 1
	}
	return fmt.Sprintf("%.2f%s", float64(bytes)/math.Pow(1024, float64(i)), sizes[i])
}

// CheckAndMakeDir ensures a directory exists, creating it if necessary.
// Uses standard directory permissions (0700).
func CheckAndMakeDir(dir string) bool {
	err := os.MkdirAll(dir, 0700)
	if err != nil {
		log.WithError(err).Errorf("Error creating directory %s", dir)
		return false
	}
	return true
}
