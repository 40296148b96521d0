package downloader

import (
	"encoding/json"
	"os"
)

// writeAttributeSidecar saves the source's attribute bag next to the asset.
// The core never interprets the attributes; they are copied verbatim for
// external tools to consume.
func writeAttributeSidecar(path string, attrs map[string]string) error {
	data, err := json.MarshalIndent(attrs, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0600)
}
