package watcher

import (
	"io"
	"os"
	"path/filepath"
	"strings"
)

const captionExt = ".txt"

// maxCaptionBytes bounds how much of a sidecar is read; captions are cut to a few dozen
// words anyway.
const maxCaptionBytes = 16 << 10

// readCaption returns the contents of the photo's caption sidecar, or "" when there is none.
func readCaption(photoPath string) string {
	sidecar := strings.TrimSuffix(photoPath, filepath.Ext(photoPath)) + captionExt
	f, err := os.Open(sidecar)
	if err != nil {
		return ""
	}
	defer f.Close()
	data, err := io.ReadAll(io.LimitReader(f, maxCaptionBytes))
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}
