package extraction

import (
	"context"
	"os"
	"strings"
)

// PlaintextFileExtractor reads an already-decrypted text file directly,
// with no model involved (spec §4.B plaintext path). It is the one
// TextExtractor binding this package provides outright, since it needs no
// PDF parser or rasterizer; a digital PDF's embedded text layer is a
// genuine external collaborator and is not implemented here.
type PlaintextFileExtractor struct{}

// ExtractText returns the file's content as a single page. A form-feed
// byte (0x0C) is treated as an explicit page break, matching how plain
// text exports from record systems commonly delimit pages.
func (PlaintextFileExtractor) ExtractText(ctx context.Context, stagedPath string) ([]string, error) {
	data, err := os.ReadFile(stagedPath)
	if err != nil {
		return nil, err
	}
	pages := strings.Split(string(data), "\f")
	for i, p := range pages {
		pages[i] = strings.TrimRight(p, "\r\n")
	}
	return pages, nil
}
