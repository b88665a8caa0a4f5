package utils

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDetectContentType(t *testing.T) {
	assert.Equal(t, "text/plain; charset=utf-8", DetectContentType("notes.md", nil))
	assert.Equal(t, "text/plain; charset=utf-8", DetectContentType("config.yaml", nil))
	assert.Equal(t, "application/pdf", DetectContentType("paper.pdf", nil))

	// no extension: sniff the bytes
	assert.Equal(t, "application/pdf", DetectContentType("", []byte("%PDF-1.7 rest of file")))

	// nothing to go by
	assert.Equal(t, "application/octet-stream", DetectContentType("", nil))
}
