package storage

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRecordingKey(t *testing.T) {
	assert.Equal(t, "recordings/s1/cap_1_.mp4", RecordingKey("s1", "cap 1/", ""))
	assert.Equal(t, "recordings/s1/a-b.webm", RecordingKey("s1", "a-b", ".WEBM"))
}

func TestContentTypeForFormat(t *testing.T) {
	assert.Equal(t, "video/mp4", ContentTypeForFormat(""))
	assert.Equal(t, "audio/ogg", ContentTypeForFormat("OGG"))
	assert.Equal(t, "application/octet-stream", ContentTypeForFormat("avi"))
}
