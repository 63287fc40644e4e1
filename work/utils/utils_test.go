package utils

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestObfuscateURL(t *testing.T) {
	assert.Equal(t, "", ObfuscateURL(""))
	assert.Equal(t, "https://api.example.com/***?***",
		ObfuscateURL("https://api.example.com/objects/abc123?token=secret"))
	assert.Equal(t, "https://api.example.com", ObfuscateURL("https://api.example.com"))
}

func TestLogURL(t *testing.T) {
	u := "https://api.example.com/objects/abc?token=x"
	assert.Equal(t, u, LogURL(false, u))
	assert.NotContains(t, LogURL(true, u), "token=x")
}

func TestFormatBytes(t *testing.T) {
	assert.Equal(t, "512 B", FormatBytes(512))
	assert.Equal(t, "1.0 KB", FormatBytes(1024))
	assert.Equal(t, "1.5 MB", FormatBytes(3*1024*1024/2))
}

func TestSanitizeSegmentName(t *testing.T) {
	assert.Equal(t, "seg00001.ts", SanitizeSegmentName("seg00001.ts"))
	assert.Equal(t, "passwd", SanitizeSegmentName("../../etc/passwd"))
	assert.Equal(t, "seg00001.ts", SanitizeSegmentName("..\\..\\seg00001.ts"))
}
