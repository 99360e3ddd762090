package browser

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDefaultOptions(t *testing.T) {
	opts := DefaultOptions()

	assert.True(t, opts.Headless)
	assert.Equal(t, 30*time.Second, opts.Timeout)
	assert.Equal(t, 1920, opts.ViewportWidth)
	assert.Equal(t, 1080, opts.ViewportHeight)
	assert.Equal(t, "en-US", opts.Locale)
	assert.Contains(t, opts.ExtraHeaders, "Accept-Language")
}

func TestIsBotCheck(t *testing.T) {
	tests := []struct {
		name    string
		title   string
		content string
		want    bool
	}{
		{"amazon captcha", "Amazon.com", `<form action="/errors/validateCaptcha">`, true},
		{"robot check title", "Robot Check", "", true},
		{"walmart press and hold", "Robot or human?", "<p>Robot or human?</p>", true},
		{"search results", "Amazon.com : laptop", `<div data-component-type="s-search-result">`, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsBotCheck(tt.title, tt.content))
		})
	}
}
