package fetch

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maltedev/search-spider/internal/config"
)

func TestNewStack_HTTPOnly(t *testing.T) {
	cfg := config.Default().Scraper
	cfg.Browser = false
	cfg.RateLimitMin = time.Millisecond
	cfg.RateLimitMax = 2 * time.Millisecond

	s, err := NewStack(cfg, nil)
	require.NoError(t, err)

	assert.NotNil(t, s.HTTP)
	assert.Nil(t, s.Browser)
	assert.NoError(t, s.Close())
}

func TestNewStack_BadProxy(t *testing.T) {
	cfg := config.Default().Scraper
	cfg.Browser = false
	cfg.Proxies = []string{"://bad"}

	_, err := NewStack(cfg, nil)
	assert.Error(t, err)
}
