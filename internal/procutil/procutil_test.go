package procutil

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStalePatterns(t *testing.T) {
	patterns := stalePatterns(".pdd_user_data")
	assert.Equal(t, []string{
		"--user-data-dir=.pdd_user_data",
		"--remote-debugging-pipe",
		"--disable-blink-features=AutomationControlled",
	}, patterns)

	// Without a profile dir only the generic automation markers remain.
	assert.Len(t, stalePatterns(""), 2)
}
