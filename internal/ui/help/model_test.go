package help

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/nhle/tempmail/internal/keys"
)

func TestView(t *testing.T) {
	m := New(keys.DefaultKeyMap(), []string{"refresh", "extend <dur>"}, 120, 30)
	view := m.View()
	assert.Contains(t, view, "Keyboard Shortcuts")
	assert.Contains(t, view, "delete message")
	assert.Contains(t, view, "extend <dur>")
}
