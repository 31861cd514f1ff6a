package ui

import (
	"strings"
	"testing"

	"github.com/charmbracelet/lipgloss"
	"github.com/stretchr/testify/assert"
)

func TestLayout_ContentHeight(t *testing.T) {
	assert.Equal(t, 22, NewLayout(80, 24).ContentHeight())
	assert.Equal(t, 0, NewLayout(80, 1).ContentHeight())
	assert.Equal(t, 80, NewLayout(80, 24).ContentWidth())
}

func TestLayout_Bars(t *testing.T) {
	l := NewLayout(60, 24)

	header := l.RenderHeader("abc@a.test", "59m left")
	assert.Contains(t, header, "abc@a.test")
	assert.Contains(t, header, "59m left")
	assert.Equal(t, 60, lipgloss.Width(header))

	status := l.RenderStatusBar("q quit", "")
	assert.Contains(t, status, "q quit")

	errBar := l.RenderStatusBar("q quit", "connection lost")
	assert.Contains(t, errBar, "connection lost")
	assert.NotContains(t, errBar, "q quit")

	frame := l.RenderWithFrame(header, "body", status)
	assert.Len(t, strings.Split(frame, "\n"), 3)
}
