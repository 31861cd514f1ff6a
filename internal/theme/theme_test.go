package theme

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/nhle/tempmail/internal/model"
)

func TestExpiryStyle(t *testing.T) {
	assert.Equal(t, ColorRed, ExpiryStyle(time.Minute).GetForeground())
	assert.Equal(t, ColorRed, ExpiryStyle(-time.Minute).GetForeground())
	assert.Equal(t, ColorYellow, ExpiryStyle(30*time.Minute).GetForeground())
	assert.Equal(t, ColorGreen, ExpiryStyle(2*time.Hour).GetForeground())
}

func TestBadgeStyles(t *testing.T) {
	assert.Equal(t, ColorMagenta, TierStyle(model.TierPremium).GetForeground())
	assert.Equal(t, ColorGray, TierStyle(model.TierFree).GetForeground())
	assert.Equal(t, ColorGreen, ModeStyle(model.ModeSealed).GetForeground())
	assert.Equal(t, ColorYellow, ModeStyle(model.ModeManaged).GetForeground())
}
