package restriction

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDecideFirstCrossingIsNotificationOnly(t *testing.T) {
	d := Decide(Input{KarmaBefore: 0.5, KarmaAfter: -0.1, PriorAutoMutes: 0})
	assert.True(t, d.FirstCrossing)
	assert.False(t, d.AutoMute)
}

func TestDecideNoActionWithoutPriorAutoMute(t *testing.T) {
	d := Decide(Input{KarmaBefore: -1, KarmaAfter: -1.5, PriorAutoMutes: 0})
	assert.False(t, d.FirstCrossing)
	assert.False(t, d.AutoMute)
}

func TestDecideAutoMuteEscalates(t *testing.T) {
	base := 10 * time.Minute
	d := Decide(Input{KarmaBefore: -1, KarmaAfter: -1.5, PriorAutoMutes: 1, Base: base})
	assert.True(t, d.AutoMute)
	assert.Equal(t, base*2, d.Duration)

	d2 := Decide(Input{KarmaBefore: -1, KarmaAfter: -1.5, PriorAutoMutes: 3, Base: base})
	assert.True(t, d2.AutoMute)
	assert.Equal(t, base*8, d2.Duration)
}

func TestDecideNoActionWhenKarmaNotDropping(t *testing.T) {
	d := Decide(Input{KarmaBefore: -1, KarmaAfter: -0.5, PriorAutoMutes: 2})
	assert.False(t, d.AutoMute)
}

func TestDecideUsesDefaultBaseWhenUnset(t *testing.T) {
	d := Decide(Input{KarmaBefore: -1, KarmaAfter: -2, PriorAutoMutes: 1})
	assert.Equal(t, DefaultBaseDuration*2, d.Duration)
}
