package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"karmicbot/pkg/karma/store"
)

type fakeStore struct {
	store.Store
	perTargetTotal float64
	globalTotal    float64
}

func (f *fakeStore) SumAbsWeightedKarma(ctx context.Context, userFrom, chatID, targetID int64, since time.Time) (float64, error) {
	if targetID != 0 {
		return f.perTargetTotal, nil
	}
	return f.globalTotal, nil
}

func TestCheckPassesUnderLimits(t *testing.T) {
	fs := &fakeStore{perTargetTotal: 0.1, globalTotal: 0.1}
	l := New(fs, nil, nil, nil)

	err := l.Check(context.Background(), 1, 2, 100, 0, time.Now())
	require.NoError(t, err)
}

func TestCheckThrottlesPerTarget(t *testing.T) {
	// power(0) = 1.0, first per-target default limit is 3/hour => max=3.0
	fs := &fakeStore{perTargetTotal: 3.0, globalTotal: 0}
	l := New(fs, nil, nil, nil)

	err := l.Check(context.Background(), 1, 2, 100, 0, time.Now())
	require.Error(t, err)
	var thr *ErrThrottled
	require.ErrorAs(t, err, &thr)
	assert.Equal(t, "per_target", thr.Scope)
}

func TestCheckThrottlesGlobalAfterPerTargetPasses(t *testing.T) {
	fs := &fakeStore{perTargetTotal: 0, globalTotal: 10.0} // global default rate=10
	l := New(fs, nil, nil, nil)

	err := l.Check(context.Background(), 1, 2, 100, 0, time.Now())
	require.Error(t, err)
	var thr *ErrThrottled
	require.ErrorAs(t, err, &thr)
	assert.Equal(t, "global", thr.Scope)
}

func TestCheckHigherPowerRaisesBudget(t *testing.T) {
	fs := &fakeStore{perTargetTotal: 3.0, globalTotal: 0}
	l := New(fs, nil, nil, nil)

	// With a high reactor karma, power() is well above 1.0, raising the
	// effective budget above the raw total.
	err := l.Check(context.Background(), 1, 2, 100, 1000, time.Now())
	assert.NoError(t, err)
}

type fakeAccelerator struct {
	calls map[string]float64
}

func (f *fakeAccelerator) IncrByFloat(ctx context.Context, key string, delta float64) (float64, error) {
	if f.calls == nil {
		f.calls = map[string]float64{}
	}
	f.calls[key] += delta
	return f.calls[key], nil
}

func TestRecordNoopWithoutAccelerator(t *testing.T) {
	l := New(&fakeStore{}, nil, nil, nil)
	assert.NoError(t, l.Record(context.Background(), "key", 1))
}

func TestRecordUsesAccelerator(t *testing.T) {
	accel := &fakeAccelerator{}
	l := New(&fakeStore{}, nil, nil, accel)
	require.NoError(t, l.Record(context.Background(), "key", 1.5))
	assert.Equal(t, 1.5, accel.calls["key"])
}
