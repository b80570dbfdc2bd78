package session

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/ashureev/citycast/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testKey = Key{AppName: "city_predictor_agent", UserID: "anonymous_reporter", SessionID: "default_anomaly_session"}

func TestGetMissingSession(t *testing.T) {
	svc := NewInMemoryService(PolicySerialize)

	_, err := svc.Get(context.Background(), testKey)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestCreateThenGetIsStable(t *testing.T) {
	ctx := context.Background()
	svc := NewInMemoryService(PolicySerialize)

	created, err := svc.Create(ctx, testKey)
	require.NoError(t, err)

	for range 3 {
		got, err := svc.Get(ctx, testKey)
		require.NoError(t, err)
		assert.Same(t, created, got)
	}
	assert.Equal(t, 1, svc.Len())
}

func TestCreateTwiceFails(t *testing.T) {
	ctx := context.Background()
	svc := NewInMemoryService(PolicySerialize)

	first, err := svc.Create(ctx, testKey)
	require.NoError(t, err)
	first.AppendEvent(&Event{StateDelta: map[string]string{"geocode": "x"}})

	_, err = svc.Create(ctx, testKey)
	require.ErrorIs(t, err, ErrAlreadyExists)

	got, err := svc.Get(ctx, testKey)
	require.NoError(t, err)
	v, ok := got.Value("geocode")
	assert.True(t, ok)
	assert.Equal(t, "x", v)
}

func TestGetOrCreate(t *testing.T) {
	ctx := context.Background()
	svc := NewInMemoryService(PolicySerialize)

	a, created, err := svc.GetOrCreate(ctx, testKey)
	require.NoError(t, err)
	assert.True(t, created)

	b, created, err := svc.GetOrCreate(ctx, testKey)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Same(t, a, b)
}

func TestKeysDoNotLeak(t *testing.T) {
	ctx := context.Background()
	svc := NewInMemoryService(PolicySerialize)

	a, err := svc.Create(ctx, testKey)
	require.NoError(t, err)
	other := testKey
	other.UserID = "someone_else"
	b, err := svc.Create(ctx, other)
	require.NoError(t, err)

	a.AppendEvent(&Event{StateDelta: map[string]string{"news": "flooding"}})

	_, ok := b.Value("news")
	assert.False(t, ok)

	otherSession := testKey
	otherSession.SessionID = "another"
	_, err = svc.Get(ctx, otherSession)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestAppendEventAppliesStateDelta(t *testing.T) {
	sess := newSession(testKey, time.Now())

	sess.AppendEvent(&Event{Author: "user", Content: domain.NewUserContent("hi")})
	sess.AppendEvent(&Event{Author: "formatter", Final: true, StateDelta: map[string]string{"directions": "one"}})
	sess.AppendEvent(&Event{Author: "formatter", Final: true, StateDelta: map[string]string{"directions": "two"}})

	events := sess.Events()
	require.Len(t, events, 3)
	assert.Equal(t, "user", events[0].Author)
	assert.False(t, events[0].Timestamp.IsZero())

	v, _ := sess.Value("directions")
	assert.Equal(t, "two", v)
}

func TestStateIsSnapshot(t *testing.T) {
	sess := newSession(testKey, time.Now())
	sess.AppendEvent(&Event{StateDelta: map[string]string{"geocode": "a"}})

	snap := sess.State()
	snap["geocode"] = "mutated"

	v, _ := sess.Value("geocode")
	assert.Equal(t, "a", v)
}

func TestAcquireSerializes(t *testing.T) {
	svc := NewInMemoryService(PolicySerialize)
	ctx := context.Background()

	release, err := svc.Acquire(ctx, testKey)
	require.NoError(t, err)

	acquired := make(chan struct{})
	go func() {
		r, err := svc.Acquire(ctx, testKey)
		if err == nil {
			close(acquired)
			r()
		}
	}()

	select {
	case <-acquired:
		t.Fatal("second request acquired a held session")
	case <-time.After(50 * time.Millisecond):
	}

	release()

	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatal("second request never acquired the released session")
	}
}

func TestAcquireHonoursContext(t *testing.T) {
	svc := NewInMemoryService(PolicySerialize)
	release, err := svc.Acquire(context.Background(), testKey)
	require.NoError(t, err)
	defer release()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = svc.Acquire(ctx, testKey)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestAcquireRejectPolicy(t *testing.T) {
	svc := NewInMemoryService(PolicyReject)
	ctx := context.Background()

	release, err := svc.Acquire(ctx, testKey)
	require.NoError(t, err)

	_, err = svc.Acquire(ctx, testKey)
	require.ErrorIs(t, err, ErrSessionBusy)

	other := testKey
	other.SessionID = "independent"
	r2, err := svc.Acquire(ctx, other)
	require.NoError(t, err)
	r2()

	release()
	r3, err := svc.Acquire(ctx, testKey)
	require.NoError(t, err)
	r3()
}

func TestConcurrentGetOrCreateReturnsOneSession(t *testing.T) {
	svc := NewInMemoryService(PolicySerialize)
	ctx := context.Background()

	var wg sync.WaitGroup
	results := make([]*Session, 16)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			s, _, err := svc.GetOrCreate(ctx, testKey)
			if err == nil {
				results[i] = s
			}
		}(i)
	}
	wg.Wait()

	for _, s := range results {
		assert.Same(t, results[0], s)
	}
}

func TestParsePolicy(t *testing.T) {
	p, err := ParsePolicy("reject")
	require.NoError(t, err)
	assert.Equal(t, PolicyReject, p)

	_, err = ParsePolicy("queue")
	require.Error(t, err)
}
