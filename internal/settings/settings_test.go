package settings

import (
	"context"
	"testing"
	"time"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/outreach-cli/internal/model"
)

type countingStore struct {
	doc   model.Settings
	loads int
	saves int
	err   error
}

func (c *countingStore) LoadSettings(context.Context) (model.Settings, error) {
	c.loads++
	if c.err != nil {
		return model.Settings{}, c.err
	}
	return c.doc, nil
}

func (c *countingStore) SaveSettings(_ context.Context, s model.Settings) error {
	c.saves++
	c.doc = s
	return nil
}

func TestService_CachesForTTL(t *testing.T) {
	st := &countingStore{doc: model.DefaultSettings()}
	svc := New(st, 10*time.Second)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return now }

	ctx := context.Background()
	_, err := svc.Get(ctx)
	require.NoError(t, err)
	_, err = svc.Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, st.loads)

	now = now.Add(11 * time.Second)
	_, err = svc.Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, st.loads)

	svc.Invalidate()
	_, err = svc.Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, st.loads)
}

func TestService_SaveValidatesAndRefreshes(t *testing.T) {
	st := &countingStore{doc: model.DefaultSettings()}
	svc := New(st, time.Minute)
	ctx := context.Background()

	var seen []model.Settings
	svc.OnChange(func(s model.Settings) { seen = append(seen, s) })

	bad := model.DefaultSettings()
	bad.SearchIntervalSeconds = 60
	require.Error(t, svc.Save(ctx, bad))
	assert.Equal(t, 0, st.saves)

	good := model.DefaultSettings()
	good.MasterSwitch = true
	require.NoError(t, svc.Save(ctx, good))

	got, err := svc.Get(ctx)
	require.NoError(t, err)
	assert.True(t, got.MasterSwitch)
	assert.Equal(t, 0, st.loads, "save should seed the cache")
	require.Len(t, seen, 1)
	assert.True(t, seen[0].MasterSwitch)
}

func TestService_LoadErrorIsReturned(t *testing.T) {
	st := &countingStore{err: eris.New("db down")}
	svc := New(st, 0)
	_, err := svc.Get(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "settings: load")
}
