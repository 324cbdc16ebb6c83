package policy

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeOverrides struct {
	o   Overrides
	ok  bool
	err error
}

func (f fakeOverrides) TenantPolicy(context.Context, string) (Overrides, bool, error) {
	return f.o, f.ok, f.err
}

func TestLoadMergesOntoDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "policy.yaml")
	require.NoError(t, os.WriteFile(path, []byte("defaults:\n  timezone: Europe/London\n  min_advance_minutes: 30\n"), 0o600))

	p, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "Europe/London", p.Timezone)
	assert.Equal(t, 30, p.MinAdvanceMinutes)
	assert.Equal(t, 15, p.HoldTTLMinutes)
	assert.Equal(t, 62, p.MaxRangeDays)
}

func TestLoadRejectsInvalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "policy.yaml")
	require.NoError(t, os.WriteFile(path, []byte("defaults:\n  timezone: Mars/Olympus\n"), 0o600))
	_, err := Load(path)
	assert.Error(t, err)

	p, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Defaults(), p)
}

func TestProviderAppliesOverrides(t *testing.T) {
	tz := "America/New_York"
	ttl := 5
	bad := -1
	prov := NewProvider(Defaults(), fakeOverrides{ok: true, o: Overrides{Timezone: &tz, HoldTTLMinutes: &ttl, MinAdvanceMinutes: &bad}})

	p, err := prov.Policy(context.Background(), "tenant-1")
	require.NoError(t, err)
	assert.Equal(t, tz, p.Timezone)
	assert.Equal(t, 5, p.HoldTTLMinutes)
	assert.Equal(t, 0, p.MinAdvanceMinutes)
}

func TestProviderPropagatesStoreErrors(t *testing.T) {
	boom := errors.New("db down")
	_, err := NewProvider(Defaults(), fakeOverrides{err: boom}).Policy(context.Background(), "t")
	assert.ErrorIs(t, err, boom)

	p, err := NewProvider(Defaults(), nil).Policy(context.Background(), "t")
	require.NoError(t, err)
	assert.Equal(t, Defaults(), p)
}
