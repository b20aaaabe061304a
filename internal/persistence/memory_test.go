package persistence_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/voxelcore/server/internal/persistence"
)

func TestBinaryRoundTripAndDelete(t *testing.T) {
	ctx := context.Background()
	m := persistence.NewMemory()

	_, found, err := m.GetBinary(ctx, "columns", "0:0")
	require.NoError(t, err)
	require.False(t, found)

	require.NoError(t, m.SaveBinary(ctx, "columns", "0:0", []byte{1, 2, 3}))
	data, found, err := m.GetBinary(ctx, "columns", "0:0")
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, []byte{1, 2, 3}, data)

	require.NoError(t, m.DeleteBinary(ctx, "columns", "0:0"))
	_, found, err = m.GetBinary(ctx, "columns", "0:0")
	require.NoError(t, err)
	require.False(t, found)
}

func TestSettingsRoundTrip(t *testing.T) {
	ctx := context.Background()
	m := persistence.NewMemory()

	require.NoError(t, m.SetSetting(ctx, "server", "motd", "hello"))
	v, found, err := m.GetSetting(ctx, "server", "motd")
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, "hello", v)

	require.NoError(t, m.DeleteSetting(ctx, "server", "motd"))
	_, found, err = m.GetSetting(ctx, "server", "motd")
	require.NoError(t, err)
	require.False(t, found)
}

func TestMultimapInsertIsIdempotentAndDeletable(t *testing.T) {
	ctx := context.Background()
	m := persistence.NewMemory()

	require.NoError(t, m.InsertValue(ctx, "bans", "1.2.3.4", "griefing"))
	require.NoError(t, m.InsertValue(ctx, "bans", "1.2.3.4", "griefing"))
	require.NoError(t, m.InsertValue(ctx, "bans", "1.2.3.4", "cheating"))

	values, err := m.GetValues(ctx, "bans", "1.2.3.4")
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"griefing", "cheating"}, values)

	require.NoError(t, m.DeleteValue(ctx, "bans", "1.2.3.4", "griefing"))
	values, err = m.GetValues(ctx, "bans", "1.2.3.4")
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"cheating"}, values)
}

func TestLogSinksAreAppendOnly(t *testing.T) {
	ctx := context.Background()
	m := persistence.NewMemory()

	require.NoError(t, m.WriteLog(ctx, "server", "started"))
	require.NoError(t, m.WriteLog(ctx, "server", "player joined"))
	require.NoError(t, m.WriteChatLog(ctx, "global", "<alice> hi"))

	require.Equal(t, []string{"started", "player joined"}, m.Log("server"))
	require.Equal(t, []string{"<alice> hi"}, m.ChatLog("global"))
}
