package investigator

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func apiRequest(t testing.TB, bot *Investigator, path string) *httptest.ResponseRecorder {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, path, nil)
	require.NoError(t, err)
	w := httptest.NewRecorder()
	bot.api.engine.ServeHTTP(w, req)
	return w
}

func TestHealthCheck(t *testing.T) {
	bot, _ := newTestInvestigator(t)

	w := apiRequest(t, bot, apiHealthCheck)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	var health healthCheckResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &health))
	assert.False(t, health.DiscordGatewayConnected)

	bot.discord.connected.Store(true)

	w = apiRequest(t, bot, apiHealthCheck)
	assert.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &health))
	assert.True(t, health.DiscordGatewayConnected)
}

func TestBotStatus(t *testing.T) {
	ctx := testContext(t)
	bot, _ := newTestInvestigator(t)

	require.NoError(
		t,
		bot.writeDB.CreateTruthBullet(
			ctx,
			NewTruthBullet("guild-1", "channel-1", "locked door", "it was locked", false),
		),
	)
	found := NewTruthBullet("guild-1", "channel-1", "broken watch", "stopped at 3pm", false)
	require.NoError(t, bot.writeDB.CreateTruthBullet(ctx, found))
	require.NoError(t, bot.writeDB.CommitDiscovery(ctx, found, "finder-1"))

	config, err := bot.writeDB.GetOrCreateGuildConfig(ctx, "guild-1", SubConfigBullets)
	require.NoError(t, err)
	config.Bullets.BulletsEnabled = true
	_, err = bot.writeDB.Save(ctx, config.Bullets)
	require.NoError(t, err)
	require.NoError(t, bot.refreshEnabledGuilds(ctx))

	bot.discord.metricMessagesSeen.Store(42)
	bot.discord.connected.Store(true)

	w := apiRequest(t, bot, apiPathStatus)
	require.Equal(t, http.StatusOK, w.Code)
	assert.NotEmpty(t, w.Header().Get(xRequestIDHeader))

	var status botStatusResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &status))

	assert.Equal(t, Version, status.Version)
	assert.Equal(t, 1, status.EnabledGuilds)
	assert.Equal(t, int64(2), status.TruthBullets.Total)
	assert.Equal(t, int64(1), status.TruthBullets.Found)
	assert.Equal(t, int64(1), status.TruthBullets.Unfound)
	assert.Equal(t, int64(42), status.Discord.MessagesSeen)
	assert.True(t, status.Discord.Connected)
}

func TestMetricMiddlewareCountsRequests(t *testing.T) {
	bot, _ := newTestInvestigator(t)

	apiRequest(t, bot, apiHealthCheck)
	apiRequest(t, bot, apiHealthCheck)
	w := apiRequest(t, bot, apiPathStatus)
	require.Equal(t, http.StatusOK, w.Code)

	var status botStatusResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &status))
	assert.Equal(t, 2, status.Requests["GET "+apiHealthCheck])
	assert.Equal(t, 1, status.Requests["GET "+apiPathStatus])
}
