package investigator

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewDBNotifierSQLite(t *testing.T) {
	bot, _ := newTestInvestigator(t)

	notifier, err := newDBNotifier(bot)
	require.NoError(t, err)
	require.IsType(t, &sqliteNotifier{}, notifier)

	assert.NotEmpty(t, notifier.ID())
	// sqlite instances are single-process, so there are no LISTEN channels
	assert.Empty(t, notifier.ReloadEnabledGuildsChannelName())
	assert.Empty(t, notifier.StopChannelName())
	assert.NoError(t, notifier.Listen(testContext(t), ""))
}

func TestSQLiteNotifierReloadEnabledGuilds(t *testing.T) {
	bot, _ := newTestInvestigator(t)
	ctx := testContext(t)

	notifier, err := newDBNotifier(bot)
	require.NoError(t, err)

	assert.True(t, notifier.ReloadEnabledGuilds(ctx))

	select {
	case <-bot.triggerEnabledGuildsRefreshCh:
	//
	case <-time.After(time.Second):
		t.Fatal("expected a refresh signal")
	}

	// with the channel full and the context expired, the send reports failure
	bot.triggerEnabledGuildsRefreshCh <- true
	expired, cancel := context.WithCancel(ctx)
	cancel()
	assert.False(t, notifier.ReloadEnabledGuilds(expired))
}

func TestGuildJoinLeaveTriggerEnabledGuildsRefresh(t *testing.T) {
	bot, _ := newTestInvestigator(t)

	notifier, err := newDBNotifier(bot)
	require.NoError(t, err)
	bot.dbNotifier = notifier

	bot.handleGuildJoin("guild-1")
	select {
	case <-bot.triggerEnabledGuildsRefreshCh:
	//
	case <-time.After(time.Second):
		t.Fatal("expected a refresh signal after guild join")
	}

	bot.handleGuildLeave("guild-1")
	select {
	case <-bot.triggerEnabledGuildsRefreshCh:
	//
	case <-time.After(time.Second):
		t.Fatal("expected a refresh signal after guild leave")
	}
}

func TestSQLiteNotifierStop(t *testing.T) {
	bot, _ := newTestInvestigator(t)
	ctx := testContext(t)

	bot.signalStop = make(chan struct{}, 1)

	notifier, err := newDBNotifier(bot)
	require.NoError(t, err)

	assert.True(t, notifier.Stop(ctx))

	select {
	case <-bot.signalStop:
	//
	case <-time.After(time.Second):
		t.Fatal("expected a stop signal")
	}
}
