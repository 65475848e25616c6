package investigator

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func testContext(t testing.TB) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	t.Cleanup(cancel)
	return ctx
}

func setupTestDB(t testing.TB) *gorm.DB {
	t.Helper()
	cfg := DefaultTestConfig(t)
	db, err := CreateDB(context.Background(), cfg.DatabaseType, cfg.Database)
	if err != nil {
		t.Fatalf("error creating test database: %v", err)
	}
	t.Cleanup(
		func() {
			sqlDB, _ := db.DB()
			if sqlDB != nil {
				_ = sqlDB.Close()
			}
		},
	)
	return db
}

// newTestWriteDB returns a DBI backed by a fresh per-test sqlite database.
func newTestWriteDB(t testing.TB) DBI {
	t.Helper()
	return NewDatabase(setupTestDB(t), testLogger(t), false)
}

// newTestInvestigator returns a bot with an initialized per-test sqlite
// database and a mock discord session. The bot is not running: tests call
// handlers directly.
func newTestInvestigator(t testing.TB) (*Investigator, *mockDiscordSession) {
	t.Helper()
	cfg := DefaultTestConfig(t)

	bot, err := New(cfg)
	require.NoError(t, err)

	mock := newMockDiscordSession()
	bot.discord.session = mock

	ctx := testContext(t)
	require.NoError(t, bot.initDB(ctx))
	t.Cleanup(
		func() {
			sqlDB, _ := bot.db.DB()
			if sqlDB != nil {
				_ = sqlDB.Close()
			}
		},
	)
	require.NoError(t, bot.refreshEnabledGuilds(ctx))
	return bot, mock
}

func TestRefreshEnabledGuilds(t *testing.T) {
	bot, _ := newTestInvestigator(t)
	ctx := testContext(t)

	enabled := newBulletConfig("guild-enabled")
	enabled.BulletsEnabled = true

	commandOnly := newBulletConfig("guild-command-only")
	commandOnly.BulletsEnabled = true
	commandOnly.InvestigationType = InvestigationCommandOnly

	disabled := newBulletConfig("guild-disabled")

	for _, c := range []*BulletConfig{enabled, commandOnly, disabled} {
		_, err := bot.writeDB.Create(ctx, c)
		require.NoError(t, err)
	}

	require.NoError(t, bot.refreshEnabledGuilds(ctx))

	assert.True(t, bot.BulletsEnabledForGuild("guild-enabled"))
	assert.False(t, bot.BulletsEnabledForGuild("guild-command-only"))
	assert.False(t, bot.BulletsEnabledForGuild("guild-disabled"))
	assert.False(t, bot.BulletsEnabledForGuild("guild-unknown"))
}

func TestHandleGuildJoinCreatesConfig(t *testing.T) {
	bot, _ := newTestInvestigator(t)
	ctx := testContext(t)

	bot.handleGuildJoin("guild-1")

	config, err := bot.writeDB.GetGuildConfig(ctx, "guild-1", AllSubConfigKinds()...)
	require.NoError(t, err)
	require.NotNil(t, config.Names)
	require.NotNil(t, config.Bullets)
	require.NotNil(t, config.Gacha)
	require.NotNil(t, config.Messages)

	// bullets start disabled, so passive matching stays off
	assert.False(t, config.Bullets.BulletsEnabled)
	assert.False(t, bot.BulletsEnabledForGuild("guild-1"))
}

func TestHandleGuildLeaveDeletesData(t *testing.T) {
	bot, _ := newTestInvestigator(t)
	ctx := testContext(t)

	bot.handleGuildJoin("guild-1")
	require.NoError(
		t,
		bot.writeDB.CreateTruthBullet(
			ctx,
			NewTruthBullet("guild-1", "channel-1", "trigger", "desc", false),
		),
	)
	_, err := bot.writeDB.GrantCurrency(ctx, "guild-1", "user-1", 5)
	require.NoError(t, err)
	bot.setGuildBulletsEnabled("guild-1", true)

	bot.handleGuildLeave("guild-1")

	_, err = bot.writeDB.GetGuildConfig(ctx, "guild-1")
	assert.ErrorIs(t, err, ErrNotFound)

	bullets, err := bot.writeDB.TruthBulletsInGuild(ctx, "guild-1")
	require.NoError(t, err)
	assert.Empty(t, bullets)

	_, err = bot.writeDB.GetGachaPlayer(ctx, "guild-1", "user-1")
	assert.ErrorIs(t, err, ErrNotFound)

	assert.False(t, bot.BulletsEnabledForGuild("guild-1"))
}

func TestHandleDiscordMessageDiscovery(t *testing.T) {
	bot, mock := newTestInvestigator(t)
	ctx := testContext(t)

	bullet := NewTruthBullet(
		"guild-1", "channel-1", "bloody knife", "A knife from the scene.", false,
	)
	require.NoError(t, bot.writeDB.CreateTruthBullet(ctx, bullet))

	bot.handleDiscordMessage(&discordgo.MessageCreate{
		Message: &discordgo.Message{
			GuildID:   "guild-1",
			ChannelID: "channel-1",
			Content:   "I found a BLOODY KNIFE behind the curtain",
			Author:    &discordgo.User{ID: "finder-1"},
		},
	})

	found, err := bot.writeDB.TruthBulletsInChannel(ctx, "channel-1")
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.True(t, found[0].Found)
	assert.Equal(t, "finder-1", found[0].Finder)

	// no bullet channel configured: announcement falls back to the
	// channel the bullet was found in
	messages := mock.sentTo("channel-1")
	require.Len(t, messages, 1)
	assert.Contains(t, messages[0], "**bloody knife**")
	assert.Contains(t, messages[0], "<@finder-1>")
}

func TestHandleDiscordMessageAnnouncesToBulletChannel(t *testing.T) {
	bot, mock := newTestInvestigator(t)
	ctx := testContext(t)

	config, err := bot.writeDB.GetOrCreateGuildConfig(
		ctx, "guild-1", SubConfigBullets,
	)
	require.NoError(t, err)
	config.Bullets.BulletsEnabled = true
	config.Bullets.BulletChannelID = "announce-channel"
	_, err = bot.writeDB.Save(ctx, config.Bullets)
	require.NoError(t, err)

	bullet := NewTruthBullet("guild-1", "channel-1", "torn letter", "desc", false)
	require.NoError(t, bot.writeDB.CreateTruthBullet(ctx, bullet))

	bot.handleDiscordMessage(&discordgo.MessageCreate{
		Message: &discordgo.Message{
			GuildID:   "guild-1",
			ChannelID: "channel-1",
			Content:   "look, a torn letter",
			Author:    &discordgo.User{ID: "finder-1"},
		},
	})

	assert.Empty(t, mock.sentTo("channel-1"))
	require.Len(t, mock.sentTo("announce-channel"), 1)
}

func TestHandleDiscordMessageNoMatch(t *testing.T) {
	bot, mock := newTestInvestigator(t)
	ctx := testContext(t)

	bullet := NewTruthBullet("guild-1", "channel-1", "bloody knife", "desc", false)
	require.NoError(t, bot.writeDB.CreateTruthBullet(ctx, bullet))

	bot.handleDiscordMessage(&discordgo.MessageCreate{
		Message: &discordgo.Message{
			GuildID:   "guild-1",
			ChannelID: "channel-1",
			Content:   "nothing interesting here",
			Author:    &discordgo.User{ID: "user-1"},
		},
	})

	unfound, err := bot.writeDB.UnfoundTruthBullets(ctx, "channel-1")
	require.NoError(t, err)
	assert.Len(t, unfound, 1)
	assert.Empty(t, mock.sentTo("channel-1"))
}

func newInvestigateInteraction(
	guildID string,
	channelID string,
	userID string,
	phrase string,
) *discordgo.InteractionCreate {
	return &discordgo.InteractionCreate{
		Interaction: &discordgo.Interaction{
			Type:      discordgo.InteractionApplicationCommand,
			GuildID:   guildID,
			ChannelID: channelID,
			Member: &discordgo.Member{
				User: &discordgo.User{ID: userID},
			},
			Data: discordgo.ApplicationCommandInteractionData{
				Name: DiscordSlashCommandInvestigate,
				Options: []*discordgo.ApplicationCommandInteractionDataOption{
					{
						Name:  investigateTriggerOption,
						Type:  discordgo.ApplicationCommandOptionString,
						Value: phrase,
					},
				},
			},
		},
	}
}

func TestHandleInvestigateCommand(t *testing.T) {
	bot, mock := newTestInvestigator(t)
	ctx := testContext(t)

	config, err := bot.writeDB.GetOrCreateGuildConfig(ctx, "guild-1", SubConfigBullets)
	require.NoError(t, err)
	config.Bullets.BulletsEnabled = true
	config.Bullets.InvestigationType = InvestigationCommandOnly
	_, err = bot.writeDB.Save(ctx, config.Bullets)
	require.NoError(t, err)

	bullet := NewTruthBullet("guild-1", "channel-1", "bloody knife", "desc", false)
	require.NoError(t, bot.writeDB.CreateTruthBullet(ctx, bullet))

	i := newInvestigateInteraction("guild-1", "channel-1", "finder-1", "was it the bloody knife?")
	bot.handleInvestigateCommand(i, i.ApplicationCommandData())

	assert.Contains(t, mock.lastEdit(), "You found **bloody knife**!")

	found, err := bot.writeDB.TruthBulletsInChannel(ctx, "channel-1")
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.True(t, found[0].Found)
	assert.Equal(t, "finder-1", found[0].Finder)

	// second investigation of the same phrase finds nothing
	i = newInvestigateInteraction("guild-1", "channel-1", "finder-2", "bloody knife")
	bot.handleInvestigateCommand(i, i.ApplicationCommandData())
	assert.Contains(t, mock.lastEdit(), "didn't find")
}

func TestHandleInvestigateCommandBulletsDisabled(t *testing.T) {
	bot, mock := newTestInvestigator(t)

	i := newInvestigateInteraction("guild-1", "channel-1", "user-1", "anything")
	bot.handleInvestigateCommand(i, i.ApplicationCommandData())

	assert.Contains(t, mock.lastEdit(), "aren't enabled")
}

func TestGuildLimiter(t *testing.T) {
	bot, _ := newTestInvestigator(t)

	bot.config.GuildMessageRate = 1
	bot.config.GuildMessageBurst = 2

	limiter := bot.guildLimiter("guild-1")
	assert.Same(t, limiter, bot.guildLimiter("guild-1"))
	assert.NotSame(t, limiter, bot.guildLimiter("guild-2"))

	assert.True(t, limiter.Allow())
	assert.True(t, limiter.Allow())
	assert.False(t, limiter.Allow())
}

func TestNewRejectsInvalidDatabaseType(t *testing.T) {
	cfg := DefaultTestConfig(t)
	cfg.DatabaseType = "mysql"
	_, err := New(cfg)
	require.Error(t, err)
}
