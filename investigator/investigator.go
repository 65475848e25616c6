package investigator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"runtime/debug"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/lmittmann/tint"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
	"gorm.io/gorm"
)

var (
	// When building, set these like:
	// -ldflags "-X github.com/AstreaTSS/UltimateInvestigator/investigator.Version=$$(date +'%Y%m%d')"

	Version   = "dev"
	CommitSHA = "unknown"
	BuildTime = "unknown"
)

var (
	defaultLogWriter io.Writer = os.Stdout
)

// Investigator is the main application struct: it owns the database
// connections, the Discord session, the status API and the in-memory set
// of guilds with passive truth bullet matching enabled.
type Investigator struct {
	config *Config

	// Pointer to a read-only GORM connection. This is from an
	// overabundance of caution for using SQLite.
	db *gorm.DB

	// gorm.DB wrapper for write/update/delete operations.
	// The only difference between this and [Investigator.db]
	// is that, when using sqlite, a mutex is used.
	writeDB DBI

	// Standard logger. Missing loggers will try to use this,
	// and fall back to slog.Default()
	logger *slog.Logger

	// Handler to use for the above
	logHandler slog.Handler

	// Handles discord integration, sessions
	discord *Discord

	// Serves /healthz and /status
	api *API

	// Propagates enabled-guild changes and stop signals across bot
	// instances sharing a postgres database
	dbNotifier DBNotifier

	// signalStop enables an explicit stop signal to be sent to the bot
	signalStop chan struct{}

	// signalReady has a value sent on it once Run has finished starting
	// up: database initialized and migrated, enabled guilds loaded,
	// discord session open and commands registered.
	signalReady chan struct{}

	// A signal is sent on this channel when [Investigator.shutdown]
	// finishes
	eventShutdown chan struct{}

	// prevents Run from executing concurrently
	runMu sync.Mutex

	// The time Run was called
	startedAt time.Time

	// Guild IDs where messages are matched against unfound bullets.
	// Kept in memory so the message-create handler doesn't hit the
	// database for every message in every guild.
	msgEnabledGuilds   map[string]struct{}
	msgEnabledMu       sync.RWMutex
	msgEnabledLoadedAt time.Time

	// A value sent here forces an immediate reload of msgEnabledGuilds
	triggerEnabledGuildsRefreshCh chan bool

	// Per-guild rate limiters for message matching
	guildLimiters map[string]*rate.Limiter
	limiterMu     sync.Mutex
}

// New creates a new Investigator bot from the given config.
func New(config *Config) (*Investigator, error) {
	var errs []error

	switch config.DatabaseType {
	case dbTypeSQLite, dbTypePostgres:
		//
	default:
		errs = append(
			errs,
			errors.New("invalid database type (must be 'sqlite' or 'postgres')"),
		)
	}

	bot := &Investigator{
		config:                        config,
		signalReady:                   make(chan struct{}, 1),
		eventShutdown:                 make(chan struct{}, 1),
		triggerEnabledGuildsRefreshCh: make(chan bool, 1),
		msgEnabledGuilds:              map[string]struct{}{},
		guildLimiters:                 map[string]*rate.Limiter{},
	}

	bot.logHandler = tint.NewHandler(
		defaultLogWriter, &tint.Options{
			Level:     bot.config.LogLevel,
			AddSource: true,
		},
	)

	bot.logger = slog.New(bot.logHandler)
	slog.SetDefault(bot.logger)

	disc, err := newDiscord(bot.config.Discord)
	if err != nil {
		errs = append(errs, err)
	}

	discordgo.Logger = discordgoLoggerFunc(
		context.Background(),
		tint.NewHandler(
			defaultLogWriter, &tint.Options{
				Level:     bot.config.Discord.DiscordGoLogLevel,
				AddSource: true,
			},
		).WithAttrs([]slog.Attr{slog.String(loggerNameKey, "discordgo")}),
	)

	if disc != nil {
		disc.logger = slog.New(
			tint.NewHandler(
				defaultLogWriter, &tint.Options{
					Level:     bot.config.Discord.LogLevel,
					AddSource: true,
				},
			),
		).With(loggerNameKey, "discord")
		disc.bot = bot
		bot.discord = disc
	}

	api, err := newAPI(bot, config.API)
	errs = append(errs, err)
	bot.api = api

	return bot, errors.Join(errs...)
}

func (d *Investigator) ValidateConfig() error {
	return structValidator.Struct(d.config)
}

// RegisterSlashCommands sends the bot's application commands to the
// Discord bulk overwrite endpoint.
func (d *Investigator) RegisterSlashCommands(options ...discordgo.RequestOption) (
	[]*discordgo.ApplicationCommand,
	error,
) {
	return d.discord.registerCommands(options...)
}

func (d *Investigator) getLogger(ctx context.Context) (
	context.Context,
	*slog.Logger,
) {
	logger, ok := ContextLogger(ctx)
	if logger == nil || !ok {
		logger = d.logger
		ctx = WithLogger(ctx, logger)
	}
	return ctx, logger
}

// Run starts the bot and blocks until ctx is canceled or a stop signal is
// received, then performs a graceful shutdown.
func (d *Investigator) Run(ctx context.Context) error {
	// prevents concurrent runs
	d.runMu.Lock()
	defer d.runMu.Unlock()

	d.signalStop = make(chan struct{}, 1)
	d.startedAt = time.Now()
	logger := d.logger

	if err := d.ValidateConfig(); err != nil {
		logger.Error("invalid config", tint.Err(err))
		return err
	}

	notifier, err := newDBNotifier(d)
	if err != nil {
		logger.Error("error creating db notifier", tint.Err(err))
		return err
	}
	d.dbNotifier = notifier

	ctx = WithLogger(ctx, logger)
	logger.LogAttrs(ctx, slog.LevelInfo, "starting", slog.Any("config", d.config))

	if d.signalReady == nil {
		d.signalReady = make(chan struct{}, 1)
	}

	// this is the 'runtime' context, which triggers a graceful shutdown
	// when canceled
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	go func() {
		select {
		case <-d.signalStop:
			d.logger.Warn("got stop signal, canceling")
			cancel()
		case <-ctx.Done():
			d.logger.Warn("context canceled, sending stop signal")
			d.signalStop <- struct{}{}
			return
		}
	}()

	if d.config.API.Enabled {
		go func() {
			httpErr := d.api.Serve(ctx)
			if httpErr != nil && !errors.Is(httpErr, http.ErrServerClosed) {
				d.logger.ErrorContext(ctx, "error serving api HTTP", tint.Err(httpErr))
			}
		}()
	}

	startCtx, startCancel := context.WithTimeout(ctx, d.config.StartupTimeout)
	defer startCancel()

	initErr := make(chan error, 1)
	go func() {
		logger.Debug("initializing run...")
		initErr <- d.initRun(startCtx)
	}()

	select {
	case <-startCtx.Done():
		return fmt.Errorf("startup cancelled or timed out")
	case e := <-initErr:
		if e != nil {
			logger.ErrorContext(ctx, "init error", tint.Err(e))
			return e
		}
		logger.InfoContext(ctx, "init complete")
	}

	// handler goroutines spawned per discord event
	handlerWG := &sync.WaitGroup{}

	if discErr := d.initDiscordSession(ctx, handlerWG); discErr != nil {
		d.logger.ErrorContext(ctx, "error creating discord session", tint.Err(discErr))
		return discErr
	}

	d.logger.InfoContext(ctx, "connecting to discord")
	if openErr := d.discord.session.Open(); openErr != nil {
		logger.ErrorContext(ctx, "error connecting to discord", tint.Err(openErr))
		return fmt.Errorf("error connecting to discord: %w", openErr)
	}

	if _, cmdErr := d.RegisterSlashCommands(); cmdErr != nil {
		return fmt.Errorf("error registering commands: %w", cmdErr)
	}

	// background runtime processes
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return d.startEnabledGuildsRefresher(gctx)
	})
	g.Go(func() error {
		return d.dbNotifier.Listen(gctx, d.dbNotifier.ReloadEnabledGuildsChannelName())
	})
	g.Go(func() error {
		return d.dbNotifier.Listen(gctx, d.dbNotifier.StopChannelName())
	})

	d.signalReady <- struct{}{}
	d.logger.InfoContext(ctx, "sent ready signal")

	<-ctx.Done()

	if groupErr := g.Wait(); groupErr != nil && !errors.Is(groupErr, context.Canceled) {
		d.logger.Warn("runtime process error", tint.Err(groupErr))
	}

	return d.shutdown(ctx, handlerWG)
}

// initRun initializes the database and loads the set of guilds with
// passive matching enabled.
func (d *Investigator) initRun(startCtx context.Context) error {
	d.logger.Debug("initializing DB...")
	if err := d.initDB(startCtx); err != nil {
		return fmt.Errorf("error initializing database: %w", err)
	}
	d.logger.Debug("finished initializing DB")

	if err := d.refreshEnabledGuilds(startCtx); err != nil {
		return fmt.Errorf("error loading enabled guilds: %w", err)
	}
	return nil
}

func (d *Investigator) initDB(ctx context.Context) error {
	logger, ok := ContextLogger(ctx)
	if !ok || logger == nil {
		logger = d.logger
	}

	handler := tint.NewHandler(
		defaultLogWriter, &tint.Options{
			Level:     d.config.DatabaseLogLevel,
			AddSource: true,
		},
	)

	gormLogger := newGORMLogger(handler, d.config.DatabaseSlowThreshold)
	db, err := getDB(d.config.DatabaseType, d.config.Database, gormLogger)
	if err != nil {
		return fmt.Errorf("error opening database: %w", err)
	}

	d.db = db
	d.writeDB = NewDatabase(db, d.logger, d.config.DatabaseType == dbTypePostgres)

	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("error getting database connection: %w", err)
	}

	if d.config.DatabaseType == dbTypeSQLite {
		sqlDB.SetMaxOpenConns(sqliteMaxOpenConns)
		sqlDB.SetMaxIdleConns(sqliteMaxIdleConns)
		sqlDB.SetConnMaxLifetime(sqliteMaxConnLifetime)
		pragmaErrors := make([]error, 0, len(sqliteExecPragma))
		for _, p := range sqliteExecPragma {
			pragmaErrors = append(
				pragmaErrors,
				db.WithContext(ctx).Exec(p).Error,
			)
		}
		if pragmaErr := errors.Join(pragmaErrors...); pragmaErr != nil {
			return pragmaErr
		}
	}

	logger.Debug("migrating database...")
	txn := db.WithContext(ctx).Begin()

	mg := txn.Migrator()
	err = mg.AutoMigrate(
		&GuildConfig{},
		&Names{},
		&BulletConfig{},
		&GachaConfig{},
		&MessageConfig{},
		&TruthBullet{},
		&GachaPlayer{},
		&GachaItem{},
		&MessageLink{},
	)
	if err != nil {
		logger.Error("error migrating database", tint.Err(err))
		return fmt.Errorf("error migrating database: %w", err)
	}
	logger.Debug("finished migrating database")

	if commitErr := txn.Commit().Error; commitErr != nil {
		return fmt.Errorf("error committing transaction: %w", commitErr)
	}
	return nil
}

// initDiscordSession creates the discord session (unless one is already
// set, as in tests) and registers gateway event handlers.
func (d *Investigator) initDiscordSession(
	ctx context.Context,
	handlerWG *sync.WaitGroup,
) error {
	logger := d.logger.With(loggerNameKey, "discord_session")

	if d.discord.session == nil {
		disc, discErr := d.discord.newSession()
		if discErr != nil {
			return fmt.Errorf("error creating discord session: %w", discErr)
		}
		d.discord.session = disc
	}

	ctx = WithLogger(ctx, logger)

	for _, h := range d.discord.discordgoRemoveHandlerFuncs {
		h()
	}

	d.discord.session.SetIdentify(
		discordgo.Identify{
			Intents: d.config.Discord.GatewayIntents,
			Presence: discordgo.GatewayStatusUpdate{
				Status: string(discordgo.StatusOnline),
			},
		},
	)

	messageHandler := d.discord.handlerMessageCreate()
	interactionHandler := d.discord.handlerInteractionCreate()
	guildCreateHandler := d.discord.handlerGuildCreate()
	guildDeleteHandler := d.discord.handlerGuildDelete()

	d.discord.discordgoRemoveHandlerFuncs = []func(){
		d.discord.session.AddHandler(d.discord.handlerConnect()),
		d.discord.session.AddHandler(d.discord.handlerDisconnect()),
		d.discord.session.AddHandler(d.discord.handlerReady()),
		d.discord.session.AddHandler(
			func(s *discordgo.Session, m *discordgo.MessageCreate) {
				handlerWG.Add(1)
				go func() {
					defer handlerWG.Done()
					defer func() {
						d.handleRecover(ctx, recover())
					}()
					messageHandler(s, m)
				}()
			},
		),
		d.discord.session.AddHandler(
			func(s *discordgo.Session, i *discordgo.InteractionCreate) {
				handlerWG.Add(1)
				go func() {
					defer handlerWG.Done()
					defer func() {
						d.handleRecover(ctx, recover())
					}()
					interactionHandler(s, i)
				}()
			},
		),
		d.discord.session.AddHandler(
			func(s *discordgo.Session, g *discordgo.GuildCreate) {
				handlerWG.Add(1)
				go func() {
					defer handlerWG.Done()
					defer func() {
						d.handleRecover(ctx, recover())
					}()
					guildCreateHandler(s, g)
				}()
			},
		),
		d.discord.session.AddHandler(
			func(s *discordgo.Session, g *discordgo.GuildDelete) {
				handlerWG.Add(1)
				go func() {
					defer handlerWG.Done()
					defer func() {
						d.handleRecover(ctx, recover())
					}()
					guildDeleteHandler(s, g)
				}()
			},
		),
	}

	return nil
}

func (d *Investigator) handleRecover(ctx context.Context, rc any) {
	if rc == nil {
		return
	}
	d.logger.ErrorContext(
		ctx,
		"recovered from panic",
		"panic", rc,
		"stack", string(debug.Stack()),
	)
}

// shutdown closes the discord session and HTTP server, waiting up to
// ShutdownTimeout for in-flight handlers to finish.
func (d *Investigator) shutdown(
	ctx context.Context,
	handlerWG *sync.WaitGroup,
) error {
	d.logger.WarnContext(ctx, "shutting down")
	defer func() {
		if d.eventShutdown != nil {
			go func() {
				d.eventShutdown <- struct{}{}
			}()
		}
	}()
	shutdownStart := time.Now()
	shutdownDeadline := shutdownStart.Add(d.config.ShutdownTimeout)

	closeCtx, closeCancel := context.WithDeadline(
		context.Background(),
		shutdownDeadline,
	)
	defer closeCancel()

	gracefulShutdownCh := make(chan struct{}, 1)
	go func() {
		handlerWG.Wait()
		d.logger.InfoContext(ctx, "finished handling in-flight events")

		stopWG := &sync.WaitGroup{}

		if d.api != nil && d.api.httpServer != nil {
			stopWG.Add(1)
			go func() {
				defer stopWG.Done()
				d.logger.InfoContext(ctx, "stopping http server")
				_ = d.api.httpServer.Shutdown(closeCtx)
				d.logger.InfoContext(ctx, "http server stopped")
			}()
		}

		if d.discord.session != nil {
			stopWG.Add(1)
			go func() {
				defer stopWG.Done()
				d.logger.InfoContext(ctx, "closing discord session")
				_ = d.discord.session.Close()
				d.logger.InfoContext(ctx, "discord session closed")
				for _, h := range d.discord.discordgoRemoveHandlerFuncs {
					h()
				}
			}()
		}

		stopWG.Wait()
		gracefulShutdownCh <- struct{}{}
	}()

	select {
	case <-gracefulShutdownCh:
		shutdownEnded := time.Now()
		d.logger.InfoContext(
			ctx,
			"shutdown complete",
			"shutdown_duration", shutdownEnded.Sub(shutdownStart),
		)
		return nil
	case <-closeCtx.Done():
		d.logger.Warn("handlers did not stop in time, forcing close")
		if d.api != nil && d.api.httpServer != nil {
			go func() {
				_ = d.api.httpServer.Close()
			}()
		}
		return fmt.Errorf("handlers did not stop in time")
	}
}

// BulletsEnabledForGuild reports whether passive message matching is
// active for the guild.
func (d *Investigator) BulletsEnabledForGuild(guildID string) bool {
	d.msgEnabledMu.RLock()
	defer d.msgEnabledMu.RUnlock()
	_, ok := d.msgEnabledGuilds[guildID]
	return ok
}

func (d *Investigator) setGuildBulletsEnabled(guildID string, enabled bool) {
	d.msgEnabledMu.Lock()
	defer d.msgEnabledMu.Unlock()
	if enabled {
		d.msgEnabledGuilds[guildID] = struct{}{}
	} else {
		delete(d.msgEnabledGuilds, guildID)
	}
}

// refreshEnabledGuilds reloads the set of passive-matching guilds from the
// database: guilds with bullets enabled and an investigation type other
// than command-only.
func (d *Investigator) refreshEnabledGuilds(ctx context.Context) error {
	var configs []BulletConfig
	err := d.db.WithContext(ctx).Where(
		"bullets_enabled = ? AND investigation_type <> ?",
		true, int(InvestigationCommandOnly),
	).Find(&configs).Error
	if err != nil {
		return err
	}

	enabled := make(map[string]struct{}, len(configs))
	for _, c := range configs {
		enabled[c.GuildID] = struct{}{}
	}

	d.msgEnabledMu.Lock()
	d.msgEnabledGuilds = enabled
	d.msgEnabledLoadedAt = time.Now()
	d.msgEnabledMu.Unlock()

	d.logger.DebugContext(ctx, "reloaded enabled guilds", "count", len(enabled))
	return nil
}

// startEnabledGuildsRefresher reloads the enabled-guild set on a TTL
// ticker, and immediately when a value is sent on
// triggerEnabledGuildsRefreshCh (as by the DB notifier).
func (d *Investigator) startEnabledGuildsRefresher(ctx context.Context) error {
	ttl := d.config.EnabledGuildsTTL
	if ttl <= 0 {
		ttl = DefaultEnabledGuildsTTL
	}
	ticker := time.NewTicker(ttl)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := d.refreshEnabledGuilds(ctx); err != nil {
				d.logger.Error("error refreshing enabled guilds", tint.Err(err))
			}
		case <-d.triggerEnabledGuildsRefreshCh:
			if err := d.refreshEnabledGuilds(ctx); err != nil {
				d.logger.Error("error refreshing enabled guilds", tint.Err(err))
			}
			ticker.Reset(ttl)
		}
	}
}

// notifyEnabledGuildsChanged tells other bot instances sharing the
// database that the set of passive-matching guilds changed. With sqlite
// this just triggers the local refresher.
func (d *Investigator) notifyEnabledGuildsChanged(ctx context.Context) {
	if d.dbNotifier == nil {
		return
	}
	d.dbNotifier.ReloadEnabledGuilds(ctx)
}

// guildLimiter returns the message matching rate limiter for the guild,
// creating one if needed.
func (d *Investigator) guildLimiter(guildID string) *rate.Limiter {
	d.limiterMu.Lock()
	defer d.limiterMu.Unlock()
	limiter := d.guildLimiters[guildID]
	if limiter == nil {
		limiter = rate.NewLimiter(
			rate.Limit(d.config.GuildMessageRate),
			d.config.GuildMessageBurst,
		)
		d.guildLimiters[guildID] = limiter
	}
	return limiter
}

// handleDiscordMessage matches an incoming guild message against the
// channel's unfound truth bullets and, on a match, commits the discovery
// and announces it. Called from the message-create handler, after bot and
// enabled-guild filtering.
func (d *Investigator) handleDiscordMessage(m *discordgo.MessageCreate) {
	if !d.guildLimiter(m.GuildID).Allow() {
		d.logger.Warn(
			"guild message rate limit exceeded",
			"guild_id", m.GuildID,
			"channel_id", m.ChannelID,
		)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), dbOperationTimeout)
	defer cancel()
	ctx, logger := d.getLogger(ctx)

	bullet, err := d.writeDB.FindTruthBullet(ctx, m.ChannelID, m.Content)
	if err != nil {
		logger.ErrorContext(ctx, "error matching message", tint.Err(err))
		return
	}
	if bullet == nil {
		return
	}

	finderID := m.Author.ID
	if err = d.writeDB.CommitDiscovery(ctx, bullet, finderID); err != nil {
		var conflict *ConflictError
		if errors.As(err, &conflict) {
			logger.DebugContext(
				ctx,
				"discovery race lost",
				"bullet", bullet,
				"finder_id", finderID,
			)
			return
		}
		logger.ErrorContext(ctx, "error committing discovery", tint.Err(err))
		return
	}
	logger.InfoContext(ctx, "truth bullet found", "bullet", bullet)

	d.announceDiscovery(ctx, bullet, m.ChannelID)
}

// announceDiscovery posts the discovery message to the guild's configured
// bullet channel, falling back to the channel the bullet was found in.
func (d *Investigator) announceDiscovery(
	ctx context.Context,
	bullet *TruthBullet,
	foundInChannelID string,
) {
	_, logger := d.getLogger(ctx)

	config, err := d.writeDB.GetGuildConfigOrNone(
		ctx, bullet.GuildID, SubConfigNames, SubConfigBullets,
	)
	if err != nil {
		logger.ErrorContext(ctx, "error loading guild config", tint.Err(err))
		return
	}

	names := newNames(bullet.GuildID)
	announceChannel := foundInChannelID
	if config != nil {
		if config.Names != nil {
			names = config.Names
		}
		if config.Bullets != nil && config.Bullets.BulletChannelID != "" {
			announceChannel = config.Bullets.BulletChannelID
		}
	}

	message := discoveryAnnouncement(names, bullet)
	if err = d.discord.channelMessageSend(announceChannel, message); err != nil {
		logger.ErrorContext(
			ctx,
			"error announcing discovery",
			tint.Err(err),
			"channel_id", announceChannel,
		)
	}
}

// handleGuildJoin ensures config records exist for a newly joined guild,
// and picks up its enabled state.
func (d *Investigator) handleGuildJoin(guildID string) {
	ctx, cancel := context.WithTimeout(context.Background(), dbOperationTimeout)
	defer cancel()
	ctx, logger := d.getLogger(ctx)

	config, err := d.writeDB.GetOrCreateGuildConfig(
		ctx, guildID, AllSubConfigKinds()...,
	)
	if err != nil {
		logger.ErrorContext(
			ctx,
			"error creating guild config",
			tint.Err(err),
			"guild_id", guildID,
		)
		return
	}
	if config.Bullets != nil {
		d.setGuildBulletsEnabled(guildID, config.Bullets.PassiveMatchingEnabled())
	}
	d.notifyEnabledGuildsChanged(ctx)
	logger.InfoContext(ctx, "guild config ready", "config", config)
}

// handleGuildLeave drops everything stored for a guild the bot was removed
// from.
func (d *Investigator) handleGuildLeave(guildID string) {
	ctx, cancel := context.WithTimeout(context.Background(), dbOperationTimeout)
	defer cancel()
	ctx, logger := d.getLogger(ctx)

	if err := d.writeDB.DeleteGuildData(ctx, guildID); err != nil {
		logger.ErrorContext(
			ctx,
			"error deleting guild data",
			tint.Err(err),
			"guild_id", guildID,
		)
		return
	}
	d.setGuildBulletsEnabled(guildID, false)
	d.notifyEnabledGuildsChanged(ctx)
	logger.InfoContext(ctx, "deleted guild data", "guild_id", guildID)
}

// handleInvestigateCommand responds to the /investigate slash command:
// the provided phrase is matched against the channel's unfound bullets
// the same way a passive message would be.
func (d *Investigator) handleInvestigateCommand(
	i *discordgo.InteractionCreate,
	data discordgo.ApplicationCommandInteractionData,
) {
	ctx, cancel := context.WithTimeout(context.Background(), dbOperationTimeout)
	defer cancel()
	ctx, logger := d.getLogger(ctx)

	user := getDiscordUser(i)
	if user == nil || i.GuildID == "" {
		return
	}

	if err := d.discord.session.InteractionRespond(
		i.Interaction, d.discord.ackResponse(),
	); err != nil {
		logger.ErrorContext(ctx, "error acknowledging interaction", tint.Err(err))
		return
	}

	respond := func(content string) {
		if _, err := d.discord.session.InteractionResponseEdit(
			i.Interaction, &discordgo.WebhookEdit{Content: &content},
		); err != nil {
			logger.ErrorContext(ctx, "error editing interaction response", tint.Err(err))
		}
	}

	config, err := d.writeDB.GetGuildConfigOrNone(
		ctx, i.GuildID, SubConfigNames, SubConfigBullets,
	)
	if err != nil {
		logger.ErrorContext(ctx, "error loading guild config", tint.Err(err))
		respond(DefaultDiscordErrorMessage)
		return
	}
	if config == nil || config.Bullets == nil || !config.Bullets.BulletsEnabled {
		respond("Truth bullets aren't enabled in this server.")
		return
	}

	var phrase string
	for _, opt := range data.Options {
		if opt.Name == investigateTriggerOption {
			phrase = opt.StringValue()
		}
	}
	if phrase == "" {
		respond("You need to give me something to investigate.")
		return
	}

	bullet, err := d.writeDB.FindTruthBullet(ctx, i.ChannelID, phrase)
	if err != nil {
		logger.ErrorContext(ctx, "error matching phrase", tint.Err(err))
		respond(DefaultDiscordErrorMessage)
		return
	}

	names := config.Names
	if names == nil {
		names = newNames(i.GuildID)
	}

	if bullet == nil {
		respond(
			fmt.Sprintf(
				"You didn't find any %s.",
				names.PluralBullet,
			),
		)
		return
	}

	if err = d.writeDB.CommitDiscovery(ctx, bullet, user.ID); err != nil {
		var conflict *ConflictError
		if errors.As(err, &conflict) {
			respond(
				fmt.Sprintf(
					"Someone beat you to that %s.",
					names.SingularBullet,
				),
			)
			return
		}
		logger.ErrorContext(ctx, "error committing discovery", tint.Err(err))
		respond(DefaultDiscordErrorMessage)
		return
	}

	logger.InfoContext(ctx, "truth bullet found via command", "bullet", bullet)
	respond(fmt.Sprintf("You found **%s**!", bullet.Trigger))
	d.announceDiscovery(ctx, bullet, i.ChannelID)
}

// Stop sends a stop signal to a running bot.
func (d *Investigator) Stop() {
	if d.signalStop != nil {
		d.signalStop <- struct{}{}
	}
}
