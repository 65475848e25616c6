package investigator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/lmittmann/tint"
)

// DBNotifier defines the interface for notifying bot instances of database
// changes and other events.
//
// With sqlite there is only ever one instance, so notifications are
// delivered in-process. With postgres, multiple instances can share a
// database, and NOTIFY/LISTEN is used to propagate events between them.
type DBNotifier interface {
	ReloadEnabledGuildsChannelName() string

	// ReloadEnabledGuilds tells bot instances to reload their in-memory
	// set of guilds with passive truth bullet matching enabled.
	ReloadEnabledGuilds(context.Context) bool

	StopChannelName() string

	// Stop sends a shutdown signal to all bots
	Stop(context.Context) bool

	// ID returns the identifier for this notifier. DBNotifier instances
	// should use this ID to filter out their own notifications.
	ID() string

	Listen(ctx context.Context, channel string) error
}

func newDBNotifier(d *Investigator) (DBNotifier, error) {
	notifyID, err := generateRandomHexString(16)
	if err != nil {
		return nil, err
	}
	log := d.logger.With(loggerNameKey, "db_notifier")
	var notifier DBNotifier
	switch d.config.DatabaseType {
	case dbTypeSQLite:
		notifier = &sqliteNotifier{
			logger:         log,
			d:              d,
			sqliteNotifyID: notifyID,
		}
	case dbTypePostgres:
		notifier = &postgresNotifier{
			d:          d,
			logger:     log,
			pgNotifyID: notifyID,
		}
	default:
		return nil, errors.New("invalid database type")
	}
	return notifier, nil
}

type sqliteNotifier struct {
	logger         *slog.Logger
	d              *Investigator
	sqliteNotifyID string
}

func (s *sqliteNotifier) Listen(_ context.Context, channel string) error {
	s.logger.Debug("listener called", "channel", channel)
	return nil
}

func (sqliteNotifier) StopChannelName() string {
	return ""
}

func (s *sqliteNotifier) Stop(ctx context.Context) bool {
	s.logger.Info("notifying stop signal")
	select {
	case s.d.signalStop <- struct{}{}:
	//
	case <-ctx.Done():
		s.logger.Warn("timeout sending stop signal")
		return false
	}
	return true
}

func (s *sqliteNotifier) ID() string {
	return s.sqliteNotifyID
}

func (sqliteNotifier) ReloadEnabledGuildsChannelName() string {
	return ""
}

func (s *sqliteNotifier) ReloadEnabledGuilds(ctx context.Context) bool {
	s.logger.Info("got enabled guilds reload notification")
	select {
	case s.d.triggerEnabledGuildsRefreshCh <- true:
	//
	case <-ctx.Done():
		s.logger.Warn("timeout sending enabled guilds refresh signal")
		return false
	}
	return true
}

type postgresNotifier struct {
	d          *Investigator
	logger     *slog.Logger
	pgNotifyID string
}

func (postgresNotifier) ReloadEnabledGuildsChannelName() string {
	return postgresNotifyChannelReloadEnabledGuilds
}

func (postgresNotifier) StopChannelName() string {
	return postgresNotifyChannelStop
}

func (p *postgresNotifier) ID() string {
	return p.pgNotifyID
}

func (p *postgresNotifier) Stop(ctx context.Context) bool {
	var sent bool

	notifyErr := p.d.writeDB.DB().WithContext(ctx).Exec(
		"SELECT pg_notify(?, ?)",
		p.StopChannelName(),
		p.ID(),
	).Error
	if notifyErr != nil {
		p.logger.ErrorContext(ctx, "Error sending NOTIFY to stop bot", tint.Err(notifyErr))
	} else {
		p.logger.Info("sent stop signal", "pg_notify_id", p.ID())
		sent = true
	}

	return sent
}

func (p *postgresNotifier) ReloadEnabledGuilds(ctx context.Context) bool {
	var sent bool

	notifyErr := p.d.writeDB.DB().WithContext(ctx).Exec(
		"SELECT pg_notify(?, ?)",
		p.ReloadEnabledGuildsChannelName(),
		p.ID(),
	).Error
	if notifyErr != nil {
		p.logger.ErrorContext(
			ctx,
			"Error sending NOTIFY to reload enabled guilds",
			tint.Err(notifyErr),
		)
	} else {
		p.logger.Info(
			"sent enabled guilds refresh notification",
			"pg_notify_id", p.ID(),
		)
		sent = true
	}

	// reload locally too, rather than waiting for our own LISTEN loop
	// (which filters out self-notifications)
	select {
	case p.d.triggerEnabledGuildsRefreshCh <- true:
	//
	case <-ctx.Done():
		p.logger.Warn("timeout sending enabled guilds refresh signal")
	}

	return sent
}

func (p *postgresNotifier) Listen(ctx context.Context, channel string) error {
	p.logger.Info("starting db listener", "channel", channel)

	config, err := pgxpool.ParseConfig(p.d.config.Database)
	if err != nil {
		p.logger.ErrorContext(ctx, "Error parsing database config", tint.Err(err))
		return err
	}

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		p.logger.ErrorContext(ctx, "Error creating connection pool", tint.Err(err))
		return err
	}
	defer pool.Close()

	// Start listening for notifications
	conn, err := pool.Acquire(ctx)
	if err != nil {
		p.logger.ErrorContext(ctx, "Error acquiring connection", tint.Err(err))
		return err
	}
	defer conn.Release()

	_, err = conn.Exec(ctx, fmt.Sprintf("LISTEN %s", channel))
	if err != nil {
		p.logger.ErrorContext(ctx, "Error setting up listener", tint.Err(err))
		return err
	}
	logger := p.logger.With("channel", channel)
	logger.InfoContext(ctx, "Started listening on channel")

	for ctx.Err() == nil {
		notification, e := conn.Conn().WaitForNotification(ctx)
		if e != nil {
			logger.ErrorContext(ctx, "Error waiting for notification", tint.Err(e))
			time.Sleep(5 * time.Second) // Wait before retrying
			continue
		}
		if notification.Payload == p.ID() {
			logger.Info(
				"Received notification from self, ignoring",
				"payload",
				notification.Payload,
			)
			continue
		}

		switch channel {
		case p.ReloadEnabledGuildsChannelName():
			logger.InfoContext(ctx, "Received notification to reload enabled guilds")
			select {
			case p.d.triggerEnabledGuildsRefreshCh <- true:
				logger.Info("sent enabled guilds refresh signal from postgres listener")
			case <-time.After(dbNotifierSendTimeout):
				logger.Warn("timed out sending enabled guilds refresh signal")
			}
		case p.StopChannelName():
			logger.InfoContext(ctx, "received stop signal via NOTIFY")
			select {
			case p.d.signalStop <- struct{}{}:
				logger.Info("forwarded stop signal")
			case <-time.After(dbNotifierSendTimeout):
				logger.Warn("timed out forwarding stop signal")
			}
		default:
			logger.Warn("Received unknown notification", "channel", notification.Channel)
		}
	}

	return nil
}
