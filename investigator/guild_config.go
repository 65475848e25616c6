package investigator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// InvestigationType controls how truth bullet discovery happens in a guild.
type InvestigationType int

const (
	// InvestigationDefault matches bullets against every message sent in
	// their channel.
	InvestigationDefault InvestigationType = 1
	// InvestigationCommandOnly matches bullets only through the
	// /investigate command.
	InvestigationCommandOnly InvestigationType = 2
)

func (i InvestigationType) String() string {
	switch i {
	case InvestigationDefault:
		return "default"
	case InvestigationCommandOnly:
		return "command_only"
	default:
		return fmt.Sprintf("InvestigationType(%d)", int(i))
	}
}

// Valid reports whether i is a known investigation type.
func (i InvestigationType) Valid() bool {
	return i == InvestigationDefault || i == InvestigationCommandOnly
}

// SubConfigKind identifies one of the lazily created per-guild
// sub-configuration records hanging off GuildConfig.
type SubConfigKind int

const (
	SubConfigNames SubConfigKind = iota
	SubConfigBullets
	SubConfigGacha
	SubConfigMessages
)

func (k SubConfigKind) String() string {
	switch k {
	case SubConfigNames:
		return "names"
	case SubConfigBullets:
		return "bullets"
	case SubConfigGacha:
		return "gacha"
	case SubConfigMessages:
		return "messages"
	default:
		return fmt.Sprintf("SubConfigKind(%d)", int(k))
	}
}

// AllSubConfigKinds lists every sub-config kind, in declaration order.
func AllSubConfigKinds() []SubConfigKind {
	return []SubConfigKind{
		SubConfigNames,
		SubConfigBullets,
		SubConfigGacha,
		SubConfigMessages,
	}
}

// Default naming templates. Placeholders use {{name}} syntax; the set of
// allowed placeholders is validated per field.
const (
	DefaultBulletName         = "Truth Bullet"
	DefaultPluralBulletName   = "Truth Bullets"
	DefaultFinderTemplate     = "{{bullet_name}} Finder"
	DefaultBestFinderTemplate = "Best {{bullet_finder}}"
	DefaultSingularCurrency   = "Truth Coin"
	DefaultPluralCurrencyName = "Truth Coins"
)

// GuildConfig is the root per-guild configuration record. Sub-config
// records (Names, Bullets, Gacha, Messages) are created lazily the first
// time they are requested.
type GuildConfig struct {
	GuildID string `gorm:"primaryKey;type:string" json:"guild_id"`

	// PlayerRole is the role whose members participate in the gacha game.
	PlayerRole string `json:"player_role" gorm:"type:string"`

	Names    *Names         `json:"names,omitempty" gorm:"foreignKey:GuildID;references:GuildID"`
	Bullets  *BulletConfig  `json:"bullets,omitempty" gorm:"foreignKey:GuildID;references:GuildID"`
	Gacha    *GachaConfig   `json:"gacha,omitempty" gorm:"foreignKey:GuildID;references:GuildID"`
	Messages *MessageConfig `json:"messages,omitempty" gorm:"foreignKey:GuildID;references:GuildID"`

	ModelUnixTime
}

func (GuildConfig) TableName() string {
	return "guild_configs"
}

func (g *GuildConfig) LogValue() slog.Value {
	if g == nil {
		return slog.Value{}
	}
	return slog.GroupValue(
		slog.String("guild_id", g.GuildID),
		slog.Bool("has_names", g.Names != nil),
		slog.Bool("has_bullets", g.Bullets != nil),
		slog.Bool("has_gacha", g.Gacha != nil),
		slog.Bool("has_messages", g.Messages != nil),
	)
}

// Names holds the per-guild display names and role-name templates used
// when announcing discoveries.
type Names struct {
	GuildID string `gorm:"primaryKey;type:string" json:"guild_id"`

	SingularBullet string `json:"singular_bullet" gorm:"type:string"`
	PluralBullet   string `json:"plural_bullet" gorm:"type:string"`

	// SingularTruthBulletFinder may reference {{bullet_name}}.
	SingularTruthBulletFinder string `json:"singular_truth_bullet_finder" gorm:"type:string"`
	PluralTruthBulletFinder   string `json:"plural_truth_bullet_finder" gorm:"type:string"`

	// BestBulletFinder may reference {{bullet_finder}}.
	BestBulletFinder string `json:"best_bullet_finder" gorm:"type:string"`

	SingularCurrencyName string `json:"singular_currency_name" gorm:"type:string"`
	PluralCurrencyName   string `json:"plural_currency_name" gorm:"type:string"`

	ModelUnixTime
}

func (Names) TableName() string {
	return "guild_names"
}

func newNames(guildID string) *Names {
	return &Names{
		GuildID:                   guildID,
		SingularBullet:            DefaultBulletName,
		PluralBullet:              DefaultPluralBulletName,
		SingularTruthBulletFinder: DefaultFinderTemplate,
		PluralTruthBulletFinder:   DefaultFinderTemplate + "s",
		BestBulletFinder:          DefaultBestFinderTemplate,
		SingularCurrencyName:      DefaultSingularCurrency,
		PluralCurrencyName:        DefaultPluralCurrencyName,
	}
}

// BulletName returns the singular or plural bullet name depending on count.
func (n *Names) BulletName(count int) string {
	if count == 1 {
		return n.SingularBullet
	}
	return n.PluralBullet
}

// CurrencyName returns the singular or plural currency name depending on
// amount.
func (n *Names) CurrencyName(amount int64) string {
	if amount == 1 || amount == -1 {
		return n.SingularCurrencyName
	}
	return n.PluralCurrencyName
}

// Validate checks that template fields only reference their allowed
// placeholders.
func (n *Names) Validate() error {
	checks := []struct {
		field   string
		value   string
		allowed string
	}{
		{"singular_truth_bullet_finder", n.SingularTruthBulletFinder, "bullet_name"},
		{"plural_truth_bullet_finder", n.PluralTruthBulletFinder, "bullet_name"},
		{"best_bullet_finder", n.BestBulletFinder, "bullet_finder"},
	}
	for _, c := range checks {
		if err := validateTemplate(c.field, c.value, c.allowed); err != nil {
			return err
		}
	}
	return nil
}

// BulletConfig holds the per-guild truth bullet settings.
type BulletConfig struct {
	GuildID string `gorm:"primaryKey;type:string" json:"guild_id"`

	// BulletsEnabled gates all discovery in the guild.
	BulletsEnabled bool `json:"bullets_enabled" gorm:"type:bool;default:false"`

	// BulletChannelID is where discovery announcements are posted.
	BulletChannelID string `json:"bullet_channel_id" gorm:"type:string"`

	InvestigationType InvestigationType `json:"investigation_type" gorm:"type:int;default:1"`

	// BestBulletFinderRole is granted to the player(s) with the most
	// discoveries when the round ends.
	BestBulletFinderRole string `json:"best_bullet_finder_role" gorm:"type:string"`

	ModelUnixTime
}

func (BulletConfig) TableName() string {
	return "guild_bullet_configs"
}

func newBulletConfig(guildID string) *BulletConfig {
	return &BulletConfig{
		GuildID:           guildID,
		InvestigationType: InvestigationDefault,
	}
}

// PassiveMatchingEnabled reports whether plain channel messages should be
// matched against unfound bullets (as opposed to /investigate only).
func (b *BulletConfig) PassiveMatchingEnabled() bool {
	return b.BulletsEnabled && b.InvestigationType != InvestigationCommandOnly
}

// GachaConfig holds the per-guild gacha settings.
type GachaConfig struct {
	GuildID string `gorm:"primaryKey;type:string" json:"guild_id"`

	// CurrencyCost is the price of a single gacha roll.
	CurrencyCost int64 `json:"currency_cost" gorm:"type:bigint;default:1"`

	ModelUnixTime
}

func (GachaConfig) TableName() string {
	return "guild_gacha_configs"
}

func newGachaConfig(guildID string) *GachaConfig {
	return &GachaConfig{GuildID: guildID, CurrencyCost: 1}
}

// MessageConfig holds the per-guild anonymous whisper settings.
type MessageConfig struct {
	GuildID string `gorm:"primaryKey;type:string" json:"guild_id"`

	Enabled     bool `json:"enabled" gorm:"type:bool;default:false"`
	AnonEnabled bool `json:"anon_enabled" gorm:"type:bool;default:false"`

	ModelUnixTime
}

func (MessageConfig) TableName() string {
	return "guild_message_configs"
}

func newMessageConfig(guildID string) *MessageConfig {
	return &MessageConfig{GuildID: guildID}
}

// MessageLink routes whispers sent by a user to a destination channel.
type MessageLink struct {
	ModelUintID

	GuildID   string `json:"guild_id" gorm:"index:idx_message_link_user,unique;type:string"`
	UserID    string `json:"user_id" gorm:"index:idx_message_link_user,unique;type:string"`
	ChannelID string `json:"channel_id" gorm:"type:string"`

	ModelUnixTime
}

func (MessageLink) TableName() string {
	return "message_links"
}

// guildGet fetches a record of type T keyed on guild_id, returning
// NotFoundError when absent.
func guildGet[T any](ctx context.Context, db *gorm.DB, entity, guildID string) (*T, error) {
	record, err := guildGetOrNone[T](ctx, db, guildID)
	if err != nil {
		return nil, err
	}
	if record == nil {
		return nil, &NotFoundError{Entity: entity, Key: guildID}
	}
	return record, nil
}

// guildGetOrNone fetches a record of type T keyed on guild_id, returning
// nil (no error) when absent.
func guildGetOrNone[T any](ctx context.Context, db *gorm.DB, guildID string) (*T, error) {
	var record T
	err := db.WithContext(ctx).Where("guild_id = ?", guildID).First(&record).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &record, nil
}

// guildGetOrCreate fetches a record of type T keyed on guild_id, inserting
// create() when absent. The insert uses ON CONFLICT DO NOTHING followed by
// a re-read, so two callers racing on the same guild both see the row that
// won.
func guildGetOrCreate[T any](
	ctx context.Context,
	d *database,
	guildID string,
	create func(guildID string) *T,
) (*T, error) {
	record, err := guildGetOrNone[T](ctx, d.db, guildID)
	if err != nil {
		return nil, err
	}
	if record != nil {
		return record, nil
	}
	fresh := create(guildID)
	err = func() error {
		d.Lock()
		defer d.Unlock()

		opCtx, cancel := opContext(ctx)
		defer cancel()
		return d.db.WithContext(opCtx).Clauses(
			clause.OnConflict{DoNothing: true},
		).Create(fresh).Error
	}()
	if err != nil && !errors.Is(err, gorm.ErrDuplicatedKey) {
		return nil, err
	}
	record, err = guildGetOrNone[T](ctx, d.db, guildID)
	if err != nil {
		return nil, err
	}
	if record == nil {
		return nil, fmt.Errorf("created record for guild %s not found on re-read", guildID)
	}
	return record, nil
}

// fillSubConfigs lazily loads (creating if needed) the requested sub-config
// records onto config.
func (d *database) fillSubConfigs(
	ctx context.Context,
	config *GuildConfig,
	kinds ...SubConfigKind,
) error {
	for _, kind := range kinds {
		var err error
		switch kind {
		case SubConfigNames:
			if config.Names == nil {
				config.Names, err = guildGetOrCreate[Names](
					ctx, d, config.GuildID,
					func(id string) *Names { return newNames(id) },
				)
			}
		case SubConfigBullets:
			if config.Bullets == nil {
				config.Bullets, err = guildGetOrCreate[BulletConfig](
					ctx, d, config.GuildID,
					func(id string) *BulletConfig { return newBulletConfig(id) },
				)
			}
		case SubConfigGacha:
			if config.Gacha == nil {
				config.Gacha, err = guildGetOrCreate[GachaConfig](
					ctx, d, config.GuildID,
					func(id string) *GachaConfig { return newGachaConfig(id) },
				)
			}
		case SubConfigMessages:
			if config.Messages == nil {
				config.Messages, err = guildGetOrCreate[MessageConfig](
					ctx, d, config.GuildID,
					func(id string) *MessageConfig { return newMessageConfig(id) },
				)
			}
		default:
			err = &InvalidArgumentError{
				Field:  "sub_config_kind",
				Reason: fmt.Sprintf("unknown kind %d", int(kind)),
			}
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// GetGuildConfig returns the guild's root config with the requested
// sub-configs attached, returning NotFoundError when the guild has no
// config record.
func (d *database) GetGuildConfig(
	ctx context.Context,
	guildID string,
	kinds ...SubConfigKind,
) (*GuildConfig, error) {
	config, err := guildGet[GuildConfig](ctx, d.db, "guild config", guildID)
	if err != nil {
		return nil, err
	}
	if err = d.fillSubConfigs(ctx, config, kinds...); err != nil {
		return nil, err
	}
	return config, nil
}

// GetGuildConfigOrNone is GetGuildConfig, but returns nil (no error) when
// the guild has no config record.
func (d *database) GetGuildConfigOrNone(
	ctx context.Context,
	guildID string,
	kinds ...SubConfigKind,
) (*GuildConfig, error) {
	config, err := guildGetOrNone[GuildConfig](ctx, d.db, guildID)
	if err != nil || config == nil {
		return nil, err
	}
	if err = d.fillSubConfigs(ctx, config, kinds...); err != nil {
		return nil, err
	}
	return config, nil
}

// GetOrCreateGuildConfig returns the guild's root config, creating it (and
// any requested sub-configs) if needed. Used on guild join.
func (d *database) GetOrCreateGuildConfig(
	ctx context.Context,
	guildID string,
	kinds ...SubConfigKind,
) (*GuildConfig, error) {
	config, err := guildGetOrCreate[GuildConfig](
		ctx, d, guildID,
		func(id string) *GuildConfig { return &GuildConfig{GuildID: id} },
	)
	if err != nil {
		return nil, err
	}
	if err = d.fillSubConfigs(ctx, config, kinds...); err != nil {
		return nil, err
	}
	return config, nil
}

// DeleteGuildData removes every record the bot holds for the guild: the
// config tree, truth bullets, gacha state and message links. Used on guild
// leave.
func (d *database) DeleteGuildData(ctx context.Context, guildID string) error {
	return d.Transaction(ctx, func(tx *gorm.DB) error {
		// Inventory join rows reference both gacha_items and gacha_players,
		// and foreign keys are enforced, so they go first.
		err := tx.Exec(
			`DELETE FROM gacha_player_items
			WHERE gacha_item_id IN
				(SELECT id FROM gacha_items WHERE guild_id = ?)
			OR gacha_player_user_guild_id IN
				(SELECT user_guild_id FROM gacha_players WHERE guild_id = ?)`,
			guildID, guildID,
		).Error
		if err != nil {
			return err
		}
		deletions := []any{
			&Names{},
			&BulletConfig{},
			&GachaConfig{},
			&MessageConfig{},
			&TruthBullet{},
			&GachaItem{},
			&MessageLink{},
			&GuildConfig{},
		}
		for _, model := range deletions {
			if err := tx.Where("guild_id = ?", guildID).Delete(model).Error; err != nil {
				return err
			}
		}
		// Guild IDs are numeric snowflakes, so no LIKE escaping is needed.
		return tx.Where(
			"user_guild_id LIKE ?", guildID+"-%",
		).Delete(&GachaPlayer{}).Error
	})
}

// GetMessageLink returns the whisper destination for a user, or a
// NotFoundError when the user has no link.
func (d *database) GetMessageLink(
	ctx context.Context,
	guildID string,
	userID string,
) (*MessageLink, error) {
	var link MessageLink
	err := d.db.WithContext(ctx).Where(
		"guild_id = ? AND user_id = ?", guildID, userID,
	).First(&link).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, &NotFoundError{Entity: "message link", Key: userID}
		}
		return nil, err
	}
	return &link, nil
}

// LinkUserChannel creates or updates the whisper destination for a user.
func (d *database) LinkUserChannel(
	ctx context.Context,
	guildID string,
	userID string,
	channelID string,
) (*MessageLink, error) {
	link := &MessageLink{
		GuildID:   guildID,
		UserID:    userID,
		ChannelID: channelID,
	}
	d.Lock()
	defer d.Unlock()

	ctx, cancel := opContext(ctx)
	defer cancel()

	err := d.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "guild_id"}, {Name: "user_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"channel_id", "updated_at"}),
	}).Create(link).Error
	if err != nil {
		return nil, err
	}
	var out MessageLink
	err = d.db.WithContext(ctx).Where(
		"guild_id = ? AND user_id = ?", guildID, userID,
	).First(&out).Error
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// UnlinkUser removes a user's whisper destination, returning the number of
// rows deleted.
func (d *database) UnlinkUser(ctx context.Context, guildID, userID string) (int64, error) {
	return d.Delete(&MessageLink{}, "guild_id = ? AND user_id = ?", guildID, userID)
}
