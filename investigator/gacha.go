package investigator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// GachaItemUnlimited is the stock sentinel for items that never run out.
const GachaItemUnlimited int64 = -1

// gachaPlayerID builds the composite primary key for a player record.
func gachaPlayerID(guildID, userID string) string {
	return fmt.Sprintf("%s-%s", guildID, userID)
}

// GachaPlayer tracks one user's currency balance within one guild. The
// primary key is the composite "guildID-userID" string, so a user has an
// independent balance per guild.
type GachaPlayer struct {
	UserGuildID string `gorm:"primaryKey;type:string" json:"user_guild_id"`

	GuildID string `json:"guild_id" gorm:"index;type:string"`
	UserID  string `json:"user_id" gorm:"index;type:string"`

	CurrencyAmount int64 `json:"currency_amount" gorm:"type:bigint;default:0"`

	// Items the player has pulled. One join row per distinct item: pulling
	// an item the player already holds leaves the collection unchanged.
	Items []GachaItem `json:"items,omitempty" gorm:"many2many:gacha_player_items;"`

	ModelUnixTime
}

func (GachaPlayer) TableName() string {
	return "gacha_players"
}

func (p *GachaPlayer) LogValue() slog.Value {
	if p == nil {
		return slog.Value{}
	}
	return slog.GroupValue(
		slog.String("guild_id", p.GuildID),
		slog.String("user_id", p.UserID),
		slog.Int64("currency_amount", p.CurrencyAmount),
	)
}

// GachaItem is a pullable prize. Amount of GachaItemUnlimited means the
// item has no stock limit; zero means sold out.
type GachaItem struct {
	ModelUintID

	GuildID string `json:"guild_id" gorm:"index:idx_gacha_item_name,unique;type:string"`
	Name    string `json:"name" gorm:"index:idx_gacha_item_name,unique;type:string"`

	Description string `json:"description" gorm:"type:string"`
	Image       string `json:"image" gorm:"type:string"`

	Amount int64 `json:"amount" gorm:"type:bigint;default:-1"`

	ModelUnixTime
}

func (GachaItem) TableName() string {
	return "gacha_items"
}

func (g *GachaItem) LogValue() slog.Value {
	if g == nil {
		return slog.Value{}
	}
	return slog.GroupValue(
		slog.Uint64("id", uint64(g.ID)),
		slog.String("guild_id", g.GuildID),
		slog.String("name", g.Name),
		slog.Int64("amount", g.Amount),
	)
}

// Unlimited reports whether the item has no stock limit.
func (g *GachaItem) Unlimited() bool {
	return g.Amount == GachaItemUnlimited
}

// Validate checks the item's fields before persistence.
func (g *GachaItem) Validate() error {
	if strings.TrimSpace(g.Name) == "" {
		return &InvalidArgumentError{Field: "name", Reason: "must not be empty"}
	}
	if g.Amount < GachaItemUnlimited {
		return &InvalidArgumentError{
			Field: "amount",
			Reason: fmt.Sprintf(
				"must be %d (unlimited) or a non-negative count, got %d",
				GachaItemUnlimited, g.Amount,
			),
		}
	}
	return nil
}

// GachaItemUpdate describes a partial update to an item. Nil fields are
// left unchanged; setting Amount to nil while ClearAmount is true resets
// the stock to unlimited.
type GachaItemUpdate struct {
	Name        *string
	Description *string
	Image       *string
	Amount      *int64
	ClearAmount bool
}

// GrantCurrency atomically adds amount to the player's balance, creating
// the player record (starting from zero) if it doesn't exist. The balance
// change is a single upsert statement, so concurrent grants never lose
// increments. Returns the player's post-update state.
func (d *database) GrantCurrency(
	ctx context.Context,
	guildID string,
	userID string,
	amount int64,
) (*GachaPlayer, error) {
	return d.adjustCurrency(ctx, guildID, userID, amount)
}

// RemoveCurrency atomically subtracts amount from the player's balance,
// creating the player record if it doesn't exist (leaving the new player
// at a negative balance). Balance may go negative; callers enforce
// affordability checks before debiting.
func (d *database) RemoveCurrency(
	ctx context.Context,
	guildID string,
	userID string,
	amount int64,
) (*GachaPlayer, error) {
	return d.adjustCurrency(ctx, guildID, userID, -amount)
}

func (d *database) adjustCurrency(
	ctx context.Context,
	guildID string,
	userID string,
	delta int64,
) (*GachaPlayer, error) {
	if guildID == "" || userID == "" {
		return nil, &InvalidArgumentError{
			Field:  "guild_id/user_id",
			Reason: "must not be empty",
		}
	}
	d.Lock()
	defer d.Unlock()

	ctx, cancel := opContext(ctx)
	defer cancel()

	player := &GachaPlayer{
		UserGuildID:    gachaPlayerID(guildID, userID),
		GuildID:        guildID,
		UserID:         userID,
		CurrencyAmount: delta,
	}
	err := d.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "user_guild_id"}},
		DoUpdates: clause.Assignments(map[string]any{
			"currency_amount": gorm.Expr("currency_amount + ?", delta),
		}),
	}).Create(player).Error
	if err != nil {
		return nil, err
	}

	var out GachaPlayer
	err = d.db.WithContext(ctx).Where(
		"user_guild_id = ?", player.UserGuildID,
	).First(&out).Error
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// ResetCurrencyIfPositive zeroes the player's balance only when it is
// currently positive, reporting whether a reset happened. Zero or negative
// balances are left untouched.
func (d *database) ResetCurrencyIfPositive(
	ctx context.Context,
	guildID string,
	userID string,
) (bool, error) {
	rows, err := d.UpdatesWhere(
		ctx,
		&GachaPlayer{},
		map[string]any{"currency_amount": 0},
		"user_guild_id = ? AND currency_amount > ?",
		gachaPlayerID(guildID, userID), 0,
	)
	if err != nil {
		return false, err
	}
	return rows > 0, nil
}

// GrantCurrencyAll adds amount to every listed user's balance in a single
// transaction, creating missing player records. Either all grants apply or
// none do.
func (d *database) GrantCurrencyAll(
	ctx context.Context,
	guildID string,
	userIDs []string,
	amount int64,
) error {
	if len(userIDs) == 0 {
		return nil
	}
	return d.Transaction(ctx, func(tx *gorm.DB) error {
		for _, userID := range userIDs {
			player := &GachaPlayer{
				UserGuildID:    gachaPlayerID(guildID, userID),
				GuildID:        guildID,
				UserID:         userID,
				CurrencyAmount: amount,
			}
			err := tx.Clauses(clause.OnConflict{
				Columns: []clause.Column{{Name: "user_guild_id"}},
				DoUpdates: clause.Assignments(map[string]any{
					"currency_amount": gorm.Expr("currency_amount + ?", amount),
				}),
			}).Create(player).Error
			if err != nil {
				return err
			}
		}
		return nil
	})
}

// GetGachaPlayer returns the player's record with pulled items preloaded,
// or a NotFoundError when the player has never participated.
func (d *database) GetGachaPlayer(
	ctx context.Context,
	guildID string,
	userID string,
) (*GachaPlayer, error) {
	var player GachaPlayer
	err := d.db.WithContext(ctx).Preload("Items").Where(
		"user_guild_id = ?", gachaPlayerID(guildID, userID),
	).First(&player).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, &NotFoundError{Entity: "gacha player", Key: userID}
		}
		return nil, err
	}
	return &player, nil
}

// ListGachaPlayers returns every player in the guild, highest balance
// first.
func (d *database) ListGachaPlayers(
	ctx context.Context,
	guildID string,
) ([]GachaPlayer, error) {
	var players []GachaPlayer
	err := d.db.WithContext(ctx).Where(
		"guild_id = ?", guildID,
	).Order("currency_amount desc").Find(&players).Error
	return players, err
}

// CreateGachaItem persists a new item. Item names are unique per guild;
// creating a duplicate returns DuplicateNameError.
func (d *database) CreateGachaItem(ctx context.Context, item *GachaItem) error {
	if err := item.Validate(); err != nil {
		return err
	}
	_, err := d.Create(ctx, item)
	if err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return &DuplicateNameError{
				Entity:  "gacha item",
				Name:    item.Name,
				GuildID: item.GuildID,
			}
		}
		return err
	}
	return nil
}

// UpdateGachaItem applies a partial update to the item, returning its
// post-update state. Missing items return NotFoundError; renaming onto an
// existing name returns DuplicateNameError.
func (d *database) UpdateGachaItem(
	ctx context.Context,
	itemID uint,
	update GachaItemUpdate,
) (*GachaItem, error) {
	values := map[string]any{}
	if update.Name != nil {
		if strings.TrimSpace(*update.Name) == "" {
			return nil, &InvalidArgumentError{Field: "name", Reason: "must not be empty"}
		}
		values["name"] = *update.Name
	}
	if update.Description != nil {
		values["description"] = *update.Description
	}
	if update.Image != nil {
		values["image"] = *update.Image
	}
	switch {
	case update.Amount != nil:
		if *update.Amount < GachaItemUnlimited {
			return nil, &InvalidArgumentError{
				Field:  "amount",
				Reason: fmt.Sprintf("must be %d or a non-negative count", GachaItemUnlimited),
			}
		}
		values["amount"] = *update.Amount
	case update.ClearAmount:
		values["amount"] = GachaItemUnlimited
	}
	if len(values) == 0 {
		return nil, &InvalidArgumentError{Field: "update", Reason: "no fields to update"}
	}

	rows, err := d.UpdatesWhere(ctx, &GachaItem{}, values, "id = ?", itemID)
	if err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			var name string
			if update.Name != nil {
				name = *update.Name
			}
			return nil, &DuplicateNameError{Entity: "gacha item", Name: name}
		}
		return nil, err
	}
	if rows == 0 {
		return nil, &NotFoundError{
			Entity: "gacha item",
			Key:    fmt.Sprintf("%d", itemID),
		}
	}
	var out GachaItem
	if err = d.db.WithContext(ctx).First(&out, itemID).Error; err != nil {
		return nil, err
	}
	return &out, nil
}

// DeleteGachaItem removes the named item from the guild's catalog,
// returning the number of rows deleted.
func (d *database) DeleteGachaItem(
	ctx context.Context,
	guildID string,
	name string,
) (int64, error) {
	return d.Delete(&GachaItem{}, "guild_id = ? AND name = ?", guildID, name)
}

// ListGachaItems returns the guild's item catalog in creation order.
func (d *database) ListGachaItems(ctx context.Context, guildID string) ([]GachaItem, error) {
	var items []GachaItem
	err := d.db.WithContext(ctx).Where(
		"guild_id = ?", guildID,
	).Order("id asc").Find(&items).Error
	return items, err
}

// GetGachaItemByName returns the named item, or NotFoundError.
func (d *database) GetGachaItemByName(
	ctx context.Context,
	guildID string,
	name string,
) (*GachaItem, error) {
	var item GachaItem
	err := d.db.WithContext(ctx).Where(
		"guild_id = ? AND name = ?", guildID, name,
	).First(&item).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, &NotFoundError{Entity: "gacha item", Key: name}
		}
		return nil, err
	}
	return &item, nil
}

// GiveItemToPlayer records a pull: the item is added to the player's
// collection. Re-pulling an item the player already holds is a no-op.
// Stock is not decremented here; callers managing limited items adjust
// Amount separately.
func (d *database) GiveItemToPlayer(
	ctx context.Context,
	player *GachaPlayer,
	item *GachaItem,
) error {
	d.Lock()
	defer d.Unlock()

	ctx, cancel := opContext(ctx)
	defer cancel()
	return d.db.WithContext(ctx).Model(player).Association("Items").Append(item)
}
