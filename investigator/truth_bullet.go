package investigator

import (
	"context"
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"gorm.io/gorm"
)

var (
	columnTruthBulletFound  = "found"
	columnTruthBulletFinder = "finder"
)

// StringSet is an unordered, deduplicated set of strings, stored as a
// sorted JSON array so serialized output is deterministic.
type StringSet []string

// normalized returns a sorted copy with duplicates removed.
func (s StringSet) normalized() []string {
	seen := make(map[string]struct{}, len(s))
	out := make([]string, 0, len(s))
	for _, v := range s {
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}

// Contains reports whether the set holds v, compared case-insensitively.
func (s StringSet) Contains(v string) bool {
	for _, existing := range s {
		if strings.EqualFold(existing, v) {
			return true
		}
	}
	return false
}

// Add returns the set with v added, if not already present.
func (s StringSet) Add(v string) StringSet {
	if s.Contains(v) {
		return s
	}
	return StringSet(append(s.normalized(), v)).normalized()
}

// Remove returns the set with v removed, and whether it was present.
func (s StringSet) Remove(v string) (StringSet, bool) {
	out := make(StringSet, 0, len(s))
	removed := false
	for _, existing := range s {
		if strings.EqualFold(existing, v) {
			removed = true
			continue
		}
		out = append(out, existing)
	}
	return out.normalized(), removed
}

// Value implements the driver.Valuer interface.
func (s StringSet) Value() (driver.Value, error) {
	data, err := json.Marshal(s.normalized())
	if err != nil {
		return nil, err
	}
	return string(data), nil
}

// Scan implements the sql.Scanner interface.
func (s *StringSet) Scan(value any) error {
	if value == nil {
		*s = nil
		return nil
	}
	switch v := value.(type) {
	case []byte:
		return json.Unmarshal(v, s)
	case string:
		return json.Unmarshal([]byte(v), s)
	default:
		return fmt.Errorf("unexpected type for StringSet: %T", value)
	}
}

// GormDataType is used by GORM to determine the default data type for a field.
func (StringSet) GormDataType() string {
	return "text"
}

// TruthBullet is a discoverable clue tied to a single channel: the first
// user whose message contains its trigger (or one of its aliases) as a
// case-insensitive substring finds it.
//
// Invariant: Finder is non-empty if and only if Found is true, and once
// Found is set it never reverts.
type TruthBullet struct {
	ModelUintID

	GuildID   string `json:"guild_id" gorm:"index;type:string"`
	ChannelID string `json:"channel_id" gorm:"index;type:string"`

	// Trigger is the primary matchable phrase. Uniqueness per channel is
	// enforced at creation time via TruthBulletExists, not by the schema;
	// if duplicates exist anyway, the lowest id wins.
	Trigger string `json:"trigger" gorm:"type:string"`

	// Aliases are alternate matchable phrases.
	Aliases StringSet `json:"aliases"`

	// Description is revealed when the bullet is found.
	Description string `json:"description" gorm:"type:string"`

	// Hidden bullets are never offered in listings, even when found.
	Hidden bool `json:"hidden" gorm:"type:bool;default:false"`

	Found bool `json:"found" gorm:"type:bool;default:false"`

	// Finder is the discovering user's ID. Write-once, set by
	// CommitDiscovery.
	Finder string `json:"finder" gorm:"type:string"`

	ModelUnixTime
}

func NewTruthBullet(
	guildID string,
	channelID string,
	trigger string,
	description string,
	hidden bool,
) *TruthBullet {
	return &TruthBullet{
		GuildID:     guildID,
		ChannelID:   channelID,
		Trigger:     trigger,
		Description: description,
		Hidden:      hidden,
		Aliases:     StringSet{},
	}
}

func (t *TruthBullet) String() string {
	return fmt.Sprintf("%s [channel %s]", t.Trigger, t.ChannelID)
}

func (t *TruthBullet) LogValue() slog.Value {
	if t == nil {
		return slog.Value{}
	}
	attrs := []slog.Attr{
		slog.Uint64("id", uint64(t.ID)),
		slog.String("guild_id", t.GuildID),
		slog.String("channel_id", t.ChannelID),
		slog.String("trigger", t.Trigger),
		slog.Bool("found", t.Found),
	}
	if t.Finder != "" {
		attrs = append(attrs, slog.String(columnTruthBulletFinder, t.Finder))
	}
	return slog.GroupValue(attrs...)
}

// MatchesContent reports whether the bullet's trigger or any alias appears
// as a case-insensitive substring of content. LIKE wildcard characters in
// the trigger/alias are matched literally.
func (t *TruthBullet) MatchesContent(content string) bool {
	if containsPhrase(content, t.Trigger) {
		return true
	}
	for _, alias := range t.Aliases {
		if containsPhrase(content, alias) {
			return true
		}
	}
	return false
}

// MatchesExact reports whether text equals the bullet's trigger or one of
// its aliases, case-insensitively.
func (t *TruthBullet) MatchesExact(text string) bool {
	if strings.EqualFold(text, t.Trigger) {
		return true
	}
	return t.Aliases.Contains(text)
}

// FindTruthBullet returns the first not-yet-found bullet in the channel
// whose trigger or alias appears as a case-insensitive substring of
// content. Candidates are scanned in ascending id order, so the oldest
// matching bullet wins. Returns nil (no error) when nothing matches.
func (d *database) FindTruthBullet(
	ctx context.Context,
	channelID string,
	content string,
) (*TruthBullet, error) {
	bullets, err := d.UnfoundTruthBullets(ctx, channelID)
	if err != nil {
		return nil, err
	}
	for i := range bullets {
		if bullets[i].MatchesContent(content) {
			return &bullets[i], nil
		}
	}
	return nil, nil
}

// FindExactTruthBullet returns the first bullet in the channel whose
// trigger or alias equals text (case-insensitive, whole string). Found
// state is not filtered: this is the administrative lookup path.
// Returns nil (no error) when nothing matches.
func (d *database) FindExactTruthBullet(
	ctx context.Context,
	channelID string,
	text string,
) (*TruthBullet, error) {
	bullets, err := d.TruthBulletsInChannel(ctx, channelID)
	if err != nil {
		return nil, err
	}
	for i := range bullets {
		if bullets[i].MatchesExact(text) {
			return &bullets[i], nil
		}
	}
	return nil, nil
}

// TruthBulletExists reports whether any bullet in the channel has text as
// its trigger or an alias (exact, case-insensitive). Used to reject
// duplicate trigger input at creation/edit time.
func (d *database) TruthBulletExists(
	ctx context.Context,
	channelID string,
	text string,
) (bool, error) {
	bullet, err := d.FindExactTruthBullet(ctx, channelID, text)
	if err != nil {
		return false, err
	}
	return bullet != nil, nil
}

// CommitDiscovery marks the bullet found by finderID. The update is a
// single conditional statement gated on found still being false, so when
// two near-simultaneous messages match the same bullet, exactly one caller
// wins; the loser gets a ConflictError and the original finder is
// preserved.
func (d *database) CommitDiscovery(
	ctx context.Context,
	bullet *TruthBullet,
	finderID string,
) error {
	rows, err := d.UpdatesWhere(
		ctx,
		&TruthBullet{},
		map[string]any{
			columnTruthBulletFound:  true,
			columnTruthBulletFinder: finderID,
		},
		"id = ? AND found = ?",
		bullet.ID, false,
	)
	if err != nil {
		return err
	}
	if rows == 0 {
		return &ConflictError{
			Entity: "truth bullet",
			Reason: fmt.Sprintf("%q was already found", bullet.Trigger),
		}
	}
	bullet.Found = true
	bullet.Finder = finderID
	return nil
}

// CreateTruthBullet persists a new bullet, rejecting triggers that already
// exist (as a trigger or alias) in the channel. An empty trigger would
// match every message, so it's rejected too.
func (d *database) CreateTruthBullet(ctx context.Context, bullet *TruthBullet) error {
	if strings.TrimSpace(bullet.Trigger) == "" {
		return &InvalidArgumentError{Field: "trigger", Reason: "must not be empty"}
	}
	exists, err := d.TruthBulletExists(ctx, bullet.ChannelID, bullet.Trigger)
	if err != nil {
		return err
	}
	if exists {
		return &DuplicateNameError{
			Entity:  "truth bullet",
			Name:    bullet.Trigger,
			GuildID: bullet.GuildID,
		}
	}
	_, err = d.Create(ctx, bullet)
	return err
}

// DeleteTruthBullet removes the bullet in the channel whose trigger or
// alias equals trigger, returning the number of rows deleted (zero when
// nothing matched).
func (d *database) DeleteTruthBullet(
	ctx context.Context,
	channelID string,
	trigger string,
) (int64, error) {
	bullet, err := d.FindExactTruthBullet(ctx, channelID, trigger)
	if err != nil {
		return 0, err
	}
	if bullet == nil {
		return 0, nil
	}
	return d.Delete(&TruthBullet{}, "id = ?", bullet.ID)
}

func (d *database) TruthBulletsInChannel(
	ctx context.Context,
	channelID string,
) ([]TruthBullet, error) {
	var bullets []TruthBullet
	err := d.db.WithContext(ctx).Where(
		"channel_id = ?", channelID,
	).Order("id asc").Find(&bullets).Error
	return bullets, err
}

func (d *database) TruthBulletsInGuild(
	ctx context.Context,
	guildID string,
) ([]TruthBullet, error) {
	var bullets []TruthBullet
	err := d.db.WithContext(ctx).Where(
		"guild_id = ?", guildID,
	).Order("id asc").Find(&bullets).Error
	return bullets, err
}

func (d *database) UnfoundTruthBullets(
	ctx context.Context,
	channelID string,
) ([]TruthBullet, error) {
	var bullets []TruthBullet
	err := d.db.WithContext(ctx).Where(
		"channel_id = ? AND found = ?", channelID, false,
	).Order("id asc").Find(&bullets).Error
	return bullets, err
}

// ClearTruthBullets deletes every bullet in the guild, returning the
// number removed.
func (d *database) ClearTruthBullets(ctx context.Context, guildID string) (int64, error) {
	return d.Delete(&TruthBullet{}, "guild_id = ?", guildID)
}

// bulletStats summarizes found/unfound counts for the status API.
type bulletStats struct {
	Total   int64 `json:"total"`
	Found   int64 `json:"found"`
	Unfound int64 `json:"unfound"`
}

func getBulletStats(ctx context.Context, db *gorm.DB) (bulletStats, error) {
	var stats bulletStats
	var errs []error

	if err := db.WithContext(ctx).Model(&TruthBullet{}).Count(&stats.Total).Error; err != nil {
		errs = append(errs, err)
	}
	if err := db.WithContext(ctx).Model(&TruthBullet{}).Where(
		"found = ?", true,
	).Count(&stats.Found).Error; err != nil {
		errs = append(errs, err)
	}
	stats.Unfound = stats.Total - stats.Found
	return stats, errors.Join(errs...)
}
