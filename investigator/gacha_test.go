package investigator

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGrantCurrency(t *testing.T) {
	db := newTestWriteDB(t)
	ctx := testContext(t)

	player, err := db.GrantCurrency(ctx, "guild-1", "user-1", 10)
	require.NoError(t, err)
	assert.Equal(t, "guild-1-user-1", player.UserGuildID)
	assert.Equal(t, int64(10), player.CurrencyAmount)

	player, err = db.GrantCurrency(ctx, "guild-1", "user-1", 5)
	require.NoError(t, err)
	assert.Equal(t, int64(15), player.CurrencyAmount)

	// balances are per guild
	player, err = db.GrantCurrency(ctx, "guild-2", "user-1", 1)
	require.NoError(t, err)
	assert.Equal(t, int64(1), player.CurrencyAmount)
}

func TestGrantCurrencyConcurrent(t *testing.T) {
	db := newTestWriteDB(t)
	ctx := testContext(t)

	const (
		grants = 10
		amount = int64(5)
	)

	wg := &sync.WaitGroup{}
	errs := make([]error, grants)
	for i := 0; i < grants; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = db.GrantCurrency(ctx, "guild-1", "user-1", amount)
		}(i)
	}
	wg.Wait()

	for _, err := range errs {
		require.NoError(t, err)
	}

	// concurrent grants never lose increments
	player, err := db.GetGachaPlayer(ctx, "guild-1", "user-1")
	require.NoError(t, err)
	assert.Equal(t, grants*amount, player.CurrencyAmount)
}

func TestGrantCurrencyRejectsEmptyIDs(t *testing.T) {
	db := newTestWriteDB(t)
	ctx := testContext(t)

	_, err := db.GrantCurrency(ctx, "", "user-1", 1)
	assert.ErrorIs(t, err, ErrInvalidArgument)

	_, err = db.RemoveCurrency(ctx, "guild-1", "", 1)
	assert.ErrorIs(t, err, ErrInvalidArgument)
}

func TestRemoveCurrency(t *testing.T) {
	db := newTestWriteDB(t)
	ctx := testContext(t)

	_, err := db.GrantCurrency(ctx, "guild-1", "user-1", 10)
	require.NoError(t, err)

	player, err := db.RemoveCurrency(ctx, "guild-1", "user-1", 4)
	require.NoError(t, err)
	assert.Equal(t, int64(6), player.CurrencyAmount)

	// balances may go negative; affordability checks live in the caller
	player, err = db.RemoveCurrency(ctx, "guild-1", "user-1", 10)
	require.NoError(t, err)
	assert.Equal(t, int64(-4), player.CurrencyAmount)

	// debiting an unknown player creates the record at a negative balance
	player, err = db.RemoveCurrency(ctx, "guild-1", "user-2", 3)
	require.NoError(t, err)
	assert.Equal(t, int64(-3), player.CurrencyAmount)
}

func TestResetCurrencyIfPositive(t *testing.T) {
	db := newTestWriteDB(t)
	ctx := testContext(t)

	_, err := db.GrantCurrency(ctx, "guild-1", "rich", 10)
	require.NoError(t, err)
	_, err = db.RemoveCurrency(ctx, "guild-1", "broke", 5)
	require.NoError(t, err)

	reset, err := db.ResetCurrencyIfPositive(ctx, "guild-1", "rich")
	require.NoError(t, err)
	assert.True(t, reset)

	player, err := db.GetGachaPlayer(ctx, "guild-1", "rich")
	require.NoError(t, err)
	assert.Zero(t, player.CurrencyAmount)

	// already zero: nothing to reset
	reset, err = db.ResetCurrencyIfPositive(ctx, "guild-1", "rich")
	require.NoError(t, err)
	assert.False(t, reset)

	// negative balances are debts, not winnings, and are left alone
	reset, err = db.ResetCurrencyIfPositive(ctx, "guild-1", "broke")
	require.NoError(t, err)
	assert.False(t, reset)

	player, err = db.GetGachaPlayer(ctx, "guild-1", "broke")
	require.NoError(t, err)
	assert.Equal(t, int64(-5), player.CurrencyAmount)
}

func TestGrantCurrencyAll(t *testing.T) {
	db := newTestWriteDB(t)
	ctx := testContext(t)

	_, err := db.GrantCurrency(ctx, "guild-1", "user-1", 7)
	require.NoError(t, err)

	require.NoError(
		t,
		db.GrantCurrencyAll(ctx, "guild-1", []string{"user-1", "user-2", "user-3"}, 2),
	)

	players, err := db.ListGachaPlayers(ctx, "guild-1")
	require.NoError(t, err)
	require.Len(t, players, 3)

	// ordered highest balance first
	assert.Equal(t, "user-1", players[0].UserID)
	assert.Equal(t, int64(9), players[0].CurrencyAmount)
	assert.Equal(t, int64(2), players[1].CurrencyAmount)
	assert.Equal(t, int64(2), players[2].CurrencyAmount)

	require.NoError(t, db.GrantCurrencyAll(ctx, "guild-1", nil, 100))
	players, err = db.ListGachaPlayers(ctx, "guild-1")
	require.NoError(t, err)
	assert.Len(t, players, 3)
}

func TestGetGachaPlayerNotFound(t *testing.T) {
	db := newTestWriteDB(t)
	ctx := testContext(t)

	_, err := db.GetGachaPlayer(ctx, "guild-1", "nobody")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestGachaItemValidate(t *testing.T) {
	t.Parallel()

	item := &GachaItem{GuildID: "g", Name: "Golden Key"}
	require.NoError(t, item.Validate())
	assert.True(t, item.Unlimited())

	item.Amount = 3
	require.NoError(t, item.Validate())
	assert.False(t, item.Unlimited())

	item.Amount = -2
	assert.ErrorIs(t, item.Validate(), ErrInvalidArgument)

	item = &GachaItem{GuildID: "g", Name: "   "}
	assert.ErrorIs(t, item.Validate(), ErrInvalidArgument)
}

func TestCreateGachaItemRejectsDuplicates(t *testing.T) {
	db := newTestWriteDB(t)
	ctx := testContext(t)

	item := &GachaItem{GuildID: "guild-1", Name: "Golden Key", Description: "opens things"}
	require.NoError(t, db.CreateGachaItem(ctx, item))
	assert.NotZero(t, item.ID)

	err := db.CreateGachaItem(ctx, &GachaItem{GuildID: "guild-1", Name: "Golden Key"})
	assert.ErrorIs(t, err, ErrDuplicateName)

	// same name in another guild is fine
	require.NoError(t, db.CreateGachaItem(ctx, &GachaItem{GuildID: "guild-2", Name: "Golden Key"}))
}

func TestUpdateGachaItem(t *testing.T) {
	db := newTestWriteDB(t)
	ctx := testContext(t)

	item := &GachaItem{GuildID: "guild-1", Name: "Golden Key", Amount: 5}
	require.NoError(t, db.CreateGachaItem(ctx, item))

	newName := "Silver Key"
	newDescription := "slightly worse"
	out, err := db.UpdateGachaItem(ctx, item.ID, GachaItemUpdate{
		Name:        &newName,
		Description: &newDescription,
	})
	require.NoError(t, err)
	assert.Equal(t, "Silver Key", out.Name)
	assert.Equal(t, "slightly worse", out.Description)
	assert.Equal(t, int64(5), out.Amount)

	out, err = db.UpdateGachaItem(ctx, item.ID, GachaItemUpdate{ClearAmount: true})
	require.NoError(t, err)
	assert.True(t, out.Unlimited())

	_, err = db.UpdateGachaItem(ctx, item.ID, GachaItemUpdate{})
	assert.ErrorIs(t, err, ErrInvalidArgument)

	badAmount := int64(-5)
	_, err = db.UpdateGachaItem(ctx, item.ID, GachaItemUpdate{Amount: &badAmount})
	assert.ErrorIs(t, err, ErrInvalidArgument)

	empty := "  "
	_, err = db.UpdateGachaItem(ctx, item.ID, GachaItemUpdate{Name: &empty})
	assert.ErrorIs(t, err, ErrInvalidArgument)

	_, err = db.UpdateGachaItem(ctx, item.ID+100, GachaItemUpdate{ClearAmount: true})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDeleteGachaItem(t *testing.T) {
	db := newTestWriteDB(t)
	ctx := testContext(t)

	require.NoError(t, db.CreateGachaItem(ctx, &GachaItem{GuildID: "guild-1", Name: "Golden Key"}))

	rows, err := db.DeleteGachaItem(ctx, "guild-1", "Golden Key")
	require.NoError(t, err)
	assert.Equal(t, int64(1), rows)

	rows, err = db.DeleteGachaItem(ctx, "guild-1", "Golden Key")
	require.NoError(t, err)
	assert.Zero(t, rows)
}

func TestGetGachaItemByName(t *testing.T) {
	db := newTestWriteDB(t)
	ctx := testContext(t)

	require.NoError(t, db.CreateGachaItem(ctx, &GachaItem{GuildID: "guild-1", Name: "Golden Key"}))

	item, err := db.GetGachaItemByName(ctx, "guild-1", "Golden Key")
	require.NoError(t, err)
	assert.Equal(t, "Golden Key", item.Name)

	_, err = db.GetGachaItemByName(ctx, "guild-1", "Rusty Key")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestGiveItemToPlayer(t *testing.T) {
	db := newTestWriteDB(t)
	ctx := testContext(t)

	player, err := db.GrantCurrency(ctx, "guild-1", "user-1", 10)
	require.NoError(t, err)

	key := &GachaItem{GuildID: "guild-1", Name: "Golden Key"}
	require.NoError(t, db.CreateGachaItem(ctx, key))
	mask := &GachaItem{GuildID: "guild-1", Name: "Monokuma Mask"}
	require.NoError(t, db.CreateGachaItem(ctx, mask))

	require.NoError(t, db.GiveItemToPlayer(ctx, player, key))
	require.NoError(t, db.GiveItemToPlayer(ctx, player, mask))

	out, err := db.GetGachaPlayer(ctx, "guild-1", "user-1")
	require.NoError(t, err)
	require.Len(t, out.Items, 2)

	names := []string{out.Items[0].Name, out.Items[1].Name}
	assert.ElementsMatch(t, []string{"Golden Key", "Monokuma Mask"}, names)

	// re-pulling an item the player already holds leaves the collection
	// unchanged
	require.NoError(t, db.GiveItemToPlayer(ctx, player, key))

	out, err = db.GetGachaPlayer(ctx, "guild-1", "user-1")
	require.NoError(t, err)
	assert.Len(t, out.Items, 2)

	var joinRows int64
	require.NoError(
		t,
		db.DB().Table("gacha_player_items").Where(
			"gacha_item_id = ?", key.ID,
		).Count(&joinRows).Error,
	)
	assert.Equal(t, int64(1), joinRows)
}
