package cmd

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/AstreaTSS/UltimateInvestigator/investigator"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func TestInitCommand(t *testing.T) {
	tempDir := t.TempDir()
	dbPath := filepath.Join(tempDir, "test.db")

	os.Setenv("UI_DATABASE_TYPE", "sqlite")
	os.Setenv("UI_DATABASE", dbPath)
	t.Cleanup(
		func() {
			os.Unsetenv("UI_DATABASE_TYPE")
			os.Unsetenv("UI_DATABASE")
		},
	)

	currentOut := rootCmd.OutOrStdout()
	currentErr := rootCmd.OutOrStderr()
	t.Cleanup(
		func() {
			rootCmd.SetOut(currentOut)
			rootCmd.SetErr(currentErr)
		},
	)
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)

	rootCmd.SetArgs([]string{"init"})
	err := rootCmd.Execute()
	require.NoError(t, err)

	_, err = os.Stat(dbPath)
	assert.NoError(t, err, "Database file should exist")

	// Verify the output
	output := out.String()
	t.Logf("output: %s", output)
	assert.Contains(t, output, "Initialization complete")

	// Verify the database contents
	db, err := gorm.Open(sqlite.Open(dbPath))
	require.NoError(t, err)

	t.Cleanup(
		func() {
			sqlDB, _ := db.DB()
			if sqlDB != nil {
				_ = sqlDB.Close()
			}
		},
	)

	mg := db.Migrator()

	assert.True(t, mg.HasTable(&investigator.GuildConfig{}))
	assert.True(t, mg.HasTable(&investigator.Names{}))
	assert.True(t, mg.HasTable(&investigator.BulletConfig{}))
	assert.True(t, mg.HasTable(&investigator.GachaConfig{}))
	assert.True(t, mg.HasTable(&investigator.MessageConfig{}))
	assert.True(t, mg.HasTable(&investigator.TruthBullet{}))
	assert.True(t, mg.HasTable(&investigator.GachaPlayer{}))
	assert.True(t, mg.HasTable(&investigator.GachaItem{}))
	assert.True(t, mg.HasTable(&investigator.MessageLink{}))
}
