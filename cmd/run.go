package cmd

import (
	"log"

	"github.com/AstreaTSS/UltimateInvestigator/investigator"
	"github.com/spf13/cobra"
)

var (
	runCmd = &cobra.Command{
		Use:   "run [flags]",
		Short: "Starts the investigator bot and (optionally) the status API",
		Run: func(cmd *cobra.Command, _ []string) {
			ctx := cmd.Context()
			bot, err := investigator.New(cfg)
			if err != nil {
				log.Fatalf("error creating investigator: %s", err.Error())
			}

			if err = bot.Run(ctx); err != nil {
				log.Fatalf("error running investigator: %s", err.Error())
			}
		},
	}
)

//goland:noinspection GoLinter
func init() {
	rootCmd.AddCommand(runCmd)
}
