package cmd

import (
	"github.com/AzielCF/az-medchat/chatengine/repository"
	"github.com/AzielCF/az-medchat/core/database"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create or update the conversation and embedding tables",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		db, err := database.NewDatabase(cfg)
		if err != nil {
			return err
		}
		defer database.Close(db)

		logrus.Infof("[MIGRATION] Migrating %s database %s...", cfg.Database.Driver, cfg.Database.Name)
		if err := repository.NewConversationGormRepository(db).Init(ctx); err != nil {
			return err
		}
		if err := repository.NewSnippetGormRepository(db).Init(ctx); err != nil {
			return err
		}
		logrus.Info("[MIGRATION] Done.")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}
