package main

import (
	"errors"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"tasklane/config"
	"tasklane/storage"
)

var initStorageCmd = &cobra.Command{
	Use:   "init-storage",
	Short: "Create the tables, queue or schema the configured backend needs",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		log.Info("storage init starting")
		ctx := cmd.Context()
		switch cfg.Storage.Backend {
		case config.BackendTables:
			err = storage.Provision(ctx, cfg.Storage.ConnectionString,
				[]string{cfg.Storage.TasksTable, cfg.Storage.UsersTable},
				[]string{cfg.Notify.Queue})
		case config.BackendPostgres:
			var pg *storage.Postgres
			pg, err = storage.NewPostgres(cfg.Storage.DatabaseURL)
			if err == nil {
				err = errors.Join(pg.Migrate(ctx), pg.Close())
			}
		default:
			log.Info("memory backend needs no provisioning")
		}
		if err != nil {
			return err
		}
		log.Info("storage init complete")
		return nil
	},
}
