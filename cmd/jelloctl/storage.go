package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jmossahebi/jello2/storage"
)

func (c *cli) initStorageCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "init-storage",
		Short: "Create the remote state table",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := storage.TableConfig{
				ConnectionString: c.v.GetString("connection-string"),
				ServiceURL:       c.v.GetString("service-url"),
				Table:            c.v.GetString("table"),
			}
			if cfg.ConnectionString == "" {
				if cfg.ServiceURL == "" || c.v.GetString("token-file") == "" {
					return errors.New("set --connection-string or --service-url with --token-file")
				}
				cfg.Credential = storage.NewRefreshingCredential(storage.FileTokenSource{Path: c.v.GetString("token-file")})
			}
			svc, err := storage.NewServiceClient(cfg)
			if err != nil {
				return err
			}
			created, err := storage.EnsureTable(c.context(cmd), svc, cfg.Table)
			if err != nil {
				return err
			}
			if created {
				fmt.Fprintf(cmd.OutOrStdout(), "created table %s\n", cfg.Table)
			} else {
				fmt.Fprintf(cmd.OutOrStdout(), "table %s already exists\n", cfg.Table)
			}
			return nil
		},
	}
	cmd.Flags().String("connection-string", "", "storage account connection string")
	cmd.Flags().String("service-url", "", "table service URL, used with --token-file")
	cmd.Flags().String("token-file", "", "file holding a bearer token for the table service")
	cmd.Flags().String("table", "JelloState", "state table name")
	c.bind(cmd, "connection-string", "service-url", "token-file", "table")
	return cmd
}
