package main

import (
	"context"
	"strings"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/jmossahebi/jello2/storage"
)

// cli carries the per-invocation settings. Flags win over JELLO_* env vars,
// which win over defaults.
type cli struct {
	v      *viper.Viper
	logger *log.Logger
}

func newRootCmd() *cobra.Command {
	c := &cli{v: viper.New(), logger: log.New()}
	c.v.SetEnvPrefix("JELLO")
	c.v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	c.v.AutomaticEnv()

	root := &cobra.Command{
		Use:           "jelloctl",
		Short:         "Manage jello board storage",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			c.logger.SetOutput(cmd.ErrOrStderr())
			if c.v.GetBool("verbose") {
				c.logger.SetLevel(log.DebugLevel)
			}
		},
	}
	root.PersistentFlags().BoolP("verbose", "v", false, "enable debug logging")
	root.PersistentFlags().String("db", "jello.db", "path of the local snapshot database")
	c.bind(root, "verbose", "db")

	root.AddCommand(
		c.initStorageCmd(),
		c.tokenCmd(),
		c.exportCmd(),
		c.importCmd(),
		c.backupCmd(),
	)
	return root
}

// bind ties persistent or local flags of cmd to viper keys of the same
// name.
func (c *cli) bind(cmd *cobra.Command, names ...string) {
	for _, name := range names {
		f := cmd.Flags().Lookup(name)
		if f == nil {
			f = cmd.PersistentFlags().Lookup(name)
		}
		if f == nil {
			panic("unknown flag " + name)
		}
		_ = c.v.BindPFlag(name, f)
	}
}

func (c *cli) openLocal() (*storage.Local, error) {
	return storage.OpenLocal(c.v.GetString("db"), 0, c.logger)
}

func (c *cli) context(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
