package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/jmossahebi/jello2/backup"
	"github.com/jmossahebi/jello2/domain"
)

var errNoLocalData = errors.New("no local board data")

func (c *cli) exportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write the local boards as an export document",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			local, err := c.openLocal()
			if err != nil {
				return err
			}
			defer local.Close()
			st, ok := local.Load(c.context(cmd))
			if !ok {
				return errNoLocalData
			}
			now := time.Now()
			data, err := domain.EncodeExport(domain.NewExport(*st, now))
			if err != nil {
				return err
			}
			out := c.v.GetString("out")
			switch out {
			case "-":
				_, err = cmd.OutOrStdout().Write(append(data, '\n'))
				return err
			case "":
				out = domain.ExportFilename(now)
			}
			if err := os.WriteFile(out, data, 0o644); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "exported %d boards to %s\n", len(st.Boards), out)
			return nil
		},
	}
	cmd.Flags().StringP("out", "o", "", `output file, "-" for stdout (default jello-boards-export-<date>.json)`)
	c.bind(cmd, "out")
	return cmd
}

func (c *cli) importCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "import <file>",
		Short: "Replace or merge the local boards from an export document",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := readInput(cmd, args[0])
			if err != nil {
				return err
			}
			imported, err := domain.DecodeImport(data)
			if err != nil {
				return err
			}
			local, err := c.openLocal()
			if err != nil {
				return err
			}
			defer local.Close()

			ctx := c.context(cmd)
			st := domain.State{Boards: []domain.Board{}}
			if cur, ok := local.Load(ctx); ok {
				st = *cur
			}
			mode := domain.ImportReplace
			if c.v.GetBool("merge") {
				mode = domain.ImportMerge
			}
			st.ApplyImport(imported, mode, domain.NewIDGenerator(nil, nil).NewID)
			if err := local.Save(ctx, st); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "imported %d boards (%s)\n", len(imported.Boards), mode)
			return nil
		},
	}
	cmd.Flags().Bool("merge", false, "append the imported boards instead of replacing")
	c.bind(cmd, "merge")
	return cmd
}

func readInput(cmd *cobra.Command, name string) ([]byte, error) {
	if name == "-" {
		return io.ReadAll(cmd.InOrStdin())
	}
	return os.ReadFile(name)
}

func (c *cli) backupCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "backup",
		Short: "Write a dated backup of the local boards",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			local, err := c.openLocal()
			if err != nil {
				return err
			}
			defer local.Close()
			ctx := c.context(cmd)
			st, ok := local.Load(ctx)
			if !ok {
				return errNoLocalData
			}
			sched := backup.New(local, nil, backup.Options{
				Dir:    c.v.GetString("dir"),
				Keep:   c.v.GetInt("keep"),
				Logger: c.logger,
			})
			path, err := sched.Backup(ctx, *st)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "backup written to %s\n", path)
			return nil
		},
	}
	cmd.Flags().String("dir", "backups", "backup directory")
	cmd.Flags().Int("keep", backup.DefaultKeep, "number of backups to keep")
	c.bind(cmd, "dir", "keep")
	return cmd
}
