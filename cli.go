package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"text/tabwriter"

	"crispy/config"
	"crispy/modlog"
	"crispy/utils"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var (
	green = color.New(color.FgGreen)
	red   = color.New(color.FgRed, color.Bold)
	cyan  = color.New(color.FgCyan)
)

// loadRuntime loads the configuration for a command. CLI commands log to stderr so their
// stdout stays readable.
func loadRuntime(cmd *cobra.Command, logTo io.Writer) (*config.Config, *slog.Logger, error) {
	path, _ := cmd.Flags().GetString("config")
	bootstrap := slog.New(slog.NewJSONHandler(logTo, nil))
	cfg, err := config.Load(path, bootstrap)
	if err != nil {
		return nil, nil, err
	}
	return cfg, newLogger(cfg, logTo), nil
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "crispy",
		Short:         "crispy - imageboard backend with board-partitioned post numbers",
		Version:       config.AppVersion,
		SilenceErrors: true,
		SilenceUsage:  true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return serveCmd().RunE(cmd, args)
		},
	}
	root.PersistentFlags().String("config", utils.GetEnv("CRISPY_CONFIG", ""), "path to a YAML config file")

	root.AddCommand(serveCmd(), boardCmd(), backupCmd(), hashKeyCmd())
	return root
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := loadRuntime(cmd, os.Stdout)
			if err != nil {
				return reportError(cmd, err)
			}
			slog.SetDefault(logger)
			ctx, stop := signalContext()
			defer stop()
			if err := runServer(ctx, cfg, logger); err != nil {
				logger.Error("Server stopped with error", "error", err)
				return err
			}
			return nil
		},
	}
}

func boardCmd() *cobra.Command {
	board := &cobra.Command{
		Use:   "board",
		Short: "Manage boards",
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "List boards and their prefixes",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := loadRuntime(cmd, cmd.ErrOrStderr())
			if err != nil {
				return reportError(cmd, err)
			}
			db, closeDB, err := openDB(cmd.Context(), cfg, logger)
			if err != nil {
				return reportError(cmd, err)
			}
			defer closeDB()

			boards, err := db.ListBoards(cmd.Context())
			if err != nil {
				return reportError(cmd, err)
			}
			if len(boards) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No boards.")
				return nil
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "PREFIX\tNAME\tDISPLAY NAME\tID")
			for _, b := range boards {
				fmt.Fprintf(tw, "%d\t/%s/\t%s\t%s\n", b.Prefix, b.Name, b.DisplayName, b.ID)
			}
			return tw.Flush()
		},
	}

	var name, displayName string
	var prefix int
	create := &cobra.Command{
		Use:   "create",
		Short: "Create a board owning one identifier prefix",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := loadRuntime(cmd, cmd.ErrOrStderr())
			if err != nil {
				return reportError(cmd, err)
			}
			db, closeDB, err := openDB(cmd.Context(), cfg, logger)
			if err != nil {
				return reportError(cmd, err)
			}
			defer closeDB()

			b, err := db.CreateBoard(cmd.Context(), name, displayName, prefix)
			if err != nil {
				return reportError(cmd, err)
			}
			logModAction(cfg, db, logger, modlog.ActionCreateBoard, fmt.Sprintf("Board: %s (%s), prefix %d", b.Name, b.ID, b.Prefix))
			green.Fprintf(cmd.OutOrStdout(), "Created /%s/ with prefix %d\n", b.Name, b.Prefix)
			cyan.Fprintf(cmd.OutOrStdout(), "id: %s\n", b.ID)
			return nil
		},
	}
	create.Flags().StringVar(&name, "name", "", "URL name of the board (a-z, 0-9)")
	create.Flags().StringVar(&displayName, "display-name", "", "human readable name")
	create.Flags().IntVar(&prefix, "prefix", 0, "identifier prefix, 1-9")
	_ = create.MarkFlagRequired("name")
	_ = create.MarkFlagRequired("prefix")

	del := &cobra.Command{
		Use:   "delete <board-id>",
		Short: "Delete a board with all of its threads and posts",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := loadRuntime(cmd, cmd.ErrOrStderr())
			if err != nil {
				return reportError(cmd, err)
			}
			db, closeDB, err := openDB(cmd.Context(), cfg, logger)
			if err != nil {
				return reportError(cmd, err)
			}
			defer closeDB()

			images, err := db.DeleteBoard(cmd.Context(), args[0])
			if err != nil {
				return reportError(cmd, err)
			}
			logModAction(cfg, db, logger, modlog.ActionDeleteBoard, "Board ID: "+args[0])

			if store, err := newStorage(cmd.Context(), cfg, logger); err != nil {
				logger.Warn("Storage unavailable, images were not removed", "error", err)
			} else {
				for _, u := range images {
					if !store.Owns(u) {
						continue
					}
					if err := store.DeleteFile(cmd.Context(), u); err != nil {
						logger.Warn("Failed to delete image", "image_url", u, "error", err)
					}
				}
			}
			green.Fprintf(cmd.OutOrStdout(), "Deleted board %s (%d images)\n", args[0], len(images))
			return nil
		},
	}

	board.AddCommand(list, create, del)
	return board
}

func backupCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "backup",
		Short: "Write a consistent copy of the database to backup_dir",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := loadRuntime(cmd, cmd.ErrOrStderr())
			if err != nil {
				return reportError(cmd, err)
			}
			db, closeDB, err := openDB(cmd.Context(), cfg, logger)
			if err != nil {
				return reportError(cmd, err)
			}
			defer closeDB()

			path, err := db.BackupDatabase(cmd.Context())
			if err != nil {
				return reportError(cmd, err)
			}
			green.Fprintf(cmd.OutOrStdout(), "Backup written to %s\n", path)
			return nil
		},
	}
}

func hashKeyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "hash-key <admin-key>",
		Short: "Print the bcrypt hash to use as admin_key_hash",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			h, err := utils.HashAdminKey(args[0])
			if err != nil {
				return reportError(cmd, err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), h)
			return nil
		},
	}
}

// logModAction records a CLI moderation action synchronously through a short-lived sink.
func logModAction(cfg *config.Config, store modlog.Store, logger *slog.Logger, action, details string) {
	sink, err := modlog.New(store, cfg.ModerationLog, 1, logger)
	if err != nil {
		logger.Error("Failed to open moderation log", "error", err)
		return
	}
	sink.Log(action, details)
	if err := sink.Close(); err != nil {
		logger.Error("Failed to close moderation log", "error", err)
	}
}

func reportError(cmd *cobra.Command, err error) error {
	red.Fprintf(cmd.ErrOrStderr(), "Error: %v\n", err)
	return err
}
