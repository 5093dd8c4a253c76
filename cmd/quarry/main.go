package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/quarrylabs/quarry/felt"
	"github.com/quarrylabs/quarry/log"
	"github.com/quarrylabs/quarry/node"
	"github.com/quarrylabs/quarry/statedb"
	"github.com/quarrylabs/quarry/storage"
)

var (
	Version = "dev"
	Commit  = "none"
)

func printJSON(v interface{}) error {
	blob, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(blob))
	return nil
}

func main() {
	var (
		dataDir  string
		logLevel string
	)

	rootCmd := &cobra.Command{
		Use:     "quarry",
		Short:   "Quarry state node",
		Version: fmt.Sprintf("%s (%s)", Version, Commit),
	}
	rootCmd.CompletionOptions.DisableDefaultCmd = true
	rootCmd.PersistentFlags().StringVar(&dataDir, "datadir", "quarry-data", "database directory (empty for in-memory)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level (trace|debug|info|warn|error)")

	openStateDB := func() (*storage.PersistenceStore, *statedb.StateDB, error) {
		log.InitLogger(logLevel)
		store, err := storage.NewPersistenceStore(dataDir)
		if err != nil {
			return nil, nil, err
		}
		db, err := statedb.New(store)
		if err != nil {
			store.Close()
			return nil, nil, err
		}
		return store, db, nil
	}

	var (
		diffDir      string
		pollInterval time.Duration
	)
	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Follow a diff source and reconcile state",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, db, err := openStateDB()
			if err != nil {
				return err
			}
			defer store.Close()

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			follower := node.NewFollower(db, node.NewFileDiffSource(diffDir))
			follower.PollInterval = pollInterval
			return follower.Run(ctx)
		},
	}
	runCmd.Flags().StringVar(&diffDir, "diffs", "diffs", "directory of <height>.json block diffs")
	runCmd.Flags().DurationVar(&pollInterval, "poll", 0, "poll interval for new diffs (0 runs to exhaustion)")
	rootCmd.AddCommand(runCmd)

	rootCmd.AddCommand(&cobra.Command{
		Use:   "head",
		Short: "Print the latest committed height and root",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, db, err := openStateDB()
			if err != nil {
				return err
			}
			defer store.Close()

			head := db.Head()
			if head == nil {
				fmt.Println("empty store")
				return nil
			}
			fmt.Printf("height %d root %s\n", head.Height, head.Root)
			return nil
		},
	})

	rootCmd.AddCommand(&cobra.Command{
		Use:   "root <height>",
		Short: "Print the global root committed at a height",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			height, err := strconv.ParseUint(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid height %q: %w", args[0], err)
			}
			store, db, err := openStateDB()
			if err != nil {
				return err
			}
			defer store.Close()

			root, err := db.RootAt(height)
			if err != nil {
				return err
			}
			fmt.Println(root)
			return nil
		},
	})

	rootCmd.AddCommand(&cobra.Command{
		Use:   "value <height> <contract> <key>",
		Short: "Print one contract storage slot at a height",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			height, err := strconv.ParseUint(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid height %q: %w", args[0], err)
			}
			addr, err := felt.FromString(args[1])
			if err != nil {
				return fmt.Errorf("invalid contract %q: %w", args[1], err)
			}
			key, err := felt.FromString(args[2])
			if err != nil {
				return fmt.Errorf("invalid key %q: %w", args[2], err)
			}
			store, db, err := openStateDB()
			if err != nil {
				return err
			}
			defer store.Close()

			value, err := db.StorageAt(height, &addr, &key)
			if err != nil {
				return err
			}
			fmt.Println(value)
			return nil
		},
	})

	rootCmd.AddCommand(&cobra.Command{
		Use:   "proof <height> <contract> <key>",
		Short: "Print a storage proof as JSON",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			height, err := strconv.ParseUint(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid height %q: %w", args[0], err)
			}
			addr, err := felt.FromString(args[1])
			if err != nil {
				return fmt.Errorf("invalid contract %q: %w", args[1], err)
			}
			key, err := felt.FromString(args[2])
			if err != nil {
				return fmt.Errorf("invalid key %q: %w", args[2], err)
			}
			store, db, err := openStateDB()
			if err != nil {
				return err
			}
			defer store.Close()

			proof, err := db.ProofAt(height, &addr, &key)
			if err != nil {
				return err
			}
			return printJSON(proof)
		},
	})

	rootCmd.AddCommand(&cobra.Command{
		Use:   "dump <height>",
		Short: "Render the global trie at a height",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			height, err := strconv.ParseUint(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid height %q: %w", args[0], err)
			}
			store, db, err := openStateDB()
			if err != nil {
				return err
			}
			defer store.Close()

			out, err := db.DumpGlobalTrie(height)
			if err != nil {
				return err
			}
			fmt.Print(out)
			return nil
		},
	})

	var rollbackHeight uint64
	rollbackCmd := &cobra.Command{
		Use:   "rollback",
		Short: "Discard every version above a height",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, db, err := openStateDB()
			if err != nil {
				return err
			}
			defer store.Close()

			if err := db.RollbackTo(rollbackHeight); err != nil {
				return err
			}
			if head := db.Head(); head != nil {
				fmt.Printf("head now at height %d root %s\n", head.Height, head.Root)
			} else {
				fmt.Println("store is now empty")
			}
			return nil
		},
	}
	rollbackCmd.Flags().Uint64Var(&rollbackHeight, "to", 0, "height to roll back to")
	rollbackCmd.MarkFlagRequired("to")
	rootCmd.AddCommand(rollbackCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
