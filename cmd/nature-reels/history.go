package main

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/fpang/nature-reels/internal/app"
	"github.com/fpang/nature-reels/internal/history"
	"github.com/fpang/nature-reels/internal/pipeline"
)

var (
	modeFlag        string
	deleteFilesFlag bool
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Inspect or prune the publish history",
}

var historyListCmd = &cobra.Command{
	Use:   "list",
	Short: "Print history entries, oldest first",
	RunE:  runHistoryList,
}

var historyPruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Evict expired entries and persist the history",
	Long: `Removes entries older than the retention window (library mode only; stock
history never expires) and, with --delete-files, deletes the matching files
from the video folder.`,
	RunE: runHistoryPrune,
}

func init() {
	historyCmd.PersistentFlags().StringVar(&modeFlag, "mode", app.ModeStock, "History to operate on: stock or library")
	historyPruneCmd.Flags().BoolVar(&deleteFilesFlag, "delete-files", true, "Delete evicted files from the video folder (library mode)")
	historyPruneCmd.Flags().StringVarP(&folderFlag, "folder", "f", "", "Video folder (overrides VIDEO_FOLDER)")
	historyPruneCmd.Flags().IntVar(&retentionDaysFlag, "retention-days", 0, "Retention window in days (overrides HISTORY_RETENTION_DAYS)")
	historyCmd.AddCommand(historyListCmd, historyPruneCmd)
}

func validateMode() error {
	if modeFlag != app.ModeStock && modeFlag != app.ModeLibrary {
		return fmt.Errorf("unknown mode %q (want stock or library)", modeFlag)
	}
	return nil
}

// openHistory loads the history for --mode.
func openHistory(cmd *cobra.Command) (*app.Runtime, *history.Store, error) {
	if err := validateMode(); err != nil {
		return nil, nil, err
	}
	rt, err := setup(cmd.Context())
	if err != nil {
		return nil, nil, err
	}
	backend, err := rt.History(modeFlag)
	if err != nil {
		return nil, nil, err
	}
	store := history.Load(cmd.Context(), backend, rt.HistoryPolicy(modeFlag))
	if err := store.LoadErr(); err != nil {
		return nil, nil, err
	}
	return rt, store, nil
}

func runHistoryList(cmd *cobra.Command, args []string) error {
	_, store, err := openHistory(cmd)
	if err != nil {
		return err
	}
	return printEntries(os.Stdout, store.Entries())
}

func printEntries(out io.Writer, entries []history.Entry) error {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tSENT AT")
	for _, e := range entries {
		sent := "-"
		if !e.SentAt.IsZero() {
			sent = e.SentAt.Local().Format(time.DateTime)
		}
		fmt.Fprintf(w, "%s\t%s\n", e.ID, sent)
	}
	fmt.Fprintf(w, "\n%d entries\n", len(entries))
	return w.Flush()
}

func runHistoryPrune(cmd *cobra.Command, args []string) error {
	rt, store, err := openHistory(cmd)
	if err != nil {
		return err
	}

	evicted := store.EvictExpired(time.Now())
	if len(evicted) == 0 {
		log.Info().Str("mode", modeFlag).Int("entries", store.Len()).Msg("Nothing to prune")
		return nil
	}
	if err := store.Persist(cmd.Context()); err != nil {
		return fmt.Errorf("persist history: %w", err)
	}

	removed := 0
	if modeFlag == app.ModeLibrary && deleteFilesFlag {
		removed = pipeline.RemoveExpiredFiles(rt.Config.VideoFolder, evicted)
	}
	log.Info().
		Str("mode", modeFlag).
		Int("evicted", len(evicted)).
		Int("filesDeleted", removed).
		Int("remaining", store.Len()).
		Msg("History pruned")
	return nil
}
