package main

import (
	"encoding/json"
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"voxbot/internal/broadcast"
)

var (
	historyFile  string
	historyLimit int
	historyMax   int
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Broadcast history commands (offline)",
}

var historyStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Print broadcast statistics as JSON",
	RunE:  runHistoryStats,
}

var historyListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recent broadcasts",
	RunE:  runHistoryList,
}

var historyCompactCmd = &cobra.Command{
	Use:   "compact",
	Short: "Keep only the newest records",
	Long: `Rewrite the history file keeping only the newest --max records.

Run it while the bot is stopped. The bot serializes its own writes, but an
append made by a running bot between this command's read and rename is lost.
The bot also compacts the file itself on the maintenance schedule.`,
	RunE: runHistoryCompact,
}

func init() {
	historyCmd.PersistentFlags().StringVar(&historyFile, "file", "", "history file (default: broadcast.history_path from config)")
	historyListCmd.Flags().IntVar(&historyLimit, "limit", 20, "Maximum number of records to show")
	historyCompactCmd.Flags().IntVar(&historyMax, "max", 1000, "Records to keep")

	historyCmd.AddCommand(historyStatsCmd, historyListCmd, historyCompactCmd)
	rootCmd.AddCommand(historyCmd)
}

func openHistory() (*broadcast.History, error) {
	path := strings.TrimSpace(historyFile)
	if path == "" {
		cfg, err := loadConfig()
		if err != nil {
			return nil, err
		}
		path = strings.TrimSpace(cfg.Broadcast.HistoryPath)
	}
	if path == "" {
		return nil, fmt.Errorf("history file is required (use --file or broadcast.history_path)")
	}
	h := broadcast.NewHistory(path)
	if !h.Exists() {
		return nil, fmt.Errorf("history file %s does not exist", path)
	}
	return h, nil
}

func runHistoryStats(cmd *cobra.Command, args []string) error {
	h, err := openHistory()
	if err != nil {
		return err
	}
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(h.Stats())
}

func runHistoryList(cmd *cobra.Command, args []string) error {
	h, err := openHistory()
	if err != nil {
		return err
	}
	recs := h.ReadAll()
	if historyLimit > 0 && len(recs) > historyLimit {
		recs = recs[len(recs)-historyLimit:]
	}
	if len(recs) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No broadcasts recorded")
		return nil
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tWHEN\tTARGET\tSENT\tFAILED\tBLOCKED\tPREVIEW")
	for _, r := range recs {
		if r.IsMarker() {
			fmt.Fprintf(w, "%s\t%s\t%s\t-\t-\t-\t(canceled)\n", r.ID, r.Timestamp, r.TargetType)
			continue
		}
		preview := r.MessagePreview
		if rs := []rune(preview); len(rs) > 40 {
			preview = string(rs[:40]) + "..."
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%d/%d\t%d\t%d\t%s\n",
			r.ID, r.Timestamp, r.TargetType,
			r.Results.Success, r.Results.Total, r.Results.Failed, r.Results.Blocked,
			preview)
	}
	return w.Flush()
}

func runHistoryCompact(cmd *cobra.Command, args []string) error {
	if historyMax <= 0 {
		return fmt.Errorf("--max must be positive")
	}
	h, err := openHistory()
	if err != nil {
		return err
	}
	n, err := h.Compact(historyMax)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Dropped %d records, kept at most %d\n", n, historyMax)
	return nil
}
