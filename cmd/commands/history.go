package commands

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/LoveWonYoung/udsengine/txlog"
)

var (
	historyLimit int
	historySince time.Duration
)

var historyCmd = &cobra.Command{
	Use:   "history [id]",
	Short: "查看事务日志",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if dbPath == "" {
			return errors.New("需要 --db 指定事务日志")
		}
		store, err := txlog.Open(dbPath)
		if err != nil {
			return err
		}
		defer store.Close()

		var records []*txlog.Record
		switch {
		case len(args) == 1:
			id, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("无效 ID %q: %w", args[0], err)
			}
			rec, err := store.Get(id)
			if err != nil {
				return err
			}
			records = append(records, rec)
		case historySince > 0:
			records, err = store.Since(time.Now().Add(-historySince))
		default:
			records, err = store.List(historyLimit)
		}
		if err != nil {
			return err
		}
		for _, r := range records {
			fmt.Fprintln(cmd.OutOrStdout(), r)
		}
		return nil
	},
}

func init() {
	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", 20, "显示最近 n 条")
	historyCmd.Flags().DurationVar(&historySince, "since", 0, "只显示最近一段时间内的事务 (如 10m)")
}
