package main

import (
	"context"
	"fmt"
	"slices"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"github.com/gwillem/bladeloader/pkg/audit"
	"github.com/gwillem/bladeloader/pkg/executor"
)

type HistoryCommand struct {
	Limit   int    `short:"n" long:"limit" default:"50" description:"Number of entries"`
	Failed  bool   `long:"failed" description:"Only failed commands and warnings"`
	Session string `long:"session" description:"Only entries of one connection"`
}

func (c *HistoryCommand) Execute(args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if cfg.Audit.Path == "" {
		return fmt.Errorf("audit trail disabled, set audit.path in %s", opts.Config)
	}
	store, err := audit.Open(cfg.Audit.Path)
	if err != nil {
		return err
	}
	defer store.Close()

	recs, err := store.List(context.Background(), audit.Filter{
		Session:    c.Session,
		FailedOnly: c.Failed,
		Limit:      c.Limit,
	})
	if err != nil {
		return err
	}
	if len(recs) == 0 {
		fmt.Println("No entries.")
		return nil
	}
	slices.Reverse(recs)

	okStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("10")).Padding(0, 1)
	failStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("9")).Padding(0, 1)
	cellStyle := lipgloss.NewStyle().Padding(0, 1)
	headerCellStyle := lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12")).Padding(0, 1)

	rows := make([][]string, 0, len(recs))
	for _, r := range recs {
		wire := r.Wire
		switch {
		case r.Local:
			wire = dimStyle.Render(r.Command)
		case r.Kind == string(executor.EntryWarning):
			wire = r.Note
		}
		result := "ok"
		if !r.Success {
			result = "FAIL " + r.Error
		}
		rows = append(rows, []string{
			r.CreatedAt.Local().Format("15:04:05.000"),
			r.Session[:8],
			fmt.Sprintf("%d", r.Seq),
			wire,
			result,
		})
	}

	t := table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(dimStyle).
		Headers("Time", "Session", "Seq", "Command", "Result").
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerCellStyle
			}
			if col == 4 && row >= 0 && row < len(recs) {
				if recs[row].Success {
					return okStyle
				}
				return failStyle
			}
			return cellStyle
		})
	fmt.Println(t.Render())
	return nil
}
