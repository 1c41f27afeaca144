package report

import (
	"fmt"
	"io"

	"github.com/xuri/excelize/v2"

	"github.com/ChuLiYu/lapboard/pkg/types"
)

// SheetName is the worksheet holding the leaderboard.
const SheetName = "Leaderboard"

var xlsxHeader = []string{"Position", "Name", "Average Lap Time", "Best Time", "Laps Counted", "Average (s)"}

func writeXLSX(w io.Writer, board types.Leaderboard) error {
	f := excelize.NewFile()
	defer f.Close()

	headerStyle, err := f.NewStyle(&excelize.Style{
		Fill: excelize.Fill{
			Type:    "pattern",
			Pattern: 1,
			Color:   []string{"1c399e"},
		},
		Alignment: &excelize.Alignment{
			Horizontal: "center",
		},
		Font: &excelize.Font{
			Color: "ffffff",
			Bold:  true,
		},
	})
	if err != nil {
		return fmt.Errorf("failed to create header style: %w", err)
	}
	leaderStyle, err := f.NewStyle(&excelize.Style{
		Fill: excelize.Fill{
			Type:    "pattern",
			Pattern: 1,
			Color:   []string{"3cb03a"},
		},
		Font: &excelize.Font{
			Bold: true,
		},
	})
	if err != nil {
		return fmt.Errorf("failed to create leader style: %w", err)
	}

	if err := f.SetSheetName("Sheet1", SheetName); err != nil {
		return err
	}

	if err := f.SetSheetRow(SheetName, "A1", &xlsxHeader); err != nil {
		return err
	}
	lastCol, _ := excelize.CoordinatesToCellName(len(xlsxHeader), 1)
	if err := f.SetCellStyle(SheetName, "A1", lastCol, headerStyle); err != nil {
		return err
	}

	for i, r := range board.Results {
		cell, _ := excelize.CoordinatesToCellName(1, i+2)
		row := []any{r.Position, r.Name, r.Average, r.BestTime, r.LapsCounted, r.AverageSeconds}
		if err := f.SetSheetRow(SheetName, cell, &row); err != nil {
			return err
		}
		if r.Position == 1 {
			end, _ := excelize.CoordinatesToCellName(len(xlsxHeader), i+2)
			if err := f.SetCellStyle(SheetName, cell, end, leaderStyle); err != nil {
				return err
			}
		}
	}

	if err := f.SetColWidth(SheetName, "B", "B", 24); err != nil {
		return err
	}
	if err := f.SetColWidth(SheetName, "C", "D", 18); err != nil {
		return err
	}

	info := fmt.Sprintf("Event %s, Session %s, %s %d laps, %d missing, updated %s",
		board.Query.EventID, board.Query.SessionID, board.Query.Method, board.Query.Laps,
		board.Missing, board.UpdatedAt.Format("2006-01-02 15:04:05"))
	infoCell, _ := excelize.CoordinatesToCellName(1, len(board.Results)+3)
	if err := f.SetCellValue(SheetName, infoCell, info); err != nil {
		return err
	}

	return f.Write(w)
}
