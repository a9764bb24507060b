package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/olekukonko/tablewriter"

	"pricecast/internal/store"
	"pricecast/pkg/model"
)

func outputResultTable(result *model.PredictionResult, last int) error {
	points := result.Points
	if last > 0 && len(points) > last {
		points = points[len(points)-last:]
	}

	fmt.Printf("%s: %d predictions (showing last %d)\n\n", result.Symbol, len(result.Points), len(points))

	table := tablewriter.NewTable(os.Stdout,
		tablewriter.WithHeader([]string{"Date", "Actual", "Predicted", "Diff"}),
	)
	for _, p := range points {
		diff := p.Predicted - p.Actual
		table.Append([]string{
			p.Date.Format(dateLayout),
			fmt.Sprintf("%.2f", p.Actual),
			fmt.Sprintf("%.2f", p.Predicted),
			fmt.Sprintf("%+.2f (%+.1f%%)", diff, pct(diff, p.Actual)),
		})
	}
	table.Render()

	fmt.Printf("\nRMSE: %.2f | MAE: %.2f | scaler range: %.2f..%.2f\n",
		result.RMSE(), result.MAE(), result.Bounds.Min, result.Bounds.Max)
	return nil
}

func pct(diff, base float64) float64 {
	if base == 0 {
		return 0
	}
	return diff / base * 100
}

func outputResultJSON(result *model.PredictionResult) error {
	out := struct {
		*model.PredictionResult
		RMSE float64 `json:"rmse"`
		MAE  float64 `json:"mae"`
	}{result, result.RMSE(), result.MAE()}

	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	return encoder.Encode(out)
}

func outputRunsTable(runs []store.Run) error {
	if len(runs) == 0 {
		fmt.Println("No runs recorded.")
		return nil
	}

	table := tablewriter.NewTable(os.Stdout,
		tablewriter.WithHeader([]string{"ID", "Symbol", "Started", "Trigger", "State", "Points", "RMSE", "Error"}),
	)
	for _, r := range runs {
		id := r.ID
		if len(id) > 8 {
			id = id[:8]
		}

		rmse := "-"
		if r.Predictions > 0 {
			rmse = fmt.Sprintf("%.2f", r.RMSE)
		}

		table.Append([]string{
			id,
			r.Symbol,
			r.CreatedAt.Local().Format("2006-01-02 15:04"),
			r.Trigger,
			r.State,
			fmt.Sprintf("%d", r.Predictions),
			rmse,
			truncate(r.Error, 45),
		})
	}
	table.Render()
	return nil
}

// truncate shortens s to at most n runes, marking the cut with "..."
func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
