package sheetsapi

import (
	"context"
	"fmt"
)

// ResultWriter appends rows to a fixed spreadsheet range. It satisfies the
// result sink the sweep expects.
type ResultWriter struct {
	Service       *Service
	SpreadsheetID string
	ValueRange    string
}

func (w *ResultWriter) AppendResult(ctx context.Context, row []interface{}) error {
	svc, err := w.Service.Client(ctx)
	if err != nil {
		return fmt.Errorf("sheets client: %w", err)
	}
	return AppendRow(ctx, svc, w.SpreadsheetID, w.ValueRange, row)
}
