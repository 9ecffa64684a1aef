package emit

import (
	"io"

	"github.com/olekukonko/tablewriter"

	"github.com/anstrom/rmap/internal/scan"
)

// tableEmitter collects rows and renders one ASCII table on Close. This
// is the only buffered format; it exists for interactive terminals, not
// pipelines.
type tableEmitter struct {
	table *tablewriter.Table
}

func newTable(w io.Writer) *tableEmitter {
	table := tablewriter.NewWriter(w)
	table.Header("Address", "Port", "Protocol", "State", "Application", "Product", "Version", "Extra Info")
	return &tableEmitter{table: table}
}

func (e *tableEmitter) Emit(rec *scan.Record) error {
	return sinkErr(e.table.Append(rec.Row()))
}

func (e *tableEmitter) Close() error {
	return sinkErr(e.table.Render())
}
