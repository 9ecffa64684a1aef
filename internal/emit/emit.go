// Package emit writes scan records in the selected output format.
// Every emitter preserves record order and, except for the buffered
// table format, makes each record visible to a pipe reader as soon as
// it is emitted.
package emit

import (
	"fmt"
	"io"

	"github.com/anstrom/rmap/internal/config"
	rmaperrors "github.com/anstrom/rmap/internal/errors"
	"github.com/anstrom/rmap/internal/scan"
)

// Emitter writes records one at a time. Close must be called once after
// the last record; for streaming formats it is a no-op, for the table
// format it renders the collected rows.
type Emitter interface {
	Emit(rec *scan.Record) error
	Close() error
}

// New creates an emitter for the given concrete format. The "auto"
// placeholder must be resolved by the caller before this point.
func New(format string, w io.Writer) (Emitter, error) {
	switch format {
	case config.FormatJSONL:
		return newJSONL(w), nil
	case config.FormatCSV:
		return newCSV(w)
	case config.FormatYAML:
		return newYAML(w), nil
	case config.FormatTable:
		return newTable(w), nil
	default:
		return nil, rmaperrors.New(rmaperrors.CodeConfiguration,
			fmt.Sprintf("unknown output format %q", format))
	}
}

// sinkErr classifies a write failure: once the sink rejects a write
// (broken pipe, closed file) the run cannot make progress.
func sinkErr(err error) error {
	if err == nil {
		return nil
	}
	return rmaperrors.ErrSinkClosed(err)
}
