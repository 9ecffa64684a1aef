package emit

import (
	"encoding/csv"
	"io"

	"github.com/anstrom/rmap/internal/scan"
)

// csvEmitter writes RFC4180 rows, one per record, with a fixed header
// row written up front so a scan with zero records still produces the
// header line. The underlying csv writer is flushed after every row so
// pipe readers see records as they are produced.
type csvEmitter struct {
	w *csv.Writer
}

func newCSV(w io.Writer) (*csvEmitter, error) {
	e := &csvEmitter{w: csv.NewWriter(w)}
	if err := e.w.Write(scan.Header()); err != nil {
		return nil, sinkErr(err)
	}
	e.w.Flush()
	if err := e.w.Error(); err != nil {
		return nil, sinkErr(err)
	}
	return e, nil
}

func (e *csvEmitter) Emit(rec *scan.Record) error {
	if err := e.w.Write(rec.Row()); err != nil {
		return sinkErr(err)
	}
	e.w.Flush()
	return sinkErr(e.w.Error())
}

func (e *csvEmitter) Close() error {
	e.w.Flush()
	return sinkErr(e.w.Error())
}
