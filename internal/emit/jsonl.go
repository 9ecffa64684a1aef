package emit

import (
	"encoding/json"
	"io"

	"github.com/anstrom/rmap/internal/scan"
)

// jsonlEmitter writes one compact JSON object per record per line.
// Absent optional fields serialize as empty strings so every line has
// the identical key set.
type jsonlEmitter struct {
	w io.Writer
}

func newJSONL(w io.Writer) *jsonlEmitter {
	return &jsonlEmitter{w: w}
}

func (e *jsonlEmitter) Emit(rec *scan.Record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	data = append(data, '\n')
	_, err = e.w.Write(data)
	return sinkErr(err)
}

func (e *jsonlEmitter) Close() error { return nil }
