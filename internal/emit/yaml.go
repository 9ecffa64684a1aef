package emit

import (
	"io"

	"gopkg.in/yaml.v3"

	"github.com/anstrom/rmap/internal/scan"
)

// yamlEmitter writes each record as its own YAML document, separated by
// the standard document marker.
type yamlEmitter struct {
	w io.Writer
}

func newYAML(w io.Writer) *yamlEmitter {
	return &yamlEmitter{w: w}
}

func (e *yamlEmitter) Emit(rec *scan.Record) error {
	data, err := yaml.Marshal(rec)
	if err != nil {
		return err
	}
	if _, err := io.WriteString(e.w, "---\n"); err != nil {
		return sinkErr(err)
	}
	_, err = e.w.Write(data)
	return sinkErr(err)
}

func (e *yamlEmitter) Close() error { return nil }
