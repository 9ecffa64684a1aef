package cli

import (
	"os"
	"path/filepath"

	"github.com/mattn/go-isatty"

	"github.com/anstrom/rmap/internal/config"
)

// resolveFormat turns the "auto" format into a concrete one. An explicit
// format always wins; otherwise a .csv output file selects csv, any
// other output file selects jsonl, a terminal gets the table, and a pipe
// gets jsonl.
func resolveFormat(format, outputPath string, terminal bool) string {
	if format != config.FormatAuto {
		return format
	}
	if outputPath != "" {
		if filepath.Ext(outputPath) == ".csv" {
			return config.FormatCSV
		}
		return config.FormatJSONL
	}
	if terminal {
		return config.FormatTable
	}
	return config.FormatJSONL
}

func stdoutIsTerminal() bool {
	return isatty.IsTerminal(os.Stdout.Fd()) || isatty.IsCygwinTerminal(os.Stdout.Fd())
}

func stderrIsTerminal() bool {
	return isatty.IsTerminal(os.Stderr.Fd()) || isatty.IsCygwinTerminal(os.Stderr.Fd())
}
