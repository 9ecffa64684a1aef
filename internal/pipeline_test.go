package internal

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anstrom/rmap/internal/config"
	rmaperrors "github.com/anstrom/rmap/internal/errors"
)

const fixtureXML = `<?xml version="1.0" encoding="UTF-8"?>
<nmaprun scanner="nmap" args="nmap -oX -" start="1700000000" version="7.94" xmloutputversion="1.05">
<host starttime="1700000001" endtime="1700000002">
<status state="up" reason="syn-ack" reason_ttl="64"/>
<address addr="10.0.0.5" addrtype="ipv4"/>
<ports>
<port protocol="tcp" portid="80"><state state="open" reason="syn-ack" reason_ttl="64"/><service name="http" method="probed" conf="10"/></port>
</ports>
</host>
<host starttime="1700000003" endtime="1700000004">
<status state="up" reason="syn-ack" reason_ttl="64"/>
<address addr="10.0.0.6" addrtype="ipv4"/>
<ports>
<port protocol="tcp" portid="22"><state state="open" reason="syn-ack" reason_ttl="64"/><service name="ssh" product="OpenSSH" version="8.9p1" method="probed" conf="10"/></port>
</ports>
</host>
<runstats><finished time="1700000010" exit="success"/><hosts up="2" down="0" total="2"/></runstats>
</nmaprun>
`

// fakeScanner writes a shell script that consumes stdin like nmap's
// -iL - mode and prints the given document on stdout.
func fakeScanner(t *testing.T, script string) *config.Config {
	t.Helper()
	path := filepath.Join(t.TempDir(), "fake-nmap")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+script), 0700))

	cfg := config.Default()
	cfg.Nmap.Path = path
	cfg.Nmap.Privileged = false
	return cfg
}

func xmlScript(doc string, exitCode string) string {
	return "cat >/dev/null\ncat <<'XMLDOC'\n" + doc + "XMLDOC\nexit " + exitCode + "\n"
}

func runPipeline(t *testing.T, cfg *config.Config, format string, out *strings.Builder) error {
	t.Helper()
	return Run(context.Background(), RunOptions{
		Config:  cfg,
		Targets: []string{"192.0.2.1"},
		Format:  format,
		Output:  out,
		Stdin:   strings.NewReader(""),
	})
}

func TestRunEndToEndJSONL(t *testing.T) {
	cfg := fakeScanner(t, xmlScript(fixtureXML, "0"))

	var out strings.Builder
	require.NoError(t, runPipeline(t, cfg, config.FormatJSONL, &out))

	lines := strings.Split(strings.TrimRight(out.String(), "\n"), "\n")
	require.Len(t, lines, 2)
	assert.Equal(t,
		`{"address":"10.0.0.5","port":80,"protocol":"tcp","state":"open","application":"http","product":"","version":"","extrainfo":""}`,
		lines[0])
	assert.Contains(t, lines[1], `"product":"OpenSSH"`)
}

func TestRunEndToEndCSV(t *testing.T) {
	cfg := fakeScanner(t, xmlScript(fixtureXML, "0"))

	var out strings.Builder
	require.NoError(t, runPipeline(t, cfg, config.FormatCSV, &out))

	lines := strings.Split(strings.TrimRight(out.String(), "\n"), "\n")
	require.Len(t, lines, 3)
	assert.Equal(t, "address,port,protocol,state,application,product,version,extrainfo", lines[0])
	assert.Equal(t, "10.0.0.5,80,tcp,open,http,,,", lines[1])
}

func TestRunIsDeterministic(t *testing.T) {
	cfg := fakeScanner(t, xmlScript(fixtureXML, "0"))

	var first, second strings.Builder
	require.NoError(t, runPipeline(t, cfg, config.FormatJSONL, &first))
	require.NoError(t, runPipeline(t, cfg, config.FormatJSONL, &second))
	assert.Equal(t, first.String(), second.String())
}

func TestRunChildFailureKeepsPartialResults(t *testing.T) {
	// The scanner dies mid-document: records produced before the failure
	// must be flushed, and the run must mirror the child's exit code.
	truncated := fixtureXML[:strings.Index(fixtureXML, "10.0.0.6")] + "\n"
	cfg := fakeScanner(t, xmlScript(truncated, "3"))

	var out strings.Builder
	err := runPipeline(t, cfg, config.FormatJSONL, &out)

	require.Error(t, err)
	assert.True(t, rmaperrors.IsCode(err, rmaperrors.CodeChildFailed))
	assert.Equal(t, 3, rmaperrors.ExitCode(err))

	lines := strings.Split(strings.TrimRight(out.String(), "\n"), "\n")
	require.Len(t, lines, 1)
	assert.Contains(t, lines[0], "10.0.0.5")
}

func TestRunMalformedStreamWithCleanChildExit(t *testing.T) {
	truncated := fixtureXML[:strings.Index(fixtureXML, "10.0.0.6")] + "\n"
	cfg := fakeScanner(t, xmlScript(truncated, "0"))

	var out strings.Builder
	err := runPipeline(t, cfg, config.FormatJSONL, &out)

	require.Error(t, err)
	assert.True(t, rmaperrors.IsCode(err, rmaperrors.CodeMalformedStream))
	assert.Equal(t, rmaperrors.ExitMalformedStream, rmaperrors.ExitCode(err))
	assert.Contains(t, out.String(), "10.0.0.5")
}

func TestRunMalformedStreamFromRunningChild(t *testing.T) {
	// The stream goes bad while the child is still scanning: the
	// pipeline interrupts the child, and the decode failure keeps its
	// own exit code instead of being masked by the interrupt's 130.
	truncated := fixtureXML[:strings.Index(fixtureXML, "10.0.0.6")] + "\n"
	script := "cat >/dev/null\ncat <<'XMLDOC'\n" + truncated + "XMLDOC\nexec 1>&-\nexec sleep 5\n"
	cfg := fakeScanner(t, script)

	var out strings.Builder
	err := runPipeline(t, cfg, config.FormatJSONL, &out)

	require.Error(t, err)
	assert.True(t, rmaperrors.IsCode(err, rmaperrors.CodeMalformedStream))
	assert.Equal(t, rmaperrors.ExitMalformedStream, rmaperrors.ExitCode(err))
	assert.Contains(t, out.String(), "10.0.0.5")
}

func TestRunEmptyScanCSVKeepsHeader(t *testing.T) {
	empty := fixtureXML[:strings.Index(fixtureXML, "<host")] +
		fixtureXML[strings.Index(fixtureXML, "<runstats"):]
	cfg := fakeScanner(t, xmlScript(empty, "0"))

	var out strings.Builder
	require.NoError(t, runPipeline(t, cfg, config.FormatCSV, &out))
	assert.Equal(t, "address,port,protocol,state,application,product,version,extrainfo\n", out.String())
}

func TestRunRejectsInvalidCIDRTarget(t *testing.T) {
	cfg := fakeScanner(t, xmlScript(fixtureXML, "0"))

	var out strings.Builder
	err := Run(context.Background(), RunOptions{
		Config:  cfg,
		Targets: []string{"10.0.0.0/99"},
		Format:  config.FormatJSONL,
		Output:  &out,
		Stdin:   strings.NewReader(""),
	})

	require.Error(t, err)
	assert.True(t, rmaperrors.IsCode(err, rmaperrors.CodeTargetInvalid))
	assert.Empty(t, out.String())
}

func TestRunProgressLine(t *testing.T) {
	cfg := fakeScanner(t, xmlScript(fixtureXML, "0"))

	var out, progress strings.Builder
	require.NoError(t, Run(context.Background(), RunOptions{
		Config:   cfg,
		Targets:  []string{"192.0.2.1"},
		Format:   config.FormatJSONL,
		Output:   &out,
		Stdin:    strings.NewReader(""),
		Progress: &progress,
	}))

	assert.Contains(t, progress.String(), "2 records")
	// The line is cleared once the run finishes.
	assert.True(t, strings.HasSuffix(progress.String(), "\r"))
}

func TestRunToolNotFound(t *testing.T) {
	cfg := config.Default()
	cfg.Nmap.Path = "definitely-not-a-real-scanner-binary"
	cfg.Nmap.Privileged = false

	var out strings.Builder
	err := runPipeline(t, cfg, config.FormatJSONL, &out)

	require.Error(t, err)
	assert.True(t, rmaperrors.IsCode(err, rmaperrors.CodeToolNotFound))
	assert.Empty(t, out.String())
}

func TestRunUnknownFormatFailsBeforeSpawning(t *testing.T) {
	cfg := fakeScanner(t, xmlScript(fixtureXML, "0"))

	var out strings.Builder
	err := runPipeline(t, cfg, "xml", &out)

	require.Error(t, err)
	assert.True(t, rmaperrors.IsCode(err, rmaperrors.CodeConfiguration))
}

// limitedWriter accepts n writes, then fails like a closed pipe.
type limitedWriter struct {
	remaining int
	lines     []string
}

func (w *limitedWriter) Write(p []byte) (int, error) {
	if w.remaining <= 0 {
		return 0, errors.New("write |1: broken pipe")
	}
	w.remaining--
	w.lines = append(w.lines, string(p))
	return len(p), nil
}

func TestRunSinkClosed(t *testing.T) {
	cfg := fakeScanner(t, xmlScript(fixtureXML, "0"))

	sink := &limitedWriter{remaining: 1}
	err := Run(context.Background(), RunOptions{
		Config:  cfg,
		Targets: []string{"192.0.2.1"},
		Format:  config.FormatJSONL,
		Output:  sink,
		Stdin:   strings.NewReader(""),
	})

	require.Error(t, err)
	assert.True(t, rmaperrors.IsCode(err, rmaperrors.CodeSinkClosed))
	assert.Equal(t, rmaperrors.ExitSinkClosed, rmaperrors.ExitCode(err))
	require.Len(t, sink.lines, 1)
	assert.Contains(t, sink.lines[0], "10.0.0.5")
}

func TestRunTargetsReachChildStdin(t *testing.T) {
	dir := t.TempDir()
	capture := filepath.Join(dir, "stdin.txt")
	script := "cat >" + capture + "\ncat <<'XMLDOC'\n" + fixtureXML + "XMLDOC\n"
	cfg := fakeScanner(t, script)

	var out strings.Builder
	require.NoError(t, Run(context.Background(), RunOptions{
		Config:  cfg,
		Targets: []string{"192.0.2.0/30", "example.org"},
		Format:  config.FormatJSONL,
		Output:  &out,
		Stdin:   strings.NewReader(""),
	}))

	data, err := os.ReadFile(capture)
	require.NoError(t, err)
	assert.Equal(t, "192.0.2.1\n192.0.2.2\nexample.org\n", string(data))
}
