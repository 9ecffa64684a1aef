// Package targets expands user-supplied target specifications into the
// newline-separated host list the scanner child process reads on stdin.
// A specification is tried, in order, as the stdin sentinel "-", an
// existing file of targets, a CIDR range, an IP address, and finally a
// hostname forwarded as-is.
package targets

import (
	"bufio"
	"fmt"
	"io"
	"net/netip"
	"os"
	"strings"

	rmaperrors "github.com/anstrom/rmap/internal/errors"
)

// Validate rejects command-line specifications that can never expand,
// before any child process is spawned. Specifications read from files
// or stdin are validated lazily during expansion instead.
func Validate(specs []string) error {
	for _, spec := range specs {
		spec = strings.TrimSpace(spec)
		if spec == "" || spec == "-" {
			continue
		}
		if info, err := os.Stat(spec); err == nil && !info.IsDir() {
			continue
		}
		// A slash can only mean a CIDR range or a missing file; neither
		// is forwardable as a hostname.
		if strings.Contains(spec, "/") {
			if _, err := netip.ParsePrefix(spec); err != nil {
				return rmaperrors.ErrInvalidTarget(spec)
			}
		}
	}
	return nil
}

// Expand writes one target per line to w for every specification in specs.
// Lines read from files or stdin are expanded one level themselves (a file
// may contain CIDR ranges but not further file paths). It returns the
// number of targets written.
func Expand(specs []string, stdin io.Reader, w io.Writer) (int, error) {
	total := 0
	for _, spec := range specs {
		spec = strings.TrimSpace(spec)
		if spec == "" {
			continue
		}

		if spec == "-" {
			n, err := expandLines(stdin, w)
			total += n
			if err != nil {
				return total, err
			}
			continue
		}

		if info, err := os.Stat(spec); err == nil && !info.IsDir() {
			file, err := os.Open(spec)
			if err != nil {
				return total, fmt.Errorf("failed to open target file %s: %w", spec, err)
			}
			n, err := expandLines(file, w)
			file.Close()
			total += n
			if err != nil {
				return total, err
			}
			continue
		}

		n, err := expandOne(spec, w)
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

// expandLines expands each non-empty line of r as a single specification.
func expandLines(r io.Reader, w io.Writer) (int, error) {
	total := 0
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		n, err := expandOne(line, w)
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, scanner.Err()
}

// expandOne writes the targets for one CIDR range, IP address, or hostname.
func expandOne(spec string, w io.Writer) (int, error) {
	if strings.Contains(spec, "/") {
		prefix, err := netip.ParsePrefix(spec)
		if err != nil {
			return 0, rmaperrors.WrapWithTarget(rmaperrors.CodeTargetInvalid,
				"not a valid CIDR range", spec, err)
		}
		return expandPrefix(prefix, w)
	}

	if addr, err := netip.ParseAddr(spec); err == nil {
		if _, err := fmt.Fprintln(w, addr.String()); err != nil {
			return 0, err
		}
		return 1, nil
	}

	// Not an address: forward as a hostname and let nmap resolve it.
	if _, err := fmt.Fprintln(w, spec); err != nil {
		return 0, err
	}
	return 1, nil
}

// expandPrefix enumerates the host addresses of a CIDR range. For IPv4
// prefixes shorter than /31 the network and broadcast addresses are
// excluded, matching ipcalc-style host enumeration.
func expandPrefix(prefix netip.Prefix, w io.Writer) (int, error) {
	prefix = prefix.Masked()
	skipEdges := prefix.Addr().Is4() && prefix.Bits() < 31

	addr := prefix.Addr()
	if skipEdges {
		addr = addr.Next()
	}

	count := 0
	for prefix.Contains(addr) {
		if skipEdges && !prefix.Contains(addr.Next()) {
			break
		}
		if _, err := fmt.Fprintln(w, addr.String()); err != nil {
			return count, err
		}
		count++
		addr = addr.Next()
	}
	return count, nil
}
