package scan

import (
	"encoding/xml"
	"io"
	"strings"

	"github.com/Ullaakut/nmap/v3"

	rmaperrors "github.com/anstrom/rmap/internal/errors"
	"github.com/anstrom/rmap/internal/logging"
)

// Parser incrementally decodes an nmap XML stream into Records. It reads
// the underlying stream one token at a time and surfaces a record the
// moment each port element closes, without waiting for the enclosing
// host element, so memory stays bounded by one port's subtree and a
// stream cut mid-host still yields every port completed before the cut.
type Parser struct {
	dec     *xml.Decoder
	pending []Record
	started bool
	inHost  bool
	addr    string
	hosts   int
	records int
}

// NewParser creates a parser reading nmap XML from r.
func NewParser(r io.Reader) *Parser {
	return &Parser{dec: xml.NewDecoder(r)}
}

// Next returns the next record from the stream. It returns io.EOF when the
// stream ends cleanly and a MALFORMED_STREAM error when the stream is
// truncated or not valid nmap XML. Every record fully decoded before a
// failure is returned before the error is surfaced.
func (p *Parser) Next() (*Record, error) {
	for len(p.pending) == 0 {
		if err := p.advance(); err != nil {
			return nil, err
		}
	}

	rec := p.pending[0]
	p.pending = p.pending[1:]
	p.records++
	return &rec, nil
}

// HostsSeen returns the number of host elements closed so far.
func (p *Parser) HostsSeen() int { return p.hosts }

// RecordsSeen returns the number of records surfaced so far.
func (p *Parser) RecordsSeen() int { return p.records }

// advance consumes tokens until a port element has been decoded or the
// stream ends. The host's address element precedes its ports in the
// nmap schema, so the address is always known by the time a port closes.
func (p *Parser) advance() error {
	tok, err := p.dec.Token()
	if err == io.EOF {
		if !p.started {
			return rmaperrors.New(rmaperrors.CodeMalformedStream, "stream ended before nmaprun element")
		}
		return io.EOF
	}
	if err != nil {
		return rmaperrors.ErrMalformedStream(err)
	}

	switch t := tok.(type) {
	case xml.StartElement:
		return p.startElement(t)
	case xml.EndElement:
		if t.Name.Local == "host" && p.inHost {
			p.inHost = false
			p.hosts++
		}
	}
	return nil
}

func (p *Parser) startElement(se xml.StartElement) error {
	switch se.Name.Local {
	case "nmaprun":
		if err := checkSchemaVersion(se); err != nil {
			return err
		}
		p.started = true
	case "host":
		if !p.started {
			return rmaperrors.New(rmaperrors.CodeMalformedStream, "host element outside nmaprun")
		}
		p.inHost = true
		p.addr = ""
	case "address":
		// First address attributes the host's records; a later mac
		// address line does not replace it.
		if p.inHost && p.addr == "" {
			for _, attr := range se.Attr {
				if attr.Name.Local == "addr" {
					p.addr = attr.Value
				}
			}
		}
	case "port":
		if !p.inHost {
			return nil
		}
		var port nmap.Port
		if err := p.dec.DecodeElement(&port, &se); err != nil {
			return rmaperrors.ErrMalformedStream(err)
		}
		if p.addr == "" {
			logging.Warn("skipping port without host address", "port", port.ID)
			return nil
		}
		p.pending = append(p.pending, recordFromPort(p.addr, &port))
	}
	return nil
}

// checkSchemaVersion rejects xmloutputversion values outside the 1.x family.
func checkSchemaVersion(se xml.StartElement) error {
	for _, attr := range se.Attr {
		if attr.Name.Local != "xmloutputversion" {
			continue
		}
		if !strings.HasPrefix(attr.Value, "1.") {
			return rmaperrors.New(rmaperrors.CodeMalformedStream,
				"unsupported xml schema version "+attr.Value)
		}
		return nil
	}
	return nil
}
