// Package scan decodes the nmap XML stream into flat scan records.
// The decoder is incremental: it holds at most one port's subtree in
// memory and surfaces each record as soon as its port element closes.
package scan

import (
	"strconv"

	"github.com/Ullaakut/nmap/v3"
)

// Record is one observed (host, port, service) tuple. Field order here is
// the documented output order for every emitter; optional fields that nmap
// did not determine are empty strings, never null and never omitted.
type Record struct {
	Address     string `json:"address" yaml:"address"`
	Port        int    `json:"port" yaml:"port"`
	Protocol    string `json:"protocol" yaml:"protocol"`
	State       string `json:"state" yaml:"state"`
	Application string `json:"application" yaml:"application"`
	Product     string `json:"product" yaml:"product"`
	Version     string `json:"version" yaml:"version"`
	ExtraInfo   string `json:"extrainfo" yaml:"extrainfo"`
}

// Header returns the column names for tabular output, in record field order.
func Header() []string {
	return []string{"address", "port", "protocol", "state", "application", "product", "version", "extrainfo"}
}

// Row returns the record's values as strings, in Header order.
func (r *Record) Row() []string {
	return []string{
		r.Address,
		strconv.Itoa(r.Port),
		r.Protocol,
		r.State,
		r.Application,
		r.Product,
		r.Version,
		r.ExtraInfo,
	}
}

// recordFromPort converts one decoded port element, attributed to the
// enclosing host's address, into a record.
func recordFromPort(addr string, p *nmap.Port) Record {
	return Record{
		Address:     addr,
		Port:        int(p.ID),
		Protocol:    p.Protocol,
		State:       p.State.State,
		Application: normalizeService(p.Service.Name),
		Product:     p.Service.Product,
		Version:     p.Service.Version,
		ExtraInfo:   p.Service.ExtraInfo,
	}
}

// normalizeService collapses nmap's alternate-port service aliases onto
// the canonical name, matching what downstream service scanners expect.
func normalizeService(name string) string {
	switch name {
	case "http-alt":
		return "http"
	case "https-alt":
		return "https"
	}
	return name
}
