// Package topology turns a formation's topology spec into a per-cell routing
// table. The formation controller generates and publishes the table; cells
// load it at startup and refuse to send to destinations that are not listed.
package topology

import (
	"fmt"

	"github.com/c360studio/cellmesh/resource"
)

// Route is the outbound reachability of one cell.
type Route struct {
	Destinations []string `json:"destinations"`
	Protocol     string   `json:"protocol,omitempty"`
}

// Table maps each source cell name to its route. The table is immutable once
// generated; cells hold it by value and never traverse it.
type Table map[string]Route

// AllowedFrom returns the destination set for one cell. A cell absent from
// the table may send anywhere; formations always list every member.
func (t Table) AllowedFrom(cell string) []string {
	return t[cell].Destinations
}

// Allows reports whether from may send to to.
func (t Table) Allows(from, to string) bool {
	route, ok := t[from]
	if !ok {
		return true
	}
	for _, d := range route.Destinations {
		if d == to {
			return true
		}
	}
	return false
}

// Generate builds the routing table for the given member cell names, in
// creation order, grouped by template.
func Generate(spec resource.TopologySpec, groups [][]string) (Table, error) {
	var all []string
	for _, g := range groups {
		all = append(all, g...)
	}

	table := make(Table, len(all))
	switch spec.Type {
	case resource.TopologyFullMesh, "":
		for _, src := range all {
			table[src] = Route{Destinations: others(all, src), Protocol: spec.Protocol}
		}

	case resource.TopologyStar:
		hub := spec.Hub
		if hub == "" && len(all) > 0 {
			hub = all[0]
		}
		for _, src := range all {
			if src == hub {
				table[src] = Route{Destinations: others(all, src), Protocol: spec.Protocol}
			} else {
				table[src] = Route{Destinations: []string{hub}, Protocol: spec.Protocol}
			}
		}

	case resource.TopologyHierarchy:
		// Levels follow template order; each cell reaches the adjacent
		// levels.
		for i, level := range groups {
			var dests []string
			if i > 0 {
				dests = append(dests, groups[i-1]...)
			}
			if i < len(groups)-1 {
				dests = append(dests, groups[i+1]...)
			}
			for _, src := range level {
				table[src] = Route{Destinations: dests, Protocol: spec.Protocol}
			}
		}

	case resource.TopologyRing:
		n := len(all)
		for i, src := range all {
			var dests []string
			if n > 1 {
				dests = []string{all[(i+1)%n]}
			}
			table[src] = Route{Destinations: dests, Protocol: spec.Protocol}
		}

	case resource.TopologyCustom:
		if len(spec.Routes) == 0 {
			return nil, fmt.Errorf("custom topology requires routes")
		}
		for _, src := range all {
			table[src] = Route{Destinations: spec.Routes[src], Protocol: spec.Protocol}
		}

	case resource.TopologyStigmergy:
		// No direct messaging; cells coordinate through the shared
		// workspace and events.
		for _, src := range all {
			table[src] = Route{Protocol: "stigmergy"}
		}

	default:
		return nil, fmt.Errorf("unknown topology type %q", spec.Type)
	}

	return table, nil
}

func others(all []string, src string) []string {
	out := make([]string, 0, len(all)-1)
	for _, name := range all {
		if name != src {
			out = append(out, name)
		}
	}
	return out
}
