// Package plate names well positions and the spatial regime each belongs to.
package plate

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// Rows and Cols describe the 96-well layout.
const (
	Rows = 8
	Cols = 12
)

// Region is a spatial regime on a plate. Edge wells evaporate faster and read differently.
type Region string

const (
	RegionEdge   Region = "edge"
	RegionCenter Region = "center"
)

// Position is a well on a plate. Row and Col are zero-based.
type Position struct {
	Plate string `json:"plate" yaml:"plate"`
	Row   int    `json:"row" yaml:"row"`
	Col   int    `json:"col" yaml:"col"`
}

// String renders the position as "plate:A01".
func (p Position) String() string {
	return fmt.Sprintf("%s:%c%02d", p.Plate, 'A'+rune(p.Row), p.Col+1)
}

// Valid reports whether the position lies on a 96-well plate.
func (p Position) Valid() bool {
	return p.Plate != "" && p.Row >= 0 && p.Row < Rows && p.Col >= 0 && p.Col < Cols
}

// Region classifies the position as edge or center.
func (p Position) Region() Region {
	if p.Row == 0 || p.Row == Rows-1 || p.Col == 0 || p.Col == Cols-1 {
		return RegionEdge
	}
	return RegionCenter
}

// Parse reads a position written by String.
func Parse(s string) (Position, error) {
	i := strings.LastIndexByte(s, ':')
	if i <= 0 || i+2 > len(s) {
		return Position{}, fmt.Errorf("parse position %q: want plate:A01", s)
	}
	row := int(s[i+1] - 'A')
	col, err := strconv.Atoi(s[i+2:])
	if err != nil {
		return Position{}, fmt.Errorf("parse position %q: %w", s, err)
	}
	p := Position{Plate: s[:i], Row: row, Col: col - 1}
	if !p.Valid() {
		return Position{}, fmt.Errorf("parse position %q: off plate", s)
	}
	return p, nil
}

// Regions returns the distinct regions covered by positions, sorted.
func Regions(positions []Position) []Region {
	seen := map[Region]bool{}
	for _, p := range positions {
		seen[p.Region()] = true
	}
	out := make([]Region, 0, len(seen))
	for r := range seen {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Sort orders positions by plate, row, then column.
func Sort(positions []Position) {
	sort.Slice(positions, func(i, j int) bool {
		a, b := positions[i], positions[j]
		if a.Plate != b.Plate {
			return a.Plate < b.Plate
		}
		if a.Row != b.Row {
			return a.Row < b.Row
		}
		return a.Col < b.Col
	})
}
