package plate

import "testing"

func TestPositionRoundTrip(t *testing.T) {
	p := Position{Plate: "P1", Row: 2, Col: 10}
	if p.String() != "P1:C11" {
		t.Fatalf("String = %s", p.String())
	}
	got, err := Parse(p.String())
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if got != p {
		t.Fatalf("Parse = %+v, want %+v", got, p)
	}
	if _, err := Parse("P1:Z99"); err == nil {
		t.Fatal("expected off-plate error")
	}
}

func TestRegion(t *testing.T) {
	cases := []struct {
		p    Position
		want Region
	}{
		{Position{"P", 0, 5}, RegionEdge},
		{Position{"P", 7, 5}, RegionEdge},
		{Position{"P", 3, 0}, RegionEdge},
		{Position{"P", 3, 11}, RegionEdge},
		{Position{"P", 3, 5}, RegionCenter},
	}
	for _, tc := range cases {
		if got := tc.p.Region(); got != tc.want {
			t.Fatalf("%s region = %s, want %s", tc.p, got, tc.want)
		}
	}
	regions := Regions([]Position{{"P", 3, 5}, {"P", 0, 0}, {"P", 4, 4}})
	if len(regions) != 2 || regions[0] != RegionCenter || regions[1] != RegionEdge {
		t.Fatalf("Regions = %v", regions)
	}
}
