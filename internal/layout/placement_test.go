package layout

import (
	"testing"

	"github.com/flexinfer/mentatlab/services/pipelinegraph-go/pkg/types"
)

func TestCalculateNodePosition_EmptyCanvas(t *testing.T) {
	got := CalculateNodePosition(nil, Options{})
	want := types.Position{X: 400, Y: 300}
	if got != want {
		t.Errorf("expected %v, got %v", want, got)
	}

	t.Run("snaps custom center", func(t *testing.T) {
		cfg := DefaultPlacementConfig()
		cfg.CanvasCenter = types.Position{X: 412, Y: 288}
		got := CalculateNodePosition([]types.Position{}, Options{Config: cfg})
		want := types.Position{X: 400, Y: 300}
		if got != want {
			t.Errorf("expected %v, got %v", want, got)
		}
	})
}

func TestCalculateNodePosition_NoOverlap(t *testing.T) {
	cfg := DefaultPlacementConfig()

	tests := []struct {
		name string
		opts func(i int) Options
	}{
		{"spiral", func(int) Options { return Options{} }},
		{"directional right", func(int) Options { return Options{Direction: DirectionRight} }},
		{"directional down", func(int) Options { return Options{Direction: DirectionDown} }},
		{"alternating", func(i int) Options {
			dirs := []Direction{DirectionLeft, DirectionUp, "", DirectionRight}
			return Options{Direction: dirs[i%len(dirs)]}
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var placed []types.Position
			for i := 0; i < 40; i++ {
				p := CalculateNodePosition(placed, tt.opts(i))
				for j, q := range placed {
					if Overlaps(p, q, cfg) {
						t.Fatalf("placement %d at %v overlaps placement %d at %v", i, p, j, q)
					}
				}
				if p != SnapToGrid(p, cfg.GridSize) {
					t.Fatalf("placement %d at %v is not grid aligned", i, p)
				}
				placed = append(placed, p)
			}
		})
	}
}

func TestCalculateNodePosition_Fallback(t *testing.T) {
	cfg := DefaultPlacementConfig()
	cfg.MaxSearchRadius = 50

	existing := []types.Position{{X: 0, Y: 0}, {X: 100, Y: 0}}
	got := CalculateNodePosition(existing, Options{Config: cfg})
	for _, e := range existing {
		if Overlaps(got, e, cfg) {
			t.Fatalf("fallback %v overlaps %v", got, e)
		}
	}
	if got.X <= 100 {
		t.Errorf("expected fallback right of existing nodes, got %v", got)
	}
}

func TestCalculatePositionNearNode(t *testing.T) {
	cfg := DefaultPlacementConfig()
	target := types.Position{X: 0, Y: 0}

	t.Run("uses exact offset when free", func(t *testing.T) {
		got := CalculatePositionNearNode(target, DirectionRight, []types.Position{target}, cfg)
		want := types.Position{X: 350, Y: 0}
		if got != want {
			t.Errorf("expected %v, got %v", want, got)
		}
	})

	t.Run("searches when offset taken", func(t *testing.T) {
		existing := []types.Position{target, {X: 350, Y: 0}}
		got := CalculatePositionNearNode(target, DirectionRight, existing, cfg)
		for _, e := range existing {
			if Overlaps(got, e, cfg) {
				t.Fatalf("got %v overlapping %v", got, e)
			}
		}
	})

	t.Run("down", func(t *testing.T) {
		got := CalculatePositionNearNode(target, DirectionDown, []types.Position{target}, cfg)
		want := types.Position{X: 0, Y: 250}
		if got != want {
			t.Errorf("expected %v, got %v", want, got)
		}
	})
}

func TestPlace_MeasuredSizes(t *testing.T) {
	cfg := DefaultPlacementConfig()
	wide := Footprint{Position: types.Position{X: 0, Y: 0}, Size: types.Size{Width: 900, Height: 180}}

	t.Run("near clears the target width", func(t *testing.T) {
		got := PlaceNear(wide, DirectionRight, []Footprint{wide}, cfg)
		want := types.Position{X: 950, Y: 0}
		if got != want {
			t.Errorf("expected %v, got %v", want, got)
		}
	})

	t.Run("near searches past a wide neighbour", func(t *testing.T) {
		small := Footprint{Position: types.Position{X: -400, Y: 0}}
		got := PlaceNear(small, DirectionRight, []Footprint{small, wide}, cfg)
		for _, f := range []Footprint{small, wide} {
			if collides(got, f, cfg) {
				t.Fatalf("got %v overlapping %+v", got, f)
			}
		}
	})

	t.Run("spiral", func(t *testing.T) {
		occupied := []Footprint{wide}
		for i := 0; i < 10; i++ {
			p := PlaceNode(occupied, Options{})
			for j, f := range occupied {
				if collides(p, f, cfg) {
					t.Fatalf("placement %d at %v overlaps %d at %+v", i, p, j, f)
				}
			}
			occupied = append(occupied, Footprint{Position: p})
		}
	})

	t.Run("fallback", func(t *testing.T) {
		small := cfg
		small.MaxSearchRadius = 50
		got := PlaceNode([]Footprint{wide}, Options{Config: small})
		if collides(got, wide, small) {
			t.Fatalf("fallback %v overlaps %+v", got, wide)
		}
		if got.X < 950 {
			t.Errorf("expected fallback right of the measured width, got %v", got)
		}
	})

	t.Run("zero size takes the configured footprint", func(t *testing.T) {
		a, b := types.Position{X: 0, Y: 0}, types.Position{X: 300, Y: 0}
		if collides(b, Footprint{Position: a}, cfg) != Overlaps(a, b, cfg) {
			t.Error("expected sized and unsized overlap checks to agree")
		}
	})
}

func TestSuggestPlacementDirection(t *testing.T) {
	cfg := DefaultPlacementConfig()
	tests := []struct {
		name     string
		existing []types.Position
		want     Direction
	}{
		{"empty", nil, DirectionRight},
		{"wide", []types.Position{{X: 0, Y: 0}, {X: 2000, Y: 0}}, DirectionDown},
		{"tall", []types.Position{{X: 0, Y: 0}, {X: 0, Y: 2000}}, DirectionRight},
		{"square", []types.Position{{X: 0, Y: 0}, {X: 300, Y: 400}}, DirectionRight},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := SuggestPlacementDirection(tt.existing, cfg); got != tt.want {
				t.Errorf("expected %s, got %s", tt.want, got)
			}
		})
	}
}
