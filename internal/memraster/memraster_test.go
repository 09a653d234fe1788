package memraster

import (
	"testing"

	"rastermath/internal/raster"
)

func TestRasterAccessorWalksRowMajor(t *testing.T) {
	r := NewRaster([][]float64{{1, 2, 3, 4, 5, 6}}, 2, 3, raster.Flt8Bytes)
	acc, err := r.OpenAccessor(0)
	if err != nil {
		t.Fatal(err)
	}
	want := []float64{1, 2, 3}
	for i, w := range want {
		if acc.Magnitude() != w {
			t.Fatalf("row0 col%d: got %v, want %v", i, acc.Magnitude(), w)
		}
		if i < len(want)-1 && !acc.NextColumn() {
			t.Fatalf("expected NextColumn to succeed at col %d", i)
		}
	}
	if acc.NextColumn() {
		t.Fatal("expected NextColumn to fail past the last column")
	}
	if !acc.NextRow() {
		t.Fatal("expected NextRow to succeed")
	}
	if acc.Magnitude() != 4 {
		t.Fatalf("row1 col0: got %v, want 4", acc.Magnitude())
	}
}

func TestRasterSetMagnitudeWrites(t *testing.T) {
	r := NewZeroRaster(1, 1, 2, raster.Flt8Bytes)
	acc, _ := r.OpenAccessor(0)
	acc.SetMagnitude(42)
	acc.NextColumn()
	acc.SetMagnitude(7)
	if got := r.Band(0); got[0] != 42 || got[1] != 7 {
		t.Fatalf("got %v, want [42 7]", got)
	}
}

func TestRasterOpenAccessorOutOfRange(t *testing.T) {
	r := NewZeroRaster(1, 1, 1, raster.Flt8Bytes)
	if _, err := r.OpenAccessor(1); err == nil {
		t.Fatal("expected an out-of-range error")
	}
}

func TestNewRasterPanicsOnMismatchedBandLength(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("expected a panic on mismatched band length")
		}
	}()
	NewRaster([][]float64{{1, 2}}, 2, 2, raster.Flt8Bytes)
}

func TestAoiPixelRespectsBoundingBox(t *testing.T) {
	a := NewAoi(10, 20, 12, 22, []bool{
		true, false,
		false, true,
	})
	if !a.Pixel(10, 20) {
		t.Fatal("expected (10,20) to be true")
	}
	if a.Pixel(11, 20) {
		t.Fatal("expected (11,20) to be false")
	}
	if !a.Pixel(11, 21) {
		t.Fatal("expected (11,21) to be true")
	}
	if a.Pixel(0, 0) {
		t.Fatal("expected a point outside the bounding box to be false")
	}
}

func TestAoiPanicsOnMismatchedMaskLength(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("expected a panic on mismatched mask length")
		}
	}()
	NewAoi(0, 0, 2, 2, []bool{true})
}

func TestRegistryResolvesRegisteredSlots(t *testing.T) {
	reg := NewRegistry()
	r := NewZeroRaster(1, 1, 1, raster.Flt8Bytes)
	reg.SetRaster(2, r)
	a := NewAoi(0, 0, 1, 1, []bool{true})
	reg.SetAoi(3, a)

	if h, ok := reg.Raster(2); !ok || h != raster.Handle(r) {
		t.Fatalf("got (%v,%v), want r registered at slot 2", h, ok)
	}
	if _, ok := reg.Raster(1); ok {
		t.Fatal("expected slot 1 to be unregistered")
	}
	if h, ok := reg.Aoi(3); !ok || h != raster.AoiHandle(a) {
		t.Fatalf("got (%v,%v), want a registered at slot 3", h, ok)
	}
}

func TestRegistryRejectsOutOfRangeIndex(t *testing.T) {
	reg := NewRegistry()
	if _, ok := reg.Raster(0); ok {
		t.Fatal("slot 0 is reserved, expected not ok")
	}
	if _, ok := reg.Raster(6); ok {
		t.Fatal("slot 6 is out of range, expected not ok")
	}
}
