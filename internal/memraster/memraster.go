// Package memraster is an in-memory implementation of the package
// raster contracts, grounded on dataframe.NDArray's flat-backing-slice
// style: one []float64 per band, addressed row-major. It
// exists for tests and the demo CLI — a real host application would
// back raster.Handle with file- or tile-backed storage instead.
package memraster

import (
	"fmt"

	"rastermath/internal/raster"
)

// Raster is a dense, fully in-memory multi-band raster: Bands slices,
// each Rows*Cols long in row-major order.
type Raster struct {
	bands    [][]float64
	rows     int
	cols     int
	encoding raster.EncodingType
}

// NewRaster builds a Raster from bands (each exactly rows*cols long).
func NewRaster(bands [][]float64, rows, cols int, encoding raster.EncodingType) *Raster {
	for i, b := range bands {
		if len(b) != rows*cols {
			panic(fmt.Sprintf("memraster: band %d has %d values, want %d", i, len(b), rows*cols))
		}
	}
	return &Raster{bands: bands, rows: rows, cols: cols, encoding: encoding}
}

// NewZeroRaster allocates a bands x rows x cols raster of zeros, for a
// formula's RESULT_RASTER output.
func NewZeroRaster(bandCount, rows, cols int, encoding raster.EncodingType) *Raster {
	bands := make([][]float64, bandCount)
	for i := range bands {
		bands[i] = make([]float64, rows*cols)
	}
	return NewRaster(bands, rows, cols, encoding)
}

func (r *Raster) BandCount() int                { return len(r.bands) }
func (r *Raster) RowCount() int                 { return r.rows }
func (r *Raster) ColumnCount() int              { return r.cols }
func (r *Raster) DataType() raster.EncodingType { return r.encoding }

// Band returns band i's flat row-major backing slice, for tests that
// want to inspect a RESULT_RASTER's written values directly.
func (r *Raster) Band(i int) []float64 { return r.bands[i] }

func (r *Raster) OpenAccessor(band int) (raster.Accessor, error) {
	if band < 0 || band >= len(r.bands) {
		return nil, fmt.Errorf("memraster: band %d out of range [0,%d)", band, len(r.bands))
	}
	return newAccessorAt0(r.bands[band], r.rows, r.cols), nil
}

// accessor walks one band row-major, matching raster.Accessor's
// NextColumn/NextRow/Valid contract.
type accessor struct {
	data       []float64
	rows, cols int
	row, col   int
	valid      bool
}

func (a *accessor) Magnitude() float64 {
	if !a.valid {
		return 0
	}
	return a.data[a.row*a.cols+a.col]
}

func (a *accessor) SetMagnitude(v float64) {
	if a.valid {
		a.data[a.row*a.cols+a.col] = v
	}
}

func (a *accessor) NextColumn() bool {
	if a.col+1 >= a.cols {
		a.valid = false
		return false
	}
	a.col++
	a.valid = true
	return true
}

func (a *accessor) NextRow() bool {
	if a.row+1 >= a.rows {
		a.valid = false
		return false
	}
	a.row++
	a.col = 0
	a.valid = true
	return true
}

func (a *accessor) Valid() bool { return a.valid }

// newAccessorAt0 primes an accessor at (0,0), matching Step.Initialize's
// contract of positioning a fresh RasterState at row 0, column 0.
func newAccessorAt0(data []float64, rows, cols int) *accessor {
	return &accessor{data: data, rows: rows, cols: cols, valid: rows > 0 && cols > 0}
}

// Aoi is a dense boolean mask over an explicit bounding box.
type Aoi struct {
	x1, y1, x2, y2 int
	mask           []bool // rows*cols, row-major over the bounding box
	cols           int
}

// NewAoi builds a mask covering [x1,x2)x[y1,y2) (exclusive upper
// bounds, matching raster.AoiHandle.BoundingBox's convention).
func NewAoi(x1, y1, x2, y2 int, mask []bool) *Aoi {
	cols := x2 - x1
	rows := y2 - y1
	if len(mask) != cols*rows {
		panic(fmt.Sprintf("memraster: aoi mask has %d values, want %d", len(mask), cols*rows))
	}
	return &Aoi{x1: x1, y1: y1, x2: x2, y2: y2, mask: mask, cols: cols}
}

func (a *Aoi) BoundingBox() (x1, y1, x2, y2 int) { return a.x1, a.y1, a.x2, a.y2 }

func (a *Aoi) Pixel(col, row int) bool {
	localCol, localRow := col-a.x1, row-a.y1
	if localCol < 0 || localCol >= a.cols || localRow < 0 || localRow >= len(a.mask)/a.cols {
		return false
	}
	return a.mask[localRow*a.cols+localCol]
}

// Registry resolves r1..r5/a1..a5 against a fixed slot table, the
// simplest raster.Correlator a host can supply.
type Registry struct {
	rasters [6]raster.Handle
	aois    [6]raster.AoiHandle
}

// NewRegistry returns an empty registry; slots are filled with
// SetRaster/SetAoi.
func NewRegistry() *Registry {
	return &Registry{}
}

// SetRaster registers h as r<index> (1-5).
func (reg *Registry) SetRaster(index int, h raster.Handle) {
	reg.rasters[index] = h
}

// SetAoi registers h as a<index> (1-5).
func (reg *Registry) SetAoi(index int, h raster.AoiHandle) {
	reg.aois[index] = h
}

func (reg *Registry) Raster(index int) (raster.Handle, bool) {
	if index < 1 || index > 5 || reg.rasters[index] == nil {
		return nil, false
	}
	return reg.rasters[index], true
}

func (reg *Registry) Aoi(index int) (raster.AoiHandle, bool) {
	if index < 1 || index > 5 || reg.aois[index] == nil {
		return nil, false
	}
	return reg.aois[index], true
}
