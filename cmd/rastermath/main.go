// cmd/rastermath/main.go
package main

import (
	"bufio"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"

	"rastermath"
	"rastermath/internal/memraster"
	"rastermath/internal/program"
	"rastermath/internal/raster"
)

const usage = `usage: rastermath [-fail-on-error] [-default=N] [-radians] FORMULA [name=path ...]

FORMULA is a raster math expression (see the grammar in spec.md).
Each name=path binds r1..r5/a1..a5 to a raster/AOI text file:

  rasters: header line "bands rows cols", then that many floats
  AOIs:    header line "x1 y1 x2 y2 rows cols", then that many 0/1 ints
`

func main() {
	args := os.Args[1:]
	if len(args) == 0 {
		fmt.Print(usage)
		os.Exit(1)
	}

	r := &rastermath.Runner{}
	var formula string
	var bindings []string

	for _, a := range args {
		switch {
		case a == "-fail-on-error":
			r.FailOnError = true
		case a == "-radians":
			r.Radians = true
		case strings.HasPrefix(a, "-default="):
			v, err := strconv.ParseFloat(strings.TrimPrefix(a, "-default="), 64)
			if err != nil {
				log.Fatalf("rastermath: bad -default value: %v", err)
			}
			r.DefaultValue = v
		case strings.Contains(a, "=") && formula != "":
			bindings = append(bindings, a)
		case formula == "":
			formula = a
		default:
			bindings = append(bindings, a)
		}
	}
	if formula == "" {
		fmt.Print(usage)
		os.Exit(1)
	}

	reg := memraster.NewRegistry()
	for _, b := range bindings {
		if err := bindOne(reg, b); err != nil {
			log.Fatalf("rastermath: %v", err)
		}
	}
	r.Correlator = reg
	r.ResultEncoding = raster.Flt8Bytes
	r.NewRasterResult = func(shape program.Shape, encoding raster.EncodingType) (raster.Handle, error) {
		return memraster.NewZeroRaster(shape.Bands, shape.Rows, shape.Cols, encoding), nil
	}

	result, err := r.Execute(formula)
	if err != nil {
		log.Fatalf("rastermath: %v", err)
	}
	printResult(result)
}

func printResult(result rastermath.Result) {
	switch result.Kind {
	case rastermath.ResultScalar:
		fmt.Printf("%g\n", result.Scalar)
	case rastermath.ResultSignature:
		for i, v := range result.Signature {
			fmt.Printf("band %d: %g\n", i+1, v)
		}
	case rastermath.ResultRaster:
		h := result.Raster
		fmt.Printf("raster %dx%dx%d (bands x rows x cols)\n", h.BandCount(), h.RowCount(), h.ColumnCount())
	}
}

// bindOne parses "name=path" and registers the loaded raster or AOI
// against reg. name is "r1".."r5" or "a1".."a5".
func bindOne(reg *memraster.Registry, spec string) error {
	parts := strings.SplitN(spec, "=", 2)
	if len(parts) != 2 {
		return fmt.Errorf("malformed binding %q, want name=path", spec)
	}
	name, path := parts[0], parts[1]
	if len(name) != 2 || name[1] < '1' || name[1] > '5' {
		return fmt.Errorf("malformed binding name %q, want r1..r5 or a1..a5", name)
	}
	index := int(name[1] - '0')

	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	switch name[0] {
	case 'r':
		h, err := readRaster(f)
		if err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
		reg.SetRaster(index, h)
	case 'a':
		h, err := readAoi(f)
		if err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
		reg.SetAoi(index, h)
	default:
		return fmt.Errorf("malformed binding name %q, want r1..r5 or a1..a5", name)
	}
	return nil
}

func readRaster(f *os.File) (*memraster.Raster, error) {
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 1024*1024), 1024*1024*64)
	if !sc.Scan() {
		return nil, fmt.Errorf("empty raster file")
	}
	var bands, rows, cols int
	if _, err := fmt.Sscanf(sc.Text(), "%d %d %d", &bands, &rows, &cols); err != nil {
		return nil, fmt.Errorf("malformed header %q: %w", sc.Text(), err)
	}
	data := make([]float64, 0, bands*rows*cols)
	for sc.Scan() {
		for _, tok := range strings.Fields(sc.Text()) {
			v, err := strconv.ParseFloat(tok, 64)
			if err != nil {
				return nil, fmt.Errorf("malformed value %q: %w", tok, err)
			}
			data = append(data, v)
		}
	}
	if len(data) != bands*rows*cols {
		return nil, fmt.Errorf("expected %d values, got %d", bands*rows*cols, len(data))
	}
	bandSlices := make([][]float64, bands)
	for i := range bandSlices {
		bandSlices[i] = data[i*rows*cols : (i+1)*rows*cols]
	}
	return memraster.NewRaster(bandSlices, rows, cols, raster.Flt8Bytes), nil
}

func readAoi(f *os.File) (*memraster.Aoi, error) {
	sc := bufio.NewScanner(f)
	if !sc.Scan() {
		return nil, fmt.Errorf("empty aoi file")
	}
	var x1, y1, x2, y2, rows, cols int
	if _, err := fmt.Sscanf(sc.Text(), "%d %d %d %d %d %d", &x1, &y1, &x2, &y2, &rows, &cols); err != nil {
		return nil, fmt.Errorf("malformed header %q: %w", sc.Text(), err)
	}
	mask := make([]bool, 0, rows*cols)
	for sc.Scan() {
		for _, tok := range strings.Fields(sc.Text()) {
			mask = append(mask, tok == "1")
		}
	}
	if len(mask) != rows*cols {
		return nil, fmt.Errorf("expected %d mask values, got %d", rows*cols, len(mask))
	}
	return memraster.NewAoi(x1, y1, x2, y2, mask), nil
}
