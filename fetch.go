package lidar

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"strconv"
	"strings"
	"time"
)

// Fetcher executes a pipeline and returns the points it produced.
type Fetcher interface {
	Fetch(ctx context.Context, p *Pipeline) (Arrays, error)
}

// PDALFetcher runs pipelines through the pdal command line tool. Points are
// streamed back as CSV by an extra writers.text stage.
type PDALFetcher struct {
	// Binary is the pdal executable; "pdal" when empty.
	Binary string
	// Precision is the number of decimals written per coordinate; 8 when
	// zero, enough for degrees.
	Precision int
	Logger    *slog.Logger
}

func (f *PDALFetcher) logger() *slog.Logger {
	if f.Logger != nil {
		return f.Logger
	}
	return slog.Default()
}

// Fetch implements Fetcher.
func (f *PDALFetcher) Fetch(ctx context.Context, p *Pipeline) (Arrays, error) {
	binary := f.Binary
	if binary == "" {
		binary = "pdal"
	}
	precision := f.Precision
	if precision == 0 {
		precision = 8
	}

	keep := false
	body, err := p.With(Stage{
		Type:            "writers.text",
		Filename:        "STDOUT",
		Format:          "csv",
		Order:           "X,Y,Z",
		KeepUnspecified: &keep,
		Precision:       precision,
	}).JSON()
	if err != nil {
		return Arrays{}, err
	}

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, binary, "pipeline", "--stdin")
	cmd.Stdin = bytes.NewReader(body)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	if err := cmd.Run(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return Arrays{}, fmt.Errorf("%w: %w", ErrPipeline, ctxErr)
		}
		return Arrays{}, fmt.Errorf("%w: %v: %s", ErrPipeline, err, strings.TrimSpace(stderr.String()))
	}

	arrays, err := ParseTextXYZ(&stdout)
	if err != nil {
		return Arrays{}, err
	}

	f.logger().Debug("pdal pipeline finished",
		"stages", len(p.Stages),
		"points", len(arrays.X),
		"elapsed", time.Since(start))
	return arrays, nil
}

// ParseTextXYZ reads writers.text CSV output. The header row names the
// columns; X, Y and Z are required and any others are ignored.
func ParseTextXYZ(r io.Reader) (Arrays, error) {
	cr := csv.NewReader(r)
	cr.ReuseRecord = true

	head, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return Arrays{}, nil
	}
	if err != nil {
		return Arrays{}, fmt.Errorf("%w: %v", ErrInvalidData, err)
	}

	idx := map[string]int{"X": -1, "Y": -1, "Z": -1}
	for i, name := range head {
		name = strings.ToUpper(strings.TrimSpace(name))
		if _, ok := idx[name]; ok {
			idx[name] = i
		}
	}
	for name, i := range idx {
		if i < 0 {
			return Arrays{}, fmt.Errorf("%w: missing %s column", ErrInvalidData, name)
		}
	}

	var a Arrays
	for line := 2; ; line++ {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return Arrays{}, fmt.Errorf("%w: %v", ErrInvalidData, err)
		}

		var v [3]float64
		for j, name := range [3]string{"X", "Y", "Z"} {
			v[j], err = strconv.ParseFloat(strings.TrimSpace(rec[idx[name]]), 64)
			if err != nil {
				return Arrays{}, fmt.Errorf("%w: line %d: %s: %v", ErrInvalidData, line, name, err)
			}
		}
		a.X = append(a.X, v[0])
		a.Y = append(a.Y, v[1])
		a.Z = append(a.Z, v[2])
	}

	return a, nil
}
