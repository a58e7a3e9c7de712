package lidar

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseTextXYZ(t *testing.T) {
	in := "\"X\",\"Y\",\"Z\",\"Intensity\"\n" +
		"-93.75000001,41.91900000,302.12000000,11\n" +
		"-93.74900000,41.92000000,301.50000000,40\n"

	got, err := ParseTextXYZ(strings.NewReader(in))
	require.NoError(t, err)
	assert.Equal(t, Arrays{
		X: []float64{-93.75000001, -93.749},
		Y: []float64{41.919, 41.92},
		Z: []float64{302.12, 301.5},
	}, got)
}

func TestParseTextXYZ_ColumnOrder(t *testing.T) {
	got, err := ParseTextXYZ(strings.NewReader("z,x,y\n3,1,2\n"))
	require.NoError(t, err)
	assert.Equal(t, Arrays{X: []float64{1}, Y: []float64{2}, Z: []float64{3}}, got)
}

func TestParseTextXYZ_Empty(t *testing.T) {
	got, err := ParseTextXYZ(strings.NewReader(""))
	require.NoError(t, err)
	assert.Equal(t, 0, got.Len())

	got, err = ParseTextXYZ(strings.NewReader("X,Y,Z\n"))
	require.NoError(t, err)
	assert.Equal(t, 0, got.Len())
}

func TestParseTextXYZ_Invalid(t *testing.T) {
	tests := []struct {
		name string
		in   string
	}{
		{"missing column", "X,Y\n1,2\n"},
		{"not a number", "X,Y,Z\n1,2,high\n"},
		{"short row", "X,Y,Z\n1,2\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseTextXYZ(strings.NewReader(tt.in))
			assert.ErrorIs(t, err, ErrInvalidData)
		})
	}
}

// fakePDAL writes an executable shell script standing in for pdal.
func fakePDAL(t *testing.T, body string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("fake pdal needs a POSIX shell")
	}
	path := filepath.Join(t.TempDir(), "pdal")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+body+"\n"), 0o755))
	return path
}

func TestPDALFetcher_Fetch(t *testing.T) {
	stdin := filepath.Join(t.TempDir(), "stdin.json")
	bin := fakePDAL(t, `[ "$1" = pipeline ] && [ "$2" = --stdin ] || exit 2
cat > `+stdin+`
printf '"X","Y","Z"\n1.5,2.5,3.5\n4,5,6\n'`)

	p, err := NewPipeline(testPipelineConfig())
	require.NoError(t, err)

	f := &PDALFetcher{Binary: bin}
	got, err := f.Fetch(context.Background(), p)
	require.NoError(t, err)
	assert.Equal(t, Arrays{
		X: []float64{1.5, 4},
		Y: []float64{2.5, 5},
		Z: []float64{3.5, 6},
	}, got)

	body, err := os.ReadFile(stdin)
	require.NoError(t, err)
	var sent Pipeline
	require.NoError(t, json.Unmarshal(body, &sent))
	require.Len(t, sent.Stages, len(p.Stages)+1)

	text := sent.Stages[len(sent.Stages)-1]
	assert.Equal(t, "writers.text", text.Type)
	assert.Equal(t, "STDOUT", text.Filename)
	assert.Equal(t, "csv", text.Format)
	assert.Equal(t, "X,Y,Z", text.Order)
	assert.Equal(t, 8, text.Precision)
	require.NotNil(t, text.KeepUnspecified)
	assert.False(t, *text.KeepUnspecified)

	// The caller's pipeline is not modified.
	assert.Len(t, p.Stages, 4)
}

func TestPDALFetcher_Failure(t *testing.T) {
	bin := fakePDAL(t, `cat > /dev/null
echo "readers.ept: unable to fetch data" >&2
exit 1`)

	p, err := NewPipeline(testPipelineConfig())
	require.NoError(t, err)

	_, err = (&PDALFetcher{Binary: bin}).Fetch(context.Background(), p)
	require.ErrorIs(t, err, ErrPipeline)
	assert.Contains(t, err.Error(), "unable to fetch data")
}

func TestPDALFetcher_BadOutput(t *testing.T) {
	bin := fakePDAL(t, `cat > /dev/null
printf 'X,Y\n1,2\n'`)

	p, err := NewPipeline(testPipelineConfig())
	require.NoError(t, err)

	_, err = (&PDALFetcher{Binary: bin}).Fetch(context.Background(), p)
	assert.ErrorIs(t, err, ErrInvalidData)
}

func TestPDALFetcher_ContextCancelled(t *testing.T) {
	bin := fakePDAL(t, `exec sleep 10`)

	p, err := NewPipeline(testPipelineConfig())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	_, err = (&PDALFetcher{Binary: bin}).Fetch(ctx, p)
	require.ErrorIs(t, err, ErrPipeline)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestPDALFetcher_MissingBinary(t *testing.T) {
	p, err := NewPipeline(testPipelineConfig())
	require.NoError(t, err)

	f := &PDALFetcher{Binary: filepath.Join(t.TempDir(), "no-such-pdal")}
	_, err = f.Fetch(context.Background(), p)
	assert.ErrorIs(t, err, ErrPipeline)
}
