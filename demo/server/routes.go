package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"html/template"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	lidar "github.com/tingold/orb-lidar"
)

var index = template.Must(template.New("index").Parse(`<!doctype html>
<html><head><title>LIDAR clouds</title></head><body>
<h1>LIDAR clouds</h1>
<ul>
{{range .}}<li>{{.}}: <a href="/chart/{{.}}">3-D chart</a> | <a href="/plot/{{.}}.png">elevation map</a> | <a href="/stats/{{.}}">stats</a> | <a href="/data/{{.}}.fgb">FlatGeobuf</a></li>
{{end}}</ul>
</body></html>`))

// maxSearchPoints caps the GeoJSON returned by /search.
const maxSearchPoints = 10000

func splitOrigins(s string) []string {
	var out []string
	for _, o := range strings.Split(s, ",") {
		if o = strings.TrimSpace(o); o != "" {
			out = append(out, o)
		}
	}
	return out
}

// newRouter serves the point layers found in dir.
func newRouter(dir string, origins []string) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Compress(5))

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{"GET", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Range"},
		MaxAge:         300,
	}))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		names, err := layers(dir)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_ = index.Execute(w, names)
	})

	r.Get("/data/{file}", func(w http.ResponseWriter, r *http.Request) {
		name := filepath.Base(chi.URLParam(r, "file"))
		if filepath.Ext(name) != ".fgb" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/octet-stream")
		http.ServeFile(w, r, filepath.Join(dir, name))
	})

	r.Get("/chart/{name}", func(w http.ResponseWriter, r *http.Request) {
		name, cloud, ok := loadLayer(w, r, dir)
		if !ok {
			return
		}

		opts := lidar.DefaultPlotOptions()
		opts.Title = name
		opts.MaxPoints = 50000

		var buf bytes.Buffer
		if err := lidar.PlotTerrain3D(&buf, cloud, opts); err != nil {
			http.Error(w, fmt.Sprintf("failed to render chart: %v", err), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write(buf.Bytes())
	})

	r.Get("/plot/{name}.png", func(w http.ResponseWriter, r *http.Request) {
		name, cloud, ok := loadLayer(w, r, dir)
		if !ok {
			return
		}

		opts := lidar.DefaultPlotOptions()
		opts.Title = name
		opts.MaxPoints = 50000

		var buf bytes.Buffer
		if err := lidar.PlotElevation(&buf, cloud, opts); err != nil {
			http.Error(w, fmt.Sprintf("failed to render plot: %v", err), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "image/png")
		_, _ = w.Write(buf.Bytes())
	})

	r.Get("/stats/{name}", func(w http.ResponseWriter, r *http.Request) {
		_, cloud, ok := loadLayer(w, r, dir)
		if !ok {
			return
		}
		writeJSON(w, map[string]interface{}{
			"epsg":  cloud.EPSG,
			"stats": lidar.Describe(cloud),
		})
	})

	// /search/{name}?bbox=minx,miny,maxx,maxy returns the points inside the box
	// as GeoJSON, elevation in the properties.
	r.Get("/search/{name}", func(w http.ResponseWriter, r *http.Request) {
		bound, err := parseBBox(r.URL.Query().Get("bbox"))
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		reader, err := lidar.NewReader(filepath.Join(dir, filepath.Base(chi.URLParam(r, "name"))+".fgb"))
		if err != nil {
			http.NotFound(w, r)
			return
		}
		defer func() { _ = reader.Close() }()

		cloud, err := reader.SearchCloud(bound)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}

		fc := geojson.NewFeatureCollection()
		for i, p := range cloud.Points {
			if i >= maxSearchPoints {
				break
			}
			f := geojson.NewFeature(orb.Point{p.X, p.Y})
			f.Properties["elevation"] = p.Z
			fc.Append(f)
		}
		w.Header().Set("Content-Type", "application/geo+json")
		_ = json.NewEncoder(w).Encode(fc)
	})

	return r
}

// layers lists the point layers in dir, without extension.
func layers(dir string) ([]string, error) {
	matches, err := filepath.Glob(filepath.Join(dir, "*.fgb"))
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(matches))
	for _, m := range matches {
		names = append(names, strings.TrimSuffix(filepath.Base(m), ".fgb"))
	}
	sort.Strings(names)
	return names, nil
}

func loadLayer(w http.ResponseWriter, r *http.Request, dir string) (string, *lidar.Cloud, bool) {
	name := filepath.Base(chi.URLParam(r, "name"))
	if _, err := os.Stat(filepath.Join(dir, name+".fgb")); err != nil {
		http.NotFound(w, r)
		return "", nil, false
	}
	cloud, err := lidar.ReadCloud(filepath.Join(dir, name+".fgb"))
	if err != nil {
		http.Error(w, fmt.Sprintf("failed to read layer: %v", err), http.StatusInternalServerError)
		return "", nil, false
	}
	return name, cloud, true
}

func parseBBox(s string) (orb.Bound, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 4 {
		return orb.Bound{}, fmt.Errorf("bbox must be minx,miny,maxx,maxy")
	}
	var v [4]float64
	for i, p := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return orb.Bound{}, fmt.Errorf("bbox: %v", err)
		}
		v[i] = f
	}
	if v[0] > v[2] || v[1] > v[3] {
		return orb.Bound{}, fmt.Errorf("bbox minimum exceeds maximum")
	}
	return orb.Bound{Min: orb.Point{v[0], v[1]}, Max: orb.Point{v[2], v[3]}}, nil
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
