package main

import (
	"bytes"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/paulmach/orb/geojson"

	shapefile "github.com/tingold/orb-shapefile"
	"github.com/tingold/orb-shapefile/fgb"
)

var errBadRequest = errors.New("bad request")

type handler struct {
	src      *shapefile.FeatureSource
	pageSize int
	logger   log.Logger
}

func newHandler(src *shapefile.FeatureSource, pageSize int, logger log.Logger) *handler {
	if pageSize <= 0 {
		pageSize = 1000
	}
	return &handler{src: src, pageSize: pageSize, logger: logger}
}

func (h *handler) register(mux *http.ServeMux) {
	mux.HandleFunc("/features.fgb", h.serveFlatGeobuf)
	mux.HandleFunc("/features.geojson", h.serveGeoJSON)
}

// query holds the selection parameters shared by both endpoints.
type query struct {
	envelope *shapefile.Extent
	filter   shapefile.Filter
	cursor   shapefile.Cursor
	limit    int
}

func (h *handler) parseQuery(r *http.Request) (*query, error) {
	v := r.URL.Query()
	q := &query{limit: h.pageSize}

	if s := v.Get("bbox"); s != "" {
		parts := strings.Split(s, ",")
		if len(parts) != 4 {
			return nil, fmt.Errorf("%w: bbox needs minx,miny,maxx,maxy", errBadRequest)
		}
		var c [4]float64
		for i, p := range parts {
			f, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
			if err != nil {
				return nil, fmt.Errorf("%w: bbox: %v", errBadRequest, err)
			}
			c[i] = f
		}
		env := shapefile.NewExtent(c[0], c[1], c[2], c[3])
		q.envelope = &env
	}

	if s := v.Get("where"); s != "" {
		f, err := shapefile.ParseFilter(s)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", errBadRequest, err)
		}
		q.filter = f
	}

	if s := v.Get("cursor"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 0 {
			return nil, fmt.Errorf("%w: cursor %q", errBadRequest, s)
		}
		q.cursor = shapefile.Cursor(n)
	}

	if s := v.Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n <= 0 {
			return nil, fmt.Errorf("%w: limit %q", errBadRequest, s)
		}
		if n < q.limit {
			q.limit = n
		}
	}
	return q, nil
}

func (h *handler) serveGeoJSON(w http.ResponseWriter, r *http.Request) {
	q, err := h.parseQuery(r)
	if err != nil {
		h.fail(w, err)
		return
	}

	res, err := h.src.Select(r.Context(), q.filter, q.envelope, q.cursor, q.limit)
	if err != nil {
		h.fail(w, err)
		return
	}

	fc := geojson.NewFeatureCollection()
	for _, f := range res.Features {
		fc.Append(f.GeoJSON())
	}
	fc.ExtraMembers = geojson.Properties{
		"next": int(res.Next),
		"done": res.Done,
	}

	data, err := fc.MarshalJSON()
	if err != nil {
		h.fail(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/geo+json")
	w.Header().Set("Access-Control-Allow-Origin", "*")
	_, _ = w.Write(data)
}

func (h *handler) serveFlatGeobuf(w http.ResponseWriter, r *http.Request) {
	q, err := h.parseQuery(r)
	if err != nil {
		h.fail(w, err)
		return
	}

	opts := fgb.DefaultOptions()
	opts.Filter = q.filter
	opts.Envelope = q.envelope

	var buf bytes.Buffer
	if err := fgb.ExportContext(r.Context(), &buf, h.src, opts); err != nil {
		h.fail(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Access-Control-Allow-Origin", "*")
	_, _ = w.Write(buf.Bytes())
}

func (h *handler) fail(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, errBadRequest):
		status = http.StatusBadRequest
	case errors.Is(err, fgb.ErrNoFeatures):
		status = http.StatusNotFound
	}
	if status == http.StatusInternalServerError {
		level.Error(h.logger).Log("msg", "request failed", "err", err)
	}
	http.Error(w, err.Error(), status)
}
