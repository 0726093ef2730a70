package server

import (
	"bytes"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"KSIDashboard/src/dataset"
	"KSIDashboard/src/metrics"
	"KSIDashboard/src/processor"
	"KSIDashboard/src/render"
	"KSIDashboard/src/storage"
	"KSIDashboard/src/utils"
)

const (
	defaultHeadRows = 5
	maxHeadRows     = 1000
	exportSheet     = "KSI"
)

// TableLoader is satisfied by *dataset.Cache.
type TableLoader interface {
	Load(maxRows int) (*dataset.Table, error)
}

// Handler serves the dashboard API from one shared table cache.
type Handler struct {
	cache   TableLoader
	maxRows int
	catalog *processor.Catalog
	logger  *storage.Logger
	metrics *metrics.Collector
}

func NewHandler(cache TableLoader, maxRows int, catalog *processor.Catalog, logger *storage.Logger, m *metrics.Collector) *Handler {
	if logger == nil {
		logger = storage.NewNopLogger()
	}
	return &Handler{
		cache:   cache,
		maxRows: maxRows,
		catalog: catalog,
		logger:  logger,
		metrics: m,
	}
}

// table 加载数据表, 失败时已写好响应
func (h *Handler) table(w http.ResponseWriter) (*dataset.Table, bool) {
	t, err := h.cache.Load(h.maxRows)
	if err != nil {
		h.logger.Error("加载数据失败", zap.Error(err))
		if errors.Is(err, dataset.ErrDataUnavailable) {
			HttpError(w, "dataset unavailable", http.StatusServiceUnavailable, h.logger)
		} else {
			HttpError(w, "Internal server error", http.StatusInternalServerError, h.logger)
		}
		return nil, false
	}
	return t, true
}

type headResponse struct {
	Count   int              `json:"count"`
	Records []dataset.Record `json:"records"`
}

// Head returns the first n records, a preview of the raw data.
func (h *Handler) Head(w http.ResponseWriter, r *http.Request) {
	n := defaultHeadRows
	if s := r.URL.Query().Get("n"); s != "" {
		v, err := strconv.Atoi(s)
		if err != nil || v < 0 {
			HttpError(w, fmt.Sprintf("invalid row count %q", s), http.StatusBadRequest, h.logger)
			return
		}
		n = v
	}
	if n > maxHeadRows {
		n = maxHeadRows
	}

	t, ok := h.table(w)
	if !ok {
		return
	}
	records := processor.Head(t, n)
	writeJSON(w, headResponse{Count: len(records), Records: records}, h.logger)
}

type summaryResponse struct {
	Rows      int                                `json:"rows"`
	MaxRows   int                                `json:"max_rows"`
	Stats     dataset.Stats                      `json:"stats"`
	ViewState *processor.ViewState               `json:"view_state,omitempty"`
	Selectors map[processor.Kind]processor.Range `json:"selectors"`
	Columns   []string                           `json:"columns"`
}

func (h *Handler) Summary(w http.ResponseWriter, r *http.Request) {
	t, ok := h.table(w)
	if !ok {
		return
	}

	resp := summaryResponse{
		Rows:      t.Len(),
		MaxRows:   h.maxRows,
		Stats:     t.Stats(),
		Selectors: make(map[processor.Kind]processor.Range),
		Columns:   t.Names(),
	}
	if vs, ok := processor.ViewStateOf(t.Records()); ok {
		resp.ViewState = &vs
	}
	for _, k := range processor.Kinds() {
		resp.Selectors[k] = k.Range()
	}
	writeJSON(w, resp, h.logger)
}

type collisionsResponse struct {
	Kind      processor.Kind       `json:"kind"`
	Value     int                  `json:"value"`
	Count     int                  `json:"count"`
	Points    [][2]float64         `json:"points"`
	ViewState *processor.ViewState `json:"view_state,omitempty"`
	Density   []processor.Bin      `json:"density,omitempty"`
	Records   []dataset.Record     `json:"records,omitempty"`
}

// view 解析路径中的维度和取值并筛选
func (h *Handler) view(w http.ResponseWriter, r *http.Request) (*dataset.Table, *processor.FilterView, bool) {
	vars := mux.Vars(r)
	kind, err := processor.ParseKind(vars["kind"])
	if err != nil {
		HttpError(w, err.Error(), http.StatusNotFound, h.logger)
		return nil, nil, false
	}
	value, err := strconv.Atoi(vars["value"])
	if err != nil {
		HttpError(w, fmt.Sprintf("invalid %s value %q", kind, vars["value"]), http.StatusBadRequest, h.logger)
		return nil, nil, false
	}

	t, ok := h.table(w)
	if !ok {
		return nil, nil, false
	}
	view, err := processor.Filter(t, kind, value)
	if err != nil {
		HttpError(w, err.Error(), http.StatusNotFound, h.logger)
		return nil, nil, false
	}
	h.metrics.ObserveQuery(string(kind), kind.Range().Contains(value))
	return t, view, true
}

// Collisions returns the map points of one filter; ?raw=true adds the records
// and hour views carry the density layer.
func (h *Handler) Collisions(w http.ResponseWriter, r *http.Request) {
	t, view, ok := h.view(w, r)
	if !ok {
		return
	}

	resp := collisionsResponse{
		Kind:   view.Kind,
		Value:  view.Value,
		Count:  view.Len(),
		Points: make([][2]float64, view.Len()),
	}
	for i, rec := range view.Records {
		resp.Points[i] = [2]float64{rec.Latitude, rec.Longitude}
	}

	if view.Kind == processor.KindHour {
		// 小时地图以全表中心为视角
		if vs, ok := processor.ViewStateOf(t.Records()); ok {
			resp.ViewState = &vs
		}
		precision := processor.DefaultPrecision
		if s := r.URL.Query().Get("precision"); s != "" {
			p, err := strconv.Atoi(s)
			if err != nil {
				HttpError(w, fmt.Sprintf("invalid precision %q", s), http.StatusBadRequest, h.logger)
				return
			}
			precision = p
		}
		resp.Density = processor.Density(view.Records, precision)
	} else if vs, ok := processor.ViewStateOf(view.Records); ok {
		resp.ViewState = &vs
	}

	if raw, _ := strconv.ParseBool(r.URL.Query().Get("raw")); raw {
		resp.Records = view.Records
	}
	writeJSON(w, resp, h.logger)
}

// Export writes the filtered rows as an xlsx workbook.
func (h *Handler) Export(w http.ResponseWriter, r *http.Request) {
	_, view, ok := h.view(w, r)
	if !ok {
		return
	}

	var buf bytes.Buffer
	if err := utils.WriteExcel(view.Frame(), exportSheet, &buf); err != nil {
		h.logger.Error("导出Excel失败", zap.Error(err))
		HttpError(w, "Internal server error", http.StatusInternalServerError, h.logger)
		return
	}

	name := fmt.Sprintf("ksi_%s_%d.xlsx", view.Kind, view.Value)
	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
	if _, err := buf.WriteTo(w); err != nil {
		h.logger.Warning("写出Excel中断", zap.Error(err))
	}
}

func (h *Handler) Aggregates(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string][]string{"aggregates": h.catalog.Names()}, h.logger)
}

func (h *Handler) Aggregate(w http.ResponseWriter, r *http.Request) {
	agg, ok := h.aggregate(w, r)
	if !ok {
		return
	}
	writeJSON(w, agg, h.logger)
}

// Chart renders an aggregate as PNG; ksi_age_by_year needs ?year=.
func (h *Handler) Chart(w http.ResponseWriter, r *http.Request) {
	agg, ok := h.aggregate(w, r)
	if !ok {
		return
	}
	if agg.ByYear != nil {
		HttpError(w, "year is required for "+agg.Name, http.StatusBadRequest, h.logger)
		return
	}

	var buf bytes.Buffer
	if err := render.Render(agg, &buf); err != nil {
		h.logger.Error("绘图失败", zap.String("aggregate", agg.Name), zap.Error(err))
		HttpError(w, "Internal server error", http.StatusInternalServerError, h.logger)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	if _, err := buf.WriteTo(w); err != nil {
		h.logger.Warning("写出图片中断", zap.Error(err))
	}
}

// aggregate 按名称和可选的 year 查统计表, 失败时已写好响应
func (h *Handler) aggregate(w http.ResponseWriter, r *http.Request) (processor.Aggregate, bool) {
	name := mux.Vars(r)["name"]
	year := r.URL.Query().Get("year")

	var (
		agg processor.Aggregate
		err error
	)
	if name == processor.AggKSIAgeByYear && year != "" {
		y, convErr := strconv.Atoi(year)
		if convErr != nil {
			HttpError(w, fmt.Sprintf("invalid year %q", year), http.StatusBadRequest, h.logger)
			return agg, false
		}
		agg, err = h.catalog.AgeGroupsFor(y)
	} else {
		agg, err = h.catalog.Get(name)
	}

	switch {
	case err == nil:
		return agg, true
	case errors.Is(err, processor.ErrUnknownAggregate), errors.Is(err, processor.ErrUnknownSeries):
		HttpError(w, err.Error(), http.StatusNotFound, h.logger)
	default:
		HttpError(w, "Internal server error", http.StatusInternalServerError, h.logger)
	}
	return agg, false
}

// Logs 以 chunked 方式持续推送日志, 直到客户端断开
func (h *Handler) Logs(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("X-Content-Type-Options", "nosniff")

	logChan := h.logger.Subscribe()
	defer h.logger.Unsubscribe(logChan)

	flusher, _ := w.(http.Flusher)
	if flusher != nil {
		flusher.Flush()
	}
	for {
		select {
		case msg := <-logChan:
			if _, err := fmt.Fprint(w, msg); err != nil {
				return
			}
			if flusher != nil {
				flusher.Flush()
			}
		case <-r.Context().Done():
			return
		}
	}
}
