package http

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/Spok95/coffee-stock/internal/domain/inventory"
	"github.com/Spok95/coffee-stock/internal/domain/ledger"
	"github.com/Spok95/coffee-stock/internal/domain/materials"
	"github.com/Spok95/coffee-stock/internal/domain/recipes"
	"github.com/Spok95/coffee-stock/internal/infra/reports"
	"github.com/Spok95/coffee-stock/internal/infra/xlsx"
	"github.com/shopspring/decimal"
)

const (
	maxJSONBody = 1 << 20
	maxXLSXBody = 10 << 20

	xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
)

var errBadRequest = errors.New("bad request")

// API — HTTP-обвязка над inventory.Service.
type API struct {
	log     *slog.Logger
	inv     *inventory.Service
	catalog materials.Directory
	sink    reports.Sink // nil — отчёты не архивируются
}

func NewAPI(log *slog.Logger, inv *inventory.Service, catalog materials.Directory, sink reports.Sink) *API {
	return &API{log: log, inv: inv, catalog: catalog, sink: sink}
}

func (a *API) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/orders/{id}/consumption", a.consume)
	mux.HandleFunc("POST /api/contracting", a.contracting)
	mux.HandleFunc("POST /api/waste", a.waste)
	mux.HandleFunc("POST /api/importations", a.importation)
	mux.HandleFunc("POST /api/importations/upload", a.importationUpload)
	mux.HandleFunc("GET /api/importations/template", a.importationTemplate)
	mux.HandleFunc("POST /api/reconciliations/{date}", a.reconcile)
	mux.HandleFunc("GET /api/materials", a.materials)
	mux.HandleFunc("GET /api/units", a.units)
	mux.HandleFunc("GET /api/materials/{id}/available", a.available)
	mux.HandleFunc("GET /api/reports/stock", a.stockReport)
}

/* DTO */

type eventDTO struct {
	ID           string           `json:"id"`
	Kind         string           `json:"kind"`
	MaterialID   int64            `json:"material_id"`
	Date         string           `json:"date"`
	Quantity     decimal.Decimal  `json:"quantity"`
	PricePerUnit *decimal.Decimal `json:"price_per_unit,omitempty"`
	OrderID      *int64           `json:"order_id,omitempty"`
	StaffID      *int64           `json:"staff_id,omitempty"`
	Reason       string           `json:"reason,omitempty"`
	CreatedAt    time.Time        `json:"created_at"`
}

func toDTO(ev ledger.Event) eventDTO {
	d := eventDTO{
		ID:         ev.ID.String(),
		Kind:       string(ev.Kind),
		MaterialID: ev.MaterialID,
		Date:       ev.Date.Format(time.DateOnly),
		Quantity:   ev.Quantity,
		OrderID:    ev.OrderID,
		StaffID:    ev.StaffID,
		Reason:     ev.Reason,
		CreatedAt:  ev.CreatedAt,
	}
	if ev.Kind == ledger.KindImportation {
		p := ev.PricePerUnit
		d.PricePerUnit = &p
	}
	return d
}

func toDTOs(evs []ledger.Event) []eventDTO {
	out := make([]eventDTO, 0, len(evs))
	for _, ev := range evs {
		out = append(out, toDTO(ev))
	}
	return out
}

type consumeRequest struct {
	Items []struct {
		ProductID int64  `json:"product_id"`
		SizeID    *int64 `json:"size_id"`
		Quantity  int    `json:"quantity"`
		Toppings  []struct {
			ProductID int64 `json:"product_id"`
			Quantity  int   `json:"quantity"`
		} `json:"toppings"`
	} `json:"items"`
}

type contractingRequest struct {
	MaterialID int64           `json:"material_id"`
	Date       string          `json:"date"`
	Quantity   decimal.Decimal `json:"quantity"`
	StaffID    *int64          `json:"staff_id"`
}

type wasteRequest struct {
	MaterialID int64           `json:"material_id"`
	Date       string          `json:"date"`
	Quantity   decimal.Decimal `json:"quantity"`
	Reason     string          `json:"reason"`
}

type importationRequest struct {
	MaterialID   int64           `json:"material_id"`
	Date         string          `json:"date"`
	Quantity     decimal.Decimal `json:"quantity"`
	PricePerUnit decimal.Decimal `json:"price_per_unit"`
}

type unitDTO struct {
	ID     int64  `json:"id"`
	Name   string `json:"name"`
	Symbol string `json:"symbol"`
	Class  string `json:"class"`
}

type materialDTO struct {
	ID     int64           `json:"id"`
	Name   string          `json:"name"`
	Code   string          `json:"code"`
	Unit   unitDTO         `json:"unit"`
	Remain decimal.Decimal `json:"remain"`
	Active bool            `json:"active"`
}

func toUnitDTO(u materials.Unit) unitDTO {
	return unitDTO{ID: u.ID, Name: u.Name, Symbol: u.Symbol, Class: string(u.Class)}
}

/* handlers */

// materials: ?q= — поиск по названию или коду, ?all=1 — вместе с неактивными.
func (a *API) materials(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	onlyActive := q.Get("all") != "1"

	var (
		ms  []materials.Material
		err error
	)
	if s := q.Get("q"); s != "" {
		ms, err = a.catalog.SearchByName(r.Context(), s, onlyActive)
	} else {
		ms, err = a.catalog.List(r.Context(), onlyActive)
	}
	if err != nil {
		a.fail(w, r, err)
		return
	}
	out := make([]materialDTO, 0, len(ms))
	for _, m := range ms {
		out = append(out, materialDTO{ID: m.ID, Name: m.Name, Code: m.Code, Unit: toUnitDTO(m.Unit), Remain: m.Remain, Active: m.Active})
	}
	writeJSON(w, http.StatusOK, map[string]any{"materials": out})
}

func (a *API) units(w http.ResponseWriter, r *http.Request) {
	us, err := a.catalog.ListUnits(r.Context())
	if err != nil {
		a.fail(w, r, err)
		return
	}
	out := make([]unitDTO, 0, len(us))
	for _, u := range us {
		out = append(out, toUnitDTO(u))
	}
	writeJSON(w, http.StatusOK, map[string]any{"units": out})
}

func (a *API) consume(w http.ResponseWriter, r *http.Request) {
	orderID, err := pathID(r, "id")
	if err != nil {
		a.fail(w, r, err)
		return
	}
	var req consumeRequest
	if err := decode(w, r, &req); err != nil {
		a.fail(w, r, err)
		return
	}
	items := make([]inventory.LineItem, 0, len(req.Items))
	for _, it := range req.Items {
		li := inventory.LineItem{ProductID: it.ProductID, SizeID: it.SizeID, Quantity: it.Quantity}
		for _, tp := range it.Toppings {
			li.Toppings = append(li.Toppings, inventory.ToppingSelection{ProductID: tp.ProductID, Quantity: tp.Quantity})
		}
		items = append(items, li)
	}

	evs, err := a.inv.ConsumeForOrder(r.Context(), orderID, items)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"order_id": orderID, "events": toDTOs(evs)})
}

func (a *API) contracting(w http.ResponseWriter, r *http.Request) {
	var req contractingRequest
	if err := decode(w, r, &req); err != nil {
		a.fail(w, r, err)
		return
	}
	date, err := parseDate(req.Date)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	ev, err := a.inv.CreateContracting(r.Context(), inventory.ContractingRequest{
		MaterialID: req.MaterialID,
		Date:       date,
		Quantity:   req.Quantity,
		StaffID:    req.StaffID,
	})
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toDTO(ev))
}

func (a *API) waste(w http.ResponseWriter, r *http.Request) {
	var req wasteRequest
	if err := decode(w, r, &req); err != nil {
		a.fail(w, r, err)
		return
	}
	date, err := parseDate(req.Date)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	ev, err := a.inv.RecordWaste(r.Context(), inventory.WasteRequest{
		MaterialID: req.MaterialID,
		Date:       date,
		Quantity:   req.Quantity,
		Reason:     req.Reason,
	})
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toDTO(ev))
}

func (a *API) importation(w http.ResponseWriter, r *http.Request) {
	var req importationRequest
	if err := decode(w, r, &req); err != nil {
		a.fail(w, r, err)
		return
	}
	date, err := parseDate(req.Date)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	ev, err := a.inv.RecordImportation(r.Context(), inventory.ImportationRequest{
		MaterialID:   req.MaterialID,
		Date:         date,
		Quantity:     req.Quantity,
		PricePerUnit: req.PricePerUnit,
	})
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toDTO(ev))
}

func (a *API) importationUpload(w http.ResponseWriter, r *http.Request) {
	reqs, err := xlsx.ParseImportation(http.MaxBytesReader(w, r.Body, maxXLSXBody))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	evs, err := a.inv.ImportBatch(r.Context(), reqs)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"rows": len(evs), "events": toDTOs(evs)})
}

func (a *API) importationTemplate(w http.ResponseWriter, r *http.Request) {
	ms, err := a.catalog.List(r.Context(), true)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	buf := &bytes.Buffer{}
	if err := xlsx.WriteImportationTemplate(buf, ms); err != nil {
		a.fail(w, r, err)
		return
	}
	writeFile(w, "importation_template.xlsx", buf.Bytes())
}

func (a *API) reconcile(w http.ResponseWriter, r *http.Request) {
	date, err := parseDate(r.PathValue("date"))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	rep, err := a.inv.Reconcile(r.Context(), date)
	if err != nil {
		a.fail(w, r, err)
		return
	}

	type line struct {
		MaterialID      int64           `json:"material_id"`
		OldRemain       decimal.Decimal `json:"old_remain"`
		NewRemain       decimal.Decimal `json:"new_remain"`
		TotalContracted decimal.Decimal `json:"total_contracted"`
	}
	lines := make([]line, 0, len(rep.Lines))
	for _, l := range rep.Lines {
		lines = append(lines, line(l))
	}
	writeJSON(w, http.StatusOK, map[string]any{"date": rep.Date.Format(time.DateOnly), "lines": lines})
}

func (a *API) available(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		a.fail(w, r, err)
		return
	}

	resp := map[string]any{"material_id": id}
	if s := r.URL.Query().Get("as_of"); s != "" {
		asOf, err := parseDate(s)
		if err != nil {
			a.fail(w, r, err)
			return
		}
		qty, err := a.inv.AvailableQuantity(r.Context(), id, asOf)
		if err != nil {
			a.fail(w, r, err)
			return
		}
		resp["as_of"] = asOf.Format(time.DateOnly)
		resp["available"] = qty
	} else {
		qty, err := a.inv.AvailableToday(r.Context(), id)
		if err != nil {
			a.fail(w, r, err)
			return
		}
		resp["available"] = qty
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *API) stockReport(w http.ResponseWriter, r *http.Request) {
	date, err := parseDate(r.URL.Query().Get("date"))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	rep, err := a.inv.StockReport(r.Context(), date)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	buf := &bytes.Buffer{}
	if err := xlsx.WriteStockReport(buf, rep); err != nil {
		a.fail(w, r, err)
		return
	}

	name := fmt.Sprintf("stock_%s_%s.xlsx", rep.Date.Format(time.DateOnly), time.Now().Format("20060102_150405"))
	if a.sink != nil {
		loc, err := a.sink.Put(r.Context(), name, buf.Bytes())
		if err != nil {
			// без архива отчёт всё равно отдаём
			a.log.Warn("archive stock report failed", "name", name, "err", err)
		} else {
			w.Header().Set("X-Report-Location", loc)
		}
	}
	writeFile(w, name, buf.Bytes())
}

/* helpers */

func pathID(r *http.Request, key string) (int64, error) {
	v := r.PathValue(key)
	id, err := strconv.ParseInt(v, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("%w: invalid %s %q", errBadRequest, key, v)
	}
	return id, nil
}

// parseDate: пустая строка — нулевое время (сервис подставит сегодня).
func parseDate(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.DateOnly, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: invalid date %q", errBadRequest, s)
	}
	return t, nil
}

func decode(w http.ResponseWriter, r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxJSONBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("%w: %w", errBadRequest, err)
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeFile(w http.ResponseWriter, name string, body []byte) {
	w.Header().Set("Content-Type", xlsxContentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(body)
}

type errorBody struct {
	Error       string           `json:"error"`
	Message     string           `json:"message"`
	MaterialID  int64            `json:"material_id,omitempty"`
	Required    *decimal.Decimal `json:"required,omitempty"`
	Remain      *decimal.Decimal `json:"remain,omitempty"`
	Available   *decimal.Decimal `json:"available,omitempty"`
	Accountable *decimal.Decimal `json:"accountable,omitempty"`
}

// fail переводит ошибку сервиса в HTTP-ответ. Повторять имеет смысл только 503.
func (a *API) fail(w http.ResponseWriter, r *http.Request, err error) {
	var (
		ime *inventory.InsufficientMaterialError
		ise *inventory.InsufficientStockError
		eae *inventory.ExceedsAccountableError
	)
	body := errorBody{Message: err.Error()}
	status := http.StatusInternalServerError

	switch {
	case errors.Is(err, inventory.ErrBusy):
		status, body.Error = http.StatusServiceUnavailable, "busy"
		w.Header().Set("Retry-After", "1")
	case errors.As(err, &ime):
		status, body.Error = http.StatusConflict, "insufficient_material"
		body.MaterialID, body.Required, body.Remain = ime.MaterialID, &ime.Required, &ime.Remain
	case errors.As(err, &ise):
		status, body.Error = http.StatusUnprocessableEntity, "insufficient_stock"
		body.MaterialID, body.Available = ise.MaterialID, &ise.Available
	case errors.As(err, &eae):
		status, body.Error = http.StatusUnprocessableEntity, "exceeds_accountable"
		body.MaterialID, body.Accountable = eae.MaterialID, &eae.Accountable
	case errors.Is(err, inventory.ErrMaterialHasNoBaseline):
		status, body.Error = http.StatusConflict, "no_baseline"
	case errors.Is(err, inventory.ErrRecipeNotFound):
		status, body.Error = http.StatusUnprocessableEntity, "recipe_not_found"
	case errors.Is(err, inventory.ErrUnknownMaterial):
		status, body.Error = http.StatusNotFound, "unknown_material"
	case errors.Is(err, errBadRequest),
		errors.Is(err, xlsx.ErrBadFormat),
		errors.Is(err, inventory.ErrInvalidQuantity),
		errors.Is(err, recipes.ErrInvalidQuantity),
		errors.Is(err, inventory.ErrInvalidOrder),
		errors.Is(err, inventory.ErrReasonRequired),
		errors.Is(err, inventory.ErrUnknownStaff):
		status, body.Error = http.StatusBadRequest, "invalid_request"
	default:
		body.Error, body.Message = "internal", "internal error"
	}

	if status >= http.StatusInternalServerError && status != http.StatusServiceUnavailable {
		a.log.Error("request failed", "method", r.Method, "path", r.URL.Path, "err", err)
	} else {
		a.log.Debug("request rejected", "method", r.Method, "path", r.URL.Path, "status", status, "err", err)
	}
	writeJSON(w, status, body)
}
