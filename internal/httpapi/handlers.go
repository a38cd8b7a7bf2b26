package httpapi

import (
	"bytes"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/tyranno/nanumpay-sub001/internal/calendar"
	"github.com/tyranno/nanumpay-sub001/internal/models"
	"github.com/tyranno/nanumpay-sub001/internal/report"
	"github.com/tyranno/nanumpay-sub001/internal/service"
	"github.com/tyranno/nanumpay-sub001/internal/tree"
)

const maxTreeBytes = 16 << 20

// parseDate reads a YYYY-MM-DD value, defaulting to today when empty.
func parseDate(s string) (time.Time, error) {
	if s == "" {
		return calendar.Today(), nil
	}
	d, err := calendar.ParseDay(s)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %v", service.ErrInvalidInput, err)
	}
	return d, nil
}

func (a *api) handleHealth(w http.ResponseWriter, r *http.Request) {
	data := map[string]string{
		"status":  "available",
		"version": "0.1.0",
	}
	if err := writeJSON(w, http.StatusOK, data); err != nil {
		writeJSONError(w, http.StatusInternalServerError, err.Error())
	}
}

// handleApplyTree accepts the member tree as YAML or JSON.
func (a *api) handleApplyTree(w http.ResponseWriter, r *http.Request) {
	date, err := parseDate(r.URL.Query().Get("date"))
	if err != nil {
		writeError(w, r, err)
		return
	}

	members, err := tree.Decode(http.MaxBytesReader(w, r.Body, maxTreeBytes))
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, err.Error())
		return
	}

	result, err := a.payouts.ApplyTree(r.Context(), members, date)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, result, "Tree applied")
}

func (a *api) handleMemberGrade(w http.ResponseWriter, r *http.Request) {
	date, err := parseDate(r.URL.Query().Get("date"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	res, err := a.payouts.MemberGrade(r.Context(), chi.URLParam(r, "memberID"), date)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, res, "")
}

func (a *api) handleMemberPlans(w http.ResponseWriter, r *http.Request) {
	plans, err := a.payouts.Plans(r.Context(), chi.URLParam(r, "memberID"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	if plans == nil {
		plans = []models.Plan{}
	}
	writeData(w, http.StatusOK, plans, "")
}

func (a *api) handleMemberTotals(w http.ResponseWriter, r *http.Request) {
	totals, err := a.payouts.PaymentTotals(r.Context(), chi.URLParam(r, "memberID"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, totals, "")
}

func (a *api) handleUpdateInsurance(w http.ResponseWriter, r *http.Request) {
	var input struct {
		Amount int64  `json:"amount"`
		Date   string `json:"date"`
	}
	if err := readJSON(w, r, &input); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid request payload")
		return
	}
	date, err := parseDate(input.Date)
	if err != nil {
		writeError(w, r, err)
		return
	}

	res, err := a.payouts.ApplyInsurance(r.Context(), chi.URLParam(r, "memberID"), input.Amount, date)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, res, "Insurance updated")
}

func (a *api) handleCaptureSnapshot(w http.ResponseWriter, r *http.Request) {
	var input struct {
		Date    string                 `json:"date"`
		Purpose models.SnapshotPurpose `json:"purpose"`
	}
	if err := readJSON(w, r, &input); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid request payload")
		return
	}
	date, err := parseDate(input.Date)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if input.Purpose == "" {
		input.Purpose = models.PurposePaymentReference
	}
	if !input.Purpose.Valid() {
		writeJSONError(w, http.StatusBadRequest, fmt.Sprintf("invalid purpose %q", input.Purpose))
		return
	}

	snap, err := a.payouts.CaptureSnapshot(r.Context(), date, input.Purpose)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeData(w, http.StatusCreated, snap, "Snapshot captured")
}

func (a *api) handleGetSnapshot(w http.ResponseWriter, r *http.Request) {
	date, err := calendar.ParseDay(chi.URLParam(r, "date"))
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	snap, err := a.payouts.Snapshot(r.Context(), date)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, snap, "")
}

func (a *api) handleSetRevenue(w http.ResponseWriter, r *http.Request) {
	var input struct {
		Amount float64 `json:"amount"`
	}
	if err := readJSON(w, r, &input); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid request payload")
		return
	}
	res, err := a.payouts.SetRevenue(r.Context(), chi.URLParam(r, "month"), input.Amount)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, res, "Revenue recorded")
}

func (a *api) handleAdjustRevenue(w http.ResponseWriter, r *http.Request) {
	var input struct {
		Amount float64 `json:"amount"`
		Reason string  `json:"reason"`
	}
	if err := readJSON(w, r, &input); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid request payload")
		return
	}
	res, err := a.payouts.AdjustRevenue(r.Context(), chi.URLParam(r, "month"), input.Amount, input.Reason)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, res, "Revenue adjusted")
}

func (a *api) handleCloseMonth(w http.ResponseWriter, r *http.Request) {
	table, err := a.payouts.CloseMonth(r.Context(), chi.URLParam(r, "month"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, table, "Revenue month closed")
}

func (a *api) handlePaymentTable(w http.ResponseWriter, r *http.Request) {
	table, err := a.payouts.PaymentTable(r.Context(), chi.URLParam(r, "month"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, table, "")
}

func (a *api) handleRunWeekly(w http.ResponseWriter, r *http.Request) {
	var input struct {
		Date string `json:"date"`
	}
	if err := readJSON(w, r, &input); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid request payload")
		return
	}
	date, err := parseDate(input.Date)
	if err != nil {
		writeError(w, r, err)
		return
	}

	summary, err := a.payouts.RunWeekly(r.Context(), date)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, summary, "Weekly run complete")
}

func (a *api) handleMarkPaid(w http.ResponseWriter, r *http.Request) {
	number, err := strconv.Atoi(chi.URLParam(r, "number"))
	if err != nil || number < 1 {
		writeJSONError(w, http.StatusBadRequest, "invalid installment number")
		return
	}
	date, err := parseDate(r.URL.Query().Get("date"))
	if err != nil {
		writeError(w, r, err)
		return
	}

	inst, err := a.payouts.MarkPaid(r.Context(), chi.URLParam(r, "planID"), number, date)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, inst, "Installment paid")
}

func (a *api) handleInstallmentReport(w http.ResponseWriter, r *http.Request) {
	month := chi.URLParam(r, "month")
	plans, err := a.payouts.MonthPlans(r.Context(), month)
	if err != nil {
		writeError(w, r, err)
		return
	}

	var buf bytes.Buffer
	if err := report.WriteInstallmentLedger(&buf, month, plans); err != nil {
		writeError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="installments-%s.xlsx"`, month))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(buf.Bytes())
}
