package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"turnoplus/backend/internal/domain"
	"turnoplus/backend/internal/service/scheduling"
	"turnoplus/backend/internal/transport/wire"
)

type handlers struct {
	svc schedulingService
	log *slog.Logger
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

const maxBodyBytes = 1 << 20

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (h *handlers) fail(w http.ResponseWriter, r *http.Request, err error) {
	log := h.log.With(slog.Any("err", err), slog.String("request_id", RequestID(r.Context())))
	switch wire.Classify(err) {
	case wire.KindInvalidInput:
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "invalid_request", Details: err.Error()})
	case wire.KindNotFound:
		writeJSON(w, http.StatusNotFound, ErrorResponse{Error: "not_found", Details: err.Error()})
	case wire.KindRejected:
		log.InfoContext(r.Context(), "request rejected")
		writeJSON(w, http.StatusUnprocessableEntity, ErrorResponse{Error: "rejected", Details: err.Error()})
	case wire.KindTransient:
		log.WarnContext(r.Context(), "transient failure")
		writeJSON(w, http.StatusConflict, ErrorResponse{Error: "contention", Details: "storage contention, retry the request"})
	case wire.KindTimeout:
		log.WarnContext(r.Context(), "request timed out")
		writeJSON(w, http.StatusGatewayTimeout, ErrorResponse{Error: "timeout"})
	default:
		log.ErrorContext(r.Context(), "request failed")
		writeJSON(w, http.StatusInternalServerError, ErrorResponse{Error: "internal_error"})
	}
}

func decode(r *http.Request, dst any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil && !errors.Is(err, io.EOF) {
		return &wire.InputError{Field: "body", Reason: "could not parse JSON"}
	}
	return nil
}

func pathID(r *http.Request, param string) (uuid.UUID, error) {
	return wire.ParseID(param, chi.URLParam(r, param))
}

func queryWindow(r *http.Request) (*domain.TimeWindow, error) {
	q := r.URL.Query()
	return wire.ParseOptionalWindow(q.Get("start"), q.Get("end"))
}

func (h *handlers) createAvailability(w http.ResponseWriter, r *http.Request) {
	doctorID, err := pathID(r, "doctorID")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	var req wire.CreateAvailabilityRequest
	if err := decode(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	start, err := wire.ParseTime("start", req.Start)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	end, err := wire.ParseTime("end", req.End)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	av, err := h.svc.CreateAvailability(r.Context(), doctorID, start, end)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, wire.AvailabilityReply{Availability: wire.FromAvailability(av)})
}

func (h *handlers) createRecurringAvailability(w http.ResponseWriter, r *http.Request) {
	var req wire.CreateRecurringAvailabilityRequest
	if err := decode(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	req.DoctorID = chi.URLParam(r, "doctorID")
	in, err := req.Input()
	if err != nil {
		h.fail(w, r, err)
		return
	}
	out, err := h.svc.CreateRecurringAvailability(r.Context(), in)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, wire.AvailabilitiesReply{Availabilities: wire.FromAvailabilities(out)})
}

func (h *handlers) listAvailability(w http.ResponseWriter, r *http.Request) {
	doctorID, err := pathID(r, "doctorID")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	out, err := h.svc.ListAvailability(r.Context(), doctorID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, wire.AvailabilitiesReply{Availabilities: wire.FromAvailabilities(out)})
}

func (h *handlers) listAvailableBlocks(w http.ResponseWriter, r *http.Request) {
	doctorID, err := pathID(r, "doctorID")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	q := r.URL.Query()
	start, err := wire.ParseTime("start", q.Get("start"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	end, err := wire.ParseTime("end", q.Get("end"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	out, err := h.svc.ListAvailableBlocks(r.Context(), doctorID, start, end)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, wire.BlocksReply{Blocks: wire.FromBlocks(out)})
}

func (h *handlers) getAvailability(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "availabilityID")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	av, err := h.svc.GetAvailability(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, wire.AvailabilityReply{Availability: wire.FromAvailability(av)})
}

func (h *handlers) updateAvailability(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "availabilityID")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	var req wire.UpdateAvailabilityRequest
	if err := decode(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	patch, err := req.Patch()
	if err != nil {
		h.fail(w, r, err)
		return
	}
	av, err := h.svc.UpdateAvailability(r.Context(), id, patch)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, wire.AvailabilityReply{Availability: wire.FromAvailability(av)})
}

func (h *handlers) deleteAvailability(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "availabilityID")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if err := h.svc.DeleteAvailability(r.Context(), id); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handlers) deleteUnbookedBlocks(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "availabilityID")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	av, err := h.svc.DeleteUnbookedBlocks(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if av == nil {
		writeJSON(w, http.StatusOK, wire.DeleteUnbookedBlocksReply{Removed: true})
		return
	}
	out := wire.FromAvailability(*av)
	writeJSON(w, http.StatusOK, wire.DeleteUnbookedBlocksReply{Availability: &out})
}

func (h *handlers) deleteBlock(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "blockID")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if err := h.svc.DeleteBlock(r.Context(), id); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handlers) book(w http.ResponseWriter, r *http.Request) {
	var req wire.BookRequest
	if err := decode(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	if req.IdempotencyKey == "" {
		req.IdempotencyKey = strings.TrimSpace(r.Header.Get("Idempotency-Key"))
	}
	in, err := req.Input()
	if err != nil {
		h.fail(w, r, err)
		return
	}
	appt, err := h.svc.Book(r.Context(), in)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, wire.AppointmentReply{Appointment: wire.FromAppointment(appt)})
}

func (h *handlers) getAppointment(w http.ResponseWriter, r *http.Request) {
	h.appointment(w, r, h.svc.GetAppointment)
}

func (h *handlers) cancel(w http.ResponseWriter, r *http.Request) {
	h.appointment(w, r, h.svc.Cancel)
}

func (h *handlers) confirm(w http.ResponseWriter, r *http.Request) {
	h.appointment(w, r, h.svc.Confirm)
}

func (h *handlers) complete(w http.ResponseWriter, r *http.Request) {
	h.appointment(w, r, h.svc.Complete)
}

func (h *handlers) appointment(w http.ResponseWriter, r *http.Request, call func(context.Context, uuid.UUID) (domain.Appointment, error)) {
	id, err := pathID(r, "appointmentID")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	appt, err := call(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, wire.AppointmentReply{Appointment: wire.FromAppointment(appt)})
}

func (h *handlers) deleteAppointment(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "appointmentID")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if err := h.svc.DeleteAppointment(r.Context(), id); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handlers) listForDoctor(w http.ResponseWriter, r *http.Request) {
	h.listAppointments(w, r, "doctorID", h.svc.ListForDoctor)
}

func (h *handlers) listForPatient(w http.ResponseWriter, r *http.Request) {
	h.listAppointments(w, r, "patientID", h.svc.ListForPatient)
}

func (h *handlers) listAppointments(w http.ResponseWriter, r *http.Request, param string, list func(context.Context, uuid.UUID, *domain.TimeWindow) ([]domain.Appointment, error)) {
	id, err := pathID(r, param)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	window, err := queryWindow(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	out, err := list(r.Context(), id, window)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, wire.AppointmentsReply{Appointments: wire.FromAppointments(out)})
}

func (h *handlers) checkConsistency(w http.ResponseWriter, r *http.Request) {
	h.consistency(w, r, h.svc.CheckConsistency)
}

func (h *handlers) repairConsistency(w http.ResponseWriter, r *http.Request) {
	h.consistency(w, r, h.svc.RepairConsistency)
}

func (h *handlers) consistency(w http.ResponseWriter, r *http.Request, call func(context.Context, uuid.UUID) ([]scheduling.Inconsistency, error)) {
	doctorID, err := pathID(r, "doctorID")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	out, err := call(r.Context(), doctorID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, wire.ConsistencyReply{Inconsistencies: wire.FromInconsistencies(out)})
}
