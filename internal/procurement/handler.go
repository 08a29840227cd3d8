package procurement

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/fleetdesk/fleetdesk/internal/platform/httpx"
	"github.com/fleetdesk/fleetdesk/internal/shared"
)

// Handler manages procurement endpoints.
type Handler struct {
	logger      *slog.Logger
	service     *Service
	idempotency *shared.IdempotencyStore
}

// NewHandler builds Handler instance. idem may be nil, which disables replay
// of conversion responses.
func NewHandler(logger *slog.Logger, service *Service, idem *shared.IdempotencyStore) *Handler {
	return &Handler{logger: logger, service: service, idempotency: idem}
}

// MountRequisitionRoutes registers requisition routes.
func (h *Handler) MountRequisitionRoutes(r chi.Router) {
	r.Get("/", h.listRequisitions)
	r.Post("/", h.createRequisition)
	r.Get("/{id}", h.getRequisition)
	r.Post("/{id}/lines", h.addRequisitionLine)
	r.Delete("/{id}/lines/{lineID}", h.removeRequisitionLine)
	r.Post("/{id}/submit", h.submitRequisition)
	r.Post("/{id}/approve", h.approveRequisition)
	r.Post("/{id}/reject", h.rejectRequisition)
	r.Get("/{id}/approvals", h.approvalHistory(h.service.RequisitionApprovals))
	r.With(httpx.Idempotent(h.idempotency, "requisition.convert", h.logger)).Post("/{id}/convert", h.convertRequisition)
}

// MountPurchaseOrderRoutes registers purchase order routes.
func (h *Handler) MountPurchaseOrderRoutes(r chi.Router) {
	r.Get("/", h.listPurchaseOrders)
	r.Get("/{id}", h.getPurchaseOrder)
	r.Get("/{id}/approvals", h.approvalHistory(h.service.PurchaseOrderApprovals))
	r.Post("/{id}/submit", h.transitionPurchaseOrder(EventSubmit))
	r.Post("/{id}/approve", h.transitionPurchaseOrder(EventApprove))
	r.Post("/{id}/order", h.transitionPurchaseOrder(EventOrder))
	r.Post("/{id}/cancel", h.transitionPurchaseOrder(EventCancel))
	r.With(httpx.Idempotent(h.idempotency, "purchase_order.receive", h.logger)).Post("/{id}/receive", h.receivePurchaseOrder)
}

type lineRequest struct {
	PartID      *int64  `json:"partId" validate:"omitempty,gt=0"`
	Description string  `json:"description" validate:"required,max=500"`
	Quantity    float64 `json:"quantity" validate:"gt=0"`
	UnitCost    float64 `json:"unitCost" validate:"gte=0"`
}

type createRequisitionRequest struct {
	VendorID *int64        `json:"vendorId" validate:"omitempty,gt=0"`
	Notes    string        `json:"notes" validate:"max=2000"`
	Lines    []lineRequest `json:"lines" validate:"omitempty,dive"`
}

type approveRequest struct {
	Note string `json:"note" validate:"max=500"`
}

type rejectRequest struct {
	Reason string `json:"reason" validate:"required,max=500"`
}

type receiptRequest struct {
	LineID   int64   `json:"lineId" validate:"required,gt=0"`
	Quantity float64 `json:"quantity" validate:"gt=0"`
}

type receiveRequest struct {
	Receipts []receiptRequest `json:"receipts" validate:"required,min=1,dive"`
}

func (h *Handler) listRequisitions(w http.ResponseWriter, r *http.Request) {
	orgID, _ := shared.OrgFromContext(r.Context())
	page, perPage := shared.PageParams(r.URL.Query())
	items, total, err := h.service.ListRequisitions(r.Context(), orgID, ListFilters{
		Status: r.URL.Query().Get("status"),
		Limit:  perPage,
		Offset: shared.Offset(page, perPage),
	})
	if err != nil {
		h.fail(w, "list requisitions", err)
		return
	}
	httpx.Page(w, items, shared.NewPagination(page, perPage, total))
}

func (h *Handler) createRequisition(w http.ResponseWriter, r *http.Request) {
	orgID, _ := shared.OrgFromContext(r.Context())
	var req createRequisitionRequest
	if err := httpx.DecodeValid(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	input := CreateRequisitionInput{VendorID: req.VendorID, Notes: req.Notes}
	for _, line := range req.Lines {
		input.Lines = append(input.Lines, LineInput(line))
	}
	detail, err := h.service.CreateRequisition(r.Context(), orgID, input)
	if err != nil {
		h.fail(w, "create requisition", err)
		return
	}
	httpx.Data(w, http.StatusCreated, detail)
}

func (h *Handler) getRequisition(w http.ResponseWriter, r *http.Request) {
	orgID, _ := shared.OrgFromContext(r.Context())
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	detail, err := h.service.GetRequisition(r.Context(), orgID, id)
	if err != nil {
		h.fail(w, "get requisition", err)
		return
	}
	httpx.Data(w, http.StatusOK, detail)
}

func (h *Handler) approvalHistory(list func(ctx context.Context, orgID, id int64) ([]shared.ApprovalLog, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		orgID, _ := shared.OrgFromContext(r.Context())
		id, err := httpx.IDParam(r, "id")
		if err != nil {
			httpx.RespondError(w, err)
			return
		}
		logs, err := list(r.Context(), orgID, id)
		if err != nil {
			h.fail(w, "list approvals", err)
			return
		}
		httpx.Data(w, http.StatusOK, logs)
	}
}

func (h *Handler) addRequisitionLine(w http.ResponseWriter, r *http.Request) {
	orgID, _ := shared.OrgFromContext(r.Context())
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var req lineRequest
	if err := httpx.DecodeValid(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	line, err := h.service.AddRequisitionLine(r.Context(), orgID, id, LineInput(req))
	if err != nil {
		h.fail(w, "add requisition line", err)
		return
	}
	httpx.Data(w, http.StatusCreated, line)
}

func (h *Handler) removeRequisitionLine(w http.ResponseWriter, r *http.Request) {
	orgID, _ := shared.OrgFromContext(r.Context())
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	lineID, err := httpx.IDParam(r, "lineID")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	if err := h.service.RemoveRequisitionLine(r.Context(), orgID, id, lineID); err != nil {
		h.fail(w, "remove requisition line", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) submitRequisition(w http.ResponseWriter, r *http.Request) {
	orgID, _ := shared.OrgFromContext(r.Context())
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	req, err := h.service.SubmitRequisition(r.Context(), orgID, id)
	if err != nil {
		h.fail(w, "submit requisition", err)
		return
	}
	httpx.Data(w, http.StatusOK, req)
}

func (h *Handler) approveRequisition(w http.ResponseWriter, r *http.Request) {
	orgID, _ := shared.OrgFromContext(r.Context())
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var body approveRequest
	if r.ContentLength != 0 {
		if err := httpx.DecodeValid(r, &body); err != nil {
			httpx.RespondError(w, err)
			return
		}
	}
	req, err := h.service.ApproveRequisition(r.Context(), orgID, id, body.Note)
	if err != nil {
		h.fail(w, "approve requisition", err)
		return
	}
	httpx.Data(w, http.StatusOK, req)
}

func (h *Handler) rejectRequisition(w http.ResponseWriter, r *http.Request) {
	orgID, _ := shared.OrgFromContext(r.Context())
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var body rejectRequest
	if err := httpx.DecodeValid(r, &body); err != nil {
		httpx.RespondError(w, err)
		return
	}
	req, err := h.service.RejectRequisition(r.Context(), orgID, id, body.Reason)
	if err != nil {
		h.fail(w, "reject requisition", err)
		return
	}
	httpx.Data(w, http.StatusOK, req)
}

func (h *Handler) convertRequisition(w http.ResponseWriter, r *http.Request) {
	orgID, _ := shared.OrgFromContext(r.Context())
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	detail, err := h.service.ConvertRequisitionToPO(r.Context(), orgID, id)
	if err != nil {
		h.fail(w, "convert requisition", err)
		return
	}
	h.logger.Info("requisition converted",
		slog.Int64("org_id", orgID),
		slog.Int64("requisition_id", id),
		slog.Int64("purchase_order_id", detail.PurchaseOrder.ID))
	httpx.Data(w, http.StatusCreated, detail)
}

func (h *Handler) listPurchaseOrders(w http.ResponseWriter, r *http.Request) {
	orgID, _ := shared.OrgFromContext(r.Context())
	page, perPage := shared.PageParams(r.URL.Query())
	items, total, err := h.service.ListPurchaseOrders(r.Context(), orgID, ListFilters{
		Status: r.URL.Query().Get("status"),
		Limit:  perPage,
		Offset: shared.Offset(page, perPage),
	})
	if err != nil {
		h.fail(w, "list purchase orders", err)
		return
	}
	httpx.Page(w, items, shared.NewPagination(page, perPage, total))
}

func (h *Handler) getPurchaseOrder(w http.ResponseWriter, r *http.Request) {
	orgID, _ := shared.OrgFromContext(r.Context())
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	detail, err := h.service.GetPurchaseOrder(r.Context(), orgID, id)
	if err != nil {
		h.fail(w, "get purchase order", err)
		return
	}
	httpx.Data(w, http.StatusOK, detail)
}

func (h *Handler) transitionPurchaseOrder(event string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		orgID, _ := shared.OrgFromContext(r.Context())
		id, err := httpx.IDParam(r, "id")
		if err != nil {
			httpx.RespondError(w, err)
			return
		}
		po, err := h.service.TransitionPurchaseOrder(r.Context(), orgID, id, event)
		if err != nil {
			h.fail(w, event+" purchase order", err)
			return
		}
		httpx.Data(w, http.StatusOK, po)
	}
}

func (h *Handler) receivePurchaseOrder(w http.ResponseWriter, r *http.Request) {
	orgID, _ := shared.OrgFromContext(r.Context())
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var req receiveRequest
	if err := httpx.DecodeValid(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	receipts := make([]Receipt, 0, len(req.Receipts))
	for _, rc := range req.Receipts {
		receipts = append(receipts, Receipt(rc))
	}
	detail, err := h.service.ReceivePurchaseOrder(r.Context(), orgID, id, receipts)
	if err != nil {
		h.fail(w, "receive purchase order", err)
		return
	}
	httpx.Data(w, http.StatusOK, detail)
}

func (h *Handler) fail(w http.ResponseWriter, msg string, err error) {
	if !httpx.IsClientError(err) {
		h.logger.Error(msg, slog.Any("error", err))
	}
	httpx.RespondError(w, err)
}
