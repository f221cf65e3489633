package handlers

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"strconv"

	"bookings/db"
	"bookings/internal/notify"

	"github.com/go-chi/chi/v5"
)

var validDealStatuses = map[string]bool{
	"lead": true, "qualified": true, "proposal": true,
	"negotiation": true, "won": true, "lost": true,
}

var validDealPriorities = map[string]bool{
	"low": true, "medium": true, "high": true, "urgent": true,
}

// projectCreated присутствует (true или false) во всех ответах по won-сделке
// и опускается в остальных
type dealResponse struct {
	*db.Deal
	ProjectCreated *bool `json:"projectCreated,omitempty"`
	ProjectID      int   `json:"projectId,omitempty"`
}

// CreateDealHandler обрабатывает POST /api/deals
func (h *Handler) CreateDealHandler(w http.ResponseWriter, r *http.Request) {
	// Ограничение размера тела, чтобы избежать DoS
	r.Body = http.MaxBytesReader(w, r.Body, 1048576)

	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "Failed to read request body", http.StatusBadRequest)
		return
	}
	defer r.Body.Close()

	var deal db.Deal
	if err := json.Unmarshal(body, &deal); err != nil {
		http.Error(w, "Invalid JSON format", http.StatusBadRequest)
		return
	}

	if deal.Status == "" {
		deal.Status = "lead"
	}
	if deal.Priority == "" {
		deal.Priority = "medium"
	}

	if err := validateDealRequest(&deal); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	if err := h.Store.CreateDeal(r.Context(), &deal); err != nil {
		log.Printf("create deal: %v", err)
		http.Error(w, "Failed to create deal", http.StatusInternalServerError)
		return
	}

	// Уведомление о новой сделке best-effort, ошибку не пробрасываем
	h.Notifier.Notify(r.Context(), notify.KindNewDeal, map[string]any{
		"dealId":     deal.ID,
		"clientName": deal.ClientName,
		"company":    deal.Company,
		"eventTitle": deal.EventTitle,
		"dealValue":  deal.DealValue,
	})

	resp := dealResponse{Deal: &deal}
	if deal.Status == "won" {
		project, created, err := h.provisionProject(r.Context(), &deal)
		if err != nil {
			// Сделка уже создана, провижининг проекта ее не откатывает
			log.Printf("provision project for deal %d: %v", deal.ID, err)
		} else {
			resp.ProjectCreated = &created
			resp.ProjectID = project.ID
			if created {
				h.notifyDealWon(r.Context(), &deal, project)
			}
		}
	}

	writeJSON(w, http.StatusOK, resp)
}

// validateDealRequest проверяет обязательные поля сделки
func validateDealRequest(d *db.Deal) error {
	if d.ClientName == "" || len(d.ClientName) > 200 {
		return errors.New("client_name is required and max length 200")
	}
	if d.ClientEmail == "" {
		return errors.New("client_email is required")
	}
	if d.Company == "" || len(d.Company) > 200 {
		return errors.New("company is required and max length 200")
	}
	if d.EventTitle == "" || len(d.EventTitle) > 300 {
		return errors.New("event_title is required and max length 300")
	}
	if d.EventDate == "" {
		return errors.New("event_date is required")
	}
	if d.EventLocation == "" {
		return errors.New("event_location is required")
	}
	if d.EventType == "" {
		return errors.New("event_type is required")
	}
	if !validDealStatuses[d.Status] {
		return errors.New("invalid status")
	}
	if !validDealPriorities[d.Priority] {
		return errors.New("invalid priority")
	}
	if d.DealValue < 0 {
		return errors.New("deal_value must not be negative")
	}
	return nil
}

// GetDealsHandler возвращает список сделок: ?search= или ?status=
func (h *Handler) GetDealsHandler(w http.ResponseWriter, r *http.Request) {
	params := parsePaginationParams(r)

	if term := r.URL.Query().Get("search"); term != "" {
		deals, err := h.Store.SearchDeals(r.Context(), term, params.Limit, params.Offset)
		if err != nil {
			log.Printf("search deals: %v", err)
			http.Error(w, "Failed to search deals", http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusOK, deals)
		return
	}

	var statuses []string
	for _, s := range r.URL.Query()["status"] {
		if validDealStatuses[s] {
			statuses = append(statuses, s)
		}
	}

	deals, err := h.Store.GetDeals(r.Context(), statuses, params.Limit, params.Offset)
	if err != nil {
		log.Printf("get deals: %v", err)
		http.Error(w, "Failed to get deals", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, deals)
}

// GetDealHandler возвращает одну сделку по id
func (h *Handler) GetDealHandler(w http.ResponseWriter, r *http.Request) {
	dealID, err := strconv.Atoi(chi.URLParam(r, "dealId"))
	if err != nil || dealID <= 0 {
		http.Error(w, "Invalid dealId", http.StatusBadRequest)
		return
	}

	deal, err := h.Store.GetDeal(r.Context(), dealID)
	if err != nil {
		http.Error(w, "Deal not found", http.StatusNotFound)
		return
	}

	writeJSON(w, http.StatusOK, deal)
}

// ChangeDealStatusHandler обрабатывает PUT /api/deals/{dealId}/status.
// Переход в won создает Project (ровно один раз на сделку).
func (h *Handler) ChangeDealStatusHandler(w http.ResponseWriter, r *http.Request) {
	dealID, err := strconv.Atoi(chi.URLParam(r, "dealId"))
	if err != nil || dealID <= 0 {
		http.Error(w, "Invalid dealId", http.StatusBadRequest)
		return
	}

	var input struct {
		Status string `json:"status"`
	}
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		http.Error(w, "Invalid JSON", http.StatusBadRequest)
		return
	}
	defer r.Body.Close()

	if !validDealStatuses[input.Status] {
		http.Error(w, "Invalid status value", http.StatusBadRequest)
		return
	}

	deal, err := h.Store.UpdateDealStatus(r.Context(), dealID, input.Status)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			http.Error(w, "Deal not found", http.StatusNotFound)
			return
		}
		log.Printf("update deal %d status: %v", dealID, err)
		http.Error(w, "Failed to update status", http.StatusInternalServerError)
		return
	}

	resp := dealResponse{Deal: deal}
	if input.Status == "won" {
		project, created, err := h.provisionProject(r.Context(), deal)
		if err != nil {
			// Статус уже сменился; ошибка провижининга его не откатывает
			log.Printf("provision project for deal %d: %v", deal.ID, err)
		} else {
			resp.ProjectCreated = &created
			resp.ProjectID = project.ID
			if created {
				h.notifyDealWon(r.Context(), deal, project)
			}
		}
	}

	writeJSON(w, http.StatusOK, resp)
}

// provisionProject создает Project по выигранной сделке. Идемпотентно:
// повторный перевод сделки в won возвращает уже существующий проект.
// Гонку двух одновременных переходов решает unique-констрейнт на deal_id.
func (h *Handler) provisionProject(ctx context.Context, deal *db.Deal) (*db.Project, bool, error) {
	existing, err := h.Store.GetProjectByDeal(ctx, deal.ID)
	if err == nil {
		return existing, false, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, false, err
	}

	project := &db.Project{
		DealID:        deal.ID,
		ProjectName:   deal.EventTitle,
		ClientName:    deal.ClientName,
		ClientEmail:   deal.ClientEmail,
		Company:       deal.Company,
		EventTitle:    deal.EventTitle,
		EventDate:     deal.EventDate,
		EventLocation: deal.EventLocation,
		Budget:        deal.DealValue,
		Status:        "invoicing",
	}
	if err := h.Store.CreateProject(ctx, project); err != nil {
		if db.IsUniqueViolation(err) {
			existing, rerr := h.Store.GetProjectByDeal(ctx, deal.ID)
			if rerr != nil {
				return nil, false, rerr
			}
			return existing, false, nil
		}
		return nil, false, err
	}
	return project, true, nil
}

func (h *Handler) notifyDealWon(ctx context.Context, deal *db.Deal, project *db.Project) {
	h.Notifier.Notify(ctx, notify.KindDealWon, map[string]any{
		"dealId":     deal.ID,
		"projectId":  project.ID,
		"clientName": deal.ClientName,
		"company":    deal.Company,
		"dealValue":  deal.DealValue,
	})
}
