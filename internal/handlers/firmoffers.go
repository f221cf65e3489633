package handlers

import (
	"database/sql"
	"encoding/json"
	"errors"
	"io"
	"log"
	"math"
	"net/http"
	"strconv"
	"time"

	"bookings/db"
	"bookings/internal/notify"
	"bookings/internal/tokens"
	"bookings/models"

	"github.com/go-chi/chi/v5"
)

// daysRemaining считает дни до окончания холда (может быть отрицательным)
func daysRemaining(holdExpiresAt, now time.Time) int {
	return int(math.Ceil(holdExpiresAt.Sub(now).Hours() / 24))
}

// holdExpired: холд истек и предложение не подтверждено спикером
func holdExpired(o *db.FirmOffer, now time.Time) bool {
	return daysRemaining(o.HoldExpiresAt, now) < 0 && o.Status != "speaker_confirmed"
}

type firmOfferInput struct {
	ProposalID       *int                     `json:"proposal_id"`
	DealID           *int                     `json:"deal_id"`
	EventOverview    *models.EventOverview    `json:"event_overview"`
	SpeakerProgram   *models.SpeakerProgram   `json:"speaker_program"`
	FinancialDetails *models.FinancialDetails `json:"financial_details"`
	HoldExpiresAt    *time.Time               `json:"hold_expires_at"`
}

// CreateFirmOfferHandler обрабатывает POST /api/firm-offers.
// На один proposal существует не больше одного предложения: если оно уже
// есть, возвращаем его, а не создаем дубликат.
func (h *Handler) CreateFirmOfferHandler(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, 1048576)

	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "Failed to read request body", http.StatusBadRequest)
		return
	}
	defer r.Body.Close()

	var input firmOfferInput
	if err := json.Unmarshal(body, &input); err != nil {
		http.Error(w, "Invalid JSON format", http.StatusBadRequest)
		return
	}

	if input.ProposalID == nil && input.DealID == nil {
		http.Error(w, "proposal_id or deal_id is required", http.StatusBadRequest)
		return
	}

	if input.ProposalID != nil {
		existing, err := h.Store.GetFirmOfferByProposal(r.Context(), *input.ProposalID)
		if err == nil {
			writeJSON(w, http.StatusOK, existing)
			return
		}
		if !errors.Is(err, sql.ErrNoRows) {
			log.Printf("lookup firm offer by proposal %d: %v", *input.ProposalID, err)
			http.Error(w, "Failed to create firm offer", http.StatusInternalServerError)
			return
		}
	}

	offer := &db.FirmOffer{
		ProposalID:         input.ProposalID,
		DealID:             input.DealID,
		Status:             "draft",
		SpeakerAccessToken: tokens.NewOpaqueToken(),
	}
	if input.HoldExpiresAt != nil {
		offer.HoldExpiresAt = *input.HoldExpiresAt
	}
	if input.EventOverview != nil {
		offer.EventOverview = *input.EventOverview
	}
	if input.SpeakerProgram != nil {
		offer.SpeakerProgram = *input.SpeakerProgram
	}
	if input.FinancialDetails != nil {
		offer.FinancialDetails = *input.FinancialDetails
	}

	// Если клиент сразу передал данные мероприятия, предложение считается
	// поданным, а не черновиком
	if offer.EventOverview.EventName != "" {
		offer.Status = "submitted"
	}

	// Из сделки переносим данные мероприятия, если клиент их не заполнил
	if input.DealID != nil && offer.EventOverview.EventName == "" {
		deal, err := h.Store.GetDeal(r.Context(), *input.DealID)
		if err != nil {
			http.Error(w, "Deal not found", http.StatusNotFound)
			return
		}
		offer.EventOverview = models.EventOverview{
			EventName:      deal.EventTitle,
			EventDate:      deal.EventDate,
			EventLocation:  deal.EventLocation,
			Company:        deal.Company,
			BillingContact: deal.ClientName,
			BillingEmail:   deal.ClientEmail,
			BillingPhone:   deal.ClientPhone,
		}
		if offer.SpeakerProgram.RequestedSpeaker == "" {
			offer.SpeakerProgram.RequestedSpeaker = deal.SpeakerRequested
		}
	}

	if err := h.Store.CreateFirmOffer(r.Context(), offer); err != nil {
		// Проиграли гонку за proposal_id, перечитываем победителя
		if db.IsUniqueViolation(err) && input.ProposalID != nil {
			existing, rerr := h.Store.GetFirmOfferByProposal(r.Context(), *input.ProposalID)
			if rerr == nil {
				writeJSON(w, http.StatusOK, existing)
				return
			}
		}
		log.Printf("create firm offer: %v", err)
		http.Error(w, "Failed to create firm offer", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, offer)
}

// GetFirmOfferHandler возвращает предложение по id (админка)
func (h *Handler) GetFirmOfferHandler(w http.ResponseWriter, r *http.Request) {
	offerID, err := strconv.Atoi(chi.URLParam(r, "offerId"))
	if err != nil || offerID <= 0 {
		http.Error(w, "Invalid offerId", http.StatusBadRequest)
		return
	}

	offer, err := h.Store.GetFirmOffer(r.Context(), offerID)
	if err != nil {
		http.Error(w, "Firm offer not found", http.StatusNotFound)
		return
	}

	writeJSON(w, http.StatusOK, offer)
}

// SubmitFirmOfferHandler обрабатывает POST /api/firm-offers/{offerId}/submit.
// По истекшему холду подача запрещена: клиенту нужно запросить новую квоту.
func (h *Handler) SubmitFirmOfferHandler(w http.ResponseWriter, r *http.Request) {
	offerID, err := strconv.Atoi(chi.URLParam(r, "offerId"))
	if err != nil || offerID <= 0 {
		http.Error(w, "Invalid offerId", http.StatusBadRequest)
		return
	}

	var input firmOfferInput
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		http.Error(w, "Invalid JSON format", http.StatusBadRequest)
		return
	}
	defer r.Body.Close()

	offer, err := h.Store.GetFirmOffer(r.Context(), offerID)
	if err != nil {
		http.Error(w, "Firm offer not found", http.StatusNotFound)
		return
	}

	if holdExpired(offer, h.Now()) {
		http.Error(w, "Hold expired, please request a new quote", http.StatusGone)
		return
	}

	if input.EventOverview != nil {
		offer.EventOverview = *input.EventOverview
	}
	if input.SpeakerProgram != nil {
		offer.SpeakerProgram = *input.SpeakerProgram
	}
	if input.FinancialDetails != nil {
		offer.FinancialDetails = *input.FinancialDetails
	}

	if offer.EventOverview.EventName == "" {
		http.Error(w, "event_overview.eventName is required", http.StatusBadRequest)
		return
	}

	if err := h.Store.SubmitFirmOffer(r.Context(), offer); err != nil {
		log.Printf("submit firm offer %d: %v", offerID, err)
		http.Error(w, "Failed to submit firm offer", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, offer)
}

// SendToSpeakerHandler обрабатывает POST /api/firm-offers/{offerId}/send-to-speaker.
// Смена статуса коммитится до отправки письма; неудачная отправка статус
// не откатывает.
func (h *Handler) SendToSpeakerHandler(w http.ResponseWriter, r *http.Request) {
	offerID, err := strconv.Atoi(chi.URLParam(r, "offerId"))
	if err != nil || offerID <= 0 {
		http.Error(w, "Invalid offerId", http.StatusBadRequest)
		return
	}

	var input struct {
		SpeakerEmail string `json:"speaker_email"`
		SpeakerName  string `json:"speaker_name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		http.Error(w, "Invalid JSON format", http.StatusBadRequest)
		return
	}
	defer r.Body.Close()

	if input.SpeakerEmail == "" {
		http.Error(w, "speaker_email is required", http.StatusBadRequest)
		return
	}

	offer, err := h.Store.GetFirmOffer(r.Context(), offerID)
	if err != nil {
		http.Error(w, "Firm offer not found", http.StatusNotFound)
		return
	}

	if offer.SpeakerAccessToken == "" {
		http.Error(w, "Firm offer has no speaker access token", http.StatusConflict)
		return
	}

	offer, err = h.Store.MarkFirmOfferSent(r.Context(), offerID)
	if err != nil {
		log.Printf("mark firm offer %d sent: %v", offerID, err)
		http.Error(w, "Failed to update firm offer", http.StatusInternalServerError)
		return
	}

	h.Notifier.Notify(r.Context(), notify.KindFirmOfferInvite, map[string]any{
		"offerId":      offer.ID,
		"speakerEmail": input.SpeakerEmail,
		"speakerName":  input.SpeakerName,
		"reviewUrl":    notify.ReviewURL(h.BaseURL, offer.SpeakerAccessToken),
		"eventName":    offer.EventOverview.EventName,
		"speakerFee":   offer.FinancialDetails.SpeakerFee,
	})

	writeJSON(w, http.StatusOK, offer)
}

type speakerOfferView struct {
	Offer         *db.FirmOffer `json:"offer,omitempty"`
	HoldExpired   bool          `json:"hold_expired"`
	DaysRemaining int           `json:"days_remaining"`
	Message       string        `json:"message,omitempty"`
}

// GetFirmOfferByTokenHandler обрабатывает GET /api/firm-offer/{token}.
// Токен заменяет аутентификацию на спикерской странице. По истекшему
// холду форма не отдается.
func (h *Handler) GetFirmOfferByTokenHandler(w http.ResponseWriter, r *http.Request) {
	token := chi.URLParam(r, "token")

	offer, err := h.Store.GetFirmOfferBySpeakerToken(r.Context(), token)
	if err != nil {
		http.Error(w, "Firm offer not found", http.StatusNotFound)
		return
	}

	now := h.Now()
	if holdExpired(offer, now) {
		writeJSON(w, http.StatusOK, speakerOfferView{
			HoldExpired:   true,
			DaysRemaining: daysRemaining(offer.HoldExpiresAt, now),
			Message:       "This hold has expired. Please contact us to request a new quote.",
		})
		return
	}

	writeJSON(w, http.StatusOK, speakerOfferView{
		Offer:         offer,
		DaysRemaining: daysRemaining(offer.HoldExpiresAt, now),
	})
}

// SpeakerDecisionHandler обрабатывает POST /api/firm-offer/{token}/decision.
// Решение спикера отражается на привязанной сделке:
// confirm -> negotiation, decline -> lost.
func (h *Handler) SpeakerDecisionHandler(w http.ResponseWriter, r *http.Request) {
	token := chi.URLParam(r, "token")

	var input struct {
		Decision string `json:"decision"`
	}
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		http.Error(w, "Invalid JSON format", http.StatusBadRequest)
		return
	}
	defer r.Body.Close()

	if input.Decision != "confirm" && input.Decision != "decline" {
		http.Error(w, "decision must be confirm or decline", http.StatusBadRequest)
		return
	}

	offer, err := h.Store.GetFirmOfferBySpeakerToken(r.Context(), token)
	if err != nil {
		http.Error(w, "Firm offer not found", http.StatusNotFound)
		return
	}

	if holdExpired(offer, h.Now()) {
		http.Error(w, "Hold expired, please request a new quote", http.StatusGone)
		return
	}

	status := "speaker_confirmed"
	dealStatus := "negotiation"
	if input.Decision == "decline" {
		status = "declined"
		dealStatus = "lost"
	}

	// Привязку к сделке берем из исходного предложения до перезаписи offer
	dealID := offer.DealID

	offer, err = h.Store.SetFirmOfferDecision(r.Context(), offer.ID, status)
	if err != nil {
		log.Printf("set firm offer %d decision: %v", offer.ID, err)
		http.Error(w, "Failed to record decision", http.StatusInternalServerError)
		return
	}

	if dealID != nil {
		if _, err := h.Store.UpdateDealStatus(r.Context(), *dealID, dealStatus); err != nil {
			// Решение уже записано; статус сделки подтянется вручную
			log.Printf("update deal %d after speaker decision: %v", *dealID, err)
		}
	}

	writeJSON(w, http.StatusOK, offer)
}
