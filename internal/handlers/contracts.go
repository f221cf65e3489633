package handlers

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strconv"
	"strings"

	"bookings/db"
	"bookings/internal/notify"
	"bookings/internal/tokens"

	"github.com/go-chi/chi/v5"
)

type contractInput struct {
	DealID            *int              `json:"deal_id"`
	TemplateID        string            `json:"template_id"`
	Values            map[string]string `json:"values"`
	SpeakerName       string            `json:"speaker_name"`
	SpeakerEmail      string            `json:"speaker_email"`
	SpeakerFee        float64           `json:"speaker_fee"`
	PaymentTerms      string            `json:"payment_terms"`
	AdditionalTerms   string            `json:"additional_terms"`
	ClientSignerName  string            `json:"client_signer_name"`
	ClientSignerEmail string            `json:"client_signer_email"`
	CreatedBy         string            `json:"created_by"`
	SuppressSend      bool              `json:"suppress_send"`
}

// CreateContractHandler обрабатывает POST /api/contracts в трех режимах:
// ?preview=true (чистый рендер без записи), template_id+values, deal_id.
func (h *Handler) CreateContractHandler(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, 1048576)

	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "Failed to read request body", http.StatusBadRequest)
		return
	}
	defer r.Body.Close()

	var input contractInput
	if err := json.Unmarshal(body, &input); err != nil {
		http.Error(w, "Invalid JSON format", http.StatusBadRequest)
		return
	}

	if r.URL.Query().Get("preview") == "true" {
		h.previewContract(w, r, &input)
		return
	}

	var contract *db.Contract
	switch {
	case input.TemplateID != "":
		contract = h.contractFromTemplate(&input)
	case input.DealID != nil:
		deal, err := h.Store.GetDeal(r.Context(), *input.DealID)
		if err != nil {
			http.Error(w, "Deal not found", http.StatusNotFound)
			return
		}
		// Договор создается только по выигранной сделке
		if deal.Status != "won" {
			http.Error(w, "Deal must be won before creating a contract", http.StatusConflict)
			return
		}
		if input.ClientSignerName == "" || input.ClientSignerEmail == "" {
			http.Error(w, "client_signer_name and client_signer_email are required", http.StatusBadRequest)
			return
		}
		contract = h.contractFromDeal(deal, &input)
	default:
		http.Error(w, "deal_id or template_id is required", http.StatusBadRequest)
		return
	}

	if err := h.Store.CreateContract(r.Context(), contract); err != nil {
		log.Printf("create contract: %v", err)
		http.Error(w, "Failed to create contract", http.StatusInternalServerError)
		return
	}

	if !input.SuppressSend {
		h.sendSigningEmails(r.Context(), contract)
		contract, err = h.Store.MarkContractSent(r.Context(), contract.ID)
		if err != nil {
			log.Printf("mark contract sent: %v", err)
			http.Error(w, "Failed to update contract", http.StatusInternalServerError)
			return
		}
	}

	writeJSON(w, http.StatusOK, contract)
}

// previewContract: чистый рендер, ничего не пишет в базу
func (h *Handler) previewContract(w http.ResponseWriter, r *http.Request, input *contractInput) {
	if input.DealID == nil {
		http.Error(w, "deal_id is required for preview", http.StatusBadRequest)
		return
	}
	deal, err := h.Store.GetDeal(r.Context(), *input.DealID)
	if err != nil {
		http.Error(w, "Deal not found", http.StatusNotFound)
		return
	}

	contract := h.contractFromDeal(deal, input)
	writeJSON(w, http.StatusOK, map[string]any{
		"preview": true,
		"content": renderContractContent(contract),
	})
}

// contractFromDeal делает снапшот данных сделки: последующие изменения
// сделки выпущенный договор не трогают.
func (h *Handler) contractFromDeal(deal *db.Deal, input *contractInput) *db.Contract {
	now := h.Now()
	speakerFee := input.SpeakerFee
	if speakerFee == 0 {
		speakerFee = deal.DealValue
	}
	paymentTerms := input.PaymentTerms
	if paymentTerms == "" {
		paymentTerms = "50% deposit due on signing, balance due 30 days before the event"
	}
	return &db.Contract{
		ContractNumber:      tokens.NewContractNumber(now),
		DealID:              &deal.ID,
		ClientName:          deal.ClientName,
		ClientEmail:         deal.ClientEmail,
		ClientCompany:       deal.Company,
		ClientSignerName:    input.ClientSignerName,
		ClientSignerEmail:   input.ClientSignerEmail,
		SpeakerName:         input.SpeakerName,
		SpeakerEmail:        input.SpeakerEmail,
		SpeakerFee:          speakerFee,
		EventTitle:          deal.EventTitle,
		EventDate:           deal.EventDate,
		EventLocation:       deal.EventLocation,
		TotalAmount:         deal.DealValue,
		PaymentTerms:        paymentTerms,
		AdditionalTerms:     input.AdditionalTerms,
		Status:              "draft",
		ClientSigningToken:  tokens.NewOpaqueToken(),
		SpeakerSigningToken: tokens.NewOpaqueToken(),
		TokensExpireAt:      now.AddDate(0, 0, 30),
		CreatedBy:           input.CreatedBy,
	}
}

// contractFromTemplate собирает договор из пары шаблон+значения.
// Внутри значения раскладываются в ту же Deal-образную структуру, что и при
// создании по сделке; сама сделка при этом не создается.
func (h *Handler) contractFromTemplate(input *contractInput) *db.Contract {
	v := input.Values
	fee, _ := strconv.ParseFloat(v["speaker_fee"], 64)
	total, _ := strconv.ParseFloat(v["total_amount"], 64)
	if total == 0 {
		total = fee
	}

	deal := &db.Deal{
		ClientName:    v["client_name"],
		ClientEmail:   v["client_email"],
		Company:       v["company"],
		EventTitle:    v["event_title"],
		EventDate:     v["event_date"],
		EventLocation: v["event_location"],
		DealValue:     total,
	}

	derived := *input
	if derived.SpeakerName == "" {
		derived.SpeakerName = v["speaker_name"]
	}
	if derived.SpeakerEmail == "" {
		derived.SpeakerEmail = v["speaker_email"]
	}
	if derived.SpeakerFee == 0 {
		derived.SpeakerFee = fee
	}
	if derived.ClientSignerName == "" {
		derived.ClientSignerName = v["client_signer_name"]
	}
	if derived.ClientSignerEmail == "" {
		derived.ClientSignerEmail = v["client_signer_email"]
	}
	if derived.PaymentTerms == "" {
		derived.PaymentTerms = v["payment_terms"]
	}
	if derived.AdditionalTerms == "" {
		derived.AdditionalTerms = v["additional_terms"]
	}

	contract := h.contractFromDeal(deal, &derived)
	contract.DealID = nil
	contract.TemplateID = input.TemplateID
	return contract
}

// renderContractContent рендерит текст соглашения по снапшоту договора
func renderContractContent(c *db.Contract) string {
	var b strings.Builder
	fmt.Fprintf(&b, "SPEAKER ENGAGEMENT AGREEMENT %s\n\n", c.ContractNumber)
	fmt.Fprintf(&b, "Client: %s (%s)\n", c.ClientName, c.ClientCompany)
	fmt.Fprintf(&b, "Authorized signer: %s <%s>\n", c.ClientSignerName, c.ClientSignerEmail)
	fmt.Fprintf(&b, "Speaker: %s <%s>\n\n", c.SpeakerName, c.SpeakerEmail)
	fmt.Fprintf(&b, "Event: %s\n", c.EventTitle)
	fmt.Fprintf(&b, "Date: %s\n", c.EventDate)
	fmt.Fprintf(&b, "Location: %s\n\n", c.EventLocation)
	fmt.Fprintf(&b, "Speaker fee: $%.2f\n", c.SpeakerFee)
	fmt.Fprintf(&b, "Total amount: $%.2f\n", c.TotalAmount)
	fmt.Fprintf(&b, "Payment terms: %s\n", c.PaymentTerms)
	if c.AdditionalTerms != "" {
		fmt.Fprintf(&b, "\nAdditional terms:\n%s\n", c.AdditionalTerms)
	}
	return b.String()
}

// sendSigningEmails рассылает приглашения на подпись обеим сторонам.
// Отправки независимы: неудача одной не блокирует другую. Уже подписавшей
// стороне приглашение не шлется.
func (h *Handler) sendSigningEmails(ctx context.Context, c *db.Contract) {
	if c.SpeakerSigningToken != "" && c.SpeakerEmail != "" && c.SpeakerSignedAt == nil {
		h.Notifier.Notify(ctx, notify.KindContractSigningSpeaker, map[string]any{
			"contractId":     c.ID,
			"contractNumber": c.ContractNumber,
			"to":             c.SpeakerEmail,
			"signingUrl":     notify.SigningURL(h.BaseURL, c.SpeakerSigningToken),
		})
	}
	if c.ClientSigningToken != "" && c.ClientSignerEmail != "" && c.ClientSignedAt == nil {
		payload := map[string]any{
			"contractId":     c.ID,
			"contractNumber": c.ContractNumber,
			"to":             c.ClientSignerEmail,
			"signingUrl":     notify.SigningURL(h.BaseURL, c.ClientSigningToken),
		}
		// Биллинговый контакт в копии, если подписант другой человек
		if c.ClientEmail != "" && c.ClientEmail != c.ClientSignerEmail {
			payload["cc"] = c.ClientEmail
		}
		h.Notifier.Notify(ctx, notify.KindContractSigningClient, payload)
	}
}

// GetContractsHandler возвращает список договоров
func (h *Handler) GetContractsHandler(w http.ResponseWriter, r *http.Request) {
	params := parsePaginationParams(r)

	contracts, err := h.Store.GetContracts(r.Context(), params.Limit, params.Offset)
	if err != nil {
		log.Printf("get contracts: %v", err)
		http.Error(w, "Failed to get contracts", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, contracts)
}

// GetContractHandler возвращает договор по id
func (h *Handler) GetContractHandler(w http.ResponseWriter, r *http.Request) {
	contractID, err := strconv.Atoi(chi.URLParam(r, "contractId"))
	if err != nil || contractID <= 0 {
		http.Error(w, "Invalid contractId", http.StatusBadRequest)
		return
	}

	contract, err := h.Store.GetContract(r.Context(), contractID)
	if err != nil {
		http.Error(w, "Contract not found", http.StatusNotFound)
		return
	}

	writeJSON(w, http.StatusOK, contract)
}

// SendContractHandler обрабатывает POST /api/contracts/{contractId}/send
func (h *Handler) SendContractHandler(w http.ResponseWriter, r *http.Request) {
	contractID, err := strconv.Atoi(chi.URLParam(r, "contractId"))
	if err != nil || contractID <= 0 {
		http.Error(w, "Invalid contractId", http.StatusBadRequest)
		return
	}

	contract, err := h.Store.GetContract(r.Context(), contractID)
	if err != nil {
		http.Error(w, "Contract not found", http.StatusNotFound)
		return
	}

	h.sendSigningEmails(r.Context(), contract)

	contract, err = h.Store.MarkContractSent(r.Context(), contractID)
	if err != nil {
		log.Printf("mark contract %d sent: %v", contractID, err)
		http.Error(w, "Failed to update contract", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, contract)
}

type signingStateView struct {
	Valid    bool    `json:"valid"`
	Reason   string  `json:"reason,omitempty"`
	Party    string  `json:"party,omitempty"`
	Number   string  `json:"contract_number,omitempty"`
	Content  string  `json:"content,omitempty"`
	SignedAt *string `json:"signed_at,omitempty"`
}

// GetSigningStateHandler обрабатывает GET /api/contract/sign/{token}.
// Чужой или использованный токен дает состояние "invalid or expired link",
// а не форму подписи.
func (h *Handler) GetSigningStateHandler(w http.ResponseWriter, r *http.Request) {
	token := chi.URLParam(r, "token")

	contract, party, err := h.Store.GetContractBySigningToken(r.Context(), token)
	if err != nil {
		writeJSON(w, http.StatusNotFound, signingStateView{Valid: false, Reason: "invalid or expired link"})
		return
	}

	signedAt := contract.ClientSignedAt
	if party == "speaker" {
		signedAt = contract.SpeakerSignedAt
	}
	if signedAt != nil {
		ts := signedAt.Format("2006-01-02 15:04:05")
		writeJSON(w, http.StatusOK, signingStateView{Valid: false, Reason: "already signed", SignedAt: &ts})
		return
	}
	if h.Now().After(contract.TokensExpireAt) {
		writeJSON(w, http.StatusOK, signingStateView{Valid: false, Reason: "invalid or expired link"})
		return
	}

	writeJSON(w, http.StatusOK, signingStateView{
		Valid:   true,
		Party:   party,
		Number:  contract.ContractNumber,
		Content: renderContractContent(contract),
	})
}

// SignContractHandler обрабатывает POST /api/contract/sign/{token}.
// Подпись ставится атомарным условным UPDATE: повторное использование
// токена (в том числе гонка двух запросов) отклоняется.
func (h *Handler) SignContractHandler(w http.ResponseWriter, r *http.Request) {
	token := chi.URLParam(r, "token")

	var input struct {
		Signature  string `json:"signature"`
		SignerName string `json:"signer_name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		http.Error(w, "Invalid JSON format", http.StatusBadRequest)
		return
	}
	defer r.Body.Close()

	if input.Signature == "" {
		http.Error(w, "signature is required", http.StatusBadRequest)
		return
	}

	_, party, err := h.Store.GetContractBySigningToken(r.Context(), token)
	if err != nil {
		http.Error(w, "Invalid or expired signing token", http.StatusUnauthorized)
		return
	}

	contract, err := h.Store.SignContract(r.Context(), party, token, input.SignerName, input.Signature)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			// Токен уже использован или истек
			http.Error(w, "Invalid or expired signing token", http.StatusUnauthorized)
			return
		}
		log.Printf("sign contract (%s): %v", party, err)
		http.Error(w, "Failed to record signature", http.StatusInternalServerError)
		return
	}

	if contract.Status == "fully_executed" {
		h.notifyContractCompleted(r.Context(), contract)
	}

	writeJSON(w, http.StatusOK, contract)
}

// notifyContractCompleted шлет письма о полном подписании всем сторонам:
// клиенту, подписанту (если это другой человек) и спикеру.
func (h *Handler) notifyContractCompleted(ctx context.Context, c *db.Contract) {
	var recipients []string
	if c.ClientEmail != "" {
		recipients = append(recipients, c.ClientEmail)
	}
	if c.ClientSignerEmail != "" && c.ClientSignerEmail != c.ClientEmail {
		recipients = append(recipients, c.ClientSignerEmail)
	}
	if c.SpeakerEmail != "" {
		recipients = append(recipients, c.SpeakerEmail)
	}
	for _, to := range recipients {
		h.Notifier.Notify(ctx, notify.KindContractCompleted, map[string]any{
			"contractId":     c.ID,
			"contractNumber": c.ContractNumber,
			"to":             to,
			"eventTitle":     c.EventTitle,
			"totalAmount":    c.TotalAmount,
		})
	}
}
