package handlers_test

import (
	"context"
	"database/sql"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"bookings/db"
	"bookings/internal/handlers"
	"bookings/internal/handlers/testutils"
	"bookings/internal/notify"
	"bookings/internal/tokens"

	"github.com/stretchr/testify/require"
)

// MockStorage реализует StorageInterface
type MockStorage struct {
	CreateDealFunc       func(ctx context.Context, deal *db.Deal) error
	GetDealFunc          func(ctx context.Context, dealID int) (*db.Deal, error)
	UpdateDealStatusFunc func(ctx context.Context, dealID int, status string) (*db.Deal, error)

	GetFirmOfferFunc           func(ctx context.Context, offerID int) (*db.FirmOffer, error)
	GetFirmOfferByProposalFunc func(ctx context.Context, proposalID int) (*db.FirmOffer, error)
	GetFirmOfferByTokenFunc    func(ctx context.Context, token string) (*db.FirmOffer, error)
	CreateFirmOfferFunc        func(ctx context.Context, offer *db.FirmOffer) error

	CreateContractFunc            func(ctx context.Context, contract *db.Contract) error
	GetContractFunc               func(ctx context.Context, contractID int) (*db.Contract, error)
	MarkContractSentFunc          func(ctx context.Context, contractID int) (*db.Contract, error)
	GetContractBySigningTokenFunc func(ctx context.Context, token string) (*db.Contract, string, error)
	SignContractFunc              func(ctx context.Context, party, token, signerName, signature string) (*db.Contract, error)

	CreateProjectFunc    func(ctx context.Context, project *db.Project) error
	GetProjectByDealFunc func(ctx context.Context, dealID int) (*db.Project, error)
}

func (m *MockStorage) CreateDeal(ctx context.Context, deal *db.Deal) error {
	if m.CreateDealFunc != nil {
		return m.CreateDealFunc(ctx, deal)
	}
	deal.ID = 1
	deal.CreatedAt = time.Now()
	return nil
}

func (m *MockStorage) GetDeal(ctx context.Context, dealID int) (*db.Deal, error) {
	if m.GetDealFunc != nil {
		return m.GetDealFunc(ctx, dealID)
	}
	return sampleDeal(dealID, "won"), nil
}

func (m *MockStorage) UpdateDealStatus(ctx context.Context, dealID int, status string) (*db.Deal, error) {
	if m.UpdateDealStatusFunc != nil {
		return m.UpdateDealStatusFunc(ctx, dealID, status)
	}
	return sampleDeal(dealID, status), nil
}

func (m *MockStorage) GetDeals(ctx context.Context, statuses []string, limit, offset int) ([]db.Deal, error) {
	return []db.Deal{*sampleDeal(1, "lead")}, nil
}

func (m *MockStorage) SearchDeals(ctx context.Context, term string, limit, offset int) ([]db.Deal, error) {
	return []db.Deal{*sampleDeal(2, "qualified")}, nil
}

func (m *MockStorage) CreateFirmOffer(ctx context.Context, offer *db.FirmOffer) error {
	if m.CreateFirmOfferFunc != nil {
		return m.CreateFirmOfferFunc(ctx, offer)
	}
	offer.ID = 10
	if offer.HoldExpiresAt.IsZero() {
		offer.HoldExpiresAt = time.Now().AddDate(0, 0, 14)
	}
	return nil
}

func (m *MockStorage) GetFirmOffer(ctx context.Context, offerID int) (*db.FirmOffer, error) {
	if m.GetFirmOfferFunc != nil {
		return m.GetFirmOfferFunc(ctx, offerID)
	}
	return sampleOffer(offerID, "submitted"), nil
}

func (m *MockStorage) GetFirmOfferByProposal(ctx context.Context, proposalID int) (*db.FirmOffer, error) {
	if m.GetFirmOfferByProposalFunc != nil {
		return m.GetFirmOfferByProposalFunc(ctx, proposalID)
	}
	return nil, sql.ErrNoRows
}

func (m *MockStorage) GetFirmOfferBySpeakerToken(ctx context.Context, token string) (*db.FirmOffer, error) {
	if m.GetFirmOfferByTokenFunc != nil {
		return m.GetFirmOfferByTokenFunc(ctx, token)
	}
	return nil, sql.ErrNoRows
}

func (m *MockStorage) SubmitFirmOffer(ctx context.Context, offer *db.FirmOffer) error {
	// Повторяет семантику стораджа: подтверждение спикера не перетирается
	if offer.Status != "speaker_confirmed" {
		offer.Status = "submitted"
	}
	if offer.SubmittedAt == nil {
		now := time.Now()
		offer.SubmittedAt = &now
	}
	return nil
}

func (m *MockStorage) MarkFirmOfferSent(ctx context.Context, offerID int) (*db.FirmOffer, error) {
	o := sampleOffer(offerID, "sent_to_speaker")
	now := time.Now()
	o.SentToSpeakerAt = &now
	return o, nil
}

func (m *MockStorage) SetFirmOfferDecision(ctx context.Context, offerID int, status string) (*db.FirmOffer, error) {
	return sampleOffer(offerID, status), nil
}

func (m *MockStorage) CreateContract(ctx context.Context, contract *db.Contract) error {
	if m.CreateContractFunc != nil {
		return m.CreateContractFunc(ctx, contract)
	}
	contract.ID = 100
	return nil
}

func (m *MockStorage) GetContract(ctx context.Context, contractID int) (*db.Contract, error) {
	if m.GetContractFunc != nil {
		return m.GetContractFunc(ctx, contractID)
	}
	return sampleContract(contractID, "draft"), nil
}

func (m *MockStorage) GetContracts(ctx context.Context, limit, offset int) ([]db.Contract, error) {
	return []db.Contract{*sampleContract(100, "sent")}, nil
}

func (m *MockStorage) GetContractBySigningToken(ctx context.Context, token string) (*db.Contract, string, error) {
	if m.GetContractBySigningTokenFunc != nil {
		return m.GetContractBySigningTokenFunc(ctx, token)
	}
	return nil, "", sql.ErrNoRows
}

func (m *MockStorage) MarkContractSent(ctx context.Context, contractID int) (*db.Contract, error) {
	if m.MarkContractSentFunc != nil {
		return m.MarkContractSentFunc(ctx, contractID)
	}
	return sampleContract(contractID, "sent"), nil
}

func (m *MockStorage) SignContract(ctx context.Context, party, token, signerName, signature string) (*db.Contract, error) {
	if m.SignContractFunc != nil {
		return m.SignContractFunc(ctx, party, token, signerName, signature)
	}
	return nil, sql.ErrNoRows
}

func (m *MockStorage) CreateProject(ctx context.Context, project *db.Project) error {
	if m.CreateProjectFunc != nil {
		return m.CreateProjectFunc(ctx, project)
	}
	project.ID = 50
	return nil
}

func (m *MockStorage) GetProjectByDeal(ctx context.Context, dealID int) (*db.Project, error) {
	if m.GetProjectByDealFunc != nil {
		return m.GetProjectByDealFunc(ctx, dealID)
	}
	return nil, sql.ErrNoRows
}

func sampleDeal(id int, status string) *db.Deal {
	return &db.Deal{
		ID:            id,
		ClientName:    "Anna Petrova",
		ClientEmail:   "anna@acme.example",
		Company:       "Acme Corp",
		EventTitle:    "Annual Sales Kickoff",
		EventDate:     "2026-11-05",
		EventLocation: "Berlin",
		EventType:     "conference",
		DealValue:     25000,
		Status:        status,
		Priority:      "high",
	}
}

func sampleOffer(id int, status string) *db.FirmOffer {
	o := &db.FirmOffer{
		ID:                 id,
		Status:             status,
		SpeakerAccessToken: "speaker-token-abc",
		HoldExpiresAt:      time.Now().AddDate(0, 0, 10),
	}
	o.EventOverview.EventName = "Annual Sales Kickoff"
	o.FinancialDetails.SpeakerFee = 12000
	return o
}

func sampleContract(id int, status string) *db.Contract {
	return &db.Contract{
		ID:                  id,
		ContractNumber:      "CNT-2026-ABCDEFGHI",
		ClientName:          "Anna Petrova",
		ClientEmail:         "anna@acme.example",
		ClientSignerName:    "Boris Ivanov",
		ClientSignerEmail:   "boris@acme.example",
		SpeakerName:         "Dr. Jane Speaker",
		SpeakerEmail:        "jane@speakers.example",
		SpeakerFee:          12000,
		EventTitle:          "Annual Sales Kickoff",
		TotalAmount:         25000,
		Status:              status,
		ClientSigningToken:  "client-sign-token",
		SpeakerSigningToken: "speaker-sign-token",
		TokensExpireAt:      time.Now().AddDate(0, 0, 30),
	}
}

// mockNotifier запоминает отправленные уведомления
type mockNotifier struct {
	mu    sync.Mutex
	sent  []string
	fails bool
}

func (m *mockNotifier) Notify(ctx context.Context, kind string, payload map[string]any) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, kind)
	return !m.fails
}

func (m *mockNotifier) count(kind string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, k := range m.sent {
		if k == kind {
			n++
		}
	}
	return n
}

func newTestHandler(store *MockStorage) (*handlers.Handler, *mockNotifier) {
	n := &mockNotifier{}
	h := handlers.NewHandler(store, n, tokens.NewService("test-secret"), "http://booking.example")
	h.AdminEmail = "admin@agency.example"
	h.AdminPassword = "secret"
	return h, n
}

func TestCreateDealHandler(t *testing.T) {
	handler, notifier := newTestHandler(&MockStorage{})

	reqBody := `{
        "client_name": "Anna Petrova",
        "client_email": "anna@acme.example",
        "company": "Acme Corp",
        "event_title": "Annual Sales Kickoff",
        "event_date": "2026-11-05",
        "event_location": "Berlin",
        "event_type": "conference",
        "deal_value": 25000
    }`
	req := httptest.NewRequest(http.MethodPost, "/api/deals", strings.NewReader(reqBody))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()

	handler.CreateDealHandler(w, req)

	res := w.Result()
	defer res.Body.Close()
	body, err := io.ReadAll(res.Body)
	require.NoError(t, err)

	require.Equal(t, http.StatusOK, res.StatusCode)
	require.Contains(t, string(body), "Anna Petrova")
	// Дефолтные статус и приоритет
	require.Contains(t, string(body), `"status":"lead"`)
	require.Contains(t, string(body), `"priority":"medium"`)
	// Для невыигранной сделки поля проекта в ответе нет
	require.NotContains(t, string(body), "projectCreated")
	require.Equal(t, 1, notifier.count(notify.KindNewDeal))
	require.Equal(t, 0, notifier.count(notify.KindDealWon))
}

func TestCreateDealHandlerValidation(t *testing.T) {
	handler, _ := newTestHandler(&MockStorage{})

	reqBody := `{"client_name": "Anna Petrova"}`
	req := httptest.NewRequest(http.MethodPost, "/api/deals", strings.NewReader(reqBody))
	w := httptest.NewRecorder()

	handler.CreateDealHandler(w, req)

	res := w.Result()
	defer res.Body.Close()
	body, err := io.ReadAll(res.Body)
	require.NoError(t, err)

	require.Equal(t, http.StatusBadRequest, res.StatusCode)
	require.Contains(t, string(body), "client_email is required")
}

func TestCreateDealHandlerWonProvisionsProject(t *testing.T) {
	handler, notifier := newTestHandler(&MockStorage{})

	reqBody := `{
        "client_name": "Anna Petrova",
        "client_email": "anna@acme.example",
        "company": "Acme Corp",
        "event_title": "Annual Sales Kickoff",
        "event_date": "2026-11-05",
        "event_location": "Berlin",
        "event_type": "conference",
        "deal_value": 25000,
        "status": "won"
    }`
	req := httptest.NewRequest(http.MethodPost, "/api/deals", strings.NewReader(reqBody))
	w := httptest.NewRecorder()

	handler.CreateDealHandler(w, req)

	res := w.Result()
	defer res.Body.Close()
	body, err := io.ReadAll(res.Body)
	require.NoError(t, err)

	require.Equal(t, http.StatusOK, res.StatusCode)
	require.Contains(t, string(body), `"projectCreated":true`)
	require.Contains(t, string(body), `"projectId":50`)
	require.Equal(t, 1, notifier.count(notify.KindDealWon))
}

func TestChangeDealStatusHandlerWon(t *testing.T) {
	var createdProject *db.Project
	mockStore := &MockStorage{
		CreateProjectFunc: func(ctx context.Context, project *db.Project) error {
			project.ID = 77
			createdProject = project
			return nil
		},
	}
	handler, notifier := newTestHandler(mockStore)

	req := httptest.NewRequest(http.MethodPut, "/api/deals/5/status", strings.NewReader(`{"status":"won"}`))
	req = testutils.WithChiURLParams(req, map[string]string{"dealId": "5"})
	w := httptest.NewRecorder()

	handler.ChangeDealStatusHandler(w, req)

	res := w.Result()
	defer res.Body.Close()
	body, err := io.ReadAll(res.Body)
	require.NoError(t, err)

	require.Equal(t, http.StatusOK, res.StatusCode)
	require.Contains(t, string(body), `"projectCreated":true`)
	require.NotNil(t, createdProject)
	require.Equal(t, 5, createdProject.DealID)
	require.Equal(t, "invoicing", createdProject.Status)
	require.Equal(t, float64(25000), createdProject.Budget)
	require.Equal(t, 1, notifier.count(notify.KindDealWon))
}

// Повторный перевод в won не плодит проекты и не шлет второе письмо
func TestChangeDealStatusHandlerWonIdempotent(t *testing.T) {
	mockStore := &MockStorage{
		GetProjectByDealFunc: func(ctx context.Context, dealID int) (*db.Project, error) {
			return &db.Project{ID: 50, DealID: dealID, Status: "invoicing"}, nil
		},
	}
	handler, notifier := newTestHandler(mockStore)

	req := httptest.NewRequest(http.MethodPut, "/api/deals/5/status", strings.NewReader(`{"status":"won"}`))
	req = testutils.WithChiURLParams(req, map[string]string{"dealId": "5"})
	w := httptest.NewRecorder()

	handler.ChangeDealStatusHandler(w, req)

	res := w.Result()
	defer res.Body.Close()
	body, err := io.ReadAll(res.Body)
	require.NoError(t, err)

	require.Equal(t, http.StatusOK, res.StatusCode)
	require.Contains(t, string(body), `"projectCreated":false`)
	require.Contains(t, string(body), `"projectId":50`)
	require.Equal(t, 0, notifier.count(notify.KindDealWon))
}

func TestChangeDealStatusHandlerNotFound(t *testing.T) {
	mockStore := &MockStorage{
		UpdateDealStatusFunc: func(ctx context.Context, dealID int, status string) (*db.Deal, error) {
			return nil, sql.ErrNoRows
		},
	}
	handler, _ := newTestHandler(mockStore)

	req := httptest.NewRequest(http.MethodPut, "/api/deals/999/status", strings.NewReader(`{"status":"won"}`))
	req = testutils.WithChiURLParams(req, map[string]string{"dealId": "999"})
	w := httptest.NewRecorder()

	handler.ChangeDealStatusHandler(w, req)

	require.Equal(t, http.StatusNotFound, w.Result().StatusCode)
}

func TestChangeDealStatusHandlerInvalidStatus(t *testing.T) {
	handler, _ := newTestHandler(&MockStorage{})

	req := httptest.NewRequest(http.MethodPut, "/api/deals/5/status", strings.NewReader(`{"status":"maybe"}`))
	req = testutils.WithChiURLParams(req, map[string]string{"dealId": "5"})
	w := httptest.NewRecorder()

	handler.ChangeDealStatusHandler(w, req)

	require.Equal(t, http.StatusBadRequest, w.Result().StatusCode)
}

func TestGetDealsHandler(t *testing.T) {
	handler, _ := newTestHandler(&MockStorage{})

	req := httptest.NewRequest(http.MethodGet, "/api/deals", nil)
	w := httptest.NewRecorder()

	handler.GetDealsHandler(w, req)

	res := w.Result()
	defer res.Body.Close()
	body, err := io.ReadAll(res.Body)
	require.NoError(t, err)

	require.Equal(t, http.StatusOK, res.StatusCode)
	require.Contains(t, string(body), "Annual Sales Kickoff")
}

func TestGetDealsHandlerSearch(t *testing.T) {
	handler, _ := newTestHandler(&MockStorage{})

	req := httptest.NewRequest(http.MethodGet, "/api/deals?search=acme", nil)
	w := httptest.NewRecorder()

	handler.GetDealsHandler(w, req)

	res := w.Result()
	defer res.Body.Close()
	body, err := io.ReadAll(res.Body)
	require.NoError(t, err)

	require.Equal(t, http.StatusOK, res.StatusCode)
	require.Contains(t, string(body), `"status":"qualified"`)
}

func TestPingHandler(t *testing.T) {
	handler, _ := newTestHandler(&MockStorage{})

	req := httptest.NewRequest(http.MethodGet, "/api/ping", nil)
	w := httptest.NewRecorder()

	handler.PingHandler(w, req)

	res := w.Result()
	defer res.Body.Close()
	body, err := io.ReadAll(res.Body)
	require.NoError(t, err)

	require.Equal(t, http.StatusOK, res.StatusCode)
	require.Equal(t, "ok", string(body))
}
