package db

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"bookings/models"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

type Storage struct {
	db *sqlx.DB
}

func NewStorage(db *sqlx.DB) *Storage {
	return &Storage{db: db}
}

// IsUniqueViolation сообщает, что вставка упала на unique-констрейнте.
func IsUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}

// Deal (Сделка)
type Deal struct {
	ID               int        `db:"id" json:"id"`
	ClientName       string     `db:"client_name" json:"client_name" validate:"required,max=200"`
	ClientEmail      string     `db:"client_email" json:"client_email" validate:"required,email"`
	ClientPhone      string     `db:"client_phone" json:"client_phone"`
	Company          string     `db:"company" json:"company" validate:"required,max=200"`
	EventTitle       string     `db:"event_title" json:"event_title" validate:"required,max=300"`
	EventDate        string     `db:"event_date" json:"event_date" validate:"required"`
	EventLocation    string     `db:"event_location" json:"event_location" validate:"required"`
	EventType        string     `db:"event_type" json:"event_type" validate:"required"`
	AttendeeCount    int        `db:"attendee_count" json:"attendee_count"`
	BudgetRange      string     `db:"budget_range" json:"budget_range"`
	DealValue        float64    `db:"deal_value" json:"deal_value"`
	Status           string     `db:"status" json:"status" validate:"oneof=lead qualified proposal negotiation won lost"`
	Priority         string     `db:"priority" json:"priority" validate:"oneof=low medium high urgent"`
	SpeakerRequested string     `db:"speaker_requested" json:"speaker_requested"`
	Source           string     `db:"source" json:"source"`
	Notes            string     `db:"notes" json:"notes"`
	LastContact      string     `db:"last_contact" json:"last_contact"`
	WonAt            *time.Time `db:"won_at" json:"won_at,omitempty"`
	CreatedAt        time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt        time.Time  `db:"updated_at" json:"-"`
}

func (s *Storage) CreateDeal(ctx context.Context, d *Deal) error {
	query := `
        INSERT INTO deal
            (client_name, client_email, client_phone, company, event_title, event_date,
             event_location, event_type, attendee_count, budget_range, deal_value,
             status, priority, speaker_requested, source, notes, last_contact, won_at)
        VALUES
            ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17,
             CASE WHEN $12 = 'won' THEN NOW() END)
        RETURNING id, won_at, created_at, updated_at`
	return s.db.QueryRowContext(ctx, query,
		d.ClientName, d.ClientEmail, d.ClientPhone, d.Company, d.EventTitle, d.EventDate,
		d.EventLocation, d.EventType, d.AttendeeCount, d.BudgetRange, d.DealValue,
		d.Status, d.Priority, d.SpeakerRequested, d.Source, d.Notes, d.LastContact).
		Scan(&d.ID, &d.WonAt, &d.CreatedAt, &d.UpdatedAt)
}

func (s *Storage) GetDeal(ctx context.Context, id int) (*Deal, error) {
	d := &Deal{}
	query := `SELECT * FROM deal WHERE id=$1`
	err := s.db.GetContext(ctx, d, query, id)
	return d, err
}

// UpdateDealStatus меняет статус сделки. Дата won_at ставится один раз,
// при первом переходе в won, и дальше не перезаписывается.
func (s *Storage) UpdateDealStatus(ctx context.Context, id int, status string) (*Deal, error) {
	d := &Deal{}
	query := `
        UPDATE deal
        SET status = $1,
            won_at = CASE WHEN $1 = 'won' AND won_at IS NULL THEN NOW() ELSE won_at END,
            updated_at = NOW()
        WHERE id = $2
        RETURNING *`
	err := s.db.GetContext(ctx, d, query, status, id)
	return d, err
}

func (s *Storage) GetDeals(ctx context.Context, statuses []string, limit, offset int) ([]Deal, error) {
	baseQuery := "SELECT * FROM deal"
	var args []interface{}
	filter := ""

	if len(statuses) > 0 {
		placeholders := make([]string, len(statuses))
		for i := range statuses {
			placeholders[i] = fmt.Sprintf("$%d", i+1)
		}
		filter = fmt.Sprintf(" WHERE status IN (%s)", strings.Join(placeholders, ", "))
		for _, v := range statuses {
			args = append(args, v)
		}
	}

	query := baseQuery + filter + " ORDER BY created_at DESC"
	query += fmt.Sprintf(" LIMIT %d OFFSET %d", limit, offset)

	deals := []Deal{}
	err := s.db.SelectContext(ctx, &deals, query, args...)
	if err != nil {
		return nil, err
	}
	return deals, nil
}

func (s *Storage) SearchDeals(ctx context.Context, term string, limit, offset int) ([]Deal, error) {
	query := `
        SELECT * FROM deal
        WHERE client_name ILIKE '%' || $1 || '%'
           OR client_email ILIKE '%' || $1 || '%'
           OR company ILIKE '%' || $1 || '%'
           OR event_title ILIKE '%' || $1 || '%'
           OR speaker_requested ILIKE '%' || $1 || '%'
        ORDER BY created_at DESC
        LIMIT $2 OFFSET $3`
	deals := []Deal{}
	err := s.db.SelectContext(ctx, &deals, query, term, limit, offset)
	return deals, err
}

// FirmOffer (Твердое предложение)
type FirmOffer struct {
	ID                 int                     `db:"id" json:"id"`
	ProposalID         *int                    `db:"proposal_id" json:"proposal_id,omitempty"`
	DealID             *int                    `db:"deal_id" json:"deal_id,omitempty"`
	EventOverview      models.EventOverview    `db:"event_overview" json:"event_overview"`
	SpeakerProgram     models.SpeakerProgram   `db:"speaker_program" json:"speaker_program"`
	FinancialDetails   models.FinancialDetails `db:"financial_details" json:"financial_details"`
	Status             string                  `db:"status" json:"status" validate:"oneof=draft submitted sent_to_speaker speaker_confirmed declined"`
	SpeakerAccessToken string                  `db:"speaker_access_token" json:"-"`
	HoldExpiresAt      time.Time               `db:"hold_expires_at" json:"hold_expires_at"`
	SubmittedAt        *time.Time              `db:"submitted_at" json:"submitted_at,omitempty"`
	SentToSpeakerAt    *time.Time              `db:"sent_to_speaker_at" json:"sent_to_speaker_at,omitempty"`
	CreatedAt          time.Time               `db:"created_at" json:"created_at"`
	UpdatedAt          time.Time               `db:"updated_at" json:"-"`
}

func (s *Storage) CreateFirmOffer(ctx context.Context, o *FirmOffer) error {
	query := `
        INSERT INTO firm_offer
            (proposal_id, deal_id, event_overview, speaker_program, financial_details,
             status, speaker_access_token, hold_expires_at, submitted_at)
        VALUES
            ($1, $2, $3, $4, $5, $6, $7, COALESCE($8, NOW() + INTERVAL '14 days'),
             CASE WHEN $6 = 'submitted' THEN NOW() END)
        RETURNING id, hold_expires_at, submitted_at, created_at, updated_at`
	var holdExpires *time.Time
	if !o.HoldExpiresAt.IsZero() {
		holdExpires = &o.HoldExpiresAt
	}
	return s.db.QueryRowContext(ctx, query,
		o.ProposalID, o.DealID, o.EventOverview, o.SpeakerProgram, o.FinancialDetails,
		o.Status, o.SpeakerAccessToken, holdExpires).
		Scan(&o.ID, &o.HoldExpiresAt, &o.SubmittedAt, &o.CreatedAt, &o.UpdatedAt)
}

func (s *Storage) GetFirmOffer(ctx context.Context, id int) (*FirmOffer, error) {
	o := &FirmOffer{}
	query := `SELECT * FROM firm_offer WHERE id=$1`
	err := s.db.GetContext(ctx, o, query, id)
	return o, err
}

// GetFirmOfferByProposal ищет существующее предложение по proposal_id,
// чтобы не плодить дубликаты (одно предложение на proposal).
func (s *Storage) GetFirmOfferByProposal(ctx context.Context, proposalID int) (*FirmOffer, error) {
	o := &FirmOffer{}
	query := `SELECT * FROM firm_offer WHERE proposal_id=$1`
	err := s.db.GetContext(ctx, o, query, proposalID)
	return o, err
}

func (s *Storage) GetFirmOfferBySpeakerToken(ctx context.Context, token string) (*FirmOffer, error) {
	o := &FirmOffer{}
	query := `SELECT * FROM firm_offer WHERE speaker_access_token=$1`
	err := s.db.GetContext(ctx, o, query, token)
	return o, err
}

// SubmitFirmOffer записывает данные мероприятия. Подтвержденное спикером
// предложение остается в speaker_confirmed, обновляются только данные;
// submitted_at ставится один раз, при первой подаче.
func (s *Storage) SubmitFirmOffer(ctx context.Context, o *FirmOffer) error {
	query := `
        UPDATE firm_offer
        SET event_overview=$1, speaker_program=$2, financial_details=$3,
            status = CASE WHEN status='speaker_confirmed' THEN status ELSE 'submitted' END,
            submitted_at = COALESCE(submitted_at, NOW()),
            updated_at=NOW()
        WHERE id=$4
        RETURNING status, submitted_at`
	return s.db.QueryRowContext(ctx, query,
		o.EventOverview, o.SpeakerProgram, o.FinancialDetails, o.ID).
		Scan(&o.Status, &o.SubmittedAt)
}

func (s *Storage) MarkFirmOfferSent(ctx context.Context, id int) (*FirmOffer, error) {
	o := &FirmOffer{}
	query := `
        UPDATE firm_offer
        SET status='sent_to_speaker', sent_to_speaker_at=NOW(), updated_at=NOW()
        WHERE id=$1
        RETURNING *`
	err := s.db.GetContext(ctx, o, query, id)
	return o, err
}

func (s *Storage) SetFirmOfferDecision(ctx context.Context, id int, status string) (*FirmOffer, error) {
	o := &FirmOffer{}
	query := `
        UPDATE firm_offer
        SET status=$1, updated_at=NOW()
        WHERE id=$2
        RETURNING *`
	err := s.db.GetContext(ctx, o, query, status, id)
	return o, err
}

// Contract (Договор)
type Contract struct {
	ID                  int        `db:"id" json:"id"`
	ContractNumber      string     `db:"contract_number" json:"contract_number"`
	DealID              *int       `db:"deal_id" json:"deal_id,omitempty"`
	TemplateID          string     `db:"template_id" json:"template_id,omitempty"`
	ClientName          string     `db:"client_name" json:"client_name"`
	ClientEmail         string     `db:"client_email" json:"client_email"`
	ClientCompany       string     `db:"client_company" json:"client_company"`
	ClientSignerName    string     `db:"client_signer_name" json:"client_signer_name"`
	ClientSignerEmail   string     `db:"client_signer_email" json:"client_signer_email"`
	SpeakerName         string     `db:"speaker_name" json:"speaker_name"`
	SpeakerEmail        string     `db:"speaker_email" json:"speaker_email"`
	SpeakerFee          float64    `db:"speaker_fee" json:"speaker_fee"`
	EventTitle          string     `db:"event_title" json:"event_title"`
	EventDate           string     `db:"event_date" json:"event_date"`
	EventLocation       string     `db:"event_location" json:"event_location"`
	TotalAmount         float64    `db:"total_amount" json:"total_amount"`
	PaymentTerms        string     `db:"payment_terms" json:"payment_terms"`
	AdditionalTerms     string     `db:"additional_terms" json:"additional_terms"`
	Status              string     `db:"status" json:"status" validate:"oneof=draft sent partially_signed fully_executed"`
	ClientSigningToken  string     `db:"client_signing_token" json:"-"`
	SpeakerSigningToken string     `db:"speaker_signing_token" json:"-"`
	TokensExpireAt      time.Time  `db:"tokens_expire_at" json:"tokens_expire_at"`
	ClientSignedAt      *time.Time `db:"client_signed_at" json:"client_signed_at,omitempty"`
	ClientSignature     string     `db:"client_signature" json:"client_signature,omitempty"`
	SpeakerSignedAt     *time.Time `db:"speaker_signed_at" json:"speaker_signed_at,omitempty"`
	SpeakerSignature    string     `db:"speaker_signature" json:"speaker_signature,omitempty"`
	CompletedAt         *time.Time `db:"completed_at" json:"completed_at,omitempty"`
	CreatedBy           string     `db:"created_by" json:"created_by"`
	CreatedAt           time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt           time.Time  `db:"updated_at" json:"-"`
}

func (s *Storage) CreateContract(ctx context.Context, c *Contract) error {
	query := `
        INSERT INTO contract
            (contract_number, deal_id, template_id, client_name, client_email, client_company,
             client_signer_name, client_signer_email, speaker_name, speaker_email, speaker_fee,
             event_title, event_date, event_location, total_amount, payment_terms,
             additional_terms, status, client_signing_token, speaker_signing_token,
             tokens_expire_at, created_by)
        VALUES
            ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16,
             $17, $18, $19, $20, $21, $22)
        RETURNING id, created_at, updated_at`
	return s.db.QueryRowContext(ctx, query,
		c.ContractNumber, c.DealID, c.TemplateID, c.ClientName, c.ClientEmail, c.ClientCompany,
		c.ClientSignerName, c.ClientSignerEmail, c.SpeakerName, c.SpeakerEmail, c.SpeakerFee,
		c.EventTitle, c.EventDate, c.EventLocation, c.TotalAmount, c.PaymentTerms,
		c.AdditionalTerms, c.Status, c.ClientSigningToken, c.SpeakerSigningToken,
		c.TokensExpireAt, c.CreatedBy).
		Scan(&c.ID, &c.CreatedAt, &c.UpdatedAt)
}

func (s *Storage) GetContract(ctx context.Context, id int) (*Contract, error) {
	c := &Contract{}
	query := `SELECT * FROM contract WHERE id=$1`
	err := s.db.GetContext(ctx, c, query, id)
	return c, err
}

func (s *Storage) GetContracts(ctx context.Context, limit, offset int) ([]Contract, error) {
	query := `SELECT * FROM contract ORDER BY created_at DESC LIMIT $1 OFFSET $2`
	contracts := []Contract{}
	err := s.db.SelectContext(ctx, &contracts, query, limit, offset)
	return contracts, err
}

// GetContractBySigningToken находит договор по подписному токену любой из сторон
// и сообщает, чей это токен ("client" или "speaker").
func (s *Storage) GetContractBySigningToken(ctx context.Context, token string) (*Contract, string, error) {
	c := &Contract{}
	query := `SELECT * FROM contract WHERE client_signing_token=$1 OR speaker_signing_token=$1`
	if err := s.db.GetContext(ctx, c, query, token); err != nil {
		return nil, "", err
	}
	party := "speaker"
	if c.ClientSigningToken == token {
		party = "client"
	}
	return c, party, nil
}

// MarkContractSent переводит черновик в sent. Статус выводится из отметок
// подписей, поэтому повторная отправка не откатывает частично или полностью
// подписанный договор.
func (s *Storage) MarkContractSent(ctx context.Context, id int) (*Contract, error) {
	c := &Contract{}
	query := `
        UPDATE contract
        SET status = CASE
                WHEN client_signed_at IS NOT NULL AND speaker_signed_at IS NOT NULL THEN 'fully_executed'
                WHEN client_signed_at IS NOT NULL OR speaker_signed_at IS NOT NULL THEN 'partially_signed'
                ELSE 'sent'
            END,
            updated_at=NOW()
        WHERE id=$1
        RETURNING *`
	err := s.db.GetContext(ctx, c, query, id)
	return c, err
}

// SignContract атомарно ставит подпись стороны и пересчитывает статус в том же
// UPDATE. Условие <party>_signed_at IS NULL делает токен одноразовым:
// повторная подпись (или гонка двух запросов) даст 0 строк.
func (s *Storage) SignContract(ctx context.Context, party, token, signerName, signature string) (*Contract, error) {
	var query string
	switch party {
	case "client":
		query = `
        UPDATE contract
        SET client_signed_at = NOW(),
            client_signature = $2,
            client_signer_name = COALESCE(NULLIF($3, ''), client_signer_name),
            status = CASE WHEN speaker_signed_at IS NOT NULL THEN 'fully_executed' ELSE 'partially_signed' END,
            completed_at = CASE WHEN speaker_signed_at IS NOT NULL THEN NOW() END,
            updated_at = NOW()
        WHERE client_signing_token = $1
          AND client_signed_at IS NULL
          AND tokens_expire_at > NOW()
        RETURNING *`
	case "speaker":
		query = `
        UPDATE contract
        SET speaker_signed_at = NOW(),
            speaker_signature = $2,
            speaker_name = COALESCE(NULLIF($3, ''), speaker_name),
            status = CASE WHEN client_signed_at IS NOT NULL THEN 'fully_executed' ELSE 'partially_signed' END,
            completed_at = CASE WHEN client_signed_at IS NOT NULL THEN NOW() END,
            updated_at = NOW()
        WHERE speaker_signing_token = $1
          AND speaker_signed_at IS NULL
          AND tokens_expire_at > NOW()
        RETURNING *`
	default:
		return nil, fmt.Errorf("unknown signing party %q", party)
	}

	c := &Contract{}
	err := s.db.GetContext(ctx, c, query, token, signature, signerName)
	return c, err
}

// Project (Проект, создается при выигрыше сделки)
type Project struct {
	ID            int       `db:"id" json:"id"`
	DealID        int       `db:"deal_id" json:"deal_id"`
	ProjectName   string    `db:"project_name" json:"project_name"`
	ClientName    string    `db:"client_name" json:"client_name"`
	ClientEmail   string    `db:"client_email" json:"client_email"`
	Company       string    `db:"company" json:"company"`
	EventTitle    string    `db:"event_title" json:"event_title"`
	EventDate     string    `db:"event_date" json:"event_date"`
	EventLocation string    `db:"event_location" json:"event_location"`
	Budget        float64   `db:"budget" json:"budget"`
	Status        string    `db:"status" json:"status"`
	CreatedAt     time.Time `db:"created_at" json:"created_at"`
}

func (s *Storage) CreateProject(ctx context.Context, p *Project) error {
	query := `
        INSERT INTO project
            (deal_id, project_name, client_name, client_email, company,
             event_title, event_date, event_location, budget, status)
        VALUES
            ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
        RETURNING id, created_at`
	return s.db.QueryRowContext(ctx, query,
		p.DealID, p.ProjectName, p.ClientName, p.ClientEmail, p.Company,
		p.EventTitle, p.EventDate, p.EventLocation, p.Budget, p.Status).
		Scan(&p.ID, &p.CreatedAt)
}

func (s *Storage) GetProjectByDeal(ctx context.Context, dealID int) (*Project, error) {
	p := &Project{}
	query := `SELECT * FROM project WHERE deal_id=$1`
	err := s.db.GetContext(ctx, p, query, dealID)
	return p, err
}
