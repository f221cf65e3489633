package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"time"
)

// Виды уведомлений жизненного цикла
const (
	KindNewDeal                = "new_deal"
	KindDealWon                = "deal_won"
	KindFirmOfferInvite        = "firm_offer_invite"
	KindContractSigningClient  = "contract_signing_request_client"
	KindContractSigningSpeaker = "contract_signing_request_speaker"
	KindContractCompleted      = "contract_completed"
)

// Notifier отправляет транзакционное письмо по событию жизненного цикла.
// Возвращает успех доставки; ошибок наружу не пробрасывает. Отправка
// всегда best-effort и никогда не откатывает вызвавшую мутацию.
type Notifier interface {
	Notify(ctx context.Context, kind string, payload map[string]any) bool
}

// MailRelay шлет уведомления во внешний почтовый сервис по HTTP.
type MailRelay struct {
	BaseURL string
	HTTP    *http.Client
}

func NewMailRelay(baseURL string) *MailRelay {
	return &MailRelay{BaseURL: baseURL, HTTP: &http.Client{Timeout: 10 * time.Second}}
}

func (m *MailRelay) Notify(ctx context.Context, kind string, payload map[string]any) bool {
	body := map[string]any{"kind": kind, "payload": payload}
	b, err := json.Marshal(body)
	if err != nil {
		log.Printf("notify %s: marshal: %v", kind, err)
		return false
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.BaseURL+"/send", bytes.NewReader(b))
	if err != nil {
		log.Printf("notify %s: %v", kind, err)
		return false
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := m.HTTP.Do(req)
	if err != nil {
		log.Printf("notify %s: %v", kind, err)
		return false
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		log.Printf("notify %s: mail relay returned %d", kind, resp.StatusCode)
		return false
	}
	return true
}

// LogNotifier пишет уведомления в лог вместо отправки. Используется, когда
// почтовый сервис не сконфигурирован (локальная разработка).
type LogNotifier struct{}

func (LogNotifier) Notify(_ context.Context, kind string, payload map[string]any) bool {
	log.Printf("notify (log only) %s: %v", kind, payload)
	return true
}

var _ Notifier = (*MailRelay)(nil)
var _ Notifier = LogNotifier{}

// ReviewURL собирает ссылку спикерской страницы предложения.
func ReviewURL(baseURL, token string) string {
	return fmt.Sprintf("%s/firm-offer/%s", baseURL, token)
}

// SigningURL собирает ссылку страницы подписания договора.
func SigningURL(baseURL, token string) string {
	return fmt.Sprintf("%s/contract/sign/%s", baseURL, token)
}
