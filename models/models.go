package models

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
)

// Вложенные JSON-структуры Firm Offer.
// Хранятся в jsonb-колонках, поэтому реализуют Valuer/Scanner.

// Обзор мероприятия (заполняет клиент)
type EventOverview struct {
	EventName      string `json:"eventName,omitempty"`
	EventDate      string `json:"eventDate,omitempty"`
	EventLocation  string `json:"eventLocation,omitempty"`
	Company        string `json:"company,omitempty"`
	BillingContact string `json:"billingContact,omitempty"`
	BillingEmail   string `json:"billingEmail,omitempty"`
	BillingPhone   string `json:"billingPhone,omitempty"`
}

// Запрошенный спикер и формат программы
type SpeakerProgram struct {
	RequestedSpeaker string `json:"requestedSpeaker,omitempty"`
	ProgramType      string `json:"programType,omitempty"`
	ProgramTopic     string `json:"programTopic,omitempty"`
	DurationMinutes  int    `json:"durationMinutes,omitempty"`
}

// Финансовые условия предложения
type FinancialDetails struct {
	SpeakerFee   float64 `json:"speakerFee,omitempty"`
	TravelBuyout float64 `json:"travelBuyout,omitempty"`
	Currency     string  `json:"currency,omitempty"`
}

func (e EventOverview) Value() (driver.Value, error)    { return json.Marshal(e) }
func (e *EventOverview) Scan(src any) error             { return scanJSON(src, e) }
func (s SpeakerProgram) Value() (driver.Value, error)   { return json.Marshal(s) }
func (s *SpeakerProgram) Scan(src any) error            { return scanJSON(src, s) }
func (f FinancialDetails) Value() (driver.Value, error) { return json.Marshal(f) }
func (f *FinancialDetails) Scan(src any) error          { return scanJSON(src, f) }

func scanJSON(src any, dst any) error {
	switch v := src.(type) {
	case nil:
		return nil
	case []byte:
		if len(v) == 0 {
			return nil
		}
		return json.Unmarshal(v, dst)
	case string:
		if v == "" {
			return nil
		}
		return json.Unmarshal([]byte(v), dst)
	default:
		return errors.New("unsupported jsonb source type")
	}
}
