package tokens

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

var ErrInvalidToken = errors.New("invalid or expired token")

// Service выпускает и проверяет токены: сессионные (JWT),
// а также непрозрачные access/signing токены для ссылок без логина.
type Service struct {
	secret []byte
	Now    func() time.Time
}

func NewService(secret string) *Service {
	return &Service{secret: []byte(secret), Now: time.Now}
}

// NewOpaqueToken генерирует одноразовый непрозрачный токен
// (speaker_access_token, *_signing_token).
func NewOpaqueToken() string {
	b := make([]byte, 24)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}

// NewContractNumber генерирует человекочитаемый номер договора CNT-<год>-<random9>.
func NewContractNumber(now time.Time) string {
	const alphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	b := make([]byte, 9)
	_, _ = rand.Read(b)
	for i := range b {
		b[i] = alphabet[int(b[i])%len(alphabet)]
	}
	return fmt.Sprintf("CNT-%d-%s", now.Year(), string(b))
}

type sessionClaims struct {
	jwt.RegisteredClaims
	Role string `json:"role"`
}

// IssueSession выпускает короткоживущий сессионный JWT.
func (s *Service) IssueSession(subject, role string, ttl time.Duration) (string, error) {
	now := s.Now()
	claims := sessionClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			ID:        uuid.NewString(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		Role: role,
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
}

// ValidateSession проверяет сессионный токен и возвращает subject и role.
// Поддерживаются две схемы: подписанный JWT и устаревший base64-формат
// "subject:role:expiresUnix". Legacy-ветка остается только до вывода старых
// сессий из оборота.
func (s *Service) ValidateSession(token string) (subject, role string, err error) {
	if strings.Count(token, ".") == 2 {
		return s.validateJWT(token)
	}
	return s.validateLegacy(token)
}

func (s *Service) validateJWT(token string) (string, string, error) {
	var claims sessionClaims
	_, err := jwt.ParseWithClaims(token, &claims, func(t *jwt.Token) (any, error) {
		return s.secret, nil
	},
		jwt.WithValidMethods([]string{"HS256"}),
		jwt.WithTimeFunc(s.Now),
	)
	if err != nil {
		return "", "", ErrInvalidToken
	}
	if claims.Subject == "" {
		return "", "", ErrInvalidToken
	}
	return claims.Subject, claims.Role, nil
}

func (s *Service) validateLegacy(token string) (string, string, error) {
	raw, err := base64.URLEncoding.DecodeString(token)
	if err != nil {
		return "", "", ErrInvalidToken
	}
	parts := strings.SplitN(string(raw), ":", 3)
	if len(parts) != 3 {
		return "", "", ErrInvalidToken
	}
	expires, err := strconv.ParseInt(parts[2], 10, 64)
	if err != nil || s.Now().Unix() > expires {
		return "", "", ErrInvalidToken
	}
	return parts[0], parts[1], nil
}
