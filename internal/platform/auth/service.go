package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"github.com/kanatamon/covid19-home-isolation/internal/line"
	"github.com/kanatamon/covid19-home-isolation/internal/treatment"
)

const (
	RoleAdmin = "admin"
	RoleUser  = "user"

	// MinPasswordLen: RegisterRequest の binding（min=8）と揃える
	MinPasswordLen = 8
)

var (
	ErrAlreadyExists  = errors.New("already exists")
	ErrNotFound       = errors.New("not found")
	ErrAuthentication = errors.New("authentication failed")
)

// LineVerifier: LINE Login の id_token 検証
type LineVerifier interface {
	VerifyIDToken(ctx context.Context, idToken string) (*line.IDTokenClaims, error)
}

type Service struct {
	store    AccountStore
	verifier LineVerifier
	secret   []byte
	ttl      time.Duration
	clock    treatment.Clock
}

func NewService(store AccountStore, verifier LineVerifier, secret []byte, ttl time.Duration) *Service {
	return &Service{store: store, verifier: verifier, secret: secret, ttl: ttl, clock: treatment.RealClock()}
}

// LineSession: LINE ログイン結果
type LineSession struct {
	Token       string `json:"token"`
	LineID      string `json:"lineId"`
	DisplayName string `json:"lineDisplayName"`
	PictureURL  string `json:"linePictureUrl,omitempty"`
}

// LoginAdmin: auth_accounts の bcrypt ハッシュと照合して admin トークンを返す
func (s *Service) LoginAdmin(ctx context.Context, id, password string) (string, error) {
	acct, err := s.store.GetByID(ctx, id)
	if err != nil {
		return "", err
	}
	if acct == nil || acct.IsDisabled {
		return "", ErrAuthentication
	}
	if err := bcrypt.CompareHashAndPassword([]byte(acct.PasswordHash), []byte(password)); err != nil {
		return "", ErrAuthentication
	}
	return s.issue(acct.ID, acct.Role)
}

// LoginLine: id_token を LINE に検証してもらい、sub を利用者IDとして user トークンを返す
func (s *Service) LoginLine(ctx context.Context, idToken string) (*LineSession, error) {
	claims, err := s.verifier.VerifyIDToken(ctx, idToken)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrAuthentication, err)
	}
	token, err := s.issue(claims.Subject, RoleUser)
	if err != nil {
		return nil, err
	}
	return &LineSession{
		Token:       token,
		LineID:      claims.Subject,
		DisplayName: claims.Name,
		PictureURL:  claims.Picture,
	}, nil
}

func (s *Service) issue(sub, role string) (string, error) {
	now := s.clock.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":  sub,
		"role": role,
		"iat":  now.Unix(),
		"exp":  now.Add(s.ttl).Unix(),
	})
	return token.SignedString(s.secret)
}

func (s *Service) Register(ctx context.Context, id, password string) error {
	exists, err := s.store.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if exists != nil {
		return ErrAlreadyExists
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return err
	}
	return s.store.Create(ctx, &Account{
		ID:           id,
		PasswordHash: string(hash),
		Role:         RoleAdmin,
	})
}

// EnsureAdmin: id が無ければ admin として作る。既存なら何もしない（false）。
func (s *Service) EnsureAdmin(ctx context.Context, id, password string) (bool, error) {
	if id == "" {
		return false, fmt.Errorf("admin id is required")
	}
	if len(password) < MinPasswordLen {
		return false, fmt.Errorf("admin password must be at least %d characters", MinPasswordLen)
	}
	err := s.Register(ctx, id, password)
	if errors.Is(err, ErrAlreadyExists) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (s *Service) Delete(ctx context.Context, id string) error {
	n, err := s.store.Delete(ctx, id)
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
