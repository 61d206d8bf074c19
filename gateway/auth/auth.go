package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	jwt "github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"workescrow/crypto"
)

// Scopes granted in issued tokens.
const (
	ScopeEscrow = "escrow"
	ScopeAdmin  = "escrow.admin"
)

var (
	ErrChallengeExpired = errors.New("auth: challenge expired")
	ErrBadSignature     = errors.New("auth: signature does not match account")
	ErrZeroAccount      = errors.New("auth: account required")
)

// ChallengeStore persists single-use login challenges.
type ChallengeStore interface {
	Put(ctx context.Context, account, nonce string, expiresAt time.Time) error
	Consume(ctx context.Context, account, nonce string, now time.Time) (time.Time, error)
}

// AdminChecker decides whether a logged-in account also receives the admin scope.
type AdminChecker interface {
	HasAdminRole(addr common.Address) bool
}

type Config struct {
	Secret       []byte
	Issuer       string
	Audience     string
	ScopeClaim   string
	TokenTTL     time.Duration
	ChallengeTTL time.Duration
}

// Service runs the wallet login flow: an account asks for a challenge, signs
// it as an EIP-191 personal message, and trades the signature for a JWT whose
// subject is the account address.
type Service struct {
	cfg      Config
	store    ChallengeStore
	verifier crypto.SignatureVerifier
	admins   AdminChecker
	nowFn    func() time.Time
}

func NewService(cfg Config, store ChallengeStore, verifier crypto.SignatureVerifier, admins AdminChecker) (*Service, error) {
	if len(cfg.Secret) == 0 {
		return nil, errors.New("auth: signing secret required")
	}
	if store == nil || verifier == nil {
		return nil, errors.New("auth: challenge store and verifier required")
	}
	if cfg.ScopeClaim == "" {
		cfg.ScopeClaim = "scope"
	}
	if cfg.TokenTTL <= 0 {
		cfg.TokenTTL = time.Hour
	}
	if cfg.ChallengeTTL <= 0 {
		cfg.ChallengeTTL = 5 * time.Minute
	}
	return &Service{cfg: cfg, store: store, verifier: verifier, admins: admins, nowFn: time.Now}, nil
}

// SetNowFunc overrides the clock; tests only.
func (s *Service) SetNowFunc(now func() time.Time) {
	if now != nil {
		s.nowFn = now
	}
}

type Challenge struct {
	Account   common.Address `json:"account"`
	Nonce     string         `json:"nonce"`
	Message   string         `json:"message"`
	ExpiresAt time.Time      `json:"expiresAt"`
}

type Session struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expiresAt"`
	Scopes    []string  `json:"scopes"`
}

// ChallengeMessage is the exact text an account signs to log in.
func ChallengeMessage(account common.Address, nonce string, expiresAt time.Time) string {
	return fmt.Sprintf("workescrow login\naccount: %s\nnonce: %s\nexpires: %s",
		strings.ToLower(account.Hex()), nonce, expiresAt.UTC().Format(time.RFC3339))
}

// Challenge issues a fresh single-use challenge for account.
func (s *Service) Challenge(ctx context.Context, account common.Address) (*Challenge, error) {
	if account == (common.Address{}) {
		return nil, ErrZeroAccount
	}
	nonce := uuid.NewString()
	expiresAt := s.nowFn().UTC().Add(s.cfg.ChallengeTTL).Truncate(time.Second)
	if err := s.store.Put(ctx, account.Hex(), nonce, expiresAt); err != nil {
		return nil, err
	}
	return &Challenge{
		Account:   account,
		Nonce:     nonce,
		Message:   ChallengeMessage(account, nonce, expiresAt),
		ExpiresAt: expiresAt,
	}, nil
}

// Login consumes the challenge and, when signature is valid for account,
// returns a signed session token. A challenge cannot be retried after a
// failed attempt.
func (s *Service) Login(ctx context.Context, account common.Address, nonce string, signature []byte) (*Session, error) {
	if account == (common.Address{}) {
		return nil, ErrZeroAccount
	}
	now := s.nowFn().UTC()
	expiresAt, err := s.store.Consume(ctx, account.Hex(), nonce, now)
	if err != nil {
		return nil, err
	}
	hash := crypto.TextHash([]byte(ChallengeMessage(account, nonce, expiresAt)))
	if !s.verifier.Verify(account, hash, signature) {
		return nil, ErrBadSignature
	}

	scopes := []string{ScopeEscrow}
	if s.admins != nil && s.admins.HasAdminRole(account) {
		scopes = append(scopes, ScopeAdmin)
	}
	tokenExpiry := now.Add(s.cfg.TokenTTL)
	claims := jwt.MapClaims{
		"sub":            strings.ToLower(account.Hex()),
		"iat":            now.Unix(),
		"nbf":            now.Unix(),
		"exp":            tokenExpiry.Unix(),
		"jti":            uuid.NewString(),
		s.cfg.ScopeClaim: strings.Join(scopes, " "),
	}
	if s.cfg.Issuer != "" {
		claims["iss"] = s.cfg.Issuer
	}
	if s.cfg.Audience != "" {
		claims["aud"] = s.cfg.Audience
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.cfg.Secret)
	if err != nil {
		return nil, fmt.Errorf("sign token: %w", err)
	}
	return &Session{Token: token, ExpiresAt: tokenExpiry, Scopes: scopes}, nil
}
