package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
	"github.com/google/uuid"
	"github.com/layer-3/eauth/core"
	"github.com/layer-3/eauth/internal/eth"
	"github.com/layer-3/eauth/ports"
)

// Options configures challenges and issued tokens
type Options struct {
	Banner       string        // EIP-712 domain name
	Prefix       string        // Statement embedded in every challenge
	ChainID      *big.Int      // EIP-712 chain id, omitted when nil
	ChallengeTTL time.Duration // Lifetime of an unanswered challenge
	SessionTTL   time.Duration // Lifetime of issued tokens
}

// AuthService handles authentication business logic
type AuthService struct {
	users      ports.UserStore
	challenges ports.ChallengeStore
	tokenizer  ports.Tokenizer
	eventPub   ports.EventPublisher
	logger     *slog.Logger

	domain       eth.Domain
	prefix       string
	challengeTTL time.Duration
	sessionTTL   time.Duration
	now          func() time.Time
}

// LoginResult is the outcome of a successful signature verification
type LoginResult struct {
	Address   string
	User      core.User
	Created   bool // whether the user row was created by this login
	Token     string
	ExpiresAt time.Time
}

// NewAuthService creates a new authentication service
func NewAuthService(
	users ports.UserStore,
	challenges ports.ChallengeStore,
	tokenizer ports.Tokenizer,
	eventPub ports.EventPublisher,
	opts Options,
	logger *slog.Logger,
) *AuthService {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.ChallengeTTL <= 0 {
		opts.ChallengeTTL = 5 * time.Minute
	}
	if opts.SessionTTL <= 0 {
		opts.SessionTTL = time.Hour
	}
	return &AuthService{
		users:        users,
		challenges:   challenges,
		tokenizer:    tokenizer,
		eventPub:     eventPub,
		logger:       logger.With("component", "auth"),
		domain:       eth.Domain{Name: opts.Banner, ChainID: opts.ChainID},
		prefix:       opts.Prefix,
		challengeTTL: opts.ChallengeTTL,
		sessionTTL:   opts.SessionTTL,
		now:          time.Now,
	}
}

// SessionTTL returns the lifetime of issued tokens and authenticated sessions
func (s *AuthService) SessionTTL() time.Duration {
	return s.sessionTTL
}

// CreateChallenge issues a new typed-data challenge for address.
// Every call yields an independent challenge; earlier ones stay valid until used or expired.
func (s *AuthService) CreateChallenge(ctx context.Context, address string) (apitypes.TypedData, error) {
	nonce := uuid.NewString()

	td, err := eth.NewChallenge(s.domain, s.prefix, address, nonce)
	if err != nil {
		if errors.Is(err, eth.ErrInvalidAddress) {
			return apitypes.TypedData{}, fmt.Errorf("%w: %q", core.ErrInvalidAddress, address)
		}
		return apitypes.TypedData{}, err
	}

	raw, err := json.Marshal(td)
	if err != nil {
		return apitypes.TypedData{}, fmt.Errorf("failed to encode challenge: %w", err)
	}

	now := s.now()
	challenge := &core.Challenge{
		Nonce:     nonce,
		Address:   common.HexToAddress(address).Hex(),
		TypedData: raw,
		IssuedAt:  now,
		ExpiresAt: now.Add(s.challengeTTL),
	}
	if err := s.challenges.Put(ctx, challenge, s.challengeTTL); err != nil {
		return apitypes.TypedData{}, fmt.Errorf("failed to store challenge: %w", err)
	}

	return td, nil
}

// Verify consumes the challenge identified by nonce and returns the address that signed it.
// The identity always comes from signature recovery, never from client input.
func (s *AuthService) Verify(ctx context.Context, nonce, signature string) (common.Address, error) {
	challenge, err := s.challenges.Take(ctx, nonce)
	if err != nil {
		if errors.Is(err, core.ErrChallengeNotFound) {
			return common.Address{}, fmt.Errorf("%w: %v", core.ErrInvalidSignature, err)
		}
		return common.Address{}, fmt.Errorf("failed to load challenge: %w", err)
	}
	if challenge.Expired(s.now()) {
		return common.Address{}, fmt.Errorf("%w: challenge expired", core.ErrInvalidSignature)
	}

	var td apitypes.TypedData
	if err := json.Unmarshal(challenge.TypedData, &td); err != nil {
		return common.Address{}, fmt.Errorf("failed to decode challenge: %w", err)
	}

	recovered, err := eth.RecoverAddress(td, signature)
	if err != nil {
		return common.Address{}, fmt.Errorf("%w: %v", core.ErrInvalidSignature, err)
	}
	if recovered != common.HexToAddress(challenge.Address) {
		return common.Address{}, fmt.Errorf("%w: signer %s is not %s", core.ErrInvalidSignature, recovered.Hex(), challenge.Address)
	}

	return recovered, nil
}

// Login verifies the signed challenge, finds or creates the user and issues a token
func (s *AuthService) Login(ctx context.Context, nonce, signature string) (*LoginResult, error) {
	address, err := s.Verify(ctx, nonce, signature)
	if err != nil {
		return nil, err
	}

	user, created, err := s.users.FindOrCreate(ctx, address.Hex())
	if err != nil {
		return nil, fmt.Errorf("failed to find or create user: %w", err)
	}
	if created {
		s.logger.Info("registered user", "address", user.Address, "user_id", user.ID)
	}

	token, err := s.tokenizer.Issue(user, s.sessionTTL)
	if err != nil {
		return nil, fmt.Errorf("failed to issue token: %w", err)
	}

	return &LoginResult{
		Address:   address.Hex(),
		User:      user,
		Created:   created,
		Token:     token,
		ExpiresAt: s.now().Add(s.sessionTTL),
	}, nil
}

// ValidateToken verifies a session token and returns its claims
func (s *AuthService) ValidateToken(token string) (*core.TokenClaims, error) {
	return s.tokenizer.Verify(token)
}

// NotifyLogin publishes a login event. Failures are logged, never returned.
func (s *AuthService) NotifyLogin(ctx context.Context, result *LoginResult, sessionID string) {
	if err := s.eventPub.PublishLogin(ctx, result.Address, result.User.ID, sessionID); err != nil {
		s.logger.Warn("failed to publish login event", "error", err, "address", result.Address)
	}
}

// NotifyLogout publishes a logout event. Failures are logged, never returned.
func (s *AuthService) NotifyLogout(ctx context.Context, address, sessionID string) {
	if err := s.eventPub.PublishLogout(ctx, address, sessionID); err != nil {
		s.logger.Warn("failed to publish logout event", "error", err, "address", address)
	}
}
