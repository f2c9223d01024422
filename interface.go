// Package eauth is a client for the Ethereum sign-in service.
package eauth

import (
	"context"

	"github.com/ethereum/go-ethereum/signer/core/apitypes"
)

// Client represents the public interface of the sign-in service
type Client interface {
	// Challenge returns the typed data address has to sign
	Challenge(ctx context.Context, address string) (apitypes.TypedData, error)

	// Login submits the signed challenge identified by nonce and signs the session in
	Login(ctx context.Context, nonce, signature string) (LoginResponse, error)

	// User returns the address of the signed-in session
	User(ctx context.Context) (string, error)

	// Logout ends the session. redirect is passed as the url to return to.
	Logout(ctx context.Context, redirect string) error
}

// LoginResponse is the body of a successful login
type LoginResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Token   string `json:"token,omitempty"`
}
