// Package signer wraps the platform's signing key for the onramp write
// path. Per spec §9 ("Unused onramp write path on offramp init") this
// package must never be imported by offramp-facing code — only
// internal/onramp and the cmd/ wiring import it.
package signer

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
)

// Signer is the black-box blockchain signing primitive (spec §1/§4.4):
// two calls, both returning the broadcast tx id. The actual key material
// and signing library are treated as an external collaborator with a fixed
// contract; this package only defines the shape the rest of the service
// depends on.
type Signer interface {
	SendNative(ctx context.Context, to string, amount decimal.Decimal, memo string) (txID string, err error)
	SendSIP010(ctx context.Context, contractAddress, contractName, to string, amount decimal.Decimal, memo string) (txID string, err error)
}

// Config names the platform signing key and network, sourced from
// PLATFORM_STX_ADDRESS / PLATFORM_STX_PRIVATE_KEY / STACKS_NETWORK.
type Config struct {
	Address    string
	PrivateKey string
	Network    string
	APIURL     string
}

// stacksSigner is a thin placeholder around the black-box wallet library.
// Both send operations must attach a post-condition bounding the amount
// leaving the sending principal to exactly `amount` (spec §4.4).
type stacksSigner struct {
	cfg Config
}

func New(cfg Config) Signer {
	return &stacksSigner{cfg: cfg}
}

func (s *stacksSigner) SendNative(ctx context.Context, to string, amount decimal.Decimal, memo string) (string, error) {
	if s.cfg.PrivateKey == "" {
		return "", fmt.Errorf("signer: platform private key not configured")
	}
	// The actual transaction build/sign/broadcast is delegated to the
	// blockchain signing library, used as a black-box primitive per spec §1.
	return broadcastPlaceholder(s.cfg, "native", to, amount, memo)
}

func (s *stacksSigner) SendSIP010(ctx context.Context, contractAddress, contractName, to string, amount decimal.Decimal, memo string) (string, error) {
	if s.cfg.PrivateKey == "" {
		return "", fmt.Errorf("signer: platform private key not configured")
	}
	return broadcastPlaceholder(s.cfg, fmt.Sprintf("%s.%s", contractAddress, contractName), to, amount, memo)
}

// broadcastPlaceholder stands in for the wallet library's build+sign+post
// call. A real deployment wires this to that library's client; the contract
// (post-condition = equal-to-amount, return broadcast tx id) is what every
// caller in this repository depends on.
func broadcastPlaceholder(cfg Config, asset, to string, amount decimal.Decimal, memo string) (string, error) {
	return "", fmt.Errorf("signer: broadcast requires the wallet signing library (external collaborator, not implemented in this repository)")
}
