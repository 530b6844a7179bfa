package comet

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/drblury/botcomet/internal/runtime/auth"
	errspkg "github.com/drblury/botcomet/internal/runtime/errors"
	"github.com/drblury/botcomet/internal/runtime/logging"
	"github.com/drblury/botcomet/internal/runtime/protocol"
)

// AddPlugin runs the challenge-response handshake against the plugin that
// owns publicKeyPEM and trusts it on success.
//
// A plugin that answers wrongly yields false with a nil error. Errors report
// handshakes that could not complete: bad key material, a Station refusal,
// ErrVerificationTimeout after Conf.VerifyTimeout, or ctx cancellation.
// Nothing is trusted unless the full round trip succeeds.
func (c *Comet) AddPlugin(ctx context.Context, publicKeyPEM []byte) (bool, error) {
	s := c.session.Load()
	if s == nil || s.ID() == "" {
		return false, errspkg.ErrIdentityViolation
	}

	verifier, err := auth.NewVerifier(publicKeyPEM)
	if err != nil {
		return false, err
	}
	address := verifier.Address()
	log := c.Logger.With(logging.LogFields{"address": address})

	nonce, err := auth.NewNonce()
	if err != nil {
		return false, err
	}
	locked, err := verifier.Lock(nonce)
	if err != nil {
		return false, err
	}

	req, err := protocol.New(protocol.TypePluginVerify, s.ID(), address, "", protocol.ChallengeData{Challenge: locked})
	if err != nil {
		return false, err
	}

	log.Debug("Verifying plugin", nil)
	resp, err := s.Request(ctx, req, c.Conf.VerifyTimeout)
	if err != nil {
		if errors.Is(err, errspkg.ErrContextTimeout) {
			return false, fmt.Errorf("%w: %s after %s", errspkg.ErrVerificationTimeout, address, c.Conf.VerifyTimeout)
		}
		log.Error("Plugin verification did not complete", err, nil)
		return false, err
	}

	if resp.Src != address {
		log.Info("Plugin verification answered by another source", logging.LogFields{"src": resp.Src})
		return false, nil
	}
	var answer protocol.ChallengeData
	if err := resp.DecodeData(&answer); err != nil {
		log.Info("Plugin verification failed", logging.LogFields{"error": err.Error()})
		return false, nil
	}
	if err := verifier.Check(answer.Challenge); err != nil {
		log.Info("Plugin verification failed", logging.ErrorFields(err, logging.LogFields{"error": err.Error()}))
		return false, nil
	}

	c.trustedMu.Lock()
	c.trusted[address] = verifier
	c.trustedMu.Unlock()

	log.Info("Plugin verified", nil)
	return true, nil
}

// RemovePlugin stops trusting address.
func (c *Comet) RemovePlugin(address string) bool {
	c.trustedMu.Lock()
	defer c.trustedMu.Unlock()
	_, ok := c.trusted[address]
	delete(c.trusted, address)
	return ok
}

// IsTrusted reports whether address completed verification.
func (c *Comet) IsTrusted(address string) bool {
	c.trustedMu.RLock()
	defer c.trustedMu.RUnlock()
	_, ok := c.trusted[address]
	return ok
}

// TrustedPlugins returns the trusted plugin addresses in sorted order.
func (c *Comet) TrustedPlugins() []string {
	c.trustedMu.RLock()
	out := make([]string, 0, len(c.trusted))
	for address := range c.trusted {
		out = append(out, address)
	}
	c.trustedMu.RUnlock()

	slices.Sort(out)
	return out
}
