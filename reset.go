package tenauth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"

	"github.com/sinarlabs/tenauth/internal"
	internalmetrics "github.com/sinarlabs/tenauth/internal/metrics"
)

// SendOTP starts the forgot-password flow: a one-time code is stored
// under the identifier with a short TTL and handed to the notifier for
// out-of-band delivery. Requesting a new code overwrites the previous
// one.
func (e *Engine) SendOTP(ctx context.Context, identifier string) error {
	user, err := e.stores.Users.FindByIdentifier(ctx, identifier)
	if err != nil {
		return err
	}
	if user.Status != StatusActive {
		return ErrNotFound
	}

	code, err := internal.NewOTP(e.cfg.OTP.Digits)
	if err != nil {
		return err
	}
	if err := e.sessions.SaveOTP(ctx, identifier, code, e.cfg.OTP.TTL); err != nil {
		return err
	}
	return e.notifier.SendOTP(ctx, user.Email, code)
}

// VerifyOTP checks the one-time code and, on match, consumes it and
// mints a single-use reset token the client presents to ResetPassword.
// A wrong, expired, or absent code fails identically.
func (e *Engine) VerifyOTP(ctx context.Context, identifier, code string) (string, error) {
	stored, ok, err := e.sessions.GetOTP(ctx, identifier)
	if err != nil {
		return "", err
	}
	if !ok || stored != code || code == "" {
		return "", ErrOTPInvalid
	}

	if err := e.sessions.DeleteOTP(ctx, identifier); err != nil {
		return "", err
	}

	token, err := newResetToken()
	if err != nil {
		return "", err
	}
	if err := e.sessions.SaveResetToken(ctx, identifier, token, e.cfg.OTP.ResetTokenTTL); err != nil {
		return "", err
	}
	return token, nil
}

// ResetPassword completes the flow: the reset token is checked and
// consumed, the password is rehashed, and every session the user holds
// is revoked. The revocation is not optional; a reset that left old
// refresh tokens alive would let whoever held them outlive the new
// password.
func (e *Engine) ResetPassword(ctx context.Context, identifier, resetToken, newPassword string) error {
	stored, ok, err := e.sessions.GetResetToken(ctx, identifier)
	if err != nil {
		return err
	}
	if !ok || stored != resetToken || resetToken == "" {
		return ErrResetTokenInvalid
	}

	user, err := e.stores.Users.FindByIdentifier(ctx, identifier)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return ErrResetTokenInvalid
		}
		return err
	}

	hash, err := e.hasher.Hash(newPassword)
	if err != nil {
		return err
	}
	if err := e.stores.Users.UpdatePasswordHash(ctx, user.ID, hash); err != nil {
		return err
	}

	if _, err := e.sessions.DeleteAllRefresh(ctx, user.ID); err != nil {
		return err
	}
	if err := e.sessions.DeleteResetToken(ctx, identifier); err != nil {
		return err
	}

	e.metrics.Inc(internalmetrics.MetricPasswordReset)
	e.audit.Emit(AuditEvent{
		EventType: AuditPasswordReset,
		UserID:    user.ID,
		TenantID:  user.TenantID,
		Success:   true,
	})
	return nil
}

func newResetToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
