package tenauth

import (
	"context"
	"errors"
	"sync"
	"testing"
)

// recordingNotifier captures the delivered code.
type recordingNotifier struct {
	mu    sync.Mutex
	email string
	code  string
}

func (n *recordingNotifier) SendOTP(_ context.Context, email, code string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.email = email
	n.code = code
	return nil
}

func (n *recordingNotifier) last() (string, string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.email, n.code
}

func TestPasswordResetFlow(t *testing.T) {
	notifier := &recordingNotifier{}
	f := newFixture(t, WithNotifier(notifier))
	ctx := context.Background()

	tenant := f.seedTenant(t, TierPartner)
	f.seedUser(t, tenant.ID, "alice", "old-password")

	// Two live sessions before the reset.
	for i := 0; i < 2; i++ {
		if _, err := f.engine.Login(ctx, "alice", "old-password"); err != nil {
			t.Fatalf("Login: %v", err)
		}
	}

	if err := f.engine.SendOTP(ctx, "alice"); err != nil {
		t.Fatalf("SendOTP: %v", err)
	}
	email, code := notifier.last()
	if email != "alice@example.com" {
		t.Fatalf("notified %q", email)
	}
	if len(code) != testConfig().OTP.Digits {
		t.Fatalf("code %q, want %d digits", code, testConfig().OTP.Digits)
	}
	if f.mr.TTL("otp:alice") != testConfig().OTP.TTL {
		t.Fatalf("otp ttl = %v", f.mr.TTL("otp:alice"))
	}

	resetToken, err := f.engine.VerifyOTP(ctx, "alice", code)
	if err != nil {
		t.Fatalf("VerifyOTP: %v", err)
	}
	if resetToken == "" {
		t.Fatal("expected reset token")
	}
	// The code is single use.
	if _, err := f.engine.VerifyOTP(ctx, "alice", code); !errors.Is(err, ErrOTPInvalid) {
		t.Fatalf("reuse err = %v, want ErrOTPInvalid", err)
	}

	if err := f.engine.ResetPassword(ctx, "alice", resetToken, "new-password"); err != nil {
		t.Fatalf("ResetPassword: %v", err)
	}

	// Old password dead, new one works.
	if _, err := f.engine.Login(ctx, "alice", "old-password"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("old password err = %v", err)
	}
	res, err := f.engine.Login(ctx, "alice", "new-password")
	if err != nil {
		t.Fatalf("Login with new password: %v", err)
	}

	// Every pre-reset session is gone; only the post-reset login remains.
	ids, err := f.engine.ActiveSessions(ctx, res.Actor.ID)
	if err != nil {
		t.Fatalf("ActiveSessions: %v", err)
	}
	if len(ids) != 1 || ids[0] != res.Actor.SessionID {
		t.Fatalf("sessions after reset = %v", ids)
	}

	event := f.waitAudit(t, AuditPasswordReset)
	if !event.Success {
		t.Fatalf("audit event = %+v", event)
	}
}

func TestVerifyOTPRejections(t *testing.T) {
	notifier := &recordingNotifier{}
	f := newFixture(t, WithNotifier(notifier))
	ctx := context.Background()

	tenant := f.seedTenant(t, TierPartner)
	f.seedUser(t, tenant.ID, "alice", "old-password")

	if err := f.engine.SendOTP(ctx, "alice"); err != nil {
		t.Fatalf("SendOTP: %v", err)
	}

	t.Run("wrong code", func(t *testing.T) {
		if _, err := f.engine.VerifyOTP(ctx, "alice", "000000"); !errors.Is(err, ErrOTPInvalid) {
			t.Fatalf("err = %v, want ErrOTPInvalid", err)
		}
	})

	t.Run("unknown identifier", func(t *testing.T) {
		if _, err := f.engine.VerifyOTP(ctx, "nobody", "123456"); !errors.Is(err, ErrOTPInvalid) {
			t.Fatalf("err = %v, want ErrOTPInvalid", err)
		}
	})

	t.Run("expired code", func(t *testing.T) {
		_, code := notifier.last()
		f.mr.FastForward(testConfig().OTP.TTL * 2)
		if _, err := f.engine.VerifyOTP(ctx, "alice", code); !errors.Is(err, ErrOTPInvalid) {
			t.Fatalf("err = %v, want ErrOTPInvalid", err)
		}
	})
}

func TestResetPasswordRejectsBadToken(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	tenant := f.seedTenant(t, TierPartner)
	f.seedUser(t, tenant.ID, "alice", "old-password")

	if err := f.engine.ResetPassword(ctx, "alice", "forged-token", "new-password"); !errors.Is(err, ErrResetTokenInvalid) {
		t.Fatalf("err = %v, want ErrResetTokenInvalid", err)
	}
	// Password unchanged.
	if _, err := f.engine.Login(ctx, "alice", "old-password"); err != nil {
		t.Fatalf("Login: %v", err)
	}
}

func TestSendOTPUnknownUser(t *testing.T) {
	f := newFixture(t)
	if err := f.engine.SendOTP(context.Background(), "nobody"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestSendOTPOverwritesPrevious(t *testing.T) {
	notifier := &recordingNotifier{}
	f := newFixture(t, WithNotifier(notifier))
	ctx := context.Background()

	tenant := f.seedTenant(t, TierPartner)
	f.seedUser(t, tenant.ID, "alice", "old-password")

	if err := f.engine.SendOTP(ctx, "alice"); err != nil {
		t.Fatalf("SendOTP: %v", err)
	}
	_, first := notifier.last()

	if err := f.engine.SendOTP(ctx, "alice"); err != nil {
		t.Fatalf("second SendOTP: %v", err)
	}
	_, second := notifier.last()

	if first != second {
		if _, err := f.engine.VerifyOTP(ctx, "alice", first); !errors.Is(err, ErrOTPInvalid) {
			t.Fatalf("stale code err = %v, want ErrOTPInvalid", err)
		}
	}
	if _, err := f.engine.VerifyOTP(ctx, "alice", second); err != nil {
		t.Fatalf("current code: %v", err)
	}
}
