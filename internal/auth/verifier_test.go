package auth

import (
	"testing"
	"time"
)

func TestVerifyDev(t *testing.T) {
	v := &Verifier{Mode: "dev"}
	p, err := v.Verify("t1:Planner")
	if err != nil || p.Tenant != "t1" || p.Role != RolePlanner {
		t.Fatalf("unexpected principal %+v err=%v", p, err)
	}
	if _, err := v.Verify("nocolon"); err == nil {
		t.Fatalf("expected error for malformed dev token")
	}
}

func TestVerifyHMAC(t *testing.T) {
	secret := []byte("s3cret")
	now := time.Unix(1_700_000_000, 0)
	v := &Verifier{Mode: "hmac", HMACSecret: secret, TenantClaim: "tenant", RoleClaim: "role", Now: func() time.Time { return now }}

	tok, err := SignHS256(secret, map[string]any{"tenant": "t9", "role": "admin", "exp": now.Add(time.Minute).Unix()})
	if err != nil {
		t.Fatal(err)
	}
	p, err := v.Verify(tok)
	if err != nil || p.Tenant != "t9" || p.Role != RoleAdmin {
		t.Fatalf("unexpected principal %+v err=%v", p, err)
	}

	bad, _ := SignHS256([]byte("other"), map[string]any{"tenant": "t9"})
	if _, err := v.Verify(bad); err == nil {
		t.Fatalf("expected bad signature")
	}
	expired, _ := SignHS256(secret, map[string]any{"tenant": "t9", "exp": now.Add(-time.Minute).Unix()})
	if _, err := v.Verify(expired); err == nil {
		t.Fatalf("expected expiry error")
	}
	noRole, _ := SignHS256(secret, map[string]any{"tenant": "t9", "role": "driver"})
	if p, _ := v.Verify(noRole); p.Role != RoleViewer {
		t.Fatalf("unknown role should map to viewer, got %q", p.Role)
	}
}
