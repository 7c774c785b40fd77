package utils

import (
	"testing"
	"time"
)

func TestParseDateOnly(t *testing.T) {
	got, err := ParseDateOnly("2026-09-07")
	if err != nil {
		t.Fatalf("ParseDateOnly: %v", err)
	}
	want := time.Date(2026, time.September, 7, 0, 0, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Fatalf("ParseDateOnly = %s, want %s", got, want)
	}
	if _, err := ParseDateOnly("07-09-2026"); err == nil {
		t.Fatal("wrong layout should be rejected")
	}
	if FormatDateOnly(want) != "2026-09-07" {
		t.Fatalf("FormatDateOnly = %s", FormatDateOnly(want))
	}
}

func TestConvertToDateStripsTime(t *testing.T) {
	in := time.Date(2026, time.September, 7, 18, 45, 12, 0, time.UTC)
	got, err := ConvertToDate(in, "UTC")
	if err != nil {
		t.Fatalf("ConvertToDate: %v", err)
	}
	if got.Hour() != 0 || got.Minute() != 0 || got.Second() != 0 {
		t.Fatalf("time component not stripped: %s", got)
	}
	if got.Day() != 7 {
		t.Fatalf("day shifted: %s", got)
	}
}

func TestIsValidEmail(t *testing.T) {
	if !IsValidEmail("buyer@example.com") {
		t.Fatal("valid address rejected")
	}
	for _, bad := range []string{"", "no-at-sign", "a@b", "spaces in@addr.com"} {
		if IsValidEmail(bad) {
			t.Fatalf("accepted %q", bad)
		}
	}
}

func TestUniqueSlice(t *testing.T) {
	got := UniqueSlice([]int{3, 1, 3, 2, 1})
	if len(got) != 3 {
		t.Fatalf("UniqueSlice = %v", got)
	}
	// first occurrence order is preserved
	if got[0] != 3 || got[1] != 1 || got[2] != 2 {
		t.Fatalf("UniqueSlice order = %v", got)
	}
}

func TestJwtRoundTrip(t *testing.T) {
	token, err := JwtGenerate("user-123", "admin")
	if err != nil {
		t.Fatalf("JwtGenerate: %v", err)
	}
	parsed, err := JwtValidate(token)
	if err != nil {
		t.Fatalf("JwtValidate: %v", err)
	}
	claims, ok := parsed.Claims.(*JwtCustomClaim)
	if !ok || !parsed.Valid {
		t.Fatal("claims have wrong type or token invalid")
	}
	if claims.UserId != "user-123" || claims.Role != "admin" {
		t.Fatalf("claims = %+v", claims)
	}
}

func TestJwtValidateRejectsGarbage(t *testing.T) {
	if _, err := JwtValidate("not.a.token"); err == nil {
		t.Fatal("garbage token should not validate")
	}
}
