package fetcher

import (
	"testing"
	"time"

	"vidproxy/pkg/types"
)

func TestParseSetCookie(t *testing.T) {
	rec := ParseSetCookie("sid=abc123; Path=/; HttpOnly; Secure; SameSite=Lax")

	if rec.Name != "sid" || rec.Value != "abc123" {
		t.Errorf("pair = %s=%s", rec.Name, rec.Value)
	}
	if rec.Raw != "sid=abc123; Path=/; HttpOnly; Secure; SameSite=Lax" {
		t.Errorf("Raw = %q", rec.Raw)
	}
	want := map[string]any{"Path": "/", "HttpOnly": true, "Secure": true, "SameSite": "Lax"}
	for k, v := range want {
		if rec.Attributes[k] != v {
			t.Errorf("Attributes[%s] = %v, want %v", k, rec.Attributes[k], v)
		}
	}
	if rec.ExpiresAt != nil {
		t.Errorf("ExpiresAt = %v, want nil", rec.ExpiresAt)
	}
	if rec.Pair() != "sid=abc123" {
		t.Errorf("Pair() = %q", rec.Pair())
	}
}

func TestParseSetCookieExpiry(t *testing.T) {
	tests := []struct {
		name string
		line string
		want time.Time
		near time.Duration
	}{
		{
			name: "expires rfc1123",
			line: "a=1; Expires=Wed, 21 Oct 2026 07:28:00 GMT; Path=/",
			want: time.Date(2026, 10, 21, 7, 28, 0, 0, time.UTC),
		},
		{
			name: "max-age wins over expires",
			line: "a=1; Max-Age=3600; Expires=Wed, 21 Oct 2015 07:28:00 GMT",
			want: time.Now().Add(time.Hour),
			near: 5 * time.Second,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := ParseSetCookie(tt.line)
			if rec.ExpiresAt == nil {
				t.Fatal("ExpiresAt not set")
			}
			diff := rec.ExpiresAt.Sub(tt.want)
			if diff < 0 {
				diff = -diff
			}
			if diff > tt.near {
				t.Errorf("ExpiresAt = %v, want %v", rec.ExpiresAt, tt.want)
			}
		})
	}
}

func TestParseSetCookieValueWithEquals(t *testing.T) {
	rec := ParseSetCookie("tok=a=b==; path=/")
	if rec.Name != "tok" || rec.Value != "a=b==" {
		t.Errorf("pair = %s=%s", rec.Name, rec.Value)
	}
}

func TestParseSetCookiesOrder(t *testing.T) {
	recs := ParseSetCookies([]string{"b=2", "a=1"})
	if len(recs) != 2 || recs[0].Name != "b" || recs[1].Name != "a" {
		t.Errorf("records = %+v", recs)
	}
	if got := ParseSetCookies(nil); got == nil || len(got) != 0 {
		t.Errorf("ParseSetCookies(nil) = %v", got)
	}
}

func TestPairs(t *testing.T) {
	got := CookiePairs([]string{"a=1; Path=/", " b=2 ;HttpOnly", ""})
	if got != "a=1; b=2" {
		t.Errorf("pairs = %q", got)
	}
}

func TestEarliestExpiry(t *testing.T) {
	soon := time.Now().Add(time.Minute)
	later := soon.Add(time.Hour)
	recs := []types.CookieRecord{{Name: "x"}, {Name: "y", ExpiresAt: &later}, {Name: "z", ExpiresAt: &soon}}

	got, ok := EarliestExpiry(recs)
	if !ok || !got.Equal(soon) {
		t.Errorf("EarliestExpiry = %v, %v", got, ok)
	}
	if _, ok := EarliestExpiry([]types.CookieRecord{{Name: "x"}}); ok {
		t.Error("expected no expiry")
	}
}
