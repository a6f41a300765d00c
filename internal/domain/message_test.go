package domain

import (
	"strings"
	"testing"
	"time"
)

func TestMessageValidateDiscriminator(t *testing.T) {
	tests := []struct {
		name    string
		msg     Message
		wantErr bool
		kind    ChatKind
	}{
		{name: "direct", msg: Message{ID: 1, ReceiverID: "bob"}, kind: ChatKindDirect},
		{name: "group", msg: Message{ID: 2, GroupID: "g1"}, kind: ChatKindGroup},
		{name: "both", msg: Message{ID: 3, ReceiverID: "bob", GroupID: "g1"}, wantErr: true},
		{name: "neither", msg: Message{ID: 4}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.msg.Validate()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr && tt.msg.Kind() != tt.kind {
				t.Errorf("Kind() = %q, want %q", tt.msg.Kind(), tt.kind)
			}
		})
	}
}

func TestParseMessageType(t *testing.T) {
	for _, s := range []string{"text", "image", "document", "file"} {
		if _, err := ParseMessageType(s); err != nil {
			t.Errorf("ParseMessageType(%q) error = %v", s, err)
		}
	}
	if _, err := ParseMessageType("video"); err == nil {
		t.Error("ParseMessageType(video) succeeded, want error")
	}
}

func TestWireTimeRoundTrip(t *testing.T) {
	ts := time.Date(2024, 3, 1, 12, 30, 0, 123, time.UTC)
	got := FromWireTime(ToWireTime(ts))
	if !got.Equal(ts) {
		t.Errorf("round trip = %v, want %v", got, ts)
	}
	if !FromWireTime(0).IsZero() {
		t.Error("FromWireTime(0) should be the zero time")
	}
}

func TestValidateContent(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr bool
	}{
		{"plain", "hello", false},
		{"empty", "", true},
		{"whitespace", "   \n\t", true},
		{"at limit", strings.Repeat("a", MaxMessageLength), false},
		{"over limit", strings.Repeat("a", MaxMessageLength+1), true},
		{"padded at limit", "  " + strings.Repeat("é", MaxMessageLength) + "  ", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateContent("send", tt.content)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ValidateContent() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !IsKind(err, KindValidation) {
				t.Errorf("error kind = %q, want validation", KindOf(err))
			}
		})
	}
}

func TestValidateCredentials(t *testing.T) {
	if err := ValidateEmail("login", "alice@example.com"); err != nil {
		t.Errorf("valid email rejected: %v", err)
	}
	for _, bad := range []string{"", "alice", "alice@", "alice@example", "a b@example.com"} {
		if err := ValidateEmail("login", bad); err == nil {
			t.Errorf("ValidateEmail(%q) succeeded, want error", bad)
		}
	}
	if err := ValidateOTP("register", "123456"); err != nil {
		t.Errorf("valid otp rejected: %v", err)
	}
	for _, bad := range []string{"12345", "1234567", "12a456", ""} {
		if err := ValidateOTP("register", bad); err == nil {
			t.Errorf("ValidateOTP(%q) succeeded, want error", bad)
		}
	}
	if err := ValidateGroupName("create_group", strings.Repeat("g", MaxGroupNameLength+1)); err == nil {
		t.Error("over-long group name accepted")
	}
}

func TestMemberSet(t *testing.T) {
	got := MemberSet([]string{"a", "b", "a", "", "c", "b"})
	want := []string{"a", "b", "c"}
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Errorf("MemberSet() = %v, want %v", got, want)
	}
}

func TestUserInitials(t *testing.T) {
	tests := map[string]string{
		"Alice":           "A",
		"alice smith":     "AS",
		"Jean Luc Picard": "JP",
		"":                "?",
	}
	for name, want := range tests {
		u := &User{Name: name}
		if got := u.Initials(); got != want {
			t.Errorf("Initials(%q) = %q, want %q", name, got, want)
		}
	}
}
