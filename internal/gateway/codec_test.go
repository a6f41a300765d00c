package gateway

import (
	"errors"
	"testing"
	"time"

	"google.golang.org/protobuf/types/known/structpb"

	"github.com/clippy-oss/homie/canister-chat/internal/domain"
)

func TestMessageCodec(t *testing.T) {
	ts := time.Unix(1700000000, 42)
	direct := domain.Message{
		ID:         7,
		SenderID:   "u1",
		ReceiverID: "u2",
		Content:    "hi",
		Type:       domain.MessageTypeText,
		Timestamp:  ts,
	}

	got, err := DecodeMessage(EncodeMessage(direct))
	if err != nil {
		t.Fatalf("DecodeMessage() error = %v", err)
	}
	if got.ID != 7 || got.ReceiverID != "u2" || got.GroupID != "" || !got.Timestamp.Equal(ts) {
		t.Errorf("DecodeMessage() = %+v", got)
	}

	both := direct
	both.GroupID = "g1"
	if _, err := DecodeMessage(EncodeMessage(both)); !errors.Is(err, ErrMalformed) {
		t.Errorf("message with both discriminators: error = %v, want ErrMalformed", err)
	}

	neither := direct
	neither.ReceiverID = ""
	if _, err := DecodeMessage(EncodeMessage(neither)); !errors.Is(err, ErrMalformed) {
		t.Errorf("message with no discriminator: error = %v, want ErrMalformed", err)
	}

	badType := direct
	badType.Type = "video"
	if _, err := DecodeMessage(EncodeMessage(badType)); !errors.Is(err, ErrMalformed) {
		t.Errorf("unknown message type: error = %v, want ErrMalformed", err)
	}
}

func TestDecodeMessageMissingField(t *testing.T) {
	v := EncodeMessage(domain.Message{ID: 1, SenderID: "u1", GroupID: "g", Type: domain.MessageTypeText})
	delete(v.GetStructValue().Fields, "content")

	_, err := DecodeMessage(v)
	if !errors.Is(err, ErrMalformed) {
		t.Fatalf("error = %v, want ErrMalformed", err)
	}
}

func TestAsNatAcceptsNumbers(t *testing.T) {
	tests := []struct {
		name    string
		value   *structpb.Value
		want    uint64
		wantErr bool
	}{
		{"string", Nat(42), 42, false},
		{"number", structpb.NewNumberValue(42), 42, false},
		{"negative", structpb.NewNumberValue(-1), 0, true},
		{"fraction", structpb.NewNumberValue(1.5), 0, true},
		{"largest exact", structpb.NewNumberValue(1 << 53), 1 << 53, false},
		{"two to the 64", structpb.NewNumberValue(1 << 64), 0, true},
		{"above range", structpb.NewNumberValue(1e20), 0, true},
		{"garbage", Text("forty-two"), 0, true},
		{"bool", Bool(true), 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := AsNat(tt.value)
			if (err != nil) != tt.wantErr {
				t.Fatalf("AsNat() error = %v, wantErr %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("AsNat() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestGroupCodecDeduplicatesMembers(t *testing.T) {
	g := domain.Group{ID: "g1", Name: "team", CreatedBy: "u1", Members: []string{"u1", "u2", "u1"}}
	got, err := DecodeGroup(EncodeGroup(g))
	if err != nil {
		t.Fatal(err)
	}
	if len(got.Members) != 2 {
		t.Errorf("Members = %v, want deduplicated", got.Members)
	}
	if got.Description != "" {
		t.Errorf("Description = %q, want absent", got.Description)
	}
}

func TestDecodeResult(t *testing.T) {
	res, err := DecodeResult(Ok(Nat(42)))
	if err != nil || res.Rejected {
		t.Fatalf("DecodeResult(ok) = %+v, %v", res, err)
	}
	if n, _ := AsNat(res.Value); n != 42 {
		t.Errorf("ok payload = %d, want 42", n)
	}

	res, err = DecodeResult(Err("User already exists"))
	if err != nil || !res.Rejected || res.Message != "User already exists" {
		t.Fatalf("DecodeResult(err) = %+v, %v", res, err)
	}

	if _, err := DecodeResult(Text("ok")); !errors.Is(err, ErrMalformed) {
		t.Errorf("non-record result: error = %v, want ErrMalformed", err)
	}
}

func TestOptAndVariant(t *testing.T) {
	if _, ok, err := AsOpt(None()); ok || err != nil {
		t.Errorf("AsOpt(None) = %v, %v", ok, err)
	}
	inner, ok, err := AsOpt(Some(Text("x")))
	if !ok || err != nil {
		t.Fatalf("AsOpt(Some) = %v, %v", ok, err)
	}
	if s, _ := AsText(inner); s != "x" {
		t.Errorf("inner = %q", s)
	}
	if _, _, err := AsOpt(List([]*structpb.Value{Text("a"), Text("b")})); err == nil {
		t.Error("AsOpt accepted two elements")
	}

	tag, err := AsVariant(Variant("image"))
	if err != nil || tag != "image" {
		t.Errorf("AsVariant() = %q, %v", tag, err)
	}
}
