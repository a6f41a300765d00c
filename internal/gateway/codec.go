package gateway

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"time"

	"google.golang.org/protobuf/types/known/structpb"

	"github.com/clippy-oss/homie/canister-chat/internal/domain"
)

// Wire mapping between backend values and structpb:
//
//	text          string value
//	nat, int      decimal string (numbers accepted on decode)
//	opt T         list of 0 or 1 element
//	variant       struct with a single key mapped to null
//	result        struct {"ok": v} or {"err": "message"}
//	record        struct keyed by field name
//
// Both the client and the development backend use these helpers, so they are
// the single definition of the contract.

var ErrMalformed = errors.New("malformed value")

func malformed(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrMalformed, fmt.Sprintf(format, args...))
}

func Text(s string) *structpb.Value { return structpb.NewStringValue(s) }

func Nat(n uint64) *structpb.Value { return structpb.NewStringValue(strconv.FormatUint(n, 10)) }

func Int(n int64) *structpb.Value { return structpb.NewStringValue(strconv.FormatInt(n, 10)) }

func Bool(b bool) *structpb.Value { return structpb.NewBoolValue(b) }

func Null() *structpb.Value { return structpb.NewNullValue() }

func Some(v *structpb.Value) *structpb.Value {
	return structpb.NewListValue(&structpb.ListValue{Values: []*structpb.Value{v}})
}

func None() *structpb.Value { return structpb.NewListValue(&structpb.ListValue{}) }

// OptText encodes "" as absent.
func OptText(s string) *structpb.Value {
	if s == "" {
		return None()
	}
	return Some(Text(s))
}

// OptTextPtr encodes nil as absent and any other value, "" included, as
// present.
func OptTextPtr(p *string) *structpb.Value {
	if p == nil {
		return None()
	}
	return Some(Text(*p))
}

func Variant(tag string) *structpb.Value {
	return record(map[string]*structpb.Value{tag: Null()})
}

func List(values []*structpb.Value) *structpb.Value {
	return structpb.NewListValue(&structpb.ListValue{Values: values})
}

func TextList(ss []string) *structpb.Value {
	values := make([]*structpb.Value, len(ss))
	for i, s := range ss {
		values[i] = Text(s)
	}
	return List(values)
}

func Ok(v *structpb.Value) *structpb.Value {
	if v == nil {
		v = Null()
	}
	return record(map[string]*structpb.Value{"ok": v})
}

func Err(message string) *structpb.Value {
	return record(map[string]*structpb.Value{"err": Text(message)})
}

func record(fields map[string]*structpb.Value) *structpb.Value {
	return structpb.NewStructValue(&structpb.Struct{Fields: fields})
}

func AsText(v *structpb.Value) (string, error) {
	sv, ok := v.GetKind().(*structpb.Value_StringValue)
	if !ok {
		return "", malformed("expected text, got %s", kindName(v))
	}
	return sv.StringValue, nil
}

func AsNat(v *structpb.Value) (uint64, error) {
	switch k := v.GetKind().(type) {
	case *structpb.Value_StringValue:
		n, err := strconv.ParseUint(k.StringValue, 10, 64)
		if err != nil {
			return 0, malformed("invalid nat %q", k.StringValue)
		}
		return n, nil
	case *structpb.Value_NumberValue:
		f := k.NumberValue
		if f < 0 || f != math.Trunc(f) || f >= math.MaxUint64 {
			return 0, malformed("invalid nat %v", f)
		}
		return uint64(f), nil
	}
	return 0, malformed("expected nat, got %s", kindName(v))
}

func AsInt(v *structpb.Value) (int64, error) {
	switch k := v.GetKind().(type) {
	case *structpb.Value_StringValue:
		n, err := strconv.ParseInt(k.StringValue, 10, 64)
		if err != nil {
			return 0, malformed("invalid int %q", k.StringValue)
		}
		return n, nil
	case *structpb.Value_NumberValue:
		f := k.NumberValue
		if f != math.Trunc(f) || f > math.MaxInt64 || f < math.MinInt64 {
			return 0, malformed("invalid int %v", f)
		}
		return int64(f), nil
	}
	return 0, malformed("expected int, got %s", kindName(v))
}

func AsBool(v *structpb.Value) (bool, error) {
	bv, ok := v.GetKind().(*structpb.Value_BoolValue)
	if !ok {
		return false, malformed("expected bool, got %s", kindName(v))
	}
	return bv.BoolValue, nil
}

func AsList(v *structpb.Value) ([]*structpb.Value, error) {
	lv, ok := v.GetKind().(*structpb.Value_ListValue)
	if !ok {
		return nil, malformed("expected list, got %s", kindName(v))
	}
	return lv.ListValue.GetValues(), nil
}

// AsOpt returns the inner value and true, or nil and false when absent.
func AsOpt(v *structpb.Value) (*structpb.Value, bool, error) {
	values, err := AsList(v)
	if err != nil {
		return nil, false, malformed("expected opt, got %s", kindName(v))
	}
	switch len(values) {
	case 0:
		return nil, false, nil
	case 1:
		return values[0], true, nil
	}
	return nil, false, malformed("opt with %d elements", len(values))
}

func AsOptText(v *structpb.Value) (string, error) {
	inner, ok, err := AsOpt(v)
	if err != nil || !ok {
		return "", err
	}
	return AsText(inner)
}

func AsOptTextPtr(v *structpb.Value) (*string, error) {
	inner, ok, err := AsOpt(v)
	if err != nil || !ok {
		return nil, err
	}
	s, err := AsText(inner)
	if err != nil {
		return nil, err
	}
	return &s, nil
}

func AsVariant(v *structpb.Value) (string, error) {
	fields, err := asStruct(v)
	if err != nil {
		return "", err
	}
	if len(fields) != 1 {
		return "", malformed("variant with %d tags", len(fields))
	}
	for tag := range fields {
		return tag, nil
	}
	return "", nil
}

func AsTextList(v *structpb.Value) ([]string, error) {
	values, err := AsList(v)
	if err != nil {
		return nil, err
	}
	out := make([]string, len(values))
	for i, item := range values {
		if out[i], err = AsText(item); err != nil {
			return nil, fmt.Errorf("element %d: %w", i, err)
		}
	}
	return out, nil
}

func asStruct(v *structpb.Value) (map[string]*structpb.Value, error) {
	sv, ok := v.GetKind().(*structpb.Value_StructValue)
	if !ok {
		return nil, malformed("expected record, got %s", kindName(v))
	}
	return sv.StructValue.GetFields(), nil
}

func kindName(v *structpb.Value) string {
	switch v.GetKind().(type) {
	case nil:
		return "nothing"
	case *structpb.Value_NullValue:
		return "null"
	case *structpb.Value_NumberValue:
		return "number"
	case *structpb.Value_StringValue:
		return "text"
	case *structpb.Value_BoolValue:
		return "bool"
	case *structpb.Value_StructValue:
		return "record"
	case *structpb.Value_ListValue:
		return "list"
	}
	return "unknown"
}

// Result is a decoded {ok}|{err} reply. Callers branch on Rejected, never on
// the shape of Value.
type Result struct {
	Value    *structpb.Value
	Rejected bool
	Message  string
}

func DecodeResult(v *structpb.Value) (Result, error) {
	fields, err := asStruct(v)
	if err != nil {
		return Result{}, err
	}
	if len(fields) != 1 {
		return Result{}, malformed("result with %d tags", len(fields))
	}
	if ok, found := fields["ok"]; found {
		return Result{Value: ok}, nil
	}
	if e, found := fields["err"]; found {
		msg, err := AsText(e)
		if err != nil {
			return Result{}, fmt.Errorf("err payload: %w", err)
		}
		return Result{Rejected: true, Message: msg}, nil
	}
	return Result{}, malformed("result without ok or err tag")
}

// fieldReader decodes record fields, keeping the first error.
type fieldReader struct {
	name   string
	fields map[string]*structpb.Value
	err    error
}

func readRecord(name string, v *structpb.Value) *fieldReader {
	fields, err := asStruct(v)
	return &fieldReader{name: name, fields: fields, err: err}
}

func (r *fieldReader) field(key string) *structpb.Value {
	if r.err != nil {
		return nil
	}
	v, ok := r.fields[key]
	if !ok {
		r.err = malformed("%s: missing field %q", r.name, key)
		return nil
	}
	return v
}

func (r *fieldReader) decode(key string, fn func(*structpb.Value) error) {
	v := r.field(key)
	if r.err != nil {
		return
	}
	if err := fn(v); err != nil {
		r.err = fmt.Errorf("%s.%s: %w", r.name, key, err)
	}
}

func (r *fieldReader) text(key string) (s string) {
	r.decode(key, func(v *structpb.Value) (err error) { s, err = AsText(v); return })
	return
}

func (r *fieldReader) optText(key string) (s string) {
	r.decode(key, func(v *structpb.Value) (err error) { s, err = AsOptText(v); return })
	return
}

func (r *fieldReader) nat(key string) (n uint64) {
	r.decode(key, func(v *structpb.Value) (err error) { n, err = AsNat(v); return })
	return
}

func (r *fieldReader) integer(key string) (n int64) {
	r.decode(key, func(v *structpb.Value) (err error) { n, err = AsInt(v); return })
	return
}

func (r *fieldReader) boolean(key string) (b bool) {
	r.decode(key, func(v *structpb.Value) (err error) { b, err = AsBool(v); return })
	return
}

func (r *fieldReader) textList(key string) (ss []string) {
	r.decode(key, func(v *structpb.Value) (err error) { ss, err = AsTextList(v); return })
	return
}

func (r *fieldReader) variant(key string) (tag string) {
	r.decode(key, func(v *structpb.Value) (err error) { tag, err = AsVariant(v); return })
	return
}

func EncodeUser(u domain.User) *structpb.Value {
	return record(map[string]*structpb.Value{
		"id":        Text(u.ID),
		"name":      Text(u.Name),
		"email":     Text(u.Email),
		"avatar":    OptText(u.Avatar),
		"isOnline":  Bool(u.IsOnline),
		"lastSeen":  Int(domain.ToWireTime(u.LastSeen)),
		"createdAt": Int(domain.ToWireTime(u.CreatedAt)),
	})
}

func DecodeUser(v *structpb.Value) (domain.User, error) {
	r := readRecord("user", v)
	u := domain.User{
		ID:        r.text("id"),
		Name:      r.text("name"),
		Email:     r.text("email"),
		Avatar:    r.optText("avatar"),
		IsOnline:  r.boolean("isOnline"),
		LastSeen:  domain.FromWireTime(r.integer("lastSeen")),
		CreatedAt: domain.FromWireTime(r.integer("createdAt")),
	}
	return u, r.err
}

func EncodeGroup(g domain.Group) *structpb.Value {
	return record(map[string]*structpb.Value{
		"id":          Text(g.ID),
		"name":        Text(g.Name),
		"description": OptText(g.Description),
		"createdBy":   Text(g.CreatedBy),
		"members":     TextList(g.Members),
		"createdAt":   Int(domain.ToWireTime(g.CreatedAt)),
	})
}

func DecodeGroup(v *structpb.Value) (domain.Group, error) {
	r := readRecord("group", v)
	g := domain.Group{
		ID:          r.text("id"),
		Name:        r.text("name"),
		Description: r.optText("description"),
		CreatedBy:   r.text("createdBy"),
		Members:     domain.MemberSet(r.textList("members")),
		CreatedAt:   domain.FromWireTime(r.integer("createdAt")),
	}
	return g, r.err
}

func EncodeMessage(m domain.Message) *structpb.Value {
	return record(map[string]*structpb.Value{
		"id":          Nat(m.ID),
		"senderId":    Text(m.SenderID),
		"receiverId":  OptText(m.ReceiverID),
		"groupId":     OptText(m.GroupID),
		"content":     Text(m.Content),
		"messageType": Variant(string(m.Type)),
		"timestamp":   Int(domain.ToWireTime(m.Timestamp)),
		"isRead":      Bool(m.IsRead),
	})
}

// DecodeMessage rejects messages that do not name exactly one conversation.
func DecodeMessage(v *structpb.Value) (domain.Message, error) {
	r := readRecord("message", v)
	m := domain.Message{
		ID:         r.nat("id"),
		SenderID:   r.text("senderId"),
		ReceiverID: r.optText("receiverId"),
		GroupID:    r.optText("groupId"),
		Content:    r.text("content"),
		Type:       domain.MessageType(r.variant("messageType")),
		Timestamp:  domain.FromWireTime(r.integer("timestamp")),
		IsRead:     r.boolean("isRead"),
	}
	if r.err != nil {
		return domain.Message{}, r.err
	}
	if !m.Type.Valid() {
		return domain.Message{}, malformed("message %d: unknown type %q", m.ID, m.Type)
	}
	if err := m.Validate(); err != nil {
		return domain.Message{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return m, nil
}

func decodeList[T any](v *structpb.Value, decode func(*structpb.Value) (T, error)) ([]T, error) {
	values, err := AsList(v)
	if err != nil {
		return nil, err
	}
	out := make([]T, 0, len(values))
	for i, item := range values {
		decoded, err := decode(item)
		if err != nil {
			return nil, fmt.Errorf("element %d: %w", i, err)
		}
		out = append(out, decoded)
	}
	return out, nil
}

func encodeList[T any](items []T, encode func(T) *structpb.Value) *structpb.Value {
	values := make([]*structpb.Value, len(items))
	for i, item := range items {
		values[i] = encode(item)
	}
	return List(values)
}

func EncodeUsers(users []domain.User) *structpb.Value { return encodeList(users, EncodeUser) }

func EncodeGroups(groups []domain.Group) *structpb.Value { return encodeList(groups, EncodeGroup) }

func EncodeMessages(msgs []domain.Message) *structpb.Value { return encodeList(msgs, EncodeMessage) }

func DecodeUsers(v *structpb.Value) ([]domain.User, error) { return decodeList(v, DecodeUser) }

func DecodeGroups(v *structpb.Value) ([]domain.Group, error) { return decodeList(v, DecodeGroup) }

func DecodeMessages(v *structpb.Value) ([]domain.Message, error) { return decodeList(v, DecodeMessage) }

// HealthStatus is the backend health record. Warning is set when a local
// probe failed and the status was reported as ok anyway.
type HealthStatus struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	Warning   string    `json:"warning,omitempty"`
}

func EncodeHealth(h HealthStatus) *structpb.Value {
	return record(map[string]*structpb.Value{
		"status":    Text(h.Status),
		"timestamp": Int(domain.ToWireTime(h.Timestamp)),
	})
}

func DecodeHealth(v *structpb.Value) (HealthStatus, error) {
	r := readRecord("health", v)
	h := HealthStatus{
		Status:    r.text("status"),
		Timestamp: domain.FromWireTime(r.integer("timestamp")),
	}
	return h, r.err
}
