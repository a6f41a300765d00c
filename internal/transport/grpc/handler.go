package grpc

import (
	"context"
	"fmt"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/clippy-oss/homie/canister-chat/internal/devbackend"
	"github.com/clippy-oss/homie/canister-chat/internal/domain"
	"github.com/clippy-oss/homie/canister-chat/internal/gateway"
)

// operation parses the positional arguments of one backend method and
// returns the call to run once they all decoded.
type operation struct {
	arity int
	parse func(a *args) func() *structpb.Value
}

// Handler dispatches ChatBackend calls to the in-memory store.
type Handler struct {
	store *devbackend.Store
	ops   map[string]operation
}

func NewHandler(store *devbackend.Store) *Handler {
	h := &Handler{store: store}
	h.ops = map[string]operation{
		gateway.MethodGenerateOTP: {1, func(a *args) func() *structpb.Value {
			email := a.text(0)
			return func() *structpb.Value {
				code, err := store.GenerateOTP(email)
				return result(gateway.Text(code), err)
			}
		}},
		gateway.MethodRegisterUser: {3, func(a *args) func() *structpb.Value {
			email, name, code := a.text(0), a.text(1), a.text(2)
			return func() *structpb.Value {
				u, err := store.RegisterUser(email, name, code)
				return result(gateway.EncodeUser(u), err)
			}
		}},
		gateway.MethodLoginUser: {1, func(a *args) func() *structpb.Value {
			email := a.text(0)
			return func() *structpb.Value {
				u, err := store.LoginUser(email)
				return result(gateway.EncodeUser(u), err)
			}
		}},
		gateway.MethodLogoutUser: {1, func(a *args) func() *structpb.Value {
			userID := a.text(0)
			return func() *structpb.Value {
				return result(gateway.Null(), store.LogoutUser(userID))
			}
		}},
		gateway.MethodUpdateUserProfile: {3, func(a *args) func() *structpb.Value {
			userID, name, avatar := a.text(0), a.optTextPtr(1), a.optTextPtr(2)
			return func() *structpb.Value {
				u, err := store.UpdateUserProfile(userID, name, avatar)
				return result(gateway.EncodeUser(u), err)
			}
		}},
		gateway.MethodSendDirectMessage: {4, func(a *args) func() *structpb.Value {
			sender, receiver, content, typ := a.text(0), a.text(1), a.text(2), a.messageType(3)
			return func() *structpb.Value {
				id, err := store.SendDirectMessage(sender, receiver, content, typ)
				return result(gateway.Nat(id), err)
			}
		}},
		gateway.MethodSendGroupMessage: {4, func(a *args) func() *structpb.Value {
			sender, groupID, content, typ := a.text(0), a.text(1), a.text(2), a.messageType(3)
			return func() *structpb.Value {
				id, err := store.SendGroupMessage(sender, groupID, content, typ)
				return result(gateway.Nat(id), err)
			}
		}},
		gateway.MethodCreateGroup: {4, func(a *args) func() *structpb.Value {
			name, description, creator, members := a.text(0), a.optText(1), a.text(2), a.textList(3)
			return func() *structpb.Value {
				g, err := store.CreateGroup(name, description, creator, members)
				return result(gateway.EncodeGroup(g), err)
			}
		}},
		gateway.MethodAddMemberToGroup: {3, func(a *args) func() *structpb.Value {
			groupID, member, addedBy := a.text(0), a.text(1), a.text(2)
			return func() *structpb.Value {
				g, err := store.AddMemberToGroup(groupID, member, addedBy)
				return result(gateway.EncodeGroup(g), err)
			}
		}},
		gateway.MethodMarkMessageAsRead: {2, func(a *args) func() *structpb.Value {
			id, userID := a.nat(0), a.text(1)
			return func() *structpb.Value {
				return result(gateway.Null(), store.MarkMessageAsRead(id, userID))
			}
		}},
		gateway.MethodDeleteMessage: {2, func(a *args) func() *structpb.Value {
			id, userID := a.nat(0), a.text(1)
			return func() *structpb.Value {
				return result(gateway.Null(), store.DeleteMessage(id, userID))
			}
		}},
		gateway.MethodGetUser: {1, func(a *args) func() *structpb.Value {
			userID := a.text(0)
			return func() *structpb.Value {
				if u := store.GetUser(userID); u != nil {
					return gateway.Some(gateway.EncodeUser(*u))
				}
				return gateway.None()
			}
		}},
		gateway.MethodGetAllUsers: {0, func(*args) func() *structpb.Value {
			return func() *structpb.Value { return gateway.EncodeUsers(store.GetAllUsers()) }
		}},
		gateway.MethodGetOnlineUsers: {0, func(*args) func() *structpb.Value {
			return func() *structpb.Value { return gateway.EncodeUsers(store.GetOnlineUsers()) }
		}},
		gateway.MethodGetDirectMessages: {2, func(a *args) func() *structpb.Value {
			userA, userB := a.text(0), a.text(1)
			return func() *structpb.Value {
				return gateway.EncodeMessages(store.GetDirectMessages(userA, userB))
			}
		}},
		gateway.MethodGetGroupMessages: {1, func(a *args) func() *structpb.Value {
			groupID := a.text(0)
			return func() *structpb.Value { return gateway.EncodeMessages(store.GetGroupMessages(groupID)) }
		}},
		gateway.MethodGetUserGroups: {1, func(a *args) func() *structpb.Value {
			userID := a.text(0)
			return func() *structpb.Value { return gateway.EncodeGroups(store.GetUserGroups(userID)) }
		}},
		gateway.MethodGetGroup: {1, func(a *args) func() *structpb.Value {
			groupID := a.text(0)
			return func() *structpb.Value {
				if g := store.GetGroup(groupID); g != nil {
					return gateway.Some(gateway.EncodeGroup(*g))
				}
				return gateway.None()
			}
		}},
		gateway.MethodGetUnreadMessageCount: {1, func(a *args) func() *structpb.Value {
			userID := a.text(0)
			return func() *structpb.Value { return gateway.Nat(store.GetUnreadMessageCount(userID)) }
		}},
		gateway.MethodCleanupExpiredOTPs: {0, func(*args) func() *structpb.Value {
			return func() *structpb.Value {
				store.CleanupExpiredOTPs()
				return gateway.Null()
			}
		}},
		gateway.MethodHealth: {0, func(*args) func() *structpb.Value {
			return func() *structpb.Value {
				return gateway.EncodeHealth(gateway.HealthStatus{Status: "ok", Timestamp: store.Now()})
			}
		}},
	}
	return h
}

// Methods lists every method the handler serves.
func (h *Handler) Methods() []string {
	names := make([]string, 0, len(h.ops))
	for name := range h.ops {
		names = append(names, name)
	}
	return names
}

// Invoke runs method with the positional arguments in req. Malformed
// arguments fail the call with InvalidArgument; business failures are
// returned as the err branch of a result.
func (h *Handler) Invoke(ctx context.Context, method string, req *structpb.ListValue) (*structpb.Value, error) {
	op, ok := h.ops[method]
	if !ok {
		return nil, status.Errorf(codes.Unimplemented, "unknown method %s", method)
	}
	values := req.GetValues()
	if len(values) != op.arity {
		return nil, status.Errorf(codes.InvalidArgument, "%s: expected %d arguments, got %d", method, op.arity, len(values))
	}

	a := &args{values: values}
	run := op.parse(a)
	if a.err != nil {
		return nil, status.Errorf(codes.InvalidArgument, "%s: %v", method, a.err)
	}
	if err := ctx.Err(); err != nil {
		return nil, status.FromContextError(err).Err()
	}
	return run(), nil
}

func result(ok *structpb.Value, err error) *structpb.Value {
	if err != nil {
		return gateway.Err(err.Error())
	}
	return gateway.Ok(ok)
}

// args decodes positional arguments, keeping the first failure.
type args struct {
	values []*structpb.Value
	err    error
}

func (a *args) decode(i int, fn func(*structpb.Value) error) {
	if a.err != nil {
		return
	}
	if err := fn(a.values[i]); err != nil {
		a.err = fmt.Errorf("argument %d: %w", i, err)
	}
}

func (a *args) text(i int) (s string) {
	a.decode(i, func(v *structpb.Value) (err error) { s, err = gateway.AsText(v); return })
	return
}

func (a *args) optText(i int) (s string) {
	a.decode(i, func(v *structpb.Value) (err error) { s, err = gateway.AsOptText(v); return })
	return
}

func (a *args) optTextPtr(i int) (p *string) {
	a.decode(i, func(v *structpb.Value) (err error) { p, err = gateway.AsOptTextPtr(v); return })
	return
}

func (a *args) nat(i int) (n uint64) {
	a.decode(i, func(v *structpb.Value) (err error) { n, err = gateway.AsNat(v); return })
	return
}

func (a *args) textList(i int) (ss []string) {
	a.decode(i, func(v *structpb.Value) (err error) { ss, err = gateway.AsTextList(v); return })
	return
}

func (a *args) messageType(i int) (t domain.MessageType) {
	a.decode(i, func(v *structpb.Value) error {
		tag, err := gateway.AsVariant(v)
		if err != nil {
			return err
		}
		t, err = domain.ParseMessageType(tag)
		return err
	})
	return
}
