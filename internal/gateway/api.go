package gateway

import (
	"context"

	"google.golang.org/protobuf/types/known/structpb"

	"github.com/clippy-oss/homie/canister-chat/internal/domain"
)

// Backend operation names.
const (
	MethodGenerateOTP           = "generateOTP"
	MethodRegisterUser          = "registerUser"
	MethodLoginUser             = "loginUser"
	MethodLogoutUser            = "logoutUser"
	MethodUpdateUserProfile     = "updateUserProfile"
	MethodSendDirectMessage     = "sendDirectMessage"
	MethodSendGroupMessage      = "sendGroupMessage"
	MethodCreateGroup           = "createGroup"
	MethodAddMemberToGroup      = "addMemberToGroup"
	MethodMarkMessageAsRead     = "markMessageAsRead"
	MethodDeleteMessage         = "deleteMessage"
	MethodGetUser               = "getUser"
	MethodGetAllUsers           = "getAllUsers"
	MethodGetOnlineUsers        = "getOnlineUsers"
	MethodGetDirectMessages     = "getDirectMessages"
	MethodGetGroupMessages      = "getGroupMessages"
	MethodGetUserGroups         = "getUserGroups"
	MethodGetGroup              = "getGroup"
	MethodGetUnreadMessageCount = "getUnreadMessageCount"
	MethodCleanupExpiredOTPs    = "cleanupExpiredOTPs"
	MethodHealth                = "health"
)

// Caller invokes a backend operation. *Gateway implements it.
type Caller interface {
	Call(ctx context.Context, method string, args ...*structpb.Value) (*structpb.Value, error)
}

// API exposes the backend operations with Go types. Explicit err results
// become domain.KindRemoteRejected errors carrying the backend text.
type API struct {
	caller Caller
}

func NewAPI(caller Caller) *API {
	return &API{caller: caller}
}

// call invokes method and decodes the plain reply.
func call[T any](ctx context.Context, a *API, method string, decode func(*structpb.Value) (T, error), args ...*structpb.Value) (T, error) {
	var zero T
	reply, err := a.caller.Call(ctx, method, args...)
	if err != nil {
		return zero, err
	}
	out, err := decode(reply)
	if err != nil {
		return zero, normalize(method, err)
	}
	return out, nil
}

// callResult invokes method and decodes the ok payload of an {ok}|{err} reply.
func callResult[T any](ctx context.Context, a *API, method string, decode func(*structpb.Value) (T, error), args ...*structpb.Value) (T, error) {
	return call(ctx, a, method, func(v *structpb.Value) (T, error) {
		var zero T
		res, err := DecodeResult(v)
		if err != nil {
			return zero, err
		}
		if res.Rejected {
			return zero, domain.RemoteRejected(method, res.Message)
		}
		return decode(res.Value)
	}, args...)
}

func ignore(*structpb.Value) (struct{}, error) { return struct{}{}, nil }

func decodeOpt[T any](decode func(*structpb.Value) (T, error)) func(*structpb.Value) (*T, error) {
	return func(v *structpb.Value) (*T, error) {
		inner, ok, err := AsOpt(v)
		if err != nil || !ok {
			return nil, err
		}
		out, err := decode(inner)
		if err != nil {
			return nil, err
		}
		return &out, nil
	}
}

func (a *API) GenerateOTP(ctx context.Context, email string) (string, error) {
	return callResult(ctx, a, MethodGenerateOTP, AsText, Text(email))
}

func (a *API) RegisterUser(ctx context.Context, email, name, code string) (domain.User, error) {
	return callResult(ctx, a, MethodRegisterUser, DecodeUser, Text(email), Text(name), Text(code))
}

func (a *API) LoginUser(ctx context.Context, email string) (domain.User, error) {
	return callResult(ctx, a, MethodLoginUser, DecodeUser, Text(email))
}

func (a *API) LogoutUser(ctx context.Context, userID string) error {
	_, err := callResult(ctx, a, MethodLogoutUser, ignore, Text(userID))
	return err
}

// UpdateUserProfile leaves a field unchanged when it is nil.
func (a *API) UpdateUserProfile(ctx context.Context, userID string, name, avatar *string) (domain.User, error) {
	return callResult(ctx, a, MethodUpdateUserProfile, DecodeUser, Text(userID), OptTextPtr(name), OptTextPtr(avatar))
}

func (a *API) SendDirectMessage(ctx context.Context, senderID, receiverID, content string, msgType domain.MessageType) (uint64, error) {
	return callResult(ctx, a, MethodSendDirectMessage, AsNat,
		Text(senderID), Text(receiverID), Text(content), Variant(string(msgType)))
}

func (a *API) SendGroupMessage(ctx context.Context, senderID, groupID, content string, msgType domain.MessageType) (uint64, error) {
	return callResult(ctx, a, MethodSendGroupMessage, AsNat,
		Text(senderID), Text(groupID), Text(content), Variant(string(msgType)))
}

func (a *API) CreateGroup(ctx context.Context, name, description, creatorID string, memberIDs []string) (domain.Group, error) {
	return callResult(ctx, a, MethodCreateGroup, DecodeGroup,
		Text(name), OptText(description), Text(creatorID), TextList(memberIDs))
}

func (a *API) AddMemberToGroup(ctx context.Context, groupID, newMemberID, addedBy string) (domain.Group, error) {
	return callResult(ctx, a, MethodAddMemberToGroup, DecodeGroup, Text(groupID), Text(newMemberID), Text(addedBy))
}

func (a *API) MarkMessageAsRead(ctx context.Context, messageID uint64, userID string) error {
	_, err := callResult(ctx, a, MethodMarkMessageAsRead, ignore, Nat(messageID), Text(userID))
	return err
}

func (a *API) DeleteMessage(ctx context.Context, messageID uint64, userID string) error {
	_, err := callResult(ctx, a, MethodDeleteMessage, ignore, Nat(messageID), Text(userID))
	return err
}

// GetUser returns nil when the backend does not know the user.
func (a *API) GetUser(ctx context.Context, userID string) (*domain.User, error) {
	return call(ctx, a, MethodGetUser, decodeOpt(DecodeUser), Text(userID))
}

func (a *API) GetAllUsers(ctx context.Context) ([]domain.User, error) {
	return call(ctx, a, MethodGetAllUsers, DecodeUsers)
}

func (a *API) GetOnlineUsers(ctx context.Context) ([]domain.User, error) {
	return call(ctx, a, MethodGetOnlineUsers, DecodeUsers)
}

// GetDirectMessages returns the messages exchanged between two users in both
// directions, in server order.
func (a *API) GetDirectMessages(ctx context.Context, userA, userB string) ([]domain.Message, error) {
	return call(ctx, a, MethodGetDirectMessages, DecodeMessages, Text(userA), Text(userB))
}

func (a *API) GetGroupMessages(ctx context.Context, groupID string) ([]domain.Message, error) {
	return call(ctx, a, MethodGetGroupMessages, DecodeMessages, Text(groupID))
}

func (a *API) GetUserGroups(ctx context.Context, userID string) ([]domain.Group, error) {
	return call(ctx, a, MethodGetUserGroups, DecodeGroups, Text(userID))
}

// GetGroup returns nil when the group does not exist.
func (a *API) GetGroup(ctx context.Context, groupID string) (*domain.Group, error) {
	return call(ctx, a, MethodGetGroup, decodeOpt(DecodeGroup), Text(groupID))
}

func (a *API) GetUnreadMessageCount(ctx context.Context, userID string) (uint64, error) {
	return call(ctx, a, MethodGetUnreadMessageCount, AsNat, Text(userID))
}

func (a *API) CleanupExpiredOTPs(ctx context.Context) error {
	_, err := call(ctx, a, MethodCleanupExpiredOTPs, ignore)
	return err
}

func (a *API) Health(ctx context.Context) (HealthStatus, error) {
	return call(ctx, a, MethodHealth, DecodeHealth)
}
