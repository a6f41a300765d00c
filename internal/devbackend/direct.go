package devbackend

import (
	"context"

	"github.com/clippy-oss/homie/canister-chat/internal/domain"
	"github.com/clippy-oss/homie/canister-chat/internal/gateway"
)

// Direct calls a Store in process, with the same signatures and error kinds
// as gateway.API. It backs the in-memory client mode and frontend tests.
type Direct struct {
	store *Store
}

func NewDirect(store *Store) *Direct {
	return &Direct{store: store}
}

// reject wraps a store rejection the way the gateway reports an err result.
func reject[T any](op string, v T, err error) (T, error) {
	if err != nil {
		var zero T
		return zero, domain.RemoteRejected(op, err.Error())
	}
	return v, nil
}

func (d *Direct) GenerateOTP(ctx context.Context, email string) (string, error) {
	code, err := d.store.GenerateOTP(email)
	return reject(gateway.MethodGenerateOTP, code, err)
}

func (d *Direct) RegisterUser(ctx context.Context, email, name, code string) (domain.User, error) {
	u, err := d.store.RegisterUser(email, name, code)
	return reject(gateway.MethodRegisterUser, u, err)
}

func (d *Direct) LoginUser(ctx context.Context, email string) (domain.User, error) {
	u, err := d.store.LoginUser(email)
	return reject(gateway.MethodLoginUser, u, err)
}

func (d *Direct) LogoutUser(ctx context.Context, userID string) error {
	_, err := reject(gateway.MethodLogoutUser, struct{}{}, d.store.LogoutUser(userID))
	return err
}

func (d *Direct) UpdateUserProfile(ctx context.Context, userID string, name, avatar *string) (domain.User, error) {
	u, err := d.store.UpdateUserProfile(userID, name, avatar)
	return reject(gateway.MethodUpdateUserProfile, u, err)
}

func (d *Direct) GetUser(ctx context.Context, userID string) (*domain.User, error) {
	return d.store.GetUser(userID), nil
}

func (d *Direct) SendDirectMessage(ctx context.Context, senderID, receiverID, content string, msgType domain.MessageType) (uint64, error) {
	id, err := d.store.SendDirectMessage(senderID, receiverID, content, msgType)
	return reject(gateway.MethodSendDirectMessage, id, err)
}

func (d *Direct) SendGroupMessage(ctx context.Context, senderID, groupID, content string, msgType domain.MessageType) (uint64, error) {
	id, err := d.store.SendGroupMessage(senderID, groupID, content, msgType)
	return reject(gateway.MethodSendGroupMessage, id, err)
}

func (d *Direct) CreateGroup(ctx context.Context, name, description, creatorID string, memberIDs []string) (domain.Group, error) {
	g, err := d.store.CreateGroup(name, description, creatorID, memberIDs)
	return reject(gateway.MethodCreateGroup, g, err)
}

func (d *Direct) AddMemberToGroup(ctx context.Context, groupID, newMemberID, addedBy string) (domain.Group, error) {
	g, err := d.store.AddMemberToGroup(groupID, newMemberID, addedBy)
	return reject(gateway.MethodAddMemberToGroup, g, err)
}

func (d *Direct) MarkMessageAsRead(ctx context.Context, messageID uint64, userID string) error {
	_, err := reject(gateway.MethodMarkMessageAsRead, struct{}{}, d.store.MarkMessageAsRead(messageID, userID))
	return err
}

func (d *Direct) DeleteMessage(ctx context.Context, messageID uint64, userID string) error {
	_, err := reject(gateway.MethodDeleteMessage, struct{}{}, d.store.DeleteMessage(messageID, userID))
	return err
}

func (d *Direct) GetAllUsers(ctx context.Context) ([]domain.User, error) {
	return d.store.GetAllUsers(), nil
}

func (d *Direct) GetOnlineUsers(ctx context.Context) ([]domain.User, error) {
	return d.store.GetOnlineUsers(), nil
}

func (d *Direct) GetDirectMessages(ctx context.Context, userA, userB string) ([]domain.Message, error) {
	return d.store.GetDirectMessages(userA, userB), nil
}

func (d *Direct) GetGroupMessages(ctx context.Context, groupID string) ([]domain.Message, error) {
	return d.store.GetGroupMessages(groupID), nil
}

func (d *Direct) GetUserGroups(ctx context.Context, userID string) ([]domain.Group, error) {
	return d.store.GetUserGroups(userID), nil
}

func (d *Direct) GetGroup(ctx context.Context, groupID string) (*domain.Group, error) {
	return d.store.GetGroup(groupID), nil
}

func (d *Direct) GetUnreadMessageCount(ctx context.Context, userID string) (uint64, error) {
	return d.store.GetUnreadMessageCount(userID), nil
}

func (d *Direct) CleanupExpiredOTPs(ctx context.Context) error {
	d.store.CleanupExpiredOTPs()
	return nil
}

func (d *Direct) Health(ctx context.Context) (gateway.HealthStatus, error) {
	return gateway.HealthStatus{Status: "ok", Timestamp: d.store.Now()}, nil
}

// Ready is always true; there is no connection to set up.
func (d *Direct) Ready() bool { return true }
