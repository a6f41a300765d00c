package repository

import (
	"context"
	"errors"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/clippy-oss/homie/canister-chat/internal/domain"
)

type gormSessionRepository struct {
	db *gorm.DB
}

func NewSessionRepository(db *gorm.DB) SessionRepository {
	return &gormSessionRepository{db: db}
}

func (r *gormSessionRepository) Load(ctx context.Context) (*domain.User, error) {
	var model SessionModel
	if err := r.db.WithContext(ctx).First(&model, "record_key = ?", SessionKey).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return SessionModelToDomain(&model), nil
}

func (r *gormSessionRepository) Save(ctx context.Context, user *domain.User) error {
	if user == nil {
		return errors.New("save session: nil user")
	}
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "record_key"}},
			UpdateAll: true,
		}).
		Create(SessionDomainToModel(user)).Error
}

func (r *gormSessionRepository) Clear(ctx context.Context) error {
	return r.db.WithContext(ctx).
		Where("record_key = ?", SessionKey).
		Delete(&SessionModel{}).Error
}
