package models

import (
	"context"
	"errors"
	"html"
	"strings"
	"time"

	"bitbucket.org/mmdatafocus/datamart_backend/config"
	"bitbucket.org/mmdatafocus/datamart_backend/utils"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

type User struct {
	ID        int        `gorm:"primary_key" json:"id"`
	UserId    string     `gorm:"size:64;not null;unique" json:"user_id"`
	Email     string     `gorm:"size:100;not null;unique" json:"email" binding:"required"`
	Name      string     `gorm:"size:100" json:"name"`
	Password  string     `gorm:"size:255;not null" json:"-"`
	Role      UserRole   `gorm:"type:enum('admin','user');default:'user'" json:"role"`
	Status    UserStatus `gorm:"type:enum('pending','approved','blocked');default:'pending';index" json:"status"`
	CreatedAt time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

type NewUser struct {
	Email    string `json:"email" binding:"required,email"`
	Name     string `json:"name"`
	Password string `json:"password" binding:"required,min=6"`
}

type LoginInfo struct {
	Token  string   `json:"token"`
	UserId string   `json:"user_id"`
	Name   string   `json:"name"`
	Role   UserRole `json:"role"`
}

func (result *User) PrepareGive() {
	result.Password = ""
}

func RegisterUser(ctx context.Context, input *NewUser) (*User, error) {
	email := strings.ToLower(html.EscapeString(strings.TrimSpace(input.Email)))
	if !utils.IsValidEmail(email) {
		return nil, errors.New("invalid email")
	}
	if err := utils.ValidateUnique[User](ctx, "email", email, 0); err != nil {
		return nil, err
	}

	hashed, err := utils.HashPassword(input.Password)
	if err != nil {
		return nil, err
	}

	user := User{
		UserId:   uuid.NewString(),
		Email:    email,
		Name:     strings.TrimSpace(input.Name),
		Password: string(hashed),
		Role:     UserRoleUser,
		Status:   UserStatusPending,
	}
	db := config.GetDB()
	if err := db.WithContext(ctx).Create(&user).Error; err != nil {
		return nil, err
	}
	user.PrepareGive()
	return &user, nil
}

func Login(ctx context.Context, email string, password string) (*LoginInfo, error) {
	db := config.GetDB()
	email = strings.ToLower(strings.TrimSpace(email))

	var user User
	err := db.WithContext(ctx).Where("email = ?", email).Take(&user).Error
	if err != nil {
		return nil, errors.New("invalid email or password")
	}

	err = utils.ComparePassword(user.Password, password)
	if err != nil && err == bcrypt.ErrMismatchedHashAndPassword {
		return nil, errors.New("invalid email or password")
	}
	if err != nil {
		return nil, err
	}

	if user.Status == UserStatusBlocked {
		return nil, errors.New("user is blocked")
	}
	if user.Status == UserStatusPending && user.Role != UserRoleAdmin {
		return nil, errors.New("account pending admin approval")
	}

	token, err := utils.JwtGenerate(user.UserId, string(user.Role))
	if err != nil {
		return nil, err
	}

	return &LoginInfo{
		Token:  token,
		UserId: user.UserId,
		Name:   user.Name,
		Role:   user.Role,
	}, nil
}

// FetchUserByPublicId resolves the string user id carried in JWT claims.
// (may return RecordNotFound)
func FetchUserByPublicId(ctx context.Context, userId string) (*User, error) {
	return utils.FetchModelWhere[User](ctx, "user_id = ?", userId)
}

func SetUserStatus(ctx context.Context, userId string, status UserStatus) (*User, error) {
	user, err := FetchUserByPublicId(ctx, userId)
	if err != nil {
		return nil, err
	}
	db := config.GetDB()
	if err := db.WithContext(ctx).Model(&User{}).
		Where("user_id = ?", userId).
		Update("status", status).Error; err != nil {
		return nil, err
	}
	user.Status = status
	user.PrepareGive()
	return user, nil
}

type UserFilter struct {
	Status string `form:"status"`
	Role   string `form:"role"`
	Limit  int    `form:"limit"`
	Offset int    `form:"offset"`
}

func ListUsers(ctx context.Context, filter UserFilter) ([]User, int64, error) {
	db := config.GetDB()
	q := db.WithContext(ctx).Model(&User{})
	if filter.Status != "" {
		q = q.Where("status = ?", filter.Status)
	}
	if filter.Role != "" {
		q = q.Where("role = ?", filter.Role)
	}

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	limit := filter.Limit
	if limit <= 0 || limit > 200 {
		limit = 50
	}

	var users []User
	err := q.Order("created_at DESC").Limit(limit).Offset(filter.Offset).Find(&users).Error
	for i := range users {
		users[i].PrepareGive()
	}
	return users, total, err
}

// SeedAdmin creates or resets the admin account. Used by cmd/seed-admin.
func SeedAdmin(ctx context.Context, email string, password string) (*User, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	hashed, err := utils.HashPassword(password)
	if err != nil {
		return nil, err
	}

	db := config.GetDB()
	var user User
	err = db.WithContext(ctx).Where("email = ?", email).First(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		user = User{
			UserId:   uuid.NewString(),
			Email:    email,
			Name:     "Administrator",
			Password: string(hashed),
			Role:     UserRoleAdmin,
			Status:   UserStatusApproved,
		}
		if cerr := db.WithContext(ctx).Create(&user).Error; cerr != nil {
			return nil, cerr
		}
		user.PrepareGive()
		return &user, nil
	}
	if err != nil {
		return nil, err
	}

	if err := db.WithContext(ctx).Model(&User{}).Where("id = ?", user.ID).Updates(map[string]interface{}{
		"password": string(hashed),
		"role":     UserRoleAdmin,
		"status":   UserStatusApproved,
	}).Error; err != nil {
		return nil, err
	}
	user.PrepareGive()
	return &user, nil
}
