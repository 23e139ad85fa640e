package models

import (
	"context"
	"errors"
	"strconv"
	"time"

	"bitbucket.org/mmdatafocus/resto_backend/config"
	"bitbucket.org/mmdatafocus/resto_backend/utils"
	"gorm.io/gorm"
)

// User is a staff account. Role Admin is a platform (superadmin console)
// account and is not bound to a restaurant.
type User struct {
	ID           int       `gorm:"primary_key" json:"id"`
	RestaurantId string    `gorm:"size:64;index" json:"restaurant_id"`
	Username     string    `gorm:"uniqueIndex;size:100;not null" json:"username"`
	Password     string    `gorm:"size:255;not null" json:"-"`
	FullName     string    `gorm:"size:100" json:"full_name"`
	Role         UserRole  `gorm:"size:20;not null" json:"role"`
	IsActive     *bool     `gorm:"not null;default:true" json:"is_active"`
	CreatedAt    time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt    time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

type NewUser struct {
	RestaurantId string   `json:"restaurant_id"`
	Username     string   `json:"username" binding:"required" validate:"required"`
	Password     string   `json:"password" binding:"required" validate:"required,min=8"`
	FullName     string   `json:"full_name"`
	Role         UserRole `json:"role" binding:"required"`
}

func CreateUser(ctx context.Context, input *NewUser) (*User, error) {
	db := config.GetDB()

	hashed, err := utils.HashPassword(input.Password)
	if err != nil {
		return nil, err
	}
	user := User{
		RestaurantId: input.RestaurantId,
		Username:     input.Username,
		Password:     string(hashed),
		FullName:     input.FullName,
		Role:         input.Role,
		IsActive:     utils.NewTrue(),
	}
	// Signup and seed flows run before a session exists, so skip tenant scoping.
	scopeless := utils.SetSkipTenantScopeInContext(ctx, true)
	if err := db.WithContext(scopeless).Create(&user).Error; err != nil {
		return nil, err
	}
	return &user, nil
}

// Login verifies credentials and issues a JWT. The user object is cached in
// Redis so the session middleware avoids a DB hit per request.
func Login(ctx context.Context, username, password string) (string, *User, error) {
	db := config.GetDB()

	var user User
	scopeless := utils.SetSkipTenantScopeInContext(ctx, true)
	if err := db.WithContext(scopeless).Where("username = ?", username).First(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", nil, utils.ErrUnauthorized
		}
		return "", nil, err
	}
	if user.IsActive == nil || !*user.IsActive {
		return "", nil, utils.ErrUnauthorized
	}
	if err := utils.ComparePassword(user.Password, password); err != nil {
		return "", nil, utils.ErrUnauthorized
	}

	token, err := utils.JwtGenerate(user.ID, string(user.Role), user.RestaurantId)
	if err != nil {
		return "", nil, err
	}
	// Best-effort cache; session middleware falls back to the DB.
	_ = config.SetRedisObject(UserCacheKey(user.ID), user, 24*time.Hour)
	return token, &user, nil
}

// UserCacheKey is the Redis key for the cached user record, keyed by the
// user id carried in the JWT claims. Flows that mutate a user must remove
// this key so the session middleware sees the change before the TTL lapses.
func UserCacheKey(id int) string {
	return "User:" + strconv.Itoa(id)
}

// GetUserById serves the session middleware on every authenticated request:
// Redis first, DB fallback with a best-effort cache refill.
func GetUserById(ctx context.Context, id int) (*User, error) {
	var user User
	if cached, err := config.GetRedisObject(UserCacheKey(id), &user); err == nil && cached {
		return &user, nil
	}

	db := config.GetDB()
	scopeless := utils.SetSkipTenantScopeInContext(ctx, true)
	if err := db.WithContext(scopeless).Where("id = ?", id).First(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, utils.ErrorRecordNotFound
		}
		return nil, err
	}
	_ = config.SetRedisObject(UserCacheKey(id), user, 24*time.Hour)
	return &user, nil
}
