package models

import (
	"context"
	"errors"
	"strings"
	"time"

	"bitbucket.org/mmdatafocus/resto_backend/config"
	"bitbucket.org/mmdatafocus/resto_backend/utils"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Restaurant is the tenant. Every tenant-owned row carries its id and the
// tenant guard plugin scopes statements to it automatically.
type Restaurant struct {
	ID         uuid.UUID `gorm:"primary_key" json:"id"`
	Name       string    `gorm:"index;size:100;not null" json:"name" binding:"required"`
	Slug       string    `gorm:"uniqueIndex;size:100;not null" json:"slug"`
	OwnerEmail string    `gorm:"size:255" json:"owner_email"`
	Phone      string    `gorm:"size:20" json:"phone"`
	Address    string    `gorm:"type:text" json:"address"`
	LogoUrl    string    `json:"logo_url"`
	Timezone   string    `gorm:"size:50" json:"timezone"`
	// IsActive is forced false by the suspension sweep once the
	// subscription has expired.
	IsActive  *bool     `gorm:"not null;default:true" json:"is_active"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

type NewRestaurant struct {
	Name       string           `json:"name" binding:"required" validate:"required"`
	Slug       string           `json:"slug"`
	OwnerEmail string           `json:"owner_email" binding:"required" validate:"required,email"`
	Phone      string           `json:"phone"`
	Address    string           `json:"address"`
	Timezone   string           `json:"timezone"`
	Plan       SubscriptionPlan `json:"plan"`
}

// CreateRestaurant provisions a tenant with a trial subscription.
// Superadmin console only.
func CreateRestaurant(ctx context.Context, input *NewRestaurant) (*Restaurant, error) {
	db := config.GetDB()

	slug := strings.TrimSpace(input.Slug)
	if slug == "" {
		slug = slugify(input.Name)
	}
	plan := input.Plan
	if plan == "" {
		plan = SubscriptionPlanStarter
	}

	restaurant := Restaurant{
		ID:         uuid.New(),
		Name:       strings.TrimSpace(input.Name),
		Slug:       slug,
		OwnerEmail: strings.TrimSpace(input.OwnerEmail),
		Phone:      input.Phone,
		Address:    input.Address,
		Timezone:   input.Timezone,
		IsActive:   utils.NewTrue(),
	}

	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&restaurant).Error; err != nil {
			return err
		}
		_, err := startTrialTx(tx, restaurant.ID.String(), plan)
		return err
	})
	if err != nil {
		return nil, err
	}
	return &restaurant, nil
}

// SetRestaurantActive flips the tenant kill switch (superadmin console;
// the suspension sweep uses its own bulk path).
func SetRestaurantActive(ctx context.Context, restaurantId string, isActive bool) (*Restaurant, error) {
	db := config.GetDB()

	var restaurant Restaurant
	if err := db.WithContext(ctx).Where("id = ?", restaurantId).First(&restaurant).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, utils.ErrorRecordNotFound
		}
		return nil, err
	}

	if err := db.WithContext(ctx).Model(&Restaurant{}).
		Where("id = ?", restaurantId).
		Update("is_active", isActive).Error; err != nil {
		return nil, err
	}
	restaurant.IsActive = &isActive
	return &restaurant, nil
}

func slugify(name string) string {
	s := strings.ToLower(strings.TrimSpace(name))
	var b strings.Builder
	lastDash := true
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z' || r >= '0' && r <= '9':
			b.WriteRune(r)
			lastDash = false
		default:
			if !lastDash {
				b.WriteByte('-')
				lastDash = true
			}
		}
	}
	return strings.Trim(b.String(), "-")
}
