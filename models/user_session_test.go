package models_test

import (
	"context"
	"errors"
	"testing"

	"bitbucket.org/mmdatafocus/resto_backend/models"
	"bitbucket.org/mmdatafocus/resto_backend/utils"
)

// The session middleware resolves users through GetUserById on every
// authenticated request. Without Redis the lookup must still serve from the
// database; with Redis the record is cached under the id-based key that
// Login writes and seed-admin invalidates.
func TestGetUserByIdFallsBackToDatabase(t *testing.T) {
	openTestDB(t)
	ctx := context.Background()
	restaurantId := seedRestaurant(t, ctx)

	created, err := models.CreateUser(ctx, &models.NewUser{
		RestaurantId: restaurantId,
		Username:     "waiter-thiri",
		Password:     "s3cret-pass",
		FullName:     "Thiri",
		Role:         models.UserRoleStaff,
	})
	if err != nil {
		t.Fatalf("CreateUser: %v", err)
	}

	got, err := models.GetUserById(ctx, created.ID)
	if err != nil {
		t.Fatalf("GetUserById: %v", err)
	}
	if got.Username != "waiter-thiri" || got.Role != models.UserRoleStaff {
		t.Fatalf("unexpected user: username=%q role=%q", got.Username, got.Role)
	}
	if got.RestaurantId != restaurantId {
		t.Fatalf("expected restaurant %s; got %s", restaurantId, got.RestaurantId)
	}

	if _, err := models.GetUserById(ctx, created.ID+1000); !errors.Is(err, utils.ErrorRecordNotFound) {
		t.Fatalf("expected record not found for unknown id; got %v", err)
	}
}

func TestUserCacheKeyIsIdBased(t *testing.T) {
	if got := models.UserCacheKey(42); got != "User:42" {
		t.Fatalf("unexpected cache key %q", got)
	}
}
