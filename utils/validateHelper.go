package utils

import (
	"context"

	"bitbucket.org/mmdatafocus/resto_backend/config"
	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

// ValidateStruct runs go-playground/validator tags on inbound payload structs.
func ValidateStruct(s interface{}) error {
	return validate.Struct(s)
}

func ResourceCountWhere[T any](ctx context.Context, restaurantId string, cond string, values ...interface{}) (int64, error) {
	db := config.GetDB()
	var model T
	var count int64
	err := db.WithContext(ctx).Model(&model).
		Where("restaurant_id = ?", restaurantId).
		Where(cond, values...).
		Count(&count).Error
	return count, err
}

// check if id exists, using the restaurant_id in WHERE, return RecordNotFound error
func ValidateResourceId[T any](ctx context.Context, restaurantId string, id interface{}) error {
	count, err := ResourceCountWhere[T](ctx, restaurantId, "id = ?", id)
	if err != nil {
		return err
	}
	if count <= 0 {
		return ErrorRecordNotFound
	}
	return nil
}
