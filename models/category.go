package models

import (
	"context"
	"errors"
	"strings"
	"time"

	"bitbucket.org/mmdatafocus/datamart_backend/config"
	"bitbucket.org/mmdatafocus/datamart_backend/utils"
	"gorm.io/gorm"
)

type Category struct {
	ID        int       `gorm:"primary_key" json:"id"`
	Code      string    `gorm:"size:10;not null;unique" json:"code"`
	Name      string    `gorm:"size:100;not null;unique" json:"name" binding:"required"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

type NewCategory struct {
	Name string `json:"name" binding:"required"`
}

/*
caches:
	CategoryList
*/

// nextCategoryCode yields A..Z, then AA, AB... based on how many categories exist.
func nextCategoryCode(tx *gorm.DB) (string, error) {
	var count int64
	if err := tx.Model(&Category{}).Count(&count).Error; err != nil {
		return "", err
	}
	n := int(count)
	code := ""
	for {
		code = string(rune('A'+n%26)) + code
		n = n/26 - 1
		if n < 0 {
			break
		}
	}
	return code, nil
}

func CreateCategory(ctx context.Context, input *NewCategory) (*Category, error) {
	name := strings.TrimSpace(input.Name)
	if name == "" {
		return nil, errors.New("category name is required")
	}
	if err := utils.ValidateUnique[Category](ctx, "name", name, 0); err != nil {
		return nil, err
	}

	db := config.GetDB()
	var category Category
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		code, err := nextCategoryCode(tx)
		if err != nil {
			return err
		}
		category = Category{Code: code, Name: name}
		return tx.Create(&category).Error
	})
	if err != nil {
		return nil, err
	}
	if err := utils.RemoveRedisList[Category](); err != nil {
		return nil, err
	}
	return &category, nil
}

// UpdateCategory renames a category and propagates the new name to every
// table that denormalizes it.
func UpdateCategory(ctx context.Context, id int, input *NewCategory) (*Category, error) {
	name := strings.TrimSpace(input.Name)
	if name == "" {
		return nil, errors.New("category name is required")
	}
	if err := utils.ValidateUnique[Category](ctx, "name", name, id); err != nil {
		return nil, err
	}

	category, err := utils.FetchModel[Category](ctx, id)
	if err != nil {
		return nil, err
	}
	oldName := category.Name

	db := config.GetDB()
	err = db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&Category{}).Where("id = ?", id).Update("name", name).Error; err != nil {
			return err
		}
		if oldName == name {
			return nil
		}
		if err := tx.Model(&DataItem{}).Where("category = ?", oldName).Update("category", name).Error; err != nil {
			return err
		}
		if err := tx.Model(&DailyRequirement{}).Where("category = ?", oldName).Update("category", name).Error; err != nil {
			return err
		}
		if err := tx.Model(&PurchaseRequest{}).Where("category = ?", oldName).Update("category", name).Error; err != nil {
			return err
		}
		return tx.Model(&UserAllocatedData{}).Where("category = ?", oldName).Update("category", name).Error
	})
	if err != nil {
		return nil, err
	}
	if err := utils.RemoveRedisList[Category](); err != nil {
		return nil, err
	}
	category.Name = name
	return category, nil
}

// DeleteCategory removes the category and its uploaded inventory rows.
func DeleteCategory(ctx context.Context, id int) error {
	category, err := utils.FetchModel[Category](ctx, id)
	if err != nil {
		return err
	}

	db := config.GetDB()
	err = db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("category = ?", category.Name).Delete(&DataItem{}).Error; err != nil {
			return err
		}
		return tx.Delete(&Category{}, id).Error
	})
	if err != nil {
		return err
	}
	return utils.RemoveRedisList[Category]()
}

// ListCategories reads from redis, falling back to the DB and caching.
func ListCategories(ctx context.Context) ([]*Category, error) {
	results, err := utils.RetrieveRedisList[Category]()
	if err != nil {
		return nil, err
	}
	if results == nil {
		results, err = utils.FetchAllModels[Category](ctx)
		if err != nil {
			return nil, err
		}
		if err := utils.StoreRedisList[Category](results); err != nil {
			return nil, err
		}
	}
	return results, nil
}

// ResolveCategory accepts a code ("A") or a name ("Category A").
func ResolveCategory(ctx context.Context, codeOrName string) (*Category, error) {
	codeOrName = strings.TrimSpace(codeOrName)
	if codeOrName == "" {
		return nil, errors.New("category is required")
	}
	db := config.GetDB()
	var category Category
	err := db.WithContext(ctx).
		Where("code = ? OR name = ?", codeOrName, codeOrName).
		First(&category).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, utils.ErrorRecordNotFound
		}
		return nil, err
	}
	return &category, nil
}
