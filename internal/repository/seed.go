package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/Masterminds/squirrel"

	"github.com/capitalize-ai/bill-assistant/internal/model"
)

// SystemCategory is a built-in category definition.
type SystemCategory struct {
	Name        string
	Code        string
	Description string
}

// DefaultSystemCategories are installed on first start.
var DefaultSystemCategories = []SystemCategory{
	{Name: "工资收入", Code: "salary", Description: "工资、薪资等劳动收入"},
	{Name: "奖金", Code: "bonus", Description: "奖金、提成、年终奖"},
	{Name: "投资收益", Code: "investment", Description: "股票、基金、理财、利息收益"},
	{Name: "餐饮", Code: "dining", Description: "吃饭、外卖、咖啡饮品"},
	{Name: "交通", Code: "transport", Description: "打车、公共交通、加油停车"},
	{Name: "购物", Code: "shopping", Description: "日用品、服装、电子产品"},
	{Name: "娱乐", Code: "entertainment", Description: "电影、游戏、旅游、健身"},
	{Name: "医疗", Code: "medical", Description: "看病、药品、体检"},
	{Name: "教育", Code: "education", Description: "学费、培训、书籍课程"},
	{Name: "住房", Code: "housing", Description: "房租、物业、水电燃气"},
	{Name: "其他", Code: "other", Description: "无法归类的收支"},
}

// SeedSystemCategories installs the default categories when no system
// category exists yet. It returns the number of rows inserted.
func SeedSystemCategories(ctx context.Context, db *DB, categories *CategoryRepository) (int, error) {
	query, args, err := db.sb.Select("COUNT(*)").
		From("bill_categories").
		Where(squirrel.Eq{"is_system": true}).
		ToSql()
	if err != nil {
		return 0, err
	}

	var existing int
	if err := db.QueryRowContext(ctx, query, args...).Scan(&existing); err != nil {
		return 0, fmt.Errorf("failed to count system categories: %w", err)
	}
	if existing > 0 {
		return 0, nil
	}

	now := time.Now().UTC()
	for i, sc := range DefaultSystemCategories {
		c := &model.Category{
			Name:        sc.Name,
			Code:        sc.Code,
			Description: sc.Description,
			SortOrder:   (i + 1) * 10,
			Enabled:     true,
			IsSystem:    true,
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		if err := categories.Insert(ctx, c); err != nil {
			return i, err
		}
	}
	return len(DefaultSystemCategories), nil
}
