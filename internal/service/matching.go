package service

import (
	"context"
	"errors"
	"strings"
	"unicode"

	"go.uber.org/zap"

	"github.com/capitalize-ai/bill-assistant/internal/apperr"
	"github.com/capitalize-ai/bill-assistant/internal/model"
	"github.com/capitalize-ai/bill-assistant/internal/repository"
	"github.com/capitalize-ai/bill-assistant/pkg/metrics"
)

// Fuzzy tier scores. For each token only the first applicable rule counts.
const (
	scoreNameEqual        = 100
	scoreNameContains     = 50
	scoreDescriptionMatch = 20
	scoreKeywordMatch     = 30
)

// categoryKeywords maps system category names to domain synonyms.
var categoryKeywords = map[string][]string{
	"工资收入": {"工资", "薪资", "薪水", "月薪", "年薪", "salary"},
	"奖金":   {"奖金", "年终奖", "绩效奖", "提成", "bonus"},
	"投资收益": {"投资", "股票", "基金", "理财", "分红", "利息", "收益"},
	"餐饮":   {"餐饮", "美食", "吃饭", "外卖", "餐厅", "咖啡", "奶茶", "食物", "饭店"},
	"交通":   {"交通", "出行", "打车", "地铁", "公交", "火车", "飞机", "汽车", "加油", "停车"},
	"购物":   {"购物", "商场", "超市", "淘宝", "京东", "服装", "化妆品", "电子产品"},
	"娱乐":   {"娱乐", "电影", "游戏", "ktv", "旅游", "健身", "运动"},
	"医疗":   {"医疗", "医院", "药店", "看病", "体检", "药品", "保健"},
	"教育":   {"教育", "培训", "学费", "书籍", "课程", "学习"},
	"住房":   {"住房", "房租", "物业", "装修", "家具", "水电费", "燃气费"},
}

const tokenSeparators = ",，、;；。"

func tokenize(label string) []string {
	fields := strings.FieldsFunc(label, func(r rune) bool {
		return unicode.IsSpace(r) || strings.ContainsRune(tokenSeparators, r)
	})
	tokens := make([]string, 0, len(fields))
	for _, f := range fields {
		tokens = append(tokens, strings.ToLower(f))
	}
	return tokens
}

func keywordHit(categoryName, token string) bool {
	for _, kw := range categoryKeywords[categoryName] {
		if token == kw || strings.Contains(token, kw) {
			return true
		}
	}
	return false
}

// score returns the fuzzy score of c for the given lower-case tokens.
func score(c *model.Category, tokens []string) int {
	name := strings.ToLower(c.Name)
	desc := strings.ToLower(c.Description)

	total := 0
	for _, t := range tokens {
		switch {
		case name == t:
			total += scoreNameEqual
		case strings.Contains(name, t):
			total += scoreNameContains
		case desc != "" && strings.Contains(desc, t):
			total += scoreDescriptionMatch
		case keywordHit(c.Name, t):
			total += scoreKeywordMatch
		}
	}
	return total
}

// MatchCategory resolves a free-text label to a visible enabled category.
// Tiers, first hit wins: exact name (trimmed, then case-insensitive), token
// scoring, exact name on the raw label. direction is accepted for callers
// that know it but does not influence the result.
func (s *CategoryService) MatchCategory(ctx context.Context, label string, direction model.Direction, ownerID int64) (int64, bool, error) {
	const op = "category.match"

	trimmed := strings.TrimSpace(label)
	if trimmed == "" {
		metrics.RecordCategoryMatch("none")
		return 0, false, nil
	}

	id, ok, err := s.findByName(ctx, trimmed, ownerID)
	if err != nil {
		return 0, false, apperr.Storage(op, err)
	}
	if ok {
		metrics.RecordCategoryMatch("exact")
		return id, true, nil
	}

	visible, err := s.categories.ListVisible(ctx, ownerID, true)
	if err != nil {
		return 0, false, apperr.Storage(op, err)
	}

	if id, ok := foldMatch(visible, trimmed); ok {
		metrics.RecordCategoryMatch("exact")
		return id, true, nil
	}

	if id, ok := bestScore(visible, tokenize(trimmed)); ok {
		metrics.RecordCategoryMatch("fuzzy")
		s.logger.Debug("fuzzy category match",
			zap.String("label", label),
			zap.Int64("category_id", id),
			zap.String("direction", string(direction)),
		)
		return id, true, nil
	}

	if label != trimmed {
		id, ok, err := s.findByName(ctx, label, ownerID)
		if err != nil {
			return 0, false, apperr.Storage(op, err)
		}
		if ok {
			metrics.RecordCategoryMatch("raw")
			return id, true, nil
		}
	}

	metrics.RecordCategoryMatch("none")
	s.logger.Debug("no category matched", zap.String("label", label), zap.Int64("owner_id", ownerID))
	return 0, false, nil
}

func (s *CategoryService) findByName(ctx context.Context, name string, ownerID int64) (int64, bool, error) {
	c, err := s.categories.FindEnabledByName(ctx, name, ownerID)
	if errors.Is(err, repository.ErrNotFound) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return c.ID, true, nil
}

// foldMatch returns the lowest id whose name equals label ignoring case.
func foldMatch(categories []model.Category, label string) (int64, bool) {
	var (
		best  int64
		found bool
	)
	for i := range categories {
		c := &categories[i]
		if strings.EqualFold(c.Name, label) && (!found || c.ID < best) {
			best, found = c.ID, true
		}
	}
	return best, found
}

// bestScore returns the highest scoring category; the first seen wins ties.
func bestScore(categories []model.Category, tokens []string) (int64, bool) {
	if len(tokens) == 0 {
		return 0, false
	}
	var (
		bestID    int64
		bestTotal int
	)
	for i := range categories {
		if total := score(&categories[i], tokens); total > bestTotal {
			bestID, bestTotal = categories[i].ID, total
		}
	}
	return bestID, bestTotal > 0
}
