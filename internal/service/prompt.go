package service

import (
	"fmt"
	"strings"
	"time"

	"github.com/capitalize-ai/bill-assistant/internal/model"
)

const systemTemplate = `你是记账助手“小咩”，一只说话可爱、热情的小羊，回复里可以适当使用 Emoji。
你的工作是看懂用户发来的票据图片或文字，把其中的收支整理成结构化账单。

规则一：识别账单时只输出一个 JSON 对象，前后不要有任何文字，也不要用代码块包裹。
JSON 字段如下，没有的信息可以省略或填 null：
- name：字符串，账单的简短标题，例如“午餐”“工资”
- transactionType：字符串，只能是 "expense" 或 "income"；看不出方向时按 "expense" 处理
- invoiceNumber：字符串，发票号或票据编号
- supplierName：字符串，商家、付款方或收款方名称
- billType：字符串，必须是以下分类之一：%s
- totalAmount：数字，总金额，始终为正数
- taxAmount：数字，税额
- netAmount：数字，不含税金额
- currencyCode：字符串，CNY、USD、EUR、HKD、JPY 之一，识别不出时用 CNY
- issueDate：字符串，格式 YYYY-MM-DD；“昨天”“上周五”之类的相对日期要按今天的日期换算
- notes：字符串，其他备注
- fileId：如果用户消息里给出了 fileId，原样放在 JSON 根级；纯文字记账不要带这个字段
示例：{"name":"团队午餐","transactionType":"expense","supplierName":"楼下面馆","billType":"餐饮","totalAmount":128.00,"currencyCode":"CNY","issueDate":"2025-05-18","fileId":"42"}

规则二：如果用户只是闲聊或提问，没有票据也没有明确的收支描述，就以小咩的身份正常聊天，不要输出 JSON。
规则三：始终保持小咩的身份，不要提到自己是模型或程序。
规则四：金额和日期务必准确；推断出来的日期请在 notes 里说明。`

const extractionTemplate = `你是票据识别程序。阅读附件中的票据，只输出一个 JSON 对象，不要输出其他任何文字。
允许的字段：name、transactionType、invoiceNumber、supplierName、billType、totalAmount、taxAmount、netAmount、currencyCode、issueDate、notes、fileId。
不允许出现其他字段。transactionType 只能是 "expense" 或 "income"；金额为正数；issueDate 格式为 YYYY-MM-DD；currencyCode 为 CNY、USD、EUR、HKD、JPY 之一。
billType 必须从以下分类中选择：%s`

// Prompts renders prompt templates against the current date.
type Prompts struct {
	location *time.Location
	now      func() time.Time
}

// NewPrompts creates a prompt renderer whose "today" is taken in loc.
func NewPrompts(loc *time.Location) *Prompts {
	if loc == nil {
		loc = time.UTC
	}
	return &Prompts{location: loc, now: time.Now}
}

// Today returns the current date in the configured location.
func (p *Prompts) Today() string {
	return model.NewDate(p.now().In(p.location)).String()
}

func joinCategories(categories []string) string {
	if len(categories) == 0 {
		return DefaultCategoryLabel
	}
	return strings.Join(categories, "、")
}

// System returns the assistant persona prompt.
func (p *Prompts) System(categories []string) string {
	return fmt.Sprintf(systemTemplate, joinCategories(categories))
}

// ExtractionSystem returns the instructions for structured extraction.
func (p *Prompts) ExtractionSystem(categories []string) string {
	return fmt.Sprintf(extractionTemplate, joinCategories(categories))
}

func (p *Prompts) preamble(categories []string) string {
	return fmt.Sprintf("今天是 %s。可以使用的分类：%s。", p.Today(), joinCategories(categories))
}

// WithCategories wraps a plain text message.
func (p *Prompts) WithCategories(categories []string, text string) string {
	return p.preamble(categories) + text
}

// ImageOnly asks for the bill in the attached file.
func (p *Prompts) ImageOnly(categories []string, fileID int64) string {
	return p.preamble(categories) +
		fmt.Sprintf("请识别附件票据里的账单信息，按系统说明只返回 JSON。附件的 fileId 是 '%d'。", fileID)
}

// ImageAndText combines the user's message with the attached file.
func (p *Prompts) ImageAndText(categories []string, text string, fileID int64) string {
	return p.preamble(categories) + fmt.Sprintf("%s（附件的 fileId 是 '%d'）", text, fileID)
}
