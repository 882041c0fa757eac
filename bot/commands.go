package bot

import (
	"context"
	"errors"
	"fmt"
	"html"
	"strings"
	"time"

	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"marketing-analytics/models"
	"marketing-analytics/service"
	"marketing-analytics/stats"
	"marketing-analytics/utils"
)

// Ledger is what the commands need from service.Ledger.
type Ledger interface {
	AddVisit(ctx context.Context, in models.VisitInput) (service.VisitResult, error)
	AddMailingContact(ctx context.Context, in models.MailingInput) (models.Visit, error)
	TodayStats(ctx context.Context) (stats.DayStats, error)
	ClientHistory(ctx context.Context, name string) (stats.ClientHistory, error)
}

const (
	replyUnknown = "❌ Непонятная команда. Используй /help для справки."

	replyStart = `🤖 <b>Добро пожаловать в Marketing Analytics Bot!</b>

Доступные команды:
/help - Показать справку
/add_client - Добавить клиента
/add_mailing - Добавить в рассылку
/stats - Статистика за сегодня
/history - История клиента

Просто отправь команду и следуй инструкциям!`

	replyHelp = `📖 <b>Справка по командам:</b>

<b>Добавление клиентов:</b>
/add_client Имя, Телефон, Услуга, Направление

<b>Рассылка:</b>
/add_mailing Имя, Место учебы, Ссылка VK

<b>Аналитика:</b>
/stats - Статистика за сегодня
/history Имя - История клиента

Пример:
<code>/add_client Иван, 89123456789, Haircut, Chop</code>
<code>/add_mailing Мария, ТПУ, vk.com/maria</code>`

	replyAddMailing = `📧 <b>Добавление в рассылку</b>

Отправь данные в формате:
<code>/add_mailing Имя, Место учебы, Ссылка VK</code>

<b>Пример:</b>
<code>/add_mailing Мария, ТПУ, vk.com/maria_ivanova</code>`

	replyHistory = `📋 <b>История клиента</b>

Отправь имя клиента для просмотра истории:

<code>/history Иван</code>`
)

// числа с разделителями тысяч: 1,400
var numbers = message.NewPrinter(language.English)

// Command names as they appear in metrics.
const (
	cmdStart      = "/start"
	cmdHelp       = "/help"
	cmdStats      = "/stats"
	cmdAddClient  = "/add_client"
	cmdAddMailing = "/add_mailing"
	cmdHistory    = "/history"
	cmdUnknown    = "unknown"
)

// parseCommand splits "/cmd@bot args" into the command and its trimmed
// arguments. Text without a leading slash has no command.
func parseCommand(text string) (string, string) {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "/") {
		return "", text
	}
	head, args, _ := strings.Cut(text, " ")
	if at := strings.IndexByte(head, '@'); at >= 0 {
		head = head[:at]
	}
	return head, strings.TrimSpace(args)
}

// Reply executes one chat message and returns the command it was
// recognised as together with the HTML reply.
func (b *Bot) Reply(ctx context.Context, text string) (string, string) {
	cmd, args := parseCommand(text)
	switch cmd {
	case cmdStart:
		return cmd, replyStart
	case cmdHelp:
		return cmd, replyHelp
	case cmdStats:
		return cmd, b.replyStats(ctx)
	case cmdAddClient:
		if args == "" {
			return cmd, addClientInstructions()
		}
		return cmd, b.addClient(ctx, args)
	case cmdAddMailing:
		if args == "" {
			return cmd, replyAddMailing
		}
		return cmd, b.addMailing(ctx, args)
	case cmdHistory:
		if args == "" {
			return cmd, replyHistory
		}
		return cmd, b.history(ctx, args)
	default:
		return cmdUnknown, replyUnknown
	}
}

func addClientInstructions() string {
	directions := make([]string, len(models.CommercialDirections))
	for i, d := range models.CommercialDirections {
		directions[i] = string(d)
	}
	return fmt.Sprintf(`📝 <b>Добавление клиента</b>

Отправь данные в формате:
<code>/add_client Имя, Телефон, Услуга, Направление</code>

<b>Пример:</b>
<code>/add_client Анна, 89991234567, Haircut, Chop</code>

<b>Доступные услуги:</b>
%s

<b>Направления:</b>
%s`, html.EscapeString(strings.Join(models.ServiceNames(), ", ")), strings.Join(directions, ", "))
}

func (b *Bot) replyStats(ctx context.Context) string {
	day, err := b.ledger.TodayStats(ctx)
	if err != nil {
		return b.failure(err, "❌ Ошибка при получении статистики")
	}
	return fmt.Sprintf(`📊 <b>Статистика за сегодня</b>

👥 Клиентов: <b>%d</b>
📝 Записей: <b>%d</b>
💰 Выручка: <b>%s ₽</b>
💵 Зарплата: <b>%s ₽</b>

📅 %s`,
		day.Clients, day.Records,
		numbers.Sprintf("%d", day.Income), numbers.Sprintf("%.0f", day.Salary),
		b.now().Format("02.01.2006"))
}

func splitArgs(args string) []string {
	parts := strings.Split(args, ",")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return parts
}

func (b *Bot) addClient(ctx context.Context, args string) string {
	parts := splitArgs(args)
	if len(parts) != 4 {
		return "❌ Неверный формат. Нужно: Имя, Телефон, Услуга, Направление"
	}

	result, err := b.ledger.AddVisit(ctx, models.VisitInput{
		ClientName: parts[0],
		Phone:      parts[1],
		Service:    parts[2],
		Direction:  parts[3],
	})
	if err != nil {
		return b.failure(err, "❌ Ошибка при добавлении клиента")
	}

	v := result.Visit
	var sb strings.Builder
	if result.NewClient {
		sb.WriteString("🎉 <b>НОВЫЙ КЛИЕНТ ДОБАВЛЕН</b>\n\n")
	} else if result.Updated {
		sb.WriteString("♻️ <b>ПОСЕЩЕНИЕ ОБНОВЛЕНО</b>\n\n")
	} else {
		sb.WriteString("📋 <b>НОВОЕ ПОСЕЩЕНИЕ</b>\n\n")
	}
	fmt.Fprintf(&sb, "👤 <b>Имя:</b> %s\n", html.EscapeString(v.ClientName))
	fmt.Fprintf(&sb, "📞 <b>Телефон:</b> %s\n", html.EscapeString(v.Phone))
	fmt.Fprintf(&sb, "🎯 <b>Направление:</b> %s\n", v.Direction)
	fmt.Fprintf(&sb, "💇 <b>Услуга:</b> %s\n", html.EscapeString(v.Service))
	fmt.Fprintf(&sb, "💰 <b>Цена:</b> %d руб.\n", v.Price)
	if !result.NewClient {
		fmt.Fprintf(&sb, "📊 <b>Всего посещений:</b> %d\n", result.VisitCount)
	}
	fmt.Fprintf(&sb, "🕒 <b>Время:</b> %s", b.visitTime(v))
	return sb.String()
}

func (b *Bot) addMailing(ctx context.Context, args string) string {
	parts := splitArgs(args)
	if len(parts) != 3 {
		return "❌ Неверный формат. Нужно: Имя, Место учебы, Ссылка VK"
	}

	v, err := b.ledger.AddMailingContact(ctx, models.MailingInput{
		ClientName:     parts[0],
		StudyPlace:     parts[1],
		VkLink:         parts[2],
		MailingConsent: models.ConsentYes,
	})
	if err != nil {
		return b.failure(err, "❌ Ошибка при добавлении в рассылку")
	}

	var sb strings.Builder
	sb.WriteString("📧 <b>КОНТАКТ ДОБАВЛЕН В РАССЫЛКУ</b>\n\n")
	fmt.Fprintf(&sb, "👤 <b>Имя:</b> %s\n", html.EscapeString(v.ClientName))
	fmt.Fprintf(&sb, "🎓 <b>Место учебы:</b> %s\n", html.EscapeString(v.StudyPlace))
	fmt.Fprintf(&sb, "🔗 <b>Ссылка VK:</b> %s\n", html.EscapeString(v.VkLink))
	sb.WriteString("✅ <b>Согласие:</b> Да\n")
	fmt.Fprintf(&sb, "🕒 <b>Время:</b> %s", b.visitTime(v))
	return sb.String()
}

func (b *Bot) history(ctx context.Context, name string) string {
	h, err := b.ledger.ClientHistory(ctx, name)
	if err != nil {
		if errors.Is(err, models.ErrClientNotFound) {
			return fmt.Sprintf("❌ Клиент '%s' не найден", html.EscapeString(name))
		}
		return b.failure(err, "❌ Ошибка при получении истории")
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "📋 <b>ИСТОРИЯ КЛИЕНТА: %s</b>\n\n", html.EscapeString(name))
	fmt.Fprintf(&sb, "📊 <b>Всего посещений:</b> %d\n", h.TotalVisits)
	fmt.Fprintf(&sb, "💰 <b>Всего потрачено:</b> %s руб.\n", numbers.Sprintf("%d", h.TotalSpent))
	fmt.Fprintf(&sb, "💳 <b>Средний чек:</b> %.0f руб.\n\n", h.AverageSpent)

	sb.WriteString("<b>Последние посещения:</b>\n")
	for _, v := range h.Recent(stats.HistoryPreview) {
		date := v.Date
		if len(date) > 16 {
			date = date[:16]
		}
		fmt.Fprintf(&sb, "• %s - %s (%d руб.)\n", date, html.EscapeString(v.Service), v.Price)
	}
	if rest := h.TotalVisits - stats.HistoryPreview; rest > 0 {
		fmt.Fprintf(&sb, "\n... и еще %d посещений", rest)
	}
	return sb.String()
}

// failure turns an error into a chat reply. Validation errors are the
// user's to fix; anything else is reported to Sentry.
func (b *Bot) failure(err error, prefix string) string {
	if models.IsValidation(err) {
		return "❌ " + html.EscapeString(err.Error())
	}
	b.logger.Printf("%s: %v", prefix, err)
	utils.CaptureError(err, map[string]interface{}{"component": "bot"})
	return prefix
}

func (b *Bot) visitTime(v models.Visit) string {
	t, err := v.Time(time.Local)
	if err != nil {
		t = b.now()
	}
	return t.Format("15:04 02.01.2006")
}
