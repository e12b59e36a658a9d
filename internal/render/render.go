// Package render builds the user-facing message texts (Telegram HTML).
package render

import (
	"fmt"
	"strings"
	"time"

	"outagebot/internal/schedule"
	"outagebot/pkg/tgui"
)

// Menu labels. The bot matches incoming text against these.
const (
	BtnToday    = "📋 Графік на сьогодні"
	BtnTomorrow = "📅 Графік на завтра"
	BtnQueue    = "⚙️ Обрати чергу"
	BtnRefresh  = "🔄 Оновити графік"
	BtnAbout    = "ℹ️ Про бота"
	BtnNotify   = "🔔 Сповіщення"
	BtnCancel   = "❌ Скасувати"

	// Inline buttons under a schedule reply.
	BtnShowToday    = "📋 Сьогодні"
	BtnShowTomorrow = "📅 Завтра"
)

const (
	NoOutages    = "✅ Відключень немає"
	NotAvailable = "⚠️ Дані ще не завантажені. Натисніть '" + BtnRefresh + "'"
	ChooseFirst  = "⚠️ Спочатку оберіть свою чергу: '" + BtnQueue + "'"
	UseMenu      = "❓ Використовуйте кнопки меню."
	BadQueue     = "❌ Неправильний вибір. Оберіть чергу з кнопок."
	MainMenu     = "🏠 Головне меню"
	Refreshing   = "🔄 Оновлюю графіки, зачекайте..."
	Busy         = "⏳ Оновлення вже виконується. Спробуйте за хвилину."
	Failed       = "😔 Сталася помилка. Спробуйте ще раз."
	FetchFailed  = "❌ Не вдалося отримати графіки з джерела.\n\nСпробуйте пізніше."
)

// Day selects the wording of a schedule reply.
type Day int

const (
	Today Day = iota
	Tomorrow
)

func (d Day) word() string {
	if d == Tomorrow {
		return "завтра"
	}
	return "сьогодні"
}

// Readable turns a YYYY-MM-DD key into DD.MM.YYYY; malformed keys pass through.
func Readable(date string) string {
	t, err := time.Parse(schedule.DateLayout, date)
	if err != nil {
		return date
	}
	return t.Format("02.01.2006")
}

// Windows renders one line per outage window, or NoOutages when empty.
func Windows(ws schedule.Windows) tgui.H {
	if len(ws) == 0 {
		return tgui.Esc(NoOutages)
	}
	lines := make([]tgui.H, 0, len(ws))
	for _, w := range ws {
		lines = append(lines, tgui.Esc("⚡️ "+w.String()))
	}
	return tgui.Lines(lines...)
}

// Change is the notification sent to subscribers when a known schedule
// is revised.
func Change(date, queue string, ws schedule.Windows) string {
	return tgui.Lines(
		"🔔 "+tgui.B("ЗМІНА ГРАФІКУ!"),
		"",
		tgui.Esc("📅 Дата: "+date),
		tgui.Esc("🔢 Черга: "+queue),
		"",
		tgui.B("Новий графік:"),
		Windows(ws),
	).String()
}

// Schedule is the reply to a today/tomorrow request. ok=false means nothing
// has been ingested for the key yet, which differs from an empty schedule.
func Schedule(day Day, date, queue string, ws schedule.Windows, ok bool) string {
	body := Windows(ws)
	if !ok {
		body = tgui.Esc(NotAvailable)
	}
	return tgui.Lines(
		"📅 "+tgui.B(fmt.Sprintf("Графік на %s (%s)", day.word(), Readable(date))),
		tgui.Esc("🔢 Черга: "+queue),
		"",
		body,
	).String()
}

func Welcome(city, queue string) string {
	tail := tgui.Esc(ChooseFirst)
	if queue != "" {
		tail = "✅ Ваша черга: " + tgui.B(queue)
	}
	return tgui.Lines(
		"👋 "+tgui.B("Вітаю!"),
		"",
		"Я бот графіків відключень електроенергії для міста "+tgui.B(city)+".",
		"",
		"📌 "+tgui.B("Що я вмію:"),
		"- Показувати актуальний графік відключень",
		"- Зберігати вашу чергу відключень",
		"- Повідомляти про зміни графіку",
		"",
		"⚡ "+tgui.B("Оберіть дію з меню нижче"),
		"",
		tail,
	).String()
}

func ChooseQueue(sourceHost string) string {
	return tgui.Lines(
		"🔢 "+tgui.B("Оберіть вашу чергу відключень:"),
		"",
		tgui.Esc("Черга вказана у графіку від Вінницяобленерго або на сайті "+sourceHost),
	).String()
}

func QueueChosen(queue string) string {
	return tgui.Lines(
		"✅ Чудово! Ваша черга: "+tgui.B(queue),
		"",
		"Тепер ви можете переглядати графіки відключень та отримувати сповіщення про зміни.",
	).String()
}

func NotifyState(enabled bool) string {
	if enabled {
		return "🔔 Сповіщення про зміни графіку " + tgui.B("увімкнено").String() + "."
	}
	return "🔕 Сповіщення про зміни графіку " + tgui.B("вимкнено").String() + "."
}

// Refreshed reports the outcome of a manual refresh.
func Refreshed(changed, failed int) string {
	if failed > 0 {
		return fmt.Sprintf("⚠️ Графіки оновлено частково (помилок: %d).\n\nСпробуйте пізніше.", failed)
	}
	if changed > 0 {
		return fmt.Sprintf("✅ Графіки оновлено! Змін: %d.", changed)
	}
	return "✅ Графіки оновлено!\n\nТепер ви можете переглянути актуальну інформацію."
}

func About(city, sourceHost string) string {
	return tgui.Lines(
		"ℹ️ "+tgui.B("Про бота"),
		"",
		tgui.Esc("Бот допомагає відстежувати графіки відключень електроенергії в місті "+city+"."),
		"",
		tgui.B("Джерело даних:"),
		tgui.Esc(sourceHost),
		"",
		tgui.B("Функції:"),
		"- Автоматичне оновлення графіків",
		"- Сповіщення про зміни для вашої черги",
		"- Графік на сьогодні та завтра",
		"",
		tgui.B("Команди:"),
		"/start - Головне меню",
		"/update - Оновити графік",
		"/history - Останні зміни",
		"/notify - Увімкнути або вимкнути сповіщення",
		"/help - Допомога",
		"",
		"⚠️ Графіки можуть змінюватись. Слідкуйте за офіційними джерелами!",
	).String()
}

func Help(queues []string, sourceHost string) string {
	return tgui.Lines(
		"📖 "+tgui.B("Допомога"),
		"",
		tgui.B("Як користуватись:"),
		"",
		tgui.Esc("1️⃣ Оберіть свою чергу ('"+BtnQueue+"')"),
		"2️⃣ Перегляньте графік на сьогодні або завтра",
		"3️⃣ Отримуйте сповіщення, коли графік змінюється",
		"",
		tgui.B("Де дізнатись свою чергу?"),
		tgui.Esc("- На сайті "+sourceHost),
		"- У графіку від Вінницяобленерго",
		"",
		tgui.B("Доступні черги:"),
		tgui.Esc(strings.Join(queues, ", ")),
	).String()
}

// History renders recent changes, newest first.
func History(records []schedule.HistoryRecord, loc *time.Location) string {
	if len(records) == 0 {
		return "📜 Змін графіку ще не зафіксовано."
	}
	parts := []tgui.H{"📜 " + tgui.B("Останні зміни графіку"), ""}
	for _, r := range records {
		at := r.ChangedAt
		if loc != nil {
			at = at.In(loc)
		}
		parts = append(parts,
			tgui.B(fmt.Sprintf("%s · черга %s", Readable(r.Date), r.Queue))+tgui.Esc(" ("+at.Format("02.01 15:04")+")"),
			tgui.Esc("було: "+inline(r.Previous)),
			tgui.Esc("стало: "+inline(r.New)),
			"",
		)
	}
	return strings.TrimRight(tgui.Lines(parts...).String(), "\n")
}

func inline(ws schedule.Windows) string {
	if len(ws) == 0 {
		return "немає відключень"
	}
	return strings.Join(ws.Strings(), ", ")
}
