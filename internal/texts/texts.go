// Package texts holds the localized message catalog for the bot.
// Templates carry {name} placeholders rendered via Render.
package texts

import (
	"strings"

	"github.com/appwatch/mvcr-status-bot/internal/domain"
)

// Languages the bot speaks. EN is the fallback for any missing key or
// unknown language.
var Languages = []string{"EN", "RU", "CZ", "UA"}

const DefaultLanguage = "EN"

// Normalize maps an arbitrary language string to a supported catalog
// language.
func Normalize(lang string) string {
	lang = strings.ToUpper(lang)
	for _, l := range Languages {
		if l == lang {
			return l
		}
	}
	return DefaultLanguage
}

// Message returns the template for key in lang, falling back to EN.
func Message(lang, key string) string {
	lang = Normalize(lang)
	if msg, ok := messages[lang][key]; ok {
		return msg
	}
	if msg, ok := messages[DefaultLanguage][key]; ok {
		return msg
	}
	return key
}

// Button returns the button label for key in lang, falling back to EN.
func Button(lang, key string) string {
	lang = Normalize(lang)
	if b, ok := buttons[lang][key]; ok {
		return b
	}
	if b, ok := buttons[DefaultLanguage][key]; ok {
		return b
	}
	return key
}

// Render substitutes {name} placeholders in the template for key.
func Render(lang, key string, vars map[string]string) string {
	msg := Message(lang, key)
	for name, value := range vars {
		msg = strings.ReplaceAll(msg, "{"+name+"}", value)
	}
	return msg
}

// CategoryMessage returns the notification headline for a status
// category, with the emoji sign substituted. Uncategorizable statuses
// get the generic update headline.
func CategoryMessage(lang string, category domain.Category, sign string) string {
	key := string(category)
	if _, ok := messages[DefaultLanguage][key]; !ok {
		return Message(lang, "application_updated")
	}
	return Render(lang, key, map[string]string{"status_sign": sign})
}

var messages = map[string]map[string]string{
	"EN": {
		"start_text": "Welcome! I track the status of immigration applications on the MVCR portal " +
			"and notify you when it changes. Statuses refresh about every {refresh_period} minutes.",
		"subscribe_intro":              "Tap the button below to add your first application.",
		"dialog_app_number":            "Enter your application number (e.g. OAM-12345/TP-2023 or just 12345):",
		"dialog_type":                  "Select the application type:",
		"dialog_year":                  "Select the application year:",
		"dialog_confirmation":          "Subscribe to OAM-{number}-{suffix}/{type}-{year}?",
		"dialog_confirmation_no_suffix": "Subscribe to OAM-{number}/{type}-{year}?",
		"dialog_completion":            "Done! You are subscribed. I will fetch the current status shortly.",
		"dialog_cancel":                "Subscription canceled.",
		"action_canceled":              "Canceled.",
		"error_invalid_number":         "That does not look like a valid application number. Try again, e.g. OAM-12345/TP-2023.",
		"error_subscribe":              "Could not complete the subscription. Please try again later.",
		"error_generic":                "Something went wrong. Please try again later.",
		"already_subscribed":           "You are already subscribed to this application.",
		"max_subscriptions_reached":    "You reached the maximum of {limit} subscriptions. Unsubscribe from one first.",
		"not_subscribed":               "You have no subscriptions yet. Use /subscribe to add one.",
		"select_unsubscribe":           "Select the application to unsubscribe from:",
		"unsubscribe":                  "Unsubscribed from {app_string}.",
		"unsubscribe_failed":           "Failed to unsubscribe. Please try again later.",
		"select_status":                "Select the application to show the status of:",
		"select_refresh":               "Select the application to refresh:",
		"refresh_sent":                 "Refresh request sent. You will get a message with the result shortly.",
		"failed_to_refresh":            "Failed to request a refresh. Please try again later.",
		"current_status_timestamp":     "{status_sign} {status}\n\nLast checked: {timestamp}",
		"current_status_empty":         "The status has not been fetched yet. Please check back in a few minutes.",
		"application_updated":          "The status of your application has been updated.",
		"application_failed":           "Could not fetch the status of {app_string}. The portal may be down, I will keep trying on the regular schedule.",
		"application_expired":          "Your application {app_string} was not found on the portal for a long time, so I stopped checking it. Subscribe again if this is a mistake.",
		"not_found":                    "{status_sign} Your application was not found on the portal.",
		"in_progress":                  "{status_sign} Your application is being processed.",
		"approved":                     "{status_sign} Good news! Your application was APPROVED.",
		"denied":                       "{status_sign} Unfortunately, your application was denied or the proceedings were stopped.",
		"error":                        "{status_sign} The last status check failed.",
		"language_selected":            "Language set to English.",
		"reminder_decision":            "You can add a daily reminder or delete an existing one:",
		"select_application_for_reminder": "Select the application for the daily reminder:",
		"enter_reminder_time":          "Enter the reminder time in HH:MM (Prague time):",
		"invalid_time_format":          "Invalid time. Use HH:MM, e.g. 09:30.",
		"reminder_added":               "Daily reminder set for {time}.",
		"reminder_add_failed":          "Failed to add the reminder. Please try again later.",
		"reminder_time_exists":         "You already have a reminder at this time.",
		"max_reminders_reached":        "You reached the maximum of {limit} reminders.",
		"select_reminder_to_delete":    "Select the reminder to delete:",
		"reminder_deleted":             "Reminder deleted.",
		"reminder_delete_failed":       "Failed to delete the reminder. Please try again later.",
		"application_not_selected":     "No application selected.",
		"ratelimit_exceeded":           "Too many commands today. Please try again tomorrow.",
		"unknown_input":                "I did not understand that. Use /help to see what I can do.",
		"unknown_input_funny":          "My crystal ball is cloudy today. Try /help instead.",
		"cizi_problem_promo":           "Tip: the portal can also be checked manually at frs.gov.cz.",
		"help_text": "Commands:\n/subscribe - track a new application\n/unsubscribe - stop tracking\n" +
			"/status - show the current status\n/force_refresh - refresh the status now\n" +
			"/reminder - manage daily reminders\n/lang - change the language\n/help - this message",
	},
	"RU": {
		"start_text": "Привет! Я отслеживаю статус заявлений на портале MVČR и сообщаю об изменениях. " +
			"Статусы обновляются примерно каждые {refresh_period} минут.",
		"subscribe_intro":              "Нажмите кнопку ниже, чтобы добавить первое заявление.",
		"dialog_app_number":            "Введите номер заявления (например, OAM-12345/TP-2023 или просто 12345):",
		"dialog_type":                  "Выберите тип заявления:",
		"dialog_year":                  "Выберите год подачи заявления:",
		"dialog_confirmation":          "Подписаться на OAM-{number}-{suffix}/{type}-{year}?",
		"dialog_confirmation_no_suffix": "Подписаться на OAM-{number}/{type}-{year}?",
		"dialog_completion":            "Готово! Вы подписаны. Я скоро получу текущий статус.",
		"dialog_cancel":                "Подписка отменена.",
		"action_canceled":              "Отменено.",
		"error_invalid_number":         "Это не похоже на номер заявления. Попробуйте ещё раз, например OAM-12345/TP-2023.",
		"error_subscribe":              "Не удалось оформить подписку. Попробуйте позже.",
		"error_generic":                "Что-то пошло не так. Попробуйте позже.",
		"already_subscribed":           "Вы уже подписаны на это заявление.",
		"max_subscriptions_reached":    "Достигнут лимит в {limit} подписок. Сначала отпишитесь от одной.",
		"not_subscribed":               "У вас пока нет подписок. Используйте /subscribe, чтобы добавить.",
		"select_unsubscribe":           "Выберите заявление для отписки:",
		"unsubscribe":                  "Вы отписались от {app_string}.",
		"unsubscribe_failed":           "Не удалось отписаться. Попробуйте позже.",
		"select_status":                "Выберите заявление, чтобы показать статус:",
		"select_refresh":               "Выберите заявление для обновления:",
		"refresh_sent":                 "Запрос на обновление отправлен. Результат придёт в ближайшее время.",
		"failed_to_refresh":            "Не удалось запросить обновление. Попробуйте позже.",
		"current_status_timestamp":     "{status_sign} {status}\n\nПоследняя проверка: {timestamp}",
		"current_status_empty":         "Статус ещё не получен. Загляните через несколько минут.",
		"application_updated":          "Статус вашего заявления обновился.",
		"application_failed":           "Не удалось получить статус {app_string}. Возможно, портал недоступен, я продолжу проверять по расписанию.",
		"application_expired":          "Ваше заявление {app_string} долго не находится на портале, поэтому я перестал его проверять. Подпишитесь заново, если это ошибка.",
		"not_found":                    "{status_sign} Ваше заявление не найдено на портале.",
		"in_progress":                  "{status_sign} Ваше заявление рассматривается.",
		"approved":                     "{status_sign} Отличные новости! Ваше заявление ОДОБРЕНО.",
		"denied":                       "{status_sign} К сожалению, по вашему заявлению отказано или производство остановлено.",
		"error":                        "{status_sign} Последняя проверка статуса не удалась.",
		"language_selected":            "Язык переключён на русский.",
		"reminder_decision":            "Можно добавить ежедневное напоминание или удалить существующее:",
		"select_application_for_reminder": "Выберите заявление для ежедневного напоминания:",
		"enter_reminder_time":          "Введите время напоминания в формате ЧЧ:ММ (по Праге):",
		"invalid_time_format":          "Неверное время. Используйте ЧЧ:ММ, например 09:30.",
		"reminder_added":               "Ежедневное напоминание установлено на {time}.",
		"reminder_add_failed":          "Не удалось добавить напоминание. Попробуйте позже.",
		"reminder_time_exists":         "Напоминание на это время уже существует.",
		"max_reminders_reached":        "Достигнут лимит в {limit} напоминаний.",
		"select_reminder_to_delete":    "Выберите напоминание для удаления:",
		"reminder_deleted":             "Напоминание удалено.",
		"reminder_delete_failed":       "Не удалось удалить напоминание. Попробуйте позже.",
		"application_not_selected":     "Заявление не выбрано.",
		"ratelimit_exceeded":           "Слишком много команд за сегодня. Попробуйте завтра.",
		"unknown_input":                "Я не понял. Используйте /help, чтобы узнать, что я умею.",
		"unknown_input_funny":          "Мой хрустальный шар сегодня затуманен. Попробуйте /help.",
		"cizi_problem_promo":           "Совет: портал можно проверить и вручную на frs.gov.cz.",
		"help_text": "Команды:\n/subscribe - отслеживать новое заявление\n/unsubscribe - прекратить отслеживание\n" +
			"/status - показать текущий статус\n/force_refresh - обновить статус сейчас\n" +
			"/reminder - управлять напоминаниями\n/lang - сменить язык\n/help - это сообщение",
	},
	"CZ": {
		"start_text": "Vítejte! Sleduji stav žádostí na portálu MVČR a upozorním vás na změny. " +
			"Stavy se obnovují přibližně každých {refresh_period} minut.",
		"subscribe_intro":              "Klepněte na tlačítko níže a přidejte svou první žádost.",
		"dialog_app_number":            "Zadejte číslo žádosti (např. OAM-12345/TP-2023 nebo jen 12345):",
		"dialog_type":                  "Vyberte typ žádosti:",
		"dialog_year":                  "Vyberte rok podání žádosti:",
		"dialog_confirmation":          "Přihlásit se k odběru OAM-{number}-{suffix}/{type}-{year}?",
		"dialog_confirmation_no_suffix": "Přihlásit se k odběru OAM-{number}/{type}-{year}?",
		"dialog_completion":            "Hotovo! Jste přihlášeni. Aktuální stav brzy zjistím.",
		"dialog_cancel":                "Přihlášení zrušeno.",
		"action_canceled":              "Zrušeno.",
		"error_invalid_number":         "Tohle nevypadá jako platné číslo žádosti. Zkuste to znovu, např. OAM-12345/TP-2023.",
		"error_subscribe":              "Přihlášení se nepodařilo dokončit. Zkuste to prosím později.",
		"error_generic":                "Něco se pokazilo. Zkuste to prosím později.",
		"already_subscribed":           "Tuto žádost již odebíráte.",
		"max_subscriptions_reached":    "Dosáhli jste limitu {limit} odběrů. Nejprve jeden zrušte.",
		"not_subscribed":               "Zatím nemáte žádné odběry. Přidejte je příkazem /subscribe.",
		"select_unsubscribe":           "Vyberte žádost, jejíž odběr chcete zrušit:",
		"unsubscribe":                  "Odběr {app_string} zrušen.",
		"unsubscribe_failed":           "Zrušení odběru se nepodařilo. Zkuste to prosím později.",
		"select_status":                "Vyberte žádost, jejíž stav chcete zobrazit:",
		"select_refresh":               "Vyberte žádost k obnovení:",
		"refresh_sent":                 "Požadavek na obnovení odeslán. Výsledek přijde za okamžik.",
		"failed_to_refresh":            "Obnovení se nepodařilo vyžádat. Zkuste to prosím později.",
		"current_status_timestamp":     "{status_sign} {status}\n\nNaposledy zkontrolováno: {timestamp}",
		"current_status_empty":         "Stav zatím nebyl načten. Zkuste to za pár minut.",
		"application_updated":          "Stav vaší žádosti byl aktualizován.",
		"application_failed":           "Stav {app_string} se nepodařilo zjistit. Portál může být nedostupný, budu to zkoušet dál podle plánu.",
		"application_expired":          "Vaše žádost {app_string} nebyla na portálu dlouho nalezena, proto jsem ji přestal kontrolovat. Pokud jde o omyl, přihlaste se znovu.",
		"not_found":                    "{status_sign} Vaše žádost nebyla na portálu nalezena.",
		"in_progress":                  "{status_sign} Vaše žádost se zpracovává.",
		"approved":                     "{status_sign} Dobrá zpráva! Vaše žádost byla SCHVÁLENA.",
		"denied":                       "{status_sign} Bohužel, vaše žádost byla zamítnuta nebo řízení zastaveno.",
		"error":                        "{status_sign} Poslední kontrola stavu selhala.",
		"language_selected":            "Jazyk nastaven na češtinu.",
		"reminder_decision":            "Můžete přidat denní připomínku nebo smazat existující:",
		"select_application_for_reminder": "Vyberte žádost pro denní připomínku:",
		"enter_reminder_time":          "Zadejte čas připomínky ve formátu HH:MM (pražský čas):",
		"invalid_time_format":          "Neplatný čas. Použijte HH:MM, např. 09:30.",
		"reminder_added":               "Denní připomínka nastavena na {time}.",
		"reminder_add_failed":          "Připomínku se nepodařilo přidat. Zkuste to prosím později.",
		"reminder_time_exists":         "Připomínku na tento čas už máte.",
		"max_reminders_reached":        "Dosáhli jste limitu {limit} připomínek.",
		"select_reminder_to_delete":    "Vyberte připomínku ke smazání:",
		"reminder_deleted":             "Připomínka smazána.",
		"reminder_delete_failed":       "Připomínku se nepodařilo smazat. Zkuste to prosím později.",
		"application_not_selected":     "Není vybrána žádná žádost.",
		"ratelimit_exceeded":           "Dnes už příliš mnoho příkazů. Zkuste to zítra.",
		"unknown_input":                "Tomu nerozumím. Napište /help a uvidíte, co umím.",
		"unknown_input_funny":          "Moje křišťálová koule je dnes zamlžená. Zkuste /help.",
		"cizi_problem_promo":           "Tip: portál lze zkontrolovat i ručně na frs.gov.cz.",
		"help_text": "Příkazy:\n/subscribe - sledovat novou žádost\n/unsubscribe - přestat sledovat\n" +
			"/status - zobrazit aktuální stav\n/force_refresh - obnovit stav hned\n" +
			"/reminder - spravovat denní připomínky\n/lang - změnit jazyk\n/help - tato zpráva",
	},
	"UA": {
		"start_text": "Вітаю! Я відстежую стан заяв на порталі MVČR і повідомляю про зміни. " +
			"Стани оновлюються приблизно кожні {refresh_period} хвилин.",
		"subscribe_intro":              "Натисніть кнопку нижче, щоб додати першу заяву.",
		"dialog_app_number":            "Введіть номер заяви (наприклад, OAM-12345/TP-2023 або просто 12345):",
		"dialog_type":                  "Оберіть тип заяви:",
		"dialog_year":                  "Оберіть рік подання заяви:",
		"dialog_confirmation":          "Підписатися на OAM-{number}-{suffix}/{type}-{year}?",
		"dialog_confirmation_no_suffix": "Підписатися на OAM-{number}/{type}-{year}?",
		"dialog_completion":            "Готово! Ви підписані. Незабаром я отримаю поточний стан.",
		"dialog_cancel":                "Підписку скасовано.",
		"action_canceled":              "Скасовано.",
		"error_invalid_number":         "Це не схоже на номер заяви. Спробуйте ще раз, наприклад OAM-12345/TP-2023.",
		"error_subscribe":              "Не вдалося оформити підписку. Спробуйте пізніше.",
		"error_generic":                "Щось пішло не так. Спробуйте пізніше.",
		"already_subscribed":           "Ви вже підписані на цю заяву.",
		"max_subscriptions_reached":    "Досягнуто ліміт у {limit} підписок. Спершу скасуйте одну.",
		"not_subscribed":               "У вас ще немає підписок. Додайте через /subscribe.",
		"select_unsubscribe":           "Оберіть заяву, від якої відписатися:",
		"unsubscribe":                  "Ви відписалися від {app_string}.",
		"unsubscribe_failed":           "Не вдалося відписатися. Спробуйте пізніше.",
		"select_status":                "Оберіть заяву, щоб показати стан:",
		"select_refresh":               "Оберіть заяву для оновлення:",
		"refresh_sent":                 "Запит на оновлення надіслано. Результат надійде незабаром.",
		"failed_to_refresh":            "Не вдалося запросити оновлення. Спробуйте пізніше.",
		"current_status_timestamp":     "{status_sign} {status}\n\nОстання перевірка: {timestamp}",
		"current_status_empty":         "Стан ще не отримано. Поверніться за кілька хвилин.",
		"application_updated":          "Стан вашої заяви оновлено.",
		"application_failed":           "Не вдалося отримати стан {app_string}. Можливо, портал недоступний, я продовжу перевіряти за розкладом.",
		"application_expired":          "Вашу заяву {app_string} довго не знайдено на порталі, тому я припинив її перевіряти. Підпишіться знову, якщо це помилка.",
		"not_found":                    "{status_sign} Вашу заяву не знайдено на порталі.",
		"in_progress":                  "{status_sign} Ваша заява розглядається.",
		"approved":                     "{status_sign} Чудові новини! Вашу заяву СХВАЛЕНО.",
		"denied":                       "{status_sign} На жаль, у вашій заяві відмовлено або провадження зупинено.",
		"error":                        "{status_sign} Остання перевірка стану не вдалася.",
		"language_selected":            "Мову змінено на українську.",
		"reminder_decision":            "Можна додати щоденне нагадування або видалити наявне:",
		"select_application_for_reminder": "Оберіть заяву для щоденного нагадування:",
		"enter_reminder_time":          "Введіть час нагадування у форматі ГГ:ХХ (за Прагою):",
		"invalid_time_format":          "Невірний час. Використовуйте ГГ:ХХ, наприклад 09:30.",
		"reminder_added":               "Щоденне нагадування встановлено на {time}.",
		"reminder_add_failed":          "Не вдалося додати нагадування. Спробуйте пізніше.",
		"reminder_time_exists":         "Нагадування на цей час уже існує.",
		"max_reminders_reached":        "Досягнуто ліміт у {limit} нагадувань.",
		"select_reminder_to_delete":    "Оберіть нагадування для видалення:",
		"reminder_deleted":             "Нагадування видалено.",
		"reminder_delete_failed":       "Не вдалося видалити нагадування. Спробуйте пізніше.",
		"application_not_selected":     "Заяву не обрано.",
		"ratelimit_exceeded":           "Забагато команд за сьогодні. Спробуйте завтра.",
		"unknown_input":                "Я не зрозумів. Напишіть /help, щоб побачити мої можливості.",
		"unknown_input_funny":          "Моя кришталева куля сьогодні затуманена. Спробуйте /help.",
		"cizi_problem_promo":           "Порада: портал можна перевірити і вручну на frs.gov.cz.",
		"help_text": "Команди:\n/subscribe - відстежувати нову заяву\n/unsubscribe - припинити відстеження\n" +
			"/status - показати поточний стан\n/force_refresh - оновити стан зараз\n" +
			"/reminder - керувати нагадуваннями\n/lang - змінити мову\n/help - це повідомлення",
	},
}

var buttons = map[string]map[string]string{
	"EN": {
		"subscribe_button":    "Subscribe",
		"subscribe_correct":   "Yes, subscribe",
		"subscribe_incorrect": "No, start over",
		"add_reminder":        "Add reminder",
		"delete_reminder":     "Delete reminder",
		"cancel":              "Cancel",
	},
	"RU": {
		"subscribe_button":    "Подписаться",
		"subscribe_correct":   "Да, подписаться",
		"subscribe_incorrect": "Нет, заново",
		"add_reminder":        "Добавить напоминание",
		"delete_reminder":     "Удалить напоминание",
		"cancel":              "Отмена",
	},
	"CZ": {
		"subscribe_button":    "Přihlásit odběr",
		"subscribe_correct":   "Ano, přihlásit",
		"subscribe_incorrect": "Ne, znovu",
		"add_reminder":        "Přidat připomínku",
		"delete_reminder":     "Smazat připomínku",
		"cancel":              "Zrušit",
	},
	"UA": {
		"subscribe_button":    "Підписатися",
		"subscribe_correct":   "Так, підписатися",
		"subscribe_incorrect": "Ні, спочатку",
		"add_reminder":        "Додати нагадування",
		"delete_reminder":     "Видалити нагадування",
		"cancel":              "Скасувати",
	},
}
