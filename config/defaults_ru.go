package config

// The reference deployment serves a Russian-language corporate HR corpus,
// so the default locale data below is Russian. Operators targeting another
// language supply their own stopwords/synonyms/domain_rules via the YAML
// file — none of this is load-bearing in code, only in configuration.

var defaultStopwords = []string{
	"в", "на", "с", "по", "для", "от", "до", "из", "к", "о", "об",
	"и", "или", "а", "но", "что", "как", "когда", "где", "почему",
	"какой", "какая", "какие", "который", "которая", "которые",
	"это", "то", "все", "при", "за", "под", "над", "между", "через",
	"без", "со", "во", "ко", "ли", "же", "бы", "только", "уже",
	"еще", "даже", "если", "чтобы", "хотя", "пока", "пусть", "будто",
	"словно",
}

var defaultSynonyms = map[string][]string{
	"зарплата":  {"заработная", "плата", "оклад", "выплата"},
	"заработная": {"зарплата", "плата"},
	"выплата":   {"зарплата", "расчет", "расчеты"},
	"когда":     {"дата", "срок", "сроки", "даты"},
}

var defaultBlockedPatterns = []string{
	"генеративные языковые модели не обладают собственным мнением",
	"я не могу обсуждать эту тему",
	"я не располагаю информацией",
}

// defaultSalaryDatesRule mirrors the canned answer served by the reference
// bot when a question's keywords overlap the salary/payment-date intent.
// The payment days (12th and 27th of the month) and the two governing
// document titles are configuration data, never hard-coded branching logic.
var defaultSalaryDatesRule = DomainRule{
	Name: "salary_dates",
	IntentKeywords: []string{
		"зарплата", "заработная", "плата", "выплата", "получаю",
		"когда", "деньги", "дата", "срок", "даты", "выплат",
		"расчет", "расчеты",
	},
	CannedAnswer: "💰 Выплата заработной платы:\n\n" +
		"Согласно корпоративным документам:\n" +
		"• Заработная плата выплачивается два раза в месяц\n" +
		"• Установленными днями для расчетов с работниками являются 12-е и 27-е числа месяца\n" +
		"• При совпадении с выходными/праздниками выплата производится накануне\n\n" +
		"Источники: Положение об оплате труда, Правила внутреннего трудового распорядка",
	RequiredTokens: []string{"12", "27"},
}
