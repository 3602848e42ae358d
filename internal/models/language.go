package models

// Language is a widget language code as understood by the assistant backend.
type Language string

const (
	LanguageEnglish Language = "en"
	LanguageHindi   Language = "hi"
	LanguageOdia    Language = "or"

	// DefaultLanguage is used whenever an unknown language code is requested.
	DefaultLanguage = LanguageEnglish
)

// Languages lists the supported languages in the order they are offered to the user.
var Languages = []Language{LanguageEnglish, LanguageHindi, LanguageOdia}

var languageNames = map[Language]string{
	LanguageEnglish: "English",
	LanguageHindi:   "हिन्दी",
	LanguageOdia:    "ଓଡ଼ିଆ",
}

var recognizerLocales = map[Language]string{
	LanguageEnglish: "en-US",
	LanguageHindi:   "hi-IN",
	LanguageOdia:    "or-IN",
}

var welcomeMessages = map[Language][]string{
	LanguageEnglish: {
		"👋 Hello! Welcome to your AI Health Assistant.",
		"I'm here to provide vaccination schedules, disease info, health tips and more.",
		"You can type or use voice input below to start!",
	},
	LanguageHindi: {
		"👋 नमस्ते! आपका AI स्वास्थ्य सहायक में स्वागत है।",
		"मैं टीकाकरण, बीमारी की जानकारी, स्वास्थ्य सुझाव और अन्य के लिए यहाँ हूँ।",
		"शुरू करने के लिए नीचे टाइप करें या आवाज का उपयोग करें!",
	},
	LanguageOdia: {
		"👋 ନମସ୍କାର! ଆପଣଙ୍କର AI ସ୍ୱାସ୍ଥ୍ୟ ସହାୟକକୁ ସ୍ୱାଗତ।",
		"ଟିକାକରଣ, ରୋଗ ସୂଚନା, ସ୍ୱାସ୍ଥ୍ୟ ଟିପ୍ସ ଏବଂ ଅଧିକ ପାଇଁ ମୁଁ ଏଠାରେ ଅଛି।",
		"ଆରମ୍ଭ କରିବା ପାଇଁ ତଳେ ଟାଇପ୍ କରନ୍ତୁ କିମ୍ବା ଭଏସ୍ ବ୍ୟବହାର କରନ୍ତୁ!",
	},
}

// ParseLanguage returns the language for code and whether it is supported. Unsupported codes map to
// DefaultLanguage.
func ParseLanguage(code string) (Language, bool) {
	l := Language(code)
	if _, ok := welcomeMessages[l]; ok {
		return l, true
	}
	return DefaultLanguage, false
}

// Name returns the native display name of the language.
func (l Language) Name() string {
	if name, ok := languageNames[l]; ok {
		return name
	}
	return languageNames[DefaultLanguage]
}

// Locale returns the speech recognizer locale tag for the language, falling back to the default
// language's tag.
func (l Language) Locale() string {
	if loc, ok := recognizerLocales[l]; ok {
		return loc
	}
	return recognizerLocales[DefaultLanguage]
}

// WelcomeMessages returns a copy of the welcome sequence shown when the transcript is seeded in the
// language. Unknown languages get the default language's sequence.
func WelcomeMessages(l Language) []string {
	msgs, ok := welcomeMessages[l]
	if !ok {
		msgs = welcomeMessages[DefaultLanguage]
	}
	return append([]string(nil), msgs...)
}
