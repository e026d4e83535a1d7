package language

// Language is one entry of the supported-language catalog.
type Language struct {
	Code string `json:"code" yaml:"code"`
	Name string `json:"name" yaml:"name"`
}

// Seed provides the catalog offered when no languages file is configured.
func Seed() []Language {
	return []Language{
		{Code: "en", Name: "English"},
		{Code: "es", Name: "Spanish"},
		{Code: "fr", Name: "French"},
		{Code: "de", Name: "German"},
		{Code: "hi", Name: "Hindi"},
		{Code: "ar", Name: "Arabic"},
		{Code: "zh", Name: "Chinese"},
		{Code: "pt", Name: "Portuguese"},
	}
}
