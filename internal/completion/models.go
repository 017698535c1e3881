package completion

import "strings"

// Allowed model names, lowercase.
const (
	ModelGPT35Turbo     = "gpt-3.5-turbo"
	ModelTextDavinci003 = "text-davinci-003"
	ModelTextCurie001   = "text-curie-001"
	ModelTextBabbage001 = "text-babbage-001"
	ModelTextAda001     = "text-ada-001"
)

// AllowedModels lists the models accepted by the service, in display order.
var AllowedModels = []string{
	ModelGPT35Turbo,
	ModelTextDavinci003,
	ModelTextCurie001,
	ModelTextBabbage001,
	ModelTextAda001,
}

// chatModels are served by the chat completions endpoint.
var chatModels = map[string]struct{}{
	ModelGPT35Turbo: {},
}

// NormalizeModel lowercases a model name without trimming it.
func NormalizeModel(model string) string {
	return strings.ToLower(model)
}

// IsAllowedModel reports whether model names an allowed model, ignoring case.
func IsAllowedModel(model string) bool {
	normalized := NormalizeModel(model)
	for _, allowed := range AllowedModels {
		if normalized == allowed {
			return true
		}
	}
	return false
}

// IsChatModel reports whether model uses the chat completions endpoint.
func IsChatModel(model string) bool {
	_, ok := chatModels[NormalizeModel(model)]
	return ok
}
