package errors

// Template defines a registered error type.
type Template struct {
	Category   Category
	Message    string
	Detail     string
	Suggestion string
}

// registry maps error codes to their templates.
var registry = map[string]Template{
	// ============================================
	// Dictionary Errors (E100-E109)
	// ============================================

	"E100": {
		Category:   CategoryDictionary,
		Message:    "Dictionary missing",
		Detail:     "The server needs a compression dictionary at startup and none was found at the configured source.",
		Suggestion: "Set dictionary.path in ghostwatch.json, pass --dict, or set GHOSTWATCH_DICT_PATH.",
	},
	"E101": {
		Category: CategoryDictionary,
		Message:  "Dictionary unreadable",
		Detail:   "The dictionary source exists but could not be read.",
	},
	"E102": {
		Category: CategoryDictionary,
		Message:  "Dictionary invalid",
		Detail:   "The dictionary is empty or larger than the 16MB limit.",
	},

	// ============================================
	// Config Errors (E110-E129)
	// ============================================

	"E110": {
		Category: CategoryConfig,
		Message:  "Config file unreadable",
		Detail:   "The configuration file could not be opened.",
	},
	"E111": {
		Category: CategoryConfig,
		Message:  "Config file invalid",
		Detail:   "The configuration file is not valid JSON or TOML.",
	},
	"E120": {
		Category:   CategoryConfig,
		Message:    "Invalid duration",
		Detail:     "Durations are strings with a unit, such as \"100ms\" or \"30s\".",
		Suggestion: "Use a Go duration string, e.g. \"100ms\".",
	},
	"E121": {
		Category:   CategoryConfig,
		Message:    "Invalid framing",
		Detail:     "Framing must be \"tagged\" or \"out-of-band\".",
		Suggestion: "Use \"tagged\" unless every client tracks announcements itself.",
	},
	"E122": {
		Category: CategoryConfig,
		Message:  "Invalid compression level",
		Detail:   "The compression level must be one of fastest, default, better or best.",
	},
	"E123": {
		Category: CategoryConfig,
		Message:  "Invalid batch setting",
		Detail:   "Batch size threshold and queue bound must not be negative, and the flush interval must be positive.",
	},
	"E124": {
		Category: CategoryConfig,
		Message:  "Invalid size",
		Detail:   "Size settings must not be negative.",
	},
	"E125": {
		Category: CategoryConfig,
		Message:  "Invalid log setting",
		Detail:   "Log level must be debug, info, warn or error; format must be text, json or logfmt.",
	},

	// ============================================
	// Protocol Errors (E130-E139)
	// ============================================

	"E130": {
		Category: CategoryProtocol,
		Message:  "Dictionary swap rejected",
		Detail:   "The server refused the new dictionary.",
	},
	"E131": {
		Category:   CategoryProtocol,
		Message:    "Unauthorized",
		Detail:     "The admin route rejected the token, or no admin token is configured on the server.",
		Suggestion: "Pass --token or set GHOSTWATCH_ADMIN_TOKEN to the server's admin token.",
	},
	"E132": {
		Category: CategoryProtocol,
		Message:  "Connection failed",
		Detail:   "Could not connect to the GhostWatch server.",
	},

	// ============================================
	// Server / CLI Errors (E140-E149)
	// ============================================

	"E140": {
		Category:   CategoryServer,
		Message:    "Server failed",
		Detail:     "The server stopped with an error.",
		Suggestion: "Check that the address is free, or choose another with --addr.",
	},
	"E141": {
		Category: CategoryCLI,
		Message:  "Invalid arguments",
		Detail:   "The command line arguments are invalid.",
	},
}

// GetAllCodes returns all registered error codes.
func GetAllCodes() []string {
	codes := make([]string, 0, len(registry))
	for code := range registry {
		codes = append(codes, code)
	}
	return codes
}

// GetTemplate returns the template for an error code.
func GetTemplate(code string) (Template, bool) {
	t, ok := registry[code]
	return t, ok
}
