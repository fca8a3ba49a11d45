package models

// MIME types each vendor accepts as file parts.
var (
	OpenAIFileMimeTypes = []string{
		"application/pdf",
		"image/png",
		"image/jpeg",
		"image/gif",
		"image/webp",
	}

	GeminiFileMimeTypes = []string{
		"application/pdf",
		"image/png",
		"image/jpeg",
		"image/webp",
		"image/heic",
		"image/heif",
		"text/plain",
		"text/csv",
		"text/markdown",
		"text/html",
		"audio/mpeg",
		"audio/wav",
		"video/mp4",
	}

	AnthropicFileMimeTypes = []string{
		"application/pdf",
		"image/png",
		"image/jpeg",
		"image/gif",
		"image/webp",
		"text/plain",
	}

	XAIFileMimeTypes = []string{
		"image/png",
		"image/jpeg",
	}
)

// fileSupport lists the static models with file-part support.
var fileSupport = map[string]map[string][]string{
	"openai": {
		"gpt-4.1":      OpenAIFileMimeTypes,
		"gpt-4.1-mini": OpenAIFileMimeTypes,
	},
	"google": {
		"gemini-2.5-flash-lite": GeminiFileMimeTypes,
		"gemini-2.5-flash":      GeminiFileMimeTypes,
		"gemini-2.5-pro":        GeminiFileMimeTypes,
	},
	"anthropic": {
		"sonnet-4.5": AnthropicFileMimeTypes,
	},
	"xai": {
		"grok-3-mini": XAIFileMimeTypes,
	},
}
