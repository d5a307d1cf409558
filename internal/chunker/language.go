package chunker

import (
	"path/filepath"
	"strings"
)

const (
	LanguageGo         = "go"
	LanguageJavaScript = "javascript"
	LanguageMarkdown   = "markdown"
)

var extLanguages = map[string]string{
	".go":       LanguageGo,
	".js":       LanguageJavaScript,
	".mjs":      LanguageJavaScript,
	".cjs":      LanguageJavaScript,
	".jsx":      LanguageJavaScript,
	".md":       LanguageMarkdown,
	".markdown": LanguageMarkdown,
	".ts":       "typescript",
	".tsx":      "typescript",
	".py":       "python",
	".rs":       "rust",
	".java":     "java",
	".c":        "c",
	".h":        "c",
	".cc":       "cpp",
	".cpp":      "cpp",
	".rb":       "ruby",
	".sh":       "shell",
	".sql":      "sql",
	".yaml":     "yaml",
	".yml":      "yaml",
	".json":     "json",
}

// LanguageForName guesses the language of a file from its extension.
// Prose and unknown files return "".
func LanguageForName(name string) string {
	return extLanguages[strings.ToLower(filepath.Ext(name))]
}
