// Package lang holds the fixed set of language codes the multilingual model accepts.
package lang

import (
	"strings"

	"golang.org/x/text/language"
	"golang.org/x/text/language/display"
)

const Default = "en"

var supported = []string{"en", "es", "fr", "de", "it", "pt", "pl", "tr", "ru", "nl", "cs", "ar", "zh-cn"}

type Option struct {
	Code string `json:"code"`
	Name string `json:"name"`
}

// Supported returns the language codes in display order.
func Supported() []string {
	out := make([]string, len(supported))
	copy(out, supported)
	return out
}

// Normalize maps user input such as "zh-CN" or " EN " onto the canonical code.
func Normalize(code string) string {
	return strings.ToLower(strings.ReplaceAll(strings.TrimSpace(code), "_", "-"))
}

func IsSupported(code string) bool {
	code = Normalize(code)
	for _, c := range supported {
		if c == code {
			return true
		}
	}
	return false
}

func Options() []Option {
	namer := display.English.Tags()
	opts := make([]Option, 0, len(supported))
	for _, code := range supported {
		name := code
		if tag, err := language.Parse(code); err == nil {
			if n := namer.Name(tag); n != "" {
				name = n
			}
		}
		opts = append(opts, Option{Code: code, Name: name})
	}
	return opts
}
