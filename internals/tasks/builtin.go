package tasks

import (
	"fmt"

	z "github.com/Oudwins/zog"
)

const (
	CategoryDataImport   = "Data Import"
	CategoryTextCleaning = "Text Cleaning"
)

var LoadFileFormats = []string{"arrow", "csv", "json", "parquet"}

type LoadFileConfig struct {
	Path   string `json:"path" zog:"path"`
	Format string `json:"format" zog:"format"`
}

var loadFileSchema = z.Struct(z.Shape{
	"Path":   z.String().Required().Trim(),
	"Format": z.String().Required().OneOf(LoadFileFormats),
})

func LoadFile() *Type {
	return &Type{
		ID:       "loadFile",
		Label:    "Load data from a file",
		Category: CategoryDataImport,
		Editor:   "LoadFile",
		Defaults: func() Config {
			return Config{"path": "", "format": nil}
		},
		Validate: func(config Config) map[string][]string {
			return validateAs[LoadFileConfig](loadFileSchema, config)
		},
	}
}

type CaseFoldConfig struct {
	Column string `json:"column" zog:"column"`
}

var caseFoldSchema = z.Struct(z.Shape{
	"Column": z.String().Required().Trim(),
})

func CaseFold() *Type {
	return &Type{
		ID:       "caseFold",
		Label:    "Normalize the case of text",
		Category: CategoryTextCleaning,
		Editor:   "CaseFold",
		Defaults: func() Config {
			return Config{"column": ""}
		},
		Title: func(config Config) string {
			return fmt.Sprintf("Normalize %s to lower case", columnOrDefault(config))
		},
		Validate: func(config Config) map[string][]string {
			return validateAs[CaseFoldConfig](caseFoldSchema, config)
		},
	}
}

type ReplacementMode string

const (
	ReplaceWithName   ReplacementMode = "name"
	ReplaceWithString ReplacementMode = "string"
	RemoveEmojiOnly   ReplacementMode = "remove"
)

type RemoveEmojiConfig struct {
	Column      string          `json:"column" zog:"column"`
	Mode        ReplacementMode `json:"mode" zog:"mode"`
	Replacement string          `json:"replacement" zog:"replacement"`
}

var removeEmojiSchema = z.Struct(z.Shape{
	"Column":      z.String().Required().Trim(),
	"Mode":        z.StringLike[ReplacementMode]().Required().OneOf([]ReplacementMode{ReplaceWithName, ReplaceWithString, RemoveEmojiOnly}),
	"Replacement": z.String().Optional(),
}).TestFunc(func(valPtr any, ctx z.Ctx) bool {
	c := valPtr.(*RemoveEmojiConfig)
	return c.Mode != ReplaceWithString || c.Replacement != ""
}, z.Message("replacement is required when mode is string"))

func RemoveEmoji() *Type {
	return &Type{
		ID:       "removeEmoji",
		Label:    "Remove emoji from text",
		Category: CategoryTextCleaning,
		Editor:   "RemoveEmoji",
		Defaults: func() Config {
			return Config{"column": "", "mode": string(ReplaceWithName), "replacement": ""}
		},
		Title: func(config Config) string {
			column := columnOrDefault(config)
			switch ReplacementMode(config.String("mode")) {
			case RemoveEmojiOnly:
				return fmt.Sprintf("Remove emoji from %s", column)
			case ReplaceWithString:
				return fmt.Sprintf("Replace emoji in %s with %q", column, config.String("replacement"))
			default:
				return fmt.Sprintf("Replace emoji in %s with their names", column)
			}
		},
		Validate: func(config Config) map[string][]string {
			return validateAs[RemoveEmojiConfig](removeEmojiSchema, config)
		},
	}
}

func columnOrDefault(config Config) string {
	if column := config.String("column"); column != "" {
		return column
	}
	return "a column"
}
