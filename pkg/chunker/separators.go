package chunker

import "strings"

// Language names a separator table.
type Language string

const (
	LangPython     Language = "python"
	LangGo         Language = "go"
	LangJavaScript Language = "js"
	LangTypeScript Language = "ts"
	LangJava       Language = "java"
	LangRust       Language = "rust"
	LangMarkdown   Language = "markdown"
	LangText       Language = "text"
)

var separatorTable = map[Language][]string{
	LangPython: {
		"\nclass ", "\ndef ", "\n\tdef ",
		"\n\n", "\n", " ", "",
	},
	LangGo: {
		"\nfunc ", "\nvar ", "\nconst ", "\ntype ",
		"\nif ", "\nfor ", "\nswitch ", "\ncase ",
		"\n\n", "\n", " ", "",
	},
	LangJavaScript: {
		"\nfunction ", "\nconst ", "\nlet ", "\nvar ", "\nclass ",
		"\nif ", "\nfor ", "\nwhile ", "\nswitch ", "\ncase ", "\ndefault ",
		"\n\n", "\n", " ", "",
	},
	LangTypeScript: {
		"\nenum ", "\ninterface ", "\nnamespace ", "\ntype ",
		"\nclass ", "\nfunction ", "\nconst ", "\nlet ", "\nvar ",
		"\nif ", "\nfor ", "\nwhile ", "\nswitch ", "\ncase ", "\ndefault ",
		"\n\n", "\n", " ", "",
	},
	LangJava: {
		"\nclass ", "\npublic ", "\nprotected ", "\nprivate ", "\nstatic ",
		"\nif ", "\nfor ", "\nwhile ", "\nswitch ", "\ncase ",
		"\n\n", "\n", " ", "",
	},
	LangRust: {
		"\nfn ", "\nconst ", "\nlet ",
		"\nif ", "\nwhile ", "\nfor ", "\nloop ", "\nmatch ", "\nconst ",
		"\n\n", "\n", " ", "",
	},
	LangMarkdown: {
		"\n# ", "\n## ", "\n### ", "\n#### ", "\n##### ", "\n###### ",
		"\n```\n", "\n***\n", "\n---\n", "\n___\n",
		"\n\n", "\n", " ", "",
	},
	LangText: {"\n\n", "\n", " ", ""},
}

// Separators returns the ordered separator list for lang. Unknown languages
// get the plain-text table. The list always ends with "" so that any text can
// be split down to single runes.
func Separators(lang Language) []string {
	seps, ok := separatorTable[lang]
	if !ok {
		seps = separatorTable[LangText]
	}
	return append([]string(nil), seps...)
}

// LanguageFor maps a loader language name or file extension to a table.
func LanguageFor(name string) Language {
	switch strings.ToLower(strings.TrimPrefix(strings.TrimSpace(name), ".")) {
	case "python", "py":
		return LangPython
	case "go", "golang":
		return LangGo
	case "js", "javascript", "jsx", "mjs", "cjs":
		return LangJavaScript
	case "ts", "typescript", "tsx":
		return LangTypeScript
	case "java":
		return LangJava
	case "rust", "rs":
		return LangRust
	case "markdown", "md":
		return LangMarkdown
	default:
		return LangText
	}
}
