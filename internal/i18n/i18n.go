// Package i18n provides localized message printers for the command line
// tools and the status endpoint.
package i18n

import (
	"context"
	"os"
	"strings"

	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// DefaultLang is the fallback language
var DefaultLang = language.English

// SupportedLangs are the languages we support
var SupportedLangs = []language.Tag{
	language.English,
	language.German,
}

var matcher = language.NewMatcher(SupportedLangs)

// Message keys shared by the CLI and the status endpoint.
const (
	MsgValid        = "%s: configuration is valid (%d rules, %d NAT policies, %d tables)\n"
	MsgLoaded       = "Configuration loaded (%d rules)\n"
	MsgFlushed      = "Configuration flushed\n"
	MsgRuleAdded    = "Rule added to %s with id %d\n"
	MsgRuleRemoved  = "Rule removed from %s\n"
	MsgRulesFlushed = "Ruleset %s flushed\n"
	MsgNoDiff       = "No differences\n"
	MsgNATResult    = "%s translated from %s (port %d)\n"
	MsgConnCount    = "%d connections\n"
	MsgStatus       = "Engine active: %d rules, %d NAT policies, %d tables\n"
	MsgPeerError    = "Engine reported error %d at %s:%d\n"
)

func init() {
	de := language.German
	for key, msg := range map[string]string{
		MsgValid:        "%s: Konfiguration ist gültig (%d Regeln, %d NAT-Regeln, %d Tabellen)\n",
		MsgLoaded:       "Konfiguration geladen (%d Regeln)\n",
		MsgFlushed:      "Konfiguration geleert\n",
		MsgRuleAdded:    "Regel zu %s hinzugefügt, ID %d\n",
		MsgRuleRemoved:  "Regel aus %s entfernt\n",
		MsgRulesFlushed: "Regelsatz %s geleert\n",
		MsgNoDiff:       "Keine Unterschiede\n",
		MsgNATResult:    "%s übersetzt von %s (Port %d)\n",
		MsgConnCount:    "%d Verbindungen\n",
		MsgStatus:       "Engine aktiv: %d Regeln, %d NAT-Regeln, %d Tabellen\n",
		MsgPeerError:    "Engine meldet Fehler %d in %s:%d\n",
	} {
		if err := message.SetString(de, key, msg); err != nil {
			panic(err)
		}
	}
}

type contextKey struct{}

// printerKey is the key used to store the printer in the context
var printerKey = contextKey{}

// MatchLanguage returns the best matching language for the given tags
func MatchLanguage(acceptLang string) language.Tag {
	tags, _, _ := language.ParseAcceptLanguage(acceptLang)
	tag, _, _ := matcher.Match(tags...)
	return tag
}

// NewPrinter returns a message printer for the given language
func NewPrinter(tag language.Tag) *message.Printer {
	return message.NewPrinter(tag)
}

// WithPrinter returns a new context with the printer injected
func WithPrinter(ctx context.Context, p *message.Printer) context.Context {
	return context.WithValue(ctx, printerKey, p)
}

// GetPrinter returns the printer from the context, or a default one
func GetPrinter(ctx context.Context) *message.Printer {
	p, ok := ctx.Value(printerKey).(*message.Printer)
	if !ok {
		return message.NewPrinter(DefaultLang)
	}
	return p
}

// NewCLIPrinter returns a printer for the system's locale (from env vars)
func NewCLIPrinter() *message.Printer {
	return message.NewPrinter(LocaleTag(os.Getenv("LC_ALL"), os.Getenv("LANG")))
}

// LocaleTag maps POSIX locale names such as "de_DE.UTF-8" to the closest
// supported language. The first non-empty name wins.
func LocaleTag(names ...string) language.Tag {
	var lang string
	for _, n := range names {
		if n != "" {
			lang = n
			break
		}
	}
	if lang == "" || lang == "C" || lang == "POSIX" {
		return DefaultLang
	}

	// Strip encoding and modifier (e.g. .UTF-8, @euro)
	if i := strings.IndexAny(lang, ".@"); i != -1 {
		lang = lang[:i]
	}
	lang = strings.ReplaceAll(lang, "_", "-")

	tag, err := language.Parse(lang)
	if err != nil {
		return MatchLanguage(lang)
	}
	tag, _, _ = matcher.Match(tag)
	return tag
}
