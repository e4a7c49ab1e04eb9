package i18n

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"golang.org/x/text/language"
)

func TestMatchLanguage(t *testing.T) {
	tests := []struct {
		accept   string
		expected language.Tag
	}{
		{"en-US,en;q=0.9", language.English},
		{"de-DE,de;q=0.9", language.German},
		{"fr-FR", language.English}, // Fallback
		{"", language.English},      // Empty
	}

	for _, tt := range tests {
		got := MatchLanguage(tt.accept)
		base, _ := got.Base()
		exp, _ := tt.expected.Base()
		assert.Equal(t, exp, base, "Accept: %s", tt.accept)
	}
}

func TestLocaleTag(t *testing.T) {
	tests := []struct {
		names []string
		want  language.Tag
	}{
		{[]string{"", ""}, language.English},
		{[]string{"C"}, language.English},
		{[]string{"de_DE.UTF-8"}, language.German},
		{[]string{"", "de_AT@euro"}, language.German},
		{[]string{"en_GB.UTF-8", "de_DE"}, language.English},
		{[]string{"ja_JP"}, language.English},
	}
	for _, tt := range tests {
		base, _ := LocaleTag(tt.names...).Base()
		want, _ := tt.want.Base()
		assert.Equal(t, want, base, "%v", tt.names)
	}
}

func TestCatalog(t *testing.T) {
	assert.Equal(t, "Configuration loaded (3 rules)\n", NewPrinter(language.English).Sprintf(MsgLoaded, 3))
	assert.Equal(t, "Konfiguration geladen (3 Regeln)\n", NewPrinter(language.German).Sprintf(MsgLoaded, 3))
}

func TestMiddleware(t *testing.T) {
	handler := Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		GetPrinter(r.Context()).Fprintf(w, MsgFlushed)
	}))

	req := httptest.NewRequest("GET", "/", nil)
	req.Header.Set("Accept-Language", "de")
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	assert.Equal(t, "Konfiguration geleert\n", rr.Body.String())
}
