package middleware

import (
	"context"
	"net"
	"net/http"
	"strings"

	"golang.org/x/text/language"

	"server/internal/domain"
)

type languageContextKey struct{}

// LanguageKey stores the detected content language in the request context.
var LanguageKey = languageContextKey{}

// CountryLookup resolves ISO country codes for an IP address.
type CountryLookup func(ip string) (string, error)

// supported languages, in preference order. Spanish first: Paraguay is the
// primary market.
var matcher = language.NewMatcher([]language.Tag{
	language.Spanish,
	language.English,
})

// Locale detects the content language for each request: an explicit X-Locale
// header wins, then Accept-Language, then the country of the client IP
// (Paraguay and its Spanish-speaking neighbours map to Spanish), then the
// configured fallback.
func Locale(fallback domain.Language, lookup CountryLookup) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			lang := detectLanguage(r, fallback, lookup)
			ctx := context.WithValue(r.Context(), LanguageKey, lang)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// LanguageFromContext returns the detected language, defaulting to Spanish.
func LanguageFromContext(ctx context.Context) domain.Language {
	if v, ok := ctx.Value(LanguageKey).(domain.Language); ok {
		return v
	}
	return domain.LanguageES
}

func detectLanguage(r *http.Request, fallback domain.Language, lookup CountryLookup) domain.Language {
	if v := strings.TrimSpace(r.Header.Get("X-Locale")); v != "" {
		return domain.ParseLanguage(v)
	}
	if accept := r.Header.Get("Accept-Language"); accept != "" {
		if tags, _, err := language.ParseAcceptLanguage(accept); err == nil && len(tags) > 0 {
			// An unmatched preference resolves to the matcher's first tag,
			// Spanish, the primary market.
			tag, _, _ := matcher.Match(tags...)
			base, _ := tag.Base()
			return domain.ParseLanguage(base.String())
		}
	}
	if lookup != nil {
		if ip := ClientIP(r); ip != "" {
			if country, err := lookup(ip); err == nil && country != "" {
				if isSpanishMarket(country) {
					return domain.LanguageES
				}
				return domain.LanguageEN
			}
		}
	}
	if fallback != "" {
		return fallback
	}
	return domain.LanguageES
}

func isSpanishMarket(country string) bool {
	switch strings.ToUpper(country) {
	case "PY", "AR", "BO", "UY":
		return true
	}
	return false
}

// ClientIP returns the best-effort client IP address for the request.
func ClientIP(r *http.Request) string {
	if r == nil {
		return ""
	}
	if xf := r.Header.Get("X-Forwarded-For"); xf != "" {
		parts := strings.Split(xf, ",")
		if len(parts) > 0 {
			return strings.TrimSpace(parts[0])
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
