package investigator

import (
	"context"
	"crypto/rand"
	"crypto/tls"
	"encoding/hex"
	"fmt"
	"log/slog"
	"reflect"
	"regexp"
	"strings"
	"unicode/utf8"
)

const loggerContextKey contextKey = "logger"

type contextKey string

// likeEscapeChar is the escape character assumed by matchLike, and the one
// emitted by escapeLike.
const likeEscapeChar = '\\'

// escapeLike backslash-escapes the SQL LIKE wildcard characters ('%', '_')
// in the given string, so they only match themselves when the result is
// embedded in a LIKE pattern.
func escapeLike(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if r == '%' || r == '_' {
			b.WriteRune(likeEscapeChar)
		}
		b.WriteRune(r)
	}
	return b.String()
}

// matchLike reports whether s matches the given SQL LIKE pattern,
// case-insensitively. '%' matches any run of characters, '_' matches exactly
// one, and a backslash escapes the following character.
func matchLike(pattern string, s string) bool {
	return likeMatch(
		[]rune(strings.ToLower(pattern)),
		[]rune(strings.ToLower(s)),
	)
}

func likeMatch(p []rune, s []rune) bool {
	var pi, si int
	star := -1
	backtrack := 0
	for si < len(s) {
		if pi < len(p) {
			switch p[pi] {
			case '%':
				star = pi
				backtrack = si
				pi++
				continue
			case '_':
				pi++
				si++
				continue
			case likeEscapeChar:
				if pi+1 < len(p) {
					if p[pi+1] == s[si] {
						pi += 2
						si++
						continue
					}
				} else if s[si] == likeEscapeChar {
					// trailing backslash matches itself
					pi++
					si++
					continue
				}
			default:
				if p[pi] == s[si] {
					pi++
					si++
					continue
				}
			}
		}
		if star >= 0 {
			backtrack++
			si = backtrack
			pi = star + 1
			continue
		}
		return false
	}
	for pi < len(p) && p[pi] == '%' {
		pi++
	}
	return pi == len(p)
}

// containsPhrase reports whether phrase appears as a case-insensitive
// substring of content, with LIKE wildcard characters in phrase treated
// literally.
func containsPhrase(content string, phrase string) bool {
	return matchLike(
		fmt.Sprintf("%%%s%%", escapeLike(phrase)),
		content,
	)
}

// templatePattern matches a '{{name}}' substitution placeholder.
var templatePattern = regexp.MustCompile(`\{\{(.*?)\}\}`)

// validateTemplate checks that any substitution placeholder in value names
// only the allowed variable. The field name is carried in the returned
// InvalidArgumentError so callers can report which input was rejected.
func validateTemplate(field string, value string, allowed string) error {
	for _, m := range templatePattern.FindAllStringSubmatch(value, -1) {
		if m[1] != allowed {
			return &InvalidArgumentError{
				Field: field,
				Reason: fmt.Sprintf(
					"invalid template variable %q (only {{%s}} is allowed)",
					m[1], allowed,
				),
			}
		}
	}
	return nil
}

// truncate shortens the input string to a specified number of characters.
func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	runes := []rune(s)
	return string(runes[:n])
}

func tlsConfig(certfile string, keyfile string, minVersion uint16) (
	*tls.Config,
	error,
) {
	certs := make([]tls.Certificate, 1)

	cert, err := tls.LoadX509KeyPair(
		certfile,
		keyfile,
	)
	if err != nil {
		return nil, err
	}
	certs[0] = cert
	return &tls.Config{
		Certificates: certs,
		MinVersion:   minVersion,
		ClientAuth:   tls.NoClientCert,
	}, nil
}

func generateRandomHexString(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

// WithLogger returns a new context with the given logger added.
func WithLogger(ctx context.Context, logger *slog.Logger) context.Context {
	var ctxLogger *slog.Logger
	if logger == nil {
		ctxLogger = slog.Default()
	} else {
		ctxLogger = logger
	}
	return context.WithValue(ctx, loggerContextKey, ctxLogger)
}

// ContextLogger returns a logger from the given context if one
// is present, and a boolean indicating whether a logger was found.
func ContextLogger(ctx context.Context) (*slog.Logger, bool) {
	logger, ok := ctx.Value(loggerContextKey).(*slog.Logger)
	return logger, ok
}

// structToSlogValue converts a struct to a slog.Value, using the struct's
// JSON tag as the key for each field, if set.
// If the `log` tag is set, the value specified will override the
// field's actual value. Ex: `log:"REDACTED"` will cause "REDACTED" to
// be shown as the field's value.
func structToSlogValue(v any) slog.Value {
	typ := reflect.TypeOf(v)
	if typ == nil {
		return slog.AnyValue(nil)
	}
	val := reflect.ValueOf(v)

	if typ.Kind() == reflect.Ptr {
		if val.IsNil() {
			return slog.AnyValue(nil)
		}
		val = val.Elem()
		typ = typ.Elem()
	}

	if typ.Kind() != reflect.Struct {
		return slog.AnyValue(v)
	}

	var groupAttrs []slog.Attr

	for i := 0; i < typ.NumField(); i++ {
		field := typ.Field(i)
		jsonTag, _, _ := strings.Cut(field.Tag.Get("json"), ",")

		if jsonTag == "" {
			jsonTag = field.Name
		}

		fv := val.Field(i)
		if !fv.CanInterface() {
			continue
		}

		logTag := field.Tag.Get("log")
		if logTag != "" {
			groupAttrs = append(
				groupAttrs,
				slog.Attr{Key: jsonTag, Value: slog.StringValue(logTag)},
			)
			continue
		}

		// skip struct values that are nil or empty
		skip := false
		switch fv.Kind() {
		case reflect.Ptr:
			if fv.IsNil() {
				skip = true
			}
		case reflect.Map, reflect.Slice:
			if fv.IsNil() || fv.Len() == 0 {
				skip = true
			}
		case reflect.String:
			if fv.String() == "" {
				skip = true
			}
		}

		if skip {
			continue
		}

		fieldValue := fv.Interface()
		groupAttrs = append(
			groupAttrs,
			slog.Attr{Key: jsonTag, Value: structToSlogValue(fieldValue)},
		)
	}
	return slog.GroupValue(groupAttrs...)
}
