package migration

import (
	"path/filepath"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/pkg/errors"
)

// OrderingTokens is the number of leading underscore separated
// tokens in a migration filename that only define its order
const OrderingTokens = 4

// ModuleName strips the directory and the extension from the migration filename
func ModuleName(filename string) string {
	base := filepath.Base(filename)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// Identifier derives the unit identifier from the migration filename,
// e.g. 2020_01_01_000000_create_users_table.go -> CreateUsersTable
func Identifier(filename string) (string, error) {
	tokens := strings.Split(ModuleName(filename), "_")
	if len(tokens) <= OrderingTokens {
		return "", errors.Wrapf(
			ErrInvalidMigrationName,
			"[%s] must have at least %d ordering tokens followed by a name",
			filename, OrderingTokens,
		)
	}

	id := Camelize(strings.Join(tokens[OrderingTokens:], "_"))
	if id == "" {
		return "", errors.Wrapf(ErrInvalidMigrationName, "[%s] has an empty name", filename)
	}

	return id, nil
}

// QualifiedName is the lookup key of a unit: <module>.<Identifier>
func QualifiedName(filename string) (string, error) {
	id, err := Identifier(filename)
	if err != nil {
		return "", err
	}

	return ModuleName(filename) + "." + id, nil
}

// Camelize converts snake_case into CamelCase
func Camelize(s string) string {
	var b strings.Builder
	for _, part := range strings.Split(s, "_") {
		if part == "" {
			continue
		}

		r, size := utf8.DecodeRuneInString(part)
		b.WriteRune(unicode.ToUpper(r))
		b.WriteString(part[size:])
	}

	return b.String()
}

// Snakify converts a free form name into snake_case suitable for a migration filename
func Snakify(s string) string {
	var b strings.Builder
	prevUnderscore := true
	for i, r := range strings.TrimSpace(s) {
		switch {
		case unicode.IsUpper(r):
			if i > 0 && !prevUnderscore {
				b.WriteRune('_')
			}
			b.WriteRune(unicode.ToLower(r))
			prevUnderscore = false
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
			prevUnderscore = false
		default:
			if !prevUnderscore {
				b.WriteRune('_')
				prevUnderscore = true
			}
		}
	}

	return strings.TrimSuffix(b.String(), "_")
}
