package migration

import (
	"context"
	"fmt"
	"strings"
	"unicode"
)

// Exec returns a MigrateFunc running each statement in order.
func Exec(statements ...string) MigrateFunc {
	return func(ctx context.Context, conn Conn) error {
		for i, stmt := range statements {
			stmt = strings.TrimSpace(stmt)
			if stmt == "" {
				continue
			}
			if _, err := conn.ExecContext(ctx, stmt); err != nil {
				return NewDatabaseError(0, stmt, fmt.Sprintf("execute statement %d", i+1), err)
			}
		}
		return nil
	}
}

// SplitStatements splits SQL text into individual statements on top-level
// semicolons. Semicolons inside string literals, quoted identifiers, comments
// and CREATE TRIGGER ... BEGIN ... END bodies do not split.
func SplitStatements(sql string) ([]string, error) {
	var (
		statements []string
		current    strings.Builder
		hasCode    bool
		words      []string
		depth      int
	)

	flush := func() {
		if hasCode {
			statements = append(statements, strings.TrimSpace(current.String()))
		}
		current.Reset()
		hasCode = false
		words = words[:0]
		depth = 0
	}

	isTrigger := func() bool {
		switch {
		case len(words) >= 2 && words[0] == "CREATE" && words[1] == "TRIGGER":
			return true
		case len(words) >= 3 && words[0] == "CREATE" && (words[1] == "TEMP" || words[1] == "TEMPORARY") && words[2] == "TRIGGER":
			return true
		}
		return false
	}

	runes := []rune(sql)
	for i := 0; i < len(runes); i++ {
		r := runes[i]
		switch {
		case r == '-' && i+1 < len(runes) && runes[i+1] == '-':
			end := i
			for end < len(runes) && runes[end] != '\n' {
				end++
			}
			current.WriteString(string(runes[i:end]))
			i = end - 1

		case r == '/' && i+1 < len(runes) && runes[i+1] == '*':
			end := i + 2
			for end+1 < len(runes) && !(runes[end] == '*' && runes[end+1] == '/') {
				end++
			}
			if end+1 >= len(runes) {
				return nil, fmt.Errorf("%w: unterminated block comment", ErrInvalidMigrationFile)
			}
			current.WriteString(string(runes[i : end+2]))
			i = end + 1

		case r == '\'' || r == '"' || r == '`' || r == '[':
			closing := r
			if r == '[' {
				closing = ']'
			}
			end := i + 1
			for {
				if end >= len(runes) {
					return nil, fmt.Errorf("%w: unterminated string literal", ErrInvalidMigrationFile)
				}
				if runes[end] == closing {
					// doubled quote is an escaped quote
					if closing != ']' && end+1 < len(runes) && runes[end+1] == closing {
						end += 2
						continue
					}
					break
				}
				end++
			}
			current.WriteString(string(runes[i : end+1]))
			hasCode = true
			i = end

		case r == ';' && depth == 0:
			current.WriteRune(r)
			flush()

		case unicode.IsLetter(r) || r == '_':
			end := i
			for end < len(runes) && (unicode.IsLetter(runes[end]) || unicode.IsDigit(runes[end]) || runes[end] == '_') {
				end++
			}
			word := strings.ToUpper(string(runes[i:end]))
			if len(words) < 3 {
				words = append(words, word)
			}
			if isTrigger() {
				switch word {
				case "BEGIN", "CASE":
					depth++
				case "END":
					if depth > 0 {
						depth--
					}
				}
			}
			current.WriteString(string(runes[i:end]))
			hasCode = true
			i = end - 1

		default:
			current.WriteRune(r)
			if !unicode.IsSpace(r) {
				hasCode = true
			}
		}
	}
	flush()

	return statements, nil
}
