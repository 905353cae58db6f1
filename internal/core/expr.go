package core

import (
	"fmt"
	"strings"

	"geocatalog/pkg/domain"
)

// ParseExpressions turns command-line search expressions into query terms.
// Two forms are accepted:
//
//	field = value
//	field in [lo, hi]
//
// Whitespace around "=" is optional. The field named "time" is lifted into
// the query's time window instead of a field term.
func ParseExpressions(args []string) ([]domain.Term, *domain.TimeRange, error) {
	input := strings.Join(args, " ")
	var terms []domain.Term
	var window *domain.TimeRange

	rest := strings.TrimSpace(input)
	for rest != "" {
		var term domain.Term
		var err error
		term, rest, err = parseOne(rest)
		if err != nil {
			return nil, nil, err
		}
		if term.Field == "time" && term.Op == domain.OpRange {
			start, err := domain.ParseTime(term.Args[0].(string))
			if err != nil {
				return nil, nil, fmt.Errorf("time expression: %w", err)
			}
			end, err := domain.ParseTime(term.Args[1].(string))
			if err != nil {
				return nil, nil, fmt.Errorf("time expression: %w", err)
			}
			window = &domain.TimeRange{Start: start, End: end}
			continue
		}
		terms = append(terms, term)
	}
	return terms, window, nil
}

func parseOne(input string) (domain.Term, string, error) {
	eq := strings.IndexAny(input, "=")
	in := indexWord(input, "in")

	switch {
	case in >= 0 && (eq < 0 || in < eq):
		field := strings.TrimSpace(input[:in])
		rest := strings.TrimSpace(input[in+len("in"):])
		if field == "" || !strings.HasPrefix(rest, "[") {
			return domain.Term{}, "", fmt.Errorf("malformed range expression near %q", input)
		}
		end := strings.Index(rest, "]")
		if end < 0 {
			return domain.Term{}, "", fmt.Errorf("unterminated range in %q", input)
		}
		parts := strings.Split(rest[1:end], ",")
		if len(parts) != 2 {
			return domain.Term{}, "", fmt.Errorf("range takes two operands in %q", input)
		}
		return domain.Term{
			Field: field,
			Op:    domain.OpRange,
			Args:  []any{strings.TrimSpace(parts[0]), strings.TrimSpace(parts[1])},
		}, strings.TrimSpace(rest[end+1:]), nil

	case eq >= 0:
		field := strings.TrimSpace(input[:eq])
		rest := strings.TrimSpace(input[eq+1:])
		if field == "" || rest == "" {
			return domain.Term{}, "", fmt.Errorf("malformed expression near %q", input)
		}
		value := rest
		remainder := ""
		if idx := strings.IndexByte(rest, ' '); idx >= 0 {
			value, remainder = rest[:idx], strings.TrimSpace(rest[idx+1:])
		}
		return domain.Term{Field: field, Op: domain.OpEquals, Args: []any{value}}, remainder, nil
	}
	return domain.Term{}, "", fmt.Errorf("unrecognised expression %q", input)
}

// indexWord finds the word as a standalone token, not as a substring of a
// field name.
func indexWord(s, word string) int {
	offset := 0
	for {
		idx := strings.Index(s[offset:], word)
		if idx < 0 {
			return -1
		}
		idx += offset
		beforeOK := idx == 0 || s[idx-1] == ' '
		after := idx + len(word)
		afterOK := after >= len(s) || s[after] == ' ' || s[after] == '['
		if beforeOK && afterOK {
			return idx
		}
		offset = idx + len(word)
	}
}
