package protocol

import "strings"

var listEscaper = strings.NewReplacer(`\`, `\\`, `,`, `\,`)

// JoinList joins items with commas, escaping commas and backslashes inside
// items so that SplitList can recover them.
func JoinList(items []string) string {
	escaped := make([]string, len(items))
	for i, item := range items {
		escaped[i] = listEscaper.Replace(item)
	}
	return strings.Join(escaped, ",")
}

// SplitList is the inverse of JoinList. An empty string yields no items.
// Unknown escape sequences and a trailing backslash are kept as they are.
func SplitList(s string) []string {
	if s == "" {
		return nil
	}

	var items []string
	var item strings.Builder
	for i := 0; i < len(s); i++ {
		switch c := s[i]; {
		case c == '\\' && i+1 < len(s) && (s[i+1] == ',' || s[i+1] == '\\'):
			item.WriteByte(s[i+1])
			i++
		case c == ',':
			items = append(items, item.String())
			item.Reset()
		default:
			item.WriteByte(c)
		}
	}
	return append(items, item.String())
}
