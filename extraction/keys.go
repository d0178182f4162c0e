package extraction

import (
	"strings"
	"unicode"
)

// KeyAlias records every spelling that was folded into one column.
type KeyAlias struct {
	Column  string   `json:"column"`
	Aliases []string `json:"aliases,omitempty"`
	Count   int      `json:"count"`
}

// KeyGlossary maps model-chosen key spellings onto stable column names.
// With normalization off it only counts keys.
type KeyGlossary struct {
	normalize bool
	index     map[string]int
	Entries   []KeyAlias
}

func NewKeyGlossary(normalize bool) *KeyGlossary {
	return &KeyGlossary{normalize: normalize, index: map[string]int{}}
}

// Canonical returns the column name for raw and records raw as an alias of it.
func (g *KeyGlossary) Canonical(raw string) string {
	col := strings.TrimSpace(raw)
	if g.normalize {
		if n := NormalizeKey(raw); n != "" {
			col = n
		}
	}
	i, ok := g.index[col]
	if !ok {
		g.Entries = append(g.Entries, KeyAlias{Column: col})
		i = len(g.Entries) - 1
		g.index[col] = i
	}
	e := &g.Entries[i]
	e.Count++
	if raw != col && !containsString(e.Aliases, raw) {
		e.Aliases = append(e.Aliases, raw)
	}
	return col
}

// Merged returns the columns that absorbed at least one differently spelled key.
func (g *KeyGlossary) Merged() []KeyAlias {
	var out []KeyAlias
	for _, e := range g.Entries {
		if len(e.Aliases) > 0 {
			out = append(out, e)
		}
	}
	return out
}

// NormalizeKey folds a key to snake_case: "pitchSpeed", "Pitch Speed (mph)" and "pitch-speed"
// all share the "pitch_speed" stem. Dots separating flattened path segments are kept.
func NormalizeKey(raw string) string {
	segs := strings.Split(strings.TrimSpace(raw), ".")
	out := make([]string, 0, len(segs))
	for _, s := range segs {
		if n := snakeCase(s); n != "" {
			out = append(out, n)
		}
	}
	return strings.Join(out, ".")
}

func snakeCase(s string) string {
	rs := []rune(strings.TrimSpace(s))
	var b strings.Builder
	pendingSep := false
	for i, r := range rs {
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) {
			pendingSep = b.Len() > 0
			continue
		}
		if unicode.IsUpper(r) && i > 0 && b.Len() > 0 {
			prev := rs[i-1]
			nextLower := i+1 < len(rs) && unicode.IsLower(rs[i+1])
			if unicode.IsLower(prev) || unicode.IsDigit(prev) || (unicode.IsUpper(prev) && nextLower) {
				pendingSep = true
			}
		}
		if pendingSep {
			b.WriteByte('_')
			pendingSep = false
		}
		b.WriteRune(unicode.ToLower(r))
	}
	return b.String()
}

func containsString(xs []string, s string) bool {
	for _, x := range xs {
		if x == s {
			return true
		}
	}
	return false
}
