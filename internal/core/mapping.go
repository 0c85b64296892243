package core

import (
	"sort"
	"strings"
)

// DefaultMappingThreshold is the similarity (percent) a header must exceed
// to be suggested for a field.
const DefaultMappingThreshold = 70.0

// Row maps a column header to its raw cell value.
type Row map[string]string

// NewRow zips a header row with one record. For duplicated headers the
// first non-empty cell wins.
func NewRow(headers, cells []string) Row {
	row := make(Row, len(headers))
	for i, h := range headers {
		if h == "" {
			continue
		}
		v := ""
		if i < len(cells) {
			v = cells[i]
		}
		if existing, ok := row[h]; ok && existing != "" {
			continue
		}
		row[h] = v
	}
	return row
}

// Value returns the cell for f. The confirmed mapping's header is tried
// first, then every synonym of f; the first non-empty value wins. A wrong
// or missing mapping therefore never hides data a synonym can find.
func (r Row) Value(f Field, m Mapping) string {
	if h := m[f]; h != "" {
		if v := r.lookup(h); v != "" {
			return v
		}
	}
	for _, syn := range Synonyms(f) {
		if v := r.lookup(syn); v != "" {
			return v
		}
	}
	return ""
}

// Has reports whether any of fields has a value in the row.
func (r Row) Has(m Mapping, fields ...Field) bool {
	for _, f := range fields {
		if r.Value(f, m) != "" {
			return true
		}
	}
	return false
}

// lookup finds a header exactly, then case-insensitively.
func (r Row) lookup(header string) string {
	if v, ok := r[header]; ok {
		return strings.TrimSpace(v)
	}
	for k, v := range r {
		if strings.EqualFold(strings.TrimSpace(k), header) {
			return strings.TrimSpace(v)
		}
	}
	return ""
}

// Similarity returns the case-insensitive similar-text score of a and b as a
// percentage: twice the number of shared characters over the combined
// length. Shared characters are counted by taking the longest common
// substring and recursing into the pieces on either side of it.
func Similarity(a, b string) float64 {
	ra := []rune(strings.ToLower(a))
	rb := []rune(strings.ToLower(b))
	total := len(ra) + len(rb)
	if total == 0 {
		return 0
	}
	return float64(commonChars(ra, rb)) * 2 * 100 / float64(total)
}

func commonChars(a, b []rune) int {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}

	posA, posB, longest := 0, 0, 0
	for i := range a {
		for j := range b {
			k := 0
			for i+k < len(a) && j+k < len(b) && a[i+k] == b[j+k] {
				k++
			}
			if k > longest {
				posA, posB, longest = i, j, k
			}
		}
	}
	if longest == 0 {
		return 0
	}

	return longest +
		commonChars(a[:posA], b[:posB]) +
		commonChars(a[posA+longest:], b[posB+longest:])
}

// SuggestMapping proposes a header for every expected field of importType
// using DefaultMappingThreshold. Fields without a header scoring above the
// threshold map to "".
//
// Each header is suggested for at most one field: pairs are assigned by
// descending score, so a field whose best header was taken by a closer match
// gets its next best header above the threshold, or "". This differs from
// picking each field's best header independently. The suggestion is
// advisory; Row.Value still falls back to every synonym of a field.
func SuggestMapping(headers []string, importType ImportType) (Mapping, error) {
	def, ok := Get(importType)
	if !ok {
		return nil, unknownImportType(string(importType))
	}
	return suggestMapping(headers, def.Fields, DefaultMappingThreshold), nil
}

type mappingCandidate struct {
	field  int
	header int
	score  float64
}

// suggestMapping scores every (field, header) pair against the field's
// synonyms and assigns greedily by descending score, so a header is
// suggested for at most one field. Ties keep catalog then header order.
func suggestMapping(headers []string, fields []FieldSpec, threshold float64) Mapping {
	var candidates []mappingCandidate
	for fi, spec := range fields {
		for hi, h := range headers {
			if strings.TrimSpace(h) == "" {
				continue
			}
			best := 0.0
			for _, syn := range spec.Synonyms {
				if s := Similarity(h, syn); s > best {
					best = s
				}
			}
			if best > threshold {
				candidates = append(candidates, mappingCandidate{field: fi, header: hi, score: best})
			}
		}
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].score > candidates[j].score
	})

	mapping := make(Mapping, len(fields))
	for _, spec := range fields {
		mapping[spec.Field] = ""
	}

	fieldTaken := make(map[int]bool)
	headerTaken := make(map[int]bool)
	for _, c := range candidates {
		if fieldTaken[c.field] || headerTaken[c.header] {
			continue
		}
		fieldTaken[c.field] = true
		headerTaken[c.header] = true
		mapping[fields[c.field].Field] = headers[c.header]
	}
	return mapping
}
