package normalize

import (
	"regexp"
	"strconv"
	"strings"
)

// Hangul numeral digits and positional units. Units compose additively,
// largest first: 삼천오백 reads 3*1000 + 5*100 = 3500.
var hangulDigits = map[rune]int64{
	'영': 0, '공': 0,
	'일': 1, '이': 2, '삼': 3, '사': 4, '오': 5,
	'육': 6, '칠': 7, '팔': 8, '구': 9,
}

var hangulUnits = []struct {
	r     rune
	value int64
}{
	{'조', 1_000_000_000_000},
	{'억', 100_000_000},
	{'만', 10_000},
	{'천', 1_000},
	{'백', 100},
	{'십', 10},
}

func isHangulNumeral(r rune) bool {
	if _, ok := hangulDigits[r]; ok {
		return true
	}
	for _, u := range hangulUnits {
		if u.r == r {
			return true
		}
	}
	return false
}

// parseHangulNumber converts a run of Hangul numeral characters to its value.
// A unit with no preceding digit counts as one of that unit (십 = 10). The
// large units 조/억/만 multiply everything accumulated below them.
func parseHangulNumber(run string) (int64, bool) {
	if run == "" {
		return 0, false
	}
	var total, section, digit int64
	for _, r := range run {
		if d, ok := hangulDigits[r]; ok {
			digit = d
			continue
		}
		matched := false
		for _, u := range hangulUnits {
			if u.r != r {
				continue
			}
			matched = true
			if u.value >= 10_000 {
				if digit > 0 {
					section += digit
				}
				if section == 0 {
					section = 1
				}
				total += section * u.value
				section, digit = 0, 0
			} else {
				if digit == 0 {
					digit = 1
				}
				section += digit * u.value
				digit = 0
			}
			break
		}
		if !matched {
			return 0, false
		}
	}
	total += section + digit
	return total, true
}

var (
	// X분의 Y reads as the fraction Y/X: the denominator comes first.
	fractionPattern = regexp.MustCompile(`(\S+)\s*분의\s*(\S+)`)

	operatorWords = []struct {
		word string
		repl string
	}{
		{"더하기", "+"},
		{"플러스", "+"},
		{"빼기", "-"},
		{"마이너스", "-"},
		{"곱하기", `\times`},
		{"나누기", `\div`},
		{"제곱", "^2"},
	}
)

// convertKorean rewrites Korean verbal math into symbolic form: numerals,
// fraction phrasing, operator words, then domain vocabulary from the tables.
func convertKorean(s string, tables Tables) string {
	s = replaceHangulNumerals(s)

	s = fractionPattern.ReplaceAllString(s, `\frac{$2}{$1}`)

	for _, op := range operatorWords {
		s = strings.ReplaceAll(s, op.word, op.repl)
	}

	// Longer keys first so 영업보험료 wins over 보험료.
	for _, key := range keysByLength(tables.FinancialTerms) {
		s = strings.ReplaceAll(s, key, tables.FinancialTerms[key])
	}
	for _, key := range keysByLength(tables.MathTerms) {
		s = strings.ReplaceAll(s, key, tables.MathTerms[key])
	}

	return s
}

func replaceHangulNumerals(s string) string {
	var b strings.Builder
	runes := []rune(s)
	for i := 0; i < len(runes); {
		if !isHangulNumeral(runes[i]) {
			b.WriteRune(runes[i])
			i++
			continue
		}
		j := i
		for j < len(runes) && isHangulNumeral(runes[j]) {
			j++
		}
		run := string(runes[i:j])
		// A lone digit character is more often a word fragment (the 이 of
		// 이율) than the number; single units like 십 still convert.
		if n, ok := parseHangulNumber(run); ok && (j-i > 1 || isUnitOnly(run)) {
			b.WriteString(strconv.FormatInt(n, 10))
		} else {
			b.WriteString(run)
		}
		i = j
	}
	return b.String()
}

func isUnitOnly(run string) bool {
	rs := []rune(run)
	if len(rs) != 1 {
		return false
	}
	for _, u := range hangulUnits {
		if u.r == rs[0] {
			return true
		}
	}
	return false
}

func keysByLength(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	// Stable order: longer first, then lexicographic.
	for i := 1; i < len(keys); i++ {
		for j := i; j > 0; j-- {
			a, b := keys[j-1], keys[j]
			if len(b) > len(a) || (len(b) == len(a) && b < a) {
				keys[j-1], keys[j] = b, a
			} else {
				break
			}
		}
	}
	return keys
}
