package qualify

import (
	"regexp"
	"strconv"
	"strings"
)

var wordValues = map[string]float64{
	"zero": 0, "one": 1, "two": 2, "three": 3, "four": 4, "five": 5,
	"six": 6, "seven": 7, "eight": 8, "nine": 9, "ten": 10,
	"eleven": 11, "twelve": 12, "thirteen": 13, "fourteen": 14, "fifteen": 15,
	"sixteen": 16, "seventeen": 17, "eighteen": 18, "nineteen": 19,
	"twenty": 20, "thirty": 30, "forty": 40, "fifty": 50,
	"sixty": 60, "seventy": 70, "eighty": 80, "ninety": 90,
}

var scaleValues = map[string]float64{
	"hundred":  100,
	"thousand": 1000,
	"grand":    1000,
	"k":        1000,
}

var (
	digitsPattern = regexp.MustCompile(`(\d[\d,]*(?:\.\d+)?)\s*(k|hundred|thousand|grand)?\b`)
	wordPattern   = regexp.MustCompile(`[a-z]+`)
)

// firstNumber returns the first quantity mentioned in s, written either with
// digits ("2,000", "1.5k", "2 thousand") or words ("fifteen hundred", "twenty-five",
// "a thousand").
func firstNumber(s string) (float64, bool) {
	s = strings.ToLower(s)

	digitAt, digitVal, digitOK := firstDigitNumber(s)
	wordAt, wordVal, wordOK := firstWordNumber(s)

	switch {
	case digitOK && (!wordOK || digitAt <= wordAt):
		return digitVal, true
	case wordOK:
		return wordVal, true
	default:
		return 0, false
	}
}

func firstDigitNumber(s string) (int, float64, bool) {
	m := digitsPattern.FindStringSubmatchIndex(s)
	if m == nil {
		return -1, 0, false
	}
	f, err := strconv.ParseFloat(strings.ReplaceAll(s[m[2]:m[3]], ",", ""), 64)
	if err != nil {
		return -1, 0, false
	}
	if m[4] >= 0 {
		f *= scaleValues[s[m[4]:m[5]]]
	}
	return m[0], f, true
}

func firstWordNumber(s string) (int, float64, bool) {
	locs := wordPattern.FindAllStringIndex(s, -1)
	word := func(i int) string { return s[locs[i][0]:locs[i][1]] }
	for i := range locs {
		var total, current float64
		start := i
		if _, ok := wordValues[word(i)]; !ok {
			// "a thousand", "an hundred"
			if w := word(i); (w != "a" && w != "an") || i+1 >= len(locs) {
				continue
			}
			if _, ok := scaleValues[word(i+1)]; !ok {
				continue
			}
			current, start = 1, i+1
		}
		for j := start; j < len(locs); j++ {
			tok := word(j)
			if v, ok := wordValues[tok]; ok {
				current += v
				continue
			}
			if tok == "and" {
				continue
			}
			scale, ok := scaleValues[tok]
			if !ok {
				break
			}
			if scale == 100 {
				current *= scale
			} else {
				total += current * scale
				current = 0
			}
		}
		return locs[i][0], total + current, true
	}
	return -1, 0, false
}
