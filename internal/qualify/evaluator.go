// Package qualify scores the five call answers into a Verdict.
// Everything here is pure: same answers, same verdict.
package qualify

import (
	"regexp"
	"strings"

	"lead-qualifier/internal/leads"
)

// Flag texts double as the reason fragments written to the record.
const (
	FlagNewBusiness = "Less than 1 year in business"
	FlagSolo        = "Solo operator (no team)"
	FlagNoClients   = "No current clients"
	FlagNoBudget    = "No clear budget"
)

// UnqualifiedThreshold is the flag count at which a lead is unqualified.
const UnqualifiedThreshold = 3

const qualifiedNotePrefix = "Qualified with notes: "

var (
	newBusinessPattern = regexp.MustCompile(`\b(just (started|starting|launched|opened)|starting (out|up)|brand new|new business|not even a year|less than (a|one) year|under (a|one) year|half (a|an) year|few months|startup|haven'?t (started|launched))\b`)
	monthUnitPattern   = regexp.MustCompile(`\bmonths?\b`)
	shortUnitPattern   = regexp.MustCompile(`\b(weeks?|days?)\b`)
	yearUnitPattern    = regexp.MustCompile(`\byears?\b`)

	soloPattern = regexp.MustCompile(`\b(just me|only me|myself|solo|on my own|by myself|no employees|no one|nobody|none|zero|sole proprietor|freelanc(e|er|ing))\b`)

	affirmativePattern = regexp.MustCompile(`\b(yes|yeah|yep|yup|sure|we do|i do|of course|definitely|absolutely|several|many|plenty|a few|some|a couple|a handful)\b`)
	negativePattern    = regexp.MustCompile(`\b(no|nope|not yet|none|don'?t|do not|haven'?t|have not|zero|nobody|not really|not currently|not at the moment)\b`)

	// Only answers that disclaim a budget; hedges like "flexible" lose to a stated amount.
	undecidedBudgetPattern = regexp.MustCompile(`\b(don'?t know|do not know|not sure|unsure|no budget|no idea|no clue|free|haven'?t decided|not decided|undecided|tbd)\b`)
)

// Evaluate scores the answers for Q1..Q5.
//
// Flags: fewer than one year in business, a solo operator, no current clients,
// no stated or an ambiguous budget. Three or more flags make the lead unqualified;
// otherwise it is qualified and any flags are listed in the reason.
// All answers not captured yields no_answer.
func Evaluate(answers leads.Answers) leads.Verdict {
	if answers.AllNotCaptured() {
		return leads.Verdict{Status: leads.StatusNoAnswer, Reason: "No answers captured"}
	}

	a := normalize(answers)

	var flags []string
	if lessThanOneYear(a[0]) {
		flags = append(flags, FlagNewBusiness)
	}
	if soloOperator(a[1]) {
		flags = append(flags, FlagSolo)
	}
	if noClients(a[2]) {
		flags = append(flags, FlagNoClients)
	}
	if noClearBudget(a[3]) {
		flags = append(flags, FlagNoBudget)
	}

	switch {
	case len(flags) >= UnqualifiedThreshold:
		return leads.Verdict{Status: leads.StatusUnqualified, Reason: strings.Join(flags, "; "), Flags: flags}
	case len(flags) > 0:
		return leads.Verdict{Status: leads.StatusQualified, Reason: qualifiedNotePrefix + strings.Join(flags, "; "), Flags: flags}
	default:
		return leads.Verdict{Status: leads.StatusQualified}
	}
}

func normalize(answers leads.Answers) leads.Answers {
	var out leads.Answers
	for i, v := range answers {
		if v == leads.NotCaptured {
			continue
		}
		v = strings.ToLower(strings.TrimSpace(v))
		v = strings.ReplaceAll(v, "’", "'")
		out[i] = strings.ReplaceAll(v, "-", " ")
	}
	return out
}

// Missing answers raise no flag except for the budget, where absence is the signal.
func lessThanOneYear(a string) bool {
	if a == "" {
		return false
	}
	if newBusinessPattern.MatchString(a) {
		return true
	}
	if n, ok := firstNumber(a); ok {
		switch {
		case yearUnitPattern.MatchString(a):
			return n < 1
		case monthUnitPattern.MatchString(a):
			return n < 12
		case shortUnitPattern.MatchString(a):
			return true
		}
		return n < 1
	}
	return false
}

// A count of one is the owner alone only when phrased that way ("one, just me");
// "one employee" is a team of two.
func soloOperator(a string) bool {
	if a == "" {
		return false
	}
	if n, ok := firstNumber(a); ok {
		if n >= 2 {
			return false
		}
		if n < 1 {
			return true
		}
	}
	return soloPattern.MatchString(a)
}

func noClients(a string) bool {
	if a == "" {
		return false
	}
	if affirmativePattern.MatchString(a) {
		return false
	}
	if n, ok := firstNumber(a); ok && n > 0 {
		return false
	}
	return negativePattern.MatchString(a)
}

func noClearBudget(a string) bool {
	if a == "" {
		return true
	}
	if undecidedBudgetPattern.MatchString(a) {
		return true
	}
	n, ok := firstNumber(a)
	return !ok || n <= 0
}
