package calls

import (
	"fmt"
	"strings"

	"lead-qualifier/internal/leads"
)

// Script is everything the caller hears.
type Script struct {
	Brand     string
	Questions [leads.NumQuestions]string

	// Greeting takes the lead's name and the brand.
	Greeting    string
	RetryPrompt string
	SkipPrompt  string
	Closing     string
	Fallback    string
}

// DefaultScript returns the office-space qualification script.
func DefaultScript(brand string) Script {
	if brand == "" {
		brand = "Mesh Cowork"
	}
	return Script{
		Brand: brand,
		Questions: [leads.NumQuestions]string{
			"How many years have you been in business?",
			"How many employees do you have?",
			"Do you currently have clients?",
			"What is your monthly budget for office space?",
			"Do you want a private office or are you interested in coworking?",
		},
		Greeting:    "Hello %s, this is %s calling about your inquiry. I have a few quick questions to help us find the right space for you.",
		RetryPrompt: "I didn't catch that. Let me ask again.",
		SkipPrompt:  "I'll skip that question for now.",
		Closing:     "Thank you for answering my questions. You'll receive a text message shortly with a link to schedule a tour. Have a great day!",
		Fallback:    "We're experiencing technical difficulties. We'll be in touch soon. Goodbye.",
	}
}

// GreetingFor renders the greeting for a lead name.
func (s Script) GreetingFor(name string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		name = "there"
	}
	return fmt.Sprintf(s.Greeting, name, s.Brand)
}

// Question returns the prompt for question n (1-based).
func (s Script) Question(n int) string {
	if n < 1 || n > len(s.Questions) {
		return ""
	}
	return s.Questions[n-1]
}
