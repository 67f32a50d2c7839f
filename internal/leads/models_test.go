package leads

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestSpeedToLead(t *testing.T) {
	t0 := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	assert.Equal(t, 42, SpeedToLead(t0, t0.Add(42*time.Second+900*time.Millisecond)))
	assert.Equal(t, 0, SpeedToLead(t0, t0.Add(-5*time.Second)), "never negative")
	assert.Equal(t, 0, SpeedToLead(time.Time{}, t0))
	assert.Equal(t, 0, SpeedToLead(t0, time.Time{}))
}

func TestAnswers_AllNotCaptured(t *testing.T) {
	var a Answers
	assert.True(t, a.AllNotCaptured())

	a = Answers{NotCaptured, NotCaptured, NotCaptured, NotCaptured, NotCaptured}
	assert.True(t, a.AllNotCaptured())

	a[2] = "yes we do"
	assert.False(t, a.AllNotCaptured())
}

func TestNormalizeE164(t *testing.T) {
	cases := map[string]string{
		"5551234567":      "+15551234567",
		"(415) 555-2671":  "+14155552671",
		"+1 415 555 2671": "+14155552671",
		"1-555-123-4567":  "+15551234567",
		"12":              "",
		"":                "",
	}
	for in, want := range cases {
		assert.Equal(t, want, NormalizeE164(in, "US"), in)
	}
}

func TestLeadValidate(t *testing.T) {
	l := Lead{Key: "msg:1", Name: "Jane", Phone: "+15551234567", ReceivedAt: time.Now()}
	assert.NoError(t, l.Validate())
	assert.NoError(t, l.Dialable())
	assert.NoError(t, l.EmailValid())

	l.Email = "not-an-email"
	assert.NoError(t, l.Validate(), "a bad email does not drop the lead")
	assert.Error(t, l.EmailValid())

	l.Email = ""
	l.Phone = "555-1234"
	assert.NoError(t, l.Validate(), "an undialable phone is still recorded")
	assert.Error(t, l.Dialable())

	l.Phone = ""
	assert.Error(t, l.Validate())
	assert.Error(t, l.Dialable())
}

func TestErrorClassification(t *testing.T) {
	base := errors.New("boom")
	err := fmt.Errorf("outer: %w", E(ClassSinkWrite, "upsert", base))

	assert.Equal(t, ClassSinkWrite, ClassOf(err))
	assert.True(t, IsClass(err, ClassSinkWrite))
	assert.True(t, errors.Is(err, base))
	assert.True(t, ClassSinkWrite.Alertable())
	assert.True(t, ClassStoreUnavailable.Alertable())
	assert.False(t, ClassNoAnswer.Alertable())
	assert.Equal(t, ClassUnknown, ClassOf(base))
	assert.Equal(t, Class(""), ClassOf(nil))
}
