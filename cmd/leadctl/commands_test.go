package main

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"lead-qualifier/internal/leads"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleBody = `Fname
Jane Doe
Email
jane@example.com
Phone
(555) 123-4567
What_kind_of_office_space_are_you_interested_in
Private Office
`

func TestParseCommandFromStdin(t *testing.T) {
	var out bytes.Buffer
	cmd := newRootCommand(&app{})
	cmd.SetArgs([]string{"parse", "-"})
	cmd.SetIn(strings.NewReader(sampleBody))
	cmd.SetOut(&out)

	require.NoError(t, cmd.Execute())

	var lead leads.Lead
	require.NoError(t, json.Unmarshal(out.Bytes(), &lead))
	assert.Equal(t, "Jane Doe", lead.Name)
	assert.Equal(t, "+15551234567", lead.Phone)
	assert.NotEmpty(t, lead.Key)
}

func TestParseCommandRejectsGarbage(t *testing.T) {
	cmd := newRootCommand(&app{})
	cmd.SetArgs([]string{"parse", "-"})
	cmd.SetIn(strings.NewReader("hello"))
	cmd.SetOut(&bytes.Buffer{})

	err := cmd.Execute()
	require.Error(t, err)
	assert.True(t, leads.IsClass(err, leads.ClassParse))
}

func TestTokenCommandRejectsUnknownRole(t *testing.T) {
	cmd := newRootCommand(&app{})
	cmd.SetArgs([]string{"token", "--user", "ops-1", "--role", "admin"})
	cmd.SetOut(&bytes.Buffer{})
	assert.Error(t, cmd.Execute())
}
