package services

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetTemplate(t *testing.T) {
	ts := NewTemplateService()

	tpl, err := ts.GetTemplate("appointment_reminder")
	require.NoError(t, err)
	assert.NotEmpty(t, tpl.ContentSID)
	assert.Equal(t, []string{"name", "date", "time"}, tpl.Parameters)

	_, err = ts.GetTemplate("does_not_exist")
	assert.Error(t, err)
}

func TestInterpolate(t *testing.T) {
	ts := NewTemplateService()

	out := ts.Interpolate("Hi {{name}}, see you at {{time}}.", map[string]string{
		"name": "Priya",
		"time": "14:30",
	})
	assert.Equal(t, "Hi Priya, see you at 14:30.", out)
}

func TestInterpolateLeavesUnmatchedPlaceholders(t *testing.T) {
	ts := NewTemplateService()

	out := ts.Interpolate("Hi {{name}}, your code is {{code}}.", map[string]string{
		"name": "Priya",
	})
	assert.Equal(t, "Hi Priya, your code is {{code}}.", out)
}

func TestInterpolateIgnoresExtraVariables(t *testing.T) {
	ts := NewTemplateService()

	out := ts.Interpolate("Hello {{name}}", map[string]string{
		"name":   "Priya",
		"unused": "whatever",
	})
	assert.Equal(t, "Hello Priya", out)
}

func TestMissingRequiredVariables(t *testing.T) {
	ts := NewTemplateService()

	missing, err := ts.MissingRequiredVariables("appointment_reminder", map[string]string{
		"name": "Priya",
	})
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"date", "time"}, missing)

	missing, err = ts.MissingRequiredVariables("appointment_reminder", map[string]string{
		"name": "Priya",
		"date": "Monday",
		"time": "14:30",
	})
	require.NoError(t, err)
	assert.Empty(t, missing)
}

func TestContentVariablesArePositional(t *testing.T) {
	ts := NewTemplateService()
	tpl, err := ts.GetTemplate("appointment_reminder")
	require.NoError(t, err)

	vars := ts.ContentVariables(tpl, map[string]string{
		"name": "Priya",
		"date": "Monday",
		"time": "14:30",
	})
	assert.Equal(t, map[string]string{
		"1": "Priya",
		"2": "Monday",
		"3": "14:30",
	}, vars)
}
