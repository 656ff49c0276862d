package render

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRender_TaskExecuted(t *testing.T) {
	r, err := NewRenderer()
	assert.NoError(t, err)

	content, err := r.Render("task_executed", map[string]string{
		"userName":  "Dana",
		"taskTitle": "weekly digest",
	})
	assert.NoError(t, err)
	assert.Contains(t, content, "Hi Dana,")
	assert.Contains(t, content, "<strong>weekly digest</strong>")
}

func TestRender_EscapesHTMLInVariables(t *testing.T) {
	r, err := NewRenderer()
	assert.NoError(t, err)

	content, err := r.Render("task_executed", map[string]string{
		"userName":  "Dana",
		"taskTitle": "<script>alert(1)</script>",
	})
	assert.NoError(t, err)
	assert.NotContains(t, content, "<script>")
}

func TestRender_UnknownTemplate(t *testing.T) {
	r, err := NewRenderer()
	assert.NoError(t, err)

	_, err = r.Render("no_such_template", nil)
	assert.Error(t, err)
}
