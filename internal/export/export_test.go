package export

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/TheChickenIsOnFire/Openrouter-AI-Chat-Extension/internal/models"
)

func testSession() models.Session {
	return models.Session{
		ID:     "session-1",
		Number: 2,
		Title:  "Chat 2",
		Model:  "qwen/qwq-32b",
		Messages: []models.Message{
			{Sender: "You", Content: "show me <b>code</b>"},
			{Sender: "QwQ", Content: "Sure:\n```\nfmt.Println(1 < 2)\n```\ndone"},
		},
	}
}

func TestFor(t *testing.T) {
	for format, ext := range map[string]string{"": "md", "markdown": "md", "JSON": "json", "yml": "yaml", "html": "html"} {
		e, err := For(format)
		require.NoError(t, err, format)
		assert.Equal(t, ext, e.Extension())
	}
	_, err := For("pdf")
	assert.Error(t, err)
}

func TestFilename(t *testing.T) {
	e, _ := For("json")
	assert.Equal(t, "chat-2.json", Filename(testSession(), e))
}

func TestMarkdownExporter(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, (&MarkdownExporter{}).Export(testSession(), &buf))
	out := buf.String()

	assert.True(t, strings.HasPrefix(out, "# Chat 2\n"))
	assert.Contains(t, out, "**Model:** qwen/qwq-32b")
	assert.Contains(t, out, "**You:**\n\nshow me <b>code</b>")
	assert.Equal(t, 2, strings.Count(out, "---\n\n**"))
}

func TestJSONExporter(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, (&JSONExporter{}).Export(testSession(), &buf))

	var back models.Session
	require.NoError(t, json.Unmarshal(buf.Bytes(), &back))
	assert.Equal(t, testSession(), back)
}

func TestYAMLExporter(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, (&YAMLExporter{}).Export(testSession(), &buf))

	var doc map[string]any
	require.NoError(t, yaml.Unmarshal(buf.Bytes(), &doc))
	assert.Equal(t, "Chat 2", doc["title"])
	assert.Len(t, doc["messages"], 2)
}

func TestHTMLExporterEscapes(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, (&HTMLExporter{}).Export(testSession(), &buf))
	out := buf.String()

	assert.Contains(t, out, "show me &lt;b&gt;code&lt;/b&gt;")
	assert.NotContains(t, out, "<b>code</b>")
	assert.Contains(t, out, `<pre class="code-block">fmt.Println(1 &lt; 2)</pre>`)
}

func TestFormatMessage(t *testing.T) {
	assert.Equal(t, "a &amp; b", FormatMessage("a & b"))
	assert.Equal(t,
		`x <div class="code-container"><pre class="code-block">one</pre></div> y <div class="code-container"><pre class="code-block">two</pre></div>`,
		FormatMessage("x ```one``` y ```two```"))
	assert.Equal(t, "unclosed ```fence", FormatMessage("unclosed ```fence"))
}
