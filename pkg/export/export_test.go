package export

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func manifestDataset() Dataset {
	return Dataset{
		Title:   "Biology files",
		Headers: []string{"name", "size"},
		Rows: []map[string]string{
			{"name": "notes/week1.pdf", "size": "1024"},
			{"name": "notes/week2, draft.pdf", "size": "2048"},
		},
	}
}

func TestCSVRender(t *testing.T) {
	out, err := NewCSVExporter().Render(manifestDataset())
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(out)), "\n")
	require.Len(t, lines, 3)
	assert.Equal(t, "name,size", lines[0])
	assert.Equal(t, `"notes/week2, draft.pdf",2048`, lines[2])
}

func TestCSVRequiresHeaders(t *testing.T) {
	_, err := NewCSVExporter().Render(Dataset{})
	require.Error(t, err)
}

func TestPDFRender(t *testing.T) {
	data := manifestDataset()
	for i := 0; i < 120; i++ {
		data.Rows = append(data.Rows, map[string]string{"name": strings.Repeat("long-name-", 20), "size": "1"})
	}
	out, err := NewPDFExporter().Render(data)
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(out, []byte("%PDF-")))
	assert.Equal(t, "pdf", NewPDFExporter().Extension())
}
