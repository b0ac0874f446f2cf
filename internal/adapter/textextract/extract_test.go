package textextract

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fairyhunter13/chat-orchestrator/internal/domain"
)

func TestExtract_PlainText(t *testing.T) {
	e := New("http://unused")
	out, err := e.Extract(context.Background(), "notes.txt", []byte("hello world\nsecond line"))
	require.NoError(t, err)
	assert.Equal(t, "hello world\nsecond line", out.Text)
	assert.Equal(t, "txt", out.FileType)
	assert.False(t, out.Truncated)
}

func TestExtract_PlainTextCapped(t *testing.T) {
	e := New("http://unused")
	out, err := e.Extract(context.Background(), "big.txt", []byte(strings.Repeat("a", MaxChars+500)))
	require.NoError(t, err)
	assert.True(t, out.Truncated)
	assert.True(t, strings.HasSuffix(out.Text, "[Truncated]"))
	assert.Len(t, out.Text, MaxChars+len(truncateMarker))
}

func TestExtract_CSV(t *testing.T) {
	e := New("http://unused")
	out, err := e.Extract(context.Background(), "data.csv",
		[]byte("name,age\nalice,30\nbob,25\n"))
	require.NoError(t, err)
	assert.Equal(t, "name\tage\nalice\t30\nbob\t25", out.Text)
	assert.Contains(t, out.Preview, "| name | age |")
	assert.Contains(t, out.Preview, "| --- | --- |")
	assert.Contains(t, out.Preview, "| alice | 30 |")
	assert.Equal(t, "csv", out.FileType)
}

func TestExtract_CSVRowCap(t *testing.T) {
	var b strings.Builder
	b.WriteString("col\n")
	for i := 0; i < MaxCSVRows+20; i++ {
		b.WriteString("v\n")
	}
	e := New("http://unused")
	out, err := e.Extract(context.Background(), "many.csv", []byte(b.String()))
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(out.Text, "[Truncated]"))
	assert.Equal(t, MaxCSVRows, strings.Count(out.Text, "\n"), "header + capped rows")
}

func TestExtract_CSVPreviewLimitedToFirstRows(t *testing.T) {
	var b strings.Builder
	b.WriteString("h1,h2\n")
	for i := 0; i < 30; i++ {
		b.WriteString("a,b\n")
	}
	e := New("http://unused")
	out, err := e.Extract(context.Background(), "wide.csv", []byte(b.String()))
	require.NoError(t, err)
	// header + separator + 9 data rows
	assert.Len(t, strings.Split(out.Preview, "\n"), PreviewRows+1)
}

func TestExtract_UnsupportedExtension(t *testing.T) {
	e := New("http://unused")
	_, err := e.Extract(context.Background(), "script.exe", []byte("MZ"))
	assert.ErrorIs(t, err, domain.ErrInvalidArgument)
}

func TestExtract_SizeLimit(t *testing.T) {
	e := New("http://unused")
	_, err := e.Extract(context.Background(), "huge.txt", make([]byte, MaxFileBytes+1))
	assert.ErrorIs(t, err, domain.ErrInvalidArgument)
}

func TestExtract_EmptyFile(t *testing.T) {
	e := New("http://unused")
	_, err := e.Extract(context.Background(), "empty.txt", nil)
	assert.ErrorIs(t, err, domain.ErrInvalidArgument)
}

func TestExtract_PDFViaTika(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPut, r.Method)
		require.Equal(t, "/tika", r.URL.Path)
		assert.Equal(t, "text/plain", r.Header.Get("Accept"))
		_, _ = w.Write([]byte("Page one text.\n\n\n\nPage two text.   \n"))
	}))
	defer srv.Close()

	e := New(srv.URL)
	out, err := e.Extract(context.Background(), "report.pdf", []byte("%PDF-1.7 fake"))
	require.NoError(t, err)
	assert.Equal(t, "Page one text.\n\nPage two text.", out.Text)
	assert.Equal(t, "pdf", out.FileType)
	assert.Empty(t, out.Preview)
}

func TestExtract_XLSXPreview(t *testing.T) {
	var lines []string
	for i := 0; i < 25; i++ {
		lines = append(lines, "row data")
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(strings.Join(lines, "\n")))
	}))
	defer srv.Close()

	e := New(srv.URL)
	out, err := e.Extract(context.Background(), "sheet.xlsx", []byte("PK fake zip"))
	require.NoError(t, err)
	assert.Len(t, strings.Split(out.Preview, "\n"), PreviewRows)
}

func TestExtract_PDFPageLimit(t *testing.T) {
	var b strings.Builder
	b.WriteString("%PDF-1.7\n")
	for i := 0; i < MaxPDFPages+1; i++ {
		b.WriteString("<< /Type /Page /Parent 2 0 R >>\n")
	}
	e := New("http://unused")
	_, err := e.Extract(context.Background(), "tome.pdf", []byte(b.String()))
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrInvalidArgument)
	assert.Contains(t, err.Error(), "21 pages")
}

func TestExtract_PDFUnderPageLimitPasses(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("short doc"))
	}))
	defer srv.Close()

	data := []byte("%PDF-1.7\n<< /Type /Pages /Count 2 >>\n<< /Type /Page >>\n<< /Type /Page >>\n")
	e := New(srv.URL)
	out, err := e.Extract(context.Background(), "short.pdf", data)
	require.NoError(t, err)
	assert.Equal(t, "short doc", out.Text)
}

func TestExtract_XLSXRowCap(t *testing.T) {
	var lines []string
	for i := 0; i < MaxExcelRows*MaxExcelSheets+50; i++ {
		lines = append(lines, "cell data")
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(strings.Join(lines, "\n")))
	}))
	defer srv.Close()

	e := New(srv.URL)
	out, err := e.Extract(context.Background(), "big.xlsx", []byte("PK fake zip"))
	require.NoError(t, err)
	assert.True(t, out.Truncated)
	assert.True(t, strings.HasSuffix(out.Text, "[Truncated]"))
	assert.Equal(t, MaxExcelRows*MaxExcelSheets,
		strings.Count(strings.TrimSuffix(out.Text, truncateMarker), "\n")+1)
}

func TestExtract_TikaFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	e := New(srv.URL)
	_, err := e.Extract(context.Background(), "broken.docx", []byte("PK"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 500")
}
