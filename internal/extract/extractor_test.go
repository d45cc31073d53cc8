package extract

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeOCR struct {
	text  string
	err   error
	calls int
}

func (f *fakeOCR) RecognizeImage(_ context.Context, _ string) (string, error) {
	f.calls++
	if f.err != nil {
		return "", f.err
	}
	return f.text, nil
}

type renderCall struct {
	first int
	last  int
}

func newTestExtractor(ocr Engine) (*Extractor, *[]renderCall) {
	calls := &[]renderCall{}
	return &Extractor{
		ocr:    ocr,
		dpi:    defaultRenderDPI,
		logger: zap.NewNop(),
		parse: func(string) ([]string, int, error) {
			return nil, 0, fmt.Errorf("解析器未配置")
		},
		parseFallback: func(string) (string, int, error) {
			return "", 0, fmt.Errorf("备用解析器未配置")
		},
		render: func(_ context.Context, _, _ string, _, first, last int) ([]string, error) {
			*calls = append(*calls, renderCall{first: first, last: last})
			return []string{"page-1.png"}, nil
		},
	}, calls
}

func longNativePage() string {
	return strings.TrimSpace(strings.Repeat("Acids react with metals to liberate hydrogen gas in class experiments. ", 10))
}

func ocrPageText() string {
	return strings.TrimSpace(strings.Repeat("Photosynthesis converts light energy into chemical energy inside chloroplasts. ", 3))
}

func TestExtractShortNativeTextReplacedByOCR(t *testing.T) {
	ocr := &fakeOCR{text: ocrPageText()}
	e, _ := newTestExtractor(ocr)
	native := "Scanned cover page with stray header noise only"
	require.Less(t, len(native), ocrThresholdChars)
	e.parse = func(string) ([]string, int, error) {
		return []string{native}, 1, nil
	}

	res, err := e.Extract(context.Background(), "book.pdf")
	require.NoError(t, err)
	require.True(t, res.UsedOCR)
	require.Equal(t, Normalize(ocr.text), res.Text)
	require.NotContains(t, res.Text, ImageTextMarker)
	require.NotContains(t, res.Text, "stray header noise")
}

func TestExtractEmptyNativeTextUsesOCR(t *testing.T) {
	ocr := &fakeOCR{text: ocrPageText()}
	e, _ := newTestExtractor(ocr)
	e.parse = func(string) ([]string, int, error) {
		return []string{"", ""}, 2, nil
	}

	res, err := e.Extract(context.Background(), "book.pdf")
	require.NoError(t, err)
	require.True(t, res.UsedOCR)
	require.Equal(t, Normalize(ocr.text), res.Text)
}

func TestExtractOCRErrorShortTextFails(t *testing.T) {
	ocr := &fakeOCR{err: fmt.Errorf("识别服务不可用")}
	e, _ := newTestExtractor(ocr)
	e.parse = func(string) ([]string, int, error) {
		return []string{"Tiny fragment"}, 1, nil
	}

	_, err := e.Extract(context.Background(), "book.pdf")
	var exErr *ExtractionError
	require.ErrorAs(t, err, &exErr)
	require.Equal(t, "book.pdf", exErr.File)
	require.Equal(t, 1, ocr.calls)
}

func TestExtractNilEngineShortTextFails(t *testing.T) {
	e, _ := newTestExtractor(nil)
	e.parse = func(string) ([]string, int, error) {
		return []string{"Tiny fragment"}, 1, nil
	}

	_, err := e.Extract(context.Background(), "book.pdf")
	var exErr *ExtractionError
	require.ErrorAs(t, err, &exErr)
}

func TestExtractLongNativeTextSkipsOCR(t *testing.T) {
	ocr := &fakeOCR{text: ocrPageText()}
	e, renders := newTestExtractor(ocr)
	pageOne := longNativePage()
	pageTwo := "Bases turn red litmus blue and feel soapy to the touch in dilute form."
	e.parse = func(string) ([]string, int, error) {
		return []string{pageOne, pageTwo}, 2, nil
	}

	res, err := e.Extract(context.Background(), "book.pdf")
	require.NoError(t, err)
	require.False(t, res.UsedOCR)
	require.Equal(t, 0, ocr.calls)
	require.Empty(t, *renders)
	require.Equal(t, Normalize(pageOne+"\n\n"+pageTwo), res.Text)
	require.Contains(t, res.Text, pageOne+"\n\n"+pageTwo)
}

func TestExtractAppendsImagePagesUnderMarker(t *testing.T) {
	ocr := &fakeOCR{text: "Diagram labels describing the human digestive organs in sequence."}
	e, renders := newTestExtractor(ocr)
	pageOne := longNativePage()
	e.parse = func(string) ([]string, int, error) {
		return []string{pageOne, "", pageOne}, 3, nil
	}

	res, err := e.Extract(context.Background(), "book.pdf")
	require.NoError(t, err)
	require.True(t, res.UsedOCR)
	require.Equal(t, []renderCall{{first: 2, last: 2}}, *renders)
	want := Normalize(pageOne+"\n\n"+pageOne) + "\n\n" + ImageTextMarker + "\n\n" + Normalize(ocr.text)
	require.Equal(t, want, res.Text)
}

func TestExtractImagePageOCRFailureKeepsNativeText(t *testing.T) {
	ocr := &fakeOCR{err: fmt.Errorf("识别服务不可用")}
	e, _ := newTestExtractor(ocr)
	pageOne := longNativePage()
	e.parse = func(string) ([]string, int, error) {
		return []string{pageOne, ""}, 2, nil
	}

	res, err := e.Extract(context.Background(), "book.pdf")
	require.NoError(t, err)
	require.False(t, res.UsedOCR)
	require.NotContains(t, res.Text, ImageTextMarker)
	require.Equal(t, Normalize(pageOne), res.Text)
}

func TestExtractFallbackParser(t *testing.T) {
	e, _ := newTestExtractor(nil)
	raw := longNativePage()
	e.parseFallback = func(string) (string, int, error) {
		return raw, 7, nil
	}

	res, err := e.Extract(context.Background(), "book.pdf")
	require.NoError(t, err)
	require.Equal(t, 7, res.PageCount)
	require.Equal(t, Normalize(raw), res.Text)
}
