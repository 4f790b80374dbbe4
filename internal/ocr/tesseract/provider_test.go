package tesseract

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/sercha-local/internal/cmdrun"
	"github.com/custodia-labs/sercha-local/internal/core/domain"
)

const sampleTSV = "level\tpage_num\tblock_num\tpar_num\tline_num\tword_num\tleft\ttop\twidth\theight\tconf\ttext\n" +
	"1\t1\t0\t0\t0\t0\t0\t0\t800\t600\t-1\t\n" +
	"5\t1\t1\t1\t1\t1\t10\t10\t50\t20\t96.5\tHello\n" +
	"5\t1\t1\t1\t1\t2\t70\t10\t50\t20\t93.5\tworld\n" +
	"5\t1\t1\t1\t2\t1\t10\t40\t50\t20\t90\tsecond\n" +
	"5\t1\t2\t1\t1\t1\t10\t400\t80\t20\t80\tFooter\n" +
	"5\t1\t2\t1\t1\t2\t100\t400\t80\t20\t-1\t \n"

func TestParseTSV(t *testing.T) {
	words := ParseTSV([]byte(sampleTSV))
	require.Len(t, words, 4)
	assert.Equal(t, "Hello", words[0].Text)
	assert.Equal(t, domain.BoundingBox{X: 10, Y: 10, Width: 50, Height: 20}, words[0].Box)
	assert.Equal(t, 2, words[3].Block)
}

func TestAssemble(t *testing.T) {
	text, conf := Assemble(ParseTSV([]byte(sampleTSV)))
	assert.Equal(t, "Hello world\nsecond\n\nFooter", text)
	assert.InDelta(t, 90.0, conf, 0.001)
}

func TestWithin(t *testing.T) {
	words := ParseTSV([]byte(sampleTSV))
	top := Within(words, domain.BoundingBox{X: 0, Y: 0, Width: 800, Height: 100})
	assert.Len(t, top, 3)
	assert.Len(t, Within(words, domain.BoundingBox{}), 4)
}

func TestRecognize(t *testing.T) {
	var gotArgs []string
	runner := cmdrun.Func(func(_ context.Context, name string, args ...string) ([]byte, error) {
		assert.Equal(t, "tesseract", name)
		gotArgs = args
		return []byte(sampleTSV), nil
	})

	res, err := New(runner).Recognize(context.Background(), domain.OCRRequest{
		Path:      "/img/a.png",
		Kind:      domain.OCRSourceImage,
		Languages: []string{"eng", "deu"},
		Regions: []domain.OCRRegion{
			{Page: 1, Box: domain.BoundingBox{Width: 800, Height: 100}},
			{Page: 1, Box: domain.BoundingBox{Y: 300, Width: 800, Height: 300}},
			{Page: 1, Box: domain.BoundingBox{Y: 200, Width: 10, Height: 10}},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"/img/a.png", "stdout", "-l", "eng+deu", "tsv"}, gotArgs)

	require.Len(t, res.Regions, 3)
	assert.Equal(t, "Hello world\nsecond", res.Regions[0].Text)
	assert.Equal(t, "Footer", res.Regions[1].Text)
	assert.Equal(t, ErrNoText.Error(), res.Regions[2].Err)
}

func TestRecognize_ToolMissing(t *testing.T) {
	runner := cmdrun.Func(func(context.Context, string, ...string) ([]byte, error) {
		return nil, cmdrun.ErrToolMissing
	})

	_, err := New(runner).Recognize(context.Background(), domain.OCRRequest{Path: "/img/a.png"})
	assert.ErrorIs(t, err, cmdrun.ErrToolMissing)
}
