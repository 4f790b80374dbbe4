package pdfocr

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/sercha-local/internal/cmdrun"
	"github.com/custodia-labs/sercha-local/internal/core/domain"
)

const pageTSV = "level\tpage_num\tblock_num\tpar_num\tline_num\tword_num\tleft\ttop\twidth\theight\tconf\ttext\n" +
	"5\t1\t1\t1\t1\t1\t10\t10\t50\t20\t88\tScanned\n"

func TestRecognize_PerPage(t *testing.T) {
	var rendered []string
	runner := cmdrun.Func(func(_ context.Context, name string, args ...string) ([]byte, error) {
		switch name {
		case "pdftoppm":
			page := args[3]
			rendered = append(rendered, page)
			if page == "3" {
				return nil, errors.New("bad page")
			}
			return nil, nil
		case "tesseract":
			assert.True(t, strings.HasSuffix(args[0], ".png"))
			return []byte(pageTSV), nil
		}
		return nil, errors.New("unexpected " + name)
	})

	res, err := New(runner).Recognize(context.Background(), domain.OCRRequest{
		Path:      "/docs/scan.pdf",
		Kind:      domain.OCRSourcePDF,
		Languages: []string{"eng"},
		Regions:   []domain.OCRRegion{{Page: 2}, {Page: 3}},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"2", "3"}, rendered)

	require.Len(t, res.Regions, 2)
	assert.Equal(t, "Scanned", res.Regions[0].Text)
	assert.InDelta(t, 88, res.Regions[0].Confidence, 0.001)
	assert.Contains(t, res.Regions[1].Err, "render page 3")
}

func TestRecognize_RequiresPages(t *testing.T) {
	_, err := New(cmdrun.Exec{}).Recognize(context.Background(), domain.OCRRequest{Path: "/docs/a.pdf"})
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}
