package pdf

import (
	"bytes"
	"context"
	"fmt"
	"io"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
)

// Merger concatenates rendered documents into one artifact, preserving
// input order.
type Merger interface {
	Merge(ctx context.Context, docs [][]byte) ([]byte, error)
}

// PDFCPUMerger merges in-memory PDFs with pdfcpu.
type PDFCPUMerger struct {
	conf *model.Configuration
}

func NewPDFCPUMerger() *PDFCPUMerger {
	return &PDFCPUMerger{conf: model.NewDefaultConfiguration()}
}

func (m *PDFCPUMerger) Merge(_ context.Context, docs [][]byte) ([]byte, error) {
	if len(docs) == 0 {
		return nil, fmt.Errorf("merge: no documents")
	}
	if len(docs) == 1 {
		return docs[0], nil
	}

	readers := make([]io.ReadSeeker, len(docs))
	for i, doc := range docs {
		readers[i] = bytes.NewReader(doc)
	}

	var buf bytes.Buffer
	if err := api.MergeRaw(readers, &buf, false, m.conf); err != nil {
		return nil, fmt.Errorf("merge %d documents: %w", len(docs), err)
	}
	return buf.Bytes(), nil
}
