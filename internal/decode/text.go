package decode

import (
	"bytes"
	"context"

	"github.com/joseph-ayodele/missingtext/internal/entity"
)

// TextDecoder yields one page whose vector text is the UTF-8 body.
type TextDecoder struct{}

func (TextDecoder) Open(_ context.Context, doc *entity.RawDocument) (PageSource, error) {
	body := bytes.TrimPrefix(doc.Bytes, utf8BOM)
	return &singlePage{page: entity.Page{Index: 0, VectorText: string(body)}}, nil
}

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}
