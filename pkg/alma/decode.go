package alma

import (
	"encoding/xml"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// XML element and attribute names in Alma listing responses.
const (
	elemUsers            = "users"
	elemPrimaryID        = "primary_id"
	attrTotalRecordCount = "total_record_count"
)

// decodeUserListing stream-parses a users listing body without building a
// tree. It collects the text of every <primary_id> element in document order
// and the total_record_count attribute of the <users> container. Text and
// whitespace between recognized elements is ignored. The absence of the
// container is a decode failure; the absence of the count attribute is
// reported through haveTotal so that callers which do not need it can
// proceed.
func decodeUserListing(r io.Reader) (ids []string, total int, haveTotal bool, err error) {
	dec := xml.NewDecoder(r)
	sawContainer := false

	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, 0, false, err
		}

		start, ok := tok.(xml.StartElement)
		if !ok {
			continue
		}

		switch start.Name.Local {
		case elemUsers:
			sawContainer = true
			for _, attr := range start.Attr {
				if attr.Name.Local != attrTotalRecordCount {
					continue
				}
				n, err := strconv.Atoi(strings.TrimSpace(attr.Value))
				if err != nil {
					return nil, 0, false, fmt.Errorf("parse %s %q: %w", attrTotalRecordCount, attr.Value, err)
				}
				total = n
				haveTotal = true
			}
		case elemPrimaryID:
			var id string
			if err := dec.DecodeElement(&id, &start); err != nil {
				return nil, 0, false, fmt.Errorf("read %s text: %w", elemPrimaryID, err)
			}
			ids = append(ids, id)
		}
	}

	if !sawContainer {
		return nil, 0, false, fmt.Errorf("no <%s> element in listing response", elemUsers)
	}
	return ids, total, haveTotal, nil
}
