package fetch

import (
	"bytes"
	"encoding/json"
	"encoding/xml"
	"io"
	"strconv"
	"strings"

	"acs-event-bridge/internal/types"
)

// Vendors do not guarantee a stable response envelope: the record array moves
// around between firmware revisions and between the JSON and XML encodings.
// Extraction therefore tries a small ordered list of known structural paths
// and falls back to a depth-first search for the first array in the tree.

// arrayPaths are the known envelope shapes, most common first.
var arrayPaths = [][]string{
	{"data", "list"},
	{"list"},
	{"AcsEvent", "InfoList"},
	{"AcsEvent", "Events"},
	{"Events"},
	{"infos"},
	{"rows"},
	{"AcsEventSearchResult", "MatchList"},
	{"AcsEventSearchResult", "Items"},
}

// PageMeta carries the pagination hints a response may include. Zero values
// mean the envelope did not report them.
type PageMeta struct {
	TotalMatches int
	NumMatches   int
}

// ExtractRecords locates the record array inside a decoded response tree and
// returns it as raw records, together with any pagination hints found at the
// top levels of the tree.
func ExtractRecords(root interface{}) ([]types.RawRecord, PageMeta) {
	meta := PageMeta{
		TotalMatches: findInt(root, "totalMatches", 2),
		NumMatches:   findInt(root, "numOfMatches", 2),
	}

	arr := findArray(root)
	if arr == nil {
		return nil, meta
	}

	records := make([]types.RawRecord, 0, len(arr))
	for _, el := range arr {
		if m, ok := el.(map[string]interface{}); ok {
			records = append(records, types.RawRecord(m))
		}
	}
	return records, meta
}

// DecodeBody decodes a JSON or XML response body into the generic tree shape
// used by ExtractRecords. A body that parses as neither yields nil, which the
// fetcher treats as zero records, not an error.
func DecodeBody(body []byte, contentType string) interface{} {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return nil
	}

	looksXML := strings.Contains(contentType, "xml") || trimmed[0] == '<'
	if !looksXML {
		var root interface{}
		if err := json.Unmarshal(trimmed, &root); err == nil {
			return root
		}
	}

	if node, err := decodeXML(trimmed); err == nil {
		return node
	}
	return nil
}

func findArray(node interface{}) []interface{} {
	for _, path := range arrayPaths {
		if arr, ok := lookupArray(node, path); ok {
			return arr
		}
	}
	// Some XML firmware wraps list items one level deeper under "Item".
	for _, path := range [][]string{{"AcsEventSearchResult", "MatchList", "Item"}, {"AcsEvent", "InfoList", "Item"}} {
		if arr, ok := lookupArray(node, path); ok {
			return arr
		}
	}
	return firstArrayDFS(node)
}

func lookupArray(node interface{}, path []string) ([]interface{}, bool) {
	cur := node
	for _, seg := range path {
		m, ok := cur.(map[string]interface{})
		if !ok {
			return nil, false
		}
		cur, ok = m[seg]
		if !ok {
			return nil, false
		}
	}
	arr, ok := cur.([]interface{})
	return arr, ok
}

// firstArrayDFS walks the tree depth-first and returns the first array-valued
// node, in document order as far as Go map iteration allows.
func firstArrayDFS(node interface{}) []interface{} {
	switch n := node.(type) {
	case []interface{}:
		return n
	case map[string]interface{}:
		for _, v := range n {
			if arr, ok := v.([]interface{}); ok {
				return arr
			}
		}
		for _, v := range n {
			if sub := firstArrayDFS(v); sub != nil {
				return sub
			}
		}
	}
	return nil
}

// findInt searches the first maxDepth levels of the tree for a numeric field.
func findInt(node interface{}, field string, maxDepth int) int {
	if maxDepth < 0 {
		return 0
	}
	m, ok := node.(map[string]interface{})
	if !ok {
		return 0
	}
	if v, exists := m[field]; exists {
		switch n := v.(type) {
		case float64:
			return int(n)
		case string:
			if parsed, err := strconv.Atoi(strings.TrimSpace(n)); err == nil {
				return parsed
			}
		}
	}
	for _, v := range m {
		if got := findInt(v, field, maxDepth-1); got != 0 {
			return got
		}
	}
	return 0
}

// decodeXML converts an XML document into the same generic tree shape as
// decoded JSON: elements become map[string]interface{}, repeated siblings
// become []interface{}, leaf text becomes string.
func decodeXML(data []byte) (interface{}, error) {
	dec := xml.NewDecoder(bytes.NewReader(data))
	for {
		tok, err := dec.Token()
		if err != nil {
			return nil, err
		}
		if start, ok := tok.(xml.StartElement); ok {
			child, err := decodeXMLElement(dec, start)
			if err != nil {
				return nil, err
			}
			return map[string]interface{}{start.Name.Local: child}, nil
		}
	}
}

func decodeXMLElement(dec *xml.Decoder, start xml.StartElement) (interface{}, error) {
	children := make(map[string]interface{})
	var text strings.Builder

	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		switch t := tok.(type) {
		case xml.StartElement:
			child, err := decodeXMLElement(dec, t)
			if err != nil {
				return nil, err
			}
			name := t.Name.Local
			if existing, ok := children[name]; ok {
				if arr, isArr := existing.([]interface{}); isArr {
					children[name] = append(arr, child)
				} else {
					children[name] = []interface{}{existing, child}
				}
			} else {
				children[name] = child
			}
		case xml.CharData:
			text.Write(t)
		case xml.EndElement:
			if len(children) == 0 {
				return strings.TrimSpace(text.String()), nil
			}
			return children, nil
		}
	}
	if len(children) == 0 {
		return strings.TrimSpace(text.String()), nil
	}
	return children, nil
}
