package query

import (
	"bytes"
	"encoding/json"
	"strconv"
)

// marshalTyped encodes v (which must encode to a JSON object) with a leading
// "type" member.
func marshalTyped(typ string, v any) ([]byte, error) {
	body, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	buf.WriteString(`{"type":`)
	buf.WriteString(strconv.Quote(typ))
	rest := bytes.TrimSpace(body)
	if len(rest) > 2 {
		buf.WriteByte(',')
		buf.Write(rest[1:])
	} else {
		buf.WriteByte('}')
	}
	return buf.Bytes(), nil
}
