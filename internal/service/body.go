package service

import (
	"bytes"
	"encoding/json"
	"fmt"
	"mime"
	"net/http"
	"strconv"

	"rtv-proxy-go/internal/model"
)

// outboundBody returns the compact JSON body to send upstream, or nil when
// no body should be sent. Bodies are only considered when declared as
// application/json; anything else is treated as absent. A declared JSON body
// that is blank, malformed or a top-level scalar yields ErrInvalidBody.
func outboundBody(pr *model.ProxyRequest) ([]byte, error) {
	if pr.Method == http.MethodGet || pr.Method == http.MethodHead {
		return nil, nil
	}
	if len(pr.Body) == 0 || !isJSON(pr.Header.Get("Content-Type")) {
		return nil, nil
	}

	var v any
	if err := json.Unmarshal(pr.Body, &v); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidBody, err)
	}
	switch t := v.(type) {
	case map[string]any:
		if len(t) == 0 {
			return nil, nil
		}
	case []any:
		if len(t) == 0 {
			return nil, nil
		}
	default:
		return nil, fmt.Errorf("%w: top-level value must be an object or array", ErrInvalidBody)
	}

	dec := json.NewDecoder(bytes.NewReader(pr.Body))
	dec.UseNumber()
	var buf bytes.Buffer
	if err := encodeValue(dec, &buf); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidBody, err)
	}
	return buf.Bytes(), nil
}

func isJSON(contentType string) bool {
	if contentType == "" {
		return false
	}
	mt, _, err := mime.ParseMediaType(contentType)
	return err == nil && mt == "application/json"
}

// encodeValue re-encodes the next JSON value from dec in compact form.
// Object members keep the position of their first occurrence and a repeated
// key takes its last value. Numbers are written as spelled in the input.
func encodeValue(dec *json.Decoder, buf *bytes.Buffer) error {
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	switch t := tok.(type) {
	case json.Delim:
		switch t {
		case '{':
			return encodeObject(dec, buf)
		case '[':
			return encodeArray(dec, buf)
		default:
			return fmt.Errorf("unexpected %q", rune(t))
		}
	case string:
		return encodeString(buf, t)
	case json.Number:
		buf.WriteString(t.String())
	case bool:
		buf.WriteString(strconv.FormatBool(t))
	case nil:
		buf.WriteString("null")
	default:
		return fmt.Errorf("unexpected token %T", tok)
	}
	return nil
}

func encodeObject(dec *json.Decoder, buf *bytes.Buffer) error {
	var keys []string
	members := make(map[string][]byte)
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		key, ok := tok.(string)
		if !ok {
			return fmt.Errorf("object key is %T", tok)
		}
		var val bytes.Buffer
		if err := encodeValue(dec, &val); err != nil {
			return err
		}
		if _, seen := members[key]; !seen {
			keys = append(keys, key)
		}
		members[key] = val.Bytes()
	}
	if _, err := dec.Token(); err != nil {
		return err
	}

	buf.WriteByte('{')
	for i, key := range keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		if err := encodeString(buf, key); err != nil {
			return err
		}
		buf.WriteByte(':')
		buf.Write(members[key])
	}
	buf.WriteByte('}')
	return nil
}

func encodeArray(dec *json.Decoder, buf *bytes.Buffer) error {
	buf.WriteByte('[')
	for i := 0; dec.More(); i++ {
		if i > 0 {
			buf.WriteByte(',')
		}
		if err := encodeValue(dec, buf); err != nil {
			return err
		}
	}
	if _, err := dec.Token(); err != nil {
		return err
	}
	buf.WriteByte(']')
	return nil
}

func encodeString(buf *bytes.Buffer, s string) error {
	enc := json.NewEncoder(buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(s); err != nil {
		return err
	}
	// Encode terminates each value with a newline.
	buf.Truncate(buf.Len() - 1)
	return nil
}
