package codec

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"unicode/utf8"

	"github.com/zeusync/datasync/internal/core/value"
)

type jsonImpl struct{}

func (jsonImpl) Format() Format {
	return JSON
}

func (jsonImpl) Encode(v *value.Value) ([]byte, error) {
	if err := checkUTF8(v); err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v.ToGo()); err != nil {
		return nil, fmt.Errorf("%w: json: %v", ErrEncode, err)
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

func (jsonImpl) Decode(data []byte) (*value.Value, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var raw any
	if err := dec.Decode(&raw); err != nil {
		return nil, jsonDecodeError(err)
	}

	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, decodeError(JSON, "unexpected trailing data at offset %d", dec.InputOffset())
	}

	v, err := value.FromGo(raw)
	if err != nil {
		return nil, decodeError(JSON, "%v", err)
	}
	return v, nil
}

// checkUTF8 rejects strings and keys encoding/json would rewrite to U+FFFD.
func checkUTF8(v *value.Value) error {
	switch v.Kind() {
	case value.KindString:
		s, _ := v.AsString()
		if !utf8.ValidString(s) {
			return fmt.Errorf("%w: json: invalid UTF-8 in string %q", ErrEncode, s)
		}
	case value.KindArray:
		items, _ := v.AsArray()
		for _, item := range items {
			if err := checkUTF8(item); err != nil {
				return err
			}
		}
	case value.KindObject:
		fields, _ := v.AsObject()
		for k, item := range fields {
			if !utf8.ValidString(k) {
				return fmt.Errorf("%w: json: invalid UTF-8 in key %q", ErrEncode, k)
			}
			if err := checkUTF8(item); err != nil {
				return err
			}
		}
	}
	return nil
}

func jsonDecodeError(err error) error {
	var syntaxErr *json.SyntaxError
	switch {
	case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF):
		return decodeError(JSON, "unexpected end of input")
	case errors.As(err, &syntaxErr):
		return decodeError(JSON, "%s at offset %d", syntaxErr.Error(), syntaxErr.Offset)
	default:
		return decodeError(JSON, "%v", err)
	}
}
