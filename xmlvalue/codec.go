package xmlvalue

import (
	"bytes"
	"encoding/base64"
	"encoding/xml"
	"fmt"
	"log"
	"strconv"
	"time"

	"gbxremote/gbxerr"
)

// ---- encoding ----

// EncodeMethodCall renders a client request or server callback as
// <methodCall><methodName>…</methodName><params>…</params></methodCall>.
func EncodeMethodCall(name string, params []Value) ([]byte, error) {
	var buf bytes.Buffer
	enc := xml.NewEncoder(&buf)

	if err := writeStart(enc, "methodCall"); err != nil {
		return nil, err
	}
	if err := writeText(enc, "methodName", name); err != nil {
		return nil, err
	}
	if err := writeStart(enc, "params"); err != nil {
		return nil, err
	}
	for _, p := range params {
		if err := writeStart(enc, "param"); err != nil {
			return nil, err
		}
		if err := encodeValue(enc, p); err != nil {
			return nil, err
		}
		if err := writeEnd(enc, "param"); err != nil {
			return nil, err
		}
	}
	if err := writeEnd(enc, "params"); err != nil {
		return nil, err
	}
	if err := writeEnd(enc, "methodCall"); err != nil {
		return nil, err
	}

	if err := enc.Flush(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// EncodeResponse renders a successful call result as
// <methodResponse><params><param><value>…</value></param></params></methodResponse>.
func EncodeResponse(v Value) ([]byte, error) {
	var buf bytes.Buffer
	enc := xml.NewEncoder(&buf)

	if err := writeStart(enc, "methodResponse"); err != nil {
		return nil, err
	}
	if err := writeStart(enc, "params"); err != nil {
		return nil, err
	}
	if err := writeStart(enc, "param"); err != nil {
		return nil, err
	}
	if err := encodeValue(enc, v); err != nil {
		return nil, err
	}
	if err := writeEnd(enc, "param"); err != nil {
		return nil, err
	}
	if err := writeEnd(enc, "params"); err != nil {
		return nil, err
	}
	if err := writeEnd(enc, "methodResponse"); err != nil {
		return nil, err
	}

	if err := enc.Flush(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// EncodeFault renders a fault response as
// <methodResponse><fault><value><struct>{faultCode,faultString}</struct></value></fault></methodResponse>.
func EncodeFault(code int32, message string) ([]byte, error) {
	var buf bytes.Buffer
	enc := xml.NewEncoder(&buf)

	faultValue := Struct(
		NamedMember("faultCode", Int(code)),
		NamedMember("faultString", String(message)),
	)

	if err := writeStart(enc, "methodResponse"); err != nil {
		return nil, err
	}
	if err := writeStart(enc, "fault"); err != nil {
		return nil, err
	}
	if err := encodeValue(enc, faultValue); err != nil {
		return nil, err
	}
	if err := writeEnd(enc, "fault"); err != nil {
		return nil, err
	}
	if err := writeEnd(enc, "methodResponse"); err != nil {
		return nil, err
	}

	if err := enc.Flush(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func encodeValue(enc *xml.Encoder, v Value) error {
	if err := writeStart(enc, "value"); err != nil {
		return err
	}

	switch v.Kind {
	case KindInt:
		if err := writeText(enc, "i4", strconv.FormatInt(int64(v.Int), 10)); err != nil {
			return err
		}
	case KindBool:
		b := "0"
		if v.Bool {
			b = "1"
		}
		if err := writeText(enc, "boolean", b); err != nil {
			return err
		}
	case KindString:
		if err := writeText(enc, "string", v.Str); err != nil {
			return err
		}
	case KindDouble:
		if err := writeText(enc, "double", strconv.FormatFloat(v.Double, 'g', -1, 64)); err != nil {
			return err
		}
	case KindDateTime:
		if err := writeText(enc, "dateTime.iso8601", v.DateTime.Format(DateTimeLayout)); err != nil {
			return err
		}
	case KindBase64:
		if err := writeText(enc, "base64", base64.StdEncoding.EncodeToString(v.Bytes)); err != nil {
			return err
		}
	case KindArray:
		if err := writeStart(enc, "array"); err != nil {
			return err
		}
		if err := writeStart(enc, "data"); err != nil {
			return err
		}
		for _, elem := range v.Array {
			if err := encodeValue(enc, elem); err != nil {
				return err
			}
		}
		if err := writeEnd(enc, "data"); err != nil {
			return err
		}
		if err := writeEnd(enc, "array"); err != nil {
			return err
		}
	case KindStruct:
		if err := writeStart(enc, "struct"); err != nil {
			return err
		}
		for _, m := range v.Struct {
			if err := writeStart(enc, "member"); err != nil {
				return err
			}
			if err := writeText(enc, "name", m.Name); err != nil {
				return err
			}
			if err := encodeValue(enc, m.Value); err != nil {
				return err
			}
			if err := writeEnd(enc, "member"); err != nil {
				return err
			}
		}
		if err := writeEnd(enc, "struct"); err != nil {
			return err
		}
	default:
		return fmt.Errorf("gbxremote: unknown value kind %d", v.Kind)
	}

	return writeEnd(enc, "value")
}

func writeStart(enc *xml.Encoder, name string) error {
	return enc.EncodeToken(xml.StartElement{Name: xml.Name{Local: name}})
}

func writeEnd(enc *xml.Encoder, name string) error {
	return enc.EncodeToken(xml.EndElement{Name: xml.Name{Local: name}})
}

func writeText(enc *xml.Encoder, name, text string) error {
	if err := writeStart(enc, name); err != nil {
		return err
	}
	if err := enc.EncodeToken(xml.CharData(text)); err != nil {
		return err
	}
	return writeEnd(enc, name)
}

// ---- decoding ----

// DecodeMethodCall parses a <methodCall> body — the shape the transport
// sees on every request it sends to the server and every callback frame the
// server sends to it.
func DecodeMethodCall(body []byte) (MethodCall, error) {
	dec := xml.NewDecoder(bytes.NewReader(body))

	if err := expectStart(dec, "methodCall"); err != nil {
		return MethodCall{}, err
	}

	var call MethodCall
	for {
		tok, err := nextSignificant(dec)
		if err != nil {
			return MethodCall{}, decodeErr(err)
		}
		switch t := tok.(type) {
		case xml.StartElement:
			switch t.Name.Local {
			case "methodName":
				name, err := readCharData(dec)
				if err != nil {
					return MethodCall{}, decodeErr(err)
				}
				call.Name = name
			case "params":
				params, err := decodeParams(dec)
				if err != nil {
					return MethodCall{}, err
				}
				call.Params = params
			default:
				return MethodCall{}, &gbxerr.Decode{Detail: "unexpected element " + t.Name.Local + " in methodCall"}
			}
		case xml.EndElement:
			if t.Name.Local == "methodCall" {
				return call, nil
			}
		}
	}
}

// DecodeResponse parses a <methodResponse> body into either a normal
// response Value or a Fault.
func DecodeResponse(body []byte) (Response, error) {
	dec := xml.NewDecoder(bytes.NewReader(body))

	if err := expectStart(dec, "methodResponse"); err != nil {
		return Response{}, err
	}

	tok, err := nextSignificant(dec)
	if err != nil {
		return Response{}, decodeErr(err)
	}
	start, ok := tok.(xml.StartElement)
	if !ok {
		return Response{}, &gbxerr.Decode{Detail: "methodResponse has no params or fault element"}
	}

	switch start.Name.Local {
	case "params":
		params, err := decodeParams(dec)
		if err != nil {
			return Response{}, err
		}
		if len(params) != 1 {
			return Response{}, &gbxerr.Decode{Detail: "methodResponse params must contain exactly one value"}
		}
		return Response{Value: params[0]}, nil
	case "fault":
		v, err := decodeValueElement(dec)
		if err != nil {
			return Response{}, err
		}
		if err := expectEnd(dec, "fault"); err != nil {
			return Response{}, err
		}
		fault, err := faultFromValue(v)
		if err != nil {
			return Response{}, err
		}
		return Response{IsFault: true, Fault: fault}, nil
	default:
		return Response{}, &gbxerr.Decode{Detail: "unexpected element " + start.Name.Local + " in methodResponse"}
	}
}

func faultFromValue(v Value) (Fault, error) {
	if v.Kind != KindStruct {
		return Fault{}, &gbxerr.Decode{Detail: "fault value must be a struct"}
	}
	var f Fault
	haveCode, haveMsg := false, false
	for _, m := range v.Struct {
		switch m.Name {
		case "faultCode":
			if m.Value.Kind != KindInt {
				return Fault{}, &gbxerr.Decode{Detail: "faultCode must be an int"}
			}
			f.Code = m.Value.Int
			haveCode = true
		case "faultString":
			if m.Value.Kind != KindString {
				return Fault{}, &gbxerr.Decode{Detail: "faultString must be a string"}
			}
			f.Message = m.Value.Str
			haveMsg = true
		}
	}
	if !haveCode || !haveMsg {
		return Fault{}, &gbxerr.Decode{Detail: "fault struct missing faultCode or faultString"}
	}
	return f, nil
}

func decodeParams(dec *xml.Decoder) ([]Value, error) {
	var values []Value
	for {
		tok, err := nextSignificant(dec)
		if err != nil {
			return nil, decodeErr(err)
		}
		switch t := tok.(type) {
		case xml.StartElement:
			if t.Name.Local != "param" {
				return nil, &gbxerr.Decode{Detail: "unexpected element " + t.Name.Local + " in params"}
			}
			v, err := decodeValueElement(dec)
			if err != nil {
				return nil, err
			}
			if err := expectEnd(dec, "param"); err != nil {
				return nil, err
			}
			values = append(values, v)
		case xml.EndElement:
			if t.Name.Local == "params" {
				return values, nil
			}
		}
	}
}

// decodeValueElement expects the next significant token to be a <value>
// start element (not yet consumed) and consumes through its matching end
// element.
func decodeValueElement(dec *xml.Decoder) (Value, error) {
	if err := expectStart(dec, "value"); err != nil {
		return Value{}, err
	}
	return decodeValueInner(dec)
}

// decodeValueInner parses everything between an already-consumed <value>
// start tag and its matching </value>: either a typed child element, or
// bare CharData meaning an implicit string, or nothing (empty string).
func decodeValueInner(dec *xml.Decoder) (Value, error) {
	tok, err := dec.Token()
	if err != nil {
		return Value{}, decodeErr(err)
	}

	switch t := tok.(type) {
	case xml.EndElement:
		// Empty <value></value> — XML-RPC treats this as an empty string.
		return String(""), nil
	case xml.CharData:
		text := string(t)
		// Bare text inside <value> means an implicit string; the closing
		// </value> follows directly.
		if err := expectEnd(dec, "value"); err != nil {
			return Value{}, err
		}
		return String(text), nil
	case xml.StartElement:
		v, err := decodeTypedValue(dec, t)
		if err != nil {
			return Value{}, err
		}
		if err := expectEnd(dec, "value"); err != nil {
			return Value{}, err
		}
		return v, nil
	default:
		return Value{}, &gbxerr.Decode{Detail: "unexpected token in value"}
	}
}

func decodeTypedValue(dec *xml.Decoder, start xml.StartElement) (Value, error) {
	switch start.Name.Local {
	case "i4", "int":
		text, err := readCharDataOrEmpty(dec, start.Name.Local)
		if err != nil {
			return Value{}, err
		}
		n, err := strconv.ParseInt(text, 10, 32)
		if err != nil {
			return Value{}, &gbxerr.Decode{Detail: "invalid integer literal " + text}
		}
		return Int(int32(n)), nil
	case "boolean":
		text, err := readCharDataOrEmpty(dec, start.Name.Local)
		if err != nil {
			return Value{}, err
		}
		switch text {
		case "0":
			return Bool(false), nil
		case "1":
			return Bool(true), nil
		default:
			return Value{}, &gbxerr.Decode{Detail: "invalid boolean literal " + text}
		}
	case "string":
		text, err := readCharDataOrEmpty(dec, start.Name.Local)
		if err != nil {
			return Value{}, err
		}
		return String(text), nil
	case "double":
		text, err := readCharDataOrEmpty(dec, start.Name.Local)
		if err != nil {
			return Value{}, err
		}
		f, err := strconv.ParseFloat(text, 64)
		if err != nil {
			return Value{}, &gbxerr.Decode{Detail: "invalid double literal " + text}
		}
		return Double(f), nil
	case "dateTime.iso8601":
		text, err := readCharDataOrEmpty(dec, start.Name.Local)
		if err != nil {
			return Value{}, err
		}
		ts, err := time.Parse(DateTimeLayout, text)
		if err != nil {
			return Value{}, &gbxerr.Decode{Detail: "invalid dateTime.iso8601 literal " + text}
		}
		return DateTime(ts), nil
	case "base64":
		text, err := readCharDataOrEmpty(dec, start.Name.Local)
		if err != nil {
			return Value{}, err
		}
		raw, err := base64.StdEncoding.DecodeString(text)
		if err != nil {
			return Value{}, &gbxerr.Decode{Detail: "invalid base64 literal"}
		}
		return Base64(raw), nil
	case "array":
		return decodeArray(dec)
	case "struct":
		return decodeStruct(dec)
	default:
		return Value{}, &gbxerr.Decode{Detail: "unknown value element " + start.Name.Local}
	}
}

func decodeArray(dec *xml.Decoder) (Value, error) {
	if err := expectStart(dec, "data"); err != nil {
		return Value{}, err
	}
	var elems []Value
	for {
		tok, err := nextSignificant(dec)
		if err != nil {
			return Value{}, decodeErr(err)
		}
		switch t := tok.(type) {
		case xml.StartElement:
			if t.Name.Local != "value" {
				return Value{}, &gbxerr.Decode{Detail: "unexpected element " + t.Name.Local + " in array data"}
			}
			v, err := decodeValueInner(dec)
			if err != nil {
				return Value{}, err
			}
			elems = append(elems, v)
		case xml.EndElement:
			if t.Name.Local == "data" {
				if err := expectEnd(dec, "array"); err != nil {
					return Value{}, err
				}
				return Array(elems...), nil
			}
		}
	}
}

func decodeStruct(dec *xml.Decoder) (Value, error) {
	var members []Member
	seen := make(map[string]int)

	for {
		tok, err := nextSignificant(dec)
		if err != nil {
			return Value{}, decodeErr(err)
		}
		switch t := tok.(type) {
		case xml.StartElement:
			if t.Name.Local != "member" {
				return Value{}, &gbxerr.Decode{Detail: "unexpected element " + t.Name.Local + " in struct"}
			}
			if err := expectStart(dec, "name"); err != nil {
				return Value{}, err
			}
			name, err := readCharData(dec)
			if err != nil {
				return Value{}, err
			}
			v, err := decodeValueElement(dec)
			if err != nil {
				return Value{}, err
			}
			if err := expectEnd(dec, "member"); err != nil {
				return Value{}, err
			}
			if idx, dup := seen[name]; dup {
				// Duplicate member name: last-write-wins, logged as a parse
				// warning rather than threaded through a dedicated return
				// value — matches how the receive loop logs stale replies
				// rather than surfacing them as errors.
				log.Printf("gbxremote: duplicate struct member %q, keeping last value", name)
				members[idx].Value = v
			} else {
				seen[name] = len(members)
				members = append(members, Member{Name: name, Value: v})
			}
		case xml.EndElement:
			if t.Name.Local == "struct" {
				return Struct(members...), nil
			}
		}
	}
}

// nextSignificant returns the next token, consuming (and discarding)
// insignificant CharData (XML-RPC payloads may carry indentation
// whitespace between elements).
func nextSignificant(dec *xml.Decoder) (xml.Token, error) {
	for {
		tok, err := dec.Token()
		if err != nil {
			return nil, err
		}
		if cd, ok := tok.(xml.CharData); ok {
			if len(bytesTrimSpace(cd)) == 0 {
				continue
			}
			return nil, &gbxerr.Decode{Detail: "unexpected character data"}
		}
		return tok, nil
	}
}

func bytesTrimSpace(b []byte) []byte {
	return bytes.TrimSpace(b)
}

func expectStart(dec *xml.Decoder, name string) error {
	tok, err := nextSignificant(dec)
	if err != nil {
		return decodeErr(err)
	}
	start, ok := tok.(xml.StartElement)
	if !ok || start.Name.Local != name {
		return &gbxerr.Decode{Detail: "expected <" + name + ">"}
	}
	return nil
}

func expectEnd(dec *xml.Decoder, name string) error {
	tok, err := nextSignificant(dec)
	if err != nil {
		return decodeErr(err)
	}
	end, ok := tok.(xml.EndElement)
	if !ok || end.Name.Local != name {
		return &gbxerr.Decode{Detail: "expected </" + name + ">"}
	}
	return nil
}

// readCharData reads the text content of the currently open element and
// consumes its end tag.
func readCharData(dec *xml.Decoder) (string, error) {
	tok, err := dec.Token()
	if err != nil {
		return "", decodeErr(err)
	}
	switch t := tok.(type) {
	case xml.CharData:
		text := string(t)
		if err := expectEndOf(dec); err != nil {
			return "", err
		}
		return text, nil
	case xml.EndElement:
		return "", nil
	default:
		return "", &gbxerr.Decode{Detail: "expected character data"}
	}
}

// expectEndOf consumes the single EndElement that must directly follow a
// CharData token read by readCharData.
func expectEndOf(dec *xml.Decoder) error {
	tok, err := dec.Token()
	if err != nil {
		return decodeErr(err)
	}
	if _, ok := tok.(xml.EndElement); !ok {
		return &gbxerr.Decode{Detail: "expected end element after text"}
	}
	return nil
}

// readCharDataOrEmpty reads the text content of a scalar leaf element
// (<i4>, <string>, …), allowing an empty element with no CharData at all.
func readCharDataOrEmpty(dec *xml.Decoder, elementName string) (string, error) {
	tok, err := dec.Token()
	if err != nil {
		return "", decodeErr(err)
	}
	switch t := tok.(type) {
	case xml.CharData:
		text := string(t)
		if err := expectEndOf(dec); err != nil {
			return "", err
		}
		return text, nil
	case xml.EndElement:
		if t.Name.Local != elementName {
			return "", &gbxerr.Decode{Detail: "expected </" + elementName + ">"}
		}
		return "", nil
	default:
		return "", &gbxerr.Decode{Detail: "expected character data in <" + elementName + ">"}
	}
}

func decodeErr(err error) error {
	if de, ok := err.(*gbxerr.Decode); ok {
		return de
	}
	return &gbxerr.Decode{Detail: err.Error()}
}
