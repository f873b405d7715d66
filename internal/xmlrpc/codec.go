// Package xmlrpc implements the legacy RPC wire format spoken by several
// destination platforms. Encoding is byte-compact because a number of server
// implementations use permissive-but-brittle parsers that reject bodies with
// whitespace between tags. Decoding is deliberately lenient: responses in the
// wild are not always well-formed, so the decoder scans for markers instead
// of building a parse tree. Callers that need a specific field use
// ExtractMember rather than a generic path.
package xmlrpc

import (
	"bytes"
	"encoding/base64"
	"regexp"
	"strconv"
	"strings"
)

type valueKind int

const (
	kindString valueKind = iota
	kindInt
	kindBool
	kindBase64
	kindStruct
	kindArray
)

// Value is one encodable parameter value.
type Value struct {
	kind    valueKind
	s       string
	i       int
	b       bool
	bin     []byte
	members []Member
	values  []Value
}

// Member is a named struct member. The same name may appear more than once:
// some destinations require the same binary payload under two member names
// (historical API drift), so struct encoding never deduplicates.
type Member struct {
	Name  string
	Value Value
}

// String creates a string value. It is XML-escaped at encode time.
func String(s string) Value { return Value{kind: kindString, s: s} }

// Int creates an integer value. Integers are emitted with the <i4> tag,
// which more server implementations accept than the plain <int> tag.
func Int(i int) Value { return Value{kind: kindInt, i: i} }

// Bool creates a boolean value, encoded as 0/1.
func Bool(b bool) Value { return Value{kind: kindBool, b: b} }

// Base64 creates a binary value, encoded as base64.
func Base64(data []byte) Value { return Value{kind: kindBase64, bin: data} }

// Struct creates a struct value from ordered members.
func Struct(members ...Member) Value { return Value{kind: kindStruct, members: members} }

// Array creates an array value.
func Array(values ...Value) Value { return Value{kind: kindArray, values: values} }

var escaper = strings.NewReplacer(
	"&", "&amp;",
	"<", "&lt;",
	">", "&gt;",
	`"`, "&quot;",
	"'", "&apos;",
)

var unescaper = strings.NewReplacer(
	"&lt;", "<",
	"&gt;", ">",
	"&quot;", `"`,
	"&apos;", "'",
	"&amp;", "&",
)

// Escape XML-escapes the five predefined entities.
func Escape(s string) string { return escaper.Replace(s) }

// Unescape reverses Escape.
func Unescape(s string) string { return unescaper.Replace(s) }

// EncodeRequest builds a complete methodCall document. The output contains
// no whitespace between tags.
func EncodeRequest(method string, params ...Value) []byte {
	var buf bytes.Buffer
	buf.WriteString(`<?xml version="1.0"?>`)
	buf.WriteString("<methodCall><methodName>")
	buf.WriteString(Escape(method))
	buf.WriteString("</methodName><params>")
	for _, p := range params {
		buf.WriteString("<param>")
		p.appendXML(&buf)
		buf.WriteString("</param>")
	}
	buf.WriteString("</params></methodCall>")
	return buf.Bytes()
}

func (v Value) appendXML(buf *bytes.Buffer) {
	buf.WriteString("<value>")
	switch v.kind {
	case kindString:
		buf.WriteString("<string>")
		buf.WriteString(Escape(v.s))
		buf.WriteString("</string>")
	case kindInt:
		buf.WriteString("<i4>")
		buf.WriteString(strconv.Itoa(v.i))
		buf.WriteString("</i4>")
	case kindBool:
		buf.WriteString("<boolean>")
		if v.b {
			buf.WriteString("1")
		} else {
			buf.WriteString("0")
		}
		buf.WriteString("</boolean>")
	case kindBase64:
		buf.WriteString("<base64>")
		buf.WriteString(base64.StdEncoding.EncodeToString(v.bin))
		buf.WriteString("</base64>")
	case kindStruct:
		buf.WriteString("<struct>")
		for _, m := range v.members {
			buf.WriteString("<member><name>")
			buf.WriteString(Escape(m.Name))
			buf.WriteString("</name>")
			m.Value.appendXML(buf)
			buf.WriteString("</member>")
		}
		buf.WriteString("</struct>")
	case kindArray:
		buf.WriteString("<array><data>")
		for _, e := range v.values {
			e.appendXML(buf)
		}
		buf.WriteString("</data></array>")
	}
	buf.WriteString("</value>")
}

// Response is the decoded view of a methodResponse document.
type Response struct {
	// Success is false when the document carries a fault marker.
	Success bool
	// Value is the text of the first scalar value in document order. Empty
	// when the response is a struct or array (see Object).
	Value string
	// Object is true when the response value is a struct or array. The
	// decoder does not descend into it; callers use ExtractMember.
	Object bool
	// Err is the fault message when Success is false.
	Err string
}

var (
	faultRe       = regexp.MustCompile(`(?s)<fault>`)
	faultStringRe = regexp.MustCompile(`(?s)<string>(.*?)</string>`)
	faultValueRe  = regexp.MustCompile(`(?s)<value>([^<]*)`)
	objectRe      = regexp.MustCompile(`(?s)<param>\s*<value>\s*<(?:struct|array)[\s>]`)
	scalarRe      = regexp.MustCompile(`(?s)<(?:string|i4|int|boolean|double|base64)>(.*?)</`)
)

// DecodeResponse scans a methodResponse body. A fault marker wins over any
// value; otherwise the first scalar marker in document order is returned.
func DecodeResponse(body []byte) Response {
	doc := string(body)

	if faultRe.MatchString(doc) {
		msg := ""
		if m := faultStringRe.FindStringSubmatch(doc); m != nil {
			msg = Unescape(strings.TrimSpace(m[1]))
		} else if m := faultValueRe.FindStringSubmatch(doc); m != nil {
			msg = Unescape(strings.TrimSpace(m[1]))
		}
		if msg == "" {
			msg = "fault returned without message"
		}
		return Response{Success: false, Err: msg}
	}

	if objectRe.MatchString(doc) {
		return Response{Success: true, Object: true}
	}

	if m := scalarRe.FindStringSubmatch(doc); m != nil {
		return Response{Success: true, Value: Unescape(strings.TrimSpace(m[1]))}
	}

	// No recognizable value. Servers that return an empty <params/> on
	// success land here.
	return Response{Success: true}
}

// ExtractMember pulls the scalar value of a named struct member out of a raw
// response. This is the field-anchored path for callers that need one field
// (a created-post identifier, typically) out of a struct the generic decoder
// will not descend into.
func ExtractMember(body []byte, name string) (string, bool) {
	re := regexp.MustCompile(`(?s)<name>` + regexp.QuoteMeta(name) +
		`</name>\s*<value>\s*(?:<(?:string|i4|int|boolean|double)>)?([^<]*)`)
	m := re.FindSubmatch(body)
	if m == nil {
		return "", false
	}
	return Unescape(strings.TrimSpace(string(m[1]))), true
}
