package xmlrpc

import (
	"bytes"
	"strings"
	"testing"
)

func TestEncodeRequest_Compact(t *testing.T) {
	got := EncodeRequest("blogger.getUsersBlogs", String("appkey"), String("user"), String("pass"))

	if bytes.Contains(got, []byte("> <")) || bytes.Contains(got, []byte(">\n")) {
		t.Errorf("encoded request contains whitespace between tags: %s", got)
	}
	want := `<?xml version="1.0"?><methodCall><methodName>blogger.getUsersBlogs</methodName>` +
		`<params><param><value><string>appkey</string></value></param>` +
		`<param><value><string>user</string></value></param>` +
		`<param><value><string>pass</string></value></param></params></methodCall>`
	if string(got) != want {
		t.Errorf("EncodeRequest mismatch:\n got: %s\nwant: %s", got, want)
	}
}

func TestEncodeRequest_EscapesStrings(t *testing.T) {
	got := string(EncodeRequest("m", String(`a<b & "c" 'd'>`)))
	if !strings.Contains(got, "a&lt;b &amp; &quot;c&quot; &apos;d&apos;&gt;") {
		t.Errorf("string not escaped: %s", got)
	}
}

func TestEncodeRequest_ScalarTags(t *testing.T) {
	got := string(EncodeRequest("m", Int(7), Bool(true), Bool(false), Base64([]byte{0x01, 0x02})))

	for _, want := range []string{
		"<i4>7</i4>",
		"<boolean>1</boolean>",
		"<boolean>0</boolean>",
		"<base64>AQI=</base64>",
	} {
		if !strings.Contains(got, want) {
			t.Errorf("missing %q in %s", want, got)
		}
	}
	if strings.Contains(got, "<int>") {
		t.Error("plain <int> tag used; want <i4> for server compatibility")
	}
}

func TestEncodeRequest_DuplicateMemberNames(t *testing.T) {
	payload := []byte("img")
	got := string(EncodeRequest("metaWeblog.newMediaObject", Struct(
		Member{Name: "name", Value: String("a.png")},
		Member{Name: "bits", Value: Base64(payload)},
		Member{Name: "data", Value: Base64(payload)},
	)))

	if strings.Count(got, "<base64>aW1n</base64>") != 2 {
		t.Errorf("duplicate payload members were deduplicated: %s", got)
	}
	if !strings.Contains(got, "<name>bits</name>") || !strings.Contains(got, "<name>data</name>") {
		t.Errorf("member names missing: %s", got)
	}
}

func TestEncodeRequest_MemberOrder(t *testing.T) {
	got := string(EncodeRequest("m", Struct(
		Member{Name: "first", Value: String("1")},
		Member{Name: "second", Value: String("2")},
	)))
	if strings.Index(got, "first") > strings.Index(got, "second") {
		t.Errorf("member order not preserved: %s", got)
	}
}

func TestDecodeResponse_Fault(t *testing.T) {
	doc := `<?xml version="1.0"?><methodResponse><fault><value><struct>` +
		`<member><name>faultCode</name><value><int>403</int></value></member>` +
		`<member><name>faultString</name><value><string>Incorrect username or password.</string></value></member>` +
		`</struct></value></fault></methodResponse>`

	resp := DecodeResponse([]byte(doc))
	if resp.Success {
		t.Fatal("fault document decoded as success")
	}
	if resp.Err != "Incorrect username or password." {
		t.Errorf("Err = %q", resp.Err)
	}
}

func TestDecodeResponse_FirstScalar(t *testing.T) {
	doc := `<?xml version="1.0"?><methodResponse><params><param>` +
		`<value><string>12345</string></value></param></params></methodResponse>`

	resp := DecodeResponse([]byte(doc))
	if !resp.Success || resp.Value != "12345" {
		t.Errorf("got %+v, want success with value 12345", resp)
	}
}

func TestDecodeResponse_ObjectSignal(t *testing.T) {
	doc := `<methodResponse><params><param><value><struct>` +
		`<member><name>postid</name><value><string>42</string></value></member>` +
		`</struct></value></param></params></methodResponse>`

	resp := DecodeResponse([]byte(doc))
	if !resp.Success || !resp.Object {
		t.Errorf("struct response not signalled as object: %+v", resp)
	}

	// The generic decoder stops at "object returned"; the field-anchored
	// extractor recovers the member.
	got, ok := ExtractMember([]byte(doc), "postid")
	if !ok || got != "42" {
		t.Errorf("ExtractMember(postid) = %q, %v; want 42, true", got, ok)
	}
}

func TestDecodeResponse_MalformedTolerated(t *testing.T) {
	// Truncated document, not well-formed. The lenient scanner still finds
	// the scalar.
	doc := `<methodResponse><params><param><value><string>ok</string>`
	resp := DecodeResponse([]byte(doc))
	if !resp.Success || resp.Value != "ok" {
		t.Errorf("got %+v, want tolerant success", resp)
	}
}

func TestDecodeResponse_EmptyParams(t *testing.T) {
	resp := DecodeResponse([]byte(`<methodResponse><params/></methodResponse>`))
	if !resp.Success || resp.Value != "" || resp.Object {
		t.Errorf("got %+v, want bare success", resp)
	}
}

func TestExtractMember_Unpadded(t *testing.T) {
	doc := `<member><name>url</name><value>https://dest.example/i.png</value></member>`
	got, ok := ExtractMember([]byte(doc), "url")
	if !ok || got != "https://dest.example/i.png" {
		t.Errorf("ExtractMember = %q, %v", got, ok)
	}
}

func TestExtractMember_Missing(t *testing.T) {
	if _, ok := ExtractMember([]byte("<struct></struct>"), "postid"); ok {
		t.Error("ExtractMember found a member in an empty struct")
	}
}
