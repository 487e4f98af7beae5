package netbus

import (
	"encoding/json"
	"time"
	"unicode/utf8"
)

// Kind selects which side of an exchange a subscription matches.
type Kind string

const (
	KindRequest  Kind = "request"
	KindResponse Kind = "response"
)

// View is an immutable snapshot of one captured network exchange. The body
// is fetched and decoded exactly once when the view is built, so any number
// of subscribers can call Data, JSON or Text synchronously without repeated
// I/O and without racing each other.
//
// The byte slice returned by Bytes is shared; treat it as read-only.
type View struct {
	RequestID  string
	URL        string
	Method     string
	Status     int
	MIMEType   string
	ReqHeaders map[string]string
	RspHeaders map[string]string
	ReceivedAt time.Time

	body   []byte
	text   string
	data   any
	isJSON bool
	isText bool
}

// NewRequestView captures the request side of an exchange. Body is the POST
// data when present.
func NewRequestView(requestID, method, url string, headers map[string]string, body []byte) *View {
	v := &View{
		RequestID:  requestID,
		URL:        url,
		Method:     method,
		ReqHeaders: headers,
		ReceivedAt: time.Now(),
	}
	v.decode(body)
	return v
}

// NewResponseView captures the response side of an exchange with its body.
func NewResponseView(requestID, method, url string, status int, mime string, headers map[string]string, body []byte) *View {
	v := &View{
		RequestID:  requestID,
		URL:        url,
		Method:     method,
		Status:     status,
		MIMEType:   mime,
		RspHeaders: headers,
		ReceivedAt: time.Now(),
	}
	v.decode(body)
	return v
}

// decode applies the JSON → text → raw-bytes fallback chain once.
func (v *View) decode(body []byte) {
	v.body = body
	if len(body) == 0 {
		return
	}

	var data any
	if err := json.Unmarshal(body, &data); err == nil {
		v.data = data
		v.isJSON = true
		v.text = string(body)
		v.isText = true
		return
	}

	if utf8.Valid(body) {
		v.text = string(body)
		v.isText = true
	}
}

// Bytes returns the raw captured body. Shared, read-only.
func (v *View) Bytes() []byte { return v.body }

// Text returns the body as a string when it is valid UTF-8, else "".
func (v *View) Text() string { return v.text }

// JSON returns the decoded JSON payload and whether the body was JSON.
func (v *View) JSON() (any, bool) { return v.data, v.isJSON }

// IsJSON reports whether the body decoded as JSON.
func (v *View) IsJSON() bool { return v.isJSON }

// Data returns the richest available representation: decoded JSON, else the
// UTF-8 text, else the raw bytes, else nil for an empty body.
func (v *View) Data() any {
	switch {
	case v.isJSON:
		return v.data
	case v.isText:
		return v.text
	case len(v.body) > 0:
		return v.body
	default:
		return nil
	}
}

// Object returns the decoded JSON body as a map, or nil when the payload is
// not a JSON object. Convenience for payload-shape validation in consumers.
func (v *View) Object() map[string]any {
	m, _ := v.data.(map[string]any)
	return m
}
