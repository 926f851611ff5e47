package remote

import (
	"testing"
)

func TestClassifyEnvelope(t *testing.T) {
	tests := []struct {
		name      string
		body      string
		names     []string
		wantShape envelopeShape
		wantLen   int
		wantKey   string
	}{
		{name: "bare array", body: `[{"id":1},{"id":2}]`, wantShape: shapeArray, wantLen: 2},
		{name: "empty array", body: `[]`, wantShape: shapeArray, wantLen: 0},
		{name: "items", body: `{"items":[{"id":1}],"total":1}`, wantShape: shapeItems, wantLen: 1},
		{name: "data", body: `{"data":[{"id":1},{"id":2},{"id":3}]}`, wantShape: shapeData, wantLen: 3},
		{name: "named", body: `{"messages":[{"id":1}]}`, names: []string{"messages"}, wantShape: shapeNamed, wantLen: 1, wantKey: "messages"},
		{name: "second name", body: `{"sms":[{"id":1}]}`, names: []string{"messages", "sms"}, wantShape: shapeNamed, wantLen: 1, wantKey: "sms"},
		{name: "items wins over name", body: `{"items":[],"messages":[{"id":1}]}`, names: []string{"messages"}, wantShape: shapeItems, wantLen: 0},
		{name: "unrelated key", body: `{"rows":[{"id":1}]}`, names: []string{"messages"}, wantShape: shapeUnknown},
		{name: "data is an object", body: `{"data":{"id":1}}`, wantShape: shapeUnknown},
		{name: "scalar", body: `42`, wantShape: shapeUnknown},
		{name: "invalid json", body: `[{"id":`, wantShape: shapeUnknown},
		{name: "empty body", body: ``, wantShape: shapeUnknown},
		{name: "null", body: `null`, wantShape: shapeUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := classifyEnvelope([]byte(tt.body), tt.names...)
			if env.shape != tt.wantShape {
				t.Fatalf("shape = %v, want %v", env.shape, tt.wantShape)
			}
			if len(env.elems) != tt.wantLen {
				t.Errorf("len(elems) = %d, want %d", len(env.elems), tt.wantLen)
			}
			if env.key != tt.wantKey {
				t.Errorf("key = %q, want %q", env.key, tt.wantKey)
			}
		})
	}
}

func TestSingleBody(t *testing.T) {
	tests := []struct {
		name  string
		body  string
		names []string
		want  string
		ok    bool
	}{
		{name: "bare", body: `{"id":1}`, want: `{"id":1}`, ok: true},
		{name: "data", body: `{"data":{"id":1}}`, want: `{"id":1}`, ok: true},
		{name: "named", body: `{"message":{"id":1}}`, names: []string{"message"}, want: `{"id":1}`, ok: true},
		{name: "named string is a field", body: `{"id":1,"message":"hi"}`, names: []string{"message"}, want: `{"id":1,"message":"hi"}`, ok: true},
		{name: "array", body: `[{"id":1}]`, ok: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := singleBody([]byte(tt.body), tt.names...)
			if ok != tt.ok {
				t.Fatalf("ok = %v, want %v", ok, tt.ok)
			}
			if ok && string(got) != tt.want {
				t.Errorf("singleBody() = %s, want %s", got, tt.want)
			}
		})
	}
}
