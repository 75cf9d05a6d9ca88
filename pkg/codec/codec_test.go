package codec

import (
	"errors"
	"testing"
)

type note struct {
	Data string `json:"data"`
}

const noteSchema = `{
  "type": "object",
  "properties": {"data": {"type": "string", "minLength": 1}},
  "required": ["data"]
}`

func TestJSONRoundTrip(t *testing.T) {
	var c JSON[note]
	b, err := c.Encode(note{Data: "foo"})
	if err != nil {
		t.Fatal(err)
	}
	if string(b) != `{"data":"foo"}` {
		t.Fatalf("encoded=%s", b)
	}
	got, err := c.Decode(b)
	if err != nil || got.Data != "foo" {
		t.Fatalf("decoded=%+v err=%v", got, err)
	}
}

func TestJSONDecodeEmptyIsZero(t *testing.T) {
	got, err := JSON[note]{}.Decode(nil)
	if err != nil || got != (note{}) {
		t.Fatalf("got=%+v err=%v", got, err)
	}
}

func TestJSONDecodeGarbage(t *testing.T) {
	if _, err := (JSON[note]{}).Decode([]byte("{")); err == nil {
		t.Fatal("expected decode error")
	}
}

func TestWithSchemaValidates(t *testing.T) {
	c, err := WithSchema[note](JSON[note]{}, []byte(noteSchema))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := c.Encode(note{Data: "ok"}); err != nil {
		t.Fatalf("valid note rejected: %v", err)
	}
	if _, err := c.Encode(note{}); !errors.Is(err, ErrSchema) {
		t.Fatalf("empty data should violate schema, got %v", err)
	}
	if _, err := c.Decode([]byte(`{"data": 3}`)); !errors.Is(err, ErrSchema) {
		t.Fatalf("numeric data should violate schema, got %v", err)
	}
	got, err := c.Decode([]byte(`{"data":"x"}`))
	if err != nil || got.Data != "x" {
		t.Fatalf("got=%+v err=%v", got, err)
	}
}

func TestWithSchemaRejectsBadSchema(t *testing.T) {
	if _, err := WithSchema[note](JSON[note]{}, []byte(`{"type": 12}`)); err == nil {
		t.Fatal("expected compile error")
	}
	if _, err := WithSchema[note](JSON[note]{}, []byte(`not json`)); err == nil {
		t.Fatal("expected parse error")
	}
}
