package model

import (
	"encoding/json"
	"testing"
)

func TestAnswerUnmarshalLooseNumbers(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want *float64
	}{
		{"number", `{"value": 3.14}`, f64(3.14)},
		{"numeric string", `{"value": "3.14"}`, f64(3.14)},
		{"padded string", `{"value": " 2 "}`, f64(2)},
		{"unparseable string", `{"value": "abc"}`, nil},
		{"null", `{"value": null}`, nil},
		{"absent", `{}`, nil},
		{"object", `{"value": {"x": 1}}`, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var a Answer
			if err := json.Unmarshal([]byte(tt.in), &a); err != nil {
				t.Fatalf("unmarshal %s: %v", tt.in, err)
			}
			switch {
			case tt.want == nil && a.Value != nil:
				t.Errorf("value = %v, want nil", *a.Value)
			case tt.want != nil && a.Value == nil:
				t.Errorf("value = nil, want %v", *tt.want)
			case tt.want != nil && *a.Value != *tt.want:
				t.Errorf("value = %v, want %v", *a.Value, *tt.want)
			}
		})
	}
}

func TestAnswerUnmarshalKeepsOtherFields(t *testing.T) {
	var a Answer
	err := json.Unmarshal([]byte(`{"choice":"B","text":"x+1","tolerance":"0.5"}`), &a)
	if err != nil {
		t.Fatal(err)
	}
	if a.Choice != "B" || a.Text != "x+1" {
		t.Errorf("answer = %+v", a)
	}
	if a.Tolerance == nil || *a.Tolerance != 0.5 {
		t.Errorf("tolerance = %v, want 0.5", a.Tolerance)
	}
}

func f64(v float64) *float64 { return &v }
