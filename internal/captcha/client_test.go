package captcha

import (
	"encoding/json"
	"testing"
)

func TestTaskID_UnmarshalJSON(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  taskID
	}{
		{"number", `{"taskId": 72345678901}`, "72345678901"},
		{"string", `{"taskId": "61138bb6-19fb-11ec-a9c8-0242ac110006"}`, "61138bb6-19fb-11ec-a9c8-0242ac110006"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var resp createTaskResponse
			if err := json.Unmarshal([]byte(tt.input), &resp); err != nil {
				t.Fatalf("Unmarshal() error = %v", err)
			}
			if resp.TaskID != tt.want {
				t.Errorf("TaskID = %q, want %q", resp.TaskID, tt.want)
			}
		})
	}
}

func TestTaskID_MarshalJSON(t *testing.T) {
	b, err := json.Marshal(getResultRequest{ClientKey: "k", TaskID: "12345"})
	if err != nil {
		t.Fatal(err)
	}
	if want := `{"clientKey":"k","taskId":12345}`; string(b) != want {
		t.Errorf("Marshal() = %s, want %s", b, want)
	}

	b, err = json.Marshal(getResultRequest{ClientKey: "k", TaskID: "abc-1"})
	if err != nil {
		t.Fatal(err)
	}
	if want := `{"clientKey":"k","taskId":"abc-1"}`; string(b) != want {
		t.Errorf("Marshal() = %s, want %s", b, want)
	}
}

func TestParseCost(t *testing.T) {
	tests := []struct {
		raw  string
		want float64
	}{
		{`"0.00299"`, 0.00299},
		{`0.002`, 0.002},
		{`""`, 0},
		{``, 0},
		{`null`, 0},
	}
	for _, tt := range tests {
		if got := parseCost(json.RawMessage(tt.raw)); got != tt.want {
			t.Errorf("parseCost(%q) = %v, want %v", tt.raw, got, tt.want)
		}
	}
}
