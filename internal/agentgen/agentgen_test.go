package agentgen

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/nulpointcorp/chat-gateway/internal/store"
)

type fakeWorkflows struct {
	list []store.Workflow
	err  error
}

func (f fakeWorkflows) ExecutableWorkflows(context.Context, string) ([]store.Workflow, error) {
	return f.list, f.err
}

func TestToolSet_Names(t *testing.T) {
	ts := NewToolSet(
		[]string{"calendar", "webSearch", " "},
		fakeWorkflows{list: []store.Workflow{{Name: "weekly-report"}, {Name: "calendar"}}},
		nil,
	)

	got := ts.Names(context.Background(), "u1")
	want := append(append([]string{}, DefaultTools...), "calendar", "weekly-report")
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Errorf("Names =\n%v\nwant\n%v", got, want)
	}
}

func TestToolSet_WorkflowFailureSkipped(t *testing.T) {
	ts := NewToolSet(nil, fakeWorkflows{err: errors.New("db down")}, nil)
	if got := ts.Names(context.Background(), "u1"); len(got) != len(DefaultTools) {
		t.Errorf("Names = %v", got)
	}
}

func TestValidate(t *testing.T) {
	tools := []string{"webSearch", "createTable"}

	tests := []struct {
		name    string
		raw     string
		wantErr string
		tools   int
	}{
		{
			name:  "valid",
			raw:   `{"name":"Researcher","description":"Finds things","role":"analyst","instructions":"Search first.","tools":["webSearch"]}`,
			tools: 1,
		},
		{
			name:  "null tools",
			raw:   `{"name":"A","description":"","role":"","instructions":"","tools":null}`,
			tools: 0,
		},
		{
			name:  "fenced",
			raw:   "```json\n{\"name\":\"A\",\"description\":\"d\",\"role\":\"r\",\"instructions\":\"i\"}\n```",
			tools: 0,
		},
		{
			name:    "unknown tool",
			raw:     `{"name":"A","description":"d","role":"r","instructions":"i","tools":["rm -rf"]}`,
			wantErr: `unknown tool "rm -rf"`,
		},
		{
			name:    "missing fields",
			raw:     `{"name":"A"}`,
			wantErr: "description: required",
		},
		{
			name:    "wrong type",
			raw:     `{"name":"A","description":1,"role":"r","instructions":"i"}`,
			wantErr: "description: expected a string",
		},
		{
			name:    "empty name",
			raw:     `{"name":"","description":"d","role":"r","instructions":"i"}`,
			wantErr: "name: must not be empty",
		},
		{
			name:    "not json",
			raw:     `Sure! Here is your agent`,
			wantErr: "not a JSON object",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a, err := Validate([]byte(tt.raw), tools)
			if tt.wantErr != "" {
				if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
					t.Fatalf("err = %v, want %q", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("Validate: %v", err)
			}
			if a.Tools == nil || len(a.Tools) != tt.tools {
				t.Errorf("tools = %#v", a.Tools)
			}
		})
	}
}
