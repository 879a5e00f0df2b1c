package app

import (
	"testing"
	"time"
)

func TestNewOperation(t *testing.T) {
	started := time.Date(2024, 6, 15, 14, 30, 45, 0, time.UTC)

	tests := []struct {
		name       string
		operation  string
		parameters string
	}{
		{
			name:       "with parameters",
			operation:  "CreatePost",
			parameters: "--to bob",
		},
		{
			name:       "empty parameters",
			operation:  "Run",
			parameters: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			op := NewOperation(tt.operation, tt.parameters, started)

			if op.Name != tt.operation {
				t.Errorf("Name = %q, want %q", op.Name, tt.operation)
			}
			if op.Parameters != tt.parameters {
				t.Errorf("Parameters = %q, want %q", op.Parameters, tt.parameters)
			}
			if op.Status != "success" {
				t.Errorf("Status = %q, want %q", op.Status, "success")
			}
			if !op.StartedAt.Equal(started) {
				t.Errorf("StartedAt = %v, want %v", op.StartedAt, started)
			}
			if op.Mutating() {
				t.Error("Mutating() = true for a new operation")
			}
		})
	}
}

func TestOperation_MarkMutating(t *testing.T) {
	op := NewOperation("LikePost", "", time.Now())
	op.MarkMutating()
	op.MarkMutating()
	if !op.Mutating() {
		t.Error("Mutating() = false after MarkMutating")
	}
}

func TestOperation_Fail(t *testing.T) {
	op := NewOperation("CreateReply", "", time.Now())
	op.Fail()
	if op.Status != "error" {
		t.Errorf("Status = %q, want %q", op.Status, "error")
	}
}
