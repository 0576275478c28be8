package protocol

import (
	"bytes"
	"strings"
	"testing"
	"time"
)

// scriptedPrompter replays canned answers in order.
type scriptedPrompter struct {
	answers []string
	next    int
}

func (p *scriptedPrompter) Prompt(label string) (string, error) {
	if p.next >= len(p.answers) {
		return "", nil
	}
	answer := p.answers[p.next]
	p.next++
	return answer, nil
}

func TestCollectLockRequest(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	t.Run("blank expiry means never", func(t *testing.T) {
		p := &scriptedPrompter{answers: []string{"database maintenance", ""}}
		out := &bytes.Buffer{}

		req, err := CollectLockRequest(p, out, now)
		if err != nil {
			t.Fatalf("CollectLockRequest failed: %v", err)
		}
		if req.Message != "database maintenance" {
			t.Errorf("Message = %q", req.Message)
		}
		if !req.Custom {
			t.Error("An explicit lock request must be custom")
		}
		if req.Expiry == nil || !req.Expiry.Never() {
			t.Errorf("Expected never-expire policy, got %+v", req.Expiry)
		}
	})

	t.Run("unparseable expiry re-prompts", func(t *testing.T) {
		p := &scriptedPrompter{answers: []string{"hold", "whenever", "+1h"}}
		out := &bytes.Buffer{}

		req, err := CollectLockRequest(p, out, now)
		if err != nil {
			t.Fatalf("CollectLockRequest failed: %v", err)
		}
		if p.next != 3 {
			t.Errorf("Expected a re-prompt after bad input, %d prompts consumed", p.next)
		}
		if !strings.Contains(out.String(), "whenever") {
			t.Errorf("Expected parse complaint naming the input, got %q", out.String())
		}
		at, ok := req.Expiry.At()
		if !ok {
			t.Fatal("Expected concrete expiry")
		}
		if want := now.Add(time.Hour); !at.Equal(want) {
			t.Errorf("Expiry = %v, want %v", at, want)
		}
	})
}

func TestTerminalPrompter(t *testing.T) {
	in := strings.NewReader("  some answer  \n")
	out := &bytes.Buffer{}
	p := NewTerminalPrompter(in, out)

	got, err := p.Prompt("Question")
	if err != nil {
		t.Fatalf("Prompt failed: %v", err)
	}
	if got != "some answer" {
		t.Errorf("Prompt = %q, want trimmed answer", got)
	}
	if !strings.Contains(out.String(), "Question") {
		t.Errorf("Expected label printed, got %q", out.String())
	}
}
