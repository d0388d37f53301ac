package adapter

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	tele "gopkg.in/telebot.v4"

	kit "rolewatch/internal/transport"
)

func TestMapError(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   error
		want error
	}{
		{"nil", nil, nil},
		{"forbidden", &tele.Error{Code: 403, Description: "Forbidden: bot was kicked"}, kit.ErrForbidden},
		{"chat not found 400", &tele.Error{Code: 400, Description: "Bad Request: chat not found"}, kit.ErrChannelNotFound},
		{"message not found 400", &tele.Error{Code: 400, Description: "Bad Request: message to edit Not Found"}, kit.ErrChannelNotFound},
		{"404", &tele.Error{Code: 404, Description: "Not Found"}, kit.ErrChannelNotFound},
		{"wrapped forbidden", fmt.Errorf("send: %w", &tele.Error{Code: 403, Description: "Forbidden"}), kit.ErrForbidden},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := mapError(tt.in)
			if tt.want == nil {
				if got != nil {
					t.Fatalf("mapError = %v, want nil", got)
				}
				return
			}
			if !errors.Is(got, tt.want) {
				t.Fatalf("mapError(%v) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

func TestMapErrorPassthrough(t *testing.T) {
	t.Parallel()

	plain := errors.New("connection reset")
	if got := mapError(plain); got != plain {
		t.Errorf("plain errors must pass through unchanged, got %v", got)
	}

	rateLimited := &tele.Error{Code: 429, Description: "Too Many Requests"}
	got := mapError(rateLimited)
	if errors.Is(got, kit.ErrForbidden) || errors.Is(got, kit.ErrChannelNotFound) {
		t.Errorf("429 must not map to a terminal class, got %v", got)
	}
	badRequest := &tele.Error{Code: 400, Description: "Bad Request: can't parse entities"}
	if got := mapError(badRequest); errors.Is(got, kit.ErrChannelNotFound) {
		t.Errorf("generic 400 must not map to not-found, got %v", got)
	}
}

func TestSplitTextShortPassthrough(t *testing.T) {
	t.Parallel()
	s := "hello\nworld"
	got := splitText(s, 100)
	if len(got) != 1 || got[0] != s {
		t.Fatalf("splitText = %q, want the input unchanged", got)
	}
}

func TestSplitTextPrefersNewlines(t *testing.T) {
	t.Parallel()
	lines := make([]string, 20)
	for i := range lines {
		lines[i] = strings.Repeat("x", 10)
	}
	s := strings.Join(lines, "\n")

	chunks := splitText(s, 50)
	if len(chunks) < 2 {
		t.Fatalf("expected multiple chunks, got %d", len(chunks))
	}
	for i, c := range chunks {
		if len([]rune(c)) > 50 {
			t.Errorf("chunk %d exceeds limit: %d runes", i, len([]rune(c)))
		}
		// Newline-preferring split never cuts a line of x's in half.
		for _, line := range strings.Split(c, "\n") {
			if line != strings.Repeat("x", 10) {
				t.Errorf("chunk %d contains a partial line %q", i, line)
			}
		}
	}

	joined := strings.Join(chunks, "\n")
	if strings.ReplaceAll(joined, "\n", "") != strings.ReplaceAll(s, "\n", "") {
		t.Error("split lost content")
	}
}

func TestSplitTextHardSplitWithoutNewlines(t *testing.T) {
	t.Parallel()
	s := strings.Repeat("a", 95)
	chunks := splitText(s, 40)
	if len(chunks) != 3 {
		t.Fatalf("got %d chunks, want 3", len(chunks))
	}
	if strings.Join(chunks, "") != s {
		t.Error("hard split lost content")
	}
}
