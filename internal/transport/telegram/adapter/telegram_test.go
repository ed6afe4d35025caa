package adapter

import (
	"strings"
	"testing"

	tele "gopkg.in/telebot.v4"
)

func TestSplitTelegramText(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name      string
		in        string
		limit     int
		parseMode string
		want      int
	}{
		{name: "short", in: "hello", limit: 10, want: 1},
		{name: "newline boundary", in: strings.Repeat("aaaa\n", 6), limit: 12, want: 3},
		{name: "hard cut", in: strings.Repeat("x", 25), limit: 10, want: 3},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := splitTelegramText(tt.in, tt.limit, tt.parseMode)
			if len(got) != tt.want {
				t.Fatalf("chunks = %q, want %d", got, tt.want)
			}
			for _, c := range got {
				if n := len([]rune(c)); n > tt.limit {
					t.Fatalf("chunk %q exceeds limit (%d)", c, n)
				}
			}
		})
	}
}

func TestSplitKeepsHTMLTagsWhole(t *testing.T) {
	t.Parallel()
	in := strings.Repeat("x", 8) + "<b>bold</b>"
	for _, c := range splitTelegramText(in, 10, "HTML") {
		if strings.Count(c, "<") != strings.Count(c, ">") {
			t.Fatalf("chunk %q splits a tag", c)
		}
	}
}

func TestToUpdate(t *testing.T) {
	t.Parallel()
	m := &tele.Message{
		ID:     7,
		Text:   "/rotate -100 news 60",
		Chat:   &tele.Chat{ID: 42, Type: tele.ChatPrivate},
		Sender: &tele.User{ID: 42, FirstName: "Ann", LastName: "Lee", Username: "ann"},
	}
	up := toUpdate(m)
	got := up.Message
	if got.ChatID != 42 || got.FromID != 42 || got.FromName != "Ann Lee" || got.FromUsername != "ann" || !got.IsPrivate {
		t.Fatalf("message = %+v", got)
	}
}
