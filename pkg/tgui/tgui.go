package tgui

import (
	tele "gopkg.in/telebot.v4"
)

// Inline is a small builder for inline keyboards (ReplyMarkup).
// It stores rows as tele.Row ([]tele.Btn) and applies them via ReplyMarkup.Inline().
type Inline struct {
	rm   *tele.ReplyMarkup
	rows []tele.Row
}

func NewInline() *Inline {
	return &Inline{rm: &tele.ReplyMarkup{}}
}

// Row appends a new row (buttons) to the inline keyboard.
func (i *Inline) Row(btn ...tele.Btn) *Inline {
	i.rows = append(i.rows, i.rm.Row(btn...))
	i.rm.Inline(i.rows...)
	return i
}

// Markup returns underlying reply markup.
func (i *Inline) Markup() *tele.ReplyMarkup { return i.rm }

// Btn creates a callback button with raw callback_data (not encoded with a
// telebot unique prefix, so it arrives on the OnCallback handler as is).
func Btn(text, data string) tele.Btn {
	return tele.Btn{Text: text, Data: data}
}

// Reply builds a resizable bottom keyboard from rows of button labels.
func Reply(rows ...[]string) *tele.ReplyMarkup {
	rm := &tele.ReplyMarkup{ResizeKeyboard: true}
	out := make([]tele.Row, 0, len(rows))
	for _, labels := range rows {
		if len(labels) == 0 {
			continue
		}
		btns := make([]tele.Btn, 0, len(labels))
		for _, l := range labels {
			btns = append(btns, rm.Text(l))
		}
		out = append(out, rm.Row(btns...))
	}
	rm.Reply(out...)
	return rm
}

// Chunk splits labels into rows of at most n entries.
func Chunk(labels []string, n int) [][]string {
	if n <= 0 {
		n = 1
	}
	var rows [][]string
	for i := 0; i < len(labels); i += n {
		end := min(i+n, len(labels))
		rows = append(rows, append([]string(nil), labels[i:end]...))
	}
	return rows
}
